package authn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ocx/kvcoord/kv/rpcpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthClient struct {
	token string
	err   error
	calls int32
}

func (f *fakeAuthClient) Authenticate(ctx context.Context, in *rpcpb.AuthenticateRequest) (*rpcpb.AuthenticateResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &rpcpb.AuthenticateResponse{Token: f.token}, nil
}

func TestGetMetadataNoCredentialsIsEmpty(t *testing.T) {
	a := New(Credentials{}, nil)
	md, err := a.GetMetadata(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestGetMetadataCachesToken(t *testing.T) {
	client := &fakeAuthClient{token: "tok-1"}
	a := New(Credentials{Username: "root", Password: "pw"}, nil)

	clientFor := func(ctx context.Context, attempt int) (rpcpb.AuthClient, bool, error) {
		if attempt > 0 {
			return nil, false, errors.New("no more hosts")
		}
		return client, false, nil
	}

	md, err := a.GetMetadata(context.Background(), clientFor)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", md["token"])

	md2, err := a.GetMetadata(context.Background(), clientFor)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", md2["token"])
	assert.EqualValues(t, 1, client.calls, "second GetMetadata should reuse the cached token")
}

func TestGetMetadataTriesNextHostOnFailure(t *testing.T) {
	bad := &fakeAuthClient{err: errors.New("unavailable")}
	good := &fakeAuthClient{token: "tok-2"}
	a := New(Credentials{Username: "root", Password: "pw"}, nil)

	clientFor := func(ctx context.Context, attempt int) (rpcpb.AuthClient, bool, error) {
		switch attempt {
		case 0:
			return bad, true, nil
		case 1:
			return good, false, nil
		default:
			return nil, false, errors.New("exhausted")
		}
	}

	md, err := a.GetMetadata(context.Background(), clientFor)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", md["token"])
}

func TestInvalidateForcesReacquire(t *testing.T) {
	client := &fakeAuthClient{token: "tok-1"}
	a := New(Credentials{Username: "root", Password: "pw"}, nil)
	clientFor := func(ctx context.Context, attempt int) (rpcpb.AuthClient, bool, error) {
		if attempt > 0 {
			return nil, false, errors.New("no more hosts")
		}
		return client, false, nil
	}

	_, err := a.GetMetadata(context.Background(), clientFor)
	require.NoError(t, err)

	a.Invalidate()
	client.token = "tok-3"

	md, err := a.GetMetadata(context.Background(), clientFor)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", md["token"])
	assert.EqualValues(t, 2, client.calls)
}
