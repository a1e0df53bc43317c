package kv

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/kv/rpcpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, override func(ctx context.Context, call pool.CallContext) (any, error)) *Client {
	p := pool.New(nil, nil, pool.Config{})
	p.Override = override
	return &Client{cfg: Config{Namespace: "ns/"}, logger: slog.Default(), pool: p}
}

func TestPutReturnsHeaderRevision(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, call pool.CallContext) (any, error) {
		require.Equal(t, "Put", call.Method)
		return &rpcpb.PutResponse{Header: rpcpb.ResponseHeader{Revision: "3"}}, nil
	})
	res, err := c.Put(context.Background(), "foo", []byte("bar"))
	require.NoError(t, err)
	assert.Equal(t, "3", res.Revision)
}

func TestGetReturnsNotFoundForEmptyRange(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, call pool.CallContext) (any, error) {
		return &rpcpb.RangeResponse{}, nil
	})
	res, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestGetAllReturnsKeyValueStrings(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, call pool.CallContext) (any, error) {
		return &rpcpb.RangeResponse{
			Kvs: []*rpcpb.KeyValue{{Key: []byte("ns/a"), Value: []byte("1")}},
		}, nil
	})
	res, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ns/a": "1"}, res.Strings())
}

func TestDeleteReportsCount(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, call pool.CallContext) (any, error) {
		require.Equal(t, "DeleteRange", call.Method)
		return &rpcpb.DeleteRangeResponse{Deleted: 1}, nil
	})
	res, err := c.Delete(context.Background(), "foo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
}

func TestTxnBuilderCommit(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, call pool.CallContext) (any, error) {
		require.Equal(t, "Txn", call.Method)
		return &rpcpb.TxnResponse{Succeeded: true}, nil
	})
	resp, err := c.Txn().
		If(c.CompareCreateRevision("lock", rpcpb.CompareEqual, "0")).
		Then(c.OpPut("lock", []byte("held"))).
		Commit(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded)
}
