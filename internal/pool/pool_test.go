package pool

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecUsesOverride(t *testing.T) {
	p := New(nil, nil, Config{})
	p.Override = func(ctx context.Context, call CallContext) (any, error) {
		assert.Equal(t, "KV", call.Service)
		return "overridden", nil
	}

	result, err := Exec(context.Background(), p, CallContext{Service: "KV", Method: "Put"},
		func(ctx context.Context, h *peer.Host) (string, error) { return "real", nil })
	require.NoError(t, err)
	assert.Equal(t, "overridden", result)
}

func TestExecOverrideErrorPropagates(t *testing.T) {
	p := New(nil, nil, Config{})
	want := xerr.New(xerr.NotFound, "missing")
	p.Override = func(ctx context.Context, call CallContext) (any, error) {
		return nil, want
	}

	_, err := Exec(context.Background(), p, CallContext{Service: "KV", Method: "Get"},
		func(ctx context.Context, h *peer.Host) (string, error) { return "", nil })
	assert.ErrorIs(t, err, want)
}

func TestExecNoHostsIsUnavailable(t *testing.T) {
	p := New(nil, nil, Config{})
	_, err := Exec(context.Background(), p, CallContext{Service: "KV", Method: "Get"},
		func(ctx context.Context, h *peer.Host) (string, error) { return "", nil })
	assert.Equal(t, xerr.Unavailable, xerr.KindOf(err))
}

func TestHostOrderDeterministicRotatesInsertionOrder(t *testing.T) {
	o := newHostOrder(3, true, nil)
	seen := []int{o.next(), o.next(), o.next(), o.next()}
	assert.Equal(t, []int{0, 1, 2, 0}, seen)
}

func TestHostOrderRandomCoversEveryIndex(t *testing.T) {
	o := newHostOrder(4, false, rand.New(rand.NewSource(1)))
	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		seen[o.next()] = true
	}
	assert.Len(t, seen, 4)
}
