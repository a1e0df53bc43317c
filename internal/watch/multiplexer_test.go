package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/kv/rpcpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is a single-client, channel-backed stand-in for
// rpcpb.WatchStream, driven directly by the test.
type fakeStream struct {
	sent   chan *rpcpb.WatchRequest
	toRecv chan *rpcpb.WatchResponse
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		sent:   make(chan *rpcpb.WatchRequest, 16),
		toRecv: make(chan *rpcpb.WatchResponse, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Send(r *rpcpb.WatchRequest) error {
	select {
	case f.sent <- r:
		return nil
	case <-f.closed:
		return context.Canceled
	}
}

func (f *fakeStream) Recv() (*rpcpb.WatchResponse, error) {
	select {
	case r := <-f.toRecv:
		return r, nil
	case <-f.closed:
		return nil, context.Canceled
	}
}

func (f *fakeStream) CloseSend() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func newTestMultiplexer(t *testing.T) (*Multiplexer, *fakeStream) {
	stream := newFakeStream()
	p := pool.New(nil, nil, pool.Config{})
	p.Override = func(ctx context.Context, call pool.CallContext) (any, error) {
		require.Equal(t, "Watch", call.Service)
		return rpcpb.WatchStream(stream), nil
	}
	m := New(Config{Pool: p})
	return m, stream
}

func waitFor(t *testing.T, ch <-chan *rpcpb.WatchRequest) *rpcpb.WatchRequest {
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch request")
		return nil
	}
}

func TestAttachSendsCreateAndDispatchesData(t *testing.T) {
	m, stream := newTestMultiplexer(t)
	defer m.Close()

	var connectedRev string
	var gotPut *rpcpb.KeyValue
	w, err := m.Attach(context.Background(), Request{Key: []byte("foo")}, Handler{
		OnConnected: func(rev string) { connectedRev = rev },
		OnPut:       func(kv *rpcpb.KeyValue) { gotPut = kv },
	})
	require.NoError(t, err)

	req := waitFor(t, stream.sent)
	require.NotNil(t, req.CreateRequest)
	assert.Equal(t, []byte("foo"), req.CreateRequest.Key)
	assert.True(t, req.CreateRequest.ProgressNotify)

	stream.toRecv <- &rpcpb.WatchResponse{WatchID: 1, Created: true, Header: rpcpb.ResponseHeader{Revision: "5"}}
	require.Eventually(t, func() bool { return connectedRev != "" }, time.Second, time.Millisecond)
	assert.Equal(t, "5", connectedRev)

	id, ok := w.ID()
	require.True(t, ok)
	assert.EqualValues(t, 1, id)

	stream.toRecv <- &rpcpb.WatchResponse{
		WatchID: 1,
		Header:  rpcpb.ResponseHeader{Revision: "6"},
		Events:  []*rpcpb.Event{{Type: rpcpb.EventPut, Kv: &rpcpb.KeyValue{Key: []byte("foo"), Value: []byte("bar")}}},
	}
	require.Eventually(t, func() bool { return gotPut != nil }, time.Second, time.Millisecond)
	assert.Equal(t, []byte("bar"), gotPut.Value)
	assert.Equal(t, "7", w.StartRevision())
}

func TestDetachSendsCancelAndWaitsForEnd(t *testing.T) {
	m, stream := newTestMultiplexer(t)
	defer m.Close()

	w, err := m.Attach(context.Background(), Request{Key: []byte("foo")}, Handler{})
	require.NoError(t, err)
	waitFor(t, stream.sent) // create
	stream.toRecv <- &rpcpb.WatchResponse{WatchID: 9, Created: true}
	require.Eventually(t, func() bool { _, ok := w.ID(); return ok }, time.Second, time.Millisecond)

	detachErr := make(chan error, 1)
	go func() { detachErr <- m.Detach(context.Background(), w) }()

	cancelReq := waitFor(t, stream.sent)
	require.NotNil(t, cancelReq.CancelRequest)
	assert.EqualValues(t, 9, cancelReq.CancelRequest.WatchID)

	stream.toRecv <- &rpcpb.WatchResponse{WatchID: 9, Canceled: true}
	select {
	case err := <-detachErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("detach did not complete")
	}
}

func TestCloseEndsEveryWatcher(t *testing.T) {
	m, stream := newTestMultiplexer(t)
	_ = stream

	ended := make(chan struct{}, 1)
	_, err := m.Attach(context.Background(), Request{Key: []byte("foo")}, Handler{
		OnEnd: func() { ended <- struct{}{} },
	})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnEnd never fired")
	}

	_, err = m.Attach(context.Background(), Request{Key: []byte("bar")}, Handler{})
	assert.Error(t, err)
}

// TestStreamErrorDuringDetachDoesNotDoubleCloseEnd is a regression test:
// a watcher that is mid-Detach (cancel sent, awaiting the server's
// Canceled frame) when the stream errors must be dropped from the live
// set, not resurrected into the next stream's createQueue and left for
// Close to close(w.end) a second time.
func TestStreamErrorDuringDetachDoesNotDoubleCloseEnd(t *testing.T) {
	m, stream := newTestMultiplexer(t)

	ended := make(chan struct{}, 1)
	w, err := m.Attach(context.Background(), Request{Key: []byte("foo")}, Handler{
		OnEnd: func() { ended <- struct{}{} },
	})
	require.NoError(t, err)
	waitFor(t, stream.sent) // create
	stream.toRecv <- &rpcpb.WatchResponse{WatchID: 9, Created: true}
	require.Eventually(t, func() bool { _, ok := w.ID(); return ok }, time.Second, time.Millisecond)

	detachErr := make(chan error, 1)
	go func() { detachErr <- m.Detach(context.Background(), w) }()
	waitFor(t, stream.sent) // cancel, puts w into expectedClosers

	gen := m.generation
	m.onStreamError(gen, assert.AnError)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnEnd never fired for the expected-closer watcher")
	}
	select {
	case err := <-detachErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("detach did not complete")
	}

	m.mu.Lock()
	for _, live := range m.allWatchers {
		assert.NotSame(t, w, live, "expected-closer watcher must not survive into the next live set")
	}
	m.mu.Unlock()

	// Close must not panic closing an already-closed w.end.
	require.NoError(t, m.Close())
}

// fakeCheckpointer is an in-memory stand-in for Checkpointer, recording
// every Load/Save call.
type fakeCheckpointer struct {
	mu     sync.Mutex
	saved  map[string]string
	loaded map[string]string
}

func newFakeCheckpointer(seed map[string]string) *fakeCheckpointer {
	return &fakeCheckpointer{saved: map[string]string{}, loaded: seed}
}

func (c *fakeCheckpointer) Load(ctx context.Context, name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rev, ok := c.loaded[name]
	return rev, ok, nil
}

func (c *fakeCheckpointer) Save(ctx context.Context, name, rev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[name] = rev
	return nil
}

func (c *fakeCheckpointer) savedRev(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved[name]
}

func TestAttachResumesFromCheckpointAndSavesProgress(t *testing.T) {
	stream := newFakeStream()
	p := pool.New(nil, nil, pool.Config{})
	p.Override = func(ctx context.Context, call pool.CallContext) (any, error) {
		return rpcpb.WatchStream(stream), nil
	}
	cp := newFakeCheckpointer(map[string]string{"named-watch": "100"})
	m := New(Config{Pool: p, Checkpointer: cp})
	defer m.Close()

	w, err := m.Attach(context.Background(), Request{Key: []byte("foo"), Name: "named-watch"}, Handler{})
	require.NoError(t, err)

	req := waitFor(t, stream.sent)
	require.NotNil(t, req.CreateRequest)
	assert.Equal(t, "100", req.CreateRequest.StartRevision)

	stream.toRecv <- &rpcpb.WatchResponse{WatchID: 1, Created: true, Header: rpcpb.ResponseHeader{Revision: "100"}}
	require.Eventually(t, func() bool { return cp.savedRev("named-watch") == "100" }, time.Second, time.Millisecond)

	stream.toRecv <- &rpcpb.WatchResponse{
		WatchID: 1,
		Header:  rpcpb.ResponseHeader{Revision: "105"},
		Events:  []*rpcpb.Event{{Type: rpcpb.EventPut, Kv: &rpcpb.KeyValue{Key: []byte("foo")}}},
	}
	require.Eventually(t, func() bool { return cp.savedRev("named-watch") == "106" }, time.Second, time.Millisecond)
	assert.Equal(t, "106", w.StartRevision())
}
