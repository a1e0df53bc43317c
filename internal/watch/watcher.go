// Package watch implements the watch multiplexer: one duplex
// stream multiplexing N logical watchers, with reconnection/replay,
// cancellation bookkeeping, and progress tracking.
package watch

import (
	"sync"

	"github.com/ocx/kvcoord/kv/rpcpb"
)

// Handler is the fixed per-watcher event enumeration: connected,
// disconnected, data, put, delete, end, error. Any field left nil is
// simply not called.
type Handler struct {
	OnConnected    func(revision string)
	OnDisconnected func(err error)
	OnData         func(events []*rpcpb.Event)
	OnPut          func(kv *rpcpb.KeyValue)
	OnDelete       func(kv *rpcpb.KeyValue)
	OnEnd          func()
	OnError        func(err error)
}

// Request is the subscription shape a caller attaches.
type Request struct {
	Key           []byte
	RangeEnd      []byte
	StartRevision string
	PrevKv        bool
	Filters       []rpcpb.WatchFilter

	// Name identifies this watcher to the Multiplexer's Checkpointer, if
	// one is configured. Empty means this watcher is never checkpointed.
	Name string
}

// Watcher is one logical subscription multiplexed onto the shared
// stream. The zero value is not usable; create one via Multiplexer.Attach.
type Watcher struct {
	mux *Multiplexer

	mu        sync.Mutex
	req       Request
	id        *int64
	sent      bool // create-request written to the stream, ID not yet assigned
	cancelled bool

	handler Handler

	// transition is closed and replaced every time the watcher becomes
	// Connected or Disconnected, so Detach can wait on it.
	transition chan struct{}
	end        chan struct{}
}

func newWatcher(mux *Multiplexer, req Request, h Handler) *Watcher {
	return &Watcher{
		mux:        mux,
		req:        req,
		handler:    h,
		transition: make(chan struct{}),
		end:        make(chan struct{}),
	}
}

// ID returns the server-assigned watch_id, or (0, false) if not yet
// assigned.
func (w *Watcher) ID() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.id == nil {
		return 0, false
	}
	return *w.id, true
}

// StartRevision returns the watcher's current resume point — monotonically
// advanced as events are delivered.
func (w *Watcher) StartRevision() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.req.StartRevision
}

func (w *Watcher) signalTransition() {
	close(w.transition)
	w.transition = make(chan struct{})
}
