package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/revision"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

type muxState int

const (
	muxIdle muxState = iota
	muxConnecting
	muxConnected
)

// Config configures a Multiplexer.
type Config struct {
	Pool    *pool.Pool
	Backoff policy.Backoff
	Logger  *slog.Logger

	// Checkpointer, if set, is consulted on Attach (for a named Request
	// with no explicit StartRevision) and updated as events are
	// delivered for named watchers.
	Checkpointer Checkpointer
}

// Multiplexer owns the single duplex watch stream shared by every
// attached Watcher.
type Multiplexer struct {
	p            *pool.Pool
	backoff      policy.Backoff
	logger       *slog.Logger
	checkpointer Checkpointer

	mu    sync.Mutex
	state muxState

	stream rpcpb.WatchStream
	// generation increments on every (re)connect so a stale recv loop's
	// error doesn't tear down a newer, healthy stream.
	generation int

	allWatchers []*Watcher           // insertion order, live watchers only
	byID        map[int64]*Watcher
	createQueue []*Watcher // awaiting create-request send
	idQueue     []*Watcher // create sent, awaiting server-assigned id

	expectedClosers map[int64]*Watcher

	closed bool
}

func New(cfg Config) *Multiplexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = policy.NewDecorrelatedJitter(100*time.Millisecond, 10*time.Second)
	}
	return &Multiplexer{
		p:               cfg.Pool,
		backoff:         backoff,
		logger:          logger,
		checkpointer:    cfg.Checkpointer,
		byID:            make(map[int64]*Watcher),
		expectedClosers: make(map[int64]*Watcher),
	}
}

// Attach subscribes a new Watcher. If the multiplexer has a
// Checkpointer, req.Name is set, req has no explicit StartRevision, and a
// checkpoint exists, the watcher resumes from it instead of the zero
// revision.
func (m *Multiplexer) Attach(ctx context.Context, req Request, h Handler) (*Watcher, error) {
	if m.checkpointer != nil && req.Name != "" && req.StartRevision == "" {
		if rev, ok, err := m.checkpointer.Load(ctx, req.Name); err == nil && ok {
			req.StartRevision = rev
		} else if err != nil {
			m.logger.Warn("watch checkpoint load failed", "name", req.Name, "error", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, xerr.New(xerr.ClientClosed, "watch multiplexer is closed")
	}
	w := newWatcher(m, req, h)
	m.allWatchers = append(m.allWatchers, w)
	metrics.ActiveWatchers.Inc()

	switch m.state {
	case muxIdle:
		m.createQueue = append(m.createQueue, w)
		m.state = muxConnecting
		m.mu.Unlock()
		go m.connect(m.generation)
	case muxConnecting:
		m.createQueue = append(m.createQueue, w)
		m.mu.Unlock()
	case muxConnected:
		m.sendCreateLocked(w)
		m.mu.Unlock()
	}
	return w, nil
}

// Detach unsubscribes w, sending a cancel and waiting for the server to
// confirm it.
func (m *Multiplexer) Detach(ctx context.Context, w *Watcher) error {
	for {
		m.mu.Lock()
		w.mu.Lock()
		switch {
		case w.cancelled:
			w.mu.Unlock()
			m.mu.Unlock()
			return nil

		case w.id == nil && !w.sent:
			removeWatcher(&m.createQueue, w)
			removeWatcher(&m.allWatchers, w)
			w.cancelled = true
			w.mu.Unlock()
			m.mu.Unlock()
			metrics.ActiveWatchers.Dec()
			return nil

		case w.id == nil && w.sent:
			ch := w.transition
			w.mu.Unlock()
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			id := *w.id
			m.expectedClosers[id] = w
			stream := m.stream
			w.mu.Unlock()
			m.mu.Unlock()
			if stream != nil {
				_ = stream.Send(&rpcpb.WatchRequest{CancelRequest: &rpcpb.WatchCancelRequest{WatchID: id}})
			}
			select {
			case <-w.end:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close tears the multiplexer down; all watchers receive OnEnd.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.generation++
	stream := m.stream
	watchers := m.allWatchers
	m.allWatchers = nil
	m.byID = make(map[int64]*Watcher)
	m.createQueue = nil
	m.idQueue = nil
	m.expectedClosers = make(map[int64]*Watcher)
	m.state = muxIdle
	m.mu.Unlock()

	if stream != nil {
		_ = stream.CloseSend()
	}
	for _, w := range watchers {
		w.mu.Lock()
		w.cancelled = true
		w.mu.Unlock()
		if w.handler.OnEnd != nil {
			w.handler.OnEnd()
		}
		close(w.end)
		metrics.ActiveWatchers.Dec()
	}
	return nil
}

func (m *Multiplexer) sendCreateLocked(w *Watcher) {
	w.mu.Lock()
	w.sent = true
	create := &rpcpb.WatchCreateRequest{
		Key:           w.req.Key,
		RangeEnd:      w.req.RangeEnd,
		StartRevision: w.req.StartRevision,
		ProgressNotify: true,
		PrevKv:        w.req.PrevKv,
		Filters:       w.req.Filters,
	}
	w.mu.Unlock()
	m.idQueue = append(m.idQueue, w)
	if m.stream != nil {
		_ = m.stream.Send(&rpcpb.WatchRequest{CreateRequest: create})
	}
}

func (m *Multiplexer) connect(generation int) {
	if generation > 0 {
		metrics.ReconnectsTotal.Inc()
	}
	for {
		m.mu.Lock()
		if m.closed || m.generation != generation {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		stream, err := pool.Exec(context.Background(), m.p, pool.CallContext{
			Service: "Watch", Method: "Watch", IsStream: true,
		}, func(ctx context.Context, h *peer.Host) (rpcpb.WatchStream, error) {
			client, err := h.Watch()
			if err != nil {
				return nil, err
			}
			return client.Watch(ctx)
		})
		if err != nil {
			m.logger.Warn("watch stream dial failed", "error", err)
			policy.Sleep(context.Background(), m.backoff)
			continue
		}

		m.mu.Lock()
		if m.closed || m.generation != generation {
			m.mu.Unlock()
			_ = stream.CloseSend()
			return
		}
		m.stream = stream
		m.state = muxConnected
		pending := m.createQueue
		m.createQueue = nil
		for _, w := range pending {
			m.sendCreateLocked(w)
		}
		m.mu.Unlock()

		m.backoff.Reset()
		go m.recvLoop(stream, generation)
		return
	}
}

func (m *Multiplexer) recvLoop(stream rpcpb.WatchStream, generation int) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			m.onStreamError(generation, err)
			return
		}
		m.dispatch(resp)
	}
}

func (m *Multiplexer) dispatch(resp *rpcpb.WatchResponse) {
	m.mu.Lock()

	switch {
	case resp.Created:
		if len(m.idQueue) == 0 {
			m.mu.Unlock()
			return
		}
		w := m.idQueue[0]
		m.idQueue = m.idQueue[1:]
		id := resp.WatchID
		m.byID[id] = w
		m.mu.Unlock()

		w.mu.Lock()
		w.id = &id
		if resp.Header.Revision != "" && revision.Compare(resp.Header.Revision, w.req.StartRevision) < 0 {
			// Server floor overrides a compacted start revision.
			w.req.StartRevision = resp.Header.Revision
		}
		w.signalTransition()
		handler := w.handler
		name := w.req.Name
		rev := w.req.StartRevision
		if resp.Header.Revision != "" {
			rev = resp.Header.Revision
		}
		w.mu.Unlock()

		if handler.OnConnected != nil {
			handler.OnConnected(rev)
		}
		m.saveCheckpoint(name, rev)

	case resp.Canceled:
		w, expected := m.byID[resp.WatchID]
		if expected {
			delete(m.byID, resp.WatchID)
			removeWatcher(&m.allWatchers, w)
		}
		_, wasExpected := m.expectedClosers[resp.WatchID]
		delete(m.expectedClosers, resp.WatchID)
		m.mu.Unlock()
		if !expected {
			return
		}
		w.mu.Lock()
		w.cancelled = true
		handler := w.handler
		w.mu.Unlock()
		if wasExpected {
			if handler.OnEnd != nil {
				handler.OnEnd()
			}
			close(w.end)
			metrics.ActiveWatchers.Dec()
		} else {
			metrics.ActiveWatchers.Dec()
			if handler.OnError != nil {
				handler.OnError(xerr.New(xerr.WatchStreamEnded, fmt.Sprintf("watch canceled: %s", resp.CancelReason)))
			}
		}

	default:
		w, ok := m.byID[resp.WatchID]
		m.mu.Unlock()
		if !ok {
			return
		}
		w.mu.Lock()
		if resp.Header.Revision != "" {
			w.req.StartRevision = revision.Add(resp.Header.Revision, 1)
		}
		handler := w.handler
		name := w.req.Name
		nextRevision := w.req.StartRevision
		w.mu.Unlock()

		m.saveCheckpoint(name, nextRevision)
		if handler.OnData != nil {
			handler.OnData(resp.Events)
		}
		for _, ev := range resp.Events {
			switch ev.Type {
			case rpcpb.EventPut:
				if handler.OnPut != nil {
					handler.OnPut(ev.Kv)
				}
			case rpcpb.EventDelete:
				if handler.OnDelete != nil {
					handler.OnDelete(ev.Kv)
				}
			}
		}
	}
}

func (m *Multiplexer) onStreamError(generation int, err error) {
	m.mu.Lock()
	if m.closed || m.generation != generation {
		m.mu.Unlock()
		return
	}
	m.generation++

	for id, w := range m.expectedClosers {
		delete(m.expectedClosers, id)
		w.mu.Lock()
		w.cancelled = true
		handler := w.handler
		w.mu.Unlock()
		removeWatcher(&m.allWatchers, w)
		if handler.OnEnd != nil {
			handler.OnEnd()
		}
		close(w.end)
		metrics.ActiveWatchers.Dec()
	}

	live := m.allWatchers[:0:0]
	for _, w := range m.allWatchers {
		w.mu.Lock()
		cancelled := w.cancelled
		w.mu.Unlock()
		if !cancelled {
			live = append(live, w)
		}
	}
	m.allWatchers = live

	for _, w := range live {
		w.mu.Lock()
		w.id = nil
		w.sent = false
		w.signalTransition()
		handler := w.handler
		w.mu.Unlock()
		if handler.OnDisconnected != nil {
			handler.OnDisconnected(err)
		}
	}

	m.byID = make(map[int64]*Watcher)
	m.idQueue = nil
	m.createQueue = live
	m.state = muxConnecting
	nextGen := m.generation
	m.mu.Unlock()

	go m.connect(nextGen)
}

// saveCheckpoint persists a named watcher's resume point without
// blocking the receive loop on the checkpoint store's latency.
func (m *Multiplexer) saveCheckpoint(name, rev string) {
	if m.checkpointer == nil || name == "" || rev == "" {
		return
	}
	go func() {
		if err := m.checkpointer.Save(context.Background(), name, rev); err != nil {
			m.logger.Warn("watch checkpoint save failed", "name", name, "error", err)
		}
	}()
}

func removeWatcher(s *[]*Watcher, w *Watcher) {
	out := (*s)[:0]
	for _, x := range *s {
		if x != w {
			out = append(out, x)
		}
	}
	*s = out
}
