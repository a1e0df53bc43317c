package election

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/revision"
	"github.com/ocx/kvcoord/internal/watch"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// ObserverHandler is the observer's fixed event enumeration.
type ObserverHandler struct {
	OnChange       func(value []byte, present bool)
	OnDisconnected func(err error)
	OnError        func(err error)
}

// Observer tracks the current leader of one election prefix without
// itself campaigning, mirroring the server's own concurrency library.
type Observer struct {
	p       *pool.Pool
	watch   *watch.Multiplexer
	prefix  string
	logger  *slog.Logger
	handler ObserverHandler

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	mu     sync.Mutex
	value  []byte
	hasVal bool
}

// NewObserver starts tracking prefix in the background.
func NewObserver(ctx context.Context, cfg Config, h ObserverHandler) *Observer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		p:       cfg.Pool,
		watch:   cfg.Watch,
		prefix:  cfg.Prefix,
		logger:  logger,
		handler: h,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go o.run(ctx)
	return o
}

// Leader returns the value currently stored under the smallest
// create_revision key in the prefix, or (nil, false) if the set is empty.
func (o *Observer) Leader() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.hasVal
}

// Cancel stops the observer loop and waits for it to exit.
func (o *Observer) Cancel() {
	o.cancelOnce.Do(func() { close(o.cancel) })
	<-o.done
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-o.cancel:
			return
		case <-ctx.Done():
			return
		default:
		}

		resp, err := kvexec.Range(ctx, o.p, &rpcpb.RangeRequest{
			Key: []byte(o.prefix), RangeEnd: prefixRangeEnd(o.prefix),
			SortOrder: rpcpb.SortAscend, SortTarget: rpcpb.SortByCreate, Limit: 1,
		})
		if err != nil {
			if o.handler.OnError != nil {
				o.handler.OnError(err)
			}
			if !o.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		var leaderKey, leaderValue []byte
		watchFrom := resp.Header.Revision
		if len(resp.Kvs) == 0 {
			o.emitChange(nil, false)
			kv, rev, err := o.waitFirstPut(ctx, resp.Header.Revision)
			if err != nil {
				if err == errObserverCancelled {
					return
				}
				if o.handler.OnError != nil {
					o.handler.OnError(err)
				}
				continue
			}
			leaderKey, leaderValue = kv.Key, kv.Value
			watchFrom = rev
		} else {
			leaderKey, leaderValue = resp.Kvs[0].Key, resp.Kvs[0].Value
		}

		o.emitChange(leaderValue, true)

		deleted, err := o.watchLeaderKey(ctx, leaderKey, watchFrom)
		if err != nil {
			if err == errObserverCancelled {
				return
			}
			if o.handler.OnError != nil {
				o.handler.OnError(err)
			}
			continue
		}
		if deleted {
			continue // the leader's key is gone; re-scan the prefix from scratch
		}
	}
}

func (o *Observer) emitChange(value []byte, present bool) {
	o.mu.Lock()
	same := present == o.hasVal && bytes.Equal(value, o.value)
	o.value = value
	o.hasVal = present
	o.mu.Unlock()
	if !same && o.handler.OnChange != nil {
		o.handler.OnChange(value, present)
	}
}

func (o *Observer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-o.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

var errObserverCancelled = xerr.New(xerr.ClientClosed, "election: observer cancelled")

func (o *Observer) waitFirstPut(ctx context.Context, startRevision string) (*rpcpb.KeyValue, string, error) {
	type hit struct {
		kv  *rpcpb.KeyValue
		rev string
	}
	hitCh := make(chan hit, 1)
	errCh := make(chan error, 1)
	w, err := o.watch.Attach(ctx, watch.Request{
		Key: []byte(o.prefix), RangeEnd: prefixRangeEnd(o.prefix), StartRevision: startRevision,
		Filters: []rpcpb.WatchFilter{rpcpb.FilterNoDelete},
	}, watch.Handler{
		OnData: func(events []*rpcpb.Event) {
			for _, ev := range events {
				if ev.Type == rpcpb.EventPut {
					select {
					case hitCh <- hit{kv: ev.Kv, rev: ev.Kv.ModRevision}:
					default:
					}
				}
			}
		},
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		return nil, "", err
	}
	defer o.watch.Detach(context.Background(), w)

	select {
	case h := <-hitCh:
		return h.kv, h.rev, nil
	case err := <-errCh:
		return nil, "", err
	case <-o.cancel:
		return nil, "", errObserverCancelled
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// watchLeaderKey follows a single leader key until it is deleted (return
// true) or the watch itself errors (return the error), emitting a change
// for every intervening proclaim.
func (o *Observer) watchLeaderKey(ctx context.Context, key []byte, fromRevision string) (bool, error) {
	start := revision.Add(fromRevision, 1)
	eventCh := make(chan *rpcpb.Event, 8)
	errCh := make(chan error, 1)
	w, err := o.watch.Attach(ctx, watch.Request{Key: key, StartRevision: start}, watch.Handler{
		OnData: func(events []*rpcpb.Event) {
			for _, ev := range events {
				select {
				case eventCh <- ev:
				case <-o.cancel:
					return
				}
			}
		},
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		return false, err
	}
	defer o.watch.Detach(context.Background(), w)

	for {
		select {
		case ev := <-eventCh:
			switch ev.Type {
			case rpcpb.EventPut:
				o.emitChange(ev.Kv.Value, true)
			case rpcpb.EventDelete:
				return true, nil
			}
		case err := <-errCh:
			return false, err
		case <-o.cancel:
			return false, errObserverCancelled
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
