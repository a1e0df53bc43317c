// Package election implements the Campaign state machine and the
// ElectionObserver: leader election built atop leases, atomic
// transactions, and watches.
package election

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/lease"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/revision"
	"github.com/ocx/kvcoord/internal/watch"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// State mirrors the Campaign's lease/key/leadership lifecycle.
type State int32

const (
	StateCreatingLease State = iota
	StateCreatedKey
	StateFollower
	StateLeader
	StateResigned
)

// Handler is the campaign's fixed event enumeration: elected, error.
type Handler struct {
	OnElected func()
	OnError   func(err error)
}

// Config configures a Campaign or Observer. Prefix is the full
// "election/<name>/" namespace.
type Config struct {
	Pool     *pool.Pool
	Watch    *watch.Multiplexer
	Prefix   string
	LeaseTTL int64
	Logger   *slog.Logger
}

// Campaign is one instance's attempt at, and hold on, leadership within
// a single election prefix.
type Campaign struct {
	p       *pool.Pool
	watch   *watch.Multiplexer
	prefix  string
	ttl     int64
	logger  *slog.Logger
	handler Handler

	mu              sync.Mutex
	state           State
	lease           *lease.Lease
	ownKey          string
	createRevision  string
	announcedValue  []byte
	pendingProclaim []byte
	hasPending      bool
}

// New starts a campaign in the background: grant a lease, create (or
// adopt) this instance's key, then wait for every earlier key to be
// deleted before declaring leadership. Errors and the
// elected transition are reported through h, not a returned error.
func New(ctx context.Context, cfg Config, value []byte, h Handler) *Campaign {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Campaign{
		p:       cfg.Pool,
		watch:   cfg.Watch,
		prefix:  cfg.Prefix,
		ttl:     cfg.LeaseTTL,
		logger:  logger.With("instance", uuid.NewString()[:8]),
		handler: h,
		state:   StateCreatingLease,
	}
	go c.run(ctx, value)
	return c
}

func (c *Campaign) run(ctx context.Context, value []byte) {
	l := lease.Grant(ctx, lease.Config{Pool: c.p, TTL: c.ttl, Logger: c.logger}, lease.Handler{
		OnLost: c.onLeaseLost,
	})
	leaseID, err := l.ID(ctx)
	if err != nil {
		c.fail(fmt.Errorf("election: lease grant failed: %w", err))
		return
	}

	c.mu.Lock()
	c.lease = l
	c.ownKey = c.prefix + leaseID
	c.state = StateCreatedKey
	applyValue := value
	if c.hasPending {
		applyValue = c.pendingProclaim
		c.hasPending = false
	}
	ownKey := c.ownKey
	c.mu.Unlock()

	cmp := &rpcpb.Compare{Key: []byte(ownKey), Target: rpcpb.CompareCreate, Result: rpcpb.CompareEqual, CreateRevision: "0"}
	txn := &rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{cmp},
		Success: []*rpcpb.RequestOp{{Put: &rpcpb.PutRequest{Key: []byte(ownKey), Value: applyValue, Lease: leaseID}}},
		Failure: []*rpcpb.RequestOp{{Range: &rpcpb.RangeRequest{Key: []byte(ownKey)}}},
	}
	resp, err := kvexec.Txn(ctx, c.p, txn)
	if err != nil {
		c.fail(fmt.Errorf("election: create key failed: %w", err))
		return
	}

	if resp.Succeeded {
		c.mu.Lock()
		c.createRevision = resp.Header.Revision
		c.announcedValue = applyValue
		c.mu.Unlock()
	} else {
		// Another instance holds our own lease's key already: adopt its
		// create revision; re-proclaim if the
		// stored value differs from what we intended to announce.
		kv := resp.Responses[0].Range.Kvs[0]
		c.mu.Lock()
		c.createRevision = kv.CreateRevision
		c.mu.Unlock()
		if !bytes.Equal(kv.Value, applyValue) {
			if err := c.Proclaim(ctx, applyValue); err != nil {
				c.fail(fmt.Errorf("election: re-proclaim failed: %w", err))
				return
			}
		} else {
			c.mu.Lock()
			c.announcedValue = applyValue
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	c.state = StateFollower
	c.mu.Unlock()

	if err := c.waitForLeadership(ctx); err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.state = StateLeader
	c.mu.Unlock()
	c.logger.Info("elected leader", "key", ownKey)
	if c.handler.OnElected != nil {
		c.handler.OnElected()
	}
}

// waitForLeadership repeatedly finds the newest key created before ours
// and waits for it to be deleted, until none remain.
func (c *Campaign) waitForLeadership(ctx context.Context) error {
	for {
		c.mu.Lock()
		createRevision := c.createRevision
		c.mu.Unlock()

		maxCreate := revision.Add(createRevision, -1)
		resp, err := kvexec.Range(ctx, c.p, &rpcpb.RangeRequest{
			Key: []byte(c.prefix), RangeEnd: prefixRangeEnd(c.prefix),
			MaxCreateRevision: maxCreate,
			SortOrder:         rpcpb.SortDescend,
			SortTarget:        rpcpb.SortByCreate,
			Limit:             1,
		})
		if err != nil {
			return err
		}
		if len(resp.Kvs) == 0 {
			return nil
		}
		if err := c.waitKeyDeleted(ctx, resp.Kvs[0].Key, resp.Header.Revision); err != nil {
			return err
		}
	}
}

func (c *Campaign) waitKeyDeleted(ctx context.Context, key []byte, startRevision string) error {
	done := make(chan error, 1)
	w, err := c.watch.Attach(ctx, watch.Request{
		Key: key, StartRevision: startRevision, Filters: []rpcpb.WatchFilter{rpcpb.FilterNoPut},
	}, watch.Handler{
		OnData: func(events []*rpcpb.Event) {
			for _, ev := range events {
				if ev.Type == rpcpb.EventDelete {
					select {
					case done <- nil:
					default:
					}
				}
			}
		},
		OnError: func(err error) {
			select {
			case done <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer c.watch.Detach(context.Background(), w)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Proclaim updates the value announced under this campaign's key. If the
// lease hasn't been granted yet, the value is buffered and applied when
// the key is created.
func (c *Campaign) Proclaim(ctx context.Context, value []byte) error {
	c.mu.Lock()
	switch c.state {
	case StateResigned:
		c.mu.Unlock()
		return xerr.New(xerr.NotCampaigning, "election: campaign has resigned")
	case StateCreatingLease:
		c.pendingProclaim = value
		c.hasPending = true
		c.mu.Unlock()
		return nil
	}
	ownKey := c.ownKey
	createRevision := c.createRevision
	l := c.lease
	c.mu.Unlock()

	leaseID, err := l.ID(ctx)
	if err != nil {
		return err
	}

	txn := &rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{{Key: []byte(ownKey), Target: rpcpb.CompareCreate, Result: rpcpb.CompareEqual, CreateRevision: createRevision}},
		Success: []*rpcpb.RequestOp{{Put: &rpcpb.PutRequest{Key: []byte(ownKey), Value: value, Lease: leaseID}}},
	}
	resp, err := kvexec.Txn(ctx, c.p, txn)
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		c.mu.Lock()
		c.state = StateResigned
		c.mu.Unlock()
		_ = c.Resign(context.Background())
		return xerr.New(xerr.NotLeader, "election: proclaim failed, another instance holds our key")
	}
	c.mu.Lock()
	c.announcedValue = value
	c.mu.Unlock()
	return nil
}

// Resign gives up leadership by revoking the campaign's lease; the
// server-side key deletion this triggers wakes up other instances'
// waitKeyDeleted watches. Idempotent.
func (c *Campaign) Resign(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateResigned {
		c.mu.Unlock()
		return nil
	}
	c.state = StateResigned
	l := c.lease
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Revoke(ctx)
}

func (c *Campaign) onLeaseLost(err error) {
	c.mu.Lock()
	c.state = StateResigned
	c.mu.Unlock()
	if c.handler.OnError != nil {
		c.handler.OnError(err)
	}
}

func (c *Campaign) fail(err error) {
	c.mu.Lock()
	c.state = StateResigned
	c.mu.Unlock()
	if c.handler.OnError != nil {
		c.handler.OnError(err)
	}
}

// Key returns this campaign's own key, once assigned.
func (c *Campaign) Key() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownKey, c.ownKey != ""
}

func prefixRangeEnd(prefix string) []byte {
	p := []byte(prefix)
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] < 0xff {
			end := append([]byte{}, p[:i+1]...)
			end[i]++
			return end
		}
	}
	return []byte{0x00}
}
