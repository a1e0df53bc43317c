// Package lock implements the distributed mutual-exclusion lock:
// a lease-backed, single fixed key whose creation either succeeds
// immediately or fails with LockFailed — no queueing.
package lock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/lease"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// defaultTTL is the lock lease's default TTL, in seconds.
const defaultTTL = 30

// Config configures a Locker against a single lock key.
type Config struct {
	Pool   *pool.Pool
	Key    string
	TTL    int64 // seconds; 0 uses defaultTTL
	Logger *slog.Logger
}

// Locker acquires and releases the mutual-exclusion lock stored under a
// single key. A Locker is single-use: Acquire then, eventually, Release.
// Use Do for the common acquire/defer pattern.
type Locker struct {
	p      *pool.Pool
	key    string
	ttl    int64
	logger *slog.Logger

	lease *lease.Lease
}

// New prepares a Locker; call Acquire to actually take the lock.
func New(cfg Config) *Locker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl < 1 {
		ttl = defaultTTL
	}
	return &Locker{p: cfg.Pool, key: cfg.Key, ttl: ttl, logger: logger}
}

// Acquire grants a lease and attempts, once, to create the lock key
// attached to it. A concurrent holder causes an immediate LockFailed —
// this lock never waits in a queue.
func (lk *Locker) Acquire(ctx context.Context, onLost func(err error)) error {
	l := lease.Grant(ctx, lease.Config{Pool: lk.p, TTL: lk.ttl, Logger: lk.logger}, lease.Handler{OnLost: onLost})
	leaseID, err := l.ID(ctx)
	if err != nil {
		return fmt.Errorf("lock: lease grant failed: %w", err)
	}

	txn := &rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{{Key: []byte(lk.key), Target: rpcpb.CompareCreate, Result: rpcpb.CompareEqual, CreateRevision: "0"}},
		Success: []*rpcpb.RequestOp{{Put: &rpcpb.PutRequest{Key: []byte(lk.key), Value: []byte{}, Lease: leaseID}}},
	}
	resp, err := kvexec.Txn(ctx, lk.p, txn)
	if err != nil {
		_ = l.Revoke(context.Background())
		return fmt.Errorf("lock: create key failed: %w", err)
	}
	if !resp.Succeeded {
		_ = l.Revoke(context.Background())
		return xerr.New(xerr.LockFailed, fmt.Sprintf("lock: key %q is already held", lk.key))
	}

	lk.lease = l
	lk.logger.Debug("lock acquired", "key", lk.key)
	return nil
}

// Release revokes the backing lease, deleting the lock key so a
// subsequent Acquire can succeed.
func (lk *Locker) Release(ctx context.Context) error {
	if lk.lease == nil {
		return nil
	}
	return lk.lease.Revoke(ctx)
}

// Do acquires the lock, runs fn, and releases the lock on both the
// success and error path; a release error never masks a body error, and
// a body error is re-raised after release.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	lk := New(cfg)
	if err := lk.Acquire(ctx, nil); err != nil {
		return err
	}
	bodyErr := fn(ctx)
	if releaseErr := lk.Release(context.Background()); releaseErr != nil && bodyErr == nil {
		return releaseErr
	}
	return bodyErr
}
