// Package lease implements the Lease manager: a long-lived
// keep-alive loop with failure/loss semantics, plus a piggy-backed Put
// that attaches the lease ID to a write.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// State mirrors the lease's alive/revoked lifecycle.
type State int32

const (
	StateAlive State = iota
	StateRevoked
)

// Handler is the lease's fixed event enumeration.
type Handler struct {
	OnLost                 func(err error)
	OnKeepaliveFired       func()
	OnKeepaliveSucceeded   func(ttl int64)
	OnKeepaliveFailed      func(err error)
	OnKeepaliveEstablished func()
}

// Config configures a Lease.
type Config struct {
	Pool   *pool.Pool
	TTL    int64 // seconds, >= 1
	Logger *slog.Logger
}

// Lease is one granted lease and its background keep-alive loop.
type Lease struct {
	p       *pool.Pool
	ttl     int64
	logger  *slog.Logger
	handler Handler

	grantDone chan struct{}
	grantErr  error
	id        string

	mu              sync.Mutex
	state           State
	lastKeepaliveAt time.Time
	stopped         bool
	stop            chan struct{}
	loopDone        chan struct{}
}

// Grant issues LeaseGrant asynchronously and starts the keep-alive loop
// on success.
func Grant(ctx context.Context, cfg Config, h Handler) *Lease {
	if cfg.TTL < 1 {
		cfg.TTL = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lease{
		p:         cfg.Pool,
		ttl:       cfg.TTL,
		logger:    logger,
		handler:   h,
		grantDone: make(chan struct{}),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	close(l.loopDone) // no loop running yet; Revoke()/Release() must not block on it
	go l.grant(ctx)
	return l
}

func (l *Lease) grant(ctx context.Context) {
	resp, err := pool.Exec(ctx, l.p, pool.CallContext{Service: "Lease", Method: "LeaseGrant"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.LeaseGrantResponse, error) {
			client, err := h.Lease()
			if err != nil {
				return nil, err
			}
			resp, err := client.LeaseGrant(ctx, &rpcpb.LeaseGrantRequest{TTL: l.ttl})
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
	if err != nil {
		l.grantErr = err
		close(l.grantDone)
		return
	}

	l.mu.Lock()
	l.id = resp.ID
	l.lastKeepaliveAt = time.Now()
	l.loopDone = make(chan struct{})
	l.mu.Unlock()
	close(l.grantDone)

	l.logger.Debug("lease granted", "lease_id", resp.ID, "ttl", l.ttl)
	go l.keepaliveLoop()
}

// ID blocks until the grant resolves and returns the lease ID, or the
// grant error.
func (l *Lease) ID(ctx context.Context) (string, error) {
	select {
	case <-l.grantDone:
		return l.id, l.grantErr
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Revoked reports whether the lease is currently in the Revoked state.
func (l *Lease) Revoked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateRevoked
}

func (l *Lease) markRevoked(err error) {
	l.mu.Lock()
	already := l.state == StateRevoked
	l.state = StateRevoked
	l.mu.Unlock()
	if already {
		return
	}
	metrics.LeasesLostTotal.Inc()
	if l.handler.OnLost != nil {
		l.handler.OnLost(err)
	}
}

// keepaliveLoop opens a duplex stream, writes a keepalive frame every
// TTL/3, and reacts to the responses (or the stream's failure) until
// the lease is torn down.
func (l *Lease) keepaliveLoop() {
	l.mu.Lock()
	done := l.loopDone
	l.mu.Unlock()
	defer close(done)

	retry := policy.Fixed{Delay: 100 * time.Millisecond}
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		err := l.runKeepaliveStream()
		if err == errLeaseStopped {
			return
		}
		metrics.LeaseKeepaliveFailuresTotal.Inc()
		if l.handler.OnKeepaliveFailed != nil {
			l.handler.OnKeepaliveFailed(err)
		}

		l.mu.Lock()
		since := time.Since(l.lastKeepaliveAt)
		l.mu.Unlock()
		if since > time.Duration(2*l.ttl)*time.Second {
			l.markRevoked(xerr.Wrap(xerr.LeaseInvalid, "lease: keepalive window exceeded 2*TTL without contact", err))
			return
		}

		select {
		case <-l.stop:
			return
		case <-time.After(retry.Next()):
		}
	}
}

var errLeaseStopped = xerr.New(xerr.ClientClosed, "lease: keepalive loop stopped")

// runKeepaliveStream owns one duplex LeaseKeepAlive stream from open to
// close: it sends a {ID} frame every TTL/3 and dispatches responses. It
// returns errLeaseStopped on deliberate shutdown, or the stream/transport
// error otherwise.
func (l *Lease) runKeepaliveStream() error {
	stream, err := pool.Exec(context.Background(), l.p, pool.CallContext{Service: "Lease", Method: "LeaseKeepAlive", IsStream: true},
		func(ctx context.Context, h *peer.Host) (rpcpb.LeaseKeepAliveStream, error) {
			client, err := h.Lease()
			if err != nil {
				return nil, err
			}
			return client.LeaseKeepAlive(ctx)
		})
	if err != nil {
		return err
	}
	defer stream.CloseSend()

	if l.handler.OnKeepaliveEstablished != nil {
		l.handler.OnKeepaliveEstablished()
	}

	recvErr := make(chan error, 1)
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			if resp.TTL == 0 {
				l.markRevoked(xerr.New(xerr.LeaseInvalid, "lease: server no longer knows this lease"))
				recvErr <- errLeaseStopped
				return
			}
			l.mu.Lock()
			l.lastKeepaliveAt = time.Now()
			l.mu.Unlock()
			if l.handler.OnKeepaliveSucceeded != nil {
				l.handler.OnKeepaliveSucceeded(resp.TTL)
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(l.ttl) * time.Second / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return errLeaseStopped
		case err := <-recvErr:
			return err
		case <-ticker.C:
			if err := stream.Send(&rpcpb.LeaseKeepAliveRequest{ID: l.id}); err != nil {
				return err
			}
			if l.handler.OnKeepaliveFired != nil {
				l.handler.OnKeepaliveFired()
			}
		}
	}
}

// KeepaliveOnce issues a single synchronous LeaseKeepAlive round trip,
// bypassing the background loop.
func (l *Lease) KeepaliveOnce(ctx context.Context) (*rpcpb.LeaseKeepAliveResponse, error) {
	if _, err := l.ID(ctx); err != nil {
		return nil, err
	}
	stream, err := pool.Exec(ctx, l.p, pool.CallContext{Service: "Lease", Method: "LeaseKeepAlive", IsStream: true},
		func(ctx context.Context, h *peer.Host) (rpcpb.LeaseKeepAliveStream, error) {
			client, err := h.Lease()
			if err != nil {
				return nil, err
			}
			return client.LeaseKeepAlive(ctx)
		})
	if err != nil {
		return nil, err
	}
	defer stream.CloseSend()

	if err := stream.Send(&rpcpb.LeaseKeepAliveRequest{ID: l.id}); err != nil {
		return nil, xerr.Classify(err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, xerr.Classify(err)
	}
	if resp.TTL == 0 {
		l.markRevoked(xerr.New(xerr.LeaseInvalid, "lease: server no longer knows this lease"))
		return nil, xerr.New(xerr.LeaseInvalid, "lease: requested lease not found")
	}
	l.mu.Lock()
	l.lastKeepaliveAt = time.Now()
	l.mu.Unlock()
	return resp, nil
}

func (l *Lease) stopLoop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	done := l.loopDone
	l.mu.Unlock()
	close(l.stop)
	<-done
}

// Revoke closes the keep-alive loop and issues LeaseRevoke if the grant
// succeeded.
func (l *Lease) Revoke(ctx context.Context) error {
	l.stopLoop()
	if _, err := l.ID(ctx); err != nil {
		return nil // grant never succeeded; nothing to revoke server-side
	}
	_, err := pool.Exec(ctx, l.p, pool.CallContext{Service: "Lease", Method: "LeaseRevoke"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.LeaseRevokeResponse, error) {
			client, err := h.Lease()
			if err != nil {
				return nil, err
			}
			resp, err := client.LeaseRevoke(ctx, &rpcpb.LeaseRevokeRequest{ID: l.id})
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
	l.mu.Lock()
	l.state = StateRevoked
	l.mu.Unlock()
	return err
}

// Release closes the keep-alive loop without revoking; the TTL continues
// to run server-side.
func (l *Lease) Release() {
	l.stopLoop()
	l.mu.Lock()
	l.state = StateRevoked
	l.mu.Unlock()
}

// Put issues a Put with this lease's ID piggy-backed, waiting for the
// grant first. A LeaseInvalid response marks the lease lost before the
// error is propagated.
func (l *Lease) Put(ctx context.Context, key, value []byte) (*rpcpb.PutResponse, error) {
	id, err := l.ID(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := kvexec.Put(ctx, l.p, &rpcpb.PutRequest{Key: key, Value: value, Lease: id})
	if err != nil {
		if xerr.KindOf(err) == xerr.LeaseInvalid {
			l.markRevoked(err)
		}
		return nil, err
	}
	return resp, nil
}
