// Package peer implements the Host type: a lazily-connected peer
// with its own fault policy and a cache of per-service RPC clients.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// resetGrace is how long Reset defers tearing down a CONNECTING conn, to
// dodge a transport race where an in-flight dial attempt completes just
// after Close and leaks a connection.
const resetGrace = time.Second

// Credentials configures TLS for a Host's dial. A nil TLS means
// plaintext.
type Credentials struct {
	TLS *credentials.TransportCredentials
}

// Host holds one peer's lazily-created gRPC connection and the service
// clients multiplexed over it.
type Host struct {
	Endpoint Endpoint

	dialOpts []grpc.DialOption
	logger   *slog.Logger
	Circuit  *policy.HostCircuit

	mu      sync.Mutex
	conn    *grpc.ClientConn
	kv      rpcpb.KVClient
	watch   rpcpb.WatchClient
	lease   rpcpb.LeaseClient
	auth    rpcpb.AuthClient
	closed  bool
}

// NewHost builds a Host. Dialing is deferred to the first KV, Watch,
// Lease or Auth call.
func NewHost(ep Endpoint, creds Credentials, dialOpts []grpc.DialOption, circuitCfg policy.CircuitConfig, logger *slog.Logger) *Host {
	opts := append([]grpc.DialOption{}, dialOpts...)
	if creds.TLS != nil {
		opts = append(opts, grpc.WithTransportCredentials(*creds.TLS))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	userOnStateChange := circuitCfg.OnStateChange
	circuitCfg.OnStateChange = func(from, to policy.State) {
		if to == policy.StateOpen {
			metrics.HostCircuitOpenTotal.WithLabelValues(ep.Authority).Inc()
		}
		if userOnStateChange != nil {
			userOnStateChange(from, to)
		}
	}
	return &Host{
		Endpoint: ep,
		dialOpts: opts,
		logger:   logger.With("endpoint", ep.Authority),
		Circuit:  policy.NewHostCircuit(circuitCfg),
	}
}

func (h *Host) String() string { return h.Endpoint.Authority }

func (h *Host) dial() (*grpc.ClientConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, xerr.New(xerr.ClientClosed, "host is closed")
	}
	if h.conn != nil {
		return h.conn, nil
	}
	conn, err := grpc.NewClient(h.Endpoint.Authority, h.dialOpts...)
	if err != nil {
		return nil, xerr.Wrap(xerr.Unavailable, "dial failed", err)
	}
	h.conn = conn
	h.logger.Debug("host dialed")
	return conn, nil
}

// KV lazily builds (or returns the cached) KV service client.
func (h *Host) KV() (rpcpb.KVClient, error) {
	h.mu.Lock()
	if h.kv != nil {
		defer h.mu.Unlock()
		return h.kv, nil
	}
	h.mu.Unlock()

	conn, err := h.dial()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.kv == nil {
		h.kv = rpcpb.NewKVClient(conn)
	}
	return h.kv, nil
}

func (h *Host) Watch() (rpcpb.WatchClient, error) {
	h.mu.Lock()
	if h.watch != nil {
		defer h.mu.Unlock()
		return h.watch, nil
	}
	h.mu.Unlock()

	conn, err := h.dial()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watch == nil {
		h.watch = rpcpb.NewWatchClient(conn)
	}
	return h.watch, nil
}

func (h *Host) Lease() (rpcpb.LeaseClient, error) {
	h.mu.Lock()
	if h.lease != nil {
		defer h.mu.Unlock()
		return h.lease, nil
	}
	h.mu.Unlock()

	conn, err := h.dial()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lease == nil {
		h.lease = rpcpb.NewLeaseClient(conn)
	}
	return h.lease, nil
}

func (h *Host) Auth() (rpcpb.AuthClient, error) {
	h.mu.Lock()
	if h.auth != nil {
		defer h.mu.Unlock()
		return h.auth, nil
	}
	h.mu.Unlock()

	conn, err := h.dial()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.auth == nil {
		h.auth = rpcpb.NewAuthClient(conn)
	}
	return h.auth, nil
}

// Reset drains the cached service clients and underlying connection so
// the next ClientFor-style call redials. If the connection is mid-dial
// (CONNECTING), the close is deferred by resetGrace to avoid racing the
// in-flight attempt.
func (h *Host) Reset() {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.kv, h.watch, h.lease, h.auth = nil, nil, nil, nil
	h.mu.Unlock()

	if conn == nil {
		return
	}

	if conn.GetState() == connectivity.Connecting {
		go func() {
			time.Sleep(resetGrace)
			_ = conn.Close()
		}()
		return
	}
	_ = conn.Close()
}

// Close resets the host and marks it permanently closed; any later
// ClientFor-style call fails with ClientClosed.
func (h *Host) Close() error {
	h.Reset()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Call wraps fn with the host's circuit breaker: it checks Allow before
// invoking fn, and records success/failure afterward — but only records
// a failure when err is recoverable, since a non-recoverable failure is
// the caller's bug/data problem, not evidence this host is unhealthy.
func Call[T any](ctx context.Context, h *Host, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := h.Circuit.Allow(); err != nil {
		return zero, fmt.Errorf("kvcoord: %s: %w", h, err)
	}
	result, err := fn(ctx)
	if err == nil {
		h.Circuit.RecordSuccess()
		return result, nil
	}
	if xerr.IsRecoverable(err) {
		h.Circuit.RecordFailure()
	} else {
		h.Circuit.RecordSuccess()
	}
	return zero, err
}
