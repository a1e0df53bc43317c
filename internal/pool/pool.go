// Package pool implements the connection pool: a set of Hosts
// executed under a global retry policy and, per attempt, a per-host
// circuit breaker, with authentication metadata injected on every call.
package pool

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ocx/kvcoord/internal/authn"
	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// Config configures a Pool.
type Config struct {
	Deterministic bool // testing: rotate in insertion order instead of shuffling
	GlobalRetry   policy.RetryConfig
	Logger        *slog.Logger
}

// Pool owns a set of Hosts and dispatches calls across them.
type Pool struct {
	hosts []*peer.Host
	auth  *authn.Authenticator
	cfg   Config
	logger *slog.Logger
	rng   *rand.Rand

	// Override, when non-nil, intercepts every call instead of touching
	// real hosts — the pool's single test/mock seam.
	Override func(ctx context.Context, call CallContext) (any, error)
}

// CallContext is handed to the user-supplied call-options factory and to
// Override.
type CallContext struct {
	Service  string
	Method   string
	IsStream bool
}

func New(hosts []*peer.Host, auth *authn.Authenticator, cfg Config) *Pool {
	if cfg.GlobalRetry.MaxAttempts <= 0 {
		cfg.GlobalRetry = policy.DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		hosts:  hosts,
		auth:   auth,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Pool) Hosts() []*peer.Host { return p.hosts }

// Exec runs fn against the pool's hosts under the global retry policy
// and per-host circuit breaking. fn receives a ready Host to obtain a
// service client from.
func Exec[T any](ctx context.Context, p *Pool, call CallContext, fn func(context.Context, *peer.Host) (T, error)) (T, error) {
	var zero T
	if p.Override != nil {
		v, err := p.Override(ctx, call)
		if err != nil {
			return zero, err
		}
		result, ok := v.(T)
		if !ok {
			return zero, xerr.New(xerr.ClientRuntime, "pool override returned the wrong type")
		}
		return result, nil
	}

	wrapped := func(ctx context.Context, h *peer.Host) (any, error) {
		return fn(ctx, h)
	}
	v, err := p.execWithAuth(ctx, call, wrapped, false)
	if err != nil {
		return zero, err
	}
	result, ok := v.(T)
	if !ok {
		return zero, xerr.New(xerr.ClientRuntime, "pool call returned the wrong type")
	}
	return result, nil
}

// execWithAuth is the real body; fn is erased to `any` so the
// InvalidAuthToken recursion doesn't need to be generic.
func (p *Pool) execWithAuth(ctx context.Context, call CallContext, fn func(context.Context, *peer.Host) (any, error), reauthed bool) (any, error) {
	result, err := policy.Retry(ctx, p.cfg.GlobalRetry, func(ctx context.Context) (any, error) {
		return p.withConnection(ctx, call, fn)
	})
	if err == nil {
		return result, nil
	}

	if !reauthed && xerr.KindOf(err) == xerr.InvalidAuthToken && p.auth != nil {
		p.auth.Invalidate()
		return p.execWithAuth(ctx, call, fn, true)
	}
	return nil, err
}

// withConnection is one global-policy attempt: fetch auth metadata once,
// then iterate up to len(hosts) hosts.
func (p *Pool) withConnection(ctx context.Context, call CallContext, fn func(context.Context, *peer.Host) (any, error)) (any, error) {
	if len(p.hosts) == 0 {
		return nil, xerr.New(xerr.Unavailable, "no hosts configured")
	}

	var md authn.Metadata
	if p.auth != nil {
		var err error
		md, err = p.auth.GetMetadata(ctx, p.authClientFor())
		if err != nil {
			return nil, err
		}
	}
	callCtx := withMetadata(ctx, md)

	order := newHostOrder(len(p.hosts), p.cfg.Deterministic, p.rng)

	var lastErr error
	for i := 0; i < len(p.hosts); i++ {
		idx := order.next()
		h := p.hosts[idx]

		result, err := peer.Call(callCtx, h, func(ctx context.Context) (any, error) {
			return fn(ctx, h)
		})
		if err == nil {
			metrics.CallsTotal.WithLabelValues(call.Service, call.Method, "ok").Inc()
			return result, nil
		}

		if isCircuitOpen(err) {
			// Policy short-circuited without invoking fn: remember, try
			// next host, do not surface.
			metrics.CallsTotal.WithLabelValues(call.Service, call.Method, "circuit_open").Inc()
			lastErr = err
			continue
		}

		classified := xerr.Classify(err)
		if classified.Recoverable {
			metrics.CallsTotal.WithLabelValues(call.Service, call.Method, "recoverable").Inc()
			h.Reset()
			lastErr = classified
			continue
		}
		// Non-recoverable: surface immediately, no retry.
		metrics.CallsTotal.WithLabelValues(call.Service, call.Method, "nonrecoverable").Inc()
		return nil, classified
	}
	if lastErr == nil {
		lastErr = xerr.New(xerr.Unavailable, "no hosts available")
	}
	return nil, lastErr
}

func isCircuitOpen(err error) bool {
	// peer.Call wraps ErrCircuitOpen with fmt.Errorf("%w", ...); unwrap
	// via errors.As semantics without importing errors here.
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if _, ok := e.(policy.ErrCircuitOpen); ok {
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func (p *Pool) authClientFor() authn.AuthClientFor {
	return func(ctx context.Context, attempt int) (rpcpb.AuthClient, bool, error) {
		if attempt >= len(p.hosts) {
			return nil, false, xerr.New(xerr.Unavailable, "no hosts available to authenticate against")
		}
		h := p.hosts[attempt]
		client, err := h.Auth()
		if err != nil {
			return nil, attempt+1 < len(p.hosts), err
		}
		return client, attempt+1 < len(p.hosts), nil
	}
}

// Close tears down every host.
func (p *Pool) Close() error {
	for _, h := range p.hosts {
		_ = h.Close()
	}
	return nil
}
