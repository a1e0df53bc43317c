// Package authn implements the Authenticator: a password->token
// exchange that the connection pool consults on every call and can
// invalidate on InvalidAuthToken.
package authn

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// Metadata is the per-call auth metadata injected by the pool.
type Metadata map[string]string

// Credentials is the username/password pair. A zero value means no auth
// is configured.
type Credentials struct {
	Username string
	Password string
}

type state int

const (
	stateUnconfigured state = iota
	stateAcquiring
	stateHolding
	stateInvalid
)

// AuthClientFor resolves the Auth service client for one of the pool's
// hosts, in configured order, for the duration of one acquisition.
type AuthClientFor func(ctx context.Context, attempt int) (rpcpb.AuthClient, bool, error)

// Authenticator implements the unconfigured/acquiring/holding/invalid
// token lifecycle, deduping concurrent acquisitions onto one in-flight
// request.
type Authenticator struct {
	creds  Credentials
	logger *slog.Logger

	mu       sync.Mutex
	state    state
	token    string
	inFlight chan struct{}
	flightErr error
}

func New(creds Credentials, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	st := stateUnconfigured
	if creds.Username != "" {
		st = stateInvalid // configured, not yet holding a token
	}
	return &Authenticator{creds: creds, logger: logger, state: st}
}

// Configured reports whether username/password were supplied.
func (a *Authenticator) Configured() bool {
	return a.creds.Username != ""
}

// GetMetadata returns the metadata to attach to a call, acquiring a
// token first if necessary.
func (a *Authenticator) GetMetadata(ctx context.Context, clientFor AuthClientFor) (Metadata, error) {
	if !a.Configured() {
		return Metadata{}, nil
	}

	a.mu.Lock()
	if a.state == stateHolding {
		token := a.token
		a.mu.Unlock()
		return Metadata{"token": token}, nil
	}
	if a.inFlight != nil {
		wait := a.inFlight
		a.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return a.GetMetadata(ctx, clientFor)
	}

	a.state = stateAcquiring
	done := make(chan struct{})
	a.inFlight = done
	a.mu.Unlock()

	token, err := a.acquire(ctx, clientFor)

	a.mu.Lock()
	if err != nil {
		a.state = stateInvalid
		a.flightErr = err
		a.inFlight = nil
		a.mu.Unlock()
		close(done)
		return nil, err
	}
	a.token = token
	a.state = stateHolding
	a.inFlight = nil
	a.mu.Unlock()
	close(done)

	return Metadata{"token": token}, nil
}

func (a *Authenticator) acquire(ctx context.Context, clientFor AuthClientFor) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		client, more, err := clientFor(ctx, attempt)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			if !more {
				break
			}
			continue
		}
		resp, err := client.Authenticate(ctx, &rpcpb.AuthenticateRequest{
			Name:     a.creds.Username,
			Password: a.creds.Password,
		})
		if err != nil {
			lastErr = xerr.Classify(err)
			a.logger.Warn("authenticate attempt failed", "attempt", attempt, "error", err)
			if !more {
				break
			}
			continue
		}
		return resp.Token, nil
	}
	if lastErr == nil {
		lastErr = xerr.New(xerr.AuthenticationFailed, "no hosts available to authenticate against")
	}
	return "", lastErr
}

// Invalidate clears the cached token; the next GetMetadata re-acquires.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	if a.state == stateHolding {
		a.state = stateInvalid
	}
}
