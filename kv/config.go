// Package kv is the thin external surface of the coordination client: a
// Config-driven Client assembling the internal pool and watch
// multiplexer, plus the CRUD/txn builders, namespace wrapper, and
// range-end helper.
package kv

import (
	"log/slog"
	"time"

	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/watch"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Credentials configures TLS for every dialed Host; a zero value means
// plaintext.
type Credentials struct {
	TLS *credentials.TransportCredentials
}

// Auth configures the username/password exchange.
type Auth struct {
	Username string
	Password string
}

// FaultHandling configures the pool-wide and per-host fault policies,
// plus the watch reconnect backoff.
type FaultHandling struct {
	Global  policy.RetryConfig
	Host    policy.CircuitConfig
	// WatchBackoffBase/Cap configure the decorrelated-jitter backoff used
	// by the watch multiplexer's reconnect loop. Zero values use the
	// package defaults (100ms base, 30s cap).
	WatchBackoffBase time.Duration
	WatchBackoffCap  time.Duration
}

// Config is assembled by the caller and passed to NewClient; defaults
// are applied there, not via a global singleton.
type Config struct {
	// Hosts is one endpoint or a non-empty sequence. Schemes: "http://",
	// "https://", or bare (inferred); mixing http/https is rejected.
	Hosts []string `yaml:"hosts"`

	Credentials Credentials `yaml:"-"`
	Auth        Auth        `yaml:"auth"`

	// DialTimeout is set to 30s when zero. NewClient does not pass it to
	// host dialing, so it does not bound any dial.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// DialOptions are additional gRPC channel options, pass-through.
	DialOptions []grpc.DialOption `yaml:"-"`

	FaultHandling FaultHandling `yaml:"-"`

	// Deterministic rotates hosts in insertion order instead of shuffling
	// (testing only).
	Deterministic bool `yaml:"-"`

	// Namespace, if set, is prefixed to every key this client touches.
	Namespace string `yaml:"namespace"`

	// Logger receives this client's structured log output; nil uses
	// slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// WatchCheckpointer, if set, is consulted by the watch multiplexer to
	// resume named watchers (see WithCheckpointName) near their last
	// delivered revision across process restarts.
	WatchCheckpointer watch.Checkpointer `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.FaultHandling.Global.MaxAttempts <= 0 {
		c.FaultHandling.Global = policy.DefaultRetryConfig()
	}
	if c.FaultHandling.Host.ReadyToTrip == nil {
		c.FaultHandling.Host = policy.DefaultCircuitConfig()
	}
	if c.FaultHandling.WatchBackoffBase <= 0 {
		c.FaultHandling.WatchBackoffBase = 100 * time.Millisecond
	}
	if c.FaultHandling.WatchBackoffCap <= 0 {
		c.FaultHandling.WatchBackoffCap = 30 * time.Second
	}
	return c
}
