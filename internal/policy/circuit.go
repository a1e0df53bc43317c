// Package policy implements the two fault-handling policies the
// connection pool applies: a per-host circuit breaker and a pool-wide
// retry policy.
package policy

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts is the failure/success tally ReadyToTrip consults.
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) clear() { *c = Counts{} }

func (c *Counts) onSuccess() {
	c.Requests++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.Requests++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitConfig configures a HostCircuit. The default host policy opens
// for 5s after 3 consecutive recoverable failures.
type CircuitConfig struct {
	MaxHalfOpenRequests uint32
	OpenTimeout         time.Duration
	ReadyToTrip         func(Counts) bool
	OnStateChange       func(from, to State)
}

func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		MaxHalfOpenRequests: 1,
		OpenTimeout:         5 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
}

// ErrCircuitOpen is the sentinel returned by Allow when the breaker is
// open or the half-open trial budget is spent. The
// connection pool does not surface this to the application; it treats it
// as "this host is skipped this round".
type ErrCircuitOpen struct{}

func (ErrCircuitOpen) Error() string { return "circuit breaker is open" }

// HostCircuit is the per-Host circuit breaker.
type HostCircuit struct {
	cfg CircuitConfig

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

func NewHostCircuit(cfg CircuitConfig) *HostCircuit {
	if cfg.ReadyToTrip == nil {
		cfg = DefaultCircuitConfig()
	}
	return &HostCircuit{cfg: cfg, state: StateClosed}
}

// State returns the current state, resolving any pending open->half-open
// transition first.
func (c *HostCircuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, _ := c.currentState(time.Now())
	return state
}

// Allow reports whether a call may proceed. It reserves a half-open
// trial slot if the breaker just transitioned; callers that decide not to
// proceed after Allow succeeds should still call RecordSuccess or
// RecordFailure to release bookkeeping consistently — in practice the
// pool always does proceed immediately after Allow.
func (c *HostCircuit) Allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	state, _ := c.currentState(now)

	if state == StateOpen {
		return ErrCircuitOpen{}
	}
	if state == StateHalfOpen && c.counts.Requests >= c.cfg.MaxHalfOpenRequests {
		return ErrCircuitOpen{}
	}
	c.counts.Requests++
	return nil
}

func (c *HostCircuit) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	state, _ := c.currentState(now)
	switch state {
	case StateClosed:
		c.counts.onSuccess()
	case StateHalfOpen:
		c.counts.onSuccess()
		if c.counts.ConsecutiveSuccesses >= c.cfg.MaxHalfOpenRequests {
			c.setState(StateClosed, now)
		}
	}
}

func (c *HostCircuit) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	state, _ := c.currentState(now)
	switch state {
	case StateClosed:
		c.counts.onFailure()
		if c.cfg.ReadyToTrip(c.counts) {
			c.setState(StateOpen, now)
		}
	case StateHalfOpen:
		c.setState(StateOpen, now)
	}
}

func (c *HostCircuit) currentState(now time.Time) (State, uint64) {
	if c.state == StateOpen && !c.expiry.IsZero() && c.expiry.Before(now) {
		c.setState(StateHalfOpen, now)
	}
	return c.state, c.generation
}

func (c *HostCircuit) setState(state State, now time.Time) {
	if c.state == state {
		return
	}
	prev := c.state
	c.state = state
	c.generation++
	c.counts.clear()

	switch state {
	case StateOpen:
		c.expiry = now.Add(c.cfg.OpenTimeout)
	default:
		c.expiry = time.Time{}
	}

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(prev, state)
	}
}
