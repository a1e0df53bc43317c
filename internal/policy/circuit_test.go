package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	c := NewHostCircuit(CircuitConfig{
		MaxHalfOpenRequests: 1,
		OpenTimeout:         time.Hour,
		ReadyToTrip:         func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Allow())
		c.RecordFailure()
	}

	assert.Equal(t, StateOpen, c.State())
	assert.ErrorIs(t, c.Allow(), ErrCircuitOpen{})
}

func TestHostCircuitHalfOpenRecoversOnSuccess(t *testing.T) {
	c := NewHostCircuit(CircuitConfig{
		MaxHalfOpenRequests: 1,
		OpenTimeout:         time.Millisecond,
		ReadyToTrip:         func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	require.NoError(t, c.Allow())
	c.RecordFailure()
	assert.Equal(t, StateOpen, c.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Allow(), "open timeout elapsed, should allow a half-open trial")
	assert.Equal(t, StateHalfOpen, c.State())

	c.RecordSuccess()
	assert.Equal(t, StateClosed, c.State())
}

func TestHostCircuitHalfOpenFailureReopens(t *testing.T) {
	c := NewHostCircuit(CircuitConfig{
		MaxHalfOpenRequests: 1,
		OpenTimeout:         time.Millisecond,
		ReadyToTrip:         func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	require.NoError(t, c.Allow())
	c.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Allow())
	c.RecordFailure()
	assert.Equal(t, StateOpen, c.State())
}

func TestNewHostCircuitFallsBackToDefaultOnNilReadyToTrip(t *testing.T) {
	c := NewHostCircuit(CircuitConfig{})
	assert.Equal(t, StateClosed, c.State())
	require.NoError(t, c.Allow())
}

func TestOnStateChangeFires(t *testing.T) {
	var transitions []State
	c := NewHostCircuit(CircuitConfig{
		MaxHalfOpenRequests: 1,
		OpenTimeout:         time.Hour,
		ReadyToTrip:         func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange:       func(from, to State) { transitions = append(transitions, to) },
	})
	require.NoError(t, c.Allow())
	c.RecordFailure()
	require.Len(t, transitions, 1)
	assert.Equal(t, StateOpen, transitions[0])
}
