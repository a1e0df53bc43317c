package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixRangeEnd(t *testing.T) {
	assert.Equal(t, []byte("election/b"), prefixRangeEnd("election/a"))
	assert.Equal(t, []byte{0x00}, prefixRangeEnd(""))
}

func TestProclaimBeforeLeaseBuffersValue(t *testing.T) {
	c := &Campaign{state: StateCreatingLease}
	err := c.Proclaim(nil, []byte("buffered"))
	assert.NoError(t, err)
	assert.True(t, c.hasPending)
	assert.Equal(t, []byte("buffered"), c.pendingProclaim)
}

func TestProclaimAfterResignFails(t *testing.T) {
	c := &Campaign{state: StateResigned}
	err := c.Proclaim(nil, []byte("x"))
	assert.Error(t, err)
}

func TestKeyReportsUnassignedUntilCreated(t *testing.T) {
	c := &Campaign{}
	_, ok := c.Key()
	assert.False(t, ok)

	c.ownKey = "election/name/lease-1"
	key, ok := c.Key()
	assert.True(t, ok)
	assert.Equal(t, "election/name/lease-1", key)
}

func TestResignIsIdempotent(t *testing.T) {
	c := &Campaign{state: StateResigned}
	assert.NoError(t, c.Resign(nil))
}
