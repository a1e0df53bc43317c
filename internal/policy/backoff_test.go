package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecorrelatedJitterStaysWithinBounds(t *testing.T) {
	d := NewDecorrelatedJitter(10*time.Millisecond, 100*time.Millisecond)
	for i := 0; i < 50; i++ {
		next := d.Next()
		assert.GreaterOrEqual(t, next, 10*time.Millisecond)
		assert.LessOrEqual(t, next, 100*time.Millisecond)
	}
}

func TestDecorrelatedJitterResetReturnsToBase(t *testing.T) {
	d := NewDecorrelatedJitter(10*time.Millisecond, 100*time.Millisecond)
	d.Next()
	d.Next()
	d.Reset()
	assert.Equal(t, time.Duration(0), d.prev)
}

func TestFixedBackoff(t *testing.T) {
	f := Fixed{Delay: 7 * time.Millisecond}
	assert.Equal(t, 7*time.Millisecond, f.Next())
	assert.Equal(t, 7*time.Millisecond, f.Next())
	f.Reset()
	assert.Equal(t, 7*time.Millisecond, f.Next())
}
