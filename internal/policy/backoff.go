package policy

import (
	"context"
	"math/rand"
	"time"
)

// Backoff produces successive reconnect delays. The watch multiplexer
// and lease keepalive loop each own one instance.
type Backoff interface {
	Next() time.Duration
	Reset()
}

// DecorrelatedJitter implements the decorrelated-jitter backoff the spec
// names as the default watchBackoff, capped at Max.
type DecorrelatedJitter struct {
	Base time.Duration
	Max  time.Duration

	prev time.Duration
	rand *rand.Rand
}

func NewDecorrelatedJitter(base, max time.Duration) *DecorrelatedJitter {
	return &DecorrelatedJitter{
		Base: base,
		Max:  max,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *DecorrelatedJitter) Next() time.Duration {
	if d.prev == 0 {
		d.prev = d.Base
	}
	upper := d.prev * 3
	if upper > d.Max {
		upper = d.Max
	}
	if upper <= d.Base {
		d.prev = d.Base
		return d.Base
	}
	span := int64(upper - d.Base)
	next := d.Base + time.Duration(d.rand.Int63n(span))
	d.prev = next
	return next
}

func (d *DecorrelatedJitter) Reset() {
	d.prev = 0
}

// Fixed is a constant backoff, useful for the lease keepalive retry
// interval (~100ms).
type Fixed struct {
	Delay time.Duration
}

func (f Fixed) Next() time.Duration { return f.Delay }
func (f Fixed) Reset()              {}

// Sleep waits out b.Next(), returning early if ctx is canceled.
func Sleep(ctx context.Context, b Backoff) {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
