package engine

import (
	"math/rand"
	"time"
)

// Backoff produces reconnect delays: doubling from a base value, capped at
// a maximum, with additive jitter so instances watching the same room do
// not retry in lockstep. The underlying sequence is non-decreasing until
// Reset; jitter adds at most a quarter of the current delay, which keeps
// the jittered sequence non-decreasing too.
type Backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
	rand *rand.Rand
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		base: base,
		max:  max,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next connection attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	} else if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}

	d := b.cur + time.Duration(b.rand.Int63n(int64(b.cur)/4+1))
	if d > b.max {
		d = b.max
	}
	return d
}

// Reset returns the sequence to the base delay. Called after a sustained
// healthy connection.
func (b *Backoff) Reset() {
	b.cur = 0
}
