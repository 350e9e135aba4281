package relay

import (
	"math/rand/v2"
	"time"
)

// backoff doubles from base up to ceiling after each failed batch and snaps
// back to base after a good one.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
	jitter  time.Duration
}

func newBackoff(base, ceiling, jitter time.Duration) *backoff {
	return &backoff{base: base, ceiling: ceiling, current: base, jitter: jitter}
}

// fail grows the delay and returns it with jitter applied.
func (b *backoff) fail() time.Duration {
	b.current = min(b.current*2, b.ceiling)
	return b.withJitter(b.current)
}

// idle resets the delay and returns the jittered base poll interval.
func (b *backoff) idle() time.Duration {
	b.current = b.base
	return b.withJitter(b.base)
}

func (b *backoff) reset() {
	b.current = b.base
}

func (b *backoff) withJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + rand.N(b.jitter)
}
