package worker

import "time"

// Backoff is one worker's retry delay. It is never shared between workers.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff starts at initial and stays within [initial, max].
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Current is the delay the worker bases its next sleep on.
func (b *Backoff) Current() time.Duration { return b.current }

// Fail doubles the delay, capped at max.
func (b *Backoff) Fail() {
	b.current *= 2
	if b.current > b.max || b.current <= 0 {
		b.current = b.max
	}
}

// Succeed halves the delay, floored at initial.
func (b *Backoff) Succeed() {
	b.current /= 2
	if b.current < b.initial {
		b.current = b.initial
	}
}

// Trip jumps to max; used when a failure reported by this worker finds the
// breaker open, whether this failure tripped it or another worker's did.
func (b *Backoff) Trip() { b.current = b.max }

// Reset returns to initial; used once the breaker is seen closed again.
func (b *Backoff) Reset() { b.current = b.initial }
