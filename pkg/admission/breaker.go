package admission

import "time"

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// CircuitBreaker suspends downstream calls after FailureThreshold consecutive
// failures. It stays open for CoolDown and closes on the first check strictly
// after that, resetting the failure count.
//
// CircuitBreaker is not synchronized. Controller owns the lock.
type CircuitBreaker struct {
	State               State
	ConsecutiveFailures int
	LastTrip            time.Time
	CoolDown            time.Duration
	FailureThreshold    int
}

// allow reports whether a call may proceed, closing the breaker when the
// cool-down has elapsed. closed is true when this call performed the close.
func (cb *CircuitBreaker) allow(now time.Time) (ok, closed bool) {
	if cb.State == Closed {
		return true, false
	}
	if now.Sub(cb.LastTrip) > cb.CoolDown {
		cb.State = Closed
		cb.ConsecutiveFailures = 0
		return true, true
	}
	return false, false
}

func (cb *CircuitBreaker) success() {
	cb.ConsecutiveFailures = 0
}

// failure counts a breaker-eligible failure. It reports whether the breaker
// is open afterwards and whether this call tripped it. Failures reported
// while already open do not extend the cool-down.
func (cb *CircuitBreaker) failure(now time.Time) (open, tripped bool) {
	cb.ConsecutiveFailures++
	if cb.State == Open {
		return true, false
	}
	if cb.ConsecutiveFailures >= cb.FailureThreshold {
		cb.State = Open
		cb.LastTrip = now
		return true, true
	}
	return false, false
}
