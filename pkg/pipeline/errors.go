package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by queue operations once the pipeline drains or
	// is cancelled. It is a cooperative stop signal, not a failure.
	ErrShutdown = errors.New("pipeline is shutting down")

	// ErrCapacityExceeded reports an admission denial; the caller delays and
	// retries the whole item later.
	ErrCapacityExceeded = errors.New("admission capacity exceeded")

	// ErrCircuitOpen reports that the shared breaker rejected an attempt.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// TransientRemoteError is a downstream failure worth retrying (5xx and
// other non-2xx, non-4xx statuses).
type TransientRemoteError struct {
	Status int
	Err    error
}

func (e *TransientRemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient remote error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient remote error (status %d)", e.Status)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

// PermanentRejection is a downstream refusal (4xx) that no retry can fix.
type PermanentRejection struct {
	Status  int
	Message string
}

func (e *PermanentRejection) Error() string {
	return fmt.Sprintf("permanent rejection (status %d): %s", e.Status, e.Message)
}

// ConnectivityError wraps transport failures: refused connections, resets,
// timeouts.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity error: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Class is the retry class of an outcome.
type Class int

const (
	ClassNone      Class = iota // success
	ClassRetryable              // transient, connectivity, or unknown errors
	ClassPermanent              // permanent rejection
	ClassShutdown               // cooperative stop
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	case ClassShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a downstream call to its retry class.
// Errors that match none of the known kinds are treated as retryable.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var rejection *PermanentRejection
	switch {
	case errors.As(err, &rejection):
		return ClassPermanent
	case errors.Is(err, ErrShutdown), errors.Is(err, context.Canceled):
		return ClassShutdown
	default:
		return ClassRetryable
	}
}

// BreakerEligible reports whether an error should count against the shared
// circuit breaker. Client-side rejections say nothing about downstream health.
func BreakerEligible(err error) bool {
	return Classify(err) == ClassRetryable
}
