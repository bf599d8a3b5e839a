package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

const (
	DefaultAttempts     = 3                      // Downstream calls per item
	DefaultInitialDelay = 100 * time.Millisecond // Backoff floor
	DefaultMaxDelay     = 2 * time.Second        // Backoff ceiling
	DefaultTokenWait    = 5 * time.Millisecond   // Sleep after an admission denial
)

// Handler performs the downstream call for one item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Connector opens the dependency for one worker unit. An error is fatal to
// that unit only: it logs and exits while the rest of the pool keeps going.
type Connector[T any] func(ctx context.Context, ordinal int) (Handler[T], error)

// Static returns a Connector that hands every worker the same Handler.
func Static[T any](h Handler[T]) Connector[T] {
	return func(context.Context, int) (Handler[T], error) { return h, nil }
}

// Source is the queue workers pull from; *queue.Queue satisfies it.
type Source[T any] interface {
	Dequeue(ctx context.Context) (T, error)
	Len() int
}

// Gate is the shared admission control; *admission.Controller satisfies it.
type Gate interface {
	Acquire() bool
	Allow() bool
	RecordSuccess()
	RecordFailure() bool
}

// Acker is implemented by items that came from a broker and must be settled.
type Acker interface {
	Ack()
	Nack(requeue bool)
}

// Outcome is how an item left a worker.
type Outcome int

const (
	Succeeded   Outcome = iota
	Failed              // retries exhausted or breaker opened mid-item
	Rejected            // permanent rejection, never retried
	Interrupted         // handler reported shutdown
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Observer receives per-attempt and per-item events. Calls come from many
// workers at once.
type Observer interface {
	AttemptFinished(class pipeline.Class, took time.Duration)
	ItemFinished(outcome Outcome)
	PoolResized(target int)
}

type noopObserver struct{}

func (noopObserver) AttemptFinished(pipeline.Class, time.Duration) {}
func (noopObserver) ItemFinished(Outcome)                          {}
func (noopObserver) PoolResized(int)                               {}

// FailurePolicy decides what happens to an item that is dropped.
type FailurePolicy string

const (
	// DropSilently counts the item and forgets it.
	DropSilently FailurePolicy = "drop"
	// LogDropped also writes the item to the log at warn level.
	LogDropped FailurePolicy = "log"
)

// RetryConfig is the per-item retry policy.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	TokenWait    time.Duration `yaml:"tokenWait"`
}

// Config sizes a pool.
type Config struct {
	Initial       int           `yaml:"initial"`
	Min           int           `yaml:"min"`
	Max           int           `yaml:"max"`
	Retry         RetryConfig   `yaml:"retry"`
	FailurePolicy FailurePolicy `yaml:"failurePolicy"`
}

// DefaultRetryConfig returns the stock retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     DefaultAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		TokenWait:    DefaultTokenWait,
	}
}

// Validate rejects pool settings that cannot run.
func (c Config) Validate() error {
	switch {
	case c.Min < 0:
		return fmt.Errorf("pool min must not be negative, got %d", c.Min)
	case c.Max < 1:
		return fmt.Errorf("pool max must be at least 1, got %d", c.Max)
	case c.Min > c.Max:
		return fmt.Errorf("pool min %d exceeds max %d", c.Min, c.Max)
	case c.Initial < c.Min || c.Initial > c.Max:
		return fmt.Errorf("pool initial %d outside [%d, %d]", c.Initial, c.Min, c.Max)
	case c.Retry.Attempts < 1:
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	case c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay:
		return fmt.Errorf("retry delays must satisfy 0 < initial <= max, got %s and %s",
			c.Retry.InitialDelay, c.Retry.MaxDelay)
	case c.Retry.TokenWait <= 0:
		return fmt.Errorf("retry tokenWait must be positive, got %s", c.Retry.TokenWait)
	}
	switch c.FailurePolicy {
	case "", DropSilently, LogDropped:
	default:
		return fmt.Errorf("unknown failure policy %q", c.FailurePolicy)
	}
	return nil
}

// Stats is a point-in-time copy of pool counters.
type Stats struct {
	Succeeded       int64
	Failed          int64
	Rejected        int64
	Interrupted     int64
	Attempts        int64
	Denied          int64 // admission denials, each followed by a token wait
	ConnectFailures int64
	Live            int
	Target          int
}

// Failures counts every item that did not succeed, rejected ones included.
func (s Stats) Failures() int64 { return s.Failed + s.Rejected }
