// Package queue provides the bounded work queue shared by a producer and the
// workers of a pool.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

// Queue is a bounded FIFO. Enqueue blocks while the queue is full and
// Dequeue blocks while it is empty.
//
// There are two ways to stop it. Close puts the queue in drain mode: new
// items are refused, and Dequeue keeps handing out what is buffered before it
// reports pipeline.ErrShutdown. Cancelling the context passed to a call
// makes that call return pipeline.ErrShutdown immediately.
type Queue[T any] struct {
	items chan T
	done  chan struct{}
	once  sync.Once

	enqueued atomic.Int64
	dequeued atomic.Int64
}

// New creates a queue holding at most capacity items. A capacity below one is
// raised to one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue adds an item, blocking while the queue is at capacity.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return pipeline.ErrShutdown
	default:
	}

	// Counted before the send so a racing Dequeue can never push the
	// dequeued count above the enqueued one.
	q.enqueued.Add(1)
	select {
	case q.items <- item:
		return nil
	case <-q.done:
	case <-ctx.Done():
	}
	q.enqueued.Add(-1)
	return pipeline.ErrShutdown
}

// Dequeue removes the oldest item, blocking while the queue is empty.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, pipeline.ErrShutdown
	}

	select {
	case item := <-q.items:
		q.dequeued.Add(1)
		return item, nil
	case <-q.done:
		// Drain mode: hand out whatever is still buffered.
		select {
		case item := <-q.items:
			q.dequeued.Add(1)
			return item, nil
		default:
			return zero, pipeline.ErrShutdown
		}
	case <-ctx.Done():
		return zero, pipeline.ErrShutdown
	}
}

// Close switches the queue to drain mode. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len is the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap is the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }

// Enqueued is the number of items accepted so far.
func (q *Queue[T]) Enqueued() int64 { return q.enqueued.Load() }

// Dequeued is the number of items handed to consumers so far.
func (q *Queue[T]) Dequeued() int64 { return q.dequeued.Load() }
