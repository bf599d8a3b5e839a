package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int](3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Cap())

	for i := 1; i <= 3; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, int64(3), q.Enqueued())
	assert.Equal(t, int64(3), q.Dequeued())
}

func TestNewClampsCapacity(t *testing.T) {
	assert.Equal(t, 1, New[int](0).Cap())
}

func TestEnqueueBlocksWhileFull(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("enqueue returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	require.NoError(t, <-done)
}

func TestDequeueDrainsAfterClose(t *testing.T) {
	q := New[string](4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Enqueue(ctx, "c"), pipeline.ErrShutdown)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, pipeline.ErrShutdown)
}

func TestBlockedCallsReturnOnShutdown(t *testing.T) {
	t.Run("close wakes dequeue", func(t *testing.T) {
		q := New[int](1)
		errs := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
		time.Sleep(10 * time.Millisecond)
		q.Close()
		assert.ErrorIs(t, <-errs, pipeline.ErrShutdown)
	})

	t.Run("cancel wakes dequeue", func(t *testing.T) {
		q := New[int](1)
		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(ctx)
			errs <- err
		}()
		cancel()
		assert.ErrorIs(t, <-errs, pipeline.ErrShutdown)
	})

	t.Run("cancel wakes enqueue and does not count the item", func(t *testing.T) {
		q := New[int](1)
		require.NoError(t, q.Enqueue(context.Background(), 1))
		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() { errs <- q.Enqueue(ctx, 2) }()
		cancel()
		assert.ErrorIs(t, <-errs, pipeline.ErrShutdown)
		assert.Equal(t, int64(1), q.Enqueued())
	})

	t.Run("cancelled context skips buffered items", func(t *testing.T) {
		q := New[int](2)
		require.NoError(t, q.Enqueue(context.Background(), 1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.Dequeue(ctx)
		assert.ErrorIs(t, err, pipeline.ErrShutdown)
		assert.Equal(t, 1, q.Len())
	})
}

func TestCountsUnderConcurrency(t *testing.T) {
	const producers, perProducer, consumers = 4, 250, 8
	q := New[int](16)
	ctx := context.Background()

	var consumed sync.WaitGroup
	results := make(chan int, producers*perProducer)
	for i := 0; i < consumers; i++ {
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			for {
				v, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				assert.LessOrEqual(t, q.Dequeued(), q.Enqueued())
				results <- v
			}
		}()
	}

	var produced sync.WaitGroup
	for p := 0; p < producers; p++ {
		produced.Add(1)
		go func() {
			defer produced.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Enqueue(ctx, i))
			}
		}()
	}

	produced.Wait()
	q.Close()
	consumed.Wait()
	close(results)

	assert.Len(t, results, producers*perProducer)
	assert.Equal(t, q.Enqueued(), q.Dequeued())
	assert.Equal(t, 0, q.Len())
}
