// Package sink batches persisted records in front of a bulk store.
package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

// DefaultThreshold matches the largest batch a DynamoDB BatchWriteItem accepts.
const DefaultThreshold = 25

// Observer is told about every store call the sink makes.
type Observer interface {
	BatchFlushed(size int, took time.Duration, err error)
}

// BatchSink buffers records and writes them to a store in batches of at most
// threshold records.
//
// The buffer is swapped out under mu and written after mu is released, so
// appends never wait on store latency. flushMu serializes the writes
// themselves: a reader that flushes first is guaranteed that every record
// appended before it started has reached the store.
type BatchSink struct {
	store     Store
	threshold int
	log       logger.Logger
	obs       Observer

	flushMu sync.Mutex

	mu        sync.Mutex
	records   []model.Record
	seen      map[uint64]struct{}
	total     int64
	unique    int64
	lastFlush time.Time
	closed    bool

	flushes       atomic.Int64
	failedFlushes atomic.Int64
	written       atomic.Int64
	dropped       atomic.Int64
}

// New builds a sink in front of store. A threshold below one uses
// DefaultThreshold.
func New(store Store, threshold int, log logger.Logger) *BatchSink {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BatchSink{
		store:     store,
		threshold: threshold,
		log:       log.WithFields(logger.Fields{"component": "sink"}),
		records:   make([]model.Record, 0, threshold),
		seen:      make(map[uint64]struct{}),
		lastFlush: time.Now(),
	}
}

// SetObserver registers an observer. Call it before the sink is shared.
func (s *BatchSink) SetObserver(obs Observer) { s.obs = obs }

// Append buffers rec and writes a batch once threshold records are pending.
// A failed batch write is logged, not returned: the record was accepted.
func (s *BatchSink) Append(ctx context.Context, rec model.Record) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pipeline.ErrShutdown
	}
	s.records = append(s.records, rec)
	s.total++
	key := xxhash.Sum64String(rec.UniqueKey())
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = struct{}{}
		s.unique++
	}
	full := len(s.records) >= s.threshold
	s.mu.Unlock()

	if full {
		s.flushFull(ctx)
	}
	return nil
}

// flushFull writes only complete batches, leaving a partial tail buffered.
func (s *BatchSink) flushFull(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	n := len(s.records) / s.threshold * s.threshold
	if n == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.records[:n:n]
	rest := make([]model.Record, len(s.records)-n, max(s.threshold, len(s.records)-n))
	copy(rest, s.records[n:])
	s.records = rest
	s.mu.Unlock()

	_ = s.write(ctx, batch)
}

// Flush writes every buffered record. With nothing buffered it makes no
// store call. Failed batches are logged and dropped; the first error is
// returned.
func (s *BatchSink) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.records) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.records
	s.records = make([]model.Record, 0, s.threshold)
	s.mu.Unlock()

	return s.write(ctx, batch)
}

// write sends batch in chunks of at most threshold. flushMu must be held.
func (s *BatchSink) write(ctx context.Context, batch []model.Record) error {
	var firstErr error
	for start := 0; start < len(batch); start += s.threshold {
		chunk := batch[start:min(start+s.threshold, len(batch))]

		began := time.Now()
		err := s.store.WriteBatch(ctx, chunk)
		took := time.Since(began)
		s.flushes.Add(1)
		if s.obs != nil {
			s.obs.BatchFlushed(len(chunk), took, err)
		}

		if err != nil {
			s.failedFlushes.Add(1)
			s.dropped.Add(int64(len(chunk)))
			s.log.WithFields(logger.Fields{"size": len(chunk), "error": err}).Error("batch write failed, dropping batch")
			if firstErr == nil {
				firstErr = fmt.Errorf("write batch of %d: %w", len(chunk), err)
			}
			continue
		}
		s.written.Add(int64(len(chunk)))
		s.log.WithFields(logger.Fields{"size": len(chunk), "took": took}).Trace("batch written")
	}

	s.mu.Lock()
	s.lastFlush = time.Now()
	s.mu.Unlock()
	return firstErr
}

// Pending is the number of buffered records.
func (s *BatchSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// TotalProcessed counts every appended record.
func (s *BatchSink) TotalProcessed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// UniqueKeys counts distinct record keys seen since start.
func (s *BatchSink) UniqueKeys() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unique
}

// Stats is a point-in-time view of the sink.
type Stats struct {
	TotalProcessed int64
	UniqueKeys     int64
	Pending        int
	Flushes        int64
	FailedFlushes  int64
	Written        int64
	Dropped        int64
	SinceFlush     time.Duration
}

func (s *BatchSink) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		TotalProcessed: s.total,
		UniqueKeys:     s.unique,
		Pending:        len(s.records),
		SinceFlush:     time.Since(s.lastFlush),
	}
	s.mu.Unlock()
	st.Flushes = s.flushes.Load()
	st.FailedFlushes = s.failedFlushes.Load()
	st.Written = s.written.Load()
	st.Dropped = s.dropped.Load()
	return st
}

// SkierDays flushes, then asks the store.
func (s *BatchSink) SkierDays(ctx context.Context, skierID int, seasonID string) (int, error) {
	_ = s.Flush(ctx)
	return s.store.SkierDays(ctx, skierID, seasonID)
}

// SkierVertical flushes, then asks the store.
func (s *BatchSink) SkierVertical(ctx context.Context, skierID int, seasonID string) (map[string]int, error) {
	_ = s.Flush(ctx)
	return s.store.SkierVertical(ctx, skierID, seasonID)
}

// SkierLifts flushes, then asks the store.
func (s *BatchSink) SkierLifts(ctx context.Context, skierID int, seasonID, dayID string) ([]int, error) {
	_ = s.Flush(ctx)
	return s.store.SkierLifts(ctx, skierID, seasonID, dayID)
}

// ResortSkiers flushes, then asks the store.
func (s *BatchSink) ResortSkiers(ctx context.Context, resortID int, dayID string) (int, error) {
	_ = s.Flush(ctx)
	return s.store.ResortSkiers(ctx, resortID, dayID)
}

// Close refuses further appends, flushes what is left and closes the store.
// Calls after the first return nil.
func (s *BatchSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	st := s.Stats()
	s.log.WithFields(logger.Fields{
		"processed": st.TotalProcessed, "unique": st.UniqueKeys,
		"flushes": st.Flushes, "failedFlushes": st.FailedFlushes,
	}).Info("sink closed")

	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}
