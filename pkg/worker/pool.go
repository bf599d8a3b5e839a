// Package worker runs a resizable pool of workers that pull items from a
// shared queue and push them through a gated, retried downstream call.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

// Option customizes a Pool.
type Option func(*options)

type options struct {
	clock    clock.Clock
	log      logger.Logger
	observer Observer
}

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the pool logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// WithObserver receives attempt and item events, e.g. for metrics.
func WithObserver(obs Observer) Option { return func(o *options) { o.observer = obs } }

type handle struct {
	ordinal int
	cancel  context.CancelFunc
	// stopping is set under Pool.mu once the handle has been cancelled.
	stopping bool
}

// Pool owns a dynamically sized set of workers reading from one Source and
// sharing one Gate.
//
// Growth is eager: Resize spawns the missing workers at once. Shrinking
// lowers the target and cancels the context of every worker whose ordinal is
// at or above it. An idle worker wakes from Dequeue or its gate sleep and
// exits; a busy one finishes its current item first.
type Pool[T any] struct {
	cfg     Config
	source  Source[T]
	gate    Gate
	connect Connector[T]
	clock   clock.Clock
	log     logger.Logger
	obs     Observer

	mu      sync.Mutex
	ctx     context.Context
	target  int
	live    map[int]*handle
	wg      sync.WaitGroup
	started bool

	succeeded       atomic.Int64
	failed          atomic.Int64
	rejected        atomic.Int64
	interrupted     atomic.Int64
	attempts        atomic.Int64
	denied          atomic.Int64
	connectFailures atomic.Int64
}

// New builds a pool. Workers are not started until Start.
func New[T any](cfg Config, source Source[T], gate Gate, connect Connector[T], opts ...Option) (*Pool[T], error) {
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = DropSilently
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker pool config: %w", err)
	}

	o := options{clock: clock.RealClock{}, log: logger.Nop(), observer: noopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pool[T]{
		cfg:     cfg,
		source:  source,
		gate:    gate,
		connect: connect,
		clock:   o.clock,
		log:     o.log.WithFields(logger.Fields{"component": "pool"}),
		obs:     o.observer,
		live:    make(map[int]*handle),
	}, nil
}

// Start launches the initial workers. Workers stop when ctx is cancelled or
// the source reports shutdown.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx = ctx
	p.mu.Unlock()

	p.Resize(p.cfg.Initial)
}

// Resize sets the target size, clamped to [Min, Max], and returns it. When
// the target grows, the missing workers are spawned immediately. When it
// shrinks, the surplus workers are told to stop.
func (p *Pool[T]) Resize(target int) int {
	if target < p.cfg.Min {
		target = p.cfg.Min
	}
	if target > p.cfg.Max {
		target = p.cfg.Max
	}

	p.mu.Lock()
	previous := p.target
	p.target = target
	spawned, stopped := 0, 0
	if p.started && p.ctx.Err() == nil {
		for ordinal := 0; ordinal < target; ordinal++ {
			if h, ok := p.live[ordinal]; ok && !h.stopping {
				continue
			}
			// A stopping handle in this slot is superseded and retires on
			// its own.
			p.spawnLocked(ordinal)
			spawned++
		}
	}
	for ordinal, h := range p.live {
		if ordinal >= target && !h.stopping {
			h.stopping = true
			h.cancel()
			stopped++
		}
	}
	live := len(p.live)
	p.mu.Unlock()

	if previous != target || spawned > 0 {
		p.log.WithFields(logger.Fields{
			"from": previous, "to": target, "spawned": spawned, "stopped": stopped, "live": live,
		}).Info("pool resized")
		p.obs.PoolResized(target)
	}
	return target
}

func (p *Pool[T]) spawnLocked(ordinal int) {
	ctx, cancel := context.WithCancel(p.ctx)
	h := &handle{ordinal: ordinal, cancel: cancel}
	p.live[ordinal] = h
	p.wg.Add(1)
	go p.run(ctx, h)
}

// retire removes the worker from the live set when the target has dropped
// below its ordinal or a newer worker has taken its slot. The caller must
// not hold an item.
func (p *Pool[T]) retire(h *handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live[h.ordinal] != h {
		return true
	}
	if h.ordinal < p.target && !h.stopping {
		return false
	}
	delete(p.live, h.ordinal)
	return true
}

func (p *Pool[T]) forget(h *handle) {
	p.mu.Lock()
	if p.live[h.ordinal] == h {
		delete(p.live, h.ordinal)
	}
	p.mu.Unlock()
	h.cancel()
}

// Size is the number of live workers. It can exceed Target while retiring
// workers finish their current item.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Target is the size the pool is converging to.
func (p *Pool[T]) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *Pool[T]) Min() int { return p.cfg.Min }
func (p *Pool[T]) Max() int { return p.cfg.Max }

// Wait blocks until every worker has exited.
func (p *Pool[T]) Wait() { p.wg.Wait() }

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	live, target := len(p.live), p.target
	p.mu.Unlock()
	return Stats{
		Succeeded:       p.succeeded.Load(),
		Failed:          p.failed.Load(),
		Rejected:        p.rejected.Load(),
		Interrupted:     p.interrupted.Load(),
		Attempts:        p.attempts.Load(),
		Denied:          p.denied.Load(),
		ConnectFailures: p.connectFailures.Load(),
		Live:            live,
		Target:          target,
	}
}
