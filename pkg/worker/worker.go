package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

type unit[T any] struct {
	pool    *Pool[T]
	handler Handler[T]
	backoff *Backoff
	log     logger.Logger
	sawOpen bool
}

func (p *Pool[T]) run(ctx context.Context, h *handle) {
	defer p.wg.Done()
	defer p.forget(h)

	log := p.log.WithFields(logger.Fields{"component": "worker", "ordinal": h.ordinal})

	handler, err := p.connect(ctx, h.ordinal)
	if err != nil {
		p.connectFailures.Add(1)
		log.WithFields(logger.Fields{"error": err}).Error("worker could not connect, exiting")
		return
	}

	u := &unit[T]{
		pool:    p,
		handler: handler,
		backoff: NewBackoff(p.cfg.Retry.InitialDelay, p.cfg.Retry.MaxDelay),
		log:     log,
	}
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	// ctx ends when the pool stops or when Resize retires this worker; either
	// way control returns to the retire check.
	for {
		if p.retire(h) {
			log.Debug("worker retired")
			return
		}
		if ctx.Err() != nil {
			return
		}

		// Breaker before bucket: an open breaker must not burn tokens.
		if !p.gate.Allow() {
			u.sawOpen = true
			p.sleep(ctx, u.backoff.Current()/2)
			continue
		}
		if u.sawOpen {
			u.sawOpen = false
			u.backoff.Reset()
		}

		if !p.gate.Acquire() {
			p.denied.Add(1)
			log.WithFields(logger.Fields{"error": pipeline.ErrCapacityExceeded, "wait": p.cfg.Retry.TokenWait}).Trace("admission denied")
			p.sleep(ctx, p.cfg.Retry.TokenWait)
			continue
		}

		item, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return
		}

		// The item in hand is finished even if shutdown starts meanwhile.
		u.process(context.WithoutCancel(ctx), item)
	}
}

func (u *unit[T]) process(ctx context.Context, item T) {
	p := u.pool
	outcome := Failed
	var lastErr error

attempts:
	for attempt := 1; attempt <= p.cfg.Retry.Attempts; attempt++ {
		if attempt > 1 && !p.gate.Allow() {
			u.sawOpen = true
			lastErr = pipeline.ErrCircuitOpen
			break
		}

		start := p.clock.Now()
		err := u.handler.Handle(ctx, item)
		class := pipeline.Classify(err)
		p.attempts.Add(1)
		p.obs.AttemptFinished(class, p.clock.Since(start))
		lastErr = err

		switch class {
		case pipeline.ClassNone:
			p.gate.RecordSuccess()
			u.backoff.Succeed()
			outcome = Succeeded
			break attempts

		case pipeline.ClassPermanent:
			outcome = Rejected
			break attempts

		case pipeline.ClassShutdown:
			outcome = Interrupted
			break attempts

		case pipeline.ClassRetryable:
			if pipeline.BreakerEligible(err) && p.gate.RecordFailure() {
				u.backoff.Trip()
				u.sawOpen = true
				break attempts
			}
			if attempt < p.cfg.Retry.Attempts {
				p.sleep(ctx, u.backoff.Current()/4)
				u.backoff.Fail()
			}
		}
	}

	u.settle(item, outcome, lastErr)
}

func (u *unit[T]) settle(item T, outcome Outcome, err error) {
	p := u.pool
	switch outcome {
	case Succeeded:
		p.succeeded.Add(1)
	case Failed:
		p.failed.Add(1)
	case Rejected:
		p.rejected.Add(1)
	case Interrupted:
		p.interrupted.Add(1)
	}
	p.obs.ItemFinished(outcome)

	acker, fromBroker := any(item).(Acker)
	dropped := !fromBroker || outcome == Rejected
	if fromBroker {
		switch outcome {
		case Succeeded:
			acker.Ack()
		case Rejected:
			acker.Nack(false)
		default:
			acker.Nack(true)
		}
	}

	if outcome == Succeeded {
		return
	}
	fields := logger.Fields{"outcome": outcome.String(), "error": err}
	if dropped && p.cfg.FailurePolicy == LogDropped {
		fields["item"] = fmt.Sprint(item)
		u.log.WithFields(fields).Warn("item dropped")
		return
	}
	u.log.WithFields(fields).Debug("item not processed")
}

// sleep waits d on the pool clock and reports false if ctx ended first.
func (p *Pool[T]) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
