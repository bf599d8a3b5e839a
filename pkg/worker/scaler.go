package worker

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

const (
	DefaultScaleInterval = 30 * time.Second // Backlog sampling period
	DefaultScaleStep     = 16               // Workers added or removed per decision
	DefaultHighWater     = 1000             // Backlog that triggers growth
	DefaultLowWater      = 100              // Backlog that triggers shrink
)

// Backlog reports how many items are waiting. For the client this is the
// local queue; for the consumer it is the broker lag.
type Backlog interface {
	Backlog(ctx context.Context) (int64, error)
}

// BacklogFunc adapts a function to Backlog.
type BacklogFunc func(ctx context.Context) (int64, error)

func (f BacklogFunc) Backlog(ctx context.Context) (int64, error) { return f(ctx) }

// QueueBacklog reports the length of a local source.
func QueueBacklog[T any](src Source[T]) Backlog {
	return BacklogFunc(func(context.Context) (int64, error) { return int64(src.Len()), nil })
}

// Resizable is the part of a pool the scaler drives.
type Resizable interface {
	Resize(target int) int
	Target() int
	Min() int
	Max() int
}

// ScalerConfig sets the sampling period and the water marks.
type ScalerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	HighWater int64         `yaml:"highWater"`
	LowWater  int64         `yaml:"lowWater"`
	Step      int           `yaml:"step"`
}

// DefaultScalerConfig returns the stock scaling policy.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		Interval:  DefaultScaleInterval,
		HighWater: DefaultHighWater,
		LowWater:  DefaultLowWater,
		Step:      DefaultScaleStep,
	}
}

func (c ScalerConfig) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("scaler interval must be positive, got %s", c.Interval)
	case c.Step < 1:
		return fmt.Errorf("scaler step must be at least 1, got %d", c.Step)
	case c.LowWater > c.HighWater:
		return fmt.Errorf("scaler lowWater %d exceeds highWater %d", c.LowWater, c.HighWater)
	}
	return nil
}

// Decision records one scaler evaluation.
type Decision struct {
	Backlog int64
	From    int
	To      int
}

// Changed reports whether the evaluation moved the target.
func (d Decision) Changed() bool { return d.From != d.To }

// Scaler periodically samples the backlog and steps the pool target up or
// down within the pool bounds.
type Scaler struct {
	pool    Resizable
	backlog Backlog
	cfg     ScalerConfig
	clock   clock.WithTicker
	log     logger.Logger
}

// NewScaler builds a scaler. A nil clock means the real clock.
func NewScaler(pool Resizable, backlog Backlog, cfg ScalerConfig, clk clock.WithTicker, log logger.Logger) (*Scaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scaler{
		pool:    pool,
		backlog: backlog,
		cfg:     cfg,
		clock:   clk,
		log:     log.WithFields(logger.Fields{"component": "scaler"}),
	}, nil
}

// Evaluate samples the backlog once and resizes the pool if a water mark is
// crossed.
func (s *Scaler) Evaluate(ctx context.Context) (Decision, error) {
	depth, err := s.backlog.Backlog(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("sample backlog: %w", err)
	}

	current := s.pool.Target()
	d := Decision{Backlog: depth, From: current, To: current}

	switch {
	case depth > s.cfg.HighWater && current < s.pool.Max():
		d.To = s.pool.Resize(min(current+s.cfg.Step, s.pool.Max()))
	case depth < s.cfg.LowWater && current > s.pool.Min():
		d.To = s.pool.Resize(max(current-s.cfg.Step, s.pool.Min()))
	}

	if d.Changed() {
		s.log.WithFields(logger.Fields{"backlog": depth, "from": d.From, "to": d.To}).Info("scaling pool")
	} else {
		s.log.WithFields(logger.Fields{"backlog": depth, "target": current}).Trace("pool size unchanged")
	}
	return d, nil
}

// Run evaluates every Interval until ctx is cancelled. Sampling errors are
// logged and the next tick tries again.
func (s *Scaler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := s.Evaluate(ctx); err != nil {
				s.log.WithFields(logger.Fields{"error": err}).Warn("scaler evaluation failed")
			}
		}
	}
}
