// Package monitor periodically reports pipeline throughput. It only reads
// counters and never changes pipeline state.
package monitor

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

const DefaultInterval = 10 * time.Second

// Counters is one sample of the pipeline's monotonic counters.
type Counters struct {
	Succeeded int64
	Failed    int64
	Unique    int64
	Backlog   int64
	Workers   int
}

// Completed counts items that reached a terminal outcome.
func (c Counters) Completed() int64 { return c.Succeeded + c.Failed }

// Source supplies counter samples.
type Source interface {
	Counters() Counters
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Counters

func (f SourceFunc) Counters() Counters { return f() }

// Report is one periodic progress line.
type Report struct {
	Counters
	Elapsed time.Duration
	Rate    float64 // completions per second since the previous report
	Overall float64 // completions per second since start
	Percent float64 // of the expected total, 0 when unknown
}

// Summary is printed once when the run ends.
type Summary struct {
	Expected   int
	Succeeded  int64
	Failed     int64
	Elapsed    time.Duration
	Throughput float64
}

// Monitor samples a Source on a fixed interval.
type Monitor struct {
	source   Source
	interval time.Duration
	total    int
	clock    clock.WithTicker
	log      logger.Logger
	hook     func(Report)

	start time.Time

	mu     sync.Mutex
	last   Counters
	lastAt time.Time
}

// New creates a monitor. total is the number of items the run expects, or 0
// for open-ended runs. The clock starts now.
func New(source Source, interval time.Duration, total int, clk clock.WithTicker, log logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	now := clk.Now()
	return &Monitor{
		source:   source,
		interval: interval,
		total:    total,
		clock:    clk,
		log:      log.WithFields(logger.Fields{"component": "monitor"}),
		start:    now,
		lastAt:   now,
	}
}

// OnReport registers fn to receive every report. Call before Run.
func (m *Monitor) OnReport(fn func(Report)) { m.hook = fn }

// Run reports every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Report()
		}
	}
}

// Report samples the source, logs the result and returns it.
func (m *Monitor) Report() Report {
	cur := m.source.Counters()
	now := m.clock.Now()

	m.mu.Lock()
	delta := cur.Completed() - m.last.Completed()
	window := now.Sub(m.lastAt)
	m.last, m.lastAt = cur, now
	m.mu.Unlock()

	r := Report{Counters: cur, Elapsed: now.Sub(m.start)}
	if window > 0 {
		r.Rate = float64(delta) / window.Seconds()
	}
	if r.Elapsed > 0 {
		r.Overall = float64(cur.Completed()) / r.Elapsed.Seconds()
	}
	if m.total > 0 {
		r.Percent = 100 * float64(cur.Completed()) / float64(m.total)
	}

	m.log.WithFields(logger.Fields{
		"succeeded": cur.Succeeded,
		"failed":    cur.Failed,
		"unique":    cur.Unique,
		"backlog":   cur.Backlog,
		"workers":   cur.Workers,
		"rate":      roundRate(r.Rate),
		"percent":   roundRate(r.Percent),
	}).Info("progress")

	if m.hook != nil {
		m.hook(r)
	}
	return r
}

// Summary logs and returns the totals of the run so far.
func (m *Monitor) Summary() Summary {
	cur := m.source.Counters()
	elapsed := m.clock.Since(m.start)
	s := Summary{
		Expected:  m.total,
		Succeeded: cur.Succeeded,
		Failed:    cur.Failed,
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		s.Throughput = float64(cur.Completed()) / elapsed.Seconds()
	}
	m.log.WithFields(logger.Fields{
		"expected":   s.Expected,
		"succeeded":  s.Succeeded,
		"failed":     s.Failed,
		"wallTime":   s.Elapsed.Round(time.Millisecond).String(),
		"throughput": roundRate(s.Throughput),
	}).Info("run summary")
	return s
}

func roundRate(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
