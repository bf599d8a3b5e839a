// Package admission gates calls to one downstream dependency with a token
// bucket and a circuit breaker shared by every worker of a pool.
//
// Both checks return immediately. A denied caller is expected to sleep on
// its own schedule and try again, so one slow worker never blocks another.
package admission

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

const (
	DefaultBucketCapacity   = 10000                 // Burst size
	DefaultRefillTokens     = 400                   // Tokens per refill interval
	DefaultRefillInterval   = 50 * time.Millisecond // Refill granularity
	DefaultFailureThreshold = 20                    // Consecutive failures before opening
	DefaultCoolDown         = 2 * time.Second       // Time spent open before closing
)

// Config sizes the bucket and the breaker.
type Config struct {
	BucketCapacity   int           `yaml:"bucketCapacity"`
	RefillTokens     int           `yaml:"refillTokens"`
	RefillInterval   time.Duration `yaml:"refillInterval"`
	FailureThreshold int           `yaml:"failureThreshold"`
	CoolDown         time.Duration `yaml:"coolDown"`
}

// DefaultConfig returns the stock admission settings.
func DefaultConfig() Config {
	return Config{
		BucketCapacity:   DefaultBucketCapacity,
		RefillTokens:     DefaultRefillTokens,
		RefillInterval:   DefaultRefillInterval,
		FailureThreshold: DefaultFailureThreshold,
		CoolDown:         DefaultCoolDown,
	}
}

// Validate rejects settings the controller cannot run with.
func (c Config) Validate() error {
	switch {
	case c.BucketCapacity <= 0:
		return fmt.Errorf("bucketCapacity must be positive, got %d", c.BucketCapacity)
	case c.RefillTokens < 0:
		return fmt.Errorf("refillTokens must not be negative, got %d", c.RefillTokens)
	case c.RefillInterval <= 0:
		return fmt.Errorf("refillInterval must be positive, got %s", c.RefillInterval)
	case c.FailureThreshold <= 0:
		return fmt.Errorf("failureThreshold must be positive, got %d", c.FailureThreshold)
	case c.CoolDown < 0:
		return fmt.Errorf("coolDown must not be negative, got %s", c.CoolDown)
	}
	return nil
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	Available           int
	Capacity            int
	LastTrip            time.Time
	Trips               int64
	Resets              int64
	Denied              int64
}

// Controller is the admission gate shared by one pool. All methods are safe
// for concurrent use; bucket and breaker are mutated under a single lock.
type Controller struct {
	clock clock.PassiveClock
	log   logger.Logger

	mu      sync.Mutex
	bucket  TokenBucket
	breaker CircuitBreaker
	trips   int64
	resets  int64
	denied  int64
}

// New builds a controller. A nil clock means the real clock.
func New(cfg Config, clk clock.PassiveClock, log logger.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("admission config: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		clock:  clk,
		log:    log.WithFields(logger.Fields{"component": "admission"}),
		bucket: NewTokenBucket(cfg.BucketCapacity, cfg.RefillTokens, cfg.RefillInterval, clk.Now()),
		breaker: CircuitBreaker{
			State:            Closed,
			CoolDown:         cfg.CoolDown,
			FailureThreshold: cfg.FailureThreshold,
		},
	}, nil
}

// Acquire takes one token if available. It never blocks.
func (c *Controller) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucket.refill(c.clock.Now())
	if c.bucket.take() {
		return true
	}
	c.denied++
	return false
}

// Allow reports whether the breaker lets a call through. An open breaker
// whose cool-down has elapsed is closed by this call.
func (c *Controller) Allow() bool {
	c.mu.Lock()
	ok, closed := c.breaker.allow(c.clock.Now())
	if closed {
		c.resets++
	}
	c.mu.Unlock()

	if closed {
		c.log.Info("circuit breaker closed")
	}
	return ok
}

// RecordSuccess resets the consecutive failure count.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	c.breaker.success()
	c.mu.Unlock()
}

// RecordFailure counts a breaker-eligible failure and reports whether the
// breaker is open afterwards.
func (c *Controller) RecordFailure() bool {
	c.mu.Lock()
	open, tripped := c.breaker.failure(c.clock.Now())
	failures := c.breaker.ConsecutiveFailures
	if tripped {
		c.trips++
	}
	c.mu.Unlock()

	if tripped {
		c.log.WithFields(logger.Fields{"consecutiveFailures": failures}).Warn("circuit breaker opened")
	}
	return open
}

// Snapshot returns the current state without refilling or transitioning.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:               c.breaker.State,
		ConsecutiveFailures: c.breaker.ConsecutiveFailures,
		Available:           c.bucket.Available,
		Capacity:            c.bucket.Capacity,
		LastTrip:            c.breaker.LastTrip,
		Trips:               c.trips,
		Resets:              c.resets,
		Denied:              c.denied,
	}
}
