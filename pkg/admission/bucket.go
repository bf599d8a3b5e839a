package admission

import "time"

// TokenBucket bounds the admission rate. It refills lazily, from elapsed
// time, whenever it is read; nothing ticks in the background.
//
// TokenBucket is not synchronized. Controller owns the lock.
type TokenBucket struct {
	Capacity     int
	Available    int
	RefillTokens int           // tokens added per whole Interval
	Interval     time.Duration // refill granularity
	LastRefill   time.Time
}

// NewTokenBucket returns a full bucket whose refill clock starts at now.
func NewTokenBucket(capacity, refillTokens int, interval time.Duration, now time.Time) TokenBucket {
	return TokenBucket{
		Capacity:     capacity,
		Available:    capacity,
		RefillTokens: refillTokens,
		Interval:     interval,
		LastRefill:   now,
	}
}

// refill credits whole elapsed intervals. LastRefill advances only by the
// intervals consumed, so the fractional remainder counts toward the next one.
func (b *TokenBucket) refill(now time.Time) {
	if b.Interval <= 0 || !now.After(b.LastRefill) {
		return
	}
	intervals := int64(now.Sub(b.LastRefill) / b.Interval)
	if intervals == 0 {
		return
	}

	add := intervals * int64(b.RefillTokens)
	if room := int64(b.Capacity - b.Available); add > room {
		add = room
	}
	b.Available += int(add)
	b.LastRefill = b.LastRefill.Add(time.Duration(intervals) * b.Interval)
}

func (b *TokenBucket) take() bool {
	if b.Available <= 0 {
		return false
	}
	b.Available--
	return true
}
