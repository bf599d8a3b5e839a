package kafka

import "sync"

// partitionOffsets tracks in-flight offsets of one partition.
type partitionOffsets struct {
	pending   map[int64]struct{}
	highest   int64
	committed int64
}

// offsetTracker computes, per partition, the highest offset that is safe to
// commit: the lowest unsettled offset, or one past the highest seen offset
// when nothing is in flight.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int32]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int32]*partitionOffsets)}
}

func (t *offsetTracker) track(partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[partition]
	if !ok {
		p = &partitionOffsets{pending: make(map[int64]struct{}), highest: -1, committed: -1}
		t.parts[partition] = p
	}
	p.pending[offset] = struct{}{}
	if offset > p.highest {
		p.highest = offset
	}
}

// done settles an offset. Offsets of forgotten partitions are ignored.
func (t *offsetTracker) done(partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.parts[partition]; ok {
		delete(p.pending, offset)
	}
}

func (t *offsetTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.parts {
		n += len(p.pending)
	}
	return n
}

// committable returns the next offset to commit for every partition that
// advanced since the last commit.
func (t *offsetTracker) committable() map[int32]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int32]int64)
	for id, p := range t.parts {
		next := p.highest + 1
		for off := range p.pending {
			if off < next {
				next = off
			}
		}
		if next > p.committed && next > 0 {
			out[id] = next
		}
	}
	return out
}

func (t *offsetTracker) markCommitted(offsets map[int32]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, off := range offsets {
		if p, ok := t.parts[id]; ok && off > p.committed {
			p.committed = off
		}
	}
}

func (t *offsetTracker) forget(partitions ...int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range partitions {
		delete(t.parts, id)
	}
}
