package tracking

import "github.com/kilianp07/driverlink/core/model"

// RetryBuffer is a bounded FIFO of undelivered readings. It is not safe for
// concurrent use; the Pipeline guards it.
type RetryBuffer struct {
	items    []model.PositionSample
	capacity int
	evicted  int
}

// NewRetryBuffer creates a buffer. A non-positive capacity defaults to 5.
func NewRetryBuffer(capacity int) *RetryBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &RetryBuffer{items: make([]model.PositionSample, 0, capacity), capacity: capacity}
}

// Push appends s and reports whether the buffer reached capacity. When the
// buffer is already full the oldest reading is evicted to keep the bound.
func (b *RetryBuffer) Push(s model.PositionSample) bool {
	if len(b.items) >= b.capacity {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		b.evicted++
	}
	b.items = append(b.items, s)
	return len(b.items) >= b.capacity
}

// Snapshot returns a copy of the buffered readings, oldest first.
func (b *RetryBuffer) Snapshot() []model.PositionSample {
	out := make([]model.PositionSample, len(b.items))
	copy(out, b.items)
	return out
}

// Clear drops every reading and resets the eviction counter.
func (b *RetryBuffer) Clear() {
	b.items = b.items[:0]
	b.evicted = 0
}

func (b *RetryBuffer) Len() int { return len(b.items) }
func (b *RetryBuffer) Cap() int { return b.capacity }

// Evicted returns how many readings were lost to overflow since the last Clear.
func (b *RetryBuffer) Evicted() int { return b.evicted }
