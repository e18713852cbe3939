package queue

import (
	"sync/atomic"
	"time"
)

// Clock supplies enqueue timestamps in Unix milliseconds.
type Clock interface {
	NowMillis() int64
}

// MonotonicClock reads wall time but never goes backwards: if the system
// clock steps back, it keeps returning the highest value seen so far.
//
// Thread-safety: MonotonicClock is safe for concurrent use (atomic operations).
type MonotonicClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewMonotonicClock creates a clock over time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockAt creates a clock over now that never returns less
// than floor. ResumeClock seeds floor from the persisted queues.
func NewMonotonicClockAt(floor int64, now func() time.Time) *MonotonicClock {
	c := &MonotonicClock{now: now}
	c.last.Store(floor)
	return c
}

// NowMillis returns the current time, clamped to be non-decreasing.
func (c *MonotonicClock) NowMillis() int64 {
	for {
		t := c.now().UnixMilli()
		prev := c.last.Load()
		if t < prev {
			t = prev
		}
		if c.last.CompareAndSwap(prev, t) {
			return t
		}
	}
}
