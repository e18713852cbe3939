package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe millisecond clock for tests.
//
// Each call to NowMillis advances the clock by a fixed step, so a test that
// enqueues N entries gets the timestamps base+step, base+2*step, ... in
// call order. Reset rewinds it for test reuse.
type DeterministicClock struct {
	mu   sync.Mutex
	base int64
	step int64
	cur  int64
}

// NewDeterministicClock creates a clock starting at base that advances by
// step on every read. The first call to NowMillis returns base+step.
func NewDeterministicClock(base, step int64) *DeterministicClock {
	return &DeterministicClock{base: base, step: step, cur: base}
}

// NowMillis advances the clock and returns the new time.
func (c *DeterministicClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur += c.step
	return c.cur
}

// Current returns the last returned time without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Time returns Current as a time.Time, for collaborators that take a
// func() time.Time.
func (c *DeterministicClock) Time() time.Time {
	return time.UnixMilli(c.Current()).UTC()
}

// Reset rewinds the clock to its base.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.base
}

// ScriptedClock returns a predetermined sequence of timestamps.
//
// It lets tests enqueue entries with out-of-order wall times across the two
// queues. Once the script is exhausted the last value repeats.
type ScriptedClock struct {
	mu     sync.Mutex
	values []int64
	idx    int
}

// NewScriptedClock creates a clock that returns values in order.
func NewScriptedClock(values ...int64) *ScriptedClock {
	return &ScriptedClock{values: values}
}

// NowMillis returns the next scripted timestamp.
func (c *ScriptedClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) == 0 {
		return 0
	}
	if c.idx >= len(c.values) {
		return c.values[len(c.values)-1]
	}
	v := c.values[c.idx]
	c.idx++
	return v
}
