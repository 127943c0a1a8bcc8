// Package testutil holds shared test helpers.
package testutil

import (
	"sync"
	"time"
)

// Clock is a deterministic time source for tests. It stands in for
// time.Now wherever a component accepts an injectable clock, so
// retry-backoff and timestamp assertions never depend on wall time or
// sleeps.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current clock time. The clock does not advance on
// its own; use Advance.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set jumps the clock to t. Used to rewind between test cases.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
