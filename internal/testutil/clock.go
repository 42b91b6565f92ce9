package testutil

import (
	"sync"
	"time"
)

// StepClock is a fake wall clock for budget tests. Every call to Now
// advances it by Step, so a loop that checks the time makes progress
// without sleeping.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	now   time.Time
	Step  time.Duration
	calls int
}

// NewStepClock creates a clock starting at the Unix epoch.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{now: time.Unix(0, 0).UTC(), Step: step}
}

// Now returns the current time, then advances it by Step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	c.calls++
	return t
}

// Calls returns how many times Now was called.
func (c *StepClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
