// Package clock provides an abstraction for time operations to improve testability.
// Components that stamp tasks (createdAt, queuedAt, log timestamps) take a
// Clock so tests can control ordering deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for time operations.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the actual system time.
type RealClock struct{}

// Now returns the current time from the system clock in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// StepClock is a Clock that starts at a fixed instant and advances by Step
// on every call. It makes FIFO ordering in tests independent of wall time.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	Step time.Duration
}

// NewStepClock returns a StepClock starting at start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start, Step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.Step)
	return now
}

// Ensure implementations satisfy Clock.
var (
	_ Clock = RealClock{}
	_ Clock = (*StepClock)(nil)
)
