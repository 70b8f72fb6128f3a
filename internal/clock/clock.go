// Package clock abstracts wall time and timers so that refresh scheduling can
// be driven deterministically in tests. Use RealClock in production and
// MockClock in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the scheduler depends on.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc calls f after d has elapsed. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the Timer from firing. It returns false if the timer has
	// already fired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a Clock whose time only moves when Advance or Set is called.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	mu       sync.Mutex
	deadline time.Time
	f        func()
	stopped  bool
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to be called once the mock time reaches now+d
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTimer{deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the deadlines of timers that have not fired or been stopped,
// earliest first.
func (c *MockClock) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Time
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			out = append(out, t.deadline)
		}
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Advance moves the clock forward by d and fires every timer that is due.
// Timers fire synchronously on the caller's goroutine, in deadline order.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due, remaining []*mockTimer
	for _, t := range c.timers {
		t.mu.Lock()
		switch {
		case t.stopped:
		case !t.deadline.After(now):
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
		t.mu.Unlock()
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	// Fire outside the clock lock; callbacks usually schedule new timers.
	for _, t := range due {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			continue
		}
		t.stopped = true
		f := t.f
		t.mu.Unlock()
		f()
	}
}

// Set moves the clock to t, firing expired timers when moving forward.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	old := c.current
	c.mu.Unlock()

	if t.After(old) {
		c.Advance(t.Sub(old))
		return
	}
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Stop prevents the timer from firing
func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
