package fiberun

import (
	"time"

	"github.com/aldersgate-run/fiberun/internal/ds"
)

// Timer is a scoped suspension record for one fiber's time-bounded wait —
// spec.md §3's Timer entity. Its storage is owned by the suspension site
// (typically a stack frame of the waiting fiber's goroutine, here a local
// variable in waitForFile/setDelay), never by the Clock.
type Timer struct {
	expiry   time.Time
	fiber    FiberHandle
	timedOut *bool
}

// Clock is a min-heap of timers keyed on absolute expiry — spec.md §4.3
// (C5). Clock.now is refreshed only inside RemoveExpiredTimers; calling
// AddTimer between polls computes expiry against a stale now, exactly the
// "designed behavior" spec.md's Open Question carries forward unchanged
// (DESIGN.md Open Question 3).
type Clock struct {
	now  time.Time
	heap *ds.Heap[*Timer]
}

// NewClock creates a Clock anchored at the given start time.
func NewClock(start time.Time) *Clock {
	return &Clock{
		now:  start,
		heap: ds.NewHeap[*Timer](func(a, b *Timer) bool { return a.expiry.Before(b.expiry) }),
	}
}

// Now returns the clock's cached monotonic time, last refreshed by
// RemoveExpiredTimers.
func (c *Clock) Now() time.Time { return c.now }

// AddTimer arms t to expire after duration (clamped to ≥0) from the
// clock's current cached now, and pushes it onto the heap.
func (c *Clock) AddTimer(t *Timer, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	t.expiry = c.now.Add(duration)
	c.heap.Push(t)
}

// RemoveTimer removes t from the heap before it has fired. Calling this on
// a timer already popped by RemoveExpiredTimers is undefined — the
// suspension site gates on *t.timedOut instead, per spec.md §4.3.
func (c *Clock) RemoveTimer(t *Timer) {
	if idx := c.heap.IndexFunc(func(v *Timer) bool { return v == t }); idx >= 0 {
		c.heap.Remove(idx)
	}
}

// DueTime returns the duration until the earliest timer fires: -1 if the
// heap is empty, otherwise max(0, top.expiry - now).
func (c *Clock) DueTime() time.Duration {
	top, ok := c.heap.Peek()
	if !ok {
		return -1
	}
	d := top.expiry.Sub(c.now)
	if d < 0 {
		return 0
	}
	return d
}

// RemoveExpiredTimers refreshes now from the monotonic clock source, then
// pops every timer whose expiry ≤ now, calling emit(t) once per pop —
// spec.md §4.3.
func (c *Clock) RemoveExpiredTimers(emit func(t *Timer)) {
	c.now = time.Now()
	for {
		top, ok := c.heap.Peek()
		if !ok || top.expiry.After(c.now) {
			return
		}
		t, _ := c.heap.Pop()
		emit(t)
	}
}

// Len reports how many timers are currently armed.
func (c *Clock) Len() int { return c.heap.Len() }
