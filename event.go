package fiberun

import "github.com/aldersgate-run/fiberun/internal/ds"

// Event is a condvar-like suspension primitive for fibers waiting on a
// boolean condition — spec.md's C6, grounded on the original runtime's
// Event/Waiter-list shape (original_source/src/semaphore.cc's waiter
// lists, generalized from a fixed semaphore condition to an arbitrary
// predicate).
//
// Event is not safe for concurrent use from more than one goroutine;
// every method must be called from a fiber or from the loop goroutine.
type Event struct {
	scheduler *Scheduler
	waiters   ds.List[FiberHandle]
}

// NewEvent creates an Event bound to scheduler, used to suspend and
// resume the fibers that wait on it.
func NewEvent(scheduler *Scheduler) *Event {
	return &Event{scheduler: scheduler}
}

// Wait suspends the calling fiber until cond returns true, re-checking
// cond each time the Event wakes it. Must be called from a fiber's Task.
// Returns ErrInterrupted if woken by Scheduler.InterruptFiber instead.
func (e *Event) Wait(f *Fiber, cond func() bool) error {
	for !cond() {
		e.waiters.PushBack(f.Handle())
		if f.Suspend() {
			h := f.Handle()
			e.waiters.RemoveFunc(func(v FiberHandle) bool { return v == h })
			return ErrInterrupted
		}
	}
	return nil
}

// Signal wakes the single longest-waiting fiber, if any. The woken fiber
// re-checks its own condition in Wait's loop — Signal does not evaluate
// any condition itself, since the Event has no notion of which waiter's
// predicate it was.
func (e *Event) Signal() {
	if h, ok := e.waiters.PopFront(); ok {
		e.scheduler.Resume(h)
	}
}

// Broadcast wakes every currently waiting fiber.
func (e *Event) Broadcast() {
	for {
		h, ok := e.waiters.PopFront()
		if !ok {
			return
		}
		e.scheduler.Resume(h)
	}
}

// Mutex is a fiber-cooperative mutual-exclusion lock built on an Event —
// the original runtime's Mutex wraps a Semaphore the same way; here it
// wraps an Event directly since the only two states are locked/unlocked.
type Mutex struct {
	event  *Event
	locked bool
}

// NewMutex creates an unlocked Mutex bound to scheduler.
func NewMutex(scheduler *Scheduler) *Mutex {
	return &Mutex{event: NewEvent(scheduler)}
}

// Lock suspends the calling fiber until the mutex is free, then takes it.
func (m *Mutex) Lock(f *Fiber) error {
	if err := m.event.Wait(f, func() bool { return !m.locked }); err != nil {
		return err
	}
	m.locked = true
	return nil
}

// TryLock takes the mutex without suspending if it is currently free.
func (m *Mutex) TryLock() bool {
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases the mutex and wakes one waiter, if any.
func (m *Mutex) Unlock() {
	m.locked = false
	m.event.Signal()
}

// Semaphore is a bounded counting semaphore for fibers, built on an Event
// — grounded on original_source/src/semaphore.cc's value/minValue/maxValue
// shape, minus the original's separate up/down waiter lists (a single
// Event with a re-checked predicate covers both directions, since Go
// doesn't need the original's hand-rolled intrusive list nodes).
type Semaphore struct {
	event           *Event
	value, min, max int64
}

// NewSemaphore creates a Semaphore bound to scheduler with the given
// initial value and bounds. Panics if initial is out of [min, max], same
// as the original's SIREN_ASSERT constructor preconditions.
func NewSemaphore(scheduler *Scheduler, initial, min, max int64) *Semaphore {
	if initial < min || initial > max {
		panic("fiberun: semaphore initial value out of bounds")
	}
	return &Semaphore{event: NewEvent(scheduler), value: initial, min: min, max: max}
}

// Down suspends the calling fiber until the semaphore's value is above
// its minimum, then decrements it.
func (s *Semaphore) Down(f *Fiber) error {
	if err := s.event.Wait(f, func() bool { return s.value > s.min }); err != nil {
		return err
	}
	s.value--
	s.event.Broadcast()
	return nil
}

// TryDown decrements the semaphore without suspending if it is above its
// minimum.
func (s *Semaphore) TryDown() bool {
	if s.value <= s.min {
		return false
	}
	s.value--
	s.event.Broadcast()
	return true
}

// Up suspends the calling fiber until the semaphore's value is below its
// maximum, then increments it.
func (s *Semaphore) Up(f *Fiber) error {
	if err := s.event.Wait(f, func() bool { return s.value < s.max }); err != nil {
		return err
	}
	s.value++
	s.event.Broadcast()
	return nil
}

// TryUp increments the semaphore without suspending if it is below its
// maximum.
func (s *Semaphore) TryUp() bool {
	if s.value >= s.max {
		return false
	}
	s.value++
	s.event.Broadcast()
	return true
}

// Value returns the semaphore's current value.
func (s *Semaphore) Value() int64 { return s.value }
