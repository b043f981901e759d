package fiberun

import "runtime"

// FiberHandle identifies a Fiber. Handles, not pointers, are what Watchers
// and Timers store — breaking the fiber↔scheduler cyclic back-reference the
// original's callback-carrying intrusive nodes relied on (see DESIGN.md,
// "cyclic back-reference fiber ↔ scheduler").
type FiberHandle uint32

// invalidFiber is never a live handle; Scheduler.Current returns it when
// called from any goroutine that is not a live fiber's, the loop goroutine
// included.
const invalidFiber FiberHandle = 0

type fiberState int32

const (
	stateRunnable fiberState = iota
	stateRunning
	stateSuspended
	stateTerminated
)

// Task is the entry procedure a Fiber runs. Returning a non-nil error from
// a foreground Task's Task is surfaced from [Loop.Run] (first one wins);
// see DESIGN.md Open Question 4 for the rationale (Go has no exceptions to
// propagate the way the original's uncaught-exception contract assumed).
type Task func(f *Fiber) error

// Fiber is a cooperatively-scheduled execution context with its own Go
// goroutine standing in for the original's dedicated stack — see
// SPEC_FULL.md §4.1 for why a goroutine is the idiomatic substitute for a
// hand-rolled stack-switch primitive in Go.
type Fiber struct {
	handle     FiberHandle
	scheduler  *Scheduler
	foreground bool
	state      fiberState
	task       Task
	err        error
	panicVal   any

	interrupted bool

	resumeCh chan struct{}
	doneCh   chan struct{}
}

// Handle returns the Fiber's identity, the value to pass to
// [Scheduler.Resume] from elsewhere.
func (f *Fiber) Handle() FiberHandle { return f.handle }

// Foreground reports whether this Fiber keeps [Loop.Run] alive.
func (f *Fiber) Foreground() bool { return f.foreground }

// Suspend parks the calling Fiber until some other code calls
// [Scheduler.Resume] with its handle, then reports whether the wake-up was
// caused by [Scheduler.InterruptFiber] rather than by whatever condition
// the caller was waiting for. Every higher-level suspension point
// (waitForFile, setDelay, Event.Wait) is built on this and must check the
// returned bool, undo its own bookkeeping (remove watcher/timer/waiter
// entry), and propagate [ErrInterrupted] — the Go-idiomatic substitute for
// the original's FiberInterruption exception unwinding through scope
// guards. If an interrupt is already pending when a running fiber calls
// Suspend, it returns true at once without parking.
func (f *Fiber) Suspend() bool {
	if f.interrupted && f.state == stateRunning {
		f.interrupted = false
		return true
	}
	f.state = stateSuspended
	f.doneCh <- struct{}{}
	<-f.resumeCh
	f.state = stateRunning
	interrupted := f.interrupted
	f.interrupted = false
	return interrupted
}

// Yield re-enqueues the calling Fiber at the tail of its run-queue and
// suspends until the scheduler gets back around to it — spec.md §4.1's
// "Yield" operation.
func (f *Fiber) Yield() {
	f.scheduler.enqueue(f.handle)
	f.Suspend()
}

// Interrupted reports whether this fiber has a pending interrupt it
// hasn't yet consumed via Suspend. Used by loops that poll rather than
// suspend (e.g. a tight retry loop) to notice an interrupt without
// actually blocking.
func (f *Fiber) Interrupted() bool { return f.interrupted }

func (f *Fiber) run() {
	<-f.resumeCh
	f.state = stateRunning

	f.scheduler.trackGoroutine(f.handle)
	defer f.scheduler.untrackGoroutine()

	defer func() {
		if r := recover(); r != nil {
			f.panicVal = r
			f.err = &FiberPanicError{Fiber: f.handle, Value: r}
		}
		f.state = stateTerminated
		f.doneCh <- struct{}{}
	}()

	f.err = f.task(f)
}

// goroutineID returns the calling goroutine's runtime id, the same
// technique the teacher's loop used (runtime.Stack parsing) to recognize
// "am I running on the loop's own goroutine" without a context.Context
// thread-local. Here it backs Scheduler.Current's fiber lookup.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
