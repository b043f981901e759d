package fiberun

import (
	"sync"

	"github.com/aldersgate-run/fiberun/internal/ds"
)

// Scheduler owns fibers and their goroutines, and runs ready fibers until
// none remain runnable — spec.md §4.1 (C3).
//
// Scheduler is not safe for concurrent Spawn/Resume from arbitrary
// goroutines while Run is executing, with one exception: the ThreadPool's
// worker goroutines call Resume indirectly through the async bridge, which
// hands off through the wake eventfd rather than calling Resume directly
// from a worker thread. See threadpool.go and async.go.
type Scheduler struct {
	arena      []*Fiber // index 0 unused (invalidFiber)
	freeList   []FiberHandle
	foreground ds.List[FiberHandle]
	background ds.List[FiberHandle]
	fgCount    int
	firstErr   error

	// goroutineIndex maps a running fiber's goroutine id to its handle, so
	// Current() can answer "which fiber is this" from inside a Task without
	// threading a Fiber pointer through every helper function. Grounded on
	// the teacher's getGoroutineID()/isLoopThread() technique.
	gMu            sync.Mutex
	goroutineIndex map[uint64]FiberHandle
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		arena:          make([]*Fiber, 1, 64),
		goroutineIndex: make(map[uint64]FiberHandle),
	}
}

// Spawn creates a Fiber from an entry procedure, starts its goroutine (it
// blocks immediately on its resume channel), and enqueues it for its first
// run. foreground controls whether its liveness keeps Run alive.
func (s *Scheduler) Spawn(task Task, foreground bool) FiberHandle {
	if task == nil {
		panic("fiberun: Spawn called with nil task")
	}

	fib := &Fiber{
		scheduler:  s,
		foreground: foreground,
		state:      stateRunnable,
		task:       task,
		resumeCh:   make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}

	var h FiberHandle
	if n := len(s.freeList); n > 0 {
		h = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.arena[h] = fib
	} else {
		h = FiberHandle(len(s.arena))
		s.arena = append(s.arena, fib)
	}
	fib.handle = h

	if foreground {
		s.fgCount++
	}

	go fib.run()
	s.enqueue(h)
	return h
}

func (s *Scheduler) enqueue(h FiberHandle) {
	fib := s.arena[h]
	if fib == nil {
		return
	}
	fib.state = stateRunnable
	if fib.foreground {
		s.foreground.PushBack(h)
	} else {
		s.background.PushBack(h)
	}
}

// InterruptFiber wakes fiber h early, marking it interrupted so the next
// [Fiber.Suspend] call it was parked in returns true. Resuming a fiber
// that isn't currently suspended (already runnable, or terminated) sets
// the flag anyway; a fiber that never suspends again simply never
// observes it, matching the original's isPreInterrupted/isPostInterrupted
// split without needing two separate flags, since Go's single-flag
// check-on-wake model collapses both cases into one.
func (s *Scheduler) InterruptFiber(h FiberHandle) {
	fib := s.arena[h]
	if fib == nil || fib.state == stateTerminated {
		return
	}
	fib.interrupted = true
	if fib.state == stateSuspended {
		s.enqueue(h)
	}
}

// Resume marks h runnable and enqueues it for its next turn — spec.md
// §4.1's "resume" operation. Safe to call from the loop goroutine (e.g.
// the poller/clock dispatch callbacks) or from a fiber's own goroutine
// (e.g. one fiber resuming another it holds a handle to via an Event).
func (s *Scheduler) Resume(h FiberHandle) {
	s.enqueue(h)
}

// Current returns the handle of the fiber whose goroutine is calling this,
// or invalidFiber if called from the loop goroutine itself (or any
// goroutine that isn't a live fiber).
func (s *Scheduler) Current() FiberHandle {
	gid := goroutineID()
	s.gMu.Lock()
	h := s.goroutineIndex[gid]
	s.gMu.Unlock()
	return h
}

func (s *Scheduler) trackGoroutine(h FiberHandle) {
	gid := goroutineID()
	s.gMu.Lock()
	s.goroutineIndex[gid] = h
	s.gMu.Unlock()
}

func (s *Scheduler) untrackGoroutine() {
	gid := goroutineID()
	s.gMu.Lock()
	delete(s.goroutineIndex, gid)
	s.gMu.Unlock()
}

// ForegroundCount returns the number of live foreground fibers.
func (s *Scheduler) ForegroundCount() int { return s.fgCount }

// Run pops and runs ready fibers, foreground queue preferred over
// background, until both run-queues are empty — spec.md §4.1's run()
// algorithm. It returns control to the caller (the Loop's top-level run
// loop) so timers and poller readiness can be dispatched between drains.
func (s *Scheduler) Run() {
	for {
		h, ok := s.foreground.PopFront()
		if !ok {
			h, ok = s.background.PopFront()
		}
		if !ok {
			return
		}

		fib := s.arena[h]
		if fib == nil || fib.state == stateTerminated {
			continue
		}

		fib.resumeCh <- struct{}{}
		<-fib.doneCh

		if fib.state == stateTerminated {
			s.reap(h, fib)
		}
	}
}

func (s *Scheduler) reap(h FiberHandle, fib *Fiber) {
	if fib.foreground {
		s.fgCount--
		if fib.err != nil && s.firstErr == nil {
			s.firstErr = fib.err
		}
	}
	s.arena[h] = nil
	s.freeList = append(s.freeList, h)
}

// FirstError returns the first non-nil error returned (or panicked) by any
// foreground fiber that has terminated so far. Loop.Run surfaces this once
// the scheduler has no more foreground fibers — DESIGN.md Open Question 4.
func (s *Scheduler) FirstError() error { return s.firstErr }

// Err returns the terminal error of a fiber that has already terminated.
func (f *Fiber) Err() error { return f.err }
