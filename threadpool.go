package fiberun

import (
	"sync"
	"sync/atomic"

	"github.com/aldersgate-run/fiberun/internal/ds"
	"golang.org/x/sys/unix"
)

// poolTask is one unit of off-loaded work — spec.md §4.6/4.7 (C7),
// grounded on the original's ThreadPoolTask: a procedure to run on a
// worker goroutine, plus the result slot the loop goroutine reads back
// after completion.
type poolTask struct {
	procedure func() (any, error)
	result    any
	err       error
	waiter    FiberHandle // set by Async; opaque to ThreadPool itself
	cancelled atomic.Bool
}

// ThreadPool off-loads blocking work onto a fixed number of worker
// goroutines and reports completions back to the loop goroutine through an
// eventfd — spec.md §4.6 (C7), grounded on original_source/src/thread_pool.cc.
// It keeps the original's two-mutex split (pending vs completed) so a
// worker picking up new work never contends with the loop goroutine
// draining completions.
type ThreadPool struct {
	pendingMu   sync.Mutex
	pendingCond sync.Cond
	pending     ds.List[*poolTask]
	stopping    bool

	completedMu sync.Mutex
	completed   ds.List[*poolTask]

	eventFD int
	wg      sync.WaitGroup
	fatal   func(error)
	logger  Logger
}

// NewThreadPool starts n worker goroutines (n defaults to
// runtime.GOMAXPROCS(0) when ≤0) and an eventfd used to wake the loop
// goroutine whenever a task completes. onFatal is called (from a worker
// goroutine) if the eventfd wake write fails for a reason other than
// EINTR; it must not return normally if the process is to exit, since the
// worker has no other way to surface the failure. logger receives a
// LevelError entry in category "pool" immediately before onFatal is
// called, so the failure is diagnosable even if onFatal's default (panic)
// takes down the process before anything else can run; a nil logger
// installs [NewNoopLogger].
func NewThreadPool(n int, onFatal func(error), logger Logger) (*ThreadPool, error) {
	if n <= 0 {
		n = defaultPoolSize()
	}
	if onFatal == nil {
		onFatal = defaultFatal
	}
	if logger == nil {
		logger = NewNoopLogger()
	}

	efd, err := createWakeFd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, wrapSyscallErr("eventfd", -1, err)
	}

	tp := &ThreadPool{eventFD: efd, fatal: onFatal, logger: logger}
	tp.pendingCond.L = &tp.pendingMu

	tp.wg.Add(n)
	for i := 0; i < n; i++ {
		go tp.worker()
	}
	return tp, nil
}

// EventFD returns the fd the loop should watch for CondIn to learn that
// one or more tasks have completed.
func (tp *ThreadPool) EventFD() int { return tp.eventFD }

// Submit enqueues procedure to run on a worker goroutine. It never blocks
// the calling (loop) goroutine.
func (tp *ThreadPool) Submit(procedure func() (any, error)) *poolTask {
	t := &poolTask{procedure: procedure}
	tp.submit(t)
	return t
}

// submit enqueues an already-constructed task (Async pre-fills waiter
// before calling this).
func (tp *ThreadPool) submit(t *poolTask) {
	tp.pendingMu.Lock()
	tp.pending.PushBack(t)
	tp.pendingMu.Unlock()
	tp.pendingCond.Signal()
}

// Cancel detaches t from a waiter that was interrupted before t completed —
// grounded on the original's removeTask, called from Async.Execute's
// interrupt branch. If t is still pending it is removed and never runs;
// otherwise the worker already has it and it runs to completion, but
// DrainCompleted discards its result instead of resuming t.waiter, whose
// handle may since have been recycled to an unrelated fiber.
func (tp *ThreadPool) Cancel(t *poolTask) {
	t.cancelled.Store(true)
	tp.pendingMu.Lock()
	tp.pending.RemoveFunc(func(v *poolTask) bool { return v == t })
	tp.pendingMu.Unlock()
}

func (tp *ThreadPool) worker() {
	defer tp.wg.Done()
	for {
		tp.pendingMu.Lock()
		for tp.pending.Empty() && !tp.stopping {
			tp.pendingCond.Wait()
		}
		if tp.pending.Empty() {
			tp.pendingMu.Unlock()
			return
		}
		t, _ := tp.pending.PopFront()
		tp.pendingMu.Unlock()

		t.result, t.err = t.procedure()

		tp.completedMu.Lock()
		tp.completed.PushBack(t)
		tp.completedMu.Unlock()

		tp.wake()
	}
}

// wake writes to the eventfd, retrying on EINTR and treating any other
// write failure as fatal — a silently-lost completion would leak the
// waiting fiber forever (SPEC_FULL.md §7).
func (tp *ThreadPool) wake() {
	var buf [8]byte
	buf[0] = 1
	for {
		_, err := unix.Write(tp.eventFD, buf[:])
		if err == nil {
			return
		}
		if err == unix.EINTR {
			continue
		}
		wrapped := wrapSyscallErr("write", tp.eventFD, err)
		tp.logger.Log(LogEntry{Level: LevelError, Category: "pool", Message: "eventfd wake failed", Err: wrapped})
		tp.fatal(wrapped)
		return
	}
}

// DrainCompleted reads the eventfd (ignoring EAGAIN) and moves every
// currently completed task out, calling emit(t) once per task. Called from
// the loop goroutine when the eventfd reports readable.
func (tp *ThreadPool) DrainCompleted(emit func(t *poolTask)) {
	var buf [8]byte
	for {
		_, err := unix.Read(tp.eventFD, buf[:])
		if err == nil || err == unix.EAGAIN {
			break
		}
		if err == unix.EINTR {
			continue
		}
		break
	}

	tp.completedMu.Lock()
	var list ds.List[*poolTask]
	list, tp.completed = tp.completed, list
	tp.completedMu.Unlock()

	for {
		t, ok := list.PopFront()
		if !ok {
			return
		}
		if t.cancelled.Load() {
			continue
		}
		emit(t)
	}
}

// Result returns t's outcome. Only valid after emit has been called for t.
func (t *poolTask) Result() (any, error) { return t.result, t.err }

// Stop signals every worker to exit once its current task (if any)
// finishes, and waits for them all to exit. Tasks still pending at Stop
// time are never run; Stop is only called during Loop.Shutdown once no
// fiber can submit further work.
func (tp *ThreadPool) Stop() {
	tp.pendingMu.Lock()
	tp.stopping = true
	tp.pendingMu.Unlock()
	tp.pendingCond.Broadcast()
	tp.wg.Wait()
	_ = closeFD(tp.eventFD)
}
