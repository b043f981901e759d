package fiberun

// Async bridges the ThreadPool (C7) back to waiting fibers — spec.md §4.6
// (C9), grounded on original_source/src/async.cc. The original parks a
// dedicated fiber on the pool's eventfd that, on each wake, drains the
// pool's completed-task list and triggers each task's Event; this keeps
// that exact shape, substituting a direct Scheduler.Resume(waiter) for the
// original's per-task Event (there is exactly one waiter per task, so an
// Event's waiter list would be pure overhead).
type Async struct {
	pool         *ThreadPool
	loop         *Loop
	triggerFiber FiberHandle
}

// newAsync creates the thread pool, registers its eventfd with the loop's
// poller, and spawns the background trigger fiber that watches it. It is
// called once from NewLoop; Loop owns the returned Async for its lifetime.
func newAsync(loop *Loop, poolSize int) (*Async, error) {
	pool, err := NewThreadPool(poolSize, loop.fatal, loop.logger)
	if err != nil {
		return nil, err
	}

	a := &Async{pool: pool, loop: loop}

	// The eventfd is never a socket and is already non-blocking (EFD_NONBLOCK);
	// it bypasses registerFD's fstat/SO_RCVTIMEO auto-detection entirely.
	if err := loop.poller.CreateContext(pool.EventFD(), FileOptions{readTimeout: -1, writeTimeout: -1}); err != nil {
		pool.Stop()
		return nil, err
	}

	a.triggerFiber = loop.scheduler.Spawn(a.triggerLoop, false)
	return a, nil
}

// triggerLoop is the body of the background trigger fiber: wait for the
// pool's eventfd to become readable, drain completions, resume each
// waiter, repeat until interrupted at shutdown.
func (a *Async) triggerLoop(f *Fiber) error {
	for {
		_, err := a.loop.waitForFile(f, a.pool.EventFD(), CondIn, -1)
		if err != nil {
			if err == ErrInterrupted {
				return nil
			}
			return err
		}
		a.pool.DrainCompleted(func(t *poolTask) {
			a.loop.scheduler.Resume(t.waiter)
		})
	}
}

// Execute off-loads procedure onto a worker goroutine and suspends f until
// it completes, returning procedure's result. This is the building block
// for LookupHost, ReadFile, WriteFile, and any other syscall with no
// non-blocking kernel equivalent. If f is interrupted before the task
// completes, Execute detaches from it via ThreadPool.Cancel and returns
// ErrInterrupted instead of waiting further — mirroring the original's
// waitForTask catching FiberInterruption and calling removeTask.
func (a *Async) Execute(f *Fiber, procedure func() (any, error)) (any, error) {
	t := &poolTask{procedure: procedure, waiter: f.Handle()}
	a.pool.submit(t)
	if f.Suspend() {
		a.pool.Cancel(t)
		return nil, ErrInterrupted
	}
	return t.Result()
}

// close interrupts the trigger fiber, runs the scheduler so the fiber
// observes the interrupt and returns, and unregisters + stops the pool. It
// is only called from Loop.Shutdown.
func (a *Async) close() {
	a.loop.InterruptFiber(a.triggerFiber)
	a.loop.scheduler.Run()
	_ = a.loop.poller.DestroyContext(a.pool.EventFD())
	a.pool.Stop()
}
