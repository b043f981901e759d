package fiberun

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerSpawnAndRunCompletesForeground(t *testing.T) {
	s := NewScheduler()
	var ran bool
	s.Spawn(func(f *Fiber) error {
		ran = true
		return nil
	}, true)

	assert.Equal(t, 1, s.ForegroundCount())
	s.Run()
	assert.True(t, ran)
	assert.Equal(t, 0, s.ForegroundCount())
	assert.NoError(t, s.FirstError())
}

func TestSchedulerBackgroundFiberDoesNotCountTowardForeground(t *testing.T) {
	s := NewScheduler()
	var ran bool
	s.Spawn(func(f *Fiber) error {
		ran = true
		return nil
	}, false)

	assert.Equal(t, 0, s.ForegroundCount())
	s.Run()
	assert.True(t, ran)
}

func TestSchedulerForegroundPreferredOverBackground(t *testing.T) {
	s := NewScheduler()
	var order []string

	s.Spawn(func(f *Fiber) error {
		order = append(order, "bg")
		return nil
	}, false)
	s.Spawn(func(f *Fiber) error {
		order = append(order, "fg")
		return nil
	}, true)

	s.Run()
	require.Len(t, order, 2)
	assert.Equal(t, "fg", order[0])
	assert.Equal(t, "bg", order[1])
}

func TestSchedulerYieldReenqueuesAtTail(t *testing.T) {
	s := NewScheduler()
	var order []int

	s.Spawn(func(f *Fiber) error {
		order = append(order, 1)
		f.Yield()
		order = append(order, 3)
		return nil
	}, true)
	s.Spawn(func(f *Fiber) error {
		order = append(order, 2)
		return nil
	}, true)

	s.Run()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSchedulerCapturesFirstErrorFromForegroundFiber(t *testing.T) {
	s := NewScheduler()
	err1 := errors.New("first")
	err2 := errors.New("second")

	s.Spawn(func(f *Fiber) error { return err1 }, true)
	s.Spawn(func(f *Fiber) error { return err2 }, true)

	s.Run()
	assert.Same(t, err1, s.FirstError())
}

func TestSchedulerBackgroundFiberErrorIsNotSurfaced(t *testing.T) {
	s := NewScheduler()
	s.Spawn(func(f *Fiber) error { return errors.New("ignored") }, false)
	s.Run()
	assert.NoError(t, s.FirstError())
}

func TestSchedulerFiberPanicBecomesFiberPanicError(t *testing.T) {
	s := NewScheduler()
	s.Spawn(func(f *Fiber) error {
		panic("boom")
	}, true)
	s.Run()

	var panicErr *FiberPanicError
	require.ErrorAs(t, s.FirstError(), &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
}

func TestSchedulerCurrentReturnsRunningFiberHandle(t *testing.T) {
	s := NewScheduler()
	var h FiberHandle
	var seenCurrent FiberHandle

	h = s.Spawn(func(f *Fiber) error {
		seenCurrent = f.scheduler.Current()
		return nil
	}, true)
	s.Run()
	assert.Equal(t, h, seenCurrent)
}

func TestSchedulerCurrentOffFiberGoroutineIsInvalid(t *testing.T) {
	s := NewScheduler()
	assert.Equal(t, invalidFiber, s.Current())
}

func TestSchedulerResumeWakesSuspendedFiber(t *testing.T) {
	s := NewScheduler()
	var resumed bool
	var handle FiberHandle

	handle = s.Spawn(func(f *Fiber) error {
		f.Suspend()
		resumed = true
		return nil
	}, true)

	// First Run() call drains the fiber up to its Suspend, then returns
	// since the run-queue is empty (the fiber parked itself off-queue).
	s.Run()
	assert.False(t, resumed)

	s.Resume(handle)
	s.Run()
	assert.True(t, resumed)
}

func TestSchedulerInterruptFiberSuspendedReturnsTrue(t *testing.T) {
	s := NewScheduler()
	var interrupted bool
	handle := s.Spawn(func(f *Fiber) error {
		interrupted = f.Suspend()
		return nil
	}, true)

	s.Run()
	s.InterruptFiber(handle)
	s.Run()
	assert.True(t, interrupted)
}

func TestSchedulerInterruptFiberNotYetSuspendedIsObservedLater(t *testing.T) {
	s := NewScheduler()
	var seenBeforeSuspend bool
	var interrupted bool

	handle := s.Spawn(func(f *Fiber) error {
		seenBeforeSuspend = f.Interrupted()
		interrupted = f.Suspend()
		return nil
	}, true)

	// Interrupt before the fiber has even run its first tick: it's
	// runnable, not suspended, so InterruptFiber must not double-enqueue —
	// but the flag itself is still set and observable once the fiber runs.
	s.InterruptFiber(handle)

	s.Run()
	assert.True(t, seenBeforeSuspend)
	assert.True(t, interrupted)
}

func TestSchedulerInterruptOnTerminatedFiberIsNoop(t *testing.T) {
	s := NewScheduler()
	handle := s.Spawn(func(f *Fiber) error { return nil }, true)
	s.Run()
	assert.NotPanics(t, func() { s.InterruptFiber(handle) })
}

func TestSchedulerHandlesAreRecycledAfterTermination(t *testing.T) {
	s := NewScheduler()
	h1 := s.Spawn(func(f *Fiber) error { return nil }, true)
	s.Run()

	h2 := s.Spawn(func(f *Fiber) error { return nil }, true)
	s.Run()

	assert.Equal(t, h1, h2)
}
