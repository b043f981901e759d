package fiberun

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitEventFDReadable(t *testing.T, fd int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var pfd [1]unix.PollFd
		pfd[0].Fd = int32(fd)
		pfd[0].Events = unix.POLLIN
		n, err := unix.Poll(pfd[:], 10)
		if err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		if n > 0 {
			return
		}
	}
	t.Fatal("eventfd never became readable")
}

func TestThreadPoolSubmitRunsAndReportsViaDrainCompleted(t *testing.T) {
	tp, err := NewThreadPool(2, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)
	defer tp.Stop()

	done := make(chan struct{})
	task := tp.Submit(func() (any, error) { return 42, nil })

	waitEventFDReadable(t, tp.EventFD(), 2*time.Second)

	var gotResult any
	var gotErr error
	tp.DrainCompleted(func(t *poolTask) {
		gotResult, gotErr = t.Result()
		close(done)
	})
	<-done
	assert.Equal(t, 42, gotResult)
	assert.NoError(t, gotErr)
	_ = task
}

func TestThreadPoolSubmitPropagatesProcedureError(t *testing.T) {
	tp, err := NewThreadPool(1, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)
	defer tp.Stop()

	wantErr := errors.New("boom")
	tp.Submit(func() (any, error) { return nil, wantErr })
	waitEventFDReadable(t, tp.EventFD(), 2*time.Second)

	var got error
	tp.DrainCompleted(func(t *poolTask) { _, got = t.Result() })
	assert.Equal(t, wantErr, got)
}

func TestThreadPoolCancelPendingTaskNeverRuns(t *testing.T) {
	tp, err := NewThreadPool(1, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)
	defer tp.Stop()

	// Occupy the single worker so the next submission stays pending.
	block := make(chan struct{})
	release := make(chan struct{})
	tp.Submit(func() (any, error) {
		close(block)
		<-release
		return nil, nil
	})
	<-block

	var ran bool
	task := tp.Submit(func() (any, error) {
		ran = true
		return nil, nil
	})
	tp.Cancel(task)
	close(release)

	waitEventFDReadable(t, tp.EventFD(), 2*time.Second)
	var emitted int
	tp.DrainCompleted(func(t *poolTask) { emitted++ })
	assert.Equal(t, 1, emitted, "only the occupying task should be emitted")
	assert.False(t, ran)
}

func TestThreadPoolCancelRunningTaskIsDiscardedNotEmitted(t *testing.T) {
	tp, err := NewThreadPool(1, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)
	defer tp.Stop()

	started := make(chan struct{})
	task := tp.Submit(func() (any, error) {
		close(started)
		return "value", nil
	})
	<-started
	tp.Cancel(task) // too late to stop it running, but must suppress emit

	waitEventFDReadable(t, tp.EventFD(), 2*time.Second)
	var emitted int
	tp.DrainCompleted(func(t *poolTask) { emitted++ })
	assert.Equal(t, 0, emitted)
}

func TestThreadPoolMultipleTasksAllComplete(t *testing.T) {
	tp, err := NewThreadPool(4, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)
	defer tp.Stop()

	const n = 20
	var mu sync.Mutex
	seen := map[int]bool{}

	for i := 0; i < n; i++ {
		i := i
		tp.Submit(func() (any, error) { return i, nil })
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < n && time.Now().Before(deadline) {
		waitEventFDReadable(t, tp.EventFD(), 5*time.Second)
		tp.DrainCompleted(func(t *poolTask) {
			v, _ := t.Result()
			mu.Lock()
			seen[v.(int)] = true
			mu.Unlock()
		})
	}
	assert.Len(t, seen, n)
}

func TestThreadPoolStopIsSafeAfterDrain(t *testing.T) {
	tp, err := NewThreadPool(1, func(error) { t.Fatal("unexpected fatal") }, nil)
	require.NoError(t, err)

	tp.Submit(func() (any, error) { return nil, nil })
	waitEventFDReadable(t, tp.EventFD(), 2*time.Second)
	tp.DrainCompleted(func(t *poolTask) {})

	assert.NotPanics(t, func() { tp.Stop() })
}
