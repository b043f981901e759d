package fiberun

import (
	"sync/atomic"
)

// LoopState is the run-state of a [Loop], observed by Spawn (to reject work
// submitted after shutdown has begun) and by diagnostics.
//
// State Machine:
//
//	StateAwake (0) → StateRunning (3)          [Run()]
//	StateRunning (3) → StateSleeping (2)       [Run(), before polling]
//	StateSleeping (2) → StateRunning (3)       [Run(), after polling]
//	StateRunning (3) → StateTerminated (1)     [Run() returns]
//	any → StateTerminating (4)                 [Shutdown()]
//	StateTerminating (4) → StateTerminated (1) [Shutdown() complete]
//
// Loop sets every state with Store; TryTransition offers a CAS for callers
// that need one.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but Run has not been
	// called yet.
	StateAwake LoopState = 0
	// StateTerminated indicates Run has returned or Shutdown has finished.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop goroutine is blocked in
	// Poller.GetReadyWatchers.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is draining the scheduler's run-queues.
	StateRunning LoopState = 3
	// StateTerminating indicates Shutdown is tearing down the runtime's
	// resources.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// runState is a lock-free state holder, cache-line padded so the loop
// goroutine's frequent Store calls never false-share with a concurrent
// Spawn's Load from another goroutine.
type runState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

func newRunState() *runState {
	s := &runState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *runState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *runState) Store(state LoopState) { s.v.Store(uint64(state)) }

func (s *runState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal reports whether the state is StateTerminated.
func (s *runState) IsTerminal() bool { return s.Load() == StateTerminated }

// CanAcceptWork reports whether Spawn may still enqueue a fiber.
func (s *runState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}
