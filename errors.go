package fiberun

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNotManaged is returned when an operation targets an fd the Loop has no
// context for — spec.md §5's "operations on an unmanaged fd fail with a
// distinct error rather than panicking." It wraps unix.EBADF so errno-level
// callers can still match via errors.Is.
var ErrNotManaged = fmt.Errorf("fiberun: fd not managed by this loop: %w", unix.EBADF)

// ErrNotSocket is returned when a socket-only operation (Accept, Connect,
// Recv*, Send*) is used against an fd that was never registered as a
// socket. It wraps unix.ENOTSOCK so errno-level callers can still match via
// errors.Is.
var ErrNotSocket = fmt.Errorf("fiberun: fd is not a socket: %w", unix.ENOTSOCK)

// ErrClosed is returned by operations attempted after the Loop has begun
// shutting down.
var ErrClosed = errors.New("fiberun: loop is closed")

// ErrInterrupted is returned by [Fiber.Suspend]-based waits that were woken
// by [Loop.InterruptFiber] rather than by the condition they were waiting
// for.
var ErrInterrupted = errors.New("fiberun: fiber interrupted")

// SyscallError wraps a POSIX syscall failure with the call name and the fd
// it operated on, the way the original C++ runtime's exceptions name the
// failing syscall. errors.Is against a bare [syscall.Errno] or
// [golang.org/x/sys/unix.Errno] still matches via Unwrap.
type SyscallError struct {
	Call string
	FD   int
	Err  error
}

func (e *SyscallError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("fiberun: %s(fd=%d): %v", e.Call, e.FD, e.Err)
	}
	return fmt.Sprintf("fiberun: %s: %v", e.Call, e.Err)
}

func (e *SyscallError) Unwrap() error { return e.Err }

// Is reports whether target is the same errno, independent of call/fd.
func (e *SyscallError) Is(target error) bool {
	var other *SyscallError
	if errors.As(target, &other) {
		return errors.Is(e.Err, other.Err)
	}
	return false
}

func wrapSyscallErr(call string, fd int, err error) error {
	if err == nil {
		return nil
	}
	return &SyscallError{Call: call, FD: fd, Err: err}
}

func errNotManaged(fd int) error {
	return &SyscallError{Call: "fdIsManaged", FD: fd, Err: ErrNotManaged}
}

// IsEAGAIN reports whether err is EAGAIN/EWOULDBLOCK, the signal that a
// non-blocking syscall has no data/buffer space right now and the caller
// should suspend on readiness instead.
func IsEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsEINTR reports whether err is EINTR. Loop's public operations retry on
// EINTR internally — spec.md invariant: "a signal arriving mid-syscall is
// never surfaced to caller code." This helper exists for code that calls
// into unix directly, such as netfiber's listener setup.
func IsEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// FiberPanicError wraps the recovered value of a panic that escaped a
// fiber's Task, preserving the original value via Unwrap when it was
// itself an error.
type FiberPanicError struct {
	Fiber FiberHandle
	Value any
}

func (e *FiberPanicError) Error() string {
	return fmt.Sprintf("fiberun: fiber %d panicked: %v", e.Fiber, e.Value)
}

func (e *FiberPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// assertf panics with a formatted message when debug assertions are
// compiled in (build tag fiberun_debug); it is a no-op otherwise. Used at
// internal invariant boundaries — e.g. "at most one watcher per (fd,
// direction)" — that should never fail in a correct build but are cheap to
// check while developing against the runtime.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		assertFail(format, args...)
	}
}
