//go:build linux

package fiberun

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// maxEpollEvents bounds a single EpollWait batch, matching the teacher's
// FastPoller buffer sizing.
const maxEpollEvents = 256

// fdContext is the per-fd record the poller owns — spec.md §3 "Poller
// context per fd". Tag is opaque to the poller; Loop stores its own
// FileOptions there via ContextTag, which is the "small per-fd tag the
// caller reserved at construction" spec.md §4.2 describes.
type fdContext[Tag any] struct {
	tag        Tag
	active     bool
	registered bool // currently has an epoll_ctl registration
	epollMask  uint32
	watchers   []*Watcher
}

// Poller registers fds with condition masks and returns ready
// (watcher, conditions) pairs via epoll — spec.md §4.2 (C4). Poller is not
// safe for concurrent use; it is only ever touched from the loop
// goroutine.
type Poller[Tag any] struct {
	epfd     int
	contexts []*fdContext[Tag]
	eventBuf [maxEpollEvents]unix.EpollEvent
}

// NewPoller creates an epoll instance.
func NewPoller[Tag any]() (*Poller[Tag], error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("fiberun: epoll_create1: %w", err)
	}
	return &Poller[Tag]{epfd: epfd}, nil
}

// Close releases the epoll fd. It does not close any watched fds.
func (p *Poller[Tag]) Close() error {
	return unix.Close(p.epfd)
}

func (p *Poller[Tag]) grow(fd int) {
	if fd < len(p.contexts) {
		return
	}
	grown := make([]*fdContext[Tag], fd+1)
	copy(grown, p.contexts)
	p.contexts = grown
}

// CreateContext registers fd for tracking with the given tag. It does not
// add an epoll registration by itself — that happens lazily on the first
// AddWatcher, since a newly opened regular file may never need readiness
// watching.
func (p *Poller[Tag]) CreateContext(fd int, tag Tag) error {
	if fd < 0 {
		return fmt.Errorf("fiberun: invalid fd %d", fd)
	}
	p.grow(fd)
	if p.contexts[fd] != nil && p.contexts[fd].active {
		return fmt.Errorf("fiberun: fd %d already registered", fd)
	}
	p.contexts[fd] = &fdContext[Tag]{tag: tag, active: true}
	return nil
}

// DestroyContext removes fd's context, dropping any epoll registration. Any
// watchers still attached are abandoned by the caller's responsibility —
// Loop always removes watchers before closing an fd.
func (p *Poller[Tag]) DestroyContext(fd int) error {
	ctx := p.ctxOrNil(fd)
	if ctx == nil {
		return errNotManaged(fd)
	}
	if ctx.registered {
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	p.contexts[fd] = nil
	return nil
}

// ContextExists reports whether fd currently has a context.
func (p *Poller[Tag]) ContextExists(fd int) bool {
	return p.ctxOrNil(fd) != nil
}

// ContextTag returns a pointer to fd's tag so the caller can read or
// mutate its per-fd options in place, or ok=false if fd isn't managed.
func (p *Poller[Tag]) ContextTag(fd int) (tag *Tag, ok bool) {
	ctx := p.ctxOrNil(fd)
	if ctx == nil {
		return nil, false
	}
	return &ctx.tag, true
}

func (p *Poller[Tag]) ctxOrNil(fd int) *fdContext[Tag] {
	if fd < 0 || fd >= len(p.contexts) {
		return nil
	}
	return p.contexts[fd]
}

// AddWatcher arms w on its fd with w.conditions. Multiple watchers may be
// armed concurrently on the same fd (e.g. one reader, one writer) —
// spec.md §3's "at most one fiber per (fd, direction)" is enforced by the
// caller (Loop), not the poller; AddWatcher only asserts it in debug builds.
func (p *Poller[Tag]) AddWatcher(w *Watcher) error {
	ctx := p.ctxOrNil(w.fd)
	if ctx == nil {
		return errNotManaged(w.fd)
	}
	for _, other := range ctx.watchers {
		assertf(other.conditions&w.conditions == 0, "fiberun: fd %d already has a watcher for direction %v", w.fd, other.conditions&w.conditions)
	}
	ctx.watchers = append(ctx.watchers, w)
	return p.syncEpoll(w.fd, ctx)
}

// RemoveWatcher detaches w from its fd. A watcher that has fired stays
// attached until it is removed here; removing a watcher that was already
// removed is a no-op.
func (p *Poller[Tag]) RemoveWatcher(w *Watcher) error {
	if w.removed {
		return nil
	}
	ctx := p.ctxOrNil(w.fd)
	if ctx == nil {
		w.removed = true
		return nil
	}
	for i, other := range ctx.watchers {
		if other == w {
			ctx.watchers = append(ctx.watchers[:i], ctx.watchers[i+1:]...)
			break
		}
	}
	w.removed = true
	return p.syncEpoll(w.fd, ctx)
}

// syncEpoll reconciles the fd's epoll registration with the union of its
// watchers' requested conditions.
func (p *Poller[Tag]) syncEpoll(fd int, ctx *fdContext[Tag]) error {
	var want IOCondition
	for _, w := range ctx.watchers {
		want |= w.conditions
	}
	mask := conditionToEpoll(want)

	switch {
	case mask == 0 && ctx.registered:
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		ctx.registered = false
		ctx.epollMask = 0
		return err
	case mask != 0 && !ctx.registered:
		ev := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
			return err
		}
		ctx.registered = true
		ctx.epollMask = mask
		return nil
	case mask != 0 && mask != ctx.epollMask:
		ev := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
			return err
		}
		ctx.epollMask = mask
		return nil
	default:
		return nil
	}
}

// GetReadyWatchers polls epoll with a timeout equal to clock's due time
// (-1 indefinite, 0 poll-only), then for each ready fd calls emit once per
// watcher whose requested conditions intersect readiness — spec.md §4.2.
// Err and Hup are always included in the reported condition set when the
// kernel reports them.
func (p *Poller[Tag]) GetReadyWatchers(clock *Clock, emit func(w *Watcher, ready IOCondition)) error {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], epollTimeoutMillis(clock.DueTime()))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("fiberun: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		ctx := p.ctxOrNil(fd)
		if ctx == nil || !ctx.active {
			continue
		}
		ready := epollToCondition(ev.Events)

		// Snapshot: emit may (via the resumed fiber's later cleanup) call
		// RemoveWatcher, but emit itself only records readiness and
		// enqueues a resume — it never runs fiber code inline — so a
		// plain range over the live slice is safe here.
		for _, w := range ctx.watchers {
			if w.removed {
				continue
			}
			if w.conditions&ready != 0 || ready&(CondErr|CondHup) != 0 {
				emit(w, ready)
			}
		}
	}
	return nil
}

// epollTimeoutMillis converts a Clock.DueTime duration into the timeout
// argument epoll_wait expects: -1 for "block indefinitely" (empty timer
// heap), 0 for "don't block", otherwise the duration rounded up to at
// least 1ms so a sub-millisecond positive duration doesn't round down to a
// busy-poll — the same rounding rule the teacher's calculateTimeout uses.
func epollTimeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	if d == 0 {
		return 0
	}
	ms := d.Milliseconds()
	if time.Duration(ms)*time.Millisecond < d {
		ms++
	}
	if ms < 1 {
		ms = 1
	}
	if ms > int64(math.MaxInt32) {
		ms = int64(math.MaxInt32)
	}
	return int(ms)
}

func conditionToEpoll(c IOCondition) uint32 {
	var m uint32
	if c&CondIn != 0 {
		m |= unix.EPOLLIN
	}
	if c&CondOut != 0 {
		m |= unix.EPOLLOUT
	}
	if c&CondRdHup != 0 {
		m |= unix.EPOLLRDHUP
	}
	if c&CondPri != 0 {
		m |= unix.EPOLLPRI
	}
	return m
}

func epollToCondition(m uint32) IOCondition {
	var c IOCondition
	if m&unix.EPOLLIN != 0 {
		c |= CondIn
	}
	if m&unix.EPOLLOUT != 0 {
		c |= CondOut
	}
	if m&unix.EPOLLRDHUP != 0 {
		c |= CondRdHup
	}
	if m&unix.EPOLLPRI != 0 {
		c |= CondPri
	}
	if m&unix.EPOLLERR != 0 {
		c |= CondErr
	}
	if m&unix.EPOLLHUP != 0 {
		c |= CondHup
	}
	return c
}
