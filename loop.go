package fiberun

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// FileOptions is the per-fd tag the Poller stores for every fd the Loop
// manages — spec.md §3's poller fd context. The kernel's real O_NONBLOCK
// flag is always set once a fd is registered; blocking/readTimeout/
// writeTimeout are the *logical* values Fcntl/Getsockopt/Setsockopt project
// back to callers, and the values waitForFile/readFile/writeFile consult to
// decide whether (and how long) to suspend instead of returning EAGAIN.
type FileOptions struct {
	isSocket     bool
	blocking     bool
	readTimeout  time.Duration // -1 == infinite
	writeTimeout time.Duration
}

var loopIDCounter atomic.Int64

// Loop is the runtime façade: it owns the scheduler, poller, clock and
// async bridge, and exposes the POSIX-shaped operation table fiber Tasks
// call into — spec.md §4.4 (C8).
type Loop struct {
	id        int64
	scheduler *Scheduler
	poller    *Poller[FileOptions]
	clock     *Clock
	async     *Async
	logger    Logger
	fatal     func(error)
	state     *runState
}

// NewLoop creates a Loop ready for Spawn and Run.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	poller, err := NewPoller[FileOptions]()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		id:        loopIDCounter.Add(1),
		scheduler: NewScheduler(),
		poller:    poller,
		clock:     NewClock(time.Now()),
		logger:    cfg.logger,
		fatal:     cfg.fatal,
		state:     newRunState(),
	}

	async, err := newAsync(l, cfg.poolSize)
	if err != nil {
		_ = poller.Close()
		return nil, err
	}
	l.async = async

	return l, nil
}

// Spawn creates a fiber running task and schedules it for its first turn —
// spec.md §4.1. foreground fibers keep Run alive; background fibers (the
// async trigger fiber, and any caller-spawned housekeeping fiber) do not.
// Spawn rejects new work with [ErrClosed] once Shutdown has been called —
// by then Run's scheduler loop may have already exited, and a fiber
// goroutine spawned after that would park on its resume channel forever.
func (l *Loop) Spawn(task Task, foreground bool) (FiberHandle, error) {
	if !l.state.CanAcceptWork() {
		return 0, ErrClosed
	}
	return l.scheduler.Spawn(task, foreground), nil
}

// InterruptFiber wakes h early if it is currently suspended in a Loop
// operation, causing that operation to return [ErrInterrupted].
func (l *Loop) InterruptFiber(h FiberHandle) {
	l.scheduler.InterruptFiber(h)
}

// CurrentFiber returns the handle of the fiber calling this, or the
// invalid handle if called from the loop goroutine itself.
func (l *Loop) CurrentFiber() FiberHandle {
	return l.scheduler.Current()
}

// MakeEvent creates an [Event] bound to this Loop's scheduler.
func (l *Loop) MakeEvent() *Event { return NewEvent(l.scheduler) }

// MakeMutex creates a [Mutex] bound to this Loop's scheduler.
func (l *Loop) MakeMutex() *Mutex { return NewMutex(l.scheduler) }

// MakeSemaphore creates a [Semaphore] bound to this Loop's scheduler.
func (l *Loop) MakeSemaphore(initial, min, max int64) *Semaphore {
	return NewSemaphore(l.scheduler, initial, min, max)
}

// IsManaged reports whether fd currently has a poller context, matching the
// original's Loop::fdIsManaged.
func (l *Loop) IsManaged(fd int) bool { return l.poller.ContextExists(fd) }

// Run drives the scheduler, poller and clock until no foreground fiber
// remains — spec.md §4.5's top-level run loop (C8/C4/C5 glue). It returns
// the first error returned or panicked by any foreground fiber, or nil.
func (l *Loop) Run() error {
	l.state.Store(StateRunning)
	for {
		l.scheduler.Run()
		if l.scheduler.ForegroundCount() == 0 {
			l.state.Store(StateTerminated)
			return l.scheduler.FirstError()
		}

		l.state.Store(StateSleeping)
		if err := l.poller.GetReadyWatchers(l.clock, l.resumeWatcher); err != nil {
			l.logger.Log(LogEntry{Level: LevelError, Category: "poller", LoopID: l.id, Message: "epoll_wait failed", Err: err})
		}
		l.state.Store(StateRunning)

		l.clock.RemoveExpiredTimers(l.resumeTimer)
	}
}

// Shutdown tears down the async bridge's thread pool and trigger fiber and
// releases the epoll fd. Call once, after Run has returned (or concurrently
// to force early termination by first interrupting every outstanding
// fiber — Shutdown itself only tears down runtime-owned resources, not
// caller-spawned fibers).
func (l *Loop) Shutdown() {
	l.state.Store(StateTerminating)
	l.async.close()
	_ = l.poller.Close()
	l.state.Store(StateTerminated)
}

func (l *Loop) resumeWatcher(w *Watcher, ready IOCondition) {
	w.ready = ready
	l.scheduler.Resume(w.fiber)
}

func (l *Loop) resumeTimer(t *Timer) {
	if t.timedOut != nil {
		*t.timedOut = true
	}
	l.scheduler.Resume(t.fiber)
}

// registerFD detects whether fd is a socket (via fstat), forces the real
// kernel O_NONBLOCK flag, and — for sockets — seeds FileOptions.readTimeout/
// writeTimeout from any SO_RCVTIMEO/SO_SNDTIMEO already configured, so a fd
// created already blocking with timeouts set keeps them logically after
// registration. Grounded on original_source/src/loop.cc's registerFD.
func (l *Loop) registerFD(fd int) (FileOptions, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return FileOptions{}, wrapSyscallErr("fstat", fd, err)
	}
	isSocket := st.Mode&unix.S_IFMT == unix.S_IFSOCK

	wasBlocking, err := getBlocking(fd)
	if err != nil {
		return FileOptions{}, err
	}
	if err := setBlocking(fd, false); err != nil {
		return FileOptions{}, err
	}

	opts := FileOptions{isSocket: isSocket, blocking: wasBlocking, readTimeout: -1, writeTimeout: -1}
	if isSocket {
		if d, err := getSockTimeout(fd, unix.SO_RCVTIMEO); err == nil {
			opts.readTimeout = d
		}
		if d, err := getSockTimeout(fd, unix.SO_SNDTIMEO); err == nil {
			opts.writeTimeout = d
		}
	}

	if err := l.poller.CreateContext(fd, opts); err != nil {
		return FileOptions{}, err
	}
	return opts, nil
}

// waitForFile is the central suspension primitive — spec.md §4.4. timeout
// < 0 suspends indefinitely on cond alone; timeout == 0 never suspends,
// returning immediately; timeout > 0 arms both a watcher and a timer,
// whichever fires first wins and the loser is disarmed before returning.
// The watcher is always removed on the way out regardless of which fired;
// the timer is only removed if it never fired — mirrors loop.cc's
// waitForFile scope-guard structure exactly.
func (l *Loop) waitForFile(f *Fiber, fd int, cond IOCondition, timeout time.Duration) (IOCondition, error) {
	if timeout == 0 {
		return CondNo, nil
	}

	w := &Watcher{fd: fd, conditions: cond, fiber: f.Handle()}
	if err := l.poller.AddWatcher(w); err != nil {
		return CondNo, err
	}

	var timedOut bool
	var t *Timer
	if timeout > 0 {
		t = &Timer{fiber: f.Handle(), timedOut: &timedOut}
		l.clock.AddTimer(t, timeout)
	}

	interrupted := f.Suspend()

	_ = l.poller.RemoveWatcher(w)
	if t != nil && !timedOut {
		l.clock.RemoveTimer(t)
	}

	if interrupted {
		return CondNo, ErrInterrupted
	}
	if timedOut {
		return CondNo, nil
	}
	return w.ready, nil
}

// setDelay suspends f for duration alone, no watcher involved — spec.md
// §4.4. duration < 0 suspends forever with no wake mechanism (a base case,
// only useful composed with an external InterruptFiber).
func (l *Loop) setDelay(f *Fiber, duration time.Duration) error {
	if duration < 0 {
		return boolToInterruptErr(f.Suspend())
	}

	var timedOut bool
	t := &Timer{fiber: f.Handle(), timedOut: &timedOut}
	l.clock.AddTimer(t, duration)

	interrupted := f.Suspend()
	if !timedOut {
		l.clock.RemoveTimer(t)
	}
	return boolToInterruptErr(interrupted)
}

func boolToInterruptErr(interrupted bool) error {
	if interrupted {
		return ErrInterrupted
	}
	return nil
}

// Sleep suspends f for d — the original's usleep-style delay, supplemented
// as SPEC_FULL.md §9 names it.
func (l *Loop) Sleep(f *Fiber, d time.Duration) error {
	return l.setDelay(f, d)
}

// readFile retries syscall until it succeeds, fails with a non-EAGAIN
// error, or the fd's read deadline elapses — the template Read/Readv/Recv
// share. Grounded on loop.cc's readFile.
func (l *Loop) readFile(f *Fiber, fd int, syscall func() (int, error)) (int, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, errNotManaged(fd)
	}
	for {
		n, err := syscall()
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return n, wrapSyscallErr("read", fd, err)
		}
		if !tag.blocking {
			return n, wrapSyscallErr("read", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondIn, tag.readTimeout)
		if werr != nil {
			return -1, werr
		}
		if cond == CondNo {
			return -1, wrapSyscallErr("read", fd, unix.EAGAIN)
		}
	}
}

// writeFile is readFile's write-direction twin.
func (l *Loop) writeFile(f *Fiber, fd int, syscall func() (int, error)) (int, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, errNotManaged(fd)
	}
	for {
		n, err := syscall()
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return n, wrapSyscallErr("write", fd, err)
		}
		if !tag.blocking {
			return n, wrapSyscallErr("write", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondOut, tag.writeTimeout)
		if werr != nil {
			return -1, werr
		}
		if cond == CondNo {
			return -1, wrapSyscallErr("write", fd, unix.EAGAIN)
		}
	}
}

// Open opens path and registers the resulting fd with the loop — spec.md
// §4.4/§6. O_NONBLOCK is forced on regardless of what flags requests; the
// caller's logical blocking mode defaults to blocking (matching open(2)'s
// own default absent O_NONBLOCK in flags).
func (l *Loop) Open(path string, flags int, perm uint32) (int, error) {
	var fd int
	for {
		var err error
		fd, err = unix.Open(path, flags|unix.O_NONBLOCK, perm)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return -1, wrapSyscallErr("open", -1, err)
	}
	if _, err := l.registerFD(fd); err != nil {
		_ = closeFD(fd)
		return -1, err
	}
	if tag, ok := l.poller.ContextTag(fd); ok {
		tag.blocking = flags&unix.O_NONBLOCK == 0
	}
	return fd, nil
}

// Fcntl virtually projects/sets O_NONBLOCK against the fd's logical
// blocking mode for F_GETFL/F_SETFL (the real kernel flag is always
// non-blocking); every other command passes through to the real syscall.
func (l *Loop) Fcntl(fd int, cmd int, arg int) (int, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, errNotManaged(fd)
	}
	switch cmd {
	case unix.F_GETFL:
		realFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return -1, wrapSyscallErr("fcntl", fd, err)
		}
		flags := realFlags &^ unix.O_NONBLOCK
		if !tag.blocking {
			flags |= unix.O_NONBLOCK
		}
		return flags, nil
	case unix.F_SETFL:
		tag.blocking = arg&unix.O_NONBLOCK == 0
		return 0, nil
	default:
		r, err := unix.FcntlInt(uintptr(fd), cmd, arg)
		if err != nil {
			return -1, wrapSyscallErr("fcntl", fd, err)
		}
		return r, nil
	}
}

// Pipe2 creates a pipe and registers both ends — spec.md §4.4's pipe2 entry.
func (l *Loop) Pipe2(fds *[2]int, flags int) error {
	var raw [2]int
	if err := unix.Pipe2(raw[:], flags|unix.O_NONBLOCK); err != nil {
		return wrapSyscallErr("pipe2", -1, err)
	}
	if _, err := l.registerFD(raw[0]); err != nil {
		_ = closeFD(raw[0])
		_ = closeFD(raw[1])
		return err
	}
	if _, err := l.registerFD(raw[1]); err != nil {
		_ = l.poller.DestroyContext(raw[0])
		_ = closeFD(raw[0])
		_ = closeFD(raw[1])
		return err
	}
	for _, fd := range raw {
		if tag, ok := l.poller.ContextTag(fd); ok {
			tag.blocking = flags&unix.O_NONBLOCK == 0
		}
	}
	*fds = raw
	return nil
}

// Pipe is the original's zero-flag pipe2 convenience wrapper —
// SPEC_FULL.md §9.
func (l *Loop) Pipe(fds *[2]int) error {
	return l.Pipe2(fds, 0)
}

// Read reads from fd into p, suspending on CondIn as needed.
func (l *Loop) Read(f *Fiber, fd int, p []byte) (int, error) {
	return l.readFile(f, fd, func() (int, error) { return unix.Read(fd, p) })
}

// Write writes p to fd, suspending on CondOut as needed.
func (l *Loop) Write(f *Fiber, fd int, p []byte) (int, error) {
	return l.writeFile(f, fd, func() (int, error) { return unix.Write(fd, p) })
}

// Readv is Read's vectored form.
func (l *Loop) Readv(f *Fiber, fd int, iovs [][]byte) (int, error) {
	return l.readFile(f, fd, func() (int, error) { return unix.Readv(fd, iovs) })
}

// Writev is Write's vectored form.
func (l *Loop) Writev(f *Fiber, fd int, iovs [][]byte) (int, error) {
	return l.writeFile(f, fd, func() (int, error) { return unix.Writev(fd, iovs) })
}

// Socket creates a socket and registers it — spec.md §4.4/§6.
func (l *Loop) Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, proto)
	if err != nil {
		return -1, wrapSyscallErr("socket", -1, err)
	}
	if _, err := l.registerFD(fd); err != nil {
		_ = closeFD(fd)
		return -1, err
	}
	if tag, ok := l.poller.ContextTag(fd); ok {
		tag.blocking = typ&unix.SOCK_NONBLOCK == 0
	}
	return fd, nil
}

// Getsockopt reads fd's virtualized SO_RCVTIMEO/SO_SNDTIMEO; no other
// option is interceptable at this layer (use unix.GetsockoptInt et al.
// directly on fd for anything else — the Loop never hides the real fd).
func (l *Loop) Getsockopt(fd, level, opt int) (time.Duration, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return 0, errNotManaged(fd)
	}
	if !tag.isSocket {
		return 0, ErrNotSocket
	}
	if level != unix.SOL_SOCKET {
		return 0, wrapSyscallErr("getsockopt", fd, unix.EINVAL)
	}
	switch opt {
	case unix.SO_RCVTIMEO:
		return tag.readTimeout, nil
	case unix.SO_SNDTIMEO:
		return tag.writeTimeout, nil
	default:
		return 0, wrapSyscallErr("getsockopt", fd, unix.EINVAL)
	}
}

// Setsockopt sets fd's virtualized SO_RCVTIMEO/SO_SNDTIMEO.
func (l *Loop) Setsockopt(fd, level, opt int, timeout time.Duration) error {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return errNotManaged(fd)
	}
	if !tag.isSocket {
		return ErrNotSocket
	}
	if level != unix.SOL_SOCKET {
		return wrapSyscallErr("setsockopt", fd, unix.EINVAL)
	}
	switch opt {
	case unix.SO_RCVTIMEO:
		tag.readTimeout = timeout
	case unix.SO_SNDTIMEO:
		tag.writeTimeout = timeout
	default:
		return wrapSyscallErr("setsockopt", fd, unix.EINVAL)
	}
	return nil
}

// Accept4 accepts a connection on the listening socket fd, retrying EAGAIN
// via waitForFile on CondIn; the accepted fd inherits the listener's
// configured read/write timeouts — spec.md §6.
func (l *Loop) Accept4(f *Fiber, fd int, flags int) (int, unix.Sockaddr, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, nil, errNotManaged(fd)
	}
	if !tag.isSocket {
		return -1, nil, ErrNotSocket
	}
	for {
		nfd, sa, err := unix.Accept4(fd, flags|unix.SOCK_NONBLOCK)
		if err == nil {
			if _, rerr := l.registerFD(nfd); rerr != nil {
				_ = closeFD(nfd)
				return -1, nil, rerr
			}
			if newTag, ok := l.poller.ContextTag(nfd); ok {
				newTag.blocking = flags&unix.SOCK_NONBLOCK == 0
				newTag.readTimeout = tag.readTimeout
				newTag.writeTimeout = tag.writeTimeout
			}
			return nfd, sa, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return -1, nil, wrapSyscallErr("accept4", fd, err)
		}
		if !tag.blocking {
			return -1, nil, wrapSyscallErr("accept4", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondIn, tag.readTimeout)
		if werr != nil {
			return -1, nil, werr
		}
		if cond == CondNo {
			return -1, nil, wrapSyscallErr("accept4", fd, unix.EAGAIN)
		}
	}
}

// Accept is the original's zero-flag accept4 convenience wrapper —
// SPEC_FULL.md §9.
func (l *Loop) Accept(f *Fiber, fd int) (int, unix.Sockaddr, error) {
	return l.Accept4(f, fd, 0)
}

// Connect connects fd to sa, handling EINPROGRESS by suspending on CondOut
// and then checking SO_ERROR — spec.md §6.
func (l *Loop) Connect(f *Fiber, fd int, sa unix.Sockaddr) error {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return errNotManaged(fd)
	}
	if !tag.isSocket {
		return ErrNotSocket
	}
	for {
		err := unix.Connect(fd, sa)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EINPROGRESS {
			return wrapSyscallErr("connect", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondOut, tag.writeTimeout)
		if werr != nil {
			return werr
		}
		if cond == CondNo {
			return wrapSyscallErr("connect", fd, unix.EAGAIN)
		}
		serr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			return wrapSyscallErr("getsockopt", fd, gerr)
		}
		if serr != 0 {
			return wrapSyscallErr("connect", fd, unix.Errno(serr))
		}
		return nil
	}
}

// Recv reads from socket fd, honoring MSG_DONTWAIT (no suspension) and
// MSG_WAITALL (accumulate until p is full, returning a partial count
// instead of an error if any bytes were read before EOF/an error) —
// spec.md §6.
func (l *Loop) Recv(f *Fiber, fd int, p []byte, flags int) (int, error) {
	if flags&unix.MSG_WAITALL != 0 {
		return l.recvWaitAll(f, fd, p, flags&^unix.MSG_WAITALL)
	}
	return l.recvOnce(f, fd, p, flags)
}

func (l *Loop) recvOnce(f *Fiber, fd int, p []byte, flags int) (int, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, errNotManaged(fd)
	}
	if !tag.isSocket {
		return -1, ErrNotSocket
	}
	dontWait := flags&unix.MSG_DONTWAIT != 0
	flags &^= unix.MSG_DONTWAIT
	for {
		n, _, err := unix.Recvfrom(fd, p, flags)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return -1, wrapSyscallErr("recvfrom", fd, err)
		}
		if dontWait || !tag.blocking {
			return -1, wrapSyscallErr("recvfrom", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondIn, tag.readTimeout)
		if werr != nil {
			return -1, werr
		}
		if cond == CondNo {
			return -1, wrapSyscallErr("recvfrom", fd, unix.EAGAIN)
		}
	}
}

func (l *Loop) recvWaitAll(f *Fiber, fd int, p []byte, flags int) (int, error) {
	var total int
	for total < len(p) {
		n, err := l.recvOnce(f, fd, p[total:], flags)
		if n > 0 {
			total += n
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// RecvFrom is Recv plus the sender's address, for unconnected datagram
// sockets — spec.md §6.
func (l *Loop) RecvFrom(f *Fiber, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, nil, errNotManaged(fd)
	}
	if !tag.isSocket {
		return -1, nil, ErrNotSocket
	}
	dontWait := flags&unix.MSG_DONTWAIT != 0
	flags &^= unix.MSG_DONTWAIT
	for {
		n, from, err := unix.Recvfrom(fd, p, flags)
		if err == nil {
			return n, from, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return -1, nil, wrapSyscallErr("recvfrom", fd, err)
		}
		if dontWait || !tag.blocking {
			return -1, nil, wrapSyscallErr("recvfrom", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondIn, tag.readTimeout)
		if werr != nil {
			return -1, nil, werr
		}
		if cond == CondNo {
			return -1, nil, wrapSyscallErr("recvfrom", fd, unix.EAGAIN)
		}
	}
}

// Send writes p to socket fd, honoring MSG_DONTWAIT — spec.md §6.
func (l *Loop) Send(f *Fiber, fd int, p []byte, flags int) (int, error) {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return -1, errNotManaged(fd)
	}
	if !tag.isSocket {
		return -1, ErrNotSocket
	}
	dontWait := flags&unix.MSG_DONTWAIT != 0
	flags &^= unix.MSG_DONTWAIT
	for {
		err := unix.Send(fd, p, flags)
		if err == nil {
			return len(p), nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return -1, wrapSyscallErr("send", fd, err)
		}
		if dontWait || !tag.blocking {
			return -1, wrapSyscallErr("send", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondOut, tag.writeTimeout)
		if werr != nil {
			return -1, werr
		}
		if cond == CondNo {
			return -1, wrapSyscallErr("send", fd, unix.EAGAIN)
		}
	}
}

// SendTo writes p to address to on unconnected socket fd.
func (l *Loop) SendTo(f *Fiber, fd int, p []byte, flags int, to unix.Sockaddr) error {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return errNotManaged(fd)
	}
	if !tag.isSocket {
		return ErrNotSocket
	}
	dontWait := flags&unix.MSG_DONTWAIT != 0
	flags &^= unix.MSG_DONTWAIT
	for {
		err := unix.Sendto(fd, p, flags, to)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if !IsEAGAIN(err) {
			return wrapSyscallErr("sendto", fd, err)
		}
		if dontWait || !tag.blocking {
			return wrapSyscallErr("sendto", fd, err)
		}
		cond, werr := l.waitForFile(f, fd, CondOut, tag.writeTimeout)
		if werr != nil {
			return werr
		}
		if cond == CondNo {
			return wrapSyscallErr("sendto", fd, unix.EAGAIN)
		}
	}
}

// Close destroys fd's poller context, restores its original blocking mode
// and (for sockets) SO_RCVTIMEO/SO_SNDTIMEO before the real close(2) —
// restore failures are fatal, since they would otherwise surface as a
// silent behavior change on an fd the caller believes it fully owns again.
// Grounded on loop.cc's close.
func (l *Loop) Close(fd int) error {
	tag, ok := l.poller.ContextTag(fd)
	if !ok {
		return errNotManaged(fd)
	}
	opts := *tag

	if err := l.poller.DestroyContext(fd); err != nil {
		return err
	}

	if err := setBlocking(fd, opts.blocking); err != nil {
		l.logger.Log(LogEntry{Level: LevelError, Category: "loop", LoopID: l.id, Message: "restoring blocking mode failed", Err: err})
		l.fatal(err)
	}
	if opts.isSocket {
		if err := setSockTimeout(fd, unix.SO_RCVTIMEO, opts.readTimeout); err != nil {
			l.logger.Log(LogEntry{Level: LevelError, Category: "loop", LoopID: l.id, Message: "restoring SO_RCVTIMEO failed", Err: err})
			l.fatal(err)
		}
		if err := setSockTimeout(fd, unix.SO_SNDTIMEO, opts.writeTimeout); err != nil {
			l.logger.Log(LogEntry{Level: LevelError, Category: "loop", LoopID: l.id, Message: "restoring SO_SNDTIMEO failed", Err: err})
			l.fatal(err)
		}
	}

	return wrapSyscallErr("close", fd, closeFD(fd))
}

// Poll mirrors poll(2) restricted to 0 or 1 pollfds — spec.md §6. An empty
// fds degenerates to a pure timeout wait (setDelay); a single entry arms
// one waitForFile, translating POLLIN/POLLOUT/POLLRDHUP/POLLPRI to and from
// IOCondition, with POLLERR/POLLHUP always included in Revents when the
// kernel reports them. Any other length returns ENOSYS — multiplexing more
// than one fd from a single suspension point isn't expressible with this
// runtime's one-watcher-per-wait model.
func (l *Loop) Poll(f *Fiber, fds []unix.PollFd, timeout time.Duration) (int, error) {
	switch len(fds) {
	case 0:
		if err := l.setDelay(f, timeout); err != nil {
			return 0, err
		}
		return 0, nil
	case 1:
		ready, err := l.waitForFile(f, int(fds[0].Fd), pollEventsToCondition(fds[0].Events), timeout)
		if err != nil {
			return 0, err
		}
		fds[0].Revents = conditionToPollEvents(ready)
		if fds[0].Revents == 0 {
			return 0, nil
		}
		return 1, nil
	default:
		return -1, wrapSyscallErr("poll", -1, unix.ENOSYS)
	}
}

func pollEventsToCondition(events int16) IOCondition {
	var c IOCondition
	if events&unix.POLLIN != 0 {
		c |= CondIn
	}
	if events&unix.POLLOUT != 0 {
		c |= CondOut
	}
	if events&unix.POLLRDHUP != 0 {
		c |= CondRdHup
	}
	if events&unix.POLLPRI != 0 {
		c |= CondPri
	}
	return c
}

func conditionToPollEvents(c IOCondition) int16 {
	var events int16
	if c&CondIn != 0 {
		events |= unix.POLLIN
	}
	if c&CondOut != 0 {
		events |= unix.POLLOUT
	}
	if c&CondRdHup != 0 {
		events |= unix.POLLRDHUP
	}
	if c&CondPri != 0 {
		events |= unix.POLLPRI
	}
	if c&CondErr != 0 {
		events |= unix.POLLERR
	}
	if c&CondHup != 0 {
		events |= unix.POLLHUP
	}
	return events
}

// getBlocking reports fd's real kernel O_NONBLOCK state, read once at
// registerFD time to seed FileOptions.blocking before it gets forced off.
func getBlocking(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, wrapSyscallErr("fcntl", fd, err)
	}
	return flags&unix.O_NONBLOCK == 0, nil
}

func setBlocking(fd int, blocking bool) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return wrapSyscallErr("fcntl", fd, err)
	}
	if blocking {
		flags &^= unix.O_NONBLOCK
	} else {
		flags |= unix.O_NONBLOCK
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags); err != nil {
		return wrapSyscallErr("fcntl", fd, err)
	}
	return nil
}

func getSockTimeout(fd, opt int) (time.Duration, error) {
	tv, err := unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, opt)
	if err != nil {
		return -1, wrapSyscallErr("getsockopt", fd, err)
	}
	if tv.Sec == 0 && tv.Usec == 0 {
		return -1, nil
	}
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond, nil
}

func setSockTimeout(fd, opt int, d time.Duration) error {
	tv := durationToTimeval(d)
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv); err != nil {
		return wrapSyscallErr("setsockopt", fd, err)
	}
	return nil
}

func durationToTimeval(d time.Duration) unix.Timeval {
	if d < 0 {
		return unix.Timeval{}
	}
	return unix.NsecToTimeval(d.Nanoseconds())
}
