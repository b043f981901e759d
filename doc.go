// Package fiberun is a single-goroutine, cooperative I/O runtime for Linux.
//
// It lets application code write ordinary-looking blocking calls (Read,
// Write, Accept, Connect, Open, LookupHost, …) from inside a [Fiber] while
// the [Loop] transparently multiplexes all I/O over an epoll-based poller.
// Calls with no non-blocking kernel equivalent — DNS resolution, synchronous
// regular-file I/O — are off-loaded to a fixed-size worker pool and bridged
// back to the calling fiber through the runtime's internal async bridge.
//
// # Architecture
//
// [Loop] is the hub: it owns a [Scheduler] (fiber run-queues), a [Poller]
// (epoll registrations), a [Clock] (timer min-heap) and a [ThreadPool]
// (worker off-load). A [Fiber] suspends by calling a Loop operation that
// arms a watcher and/or a timer and parks until the scheduler resumes it.
//
// # Platform support
//
// Linux only, using epoll and eventfd via golang.org/x/sys/unix. This is a
// deliberate scope boundary, not an oversight — see DESIGN.md.
//
// # Concurrency
//
// [Loop.Run] must be called from exactly one goroutine and drives the
// scheduler, poller and clock from that goroutine alone. [Loop.Spawn] may
// be called to seed fibers before Run, and from fibers running on the loop;
// it is not safe from other goroutines while Run executes. ThreadPool
// workers reach the loop only through the pool's eventfd.
//
// # Usage
//
//	loop, err := fiberun.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Shutdown()
//
//	loop.Spawn(func(f *fiberun.Fiber) error {
//	    fd, err := loop.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
//	    ...
//	    return nil
//	}, true)
//
//	if err := loop.Run(); err != nil {
//	    log.Fatal(err)
//	}
package fiberun
