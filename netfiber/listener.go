package netfiber

import (
	"net"

	"github.com/aldersgate-run/fiberun"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking, loop-managed TCP listener.
type Listener struct {
	loop *fiberun.Loop
	fd   int
	addr *net.TCPAddr
}

// Listen creates a TCP listener bound to addr and registers it with loop.
func Listen(loop *fiberun.Loop, network, addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := loop.Socket(domainFor(tcpAddr.IP), unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	sa, err := sockaddrFromIPPort(tcpAddr.IP, tcpAddr.Port)
	if err != nil {
		_ = loop.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = loop.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	return &Listener{loop: loop, fd: fd, addr: sockaddrToTCPAddr(bound)}, nil
}

// Accept suspends the calling fiber until a connection arrives.
func (ln *Listener) Accept(f *fiberun.Fiber) (*Conn, error) {
	nfd, sa, err := ln.loop.Accept(f, ln.fd)
	if err != nil {
		return nil, err
	}
	return &Conn{loop: ln.loop, fd: nfd, remote: sockaddrToTCPAddr(sa)}, nil
}

// Close releases the listening socket.
func (ln *Listener) Close() error { return ln.loop.Close(ln.fd) }

// Addr returns the listener's bound address.
func (ln *Listener) Addr() net.Addr { return ln.addr }
