package netfiber

import (
	"net"

	"github.com/aldersgate-run/fiberun"
	"golang.org/x/sys/unix"
)

// PacketConn is a non-blocking, loop-managed UDP socket.
type PacketConn struct {
	loop *fiberun.Loop
	fd   int
	addr *net.UDPAddr
}

// ListenPacket creates a UDP socket bound to addr and registers it with loop.
func ListenPacket(loop *fiberun.Loop, network, addr string) (*PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := loop.Socket(domainFor(udpAddr.IP), unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}

	sa, err := sockaddrFromIPPort(udpAddr.IP, udpAddr.Port)
	if err != nil {
		_ = loop.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	return &PacketConn{loop: loop, fd: fd, addr: sockaddrToUDPAddr(bound)}, nil
}

// LocalAddr returns the socket's bound address.
func (c *PacketConn) LocalAddr() net.Addr { return c.addr }

// ReadFrom reads one datagram, suspending the calling fiber as needed.
func (c *PacketConn) ReadFrom(f *fiberun.Fiber, p []byte) (int, net.Addr, error) {
	n, sa, err := c.loop.RecvFrom(f, c.fd, p, 0)
	if err != nil {
		return n, nil, err
	}
	return n, sockaddrToUDPAddr(sa), nil
}

// WriteTo writes one datagram to addr, suspending the calling fiber as needed.
func (c *PacketConn) WriteTo(f *fiberun.Fiber, p []byte, addr *net.UDPAddr) error {
	sa, err := sockaddrFromIPPort(addr.IP, addr.Port)
	if err != nil {
		return err
	}
	return c.loop.SendTo(f, c.fd, p, 0, sa)
}

// Close closes the socket.
func (c *PacketConn) Close() error { return c.loop.Close(c.fd) }
