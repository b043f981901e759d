package netfiber

import (
	"net"
	"time"

	"github.com/aldersgate-run/fiberun"
	"golang.org/x/sys/unix"
)

// Conn is a non-blocking, loop-managed TCP connection.
type Conn struct {
	loop   *fiberun.Loop
	fd     int
	remote net.Addr
}

// Dial connects to addr, suspending the calling fiber until the connection
// completes or fails.
func Dial(f *fiberun.Fiber, loop *fiberun.Loop, network, addr string) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := loop.Socket(domainFor(tcpAddr.IP), unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	sa, err := sockaddrFromIPPort(tcpAddr.IP, tcpAddr.Port)
	if err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	if err := loop.Connect(f, fd, sa); err != nil {
		_ = loop.Close(fd)
		return nil, err
	}

	return &Conn{loop: loop, fd: fd, remote: tcpAddr}, nil
}

// Read reads from the connection, suspending the calling fiber as needed.
func (c *Conn) Read(f *fiberun.Fiber, p []byte) (int, error) { return c.loop.Read(f, c.fd, p) }

// Write writes to the connection, suspending the calling fiber as needed.
func (c *Conn) Write(f *fiberun.Fiber, p []byte) (int, error) { return c.loop.Write(f, c.fd, p) }

// Close closes the connection.
func (c *Conn) Close() error { return c.loop.Close(c.fd) }

// RemoteAddr returns the peer address captured at Accept/Dial time.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// SetReadTimeout and SetWriteTimeout set the connection's virtualized
// SO_RCVTIMEO/SO_SNDTIMEO, consulted at each suspension point inside
// Read/Write — there is no absolute-deadline concept here, only a
// duration-from-now timeout, since that's what the underlying Loop
// operations take.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	return c.loop.Setsockopt(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, d)
}

func (c *Conn) SetWriteTimeout(d time.Duration) error {
	return c.loop.Setsockopt(c.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, d)
}
