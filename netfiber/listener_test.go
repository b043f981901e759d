package netfiber

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aldersgate-run/fiberun"
)

func TestListenBindsEphemeralPortReflectedInAddr(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotEqual(t, 0, tcpAddr.Port)
}

func TestTCPListenDialEchoRoundTrip(t *testing.T) {
	loop := newTestLoop(t)

	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var got string
	var serverErr, clientErr error

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, aerr := ln.Accept(f)
		if aerr != nil {
			serverErr = aerr
			return aerr
		}
		defer conn.Close()

		buf := make([]byte, 32)
		n, rerr := conn.Read(f, buf)
		if rerr != nil {
			serverErr = rerr
			return rerr
		}
		_, werr := conn.Write(f, buf[:n])
		serverErr = werr
		return werr
	}, true)

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, derr := Dial(f, loop, "tcp", ln.Addr().String())
		if derr != nil {
			clientErr = derr
			return derr
		}
		defer conn.Close()

		if _, werr := conn.Write(f, []byte("ping")); werr != nil {
			clientErr = werr
			return werr
		}
		buf := make([]byte, 32)
		n, rerr := conn.Read(f, buf)
		got = string(buf[:n])
		clientErr = rerr
		return rerr
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.NoError(t, serverErr)
	assert.NoError(t, clientErr)
	assert.Equal(t, "ping", got)
}

func TestTCPConnRemoteAddrMatchesListener(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var remote string

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, aerr := ln.Accept(f)
		if aerr != nil {
			return aerr
		}
		return conn.Close()
	}, true)

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, derr := Dial(f, loop, "tcp", ln.Addr().String())
		if derr != nil {
			return derr
		}
		defer conn.Close()
		remote = conn.RemoteAddr().String()
		return nil
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.Equal(t, ln.Addr().String(), remote)
}

func TestListenAcceptMultipleConnectionsSequentially(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	const clients = 3
	accepted := 0

	loop.Spawn(func(f *fiberun.Fiber) error {
		for i := 0; i < clients; i++ {
			conn, aerr := ln.Accept(f)
			if aerr != nil {
				return aerr
			}
			accepted++
			conn.Close()
		}
		return nil
	}, true)

	for i := 0; i < clients; i++ {
		loop.Spawn(func(f *fiberun.Fiber) error {
			conn, derr := Dial(f, loop, "tcp", ln.Addr().String())
			if derr != nil {
				return derr
			}
			return conn.Close()
		}, true)
	}

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.Equal(t, clients, accepted)
}
