package netfiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aldersgate-run/fiberun"
)

func TestTCPSetReadTimeoutCausesEAGAIN(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, aerr := ln.Accept(f)
		if aerr != nil {
			return aerr
		}
		defer conn.Close()
		// Hold the connection open without writing anything, long enough
		// to outlast the client's read timeout below.
		return loop.Sleep(f, 150*time.Millisecond)
	}, true)

	var readErr error
	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, derr := Dial(f, loop, "tcp", ln.Addr().String())
		if derr != nil {
			return derr
		}
		defer conn.Close()
		require.NoError(t, conn.SetReadTimeout(30*time.Millisecond))

		buf := make([]byte, 4)
		_, readErr = conn.Read(f, buf)
		return nil
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.True(t, fiberun.IsEAGAIN(readErr))
}

func TestTCPSetWriteTimeoutIsAppliedWithoutError(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, aerr := ln.Accept(f)
		if aerr != nil {
			return aerr
		}
		defer conn.Close()
		buf := make([]byte, 4)
		_, rerr := conn.Read(f, buf)
		return rerr
	}, true)

	var setErr, writeErr error
	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, derr := Dial(f, loop, "tcp", ln.Addr().String())
		if derr != nil {
			return derr
		}
		defer conn.Close()
		setErr = conn.SetWriteTimeout(500 * time.Millisecond)
		_, writeErr = conn.Write(f, []byte("x"))
		return nil
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.NoError(t, setErr)
	assert.NoError(t, writeErr)
}

func TestDialToNonListeningPortFails(t *testing.T) {
	loop := newTestLoop(t)

	// Bind and close a listener first to reserve then free a port that
	// nothing is listening on.
	ln, err := Listen(loop, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var dialErr error
	loop.Spawn(func(f *fiberun.Fiber) error {
		_, dialErr = Dial(f, loop, "tcp", addr)
		return nil
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.Error(t, dialErr)
}
