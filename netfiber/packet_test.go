package netfiber

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aldersgate-run/fiberun"
)

func TestUDPListenPacketReadFromWriteToRoundTrip(t *testing.T) {
	loop := newTestLoop(t)

	server, err := ListenPacket(loop, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := ListenPacket(loop, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	serverAddr := server.LocalAddr().(*net.UDPAddr)

	var got string
	var fromAddr net.Addr
	var serverErr, clientErr error

	loop.Spawn(func(f *fiberun.Fiber) error {
		buf := make([]byte, 32)
		n, from, rerr := server.ReadFrom(f, buf)
		if rerr != nil {
			serverErr = rerr
			return rerr
		}
		fromAddr = from
		werr := server.WriteTo(f, buf[:n], from.(*net.UDPAddr))
		serverErr = werr
		return werr
	}, true)

	loop.Spawn(func(f *fiberun.Fiber) error {
		if werr := client.WriteTo(f, []byte("ping"), serverAddr); werr != nil {
			clientErr = werr
			return werr
		}
		buf := make([]byte, 32)
		n, _, rerr := client.ReadFrom(f, buf)
		got = string(buf[:n])
		clientErr = rerr
		return rerr
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	assert.NoError(t, serverErr)
	assert.NoError(t, clientErr)
	assert.Equal(t, "ping", got)
	require.NotNil(t, fromAddr)
	assert.Equal(t, client.LocalAddr().(*net.UDPAddr).Port, fromAddr.(*net.UDPAddr).Port)
}

func TestUDPReadFromReportsSenderAddress(t *testing.T) {
	loop := newTestLoop(t)

	recv, err := ListenPacket(loop, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer recv.Close()

	send, err := ListenPacket(loop, "udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer send.Close()

	recvAddr := recv.LocalAddr().(*net.UDPAddr)
	sendAddr := send.LocalAddr().(*net.UDPAddr)

	var gotFrom net.Addr

	loop.Spawn(func(f *fiberun.Fiber) error {
		buf := make([]byte, 16)
		_, from, rerr := recv.ReadFrom(f, buf)
		gotFrom = from
		return rerr
	}, true)

	loop.Spawn(func(f *fiberun.Fiber) error {
		return send.WriteTo(f, []byte("hi"), recvAddr)
	}, true)

	require.NoError(t, runLoop(t, loop, 5*time.Second))
	require.NotNil(t, gotFrom)
	assert.Equal(t, sendAddr.Port, gotFrom.(*net.UDPAddr).Port)
}
