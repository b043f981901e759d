package netfiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aldersgate-run/fiberun"
)

func newTestLoop(t *testing.T) *fiberun.Loop {
	t.Helper()
	loop, err := fiberun.NewLoop()
	require.NoError(t, err)
	t.Cleanup(loop.Shutdown)
	return loop
}

func runLoop(t *testing.T, loop *fiberun.Loop, timeout time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- loop.Run() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("loop.Run did not return within timeout")
		return nil
	}
}
