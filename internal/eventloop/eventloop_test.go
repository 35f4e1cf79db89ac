package eventloop_test

import (
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otusnet/pmtud-relay/internal/eventloop"
)

func TestRunInvokesHandlerOnCaptureReadinessAndStopsOnSIGTERM(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("Linux-specific epoll test")
	}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var calls atomic.Int32
	drained := make(chan struct{}, 1)

	loop, err := eventloop.New(int(r.Fd()), func() error {
		buf := make([]byte, 8)
		n, _ := syscall.Read(int(r.Fd()), buf)
		if n > 0 {
			calls.Add(1)
			select {
			case drained <- struct{}{}:
			default:
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer loop.Close()

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked for capture readiness")
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit after SIGTERM")
	}

	require.GreaterOrEqual(t, calls.Load(), int32(1))
}
