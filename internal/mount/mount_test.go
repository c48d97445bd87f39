package mount

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadyNotifierPrefersFIFOOverFD(t *testing.T) {
	n := readyNotifier(Options{ReadyFD: 3, ReadyFIFO: "/tmp/whatever"})
	require.NotNil(t, n)
	// A FIFO path that doesn't exist rejects Notify; a bare fd of 3 (not
	// actually open in this test process) would instead try to write a byte
	// to and close that fd. The distinguishing behavior proves which branch
	// fired.
	require.Error(t, n.Notify())
}

func TestReadyNotifierFallsBackToFD(t *testing.T) {
	n := readyNotifier(Options{ReadyFD: -1})
	require.NoError(t, n.Notify()) // -1 is the documented no-op fd
}

func TestInterruptibleContextCancelsOnSIGTERM(t *testing.T) {
	ctx, cancel := InterruptibleContext()
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not canceled after SIGTERM")
	}
}

func TestInterruptibleContextCancelFuncCancelsDirectly(t *testing.T) {
	ctx, cancel := InterruptibleContext()
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled by its own CancelFunc")
	}
}
