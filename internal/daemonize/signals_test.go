package daemonize

import (
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func discardLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log := logging.MustGetLogger("daemonize-test")
	backend := logging.NewLogBackend(io.Discard, "", 0)
	logging.SetBackend(backend)
	return log
}

func TestWatchSignalsShutsDownOnSIGTERM(t *testing.T) {
	log := discardLogger(t)

	var shutdownCalled bool
	stop := WatchSignals(log, func() {
		shutdownCalled = true
	})

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case <-stop:
	case <-time.After(2 * time.Second):
		t.Fatalf("WatchSignals did not deliver on SIGTERM within the timeout")
	}

	if !shutdownCalled {
		t.Fatalf("onShutdown was not invoked before the termination signal was delivered")
	}
}
