package daemonize

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
)

// unexpectedSignals mirrors edna_main.cpp's signal_unexpected table
// without SIGSEGV: these are logged and left to continue running.
var unexpectedSignals = []os.Signal{
	syscall.SIGABRT,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGILL,
	syscall.SIGPIPE,
	syscall.SIGQUIT,
	syscall.SIGSYS,
	syscall.SIGXCPU,
	syscall.SIGXFSZ,
}

// terminationSignals mirrors signal_term: these request a graceful
// shutdown of the engine and server.
var terminationSignals = []os.Signal{
	syscall.SIGTERM,
	syscall.SIGINT,
}

// WatchSignals installs handlers for the daemon's signal table and
// returns a channel that receives exactly one value when a termination
// signal (SIGTERM/SIGINT) arrives; onShutdown is invoked synchronously
// before the value is delivered so callers observe cleanup already in
// flight. Unexpected signals are logged and otherwise ignored. SIGSEGV
// is not watched, and a fault raised by the program itself
// (SIGSEGV, SIGBUS or SIGFPE) is handled by the Go runtime rather than
// delivered here; only signals sent to the process reach this table.
func WatchSignals(log *logging.Logger, onShutdown func()) <-chan os.Signal {
	terminated := make(chan os.Signal, 1)

	unexpected := make(chan os.Signal, len(unexpectedSignals))
	signal.Notify(unexpected, unexpectedSignals...)

	termination := make(chan os.Signal, len(terminationSignals))
	signal.Notify(termination, terminationSignals...)

	go func() {
		for sig := range unexpected {
			log.Errorf("caught %s", sig)
		}
	}()

	go func() {
		sig := <-termination
		log.Noticef("caught %s, shutting down", sig)
		if onShutdown != nil {
			onShutdown()
		}
		terminated <- sig
	}()

	return terminated
}
