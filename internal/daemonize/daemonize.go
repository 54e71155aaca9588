// Package daemonize provides the lifecycle plumbing edna_main.cpp's
// main() inlines: pidfile handling and the unexpected-signal table.
// Daemonisation (fork + pid file) is named in spec.md as an external
// collaborator; this package is the concrete thing cmd/ednad calls into.
package daemonize

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/op/go-logging"
	"github.com/youtube/vitess/go/ioutil2"
	"golang.org/x/sys/unix"
)

// PIDFile represents a locked, written pidfile. Close removes the lock
// and deletes the file.
type PIDFile struct {
	path string
	lock *os.File
}

// WritePIDFile atomically writes the current process ID to path and
// takes an exclusive, non-blocking flock on it so that a second
// instance started against the same configuration fails fast rather
// than silently fighting over the rendezvous socket.
func WritePIDFile(path string) (*PIDFile, error) {
	lock, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("daemonize: open pidfile: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("daemonize: another instance holds %s: %w", path, err)
	}
	contents := []byte(fmt.Sprintf("%d\n", os.Getpid()))
	if err := ioutil2.WriteFileAtomic(path, contents, 0644); err != nil {
		lock.Close()
		return nil, fmt.Errorf("daemonize: write pidfile: %w", err)
	}
	// WriteFileAtomic replaced the file by rename, so the lock above is
	// on the old inode; take it again on the file now at path.
	newLock, err := os.OpenFile(path, os.O_RDWR, 0644)
	lock.Close()
	if err != nil {
		return nil, fmt.Errorf("daemonize: reopen pidfile: %w", err)
	}
	if err := unix.Flock(int(newLock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		newLock.Close()
		return nil, fmt.Errorf("daemonize: another instance holds %s: %w", path, err)
	}
	return &PIDFile{path: path, lock: newLock}, nil
}

// Close releases the pidfile's lock and removes the file.
func (p *PIDFile) Close() error {
	defer p.lock.Close()
	return os.Remove(p.path)
}

// RecoverToLog runs f, logging and swallowing any panic rather than
// letting it cross the goroutine boundary.
func RecoverToLog(f func(), log *logging.Logger) {
	defer func() {
		if x := recover(); x != nil {
			if log != nil {
				log.Errorf("run time panic: %v", x)
				log.Error(string(debug.Stack()))
			}
		}
	}()
	f()
}
