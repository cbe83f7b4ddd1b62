// Package runlock serializes reconciliation runs. The file lock keeps two
// agent processes (daemon plus an operator's one-shot enforce) from writing
// quota state concurrently; the mutex covers goroutines inside one process,
// which flock alone does not exclude.
package runlock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// ErrBusy reports that another run already holds the lock. Callers decide
// whether that is a skip (scheduled daemon tick) or a hard failure (operator
// command).
var ErrBusy = errors.New("another reconciliation run holds the lock")

// Lock guards reconciliation runs across processes and goroutines.
type Lock struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// New prepares a lock at path. Nothing is acquired until TryAcquire.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryAcquire takes the lock without blocking. On success the returned
// release function must be called exactly once; on contention the error is
// ErrBusy.
func (l *Lock) TryAcquire() (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.mu.Unlock()
		return nil, qerrors.Wrap(err, qerrors.CategoryLock, qerrors.SeverityError,
			"create lock directory")
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		l.mu.Unlock()
		return nil, qerrors.Wrap(err, qerrors.CategoryLock, qerrors.SeverityError,
			"acquire run lock "+l.path)
	}
	if !locked {
		l.mu.Unlock()
		return nil, ErrBusy
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// A failed flock release clears when the process exits.
			_ = l.fl.Unlock()
			l.mu.Unlock()
		})
	}
	return release, nil
}

// Path returns the lock file location, for status reporting.
func (l *Lock) Path() string {
	return l.path
}
