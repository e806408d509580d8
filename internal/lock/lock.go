// Package lock provides the cross-process sentinel lock daemon activation
// uses to resolve the spawn-or-reuse race: the first process to reach a
// given identity directory wins the right to spawn, and every later
// process that arrives while spawning is in flight detects the lock and
// yields instead of racing to start a second daemon.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Sentinel is an acquired advisory lock on a single file path. The zero
// value is not valid; obtain one via Acquire or TryAcquire.
type Sentinel struct {
	fl *flock.Flock
}

// Acquire blocks until it holds an exclusive lock on path, creating the
// file if necessary. Release must be called to free it.
func Acquire(path string) (*Sentinel, error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock: acquiring %s: %w", path, err)
	}
	return &Sentinel{fl: fl}, nil
}

// TryAcquire attempts a non-blocking exclusive lock on path. ok is false,
// with a nil Sentinel and nil error, when another process already holds
// it — the TOCTOU-safe way for a second spawner to detect an in-flight
// activation and yield rather than racing to start its own daemon.
func TryAcquire(path string) (s *Sentinel, ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock: trying %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &Sentinel{fl: fl}, true, nil
}

// Release unlocks and closes the underlying file. Safe to call once;
// subsequent calls are no-ops.
func (s *Sentinel) Release() error {
	if s == nil || s.fl == nil {
		return nil
	}
	if err := s.fl.Unlock(); err != nil {
		return fmt.Errorf("lock: releasing %s: %w", s.fl.Path(), err)
	}
	return nil
}

// Path returns the filesystem path backing the lock.
func (s *Sentinel) Path() string {
	return s.fl.Path()
}
