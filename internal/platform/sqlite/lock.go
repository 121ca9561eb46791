package sqlite

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"
)

// fileLock is the advisory lock serializing writers across processes.
// A nil *fileLock is a valid, disabled lock.
type fileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// newFileLock probes whether the platform can lock path. When it cannot, the
// lock is disabled with a warning instead of failing.
func newFileLock(path string, logger *slog.Logger) *fileLock {
	fl := flock.New(path)
	if _, err := fl.TryLock(); err != nil {
		logger.Warn("file locking is disabled",
			"path", path,
			"error", err)
		return nil
	}
	if err := fl.Unlock(); err != nil {
		logger.Warn("file locking is disabled",
			"path", path,
			"error", err)
		return nil
	}
	return &fileLock{fl: fl}
}

// Lock blocks until the lock is held.
func (l *fileLock) Lock() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if err := l.fl.Lock(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to acquire %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func (l *fileLock) Unlock() error {
	if l == nil {
		return nil
	}
	defer l.mu.Unlock()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *fileLock) Close() error {
	if l == nil {
		return nil
	}
	return l.fl.Close()
}
