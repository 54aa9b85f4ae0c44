package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// LockFileName is the ingest lock inside the data directory.
const LockFileName = ".ingest.lock"

// FileLock is a cross-process exclusive lock on the data directory.
// Ingestion holds it while writing the stores.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for dataDir. Nothing is acquired yet.
func NewFileLock(dataDir string) *FileLock {
	path := filepath.Join(dataDir, LockFileName)
	return &FileLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is acquired.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock or fails with ERR_207_INDEX_LOCKED when another
// process holds it.
func (l *FileLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return frerrors.New(frerrors.ErrCodeIndexLocked, "another process is ingesting into this data directory", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the other 'fundrag ingest' to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Unlocking an unlocked FileLock is a no-op.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
