// Package fs holds the small amount of filesystem plumbing shared by the
// on-disk formats: advisory lock files and atomic file replacement.
package fs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// LockSuffix is appended to a data file's path to name its lock file.
const LockSuffix = ".lock"

// WriteFileAtomic replaces path with data. Readers see either the old or the
// new content, never a partial write.
func WriteFileAtomic(path string, data []byte) error {
	return WriteAtomic(path, bytes.NewReader(data))
}

// WriteAtomic replaces path with everything read from r.
func WriteAtomic(path string, r io.Reader) error {
	if err := atomic.WriteFile(path, r); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// WithLock runs fn while holding an exclusive lock on path+LockSuffix.
// A positive timeout bounds the wait, after which it fails with
// [ErrWouldBlock]; zero waits as long as it takes.
func WithLock(path string, timeout time.Duration, fn func() error) (err error) {
	locker := NewLocker()
	lockPath := path + LockSuffix

	var lock *Lock

	if timeout > 0 {
		lock, err = locker.LockWithTimeout(lockPath, timeout)
	} else {
		lock, err = locker.Lock(lockPath)
	}

	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}

	defer func() {
		if closeErr := lock.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn()
}

// WithSharedLock runs fn while holding a shared lock on path+LockSuffix.
// timeout behaves as in [WithLock].
func WithSharedLock(path string, timeout time.Duration, fn func() error) (err error) {
	lockPath := path + LockSuffix

	// shared locks open read-only and cannot create the file
	if _, statErr := os.Stat(lockPath); statErr != nil {
		return WithLock(path, timeout, fn)
	}

	locker := NewLocker()

	var lock *Lock

	if timeout > 0 {
		lock, err = locker.RLockWithTimeout(lockPath, timeout)
	} else {
		lock, err = locker.RLock(lockPath)
	}

	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}

	defer func() {
		if closeErr := lock.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn()
}
