package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a timed acquisition runs out of time.
	ErrWouldBlock = errors.New("fs: lock would block")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("fs: invalid lock timeout")

	// errReplaced means the lock file was swapped between open and flock.
	// Callers retry.
	errReplaced = errors.New("lock file replaced")
)

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755

	maxBackoff = 25 * time.Millisecond
)

// Locker takes advisory flock(2) locks on dedicated lock files.
//
// flock applies to an inode, not a path. Locker checks after every
// acquisition that the locked descriptor is still the file at the path and
// retries otherwise. Lock files must not be replaced while a lock is held.
//
// Unix only.
type Locker struct {
	flock func(fd int, how int) error
}

// NewLocker returns a Locker backed by unix.Flock.
func NewLocker() *Locker {
	return &Locker{flock: unix.Flock}
}

// Lock is a held file lock. Release it with [Lock.Close].
type Lock struct {
	mu    sync.Mutex
	file  *os.File
	flock func(fd int, how int) error
}

// Close unlocks and closes the lock file. It is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// Lock takes an exclusive lock on path, blocking until it is available.
// Missing parent directories and the lock file itself are created.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.lockBlocking(path, unix.LOCK_EX)
}

// RLock takes a shared lock on path, blocking until it is available.
func (l *Locker) RLock(path string) (*Lock, error) {
	return l.lockBlocking(path, unix.LOCK_SH)
}

// LockWithTimeout polls for an exclusive lock with backoff (1ms to 25ms)
// until timeout expires, then fails with [ErrWouldBlock].
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, unix.LOCK_EX, timeout)
}

// RLockWithTimeout is the shared counterpart of [Locker.LockWithTimeout].
func (l *Locker) RLockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, unix.LOCK_SH, timeout)
}

func (l *Locker) lockBlocking(path string, how int) (*Lock, error) {
	for {
		file, err := openLockFile(path, how)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, how)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, errReplaced) {
			return nil, err
		}
	}
}

// lockPolling retries with backoff until the deadline.
func (l *Locker) lockPolling(path string, how int, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	for {
		file, err := openLockFile(path, how)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, how|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errReplaced) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, maxBackoff)
	}
}

// acquire flocks file and checks that it is still the file at path. On
// failure the file is unlocked but left open.
func (l *Locker) acquire(file *os.File, path string, how int) error {
	fd := int(file.Fd())

	if err := flockRetryEINTR(l.flock, fd, how); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	same, err := sameInode(file, path)
	if err != nil || !same {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("verifying lock file: %w", err)
		}

		return errReplaced
	}

	return nil
}

func openLockFile(path string, how int) (*os.File, error) {
	flag := os.O_RDWR
	if how&unix.LOCK_SH != 0 {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := os.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return os.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
}

// sameInode compares (dev, ino) of the open descriptor with the file
// currently at path.
func sameInode(f *os.File, path string) (bool, error) {
	var open, current unix.Stat_t

	if err := unix.Fstat(int(f.Fd()), &open); err != nil {
		return false, err
	}

	if err := unix.Stat(path, &current); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, os.ErrNotExist
		}

		return false, err
	}

	return open.Dev == current.Dev && open.Ino == current.Ino, nil
}

// flockRetryEINTR retries flock when a signal interrupts it, up to a cap.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
