package namefilter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/calvinalkan/classindex/internal/fs"
)

// FileOption configures [Filter.SaveFile], [LoadFile] and [Update].
type FileOption func(*fileOptions)

type fileOptions struct {
	lockTimeout time.Duration
}

// LockTimeout bounds the wait for the file lock. When it expires the call
// fails with an error wrapping fs.ErrWouldBlock. By default the call waits
// until the lock is free.
func LockTimeout(d time.Duration) FileOption {
	return func(o *fileOptions) { o.lockTimeout = d }
}

func applyFileOptions(opts []FileOption) fileOptions {
	var o fileOptions

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// SaveFile writes the filter to path, atomically replacing any previous
// file. Writers are serialized through an exclusive lock on path+".lock".
func (f *Filter) SaveFile(path string, opts ...FileOption) error {
	o := applyFileOptions(opts)

	return fs.WithLock(path, o.lockTimeout, func() error {
		return f.writeFile(path)
	})
}

// LoadFile reads a filter saved with [Filter.SaveFile]. Format errors wrap
// [ErrBadMagic], [ErrCorrupt] or io.ErrUnexpectedEOF; a missing file wraps
// os.ErrNotExist.
func LoadFile(path string, opts ...FileOption) (*Filter, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("loading filter: %w", err)
	}

	o := applyFileOptions(opts)

	var filter *Filter

	err := fs.WithSharedLock(path, o.lockTimeout, func() error {
		var err error

		filter, err = readFile(path)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading filter %s: %w", path, err)
	}

	return filter, nil
}

// Update loads the filter at path, or starts from create() when the file
// does not exist, passes it to fn and saves the result. The exclusive lock
// is held across all three steps, so concurrent updates never drop each
// other's names. Nothing is written when fn fails.
func Update(path string, create func() *Filter, fn func(*Filter) error, opts ...FileOption) error {
	o := applyFileOptions(opts)

	err := fs.WithLock(path, o.lockTimeout, func() error {
		filter, err := readFile(path)
		if errors.Is(err, os.ErrNotExist) {
			filter, err = create(), nil
		}

		if err != nil {
			return err
		}

		if err := fn(filter); err != nil {
			return err
		}

		return filter.writeFile(path)
	})
	if err != nil {
		return fmt.Errorf("updating filter %s: %w", path, err)
	}

	return nil
}

// readFile and writeFile expect the caller to hold the lock.
func readFile(path string) (*Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadFrom(file)
}

func (f *Filter) writeFile(path string) error {
	var buf bytes.Buffer

	buf.Grow(headerSize + slotSize*len(f.slots))

	if _, err := f.WriteTo(&buf); err != nil {
		return err
	}

	return fs.WriteFileAtomic(path, buf.Bytes())
}
