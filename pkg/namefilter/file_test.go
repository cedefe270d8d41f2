package namefilter_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/classindex/internal/fs"
	"github.com/calvinalkan/classindex/pkg/namefilter"
)

func newTestFilter() *namefilter.Filter {
	return namefilter.New(4096)
}

func Test_Update_Creates_File_When_Missing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "negative.filter")

	err := namefilter.Update(path, newTestFilter, func(f *namefilter.Filter) error {
		f.Add("com/example/Widget")

		return nil
	})
	require.NoError(t, err)

	got, err := namefilter.LoadFile(path)
	require.NoError(t, err)
	assert.True(t, got.Contains("com/example/Widget"))
}

func Test_Update_Keeps_Every_Name_When_Run_Concurrently(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "negative.filter")

	const writers = 32

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- namefilter.Update(path, newTestFilter, func(f *namefilter.Filter) error {
				f.Add(fmt.Sprintf("com/example/C%d", i))

				return nil
			})
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := namefilter.LoadFile(path)
	require.NoError(t, err)

	for i := range writers {
		assert.True(t, got.Contains(fmt.Sprintf("com/example/C%d", i)), "name %d", i)
	}
}

func Test_Update_Leaves_File_Untouched_When_Callback_Fails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "negative.filter")
	require.NoError(t, sampleFilter().SaveFile(path))

	boom := errors.New("boom")

	err := namefilter.Update(path, newTestFilter, func(f *namefilter.Filter) error {
		f.Clear()

		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := namefilter.LoadFile(path)
	require.NoError(t, err)
	assert.True(t, got.Contains("com/example/Widget"))
}

func Test_SaveFile_Returns_ErrWouldBlock_When_Lock_Is_Held_Past_Timeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "negative.filter")
	require.NoError(t, sampleFilter().SaveFile(path))

	held, err := fs.NewLocker().Lock(path + fs.LockSuffix)
	require.NoError(t, err)

	defer held.Close()

	timeout := namefilter.LockTimeout(20 * time.Millisecond)

	err = namefilter.New(0).SaveFile(path, timeout)
	require.ErrorIs(t, err, fs.ErrWouldBlock)

	_, err = namefilter.LoadFile(path, timeout)
	require.ErrorIs(t, err, fs.ErrWouldBlock)

	err = namefilter.Update(path, newTestFilter, func(*namefilter.Filter) error {
		t.Error("callback ran without the lock")

		return nil
	}, timeout)
	require.ErrorIs(t, err, fs.ErrWouldBlock)
}

func Test_Merge_Adds_Other_Members_When_Filters_Differ(t *testing.T) {
	t.Parallel()

	dst := namefilter.New(4096)
	dst.Add("com/example/Kept")

	src := namefilter.New(1024)
	src.Add("org/other/Added")
	src.Add("org/other/Second")

	dst.Merge(src)

	assert.True(t, dst.Contains("com/example/Kept"))
	assert.True(t, dst.Contains("org/other/Added"))
	assert.True(t, dst.Contains("org/other/Second"))
	assert.False(t, src.Contains("com/example/Kept"), "source is not modified")
}
