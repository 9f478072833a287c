package mmap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/recstore/pkg/mmap"
)

func Test_Open_Creates_Zero_Filled_File_When_Missing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region")

	region, err := mmap.Open(path, 4096, mmap.OpenOrCreate)
	require.NoError(t, err)

	defer region.Close()

	assert.True(t, region.Created())
	assert.Equal(t, 4096, region.Size())
	assert.Equal(t, path, region.Path())

	for i, b := range region.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func Test_Region_Persists_Writes_When_Reopened(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region")

	region, err := mmap.Create(path, 8192)
	require.NoError(t, err)

	copy(region.Bytes()[5000:], "hello")
	require.NoError(t, region.FlushRange(5000, 5))
	require.NoError(t, region.Flush())
	require.NoError(t, region.Close())

	again, err := mmap.Attach(path, 8192)
	require.NoError(t, err)

	defer again.Close()

	assert.False(t, again.Created())
	assert.Equal(t, "hello", string(again.Bytes()[5000:5005]))
}

func Test_Open_Returns_ErrSize_When_Existing_File_Has_Different_Size(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))

	_, err := mmap.Open(path, 200, mmap.OpenOrCreate)
	require.ErrorIs(t, err, mmap.ErrSize)

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.Equal(t, int64(100), info.Size(), "file must be left untouched")
}

func Test_Open_Rejects_Size_When_Out_Of_Range(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, size := range []int64{0, -1, mmap.MaxSize + 1} {
		_, err := mmap.Open(filepath.Join(dir, "region"), size, mmap.OpenOrCreate)
		require.ErrorIs(t, err, mmap.ErrSize, "size %d", size)
	}

	_, err := os.Stat(filepath.Join(dir, "region"))
	assert.True(t, os.IsNotExist(err), "rejected open must not create the file")
}

func Test_Create_Returns_ErrExists_When_File_Present(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))

	_, err := mmap.Create(path, 64)
	require.ErrorIs(t, err, mmap.ErrExists)
}

func Test_Attach_Returns_ErrNotExist_When_File_Missing(t *testing.T) {
	t.Parallel()

	_, err := mmap.Attach(filepath.Join(t.TempDir(), "missing"), 64)
	require.ErrorIs(t, err, mmap.ErrNotExist)
}

func Test_Region_Returns_ErrClosed_When_Flushed_After_Close(t *testing.T) {
	t.Parallel()

	region, err := mmap.Create(filepath.Join(t.TempDir(), "region"), 64)
	require.NoError(t, err)
	require.NoError(t, region.Close())
	require.NoError(t, region.Close(), "second close is a no-op")

	require.ErrorIs(t, region.Flush(), mmap.ErrClosed)
	require.ErrorIs(t, region.FlushRange(0, 1), mmap.ErrClosed)
}

func Test_FlushRange_Rejects_Range_When_Outside_Mapping(t *testing.T) {
	t.Parallel()

	region, err := mmap.Create(filepath.Join(t.TempDir(), "region"), 64)
	require.NoError(t, err)

	defer region.Close()

	require.ErrorIs(t, region.FlushRange(64, 1), mmap.ErrSize)
	require.ErrorIs(t, region.FlushRange(-1, 1), mmap.ErrSize)
	require.ErrorIs(t, region.FlushRange(0, 0), mmap.ErrSize)
	require.NoError(t, region.FlushRange(60, 100), "length is clamped to the mapping")
}
