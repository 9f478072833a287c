package recstore_test

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

func kitOptions(opts recstore.Options) recstore.KitOptions {
	return recstore.KitOptions{
		Path:            opts.Path,
		RecordCount:     opts.RecordCount,
		RecordSize:      opts.RecordSize,
		MaxDataFileSize: opts.MaxDataFileSize,
	}
}

func openKit(t *testing.T, opts recstore.KitOptions) *recstore.Kit {
	t.Helper()

	kit, err := recstore.OpenKit(opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = kit.Close() })

	return kit
}

// fillStore writes keys 1..n with value "v<key>" and closes the store.
func fillStore(t *testing.T, opts recstore.Options, n int) {
	t.Helper()

	s, err := recstore.Open(opts)
	require.NoError(t, err)

	for key := int64(1); key <= int64(n); key++ {
		require.NoError(t, s.Put(key, []byte(fmt.Sprintf("v%d", key))))
	}

	require.NoError(t, s.Close())
}

func scanAll(t *testing.T, kit *recstore.Kit) []recstore.Entry {
	t.Helper()

	var entries []recstore.Entry

	require.NoError(t, kit.Scan(func(e recstore.Entry) bool {
		entries = append(entries, e)

		return true
	}))

	return entries
}

func Test_OpenKit_Returns_Error_When_Data_Files_Missing(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 10, 16)

	_, err := recstore.OpenKit(kitOptions(opts))
	require.Error(t, err)

	_, statErr := os.Stat(recstore.DataPath(opts.Path, 0))
	assert.True(t, os.IsNotExist(statErr), "kit never creates data files")
}

func Test_Kit_Scan_Visits_Live_Records_In_Position_Order(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 10, 16)

	s, err := recstore.Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.Put(100, []byte("a")))
	require.NoError(t, s.Put(200, []byte("b")))
	require.NoError(t, s.Put(300, []byte("c")))

	_, err = s.Delete(200)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	kit := openKit(t, kitOptions(opts))
	entries := scanAll(t, kit)

	require.Len(t, entries, 2)
	assert.Equal(t, recstore.Entry{Pos: 1, Key: 100, Value: []byte("a"), Timestamp: entries[0].Timestamp}, entries[0])
	assert.Equal(t, recstore.Entry{Pos: 3, Key: 300, Value: []byte("c"), Timestamp: entries[1].Timestamp}, entries[1])

	var seen int

	require.NoError(t, kit.Scan(func(recstore.Entry) bool {
		seen++

		return false
	}))
	assert.Equal(t, 1, seen, "scan stops when fn returns false")
}

func Test_Kit_ScanSince_Skips_Records_Older_Than_Threshold(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 10, 16)
	clock := time.Unix(1000, 0)
	opts.Now = func() time.Time { return clock }

	s, err := recstore.Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.Put(1, []byte("old")))

	clock = time.Unix(2000, 0)
	require.NoError(t, s.Put(2, []byte("new")))
	require.NoError(t, s.Close())

	kit := openKit(t, kitOptions(opts))

	var keys []int64

	require.NoError(t, kit.ScanSince(1500, func(e recstore.Entry) bool {
		keys = append(keys, e.Key)

		return true
	}))

	assert.Equal(t, []int64{2}, keys)
}

func Test_Kit_RebuildIndex_Reproduces_Lookups_When_Index_Lost(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 20, 16)

	s, err := recstore.Open(opts)
	require.NoError(t, err)

	for key := int64(1); key <= 10; key++ {
		require.NoError(t, s.Put(key*53, []byte(fmt.Sprintf("v%d", key))))
	}

	for _, key := range []int64{2 * 53, 5 * 53} {
		_, err = s.Delete(key)
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(recstore.IndexPath(opts.Path)))

	kit := openKit(t, kitOptions(opts))

	report, err := kit.RebuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 8, report.Indexed)
	assert.Equal(t, 12, report.Free)
	assert.Equal(t, 0, report.Duplicates)
	assert.Equal(t, 7, report.ConflictUsed, "all keys share hash slot 0")

	_, err = kit.RebuildIndex()
	require.ErrorIs(t, err, recstore.ErrExists)
	require.NoError(t, kit.Close())

	s = openStore(t, opts)
	assert.Equal(t, 8, mustLen(t, s))
	requireVerified(t, s)

	for key := int64(1); key <= 10; key++ {
		v, ok := mustGet(t, s, key*53)
		if key == 2 || key == 5 {
			assert.False(t, ok)

			continue
		}

		require.True(t, ok, "key %d", key*53)
		assert.Equal(t, fmt.Sprintf("v%d", key), string(v))
	}
}

func Test_Kit_RebuildIndex_Hands_Out_Lowest_Free_Position_First(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 6, 16)
	fillStore(t, opts, 6)

	s, err := recstore.Open(opts)
	require.NoError(t, err)

	// Free positions 2 then 4, so the live allocator would reuse 4 first.
	for _, key := range []int64{2, 4} {
		_, err = s.Delete(key)
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(recstore.IndexPath(opts.Path)))

	kit := openKit(t, kitOptions(opts))
	_, err = kit.RebuildIndex()
	require.NoError(t, err)
	require.NoError(t, kit.Close())

	s, err = recstore.Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.Put(100, []byte("x")))
	require.NoError(t, s.Put(200, []byte("y")))
	require.NoError(t, s.Close())

	kit = openKit(t, kitOptions(opts))

	positions := map[int64]uint32{}
	for _, e := range scanAll(t, kit) {
		positions[e.Key] = e.Pos
	}

	assert.Equal(t, uint32(2), positions[100])
	assert.Equal(t, uint32(4), positions[200])
}

func Test_Kit_RebuildIndex_Keeps_Highest_Position_When_Key_Duplicated(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 5, 16) // slot 28
	fillStore(t, opts, 3)
	require.NoError(t, os.Remove(recstore.IndexPath(opts.Path)))

	// Overwrite the key of position 3 with the key at position 1.
	f, err := os.OpenFile(recstore.DataPath(opts.Path, 0), os.O_RDWR, 0)
	require.NoError(t, err)

	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], 1)
	_, err = f.WriteAt(key[:], 3*28)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	kit := openKit(t, kitOptions(opts))

	report, err := kit.RebuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Duplicates)
	require.NoError(t, kit.Close())

	s := openStore(t, opts)
	requireVerified(t, s)

	v, ok := mustGet(t, s, 1)
	require.True(t, ok)
	assert.Equal(t, "v3", string(v), "position 3 wins")
}

func Test_Kit_RebuildIndex_Handles_Empty_Store(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 4, 16)
	fillStore(t, opts, 0)
	require.NoError(t, os.Remove(recstore.IndexPath(opts.Path)))

	kit := openKit(t, kitOptions(opts))

	report, err := kit.RebuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Indexed)
	assert.Equal(t, 4, report.Free)
	require.NoError(t, kit.Close())

	s := openStore(t, opts)
	requireVerified(t, s)

	for key := int64(1); key <= 4; key++ {
		require.NoError(t, s.Put(key, nil))
	}

	require.ErrorIs(t, s.Put(5, nil), recstore.ErrFull)
}

func Test_Kit_Resize_Migrates_Live_Records_To_New_Sizing(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 10, 16)
	fillStore(t, opts, 8)

	s, err := recstore.Open(opts)
	require.NoError(t, err)

	_, err = s.Delete(3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	dst := opts.Path + "-big"
	kit := openKit(t, kitOptions(opts))

	report, err := kit.Resize(dst, 100, 64)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Copied)
	assert.Equal(t, 7, report.Rebuild.Indexed)
	assert.Equal(t, 93, report.Rebuild.Free)

	_, err = kit.Resize(dst, 100, 64)
	require.ErrorIs(t, err, recstore.ErrExists)

	big := openStore(t, recstore.Options{Path: dst, RecordCount: 100, RecordSize: 64})
	assert.Equal(t, 7, mustLen(t, big))
	requireVerified(t, big)

	for key := int64(1); key <= 8; key++ {
		v, ok := mustGet(t, big, key)
		if key == 3 {
			assert.False(t, ok)

			continue
		}

		require.True(t, ok, "key %d", key)
		assert.Equal(t, fmt.Sprintf("v%d", key), string(v))
	}

	require.NoError(t, big.Put(1000, make([]byte, 60)), "new record size is in effect")
}

func Test_Kit_Resize_Rejects_Target_When_Records_Do_Not_Fit(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 10, 16)

	s, err := recstore.Open(opts)
	require.NoError(t, err)

	for key := int64(1); key <= 5; key++ {
		require.NoError(t, s.Put(key, []byte("0123456789")))
	}

	require.NoError(t, s.Close())

	kit := openKit(t, kitOptions(opts))

	_, err = kit.Resize(opts.Path+"-small", 4, 16)
	require.ErrorIs(t, err, recstore.ErrFull)

	_, err = kit.Resize(opts.Path+"-narrow", 10, 8)
	require.ErrorIs(t, err, recstore.ErrTooLarge)

	for _, p := range []string{opts.Path + "-small", opts.Path + "-narrow"} {
		_, statErr := os.Stat(recstore.DataPath(p, 0))
		assert.True(t, os.IsNotExist(statErr), "%s must not be created", p)
	}

	_, err = kit.Resize(opts.Path, 20, 16)
	require.ErrorIs(t, err, recstore.ErrInvalidInput)
}

func Test_Kit_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, 4, 16)
	fillStore(t, opts, 1)

	kit, err := recstore.OpenKit(kitOptions(opts))
	require.NoError(t, err)
	require.NoError(t, kit.Close())
	require.NoError(t, kit.Close())

	require.ErrorIs(t, kit.Scan(func(recstore.Entry) bool { return true }), recstore.ErrClosed)

	_, err = kit.RebuildIndex()
	require.ErrorIs(t, err, recstore.ErrClosed)
}
