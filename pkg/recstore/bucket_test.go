package recstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity uint32) *bucket {
	t.Helper()

	b, err := newBucket("test", make([]byte, bucketSize(capacity)), capacity)
	require.NoError(t, err)
	require.NoError(t, b.initialize())

	return b
}

func Test_LinkState_Roundtrips_When_Encoded(t *testing.T) {
	t.Parallel()

	tests := []linkState{
		{},
		{next: 1},
		{next: linkAllocated - 1},
		{allocated: true},
	}

	for _, tt := range tests {
		got := decodeLink(tt.encode())
		if got != tt {
			t.Errorf("decodeLink(encode(%+v)) = %+v", tt, got)
		}
	}

	assert.Equal(t, linkAllocated, linkState{allocated: true}.encode())
	assert.True(t, decodeLink(linkAllocated|7).allocated, "reserved bits are ignored")
}

func Test_NewBucket_Rejects_Buffer_When_Size_Or_Capacity_Wrong(t *testing.T) {
	t.Parallel()

	_, err := newBucket("test", make([]byte, bucketSize(4)-1), 4)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = newBucket("test", make([]byte, bucketHeaderSize+4), 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func Test_Bucket_Allocates_Every_Slot_In_Order_Then_Reports_Full(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 5)
	assert.True(t, b.isEmpty())
	assert.Equal(t, uint32(5), b.idle())

	for want := uint32(1); want <= 5; want++ {
		got, err := b.alloc()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	assert.True(t, b.isFull())
	assert.Equal(t, uint32(0), b.head())
	assert.Equal(t, uint32(0), b.tail())

	_, err := b.alloc()
	require.ErrorIs(t, err, ErrFull)
	assert.Equal(t, uint32(5), b.used(), "failed alloc must not change used")
	assert.Empty(t, b.verify())
}

func Test_Bucket_Reuses_Most_Recently_Freed_Slot_First(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 4)

	for range 4 {
		_, err := b.alloc()
		require.NoError(t, err)
	}

	require.True(t, b.free(2))
	assert.Equal(t, uint32(2), b.head())
	assert.Equal(t, uint32(2), b.tail(), "freeing into an empty list sets tail")

	require.True(t, b.free(4))
	assert.Equal(t, uint32(4), b.head())
	assert.Equal(t, uint32(2), b.tail())

	got, err := b.alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got)

	got, err = b.alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got)

	assert.True(t, b.isFull())
	assert.Empty(t, b.verify())
}

func Test_Bucket_Free_Returns_False_When_Slot_Invalid_Or_Already_Free(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 3)

	slot, err := b.alloc()
	require.NoError(t, err)

	assert.False(t, b.free(0))
	assert.False(t, b.free(4))
	assert.False(t, b.free(2), "never allocated")
	assert.True(t, b.free(slot))
	assert.False(t, b.free(slot), "double free")
	assert.Equal(t, uint32(0), b.used())
	assert.Empty(t, b.verify())
}

func Test_Bucket_HasLink_Tracks_Allocation(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 3)

	slot, err := b.alloc()
	require.NoError(t, err)

	ok, err := b.hasLink(slot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.hasLink(slot + 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.hasLink(0)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = b.hasLink(4)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func Test_Bucket_Initialize_Fails_When_Header_Already_Written(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 3)
	require.ErrorIs(t, b.initialize(), ErrCorrupt)
}

func Test_Bucket_Check_Detects_Mismatch_And_Out_Of_Range_Header(t *testing.T) {
	t.Parallel()

	buf := make([]byte, bucketSize(8))

	b, err := newBucket("test", buf, 8)
	require.NoError(t, err)
	require.ErrorIs(t, b.check(), ErrIncompatible, "uninitialized has version 0")

	require.NoError(t, b.initialize())
	require.NoError(t, b.check())

	// Same bytes, different declared capacity.
	other, err := newBucket("test", make([]byte, bucketSize(8)), 8)
	require.NoError(t, err)
	copy(other.header, b.header)
	other.putHeader(offBucketCapacity, 9)
	require.ErrorIs(t, other.check(), ErrIncompatible)

	b.putHeader(offBucketUsed, 9)
	err = b.check()
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "used")

	b.putHeader(offBucketUsed, 0)
	b.putHeader(offBucketTail, 100)
	require.ErrorIs(t, b.check(), ErrCorrupt)
}

func Test_Bucket_Alloc_Returns_ErrCorrupt_When_Head_Points_At_Allocated_Slot(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 3)
	b.setLinkUsed(1)

	_, err := b.alloc()
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, uint32(0), b.used())
}

func Test_Bucket_Verify_Reports_Problems_When_Links_Disagree_With_Header(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 4)
	assert.Empty(t, b.verify())

	// Cycle 1 -> 2 -> 1.
	b.setLink(2, 1)
	assert.NotEmpty(t, b.verify())

	b = newTestBucket(t, 4)
	b.setLinkUsed(3)
	assert.NotEmpty(t, b.verify(), "allocated flag without used count")
}

func Test_Bucket_Rebuild_Hooks_Produce_Sound_Allocator(t *testing.T) {
	t.Parallel()

	b := newTestBucket(t, 5)

	// Slots 2 and 4 in use; free list 1 -> 3 -> 5.
	b.setLinkUsed(2)
	b.setLinkUsed(4)
	b.setLink(5, 0)
	b.setLink(3, 5)
	b.setLink(1, 3)
	b.setUsedAndLink(2, 1, 5)

	assert.Empty(t, b.verify())

	for _, want := range []uint32{1, 3, 5} {
		got, err := b.alloc()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	assert.True(t, b.isFull())
}
