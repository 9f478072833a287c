package recstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Record_Keeps_Fields_Apart_When_Payload_Fills_Slot(t *testing.T) {
	t.Parallel()

	// Declared size 20 -> slot 32 -> payload capacity 16.
	r := record(make([]byte, 32))
	assert.Equal(t, 16, r.capacity())

	payload := []byte("0123456789abcdef")

	r.setKey(42)
	r.setPayload(payload)
	r.setTimestamp(0xDEADBEEF)

	assert.Equal(t, int64(42), r.key())
	assert.Equal(t, int32(16), r.length())
	assert.Equal(t, payload, r.payload())
	assert.Equal(t, uint32(0xDEADBEEF), r.timestamp())
	assert.True(t, r.payloadOK())
}

func Test_Record_Clamps_Payload_When_Length_Corrupt(t *testing.T) {
	t.Parallel()

	r := record(make([]byte, 32))

	r.setLength(1000)
	assert.False(t, r.payloadOK())
	assert.Len(t, r.payload(), 16)

	r.setLength(-3)
	assert.False(t, r.payloadOK())
	assert.Empty(t, r.payload())
}

func Test_Record_ClearHeader_Zeroes_Key_And_Length_Only(t *testing.T) {
	t.Parallel()

	r := record(make([]byte, 32))
	r.setKey(7)
	r.setPayload([]byte("abc"))
	r.setTimestamp(99)

	r.clearHeader()

	assert.Equal(t, int64(0), r.key())
	assert.Equal(t, int32(0), r.length())
	assert.Equal(t, "abc", string(r[offRecordPayload:offRecordPayload+3]))
	assert.Equal(t, uint32(99), r.timestamp())
}
