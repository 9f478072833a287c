package recstore

import "encoding/binary"

// Data record field offsets (bytes from the record start). The timestamp
// occupies the last 4 bytes of the record regardless of payload length.
const (
	offRecordKey     = 0  // int64
	offRecordLength  = 8  // int32
	offRecordPayload = 12 // [length]byte
)

// record is a typed view over one fixed-size data slot. It aliases mapped
// memory; callers copy before handing bytes out.
type record []byte

func (r record) key() int64 {
	return int64(binary.LittleEndian.Uint64(r[offRecordKey:]))
}

func (r record) setKey(key int64) {
	binary.LittleEndian.PutUint64(r[offRecordKey:], uint64(key))
}

// length returns the stored payload length. It may be negative or oversized
// when the record is corrupt; see payloadOK.
func (r record) length() int32 {
	return int32(binary.LittleEndian.Uint32(r[offRecordLength:]))
}

func (r record) setLength(n int32) {
	binary.LittleEndian.PutUint32(r[offRecordLength:], uint32(n))
}

// capacity is the largest payload the record can hold.
func (r record) capacity() int {
	return len(r) - recordOverhead
}

// payloadOK reports whether the stored length fits the record.
func (r record) payloadOK() bool {
	n := r.length()

	return n >= 0 && int(n) <= r.capacity()
}

// payload returns the stored payload, clamped to the record window.
func (r record) payload() []byte {
	n := max(int(r.length()), 0)
	n = min(n, r.capacity())

	return r[offRecordPayload : offRecordPayload+n]
}

// setPayload writes the length and the payload. The caller has checked
// len(p) <= capacity().
func (r record) setPayload(p []byte) {
	r.setLength(int32(len(p)))
	copy(r[offRecordPayload:], p)
}

func (r record) timestamp() uint32 {
	return binary.LittleEndian.Uint32(r[len(r)-4:])
}

func (r record) setTimestamp(ts uint32) {
	binary.LittleEndian.PutUint32(r[len(r)-4:], ts)
}

// clearHeader zeroes key and length, marking the record empty. Payload bytes
// and the timestamp are left as they are.
func (r record) clearHeader() {
	clear(r[:offRecordPayload])
}
