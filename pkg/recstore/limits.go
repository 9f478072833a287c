package recstore

// Hardcoded implementation limits.
//
// All limit violations are configuration errors and return ErrInvalidInput.
const (
	// Maximum record count. Slot numbers are stored as 31-bit values, and
	// 2*recordCount must stay below the top of the prime ladder.
	maxRecordCount = 1 << 29

	// Per-record overhead inside a slot: key(8) + length(4).
	recordHeaderSize = 12

	// Bytes a payload must leave free at the end of a slot: key(8) +
	// length(4) + timestamp(4).
	recordOverhead = 16

	// Minimum declared record size. The timestamp takes 4 of the declared
	// bytes, so anything smaller cannot hold a single payload byte.
	minRecordSize = 5

	// Maximum declared record size (bytes).
	maxRecordSize = 64 << 20 // 64 MiB
)
