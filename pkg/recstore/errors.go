package recstore

import "errors"

// Sentinel errors returned by recstore operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, recstore.ErrFull) {
//	    // reject the write or schedule a resize
//	}
var (
	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: non-positive key, out-of-range slot number, non-positive
	// record count or record size.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("recstore: invalid input")

	// ErrFull indicates an allocator has no free slots left.
	//
	// Returned when the data slots or the conflict slots are exhausted.
	//
	// Recovery: reject the write, delete entries, or migrate with [Kit.Resize].
	ErrFull = errors.New("recstore: full")

	// ErrIncompatible indicates the files on disk were created with a
	// different configuration than the one passed to [Open].
	//
	// The error message names the mismatched field.
	//
	// Recovery: open with the original configuration or migrate with [Kit.Resize].
	ErrIncompatible = errors.New("recstore: incompatible")

	// ErrCorrupt indicates the persisted structures fail sanity checks, or an
	// index entry disagrees with the data record it points to.
	//
	// Recovery: rebuild the index from the data files with [Kit.RebuildIndex].
	ErrCorrupt = errors.New("recstore: corrupt")

	// ErrTooLarge indicates a payload does not fit in a record slot.
	//
	// Nothing is written when this error is returned.
	ErrTooLarge = errors.New("recstore: record too large")

	// ErrClosed indicates the [Store] or [Kit] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("recstore: closed")

	// ErrExists indicates a maintenance target already exists on disk.
	//
	// [Kit.RebuildIndex] refuses to overwrite an index file and [Kit.Resize]
	// refuses to overwrite destination data files.
	ErrExists = errors.New("recstore: already exists")
)
