// Package model provides a deliberately simple, in-memory state model of
// recstore's publicly observable behavior.
//
// The model is a map plus the arithmetic needed to predict capacity errors.
// It ignores positions, timestamps and the on-disk format entirely.
package model

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

// FileState is the committed state that persists across Close/Open cycles.
type FileState struct {
	RecordCount      int
	RecordSize       int
	HashSlots        int
	ConflictCapacity int
	Values           map[int64][]byte
}

// StoreModel is an open handle against a FileState.
type StoreModel struct {
	File     *FileState
	IsClosed bool
}

// NewFile validates the sizing and returns an empty file state.
func NewFile(recordCount, recordSize int) (*FileState, error) {
	hashSlots, conflictCapacity, err := recstore.Sizing(recordCount)
	if err != nil {
		return nil, err
	}

	if recordSize < 5 {
		return nil, recstore.ErrInvalidInput
	}

	return &FileState{
		RecordCount:      recordCount,
		RecordSize:       recordSize,
		HashSlots:        hashSlots,
		ConflictCapacity: conflictCapacity,
		Values:           map[int64][]byte{},
	}, nil
}

// Clone makes a deep copy so tests can fork the exact same state.
func (file *FileState) Clone() *FileState {
	if file == nil {
		return nil
	}

	values := make(map[int64][]byte, len(file.Values))
	for k, v := range file.Values {
		values[k] = bytes.Clone(v)
	}

	clone := *file
	clone.Values = values

	return &clone
}

// MaxPayload is the largest value Put accepts.
func (file *FileState) MaxPayload() int {
	return file.RecordSize - 4
}

// Keys returns every stored key in ascending order.
func (file *FileState) Keys() []int64 {
	return slices.Sorted(maps.Keys(file.Values))
}

// ConflictUsed is the number of keys that share a hash slot with a key
// inserted after them. Each occupied hash slot holds one key; the others of
// the same slot sit in conflict slots.
func (file *FileState) ConflictUsed() int {
	occupied := make(map[uint64]struct{}, len(file.Values))
	for key := range file.Values {
		occupied[file.hash(key)] = struct{}{}
	}

	return len(file.Values) - len(occupied)
}

func (file *FileState) hash(key int64) uint64 {
	return uint64(key) % uint64(file.HashSlots)
}

// Open returns a new store handle backed by the provided file state.
func Open(file *FileState) *StoreModel {
	return &StoreModel{File: file}
}

// Close marks the handle closed. Closing twice is a no-op.
func (m *StoreModel) Close() error {
	m.IsClosed = true

	return nil
}

// Get returns a copy of the value stored under key.
func (m *StoreModel) Get(key int64) ([]byte, bool, error) {
	if m.IsClosed {
		return nil, false, recstore.ErrClosed
	}

	if key <= 0 {
		return nil, false, fmt.Errorf("key %d: %w", key, recstore.ErrInvalidInput)
	}

	v, ok := m.File.Values[key]
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(v), true, nil
}

// Contains reports whether key is present.
func (m *StoreModel) Contains(key int64) (bool, error) {
	_, ok, err := m.Get(key)

	return ok, err
}

// Put stores value under key.
//
// A new key fails with ErrFull when every record is taken, or when its hash
// slot is occupied and every conflict slot is taken.
func (m *StoreModel) Put(key int64, value []byte) error {
	if m.IsClosed {
		return recstore.ErrClosed
	}

	if key <= 0 {
		return fmt.Errorf("key %d: %w", key, recstore.ErrInvalidInput)
	}

	if len(value) > m.File.MaxPayload() {
		return recstore.ErrTooLarge
	}

	if _, ok := m.File.Values[key]; !ok {
		if len(m.File.Values) >= m.File.RecordCount {
			return recstore.ErrFull
		}

		if m.hashTaken(key) && m.File.ConflictUsed() >= m.File.ConflictCapacity {
			return recstore.ErrFull
		}
	}

	m.File.Values[key] = bytes.Clone(value)

	return nil
}

func (m *StoreModel) hashTaken(key int64) bool {
	h := m.File.hash(key)

	for other := range m.File.Values {
		if m.File.hash(other) == h {
			return true
		}
	}

	return false
}

// Delete removes key and reports whether it was present.
func (m *StoreModel) Delete(key int64) (bool, error) {
	if m.IsClosed {
		return false, recstore.ErrClosed
	}

	if key <= 0 {
		return false, fmt.Errorf("key %d: %w", key, recstore.ErrInvalidInput)
	}

	_, ok := m.File.Values[key]
	delete(m.File.Values, key)

	return ok, nil
}

// Len returns the number of stored records.
func (m *StoreModel) Len() (int, error) {
	if m.IsClosed {
		return 0, recstore.ErrClosed
	}

	return len(m.File.Values), nil
}

// Idle returns the number of free record slots.
func (m *StoreModel) Idle() (int, error) {
	if m.IsClosed {
		return 0, recstore.ErrClosed
	}

	return m.File.RecordCount - len(m.File.Values), nil
}

// ConflictUsed returns the number of conflict slots in use.
func (m *StoreModel) ConflictUsed() (int, error) {
	if m.IsClosed {
		return 0, recstore.ErrClosed
	}

	return m.File.ConflictUsed(), nil
}
