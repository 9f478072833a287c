package recstore

import (
	"encoding/binary"
	"fmt"
)

// Index format constants.
const (
	indexVersion    uint32 = 0x3301
	indexHeaderSize        = 24
	hashSlotSize           = 16
)

// Index header field offsets (bytes from file start).
const (
	offIndexVersion      = 0x00 // uint32
	offIndexHashSlots    = 0x04 // uint32
	offIndexConflictCap  = 0x08 // uint32
	offIndexDataCap      = 0x0C // uint32
	offIndexRecordSize   = 0x10 // uint32, slot size including the 12-byte header
	offIndexConflictUsed = 0x14 // uint32
)

// Hash slot field offsets. Primary and conflict slots share the layout.
const (
	offSlotKey  = 0  // int64, 0 = empty
	offSlotPos  = 8  // uint32, data position
	offSlotNext = 12 // uint32, conflict slot number, 0 = end of chain
)

// indexGeometry is the configuration an index file is created with and
// validated against.
type indexGeometry struct {
	hashSlots        uint32
	conflictCapacity uint32
	dataCapacity     uint32
	recordSize       uint32
}

// indexSize returns the exact index file size for g:
//
//	header | hash slots | conflict allocator | conflict slots | data allocator
func indexSize(g indexGeometry) int64 {
	return indexHeaderSize +
		int64(g.hashSlots)*hashSlotSize +
		int64(bucketSize(g.conflictCapacity)) +
		(int64(g.conflictCapacity)+1)*hashSlotSize +
		int64(bucketSize(g.dataCapacity))
}

// hashSlot is a view over one 16-byte primary or conflict slot.
type hashSlot []byte

func (s hashSlot) key() int64   { return int64(binary.LittleEndian.Uint64(s[offSlotKey:])) }
func (s hashSlot) pos() uint32  { return binary.LittleEndian.Uint32(s[offSlotPos:]) }
func (s hashSlot) next() uint32 { return binary.LittleEndian.Uint32(s[offSlotNext:]) }

func (s hashSlot) set(key int64, pos, next uint32) {
	binary.LittleEndian.PutUint64(s[offSlotKey:], uint64(key))
	binary.LittleEndian.PutUint32(s[offSlotPos:], pos)
	binary.LittleEndian.PutUint32(s[offSlotNext:], next)
}

func (s hashSlot) setNext(next uint32) {
	binary.LittleEndian.PutUint32(s[offSlotNext:], next)
}

func (s hashSlot) copyFrom(o hashSlot) {
	copy(s, o[:hashSlotSize])
}

// index maps positive int64 keys to data positions.
//
// Each key hashes to one primary slot. Colliding keys live in a chain of
// conflict slots hanging off the primary. New keys always take the primary
// slot and push the previous occupant into a fresh conflict slot, so the most
// recently inserted key is found first.
//
// The index also owns the data allocator that hands out record positions, but
// it never touches the records themselves.
type index struct {
	geom indexGeometry

	header    []byte
	hash      []byte
	conflicts []byte

	conflictSlots *bucket
	dataSlots     *bucket
}

// newIndex carves buf into its sections. buf must be exactly indexSize(g)
// bytes. Call initialize on a fresh file, check on an existing one.
func newIndex(buf []byte, g indexGeometry) (*index, error) {
	if g.hashSlots == 0 || g.conflictCapacity == 0 || g.dataCapacity == 0 || g.recordSize <= recordOverhead {
		return nil, fmt.Errorf("index geometry %+v: %w", g, ErrInvalidInput)
	}

	if int64(len(buf)) != indexSize(g) {
		return nil, fmt.Errorf("index buffer is %d bytes, expected %d: %w", len(buf), indexSize(g), ErrInvalidInput)
	}

	off := indexHeaderSize
	idx := &index{geom: g, header: buf[:indexHeaderSize]}

	idx.hash = buf[off : off+int(g.hashSlots)*hashSlotSize]
	off += len(idx.hash)

	conflictBucket := buf[off : off+bucketSize(g.conflictCapacity)]
	off += len(conflictBucket)

	idx.conflicts = buf[off : off+(int(g.conflictCapacity)+1)*hashSlotSize]
	off += len(idx.conflicts)

	dataBucket := buf[off:]

	var err error

	idx.conflictSlots, err = newBucket("conflict", conflictBucket, g.conflictCapacity)
	if err != nil {
		return nil, err
	}

	idx.dataSlots, err = newBucket("data", dataBucket, g.dataCapacity)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

func (x *index) getHeader(off int) uint32 {
	return binary.LittleEndian.Uint32(x.header[off:])
}

func (x *index) putHeader(off int, v uint32) {
	binary.LittleEndian.PutUint32(x.header[off:], v)
}

func (x *index) primary(key int64) hashSlot {
	n := uint64(key) % uint64(x.geom.hashSlots)

	return hashSlot(x.hash[n*hashSlotSize : (n+1)*hashSlotSize])
}

func (x *index) conflict(n uint32) hashSlot {
	return hashSlot(x.conflicts[int(n)*hashSlotSize : (int(n)+1)*hashSlotSize])
}

// follow returns conflict slot n after checking it is a live chain member.
func (x *index) follow(n uint32) (hashSlot, error) {
	if n > x.geom.conflictCapacity {
		return nil, fmt.Errorf("chain link %d beyond conflict capacity %d: %w", n, x.geom.conflictCapacity, ErrCorrupt)
	}

	live, err := x.conflictSlots.hasLink(n)
	if err != nil {
		return nil, fmt.Errorf("chain link %d: %w", n, ErrCorrupt)
	}

	if !live {
		return nil, fmt.Errorf("chain link %d points at a free conflict slot: %w", n, ErrCorrupt)
	}

	s := x.conflict(n)
	if s.key() <= 0 || s.pos() == 0 {
		return nil, fmt.Errorf("conflict slot %d holds key %d pos %d: %w", n, s.key(), s.pos(), ErrCorrupt)
	}

	return s, nil
}

// initialize writes an empty index. The header must be zero.
func (x *index) initialize() error {
	version := x.getHeader(offIndexVersion)
	if version != 0 {
		return fmt.Errorf("index: initialize over existing version 0x%x: %w", version, ErrCorrupt)
	}

	x.putHeader(offIndexHashSlots, x.geom.hashSlots)
	x.putHeader(offIndexConflictCap, x.geom.conflictCapacity)
	x.putHeader(offIndexDataCap, x.geom.dataCapacity)
	x.putHeader(offIndexRecordSize, x.geom.recordSize)
	x.putHeader(offIndexConflictUsed, 0)

	err := x.conflictSlots.initialize()
	if err != nil {
		return err
	}

	err = x.dataSlots.initialize()
	if err != nil {
		return err
	}

	x.putHeader(offIndexVersion, indexVersion)

	return nil
}

// check validates an existing index against the configured geometry.
// The first mismatched field is named in the error.
func (x *index) check() error {
	err := checkHeader(x.header, x.geom)
	if err != nil {
		return err
	}

	conflictUsed := x.conflictUsed()
	if conflictUsed > x.geom.conflictCapacity {
		return fmt.Errorf("index: conflict_used %d > capacity %d: %w", conflictUsed, x.geom.conflictCapacity, ErrCorrupt)
	}

	err = x.conflictSlots.check()
	if err != nil {
		return err
	}

	return x.dataSlots.check()
}

// checkHeader compares an index header with g. It needs only the header
// bytes, so it also explains a file whose size is already known to be wrong.
func checkHeader(header []byte, g indexGeometry) error {
	version := binary.LittleEndian.Uint32(header[offIndexVersion:])
	if version != indexVersion {
		return fmt.Errorf("index: version 0x%x, expected 0x%x: %w", version, indexVersion, ErrIncompatible)
	}

	for _, field := range []struct {
		name string
		off  int
		want uint32
	}{
		{"hash_slots", offIndexHashSlots, g.hashSlots},
		{"conflict_capacity", offIndexConflictCap, g.conflictCapacity},
		{"data_capacity", offIndexDataCap, g.dataCapacity},
		{"record_size", offIndexRecordSize, g.recordSize},
	} {
		got := binary.LittleEndian.Uint32(header[field.off:])
		if got != field.want {
			return fmt.Errorf("index: %s mismatch: file has %d, expected %d: %w", field.name, got, field.want, ErrIncompatible)
		}
	}

	return nil
}

// lookup returns the data position of key.
//
// The conflict walk stops after conflictCapacity hops even if the chain does
// not end, so a cyclic chain cannot hang the caller.
func (x *index) lookup(key int64) (uint32, bool, error) {
	if key <= 0 {
		return 0, false, fmt.Errorf("key must be > 0, got %d: %w", key, ErrInvalidInput)
	}

	s := x.primary(key)

	switch s.key() {
	case 0:
		return 0, false, nil
	case key:
		if s.pos() == 0 {
			return 0, false, fmt.Errorf("primary slot for key %d has no position: %w", key, ErrCorrupt)
		}

		return s.pos(), true, nil
	}

	next := s.next()

	for hop := uint32(0); hop < x.geom.conflictCapacity && next != 0; hop++ {
		c, err := x.follow(next)
		if err != nil {
			return 0, false, fmt.Errorf("lookup key %d: %w", key, err)
		}

		if c.key() == key {
			return c.pos(), true, nil
		}

		next = c.next()
	}

	return 0, false, nil
}

// allocData hands out a free data position.
func (x *index) allocData() (uint32, error) {
	return x.dataSlots.alloc()
}

// freeData returns pos to the data allocator.
func (x *index) freeData(pos uint32) bool {
	return x.dataSlots.free(pos)
}

// insert maps key to pos. key must not already be indexed.
//
// When the primary slot is taken its occupant moves to a new conflict slot
// first; if the conflict allocator is full nothing is changed and ErrFull is
// returned.
func (x *index) insert(key int64, pos uint32) error {
	if key <= 0 || pos == 0 {
		return fmt.Errorf("insert key %d pos %d: %w", key, pos, ErrInvalidInput)
	}

	s := x.primary(key)

	var next uint32

	if s.key() != 0 {
		n, err := x.conflictSlots.alloc()
		if err != nil {
			return fmt.Errorf("insert key %d: %w", key, err)
		}

		x.conflict(n).copyFrom(s)
		x.putHeader(offIndexConflictUsed, x.conflictUsed()+1)
		next = n
	}

	s.set(key, pos, next)

	return nil
}

// remove unlinks key. It reports false when key is not indexed.
//
// Removing the primary pulls its successor up into the primary slot. Removing
// a conflict slot rewires its predecessor. Either way one conflict slot is
// freed, if any was involved.
func (x *index) remove(key int64) (bool, error) {
	if key <= 0 {
		return false, fmt.Errorf("key must be > 0, got %d: %w", key, ErrInvalidInput)
	}

	head := x.primary(key)

	switch head.key() {
	case 0:
		return false, nil
	case key:
		next := head.next()
		if next == 0 {
			clear(head)

			return true, nil
		}

		succ, err := x.follow(next)
		if err != nil {
			return false, fmt.Errorf("remove key %d: %w", key, err)
		}

		head.copyFrom(succ)
		clear(succ)
		x.releaseConflict(next)

		return true, nil
	}

	prev := head
	next := head.next()

	for hop := uint32(0); hop < x.geom.conflictCapacity && next != 0; hop++ {
		c, err := x.follow(next)
		if err != nil {
			return false, fmt.Errorf("remove key %d: %w", key, err)
		}

		if c.key() == key {
			prev.setNext(c.next())
			clear(c)
			x.releaseConflict(next)

			return true, nil
		}

		prev = c
		next = c.next()
	}

	return false, nil
}

func (x *index) releaseConflict(n uint32) {
	x.conflictSlots.free(n)

	used := x.conflictUsed()
	if used > 0 {
		x.putHeader(offIndexConflictUsed, used-1)
	}
}

func (x *index) conflictUsed() uint32 { return x.getHeader(offIndexConflictUsed) }

func (x *index) used() uint32     { return x.dataSlots.used() }
func (x *index) idle() uint32     { return x.dataSlots.idle() }
func (x *index) capacity() uint32 { return x.geom.dataCapacity }
func (x *index) isEmpty() bool    { return x.dataSlots.isEmpty() }
func (x *index) isFull() bool     { return x.dataSlots.isFull() }

// forEach calls fn for every indexed (key, pos) pair, primaries first within
// each chain. Chain walks are capped like lookup; a broken chain is returned
// as an error after the entries reached so far.
func (x *index) forEach(fn func(key int64, pos uint32)) error {
	for n := range x.geom.hashSlots {
		s := hashSlot(x.hash[int(n)*hashSlotSize : int(n+1)*hashSlotSize])
		if s.key() == 0 {
			continue
		}

		fn(s.key(), s.pos())

		next := s.next()

		for hop := uint32(0); next != 0; hop++ {
			if hop >= x.geom.conflictCapacity {
				return fmt.Errorf("hash slot %d: chain longer than %d hops: %w", n, x.geom.conflictCapacity, ErrCorrupt)
			}

			c, err := x.follow(next)
			if err != nil {
				return fmt.Errorf("hash slot %d: %w", n, err)
			}

			fn(c.key(), c.pos())
			next = c.next()
		}
	}

	return nil
}

func (x *index) String() string {
	return fmt.Sprintf("index [hash_slots=%d, record_size=%d, used=%d, idle=%d, conflict=%d/%d]",
		x.geom.hashSlots, x.geom.recordSize, x.used(), x.idle(), x.conflictUsed(), x.geom.conflictCapacity)
}
