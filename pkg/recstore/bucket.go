package recstore

import (
	"encoding/binary"
	"fmt"
)

// Slot allocator format constants.
const (
	bucketVersion    uint32 = 0x3201
	bucketHeaderSize        = 20
	bucketLinkSize          = 4

	// linkAllocated is the on-disk marker of an allocated slot. The remaining
	// bits of an allocated link word are reserved and always written as zero.
	linkAllocated uint32 = 1 << 31
)

// Allocator header field offsets (bytes from the allocator start).
const (
	offBucketVersion  = 0x00 // uint32
	offBucketCapacity = 0x04 // uint32
	offBucketUsed     = 0x08 // uint32
	offBucketHead     = 0x0C // uint32
	offBucketTail     = 0x10 // uint32
)

// bucketSize returns the bytes needed by an allocator over capacity slots.
// Slot 0 is reserved, so capacity+1 link words follow the header.
func bucketSize(capacity uint32) int {
	return bucketHeaderSize + (int(capacity)+1)*bucketLinkSize
}

// linkState is the decoded form of one link word.
//
// A free slot carries the number of the next free slot (0 ends the list).
// An allocated slot carries nothing but the flag.
type linkState struct {
	allocated bool
	next      uint32
}

func decodeLink(word uint32) linkState {
	if word&linkAllocated != 0 {
		return linkState{allocated: true}
	}

	return linkState{next: word}
}

func (s linkState) encode() uint32 {
	if s.allocated {
		return linkAllocated
	}

	return s.next &^ linkAllocated
}

// bucket is a fixed-capacity free-list allocator persisted inside a mapped
// region. Slots are numbered 1..capacity.
//
// The free list is threaded through the link words themselves: head is popped
// by alloc, and free pushes onto head, so recently freed slots are reused
// first. The mapped header is the only copy of used/head/tail.
type bucket struct {
	name     string
	header   []byte
	links    []byte
	capacity uint32
}

// newBucket wraps buf, which must be exactly bucketSize(capacity) bytes.
// It neither initializes nor validates the contents; see initialize and check.
func newBucket(name string, buf []byte, capacity uint32) (*bucket, error) {
	if capacity == 0 || capacity >= linkAllocated {
		return nil, fmt.Errorf("%s slots: capacity %d not in [1, %d): %w", name, capacity, linkAllocated, ErrInvalidInput)
	}

	if len(buf) != bucketSize(capacity) {
		return nil, fmt.Errorf("%s slots: buffer is %d bytes, capacity %d needs %d: %w",
			name, len(buf), capacity, bucketSize(capacity), ErrInvalidInput)
	}

	return &bucket{
		name:     name,
		header:   buf[:bucketHeaderSize],
		links:    buf[bucketHeaderSize:],
		capacity: capacity,
	}, nil
}

func (b *bucket) getHeader(off int) uint32 {
	return binary.LittleEndian.Uint32(b.header[off:])
}

func (b *bucket) putHeader(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.header[off:], v)
}

func (b *bucket) link(slot uint32) linkState {
	return decodeLink(binary.LittleEndian.Uint32(b.links[int(slot)*bucketLinkSize:]))
}

func (b *bucket) setLinkState(slot uint32, s linkState) {
	binary.LittleEndian.PutUint32(b.links[int(slot)*bucketLinkSize:], s.encode())
}

func (b *bucket) head() uint32 { return b.getHeader(offBucketHead) }
func (b *bucket) tail() uint32 { return b.getHeader(offBucketTail) }

// initialize writes an empty allocator: every slot free, chained 1 -> 2 ->
// ... -> capacity. The region must be fresh (version 0).
func (b *bucket) initialize() error {
	version := b.getHeader(offBucketVersion)
	if version != 0 {
		return fmt.Errorf("%s slots: initialize over existing version 0x%x: %w", b.name, version, ErrCorrupt)
	}

	b.setLinkState(0, linkState{})

	for slot := uint32(1); slot < b.capacity; slot++ {
		b.setLinkState(slot, linkState{next: slot + 1})
	}

	b.setLinkState(b.capacity, linkState{})

	b.putHeader(offBucketCapacity, b.capacity)
	b.putHeader(offBucketUsed, 0)
	b.putHeader(offBucketHead, 1)
	b.putHeader(offBucketTail, b.capacity)
	b.putHeader(offBucketVersion, bucketVersion)

	return nil
}

// check validates a previously initialized allocator against the declared
// capacity. It never repairs anything.
func (b *bucket) check() error {
	version := b.getHeader(offBucketVersion)
	if version != bucketVersion {
		return fmt.Errorf("%s slots: version 0x%x, expected 0x%x: %w", b.name, version, bucketVersion, ErrIncompatible)
	}

	capacity := b.getHeader(offBucketCapacity)
	if capacity != b.capacity {
		return fmt.Errorf("%s slots: capacity mismatch: file has %d, expected %d: %w", b.name, capacity, b.capacity, ErrIncompatible)
	}

	for _, field := range []struct {
		name string
		off  int
	}{
		{"used", offBucketUsed},
		{"head", offBucketHead},
		{"tail", offBucketTail},
	} {
		v := b.getHeader(field.off)
		if v > b.capacity {
			return fmt.Errorf("%s slots: %s %d > capacity %d: %w", b.name, field.name, v, b.capacity, ErrCorrupt)
		}
	}

	return nil
}

// alloc pops the head of the free list and marks it allocated.
// The returned slot is always >= 1.
func (b *bucket) alloc() (uint32, error) {
	if b.isFull() {
		return 0, fmt.Errorf("%s slots: all %d in use: %w", b.name, b.capacity, ErrFull)
	}

	head, tail := b.head(), b.tail()
	if head == 0 || tail == 0 {
		return 0, fmt.Errorf("%s slots: empty free list (head=%d, tail=%d) with %d idle: %w",
			b.name, head, tail, b.idle(), ErrCorrupt)
	}

	state := b.link(head)
	if state.allocated || state.next > b.capacity {
		return 0, fmt.Errorf("%s slots: free list head %d is not a free slot: %w", b.name, head, ErrCorrupt)
	}

	b.setLinkState(head, linkState{allocated: true})
	b.putHeader(offBucketHead, state.next)
	b.putHeader(offBucketUsed, b.used()+1)

	if state.next == 0 {
		b.putHeader(offBucketTail, 0)
	}

	return head, nil
}

// free returns slot to the head of the free list. It reports false, and
// changes nothing, when slot is out of range or not allocated.
func (b *bucket) free(slot uint32) bool {
	if slot == 0 || slot > b.capacity {
		return false
	}

	if !b.link(slot).allocated {
		return false
	}

	head := b.head()
	if head == 0 {
		b.setLinkState(slot, linkState{})
		b.putHeader(offBucketHead, slot)
		b.putHeader(offBucketTail, slot)
	} else {
		b.setLinkState(slot, linkState{next: head})
		b.putHeader(offBucketHead, slot)
	}

	b.putHeader(offBucketUsed, b.used()-1)

	return true
}

// hasLink reports whether slot is allocated.
func (b *bucket) hasLink(slot uint32) (bool, error) {
	if slot == 0 || slot > b.capacity {
		return false, fmt.Errorf("%s slots: slot %d not in [1, %d]: %w", b.name, slot, b.capacity, ErrInvalidInput)
	}

	return b.link(slot).allocated, nil
}

func (b *bucket) used() uint32  { return b.getHeader(offBucketUsed) }
func (b *bucket) idle() uint32  { return b.capacity - b.used() }
func (b *bucket) isFull() bool  { return b.used() >= b.capacity }
func (b *bucket) isEmpty() bool { return b.used() == 0 }

// setLink writes a free link word. Only the index rebuild uses it; the
// caller finishes with setUsedAndLink.
func (b *bucket) setLink(slot, next uint32) {
	b.setLinkState(slot, linkState{next: next})
}

// setLinkUsed marks slot allocated without touching the free list.
func (b *bucket) setLinkUsed(slot uint32) {
	b.setLinkState(slot, linkState{allocated: true})
}

// setUsedAndLink overwrites the header counters after a rebuild.
func (b *bucket) setUsedAndLink(used, head, tail uint32) {
	b.putHeader(offBucketHead, head)
	b.putHeader(offBucketTail, tail)
	b.putHeader(offBucketUsed, used)
}

// verify walks the whole allocator and returns every disagreement between
// the link words and the header. A nil result means the allocator is sound.
func (b *bucket) verify() []string {
	var problems []string

	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("%s slots: ", b.name)+fmt.Sprintf(format, args...))
	}

	var allocated uint32

	for slot := uint32(1); slot <= b.capacity; slot++ {
		if b.link(slot).allocated {
			allocated++
		}
	}

	used := b.used()
	if allocated != used {
		report("%d slots flagged allocated, header says %d", allocated, used)
	}

	head, tail := b.head(), b.tail()
	if (head == 0) != (used == b.capacity) {
		report("head %d inconsistent with used %d of %d", head, used, b.capacity)
	}

	if (tail == 0) != (used == b.capacity) {
		report("tail %d inconsistent with used %d of %d", tail, used, b.capacity)
	}

	var (
		walked uint32
		last   uint32
	)

	for slot := head; slot != 0; {
		if slot > b.capacity {
			report("free list reaches out-of-range slot %d", slot)

			break
		}

		state := b.link(slot)
		if state.allocated {
			report("free list reaches allocated slot %d", slot)

			break
		}

		walked++
		if walked > b.capacity {
			report("free list does not terminate within %d hops", b.capacity)

			break
		}

		last = slot
		slot = state.next
	}

	if walked != b.capacity-allocated {
		report("free list has %d slots, expected %d", walked, b.capacity-allocated)
	}

	if last != tail {
		report("free list ends at %d, tail is %d", last, tail)
	}

	return problems
}

func (b *bucket) String() string {
	return fmt.Sprintf("%s slots [capacity=%d, used=%d, head=%d, tail=%d]",
		b.name, b.capacity, b.used(), b.head(), b.tail())
}
