package recstore

import "fmt"

// maxVerifyProblems bounds the report so a badly damaged store does not
// produce one line per slot.
const maxVerifyProblems = 100

// VerifyReport is the result of [Store.Verify].
type VerifyReport struct {
	// Indexed is the number of keys reachable through the index.
	Indexed int

	// Used is the data allocator's used count.
	Used int

	// ConflictUsed is the index header's conflict count.
	ConflictUsed int

	// Problems lists every inconsistency found, capped at 100 entries.
	// Empty means the store is sound.
	Problems []string
}

// OK reports whether no problems were found.
func (r VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *VerifyReport) addf(format string, args ...any) {
	if len(r.Problems) < maxVerifyProblems {
		r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	}
}

// Verify walks every structure of the store and cross-checks them:
// both allocators, every hash chain, and every record the index points at.
//
// Verify only reads. Problems are returned in the report; the error is
// non-nil only when the store cannot be read at all.
//
// Possible errors: [ErrClosed].
func (s *Store) Verify() (VerifyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return VerifyReport{}, ErrClosed
	}

	return verifyIndex(s.idx, s.record), nil
}

func verifyIndex(x *index, recordOf func(uint32) record) VerifyReport {
	report := VerifyReport{
		Used:         int(x.used()),
		ConflictUsed: int(x.conflictUsed()),
	}

	for _, p := range x.dataSlots.verify() {
		report.addf("%s", p)
	}

	for _, p := range x.conflictSlots.verify() {
		report.addf("%s", p)
	}

	var primaries int

	for n := range x.geom.hashSlots {
		s := hashSlot(x.hash[int(n)*hashSlotSize : int(n+1)*hashSlotSize])
		if s.key() != 0 {
			primaries++
		}
	}

	owner := make(map[uint32]int64, report.Used)

	err := x.forEach(func(key int64, pos uint32) {
		report.Indexed++

		if key <= 0 {
			report.addf("index holds non-positive key %d", key)

			return
		}

		if pos == 0 || pos > x.geom.dataCapacity {
			report.addf("key %d: position %d out of range", key, pos)

			return
		}

		if prev, dup := owner[pos]; dup {
			report.addf("key %d: position %d already indexed for key %d", key, pos, prev)

			return
		}

		owner[pos] = key

		if !x.dataSlots.link(pos).allocated {
			report.addf("key %d: position %d is not allocated", key, pos)
		}

		rec := recordOf(pos)
		if rec.key() != key {
			report.addf("key %d: record %d holds key %d", key, pos, rec.key())
		}

		if !rec.payloadOK() {
			report.addf("key %d: record %d has length %d", key, pos, rec.length())
		}
	})
	if err != nil {
		report.addf("%v", err)
	} else if chained := report.Indexed - primaries; chained != report.ConflictUsed {
		report.addf("%d keys in conflict chains, header says %d", chained, report.ConflictUsed)
	}

	if report.Indexed != report.Used {
		report.addf("%d keys indexed, %d data slots in use", report.Indexed, report.Used)
	}

	for pos := uint32(1); pos <= x.geom.dataCapacity; pos++ {
		allocated := x.dataSlots.link(pos).allocated
		_, indexed := owner[pos]

		switch {
		case allocated && !indexed:
			report.addf("position %d is allocated but not indexed", pos)
		case !allocated && recordOf(pos).key() != 0:
			report.addf("free position %d holds key %d", pos, recordOf(pos).key())
		}
	}

	return report
}
