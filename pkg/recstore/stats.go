package recstore

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultStatsInterval is the gap between two usage reports.
const DefaultStatsInterval = time.Hour

// warnPercent is the utilization above which a report adds a warning.
const warnPercent = 90

type opKind int

const (
	opGet opKind = iota
	opPut
	opDelete
	opCount
)

func (k opKind) String() string {
	switch k {
	case opGet:
		return "get"
	case opPut:
		return "put"
	case opDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OpStats is the accumulated cost of one operation kind.
type OpStats struct {
	Calls   uint64
	Elapsed time.Duration
}

// StatsSnapshot is a point-in-time copy of a store's usage counters.
type StatsSnapshot struct {
	Get    OpStats
	Put    OpStats
	Delete OpStats

	// MaxPayload is the longest value passed to Put, including rejected ones.
	MaxPayload int

	Used             int
	Capacity         int
	ConflictUsed     int
	ConflictCapacity int
	SlotSize         int
}

// UsedPercent is Used as a whole percentage of Capacity.
func (s StatsSnapshot) UsedPercent() int {
	if s.Capacity == 0 {
		return 0
	}

	return s.Used * 100 / s.Capacity
}

// PayloadPercent is MaxPayload as a whole percentage of the slot size.
func (s StatsSnapshot) PayloadPercent() int {
	if s.SlotSize == 0 {
		return 0
	}

	return s.MaxPayload * 100 / s.SlotSize
}

type opCounter struct {
	calls atomic.Uint64
	nanos atomic.Int64
}

// stats holds the counters of one store. Counters are atomics so read-locked
// operations can update them.
type stats struct {
	ops        [opCount]opCounter
	maxPayload atomic.Int64

	// lastReport is the unix-nano time of the previous report. Whoever swaps
	// it first emits the next report.
	lastReport atomic.Int64

	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func newStats(logger *zap.Logger, interval time.Duration, now func() time.Time) *stats {
	s := &stats{interval: interval, logger: logger, now: now}
	s.lastReport.Store(now().UnixNano())

	return s
}

func (s *stats) observe(kind opKind, start time.Time) {
	c := &s.ops[kind]
	c.calls.Add(1)
	c.nanos.Add(int64(time.Since(start)))
}

func (s *stats) observePayload(n int) {
	for {
		cur := s.maxPayload.Load()
		if int64(n) <= cur || s.maxPayload.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// due reports whether a report is due and, if so, claims it.
func (s *stats) due() bool {
	if s.interval <= 0 {
		return false
	}

	now := s.now().UnixNano()
	last := s.lastReport.Load()

	if now-last < int64(s.interval) {
		return false
	}

	return s.lastReport.CompareAndSwap(last, now)
}

func (s *stats) counters(snap *StatsSnapshot) {
	load := func(kind opKind) OpStats {
		return OpStats{
			Calls:   s.ops[kind].calls.Load(),
			Elapsed: time.Duration(s.ops[kind].nanos.Load()),
		}
	}

	snap.Get = load(opGet)
	snap.Put = load(opPut)
	snap.Delete = load(opDelete)
	snap.MaxPayload = int(s.maxPayload.Load())
}

// report logs snap and the near-capacity warnings.
func (s *stats) report(path string, snap StatsSnapshot) {
	calls := snap.Get.Calls + snap.Put.Calls + snap.Delete.Calls
	elapsed := snap.Get.Elapsed + snap.Put.Elapsed + snap.Delete.Elapsed

	var opsPerSec float64
	if elapsed > 0 {
		opsPerSec = float64(calls) / elapsed.Seconds()
	}

	log := s.logger.With(zap.String("path", path))

	log.Info("recstore stats",
		zap.Uint64("get_calls", snap.Get.Calls),
		zap.Duration("get_elapsed", snap.Get.Elapsed),
		zap.Uint64("put_calls", snap.Put.Calls),
		zap.Duration("put_elapsed", snap.Put.Elapsed),
		zap.Uint64("delete_calls", snap.Delete.Calls),
		zap.Duration("delete_elapsed", snap.Delete.Elapsed),
		zap.Float64("ops_per_sec", opsPerSec),
		zap.Int("used", snap.Used),
		zap.Int("capacity", snap.Capacity),
		zap.Int("conflict_used", snap.ConflictUsed),
		zap.Int("conflict_capacity", snap.ConflictCapacity),
		zap.Int("max_payload", snap.MaxPayload),
		zap.Int("used_percent", snap.UsedPercent()),
		zap.Int("payload_percent", snap.PayloadPercent()),
	)

	if snap.UsedPercent() > warnPercent {
		log.Warn("recstore near capacity",
			zap.Int("used", snap.Used),
			zap.Int("capacity", snap.Capacity),
			zap.Int("used_percent", snap.UsedPercent()),
		)
	}

	if snap.PayloadPercent() > warnPercent {
		log.Warn("recstore near max payload size",
			zap.Int("max_payload", snap.MaxPayload),
			zap.Int("slot_size", snap.SlotSize),
			zap.Int("payload_percent", snap.PayloadPercent()),
		)
	}
}
