package recstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/recstore/pkg/mmap"
)

// Options configures [Open].
type Options struct {
	// Path is the file prefix. The store uses Path.idx and Path.dat0,
	// Path.dat1, ...
	Path string

	// RecordCount is the number of records the store can hold.
	RecordCount int

	// RecordSize is the declared record size. Each slot is RecordSize+12
	// bytes and accepts values of up to RecordSize-4 bytes.
	RecordSize int

	// MaxDataFileSize caps the size of one data file.
	// Zero means [mmap.MaxSize].
	MaxDataFileSize int64

	// StatsInterval is the gap between usage reports.
	// Zero means [DefaultStatsInterval]; negative disables reporting.
	StatsInterval time.Duration

	// Logger receives usage reports and open-time notices.
	// Nil means no logging.
	Logger *zap.Logger

	// Now is the clock used for record timestamps and report scheduling.
	// Nil means [time.Now].
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StatsInterval == 0 {
		o.StatsInterval = DefaultStatsInterval
	}

	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

// Store is an open record store.
//
// All methods are safe for concurrent use. Reads share a read lock and
// mutations take the write lock.
//
// A Store must be obtained via [Open]; the zero value is not usable.
type Store struct {
	_ [0]func() // prevent external construction

	// mu guards every mapped byte and isClosed.
	mu sync.RWMutex

	layout layout

	indexRegion *mmap.Region
	dataRegions []*mmap.Region
	idx         *index

	stats  *stats
	logger *zap.Logger
	now    func() time.Time

	isClosed bool
}

// Open opens the store at opts.Path, creating any missing file.
//
// A missing index file is created and initialized. An existing one must match
// the configured sizing exactly, otherwise [ErrIncompatible] names the first
// mismatched field. Data files are created zero-filled only together with a
// new index; an existing index whose data files are gone fails with
// [ErrCorrupt]. Existing data files must have the expected size.
//
// Files created by a failed Open are removed again.
func Open(opts Options) (*Store, error) {
	opts = opts.withDefaults()

	l, err := computeLayout(opts.Path, opts.RecordCount, opts.RecordSize, opts.MaxDataFileSize)
	if err != nil {
		return nil, err
	}

	idxRegion, idx, err := openIndex(l)
	if err != nil {
		return nil, err
	}

	dataMode := mmap.OpenOrCreate
	if !idxRegion.Created() {
		dataMode = mmap.AttachOnly
	}

	dataRegions, err := mapDataFiles(l, dataMode)
	if err != nil {
		_ = idxRegion.Close()

		if idxRegion.Created() {
			_ = os.Remove(idxRegion.Path())
		}

		return nil, err
	}

	logger := opts.Logger.With(zap.String("path", l.path))

	if idxRegion.Created() {
		reused := 0

		for _, r := range dataRegions {
			if !r.Created() {
				reused++
			}
		}

		if reused > 0 {
			logger.Warn("created an empty index over existing data files; records stay unreachable until the index is rebuilt",
				zap.Int("data_files", reused))
		}
	}

	logger.Debug("opened store",
		zap.Bool("created", idxRegion.Created()),
		zap.Int("record_count", opts.RecordCount),
		zap.Int("record_size", opts.RecordSize),
		zap.Int("data_files", len(dataRegions)),
		zap.Uint32("used", idx.used()),
	)

	return &Store{
		layout:      l,
		indexRegion: idxRegion,
		dataRegions: dataRegions,
		idx:         idx,
		stats:       newStats(opts.Logger, opts.StatsInterval, opts.Now),
		logger:      logger,
		now:         opts.Now,
	}, nil
}

// openIndex maps the index file, initializing it when it does not exist.
func openIndex(l layout) (*mmap.Region, *index, error) {
	path := IndexPath(l.path)

	region, err := mmap.Open(path, l.indexSize(), mmap.OpenOrCreate)
	if err != nil {
		if errors.Is(err, mmap.ErrSize) {
			headerErr := readIndexHeader(path, l.geom)
			if errors.Is(headerErr, ErrIncompatible) {
				return nil, nil, fmt.Errorf("%s: %w", path, headerErr)
			}
		}

		return nil, nil, mapOpenError(path, err)
	}

	idx, err := newIndex(region.Bytes(), l.geom)
	if err == nil {
		if region.Created() {
			err = idx.initialize()
		} else {
			err = idx.check()
		}
	}

	if err != nil {
		_ = region.Close()

		if region.Created() {
			_ = os.Remove(path)
		}

		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	return region, idx, nil
}

// readIndexHeader checks the header of an index file that could not be
// mapped. The index size follows from the record count, so a different count
// shows up as a size mismatch long before the header is mapped.
func readIndexHeader(path string, g indexGeometry) error {
	f, err := os.Open(path) //nolint:gosec // path is derived from Options.Path
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	header := make([]byte, indexHeaderSize)

	_, err = io.ReadFull(f, header)
	if err != nil {
		return err
	}

	return checkHeader(header, g)
}

// createIndex maps a new index file that must not exist yet.
func createIndex(l layout) (*mmap.Region, *index, error) {
	path := IndexPath(l.path)

	region, err := mmap.Create(path, l.indexSize())
	if err != nil {
		return nil, nil, mapOpenError(path, err)
	}

	idx, err := newIndex(region.Bytes(), l.geom)
	if err == nil {
		err = idx.initialize()
	}

	if err != nil {
		_ = region.Close()
		_ = os.Remove(path)

		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	return region, idx, nil
}

// mapDataFiles maps every data file of l concurrently. On failure every
// mapped region is closed and files created here are removed.
func mapDataFiles(l layout, mode mmap.Mode) ([]*mmap.Region, error) {
	regions := make([]*mmap.Region, len(l.fileSizes))

	var g errgroup.Group

	for i, size := range l.fileSizes {
		g.Go(func() error {
			path := DataPath(l.path, i)

			r, err := mmap.Open(path, size, mode)
			if err != nil {
				return mapOpenError(path, err)
			}

			regions[i] = r

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		for _, r := range regions {
			if r == nil {
				continue
			}

			_ = r.Close()

			if r.Created() {
				_ = os.Remove(r.Path())
			}
		}

		return nil, err
	}

	return regions, nil
}

// mapOpenError translates mapping errors into store errors.
func mapOpenError(path string, err error) error {
	switch {
	case errors.Is(err, mmap.ErrSize):
		return fmt.Errorf("%s: size mismatch: %w: %w", path, ErrIncompatible, err)
	case errors.Is(err, mmap.ErrExists):
		return fmt.Errorf("%s: %w: %w", path, ErrExists, err)
	case errors.Is(err, mmap.ErrNotExist):
		return fmt.Errorf("%s: missing: %w: %w", path, ErrCorrupt, err)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

// record returns the view of data position pos.
func (s *Store) record(pos uint32) record {
	return recordAt(s.layout, s.dataRegions, pos)
}

func recordAt(l layout, regions []*mmap.Region, pos uint32) record {
	file, off := l.locate(pos)

	return record(regions[file].Bytes()[off : off+l.slotSize])
}

func (s *Store) timestamp() uint32 {
	return uint32(s.now().Unix())
}

// maybeReport emits a usage report when one is due. The caller holds mu.
func (s *Store) maybeReport() {
	if s.stats.due() {
		s.stats.report(s.layout.path, s.snapshot())
	}
}

// Get returns a copy of the value stored under key.
//
// Returns (nil, false, nil) when key is not present.
//
// Possible errors: [ErrClosed], [ErrInvalidInput], [ErrCorrupt].
func (s *Store) Get(key int64) ([]byte, bool, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return nil, false, ErrClosed
	}

	defer s.stats.observe(opGet, start)

	s.maybeReport()

	pos, ok, err := s.idx.lookup(key)
	if err != nil || !ok {
		return nil, false, err
	}

	rec := s.record(pos)

	if rec.key() != key {
		return nil, false, fmt.Errorf("get key %d: record %d holds key %d: %w", key, pos, rec.key(), ErrCorrupt)
	}

	if !rec.payloadOK() {
		return nil, false, fmt.Errorf("get key %d: record %d has length %d: %w", key, pos, rec.length(), ErrCorrupt)
	}

	return bytes.Clone(rec.payload()), true, nil
}

// Contains reports whether key is present.
//
// Possible errors: [ErrClosed], [ErrInvalidInput], [ErrCorrupt].
func (s *Store) Contains(key int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return false, ErrClosed
	}

	_, ok, err := s.idx.lookup(key)

	return ok, err
}

// Put stores value under key, replacing any previous value in place.
//
// Values longer than [Info].MaxPayload are rejected with [ErrTooLarge]
// before anything is written. A new key needs a free data slot and, when
// its hash slot is taken, a free conflict slot; either shortage returns
// [ErrFull] and leaves the store as it was.
//
// Possible errors: [ErrClosed], [ErrInvalidInput], [ErrTooLarge], [ErrFull], [ErrCorrupt].
func (s *Store) Put(key int64, value []byte) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return ErrClosed
	}

	defer s.stats.observe(opPut, start)

	s.stats.observePayload(len(value))
	s.maybeReport()

	if key <= 0 {
		return fmt.Errorf("key must be > 0, got %d: %w", key, ErrInvalidInput)
	}

	if len(value)+recordOverhead > s.layout.slotSize {
		return fmt.Errorf("value is %d bytes, max %d: %w", len(value), s.layout.slotSize-recordOverhead, ErrTooLarge)
	}

	pos, ok, err := s.idx.lookup(key)
	if err != nil {
		return err
	}

	if ok {
		rec := s.record(pos)
		if rec.key() != key {
			return fmt.Errorf("put key %d: record %d holds key %d: %w", key, pos, rec.key(), ErrCorrupt)
		}

		rec.setPayload(value)
		rec.setTimestamp(s.timestamp())

		return nil
	}

	pos, err = s.idx.allocData()
	if err != nil {
		return fmt.Errorf("put key %d: %w", key, err)
	}

	rec := s.record(pos)
	rec.setKey(key)
	rec.setPayload(value)
	rec.setTimestamp(s.timestamp())

	err = s.idx.insert(key, pos)
	if err != nil {
		s.idx.freeData(pos)
		rec.clearHeader()

		return fmt.Errorf("put key %d: %w", key, err)
	}

	return nil
}

// Delete removes key. It reports whether key was present.
//
// Possible errors: [ErrClosed], [ErrInvalidInput], [ErrCorrupt].
func (s *Store) Delete(key int64) (bool, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return false, ErrClosed
	}

	defer s.stats.observe(opDelete, start)

	s.maybeReport()

	pos, ok, err := s.idx.lookup(key)
	if err != nil || !ok {
		return false, err
	}

	rec := s.record(pos)
	if rec.key() != key {
		return false, fmt.Errorf("delete key %d: record %d holds key %d: %w", key, pos, rec.key(), ErrCorrupt)
	}

	var header [offRecordPayload]byte
	copy(header[:], rec)
	rec.clearHeader()

	_, err = s.idx.remove(key)
	if err != nil {
		copy(rec, header[:])

		return false, err
	}

	s.idx.freeData(pos)

	return true, nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return 0, ErrClosed
	}

	return int(s.idx.used()), nil
}

// Idle returns the number of free record slots.
func (s *Store) Idle() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return 0, ErrClosed
	}

	return int(s.idx.idle()), nil
}

// Capacity returns the configured record count. It never changes.
func (s *Store) Capacity() int {
	return int(s.layout.geom.dataCapacity)
}

// IsEmpty reports whether the store holds no records.
func (s *Store) IsEmpty() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return false, ErrClosed
	}

	return s.idx.isEmpty(), nil
}

// IsFull reports whether every record slot is taken.
func (s *Store) IsFull() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return false, ErrClosed
	}

	return s.idx.isFull(), nil
}

// ConflictUsed returns the number of conflict slots in use.
func (s *Store) ConflictUsed() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return 0, ErrClosed
	}

	return int(s.idx.conflictUsed()), nil
}

// Info returns the sizing of the store.
func (s *Store) Info() Info {
	return s.layout.info()
}

// Stats returns the current usage counters.
func (s *Store) Stats() (StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return StatsSnapshot{}, ErrClosed
	}

	return s.snapshot(), nil
}

func (s *Store) snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Used:             int(s.idx.used()),
		Capacity:         int(s.layout.geom.dataCapacity),
		ConflictUsed:     int(s.idx.conflictUsed()),
		ConflictCapacity: int(s.layout.geom.conflictCapacity),
		SlotSize:         s.layout.slotSize,
	}
	s.stats.counters(&snap)

	return snap
}

// Flush synchronously writes every mapped file back to disk.
//
// Writes reach the page cache immediately and survive a process crash
// without Flush; Flush is only needed to survive an OS crash or power loss.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return ErrClosed
	}

	var g errgroup.Group

	g.Go(s.indexRegion.Flush)

	for _, r := range s.dataRegions {
		g.Go(r.Flush)
	}

	return g.Wait()
}

// Close unmaps every file. It does not flush; see [Store.Flush].
//
// After Close, all other methods return [ErrClosed].
// Close is idempotent; subsequent calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return nil
	}

	s.isClosed = true
	s.idx = nil

	errs := []error{s.indexRegion.Close()}
	for _, r := range s.dataRegions {
		errs = append(errs, r.Close())
	}

	s.logger.Debug("closed store")

	return errors.Join(errs...)
}
