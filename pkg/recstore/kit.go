package recstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/recstore/pkg/mmap"
)

// KitOptions configures [OpenKit]. The sizing fields must match the ones
// the store was created with.
type KitOptions struct {
	Path            string
	RecordCount     int
	RecordSize      int
	MaxDataFileSize int64

	// Logger receives progress and warnings. Nil means no logging.
	Logger *zap.Logger
}

// Entry is one stored record as seen by [Kit.Scan].
type Entry struct {
	Pos       uint32
	Key       int64
	Value     []byte
	Timestamp uint32
}

// RebuildReport summarizes [Kit.RebuildIndex].
type RebuildReport struct {
	// Indexed is the number of records added to the new index.
	Indexed int

	// Free is the number of positions chained into the free list.
	Free int

	// Duplicates counts records dropped because a higher position holds the
	// same key.
	Duplicates int

	// Invalid counts records with a non-positive key or a length that does
	// not fit the slot. They are cleared and treated as free.
	Invalid int

	// ConflictUsed is the conflict slot count of the new index.
	ConflictUsed int

	Elapsed time.Duration
}

// ResizeReport summarizes [Kit.Resize].
type ResizeReport struct {
	// Copied is the number of records written to the destination.
	Copied int

	// Rebuild is the result of indexing the destination.
	Rebuild RebuildReport
}

// Kit works directly on the data files of a store that is not open.
//
// It never reads the index file, so it can recover a store whose index is
// lost or damaged. A Kit is not safe for concurrent use, and no [Store] may
// have the same files open while a Kit uses them.
type Kit struct {
	layout  layout
	regions []*mmap.Region
	logger  *zap.Logger

	isClosed bool
}

// OpenKit maps the data files of the store at opts.Path. Every data file
// must exist with the size implied by the sizing options.
func OpenKit(opts KitOptions) (*Kit, error) {
	l, err := computeLayout(opts.Path, opts.RecordCount, opts.RecordSize, opts.MaxDataFileSize)
	if err != nil {
		return nil, err
	}

	regions, err := mapDataFiles(l, mmap.AttachOnly)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Kit{
		layout:  l,
		regions: regions,
		logger:  logger.With(zap.String("path", l.path)),
	}, nil
}

// Info returns the sizing the Kit was opened with.
func (k *Kit) Info() Info {
	return k.layout.info()
}

func (k *Kit) record(pos uint32) record {
	return recordAt(k.layout, k.regions, pos)
}

// Scan calls fn for every record with a positive key, in ascending position
// order, until fn returns false. Entry.Value is a copy.
//
// Possible errors: [ErrClosed], [ErrCorrupt] for a record whose length does
// not fit its slot.
func (k *Kit) Scan(fn func(Entry) bool) error {
	return k.ScanSince(0, fn)
}

// ScanSince is like [Kit.Scan] but skips records whose timestamp is older
// than minTimestamp (unix seconds).
func (k *Kit) ScanSince(minTimestamp uint32, fn func(Entry) bool) error {
	if k.isClosed {
		return ErrClosed
	}

	for pos := uint32(1); pos <= k.layout.geom.dataCapacity; pos++ {
		rec := k.record(pos)
		if rec.key() <= 0 {
			continue
		}

		if !rec.payloadOK() {
			return fmt.Errorf("record %d: key %d has length %d: %w", pos, rec.key(), rec.length(), ErrCorrupt)
		}

		if rec.timestamp() < minTimestamp {
			continue
		}

		entry := Entry{
			Pos:       pos,
			Key:       rec.key(),
			Value:     append([]byte(nil), rec.payload()...),
			Timestamp: rec.timestamp(),
		}

		if !fn(entry) {
			return nil
		}
	}

	return nil
}

// RebuildIndex creates a fresh index file from the data files.
//
// The index file must not exist ([ErrExists]). Positions are visited from
// the highest down, so when a key appears twice the higher position wins and
// the lower copy is cleared. Every position not indexed is chained into the
// free list such that the lowest free position is allocated first.
func (k *Kit) RebuildIndex() (RebuildReport, error) {
	if k.isClosed {
		return RebuildReport{}, ErrClosed
	}

	start := time.Now()

	region, idx, err := createIndex(k.layout)
	if err != nil {
		return RebuildReport{}, err
	}

	k.logger.Info("rebuilding index", zap.Int("record_count", int(k.layout.geom.dataCapacity)))

	report, err := k.fillIndex(idx)
	if err == nil {
		err = region.Flush()
	}

	closeErr := region.Close()

	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(region.Path())

		return RebuildReport{}, fmt.Errorf("rebuild index: %w", err)
	}

	report.Elapsed = time.Since(start)

	k.logger.Info("rebuilt index",
		zap.Int("indexed", report.Indexed),
		zap.Int("free", report.Free),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("invalid", report.Invalid),
		zap.Int("conflict_used", report.ConflictUsed),
		zap.Duration("elapsed", report.Elapsed),
	)

	return report, nil
}

func (k *Kit) fillIndex(idx *index) (RebuildReport, error) {
	var (
		report     RebuildReport
		head, tail uint32
	)

	chainFree := func(pos uint32) {
		if head == 0 {
			tail = pos
		}

		idx.dataSlots.setLink(pos, head)
		head = pos
		report.Free++
	}

	for pos := k.layout.geom.dataCapacity; pos > 0; pos-- {
		rec := k.record(pos)
		key := rec.key()

		if key == 0 && rec.length() == 0 {
			chainFree(pos)

			continue
		}

		if key <= 0 || !rec.payloadOK() {
			k.logger.Warn("clearing invalid record",
				zap.Uint32("pos", pos), zap.Int64("key", key), zap.Int32("length", rec.length()))
			rec.clearHeader()
			report.Invalid++
			chainFree(pos)

			continue
		}

		_, dup, err := idx.lookup(key)
		if err != nil {
			return report, err
		}

		if dup {
			k.logger.Warn("clearing duplicate record", zap.Uint32("pos", pos), zap.Int64("key", key))
			rec.clearHeader()
			report.Duplicates++
			chainFree(pos)

			continue
		}

		err = idx.insert(key, pos)
		if err != nil {
			return report, fmt.Errorf("record %d key %d: %w", pos, key, err)
		}

		idx.dataSlots.setLinkUsed(pos)
		report.Indexed++
	}

	idx.dataSlots.setUsedAndLink(uint32(report.Indexed), head, tail)
	report.ConflictUsed = int(idx.conflictUsed())

	return report, nil
}

// Resize copies every live record into a new store at dst with the given
// sizing, then builds its index. The new store uses the same maximum data
// file size as the source.
//
// Records are packed into positions 1..n in source order, keeping key, value
// and timestamp. No file at dst may exist ([ErrExists]). Before anything is
// created, Resize fails with [ErrFull] when the live records outnumber
// recordCount and with [ErrTooLarge] when a value does not fit recordSize.
func (k *Kit) Resize(dst string, recordCount, recordSize int) (ResizeReport, error) {
	if k.isClosed {
		return ResizeReport{}, ErrClosed
	}

	if dst == k.layout.path {
		return ResizeReport{}, fmt.Errorf("resize destination is the source %q: %w", dst, ErrInvalidInput)
	}

	dl, err := computeLayout(dst, recordCount, recordSize, k.layout.maxFileSize)
	if err != nil {
		return ResizeReport{}, err
	}

	_, err = os.Stat(IndexPath(dst))
	if err == nil {
		return ResizeReport{}, fmt.Errorf("%s: %w", IndexPath(dst), ErrExists)
	}

	var (
		maxPayload = dl.slotSize - recordOverhead
		live       int
		tooLarge   error
	)

	err = k.Scan(func(e Entry) bool {
		live++

		if len(e.Value) > maxPayload {
			tooLarge = fmt.Errorf("record %d key %d is %d bytes, max %d: %w", e.Pos, e.Key, len(e.Value), maxPayload, ErrTooLarge)

			return false
		}

		return true
	})
	if err != nil {
		return ResizeReport{}, err
	}

	if tooLarge != nil {
		return ResizeReport{}, tooLarge
	}

	if live > recordCount {
		return ResizeReport{}, fmt.Errorf("%d live records, record_count %d: %w", live, recordCount, ErrFull)
	}

	regions, err := mapDataFiles(dl, mmap.CreateOnly)
	if err != nil {
		return ResizeReport{}, err
	}

	dstKit := &Kit{layout: dl, regions: regions, logger: k.logger.With(zap.String("dst", dst))}

	report, err := k.copyInto(dstKit)
	if err == nil {
		report.Rebuild, err = dstKit.RebuildIndex()
	}

	closeErr := dstKit.Close()

	if err == nil {
		err = closeErr
	}

	if err != nil {
		for i := range dl.fileSizes {
			_ = os.Remove(DataPath(dst, i))
		}

		return ResizeReport{}, fmt.Errorf("resize to %s: %w", dst, err)
	}

	k.logger.Info("resized store",
		zap.String("dst", dst),
		zap.Int("record_count", recordCount),
		zap.Int("record_size", recordSize),
		zap.Int("copied", report.Copied),
	)

	return report, nil
}

func (k *Kit) copyInto(dst *Kit) (ResizeReport, error) {
	var report ResizeReport

	next := uint32(1)

	err := k.Scan(func(e Entry) bool {
		rec := dst.record(next)
		rec.setKey(e.Key)
		rec.setPayload(e.Value)
		rec.setTimestamp(e.Timestamp)

		next++
		report.Copied++

		return true
	})
	if err != nil {
		return report, err
	}

	var g errgroup.Group

	for _, r := range dst.regions {
		g.Go(r.Flush)
	}

	return report, g.Wait()
}

// Close unmaps the data files. Close is idempotent.
func (k *Kit) Close() error {
	if k.isClosed {
		return nil
	}

	k.isClosed = true

	errs := make([]error, 0, len(k.regions))
	for _, r := range k.regions {
		errs = append(errs, r.Close())
	}

	return errors.Join(errs...)
}
