package recstore

import (
	"fmt"
	"strconv"

	"github.com/calvinalkan/recstore/pkg/mmap"
)

// File name suffixes appended to a store path.
const (
	indexSuffix = ".idx"
	dataSuffix  = ".dat"
)

// IndexPath returns the index file path of the store at path.
func IndexPath(path string) string {
	return path + indexSuffix
}

// DataPath returns the path of data file i of the store at path.
func DataPath(path string, i int) string {
	return path + dataSuffix + strconv.Itoa(i)
}

// Info describes the sizing of a store.
type Info struct {
	Path             string
	RecordCount      int   // data capacity
	RecordSize       int   // declared record size
	SlotSize         int   // RecordSize + 12
	MaxPayload       int   // largest value Put accepts
	HashSlots        int   // primary hash slots
	ConflictCapacity int   // conflict slots
	RecordsPerFile   int   // slots per data file
	DataFiles        int   // number of .dat files
	IndexSize        int64 // bytes in the .idx file
	DataSize         int64 // bytes across all .dat files
}

// layout is the derived on-disk geometry of a store.
type layout struct {
	path           string
	geom           indexGeometry
	slotSize       int
	recordsPerFile int
	maxFileSize    int64
	fileSizes      []int64
}

// computeLayout validates the declared sizing and derives every file size.
//
// Data position p lives in file p/recordsPerFile at byte offset
// (p%recordsPerFile)*slotSize. Position 0 is never handed out, but its bytes
// exist so the arithmetic stays uniform.
func computeLayout(path string, recordCount, recordSize int, maxDataFileSize int64) (layout, error) {
	if path == "" {
		return layout{}, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if recordSize < minRecordSize || recordSize > maxRecordSize {
		return layout{}, fmt.Errorf("record_size %d not in [%d, %d]: %w", recordSize, minRecordSize, maxRecordSize, ErrInvalidInput)
	}

	hashSlots, conflictCapacity, err := Sizing(recordCount)
	if err != nil {
		return layout{}, err
	}

	if maxDataFileSize == 0 {
		maxDataFileSize = mmap.MaxSize
	}

	if maxDataFileSize < 0 || maxDataFileSize > mmap.MaxSize {
		return layout{}, fmt.Errorf("max_data_file_size %d not in [1, %d]: %w", maxDataFileSize, int64(mmap.MaxSize), ErrInvalidInput)
	}

	slotSize := recordSize + recordHeaderSize

	recordsPerFile := int(maxDataFileSize / int64(slotSize))
	if recordsPerFile < 1 {
		return layout{}, fmt.Errorf("max_data_file_size %d smaller than one record slot (%d bytes): %w",
			maxDataFileSize, slotSize, ErrInvalidInput)
	}

	l := layout{
		path: path,
		geom: indexGeometry{
			hashSlots:        uint32(hashSlots),
			conflictCapacity: uint32(conflictCapacity),
			dataCapacity:     uint32(recordCount),
			recordSize:       uint32(slotSize),
		},
		slotSize:       slotSize,
		recordsPerFile: recordsPerFile,
		maxFileSize:    maxDataFileSize,
	}

	if size := indexSize(l.geom); size > mmap.MaxSize {
		return layout{}, fmt.Errorf("record_count %d needs a %d byte index, max %d: %w",
			recordCount, size, int64(mmap.MaxSize), ErrInvalidInput)
	}

	perFile := int64(recordsPerFile) * int64(slotSize)
	for left := int64(recordCount+1) * int64(slotSize); left > 0; left -= perFile {
		l.fileSizes = append(l.fileSizes, min(left, perFile))
	}

	return l, nil
}

func (l layout) indexSize() int64 {
	return indexSize(l.geom)
}

// locate returns the data file number and byte offset of position pos.
func (l layout) locate(pos uint32) (int, int) {
	return int(pos) / l.recordsPerFile, (int(pos) % l.recordsPerFile) * l.slotSize
}

func (l layout) dataSize() int64 {
	var total int64
	for _, size := range l.fileSizes {
		total += size
	}

	return total
}

func (l layout) info() Info {
	return Info{
		Path:             l.path,
		RecordCount:      int(l.geom.dataCapacity),
		RecordSize:       l.slotSize - recordHeaderSize,
		SlotSize:         l.slotSize,
		MaxPayload:       l.slotSize - recordOverhead,
		HashSlots:        int(l.geom.hashSlots),
		ConflictCapacity: int(l.geom.conflictCapacity),
		RecordsPerFile:   l.recordsPerFile,
		DataFiles:        len(l.fileSizes),
		IndexSize:        l.indexSize(),
		DataSize:         l.dataSize(),
	}
}
