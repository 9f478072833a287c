// Package mmap maps a single file fully into memory as a shared, writable
// byte slice.
//
// A [Region] is the unit the record store is built from: one index file and a
// set of data files, each mapped exactly once. Mappings are capped at
// [MaxSize] bytes, which is why callers spread large data sets over several
// files.
//
// Flushing is explicit and coarse. Dirty pages are written back by the kernel
// on its own schedule; [Region.Flush] forces a synchronous write-back and is
// meant for checkpoints and shutdown, not for every write.
package mmap

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MaxSize is the largest mapping this package creates (2^31 - 1 bytes).
const MaxSize = 1<<31 - 1

const filePerm = 0o600

var (
	// ErrSize is returned when the requested size is out of range or an
	// existing file does not have the requested size.
	ErrSize = errors.New("mmap: bad size")

	// ErrExists is returned by [Create] when the file already exists.
	ErrExists = errors.New("mmap: file exists")

	// ErrNotExist is returned by [Attach] when the file does not exist.
	ErrNotExist = errors.New("mmap: file does not exist")

	// ErrClosed is returned when using a closed region.
	ErrClosed = errors.New("mmap: closed")
)

// Mode selects how [Open] treats a missing or existing file.
type Mode int

const (
	// OpenOrCreate maps an existing file or creates a zero-filled one.
	OpenOrCreate Mode = iota

	// CreateOnly fails with [ErrExists] if the file is already present.
	CreateOnly

	// AttachOnly fails with [ErrNotExist] if the file is missing.
	AttachOnly
)

// Region is one file mapped read-write with MAP_SHARED.
//
// Region is not safe for concurrent Close; callers serialise lifecycle calls.
type Region struct {
	path    string
	file    *os.File
	data    []byte
	created bool
}

// Create maps a new file of exactly size bytes.
func Create(path string, size int64) (*Region, error) {
	return Open(path, size, CreateOnly)
}

// Attach maps an existing file that must be exactly size bytes.
func Attach(path string, size int64) (*Region, error) {
	return Open(path, size, AttachOnly)
}

// Open maps path with the given size.
//
// A newly created file is truncated to size, which leaves it sparse and
// zero-filled. An existing file must already be exactly size bytes; a
// mismatch returns [ErrSize] without modifying the file.
func Open(path string, size int64, mode Mode) (*Region, error) {
	if size <= 0 || size > MaxSize {
		return nil, errors.Wrapf(ErrSize, "%s: size %d not in [1, %d]", path, size, int64(MaxSize))
	}

	flags := os.O_RDWR

	switch mode {
	case OpenOrCreate:
		flags |= os.O_CREATE
	case CreateOnly:
		flags |= os.O_CREATE | os.O_EXCL
	case AttachOnly:
	default:
		return nil, errors.Errorf("mmap: unknown mode %d", mode)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	file, err := os.OpenFile(path, flags, filePerm) //nolint:gosec // path is from caller
	if err != nil {
		switch {
		case os.IsExist(err):
			return nil, errors.Wrap(ErrExists, path)
		case os.IsNotExist(err):
			return nil, errors.Wrap(ErrNotExist, path)
		default:
			return nil, errors.WithStack(err)
		}
	}

	region, err := mapFile(file, path, size, existed)
	if err != nil {
		_ = file.Close()

		if !existed {
			_ = os.Remove(path)
		}

		return nil, err
	}

	return region, nil
}

func mapFile(file *os.File, path string, size int64, existed bool) (*Region, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	switch {
	case info.Size() == size:
	case info.Size() == 0 && !existed:
		err = unix.Ftruncate(int(file.Fd()), size)
		if err != nil {
			return nil, errors.Wrapf(err, "ftruncate %s", path)
		}
	default:
		return nil, errors.Wrapf(ErrSize, "%s: file has %d bytes, expected %d", path, info.Size(), size)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}

	return &Region{
		path:    path,
		file:    file,
		data:    data,
		created: !existed,
	}, nil
}

// Bytes returns the mapped memory. The slice is invalid after Close.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the mapping length in bytes.
func (r *Region) Size() int {
	return len(r.data)
}

// Path returns the mapped file path.
func (r *Region) Path() string {
	return r.path
}

// Created reports whether Open created the file.
func (r *Region) Created() bool {
	return r.created
}

// Flush synchronously writes every dirty page of the mapping to disk.
func (r *Region) Flush() error {
	if r.data == nil {
		return ErrClosed
	}

	err := unix.Msync(r.data, unix.MS_SYNC)
	if err != nil {
		return errors.Wrapf(err, "msync %s", r.path)
	}

	return nil
}

// FlushRange synchronously writes back the pages covering [offset, offset+length).
//
// The range is widened to page boundaries; some platforms reject unaligned
// msync ranges.
func (r *Region) FlushRange(offset, length int) error {
	if r.data == nil {
		return ErrClosed
	}

	if length <= 0 || offset < 0 || offset >= len(r.data) {
		return errors.Wrapf(ErrSize, "flush range [%d, +%d) outside mapping of %d bytes", offset, length, len(r.data))
	}

	end := min(offset+length, len(r.data))
	start := (offset / pageSize) * pageSize
	end = min(((end+pageSize-1)/pageSize)*pageSize, len(r.data))

	err := unix.Msync(r.data[start:end], unix.MS_SYNC)
	if err != nil {
		return errors.Wrapf(err, "msync %s", r.path)
	}

	return nil
}

// Close unmaps the region and closes the file. Close does not flush.
// Calling Close more than once returns nil.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}

	unmapErr := unix.Munmap(r.data)
	r.data = nil

	closeErr := r.file.Close()

	if unmapErr != nil {
		return errors.Wrapf(unmapErr, "munmap %s", r.path)
	}

	if closeErr != nil {
		return errors.WithStack(closeErr)
	}

	return nil
}

var pageSize = unix.Getpagesize()
