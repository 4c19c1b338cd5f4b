// Package mmapfile implements fixed-length memory-mapped files with a
// crash-safe header and grow/resize support. Every persistent structure in
// the engine that needs random byte access sits on a Region.
//
// A region file starts with a 32-byte header (magic, format version,
// payload length, snapshot counter) followed by the payload area. Resize
// unmaps, grows the file, and remaps; any previously obtained byte slices
// are invalidated and must be re-fetched through Data.
package mmapfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/genomewalker/chitta/internal/encoding"
)

// Header layout, little-endian:
//
//	0  u32 magic
//	4  u32 version
//	8  u64 payload length
//	16 u64 snapshot counter
//	24 u64 reserved
const HeaderSize = 32

var (
	// ErrCorruptHeader is returned when a file is empty, truncated, or
	// carries the wrong magic.
	ErrCorruptHeader = errors.New("mmapfile: corrupt header")

	// ErrIncompatibleVersion is returned when the on-disk format version
	// differs from what the caller expects. It is the signal to run the
	// migration path.
	ErrIncompatibleVersion = errors.New("mmapfile: incompatible format version")

	// ErrClosed is returned when operating on a closed region.
	ErrClosed = errors.New("mmapfile: region is closed")
)

// Region is a read/write memory-mapped file.
type Region struct {
	path   string
	f      *os.File
	m      mmap.MMap
	magic  uint32
	closed bool
}

// Create creates (or truncates) a region file with the given payload
// capacity and writes a fresh header.
func Create(path string, magic, version uint32, capacity int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: create %s: %w", path, err)
	}
	if err := f.Truncate(HeaderSize + capacity); err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: truncate %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: map %s: %w", path, err)
	}
	r := &Region{path: path, f: f, m: m, magic: magic}
	encoding.SetUint32(r.m, 0, magic)
	encoding.SetUint32(r.m, 4, version)
	encoding.SetUint64(r.m, 8, uint64(capacity))
	encoding.SetUint64(r.m, 16, 0)
	encoding.SetUint64(r.m, 24, 0)
	return r, nil
}

// Open maps an existing region file and validates its magic. An empty or
// truncated file yields ErrCorruptHeader. If expectVersion is non-zero and
// the stored version differs, ErrIncompatibleVersion is returned with the
// region left open so a migration can inspect it; callers that do not
// migrate must Close it.
func Open(path string, magic, expectVersion uint32) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: stat %s: %w", path, err)
	}
	if info.Size() < HeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorruptHeader, path, info.Size())
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: map %s: %w", path, err)
	}
	r := &Region{path: path, f: f, m: m, magic: magic}
	if encoding.Uint32(r.m, 0) != magic {
		r.Close()
		return nil, fmt.Errorf("%w: bad magic in %s", ErrCorruptHeader, path)
	}
	if stored := uint64(encoding.Uint64(r.m, 8)); int64(stored) > info.Size()-HeaderSize {
		r.Close()
		return nil, fmt.Errorf("%w: payload length %d exceeds file size", ErrCorruptHeader, stored)
	}
	if expectVersion != 0 && encoding.Uint32(r.m, 4) != expectVersion {
		return r, fmt.Errorf("%w: have %d, want %d", ErrIncompatibleVersion, encoding.Uint32(r.m, 4), expectVersion)
	}
	return r, nil
}

// Data returns the payload area. The slice is invalidated by Resize and
// Close; callers must not retain it across either.
func (r *Region) Data() []byte {
	return r.m[HeaderSize:]
}

// Len returns the payload capacity in bytes.
func (r *Region) Len() int64 {
	return int64(len(r.m)) - HeaderSize
}

// Version returns the format version stored in the header.
func (r *Region) Version() uint32 {
	return encoding.Uint32(r.m, 4)
}

// SetVersion rewrites the header version, used by the upgrade chain.
func (r *Region) SetVersion(v uint32) {
	encoding.SetUint32(r.m, 4, v)
}

// SnapshotCounter returns the always-increasing snapshot counter.
func (r *Region) SnapshotCounter() uint64 {
	return encoding.Uint64(r.m, 16)
}

// BumpSnapshotCounter increments the snapshot counter and returns the new
// value.
func (r *Region) BumpSnapshotCounter() uint64 {
	n := encoding.Uint64(r.m, 16) + 1
	encoding.SetUint64(r.m, 16, n)
	return n
}

// Resize grows (or shrinks) the payload area to newCapacity. The old
// mapping is torn down first, so all previously returned slices are
// invalid afterwards.
func (r *Region) Resize(newCapacity int64) error {
	if r.closed {
		return ErrClosed
	}
	if err := r.m.Flush(); err != nil {
		return fmt.Errorf("mmapfile: flush before resize: %w", err)
	}
	if err := r.m.Unmap(); err != nil {
		return fmt.Errorf("mmapfile: unmap: %w", err)
	}
	if err := r.f.Truncate(HeaderSize + newCapacity); err != nil {
		return fmt.Errorf("mmapfile: grow %s: %w", r.path, err)
	}
	m, err := mmap.Map(r.f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmapfile: remap %s: %w", r.path, err)
	}
	r.m = m
	encoding.SetUint64(r.m, 8, uint64(newCapacity))
	return nil
}

// Sync flushes dirty pages to disk.
func (r *Region) Sync() error {
	if r.closed {
		return ErrClosed
	}
	return r.m.Flush()
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Close flushes, unmaps, and closes the file. Safe to call twice.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	if r.m != nil {
		if err := r.m.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
