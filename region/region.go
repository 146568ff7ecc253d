// Package region provides the contiguous mutable byte range that every
// other layer of the filesystem core is built on top of. It is the
// substrate described as "ByteRegion": a fixed-length span of bytes that
// behaves as if it were a memory-mapped block device image, plus views
// that carve that span into sub-regions without copying.
package region

import (
	"fmt"

	"github.com/go-blockfs/blockfs/backend"
)

// Region is a fixed-length, mutable byte range. All reads and writes against
// it are plain memory moves; there is no I/O on the hot path. A Region may
// be backed by an in-memory buffer (tests, scratch images) or by bytes
// mapped in from a real file via OpenMapped.
type Region struct {
	buf []byte
}

// New wraps an existing byte slice. The Region takes ownership of buf: callers
// should not mutate it outside of the returned Region afterward.
func New(buf []byte) *Region {
	return &Region{buf: buf}
}

// NewZeroed allocates a fresh, zero-filled region of the given length.
func NewZeroed(length int) *Region {
	return &Region{buf: make([]byte, length)}
}

// Open reads the full contents of a backend.Storage into memory and returns
// a Region over them. This is the fallback used when the backend cannot be
// mapped directly (e.g. it is not backed by a real *os.File).
func Open(b backend.Storage) (*Region, error) {
	info, err := b.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat backing storage: %w", err)
	}
	size := info.Size()
	buf := make([]byte, size)
	if _, err := b.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read backing storage: %w", err)
	}
	return &Region{buf: buf}, nil
}

// Len reports the region's length in bytes.
func (r *Region) Len() int {
	return len(r.buf)
}

// Bytes returns the full underlying slice. Mutating it mutates the region.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Slice returns the byte range [offset, offset+length) as a live view; writes
// through it are writes to the region.
func (r *Region) Slice(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(r.buf) {
		return nil, fmt.Errorf("region: slice [%d:%d] out of bounds (len %d)", offset, offset+length, len(r.buf))
	}
	return r.buf[offset : offset+length], nil
}

// Sub returns a new Region sharing storage with a sub-range of this one.
// Writes through the sub-region are visible in the parent and vice versa,
// exactly like re-slicing a Go slice.
func (r *Region) Sub(offset, length int) (*Region, error) {
	s, err := r.Slice(offset, length)
	if err != nil {
		return nil, err
	}
	return &Region{buf: s}, nil
}

// Sync flushes the region back to persistent storage via the given backend.
// It is a no-op from the core's perspective (all mutations already landed in
// memory); it exists so a host can request durability at a point of its
// choosing, matching the msync-on-demand model described for mmap-backed
// images.
func (r *Region) Sync(b backend.Storage) error {
	w, err := b.Writable()
	if err != nil {
		return fmt.Errorf("region: storage is not writable: %w", err)
	}
	if _, err := w.WriteAt(r.buf, 0); err != nil {
		return fmt.Errorf("region: sync write failed: %w", err)
	}
	return nil
}
