// Package bitmap implements the occupancy bitsets used to track free inodes
// and free data blocks. Unlike a typical bitmap utility, a Bitmap here does
// not own a private copy of its bytes: it is a thin view over a live slice
// of the mapped image, so every Take/Free call is immediately visible on
// disk. Index 0 is always reserved as a sentinel ("no inode" / "no block")
// and is never returned by FirstFree.
package bitmap

import (
	"fmt"

	"github.com/go-blockfs/blockfs/fserrors"
)

// Bitmap is a bitset of a fixed logical size, backed by a byte slice shared
// with the image region it was carved from.
type Bitmap struct {
	bits []byte
	size int
}

// New wraps bits as a bitmap addressing size logical bits. bits must have at
// least ceil(size/8) bytes; extra trailing bytes (padding out to a block
// boundary) are preserved but never addressed.
func New(bits []byte, size int) (*Bitmap, error) {
	if size < 0 {
		return nil, fmt.Errorf("bitmap: negative size %d", size)
	}
	if len(bits)*8 < size {
		return nil, fmt.Errorf("bitmap: backing slice of %d bytes too small for %d bits", len(bits), size)
	}
	return &Bitmap{bits: bits, size: size}, nil
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() int {
	return b.size
}

func (b *Bitmap) locate(i int) (byteIdx int, mask byte) {
	return i / 8, byte(1) << uint(i%8)
}

// IsSet reports whether bit i is currently taken.
func (b *Bitmap) IsSet(i int) bool {
	byteIdx, mask := b.locate(i)
	return b.bits[byteIdx]&mask == mask
}

// Take marks bit i as allocated.
func (b *Bitmap) Take(i int) {
	byteIdx, mask := b.locate(i)
	b.bits[byteIdx] |= mask
}

// Free marks bit i as available again. The underlying bytes of whatever it
// pointed to are not wiped; callers that need zeroed content must do that
// themselves on next allocation.
func (b *Bitmap) Free(i int) {
	byteIdx, mask := b.locate(i)
	b.bits[byteIdx] &^= mask
}

// FirstFree scans starting at bit index 1 (bit 0 is always the sentinel and
// is never considered), finds the first clear bit, marks it taken, and
// returns its index. Returns ErrOutOfSpace if none exists below Size().
func (b *Bitmap) FirstFree() (int, error) {
	for i := 1; i < b.size; i++ {
		byteIdx, mask := b.locate(i)
		if b.bits[byteIdx]&mask == 0 {
			b.bits[byteIdx] |= mask
			return i, nil
		}
	}
	return 0, fserrors.ErrOutOfSpace
}
