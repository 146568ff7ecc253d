// Package inode defines the on-disk inode record and the fixed-size table
// that holds them, addressed by 1-based inode number.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/go-blockfs/blockfs/superblock"
	"github.com/go-blockfs/blockfs/util/timestamp"
)

// DirectBlocks is the number of direct block pointers carried in every
// inode.
const DirectBlocks = 12

// TypeDirectory and TypeRegular are the type bits stored in the upper
// nibble of type_perm.
const (
	TypeDirectory uint16 = 0x4000
	TypeRegular   uint16 = 0x8000
	typeMask      uint16 = 0xF000
	permMask      uint16 = 0x0FFF
)

// Inode is the in-memory form of the 128-byte on-disk inode record.
type Inode struct {
	TypePerm     uint16
	UID          uint16
	GID          uint16
	Size         uint32
	AccessTime   uint64 // seconds since epoch
	ModTime      uint64
	CreatTime    uint64
	HardLinks    uint32
	DirectBlocks [DirectBlocks]uint32
	SinInblock   uint32
	DobInblock   uint32
	TriInblock   uint32 // reserved, always 0
}

// IsDirectory reports whether the inode's type bits mark it as a directory.
func (i *Inode) IsDirectory() bool {
	return i.TypePerm&typeMask == TypeDirectory
}

// Mode returns the low 12 bits of type_perm, the POSIX permission bits.
func (i *Inode) Mode() uint16 {
	return i.TypePerm & permMask
}

// SetMode replaces the low 12 bits of type_perm, preserving the type nibble.
func (i *Inode) SetMode(mode uint16) {
	i.TypePerm = (i.TypePerm & typeMask) | (mode & permMask)
}

// Encode serializes the inode into its 128-byte on-disk layout.
func (i *Inode) Encode(dst []byte) error {
	if len(dst) < superblock.InodeSize {
		return fmt.Errorf("inode: destination too small (%d < %d)", len(dst), superblock.InodeSize)
	}
	le := binary.LittleEndian
	le.PutUint16(dst[0:2], i.TypePerm)
	le.PutUint16(dst[2:4], i.UID)
	le.PutUint16(dst[4:6], i.GID)
	le.PutUint16(dst[6:8], 0) // pad
	le.PutUint32(dst[8:12], i.Size)
	le.PutUint32(dst[12:16], 0) // pad
	le.PutUint64(dst[16:24], i.AccessTime)
	le.PutUint64(dst[24:32], i.ModTime)
	le.PutUint64(dst[32:40], i.CreatTime)
	le.PutUint32(dst[40:44], i.HardLinks)
	for n, b := range i.DirectBlocks {
		le.PutUint32(dst[44+n*4:48+n*4], b)
	}
	le.PutUint32(dst[92:96], i.SinInblock)
	le.PutUint32(dst[96:100], i.DobInblock)
	le.PutUint32(dst[100:104], i.TriInblock)
	for n := 104; n < 128; n++ {
		dst[n] = 0
	}
	return nil
}

// Decode parses a 128-byte on-disk inode record.
func Decode(src []byte) (*Inode, error) {
	if len(src) < superblock.InodeSize {
		return nil, fmt.Errorf("inode: source too small (%d < %d)", len(src), superblock.InodeSize)
	}
	le := binary.LittleEndian
	i := &Inode{
		TypePerm:   le.Uint16(src[0:2]),
		UID:        le.Uint16(src[2:4]),
		GID:        le.Uint16(src[4:6]),
		Size:       le.Uint32(src[8:12]),
		AccessTime: le.Uint64(src[16:24]),
		ModTime:    le.Uint64(src[24:32]),
		CreatTime:  le.Uint64(src[32:40]),
		HardLinks:  le.Uint32(src[40:44]),
		SinInblock: le.Uint32(src[92:96]),
		DobInblock: le.Uint32(src[96:100]),
		TriInblock: le.Uint32(src[100:104]),
	}
	for n := range i.DirectBlocks {
		i.DirectBlocks[n] = le.Uint32(src[44+n*4 : 48+n*4])
	}
	return i, nil
}

// Now returns the current time truncated to whole seconds, matching the
// on-disk resolution of access/mod/creat time fields. It honors
// SOURCE_DATE_EPOCH for reproducible image builds.
func Now() uint64 {
	return uint64(timestamp.GetTime().Unix())
}

// Table is the fixed-size array of inode records, addressed by 1-based
// inode number over a live view of the image's inode-table region.
type Table struct {
	data []byte
	num  uint32
}

// NewTable wraps data (exactly num*InodeSize bytes, rounded up to whole
// blocks by the caller) as an inode table holding num slots; inode number 0
// is reserved and never used.
func NewTable(data []byte, num uint32) (*Table, error) {
	if uint64(len(data)) < uint64(num)*uint64(superblock.InodeSize) {
		return nil, fmt.Errorf("inode: backing slice of %d bytes too small for %d inodes", len(data), num)
	}
	return &Table{data: data, num: num}, nil
}

func (t *Table) slot(number uint32) ([]byte, error) {
	if number == 0 || number >= t.num {
		return nil, fmt.Errorf("inode: number %d out of range [1, %d)", number, t.num)
	}
	off := int(number) * superblock.InodeSize
	return t.data[off : off+superblock.InodeSize], nil
}

// Read loads the inode at the given 1-based number.
func (t *Table) Read(number uint32) (*Inode, error) {
	s, err := t.slot(number)
	if err != nil {
		return nil, err
	}
	return Decode(s)
}

// Write persists the inode at the given 1-based number.
func (t *Table) Write(number uint32, i *Inode) error {
	s, err := t.slot(number)
	if err != nil {
		return err
	}
	return i.Encode(s)
}
