// Package superblock defines the 28-byte image header and the fixed region
// layout derived from it: how many blocks the inode bitmap, inode table, and
// data-block bitmap occupy, and where the data region begins.
package superblock

import (
	"encoding/binary"
	"fmt"
)

// Size is the on-disk size of the superblock in bytes.
const Size = 28

// InodeSize is the on-disk size of a single inode record in bytes.
const InodeSize = 128

// Magic is the 8-byte tag that identifies a formatted image.
var Magic = [8]byte{0x58, 0x44, 0x20, 0x20, 0x20, 0x20, 0x58, 0x44}

// Superblock is the fixed 28-byte image header.
type Superblock struct {
	InodesNum  uint32
	BlocksNum  uint32
	BlockSize  uint32
	FreeBlocks uint32
	FreeInodes uint32
}

// Encode writes the superblock, magic included, into the first 28 bytes of
// dst. dst must be at least Size bytes long.
func (sb *Superblock) Encode(dst []byte) error {
	if len(dst) < Size {
		return fmt.Errorf("superblock: destination too small (%d < %d)", len(dst), Size)
	}
	copy(dst[0:8], Magic[:])
	binary.LittleEndian.PutUint32(dst[8:12], sb.InodesNum)
	binary.LittleEndian.PutUint32(dst[12:16], sb.BlocksNum)
	binary.LittleEndian.PutUint32(dst[16:20], sb.BlockSize)
	binary.LittleEndian.PutUint32(dst[20:24], sb.FreeBlocks)
	binary.LittleEndian.PutUint32(dst[24:28], sb.FreeInodes)
	return nil
}

// Decode parses a superblock out of src, which must be at least Size bytes
// long, and verifies the magic tag.
func Decode(src []byte) (*Superblock, error) {
	if len(src) < Size {
		return nil, fmt.Errorf("superblock: source too small (%d < %d)", len(src), Size)
	}
	var magic [8]byte
	copy(magic[:], src[0:8])
	if magic != Magic {
		return nil, fmt.Errorf("superblock: bad magic %x, image is not formatted", magic)
	}
	return &Superblock{
		InodesNum:  binary.LittleEndian.Uint32(src[8:12]),
		BlocksNum:  binary.LittleEndian.Uint32(src[12:16]),
		BlockSize:  binary.LittleEndian.Uint32(src[16:20]),
		FreeBlocks: binary.LittleEndian.Uint32(src[20:24]),
		FreeInodes: binary.LittleEndian.Uint32(src[24:28]),
	}, nil
}

// Layout is the set of region boundaries derived from a superblock's
// geometry. All offsets are in whole blocks, relative to block 0 of the
// image (the superblock block itself).
type Layout struct {
	BlockSize uint32
	BlocksNum uint32
	InodesNum uint32

	InodeBitmapBlock uint32 // always 1
	InodeBitmapBlocks uint32
	InodeTableBlock   uint32
	InodeTableBlocks  uint32
	DataBitmapBlock   uint32
	DataBitmapBlocks  uint32
	DataRegionBlock   uint32
	DataRegionBlocks  uint32
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ComputeLayout derives the region layout for the given geometry, following
// the same recursive definition of "data_blocks" used by the on-disk format:
// each region's size depends only on the regions that precede it.
func ComputeLayout(blockSize, blocksNum, inodesNum uint32) (*Layout, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("superblock: block size must be nonzero")
	}
	bs := uint64(blockSize)

	inodeBitmapBlock := uint64(1)
	inodeBitmapBlocks := ceilDiv(uint64(inodesNum), 8*bs)
	inodeTableBlock := inodeBitmapBlock + inodeBitmapBlocks

	inodeTableBlocks := ceilDiv(uint64(inodesNum)*uint64(InodeSize), bs)
	dataBitmapBlock := inodeTableBlock + inodeTableBlocks

	if dataBitmapBlock > uint64(blocksNum) {
		return nil, fmt.Errorf("superblock: geometry too small: metadata alone needs %d blocks, have %d", dataBitmapBlock, blocksNum)
	}
	dataBlocksForBitmapSizing := uint64(blocksNum) - dataBitmapBlock
	dataBitmapBlocks := ceilDiv(dataBlocksForBitmapSizing, 8*bs)
	dataRegionBlock := dataBitmapBlock + dataBitmapBlocks

	if dataRegionBlock > uint64(blocksNum) {
		return nil, fmt.Errorf("superblock: geometry too small: metadata alone needs %d blocks, have %d", dataRegionBlock, blocksNum)
	}
	dataRegionBlocks := uint64(blocksNum) - dataRegionBlock

	return &Layout{
		BlockSize:         blockSize,
		BlocksNum:         blocksNum,
		InodesNum:         inodesNum,
		InodeBitmapBlock:  uint32(inodeBitmapBlock),
		InodeBitmapBlocks: uint32(inodeBitmapBlocks),
		InodeTableBlock:   uint32(inodeTableBlock),
		InodeTableBlocks:  uint32(inodeTableBlocks),
		DataBitmapBlock:   uint32(dataBitmapBlock),
		DataBitmapBlocks:  uint32(dataBitmapBlocks),
		DataRegionBlock:   uint32(dataRegionBlock),
		DataRegionBlocks:  uint32(dataRegionBlocks),
	}, nil
}

// ImageSize returns the total byte length an image with this geometry must
// have.
func (sb *Superblock) ImageSize() int64 {
	return int64(sb.BlockSize) * int64(sb.BlocksNum)
}
