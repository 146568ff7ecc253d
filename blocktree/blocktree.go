// Package blocktree implements the block-pointer tree that maps a file's (or
// directory's) logical byte range onto the physical data blocks backing it:
// twelve direct pointers, one single-indirect pointer, one double-indirect
// pointer. There is no triple-indirect level; byte offsets beyond the
// double-indirect ceiling report FileTooLarge.
package blocktree

import (
	"encoding/binary"
	"io"

	"github.com/go-blockfs/blockfs/bitmap"
	"github.com/go-blockfs/blockfs/blockstore"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
)

// Tree resolves logical block indices of an inode to physical block numbers,
// allocating from a data-block bitmap on demand.
type Tree struct {
	blocks *blockstore.BlockStore
	free   *bitmap.Bitmap
}

// New builds a Tree over the given data-block store and its companion
// allocation bitmap.
func New(blocks *blockstore.BlockStore, dataBitmap *bitmap.Bitmap) *Tree {
	return &Tree{blocks: blocks, free: dataBitmap}
}

// MaxFileSize returns the largest file size, in bytes, this tree's geometry
// can address: twelve direct blocks, one single-indirect block's worth of
// pointers, and one double-indirect block's worth of pointer-of-pointers.
func (t *Tree) MaxFileSize() uint64 {
	bs := uint64(t.blocks.BlockSize())
	p := uint64(t.blocks.PointersPerBlock())
	return (uint64(inode.DirectBlocks) + p + p*p) * bs
}

func (t *Tree) allocBlock() (uint32, error) {
	idx, err := t.free.FirstFree()
	if err != nil {
		return 0, err
	}
	n := uint32(idx)
	if err := t.blocks.Zero(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Tree) freeBlock(n uint32) {
	if n == 0 {
		return
	}
	t.free.Free(int(n))
}

func readPtr(table []byte, slot uint32) uint32 {
	return binary.LittleEndian.Uint32(table[slot*4 : slot*4+4])
}

func writePtr(table []byte, slot uint32, v uint32) {
	binary.LittleEndian.PutUint32(table[slot*4:slot*4+4], v)
}

// resolveInTable returns the block number stored at slot within the
// indirect block tableBlock, allocating both the pointed-to block and
// writing it back into the table when allocate is true and the slot is a
// hole.
func (t *Tree) resolveInTable(tableBlock uint32, slot uint32, allocate bool) (uint32, error) {
	table, err := t.blocks.BlockMut(tableBlock)
	if err != nil {
		return 0, err
	}
	ptr := readPtr(table, slot)
	if ptr != 0 {
		return ptr, nil
	}
	if !allocate {
		return 0, fserrors.ErrWriteToHole
	}
	nb, err := t.allocBlock()
	if err != nil {
		return 0, err
	}
	writePtr(table, slot, nb)
	return nb, nil
}

// peekInTable is like resolveInTable but never allocates and never errors on
// a hole; it reports 0 instead. Used when walking a range purely to free
// blocks during shrink.
func (t *Tree) peekInTable(tableBlock uint32, slot uint32) uint32 {
	if tableBlock == 0 {
		return 0
	}
	table, err := t.blocks.Block(tableBlock)
	if err != nil {
		return 0
	}
	return readPtr(table, slot)
}

// resolveBlock maps logical block index idx of in to a physical block
// number, allocating intermediate indirect blocks and the target block
// itself when allocate is true.
func (t *Tree) resolveBlock(in *inode.Inode, idx uint64, allocate bool) (uint32, error) {
	p := uint64(t.blocks.PointersPerBlock())

	switch {
	case idx < uint64(inode.DirectBlocks):
		ptr := in.DirectBlocks[idx]
		if ptr != 0 {
			return ptr, nil
		}
		if !allocate {
			return 0, fserrors.ErrWriteToHole
		}
		nb, err := t.allocBlock()
		if err != nil {
			return 0, err
		}
		in.DirectBlocks[idx] = nb
		return nb, nil

	case idx < uint64(inode.DirectBlocks)+p:
		slot := uint32(idx - uint64(inode.DirectBlocks))
		indirect := in.SinInblock
		if indirect == 0 {
			if !allocate {
				return 0, fserrors.ErrWriteToHole
			}
			nb, err := t.allocBlock()
			if err != nil {
				return 0, err
			}
			in.SinInblock = nb
			indirect = nb
		}
		return t.resolveInTable(indirect, slot, allocate)

	case idx < uint64(inode.DirectBlocks)+p+p*p:
		rel := idx - uint64(inode.DirectBlocks) - p
		outerSlot := uint32(rel / p)
		innerSlot := uint32(rel % p)
		outer := in.DobInblock
		if outer == 0 {
			if !allocate {
				return 0, fserrors.ErrWriteToHole
			}
			nb, err := t.allocBlock()
			if err != nil {
				return 0, err
			}
			in.DobInblock = nb
			outer = nb
		}
		innerBlock, err := t.resolveInTable(outer, outerSlot, allocate)
		if err != nil {
			return 0, err
		}
		return t.resolveInTable(innerBlock, innerSlot, allocate)

	default:
		return 0, fserrors.ErrFileTooLarge
	}
}

// BlockSize returns the block size of the underlying block store.
func (t *Tree) BlockSize() uint32 {
	return t.blocks.BlockSize()
}

// BlockAt returns the logical block idx of in's content as a byte slice,
// allocating it (and any intermediate indirect tables) when allocate is
// true. Directory content is addressed this way, one fixed-size block of
// entries at a time, rather than through the flat ReadAt/WriteAt stream
// used for regular file content.
func (t *Tree) BlockAt(in *inode.Inode, idx uint64, allocate bool) ([]byte, error) {
	ptr, err := t.resolveBlock(in, idx, allocate)
	if err != nil {
		return nil, err
	}
	if allocate {
		return t.blocks.BlockMut(ptr)
	}
	return t.blocks.Block(ptr)
}

// NumLogicalBlocks returns how many logical blocks of blockSize are needed
// to hold size bytes of content.
func NumLogicalBlocks(size, blockSize uint32) uint32 {
	if blockSize == 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// ReadAt copies up to len(buf) bytes starting at offset within in's content
// into buf, never reading past in.Size. It returns io.EOF once offset has
// reached the end of the file, matching io.ReaderAt semantics. A hole
// encountered within the file's declared size is reported as ErrCorruptInode.
// Truncate never leaves a hole behind the declared size, and the facade grows
// a file through Truncate before writing past its end; WriteAt called
// directly with an offset beyond in.Size leaves the skipped blocks
// unallocated.
func (t *Tree) ReadAt(in *inode.Inode, offset int64, buf []byte) (int, error) {
	size := int64(in.Size)
	if offset >= size {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	blockSize := int64(t.blocks.BlockSize())
	n := 0
	for n < len(buf) {
		pos := offset + int64(n)
		if pos >= size {
			break
		}
		blockIdx := uint64(pos / blockSize)
		within := int(pos % blockSize)

		ptr, err := t.resolveBlock(in, blockIdx, false)
		if err == fserrors.ErrWriteToHole {
			return n, fserrors.ErrCorruptInode
		}
		if err != nil {
			return n, err
		}
		blk, err := t.blocks.Block(ptr)
		if err != nil {
			return n, err
		}
		avail := int(blockSize) - within
		toCopy := avail
		if rem := len(buf) - n; toCopy > rem {
			toCopy = rem
		}
		if fileRem := int(size - pos); toCopy > fileRem {
			toCopy = fileRem
		}
		copy(buf[n:n+toCopy], blk[within:within+toCopy])
		n += toCopy
	}
	return n, nil
}

// WriteAt copies data into in's content starting at offset, allocating
// blocks (and growing in.Size) as needed. It fails with FileTooLarge before
// writing anything if the write would cross the double-indirect ceiling.
func (t *Tree) WriteAt(in *inode.Inode, offset int64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	end := offset + int64(len(data))
	if end < 0 || uint64(end) > t.MaxFileSize() {
		return 0, fserrors.ErrFileTooLarge
	}
	blockSize := int64(t.blocks.BlockSize())
	n := 0
	for n < len(data) {
		pos := offset + int64(n)
		blockIdx := uint64(pos / blockSize)
		within := int(pos % blockSize)

		ptr, err := t.resolveBlock(in, blockIdx, true)
		if err != nil {
			return n, err
		}
		blk, err := t.blocks.BlockMut(ptr)
		if err != nil {
			return n, err
		}
		toCopy := int(blockSize) - within
		if rem := len(data) - n; toCopy > rem {
			toCopy = rem
		}
		copy(blk[within:within+toCopy], data[n:n+toCopy])
		n += toCopy
	}
	if newSize := uint64(offset) + uint64(n); newSize > uint64(in.Size) {
		in.Size = uint32(newSize)
	}
	return n, nil
}

func lastBlockIndex(size uint32, blockSize uint32) (int64, bool) {
	if size == 0 {
		return 0, false
	}
	return int64((size - 1) / blockSize), true
}

// Truncate resizes in's content to newSize, freeing blocks that fall
// entirely beyond the new size (including indirect and double-indirect
// tables left wholly empty) when shrinking, and zero-filling the tail of the
// retained content when the new size no longer lands on a block boundary.
// Growing a file eagerly allocates and zero-fills every block newly covered
// by the larger size: the declared size never has a hole behind it.
func (t *Tree) Truncate(in *inode.Inode, newSize uint32) error {
	if uint64(newSize) > t.MaxFileSize() {
		return fserrors.ErrFileTooLarge
	}
	oldSize := in.Size
	if newSize == oldSize {
		return nil
	}
	blockSize := t.blocks.BlockSize()
	if newSize < oldSize {
		if err := t.shrink(in, oldSize, newSize, blockSize); err != nil {
			return err
		}
	} else if err := t.growAlloc(in, oldSize, newSize, blockSize); err != nil {
		return err
	}
	in.Size = newSize
	return nil
}

// growAlloc makes every logical block between oldSize and newSize real: it
// zero-fills the tail of the block already holding oldSize's last byte (if
// any), then allocates every block index newly covered by newSize that
// isn't allocated yet. allocBlock zero-fills on allocation, so each newly
// covered block (and any indirect table it needs) comes back all zeros.
func (t *Tree) growAlloc(in *inode.Inode, oldSize, newSize uint32, blockSize uint32) error {
	if err := t.zeroGrowTail(in, oldSize, blockSize); err != nil {
		return err
	}
	oldLast, hasOld := lastBlockIndex(oldSize, blockSize)
	newLast, hasNew := lastBlockIndex(newSize, blockSize)
	if !hasNew {
		return nil
	}
	start := int64(0)
	if hasOld {
		start = oldLast + 1
	}
	for idx := start; idx <= newLast; idx++ {
		if _, err := t.resolveBlock(in, uint64(idx), true); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) zeroGrowTail(in *inode.Inode, oldSize uint32, blockSize uint32) error {
	if oldSize == 0 || oldSize%blockSize == 0 {
		return nil
	}
	idx, ok := lastBlockIndex(oldSize, blockSize)
	if !ok {
		return nil
	}
	ptr, err := t.resolveBlock(in, uint64(idx), false)
	if err == fserrors.ErrWriteToHole {
		return nil
	}
	if err != nil {
		return err
	}
	blk, err := t.blocks.BlockMut(ptr)
	if err != nil {
		return err
	}
	tailStart := oldSize % blockSize
	for i := tailStart; i < blockSize; i++ {
		blk[i] = 0
	}
	return nil
}

func (t *Tree) shrink(in *inode.Inode, oldSize, newSize, blockSize uint32) error {
	lastKept, hasKept := lastBlockIndex(newSize, blockSize)
	oldLast, hasOld := lastBlockIndex(oldSize, blockSize)
	if !hasOld {
		return nil
	}
	start := int64(0)
	if hasKept {
		start = lastKept + 1
	}
	for idx := start; idx <= oldLast; idx++ {
		ptr, err := t.resolveBlock(in, uint64(idx), false)
		if err == fserrors.ErrWriteToHole {
			continue
		}
		if err != nil {
			return err
		}
		t.clearPointer(in, uint64(idx))
		t.freeBlock(ptr)
	}

	if hasKept && newSize%blockSize != 0 {
		ptr, err := t.resolveBlock(in, uint64(lastKept), false)
		if err == nil {
			blk, err := t.blocks.BlockMut(ptr)
			if err != nil {
				return err
			}
			tailStart := newSize % blockSize
			for i := tailStart; i < blockSize; i++ {
				blk[i] = 0
			}
		} else if err != fserrors.ErrWriteToHole {
			return err
		}
	}

	p := uint64(t.blocks.PointersPerBlock())
	maxDirect := uint64(inode.DirectBlocks) * uint64(blockSize)
	maxSingle := maxDirect + p*uint64(blockSize)

	if uint64(newSize) <= maxDirect && in.SinInblock != 0 {
		t.freeBlock(in.SinInblock)
		in.SinInblock = 0
	}
	if uint64(newSize) <= maxSingle && in.DobInblock != 0 {
		outer := in.DobInblock
		if table, err := t.blocks.Block(outer); err == nil {
			for s := uint32(0); uint64(s) < p; s++ {
				if inner := readPtr(table, s); inner != 0 {
					t.freeBlock(inner)
				}
			}
		}
		t.freeBlock(outer)
		in.DobInblock = 0
	}
	return nil
}

// clearPointer zeroes out the pointer slot for logical block idx, without
// allocating any missing intermediate table (there is nothing to clear in a
// table that was never allocated).
func (t *Tree) clearPointer(in *inode.Inode, idx uint64) {
	p := uint64(t.blocks.PointersPerBlock())
	switch {
	case idx < uint64(inode.DirectBlocks):
		in.DirectBlocks[idx] = 0
	case idx < uint64(inode.DirectBlocks)+p:
		slot := uint32(idx - uint64(inode.DirectBlocks))
		if in.SinInblock == 0 {
			return
		}
		if table, err := t.blocks.BlockMut(in.SinInblock); err == nil {
			writePtr(table, slot, 0)
		}
	case idx < uint64(inode.DirectBlocks)+p+p*p:
		if in.DobInblock == 0 {
			return
		}
		rel := idx - uint64(inode.DirectBlocks) - p
		outerSlot := uint32(rel / p)
		innerSlot := uint32(rel % p)
		innerBlock := t.peekInTable(in.DobInblock, outerSlot)
		if innerBlock == 0 {
			return
		}
		if table, err := t.blocks.BlockMut(innerBlock); err == nil {
			writePtr(table, innerSlot, 0)
		}
	}
}
