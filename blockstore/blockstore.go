// Package blockstore provides indexed access to the pool of fixed-size data
// blocks that back file and directory contents, indirect tables, and
// double-indirect tables. Indices are zero-based relative to the start of
// the data region; index 0 is the sentinel "no block" and is never read or
// written through here (callers guard against it before calling in).
package blockstore

import "fmt"

// BlockStore is a view over the data-block region of the image.
type BlockStore struct {
	data      []byte
	blockSize uint32
	numBlocks uint32
}

// New wraps data (the full data region) as a block store of the given
// geometry.
func New(data []byte, blockSize, numBlocks uint32) (*BlockStore, error) {
	need := uint64(blockSize) * uint64(numBlocks)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("blockstore: backing slice of %d bytes too small for %d blocks of %d bytes", len(data), numBlocks, blockSize)
	}
	return &BlockStore{data: data, blockSize: blockSize, numBlocks: numBlocks}, nil
}

// BlockSize returns the configured block size in bytes.
func (bs *BlockStore) BlockSize() uint32 {
	return bs.blockSize
}

// NumBlocks returns how many blocks this store addresses.
func (bs *BlockStore) NumBlocks() uint32 {
	return bs.numBlocks
}

func (bs *BlockStore) bounds(n uint32) (int, int, error) {
	if n >= bs.numBlocks {
		return 0, 0, fmt.Errorf("blockstore: block %d out of range [0, %d)", n, bs.numBlocks)
	}
	start := int(n) * int(bs.blockSize)
	return start, start + int(bs.blockSize), nil
}

// Block returns a read-only view of data block n.
func (bs *BlockStore) Block(n uint32) ([]byte, error) {
	start, end, err := bs.bounds(n)
	if err != nil {
		return nil, err
	}
	return bs.data[start:end], nil
}

// BlockMut returns a mutable view of data block n; writes through it are
// writes to the image.
func (bs *BlockStore) BlockMut(n uint32) ([]byte, error) {
	return bs.Block(n)
}

// Zero overwrites data block n with zero bytes.
func (bs *BlockStore) Zero(n uint32) error {
	b, err := bs.BlockMut(n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = 0
	}
	return nil
}

// PointersPerBlock returns how many little-endian u32 block pointers fit in
// a single indirect block of this store's block size.
func (bs *BlockStore) PointersPerBlock() uint32 {
	return bs.blockSize / 4
}
