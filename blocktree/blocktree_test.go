package blocktree

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-blockfs/blockfs/bitmap"
	"github.com/go-blockfs/blockfs/blockstore"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
)

// newTestTree builds a tree with a small 64-byte block size (16 pointers per
// indirect block) so single- and double-indirect ranges are reachable
// without huge fixtures.
func newTestTree(t *testing.T, numBlocks int) (*Tree, *inode.Inode) {
	t.Helper()
	const blockSize = 64
	data := make([]byte, blockSize*numBlocks)
	bs, err := blockstore.New(data, blockSize, uint32(numBlocks))
	if err != nil {
		t.Fatalf("blockstore.New() error = %v", err)
	}
	bmBytes := make([]byte, (numBlocks+7)/8)
	bm, err := bitmap.New(bmBytes, numBlocks)
	if err != nil {
		t.Fatalf("bitmap.New() error = %v", err)
	}
	return New(bs, bm), &inode.Inode{TypePerm: inode.TypeRegular | 0o644}
}

func TestWriteReadDirectBlocks(t *testing.T) {
	tr, in := newTestTree(t, 32)
	payload := bytes.Repeat([]byte("A"), 100)
	n, err := tr.WriteAt(in, 0, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("WriteAt() = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if in.Size != 100 {
		t.Errorf("Size = %d, want 100", in.Size)
	}
	buf := make([]byte, 100)
	n, err = tr.ReadAt(in, 0, buf)
	if err != nil || n != 100 {
		t.Fatalf("ReadAt() = (%d, %v), want (100, nil)", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("ReadAt() = %q, want %q", buf, payload)
	}
}

func TestWriteSpansSingleIndirect(t *testing.T) {
	// block size 64, 12 direct blocks = 768 bytes of direct capacity.
	// Writing 900 bytes forces allocation of the single-indirect block.
	tr, in := newTestTree(t, 64)
	payload := bytes.Repeat([]byte("B"), 900)
	if _, err := tr.WriteAt(in, 0, payload); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	if in.SinInblock == 0 {
		t.Errorf("expected single-indirect block to be allocated")
	}
	buf := make([]byte, 900)
	if _, err := tr.ReadAt(in, 0, buf); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("round-trip mismatch across indirect boundary")
	}
}

func TestReadAtEOF(t *testing.T) {
	tr, in := newTestTree(t, 16)
	if _, err := tr.WriteAt(in, 0, []byte("hi")); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	buf := make([]byte, 4)
	n, err := tr.ReadAt(in, 2, buf)
	if n != 0 || err != io.EOF {
		t.Errorf("ReadAt() at EOF = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestWriteAtFileTooLarge(t *testing.T) {
	tr, in := newTestTree(t, 16)
	huge := tr.MaxFileSize() + 1
	_, err := tr.WriteAt(in, int64(huge)-1, []byte("x"))
	if err != fserrors.ErrFileTooLarge {
		t.Errorf("WriteAt() error = %v, want ErrFileTooLarge", err)
	}
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	tr, in := newTestTree(t, 32)
	payload := bytes.Repeat([]byte("C"), 600)
	if _, err := tr.WriteAt(in, 0, payload); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	lastBlock := in.DirectBlocks[9] // 600/64 = 9.37 -> block index 9 holds the tail
	if lastBlock == 0 {
		t.Fatalf("expected block 9 to be allocated before shrink")
	}
	if err := tr.Truncate(in, 64); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if in.Size != 64 {
		t.Errorf("Size after truncate = %d, want 64", in.Size)
	}
	for i := 1; i < inode.DirectBlocks; i++ {
		if in.DirectBlocks[i] != 0 {
			t.Errorf("DirectBlocks[%d] = %d, want 0 after shrink", i, in.DirectBlocks[i])
		}
	}
	if tr.free.IsSet(int(lastBlock)) {
		t.Errorf("block %d should have been freed by shrink", lastBlock)
	}
}

func TestTruncateShrinkFreesIndirectStructures(t *testing.T) {
	tr, in := newTestTree(t, 64)
	payload := bytes.Repeat([]byte("D"), 900)
	if _, err := tr.WriteAt(in, 0, payload); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	indirect := in.SinInblock
	if indirect == 0 {
		t.Fatalf("expected single-indirect block allocated")
	}
	if err := tr.Truncate(in, 10); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if in.SinInblock != 0 {
		t.Errorf("SinInblock = %d, want 0 after shrinking below direct capacity", in.SinInblock)
	}
	if tr.free.IsSet(int(indirect)) {
		t.Errorf("indirect block %d should have been freed", indirect)
	}
}

func TestTruncateGrowZeroFillsTail(t *testing.T) {
	tr, in := newTestTree(t, 16)
	if _, err := tr.WriteAt(in, 0, []byte("hi")); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	if err := tr.Truncate(in, 64); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if in.Size != 64 {
		t.Errorf("Size = %d, want 64", in.Size)
	}
	buf := make([]byte, 64)
	n, err := tr.ReadAt(in, 0, buf)
	if err != nil || n != 64 {
		t.Fatalf("ReadAt() = (%d, %v), want (64, nil)", n, err)
	}
	for i := 2; i < 64; i++ {
		if buf[i] != 0 {
			t.Errorf("byte %d = %d, want 0 after grow", i, buf[i])
		}
	}
}

func TestReadAtHoleIsCorruptInode(t *testing.T) {
	tr, in := newTestTree(t, 16)
	// Size claims content exists but no block was ever allocated: this can
	// only happen if the on-disk inode was corrupted or hand-edited.
	in.Size = 10
	buf := make([]byte, 10)
	_, err := tr.ReadAt(in, 0, buf)
	if err != fserrors.ErrCorruptInode {
		t.Errorf("ReadAt() error = %v, want ErrCorruptInode", err)
	}
}
