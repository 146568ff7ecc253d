package blockstore

import "testing"

func TestBlockBoundsAndContent(t *testing.T) {
	data := make([]byte, 4*16)
	bs, err := New(data, 4, 16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := bs.BlockMut(5)
	if err != nil {
		t.Fatalf("BlockMut(5) error = %v", err)
	}
	copy(b, []byte{1, 2, 3, 4})
	got, err := bs.Block(5)
	if err != nil {
		t.Fatalf("Block(5) error = %v", err)
	}
	if got[0] != 1 || got[3] != 4 {
		t.Errorf("Block(5) = %v, want [1 2 3 4]", got)
	}
}

func TestBlockOutOfRange(t *testing.T) {
	data := make([]byte, 4*4)
	bs, _ := New(data, 4, 4)
	if _, err := bs.Block(4); err == nil {
		t.Errorf("Block(4) should fail: only indices [0,4) are valid")
	}
}

func TestNewRejectsUndersizedSlice(t *testing.T) {
	data := make([]byte, 4)
	if _, err := New(data, 4, 4); err == nil {
		t.Errorf("New() should fail: backing slice too small")
	}
}

func TestZero(t *testing.T) {
	data := make([]byte, 4*4)
	bs, _ := New(data, 4, 4)
	b, _ := bs.BlockMut(1)
	copy(b, []byte{9, 9, 9, 9})
	if err := bs.Zero(1); err != nil {
		t.Fatalf("Zero() error = %v", err)
	}
	got, _ := bs.Block(1)
	for _, v := range got {
		if v != 0 {
			t.Errorf("Zero() left nonzero byte: %v", got)
		}
	}
}

func TestPointersPerBlock(t *testing.T) {
	data := make([]byte, 1024)
	bs, _ := New(data, 1024, 1)
	if got := bs.PointersPerBlock(); got != 256 {
		t.Errorf("PointersPerBlock() = %d, want 256", got)
	}
}
