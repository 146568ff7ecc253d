package bitmap

import (
	"errors"
	"testing"

	"github.com/go-blockfs/blockfs/fserrors"
)

func TestFirstFreeSkipsZero(t *testing.T) {
	bm, err := New(make([]byte, 1), 8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := bm.FirstFree()
	if err != nil {
		t.Fatalf("FirstFree() error = %v", err)
	}
	if got != 1 {
		t.Errorf("FirstFree() = %d, want 1", got)
	}
	if bm.IsSet(0) {
		t.Errorf("bit 0 should never be taken by FirstFree")
	}
	if !bm.IsSet(1) {
		t.Errorf("FirstFree should have taken bit 1")
	}
}

func TestFirstFreeEnumeratesInOrder(t *testing.T) {
	bm, err := New(make([]byte, 2), 16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for want := 1; want < 16; want++ {
		got, err := bm.FirstFree()
		if err != nil {
			t.Fatalf("FirstFree() error = %v", err)
		}
		if got != want {
			t.Fatalf("FirstFree() = %d, want %d", got, want)
		}
	}
	if _, err := bm.FirstFree(); !errors.Is(err, fserrors.ErrOutOfSpace) {
		t.Errorf("FirstFree() on full bitmap error = %v, want ErrOutOfSpace", err)
	}
}

func TestTakeFreeRoundTrip(t *testing.T) {
	bm, err := New(make([]byte, 1), 8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bm.Take(3)
	if !bm.IsSet(3) {
		t.Fatalf("bit 3 should be set after Take")
	}
	bm.Free(3)
	if bm.IsSet(3) {
		t.Fatalf("bit 3 should be clear after Free")
	}
}

func TestFirstFreeReusesFreedBit(t *testing.T) {
	bm, err := New(make([]byte, 1), 8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, _ := bm.FirstFree()
	b, _ := bm.FirstFree()
	bm.Free(a)
	c, err := bm.FirstFree()
	if err != nil {
		t.Fatalf("FirstFree() error = %v", err)
	}
	if c != a {
		t.Errorf("FirstFree() after freeing %d = %d, want %d (lowest free index)", a, c, a)
	}
	if b == a {
		t.Fatalf("first two FirstFree calls returned the same index")
	}
}

func TestBitmapIsLiveViewOverBackingSlice(t *testing.T) {
	backing := make([]byte, 1)
	bm, err := New(backing, 8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bm.Take(2)
	if backing[0] != 0b0000_0100 {
		t.Errorf("backing slice = %08b, want bit 2 set directly in the caller's buffer", backing[0])
	}
}

func TestNewRejectsUndersizedSlice(t *testing.T) {
	if _, err := New(make([]byte, 1), 9); err == nil {
		t.Errorf("New() with undersized slice should have failed")
	}
}
