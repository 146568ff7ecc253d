package superblock

import (
	"testing"

	"github.com/go-test/deep"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sb := &Superblock{
		InodesNum: 1024,
		BlocksNum: 16348,
		BlockSize: 1024,
	}
	buf := make([]byte, Size)
	if err := sb.Encode(buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := deep.Equal(got, sb); diff != nil {
		t.Errorf("Decode() mismatch: %v", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, Size)
	if _, err := Decode(buf); err == nil {
		t.Errorf("Decode() on all-zero buffer should fail magic check")
	}
}

func TestComputeLayoutMatchesSpecExample(t *testing.T) {
	l, err := ComputeLayout(1024, 16348, 1024)
	if err != nil {
		t.Fatalf("ComputeLayout() error = %v", err)
	}
	if l.InodeBitmapBlock != 1 {
		t.Errorf("InodeBitmapBlock = %d, want 1", l.InodeBitmapBlock)
	}
	// inode bitmap: ceil(1024 / (8*1024)) = 1 block
	if l.InodeBitmapBlocks != 1 {
		t.Errorf("InodeBitmapBlocks = %d, want 1", l.InodeBitmapBlocks)
	}
	// inode table: ceil(1024*128/1024) = 128 blocks
	if l.InodeTableBlocks != 128 {
		t.Errorf("InodeTableBlocks = %d, want 128", l.InodeTableBlocks)
	}
	if l.DataRegionBlock <= l.DataBitmapBlock {
		t.Errorf("data region block %d should come after data bitmap block %d", l.DataRegionBlock, l.DataBitmapBlock)
	}
	if l.DataRegionBlock+l.DataRegionBlocks != l.BlocksNum {
		t.Errorf("regions don't add up to blocks_num: %d + %d != %d", l.DataRegionBlock, l.DataRegionBlocks, l.BlocksNum)
	}
}

func TestComputeLayoutRejectsUndersizedImage(t *testing.T) {
	if _, err := ComputeLayout(1024, 2, 1024); err == nil {
		t.Errorf("ComputeLayout() should fail when blocks_num is too small for the metadata alone")
	}
}
