package pathresolver

import (
	"testing"

	"github.com/go-blockfs/blockfs/bitmap"
	"github.com/go-blockfs/blockfs/blockstore"
	"github.com/go-blockfs/blockfs/blocktree"
	"github.com/go-blockfs/blockfs/directory"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
)

// harness wires up a tiny in-memory image: root (inode 1) containing
// directory "sub" (inode 2), which in turn contains regular file "leaf.txt"
// (inode 3).
func harness(t *testing.T) (*blocktree.Tree, *inode.Table) {
	t.Helper()
	const blockSize = 64
	const numBlocks = 32
	const numInodes = 8

	data := make([]byte, blockSize*numBlocks)
	bs, err := blockstore.New(data, blockSize, numBlocks)
	if err != nil {
		t.Fatalf("blockstore.New() error = %v", err)
	}
	bmBytes := make([]byte, (numBlocks+7)/8)
	bm, err := bitmap.New(bmBytes, numBlocks)
	if err != nil {
		t.Fatalf("bitmap.New() error = %v", err)
	}
	tree := blocktree.New(bs, bm)

	inodeData := make([]byte, 128*numInodes)
	table, err := inode.NewTable(inodeData, numInodes)
	if err != nil {
		t.Fatalf("inode.NewTable() error = %v", err)
	}

	root := &inode.Inode{TypePerm: inode.TypeDirectory | 0o755}
	if err := directory.AppendEntry(tree, root, "sub", 2); err != nil {
		t.Fatalf("AppendEntry(sub) error = %v", err)
	}
	if err := table.Write(RootInode, root); err != nil {
		t.Fatalf("table.Write(root) error = %v", err)
	}

	sub := &inode.Inode{TypePerm: inode.TypeDirectory | 0o755}
	if err := directory.AppendEntry(tree, sub, "leaf.txt", 3); err != nil {
		t.Fatalf("AppendEntry(leaf.txt) error = %v", err)
	}
	if err := table.Write(2, sub); err != nil {
		t.Fatalf("table.Write(sub) error = %v", err)
	}

	leaf := &inode.Inode{TypePerm: inode.TypeRegular | 0o644}
	if err := table.Write(3, leaf); err != nil {
		t.Fatalf("table.Write(leaf) error = %v", err)
	}

	return tree, table
}

func TestResolveRoot(t *testing.T) {
	tree, table := harness(t)
	got, err := Resolve(tree, table, "/")
	if err != nil || got != RootInode {
		t.Errorf("Resolve(/) = (%d, %v), want (%d, nil)", got, err, RootInode)
	}
}

func TestResolveNestedPath(t *testing.T) {
	tree, table := harness(t)
	got, err := Resolve(tree, table, "/sub/leaf.txt")
	if err != nil || got != 3 {
		t.Errorf("Resolve(/sub/leaf.txt) = (%d, %v), want (3, nil)", got, err)
	}
}

func TestResolveNotFound(t *testing.T) {
	tree, table := harness(t)
	if _, err := Resolve(tree, table, "/sub/missing"); err != fserrors.ErrNotFound {
		t.Errorf("Resolve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestResolveThroughFileFailsNotFound(t *testing.T) {
	tree, table := harness(t)
	if _, err := Resolve(tree, table, "/sub/leaf.txt/oops"); err != fserrors.ErrNotFound {
		t.Errorf("Resolve() through a file error = %v, want ErrNotFound", err)
	}
}

func TestResolveRejectsRelativePath(t *testing.T) {
	tree, table := harness(t)
	if _, err := Resolve(tree, table, "sub/leaf.txt"); err != fserrors.ErrBadPath {
		t.Errorf("Resolve(relative) error = %v, want ErrBadPath", err)
	}
}

func TestResolveParent(t *testing.T) {
	tree, table := harness(t)
	parent, name, err := ResolveParent(tree, table, "/sub/leaf.txt")
	if err != nil || parent != 2 || name != "leaf.txt" {
		t.Errorf("ResolveParent() = (%d, %q, %v), want (2, leaf.txt, nil)", parent, name, err)
	}
}

func TestResolveParentOfNewEntry(t *testing.T) {
	tree, table := harness(t)
	parent, name, err := ResolveParent(tree, table, "/sub/new-file.txt")
	if err != nil || parent != 2 || name != "new-file.txt" {
		t.Errorf("ResolveParent(new) = (%d, %q, %v), want (2, new-file.txt, nil)", parent, name, err)
	}
}

func TestResolveParentRejectsRoot(t *testing.T) {
	tree, table := harness(t)
	if _, _, err := ResolveParent(tree, table, "/"); err != fserrors.ErrBadPath {
		t.Errorf("ResolveParent(/) error = %v, want ErrBadPath", err)
	}
}
