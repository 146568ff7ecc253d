// Package directory implements directory content as a sequence of
// fixed-size blocks of packed dentry records, built on top of the
// block-pointer tree that a directory's inode shares with regular files.
// Unlike file content, directory blocks are never addressed as a flat byte
// stream: records never span a block boundary, so every operation here
// walks the directory one logical block at a time.
package directory

import (
	"fmt"

	"github.com/go-blockfs/blockfs/blocktree"
	"github.com/go-blockfs/blockfs/dentry"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
)

// MaxNameLen bounds how long a single path component may be; the length is
// stored in a dentry's 4-byte name_len field, far above this bound. The bound
// does not depend on the block size: AppendEntry separately rejects a name
// whose record does not fit in one block.
const MaxNameLen = 1 << 16

// List returns every live entry in dir's content, in on-disk order across
// its blocks.
func List(tree *blocktree.Tree, dir *inode.Inode) ([]dentry.Entry, error) {
	n := blocktree.NumLogicalBlocks(dir.Size, tree.BlockSize())
	var all []dentry.Entry
	for idx := uint32(0); idx < n; idx++ {
		block, err := tree.BlockAt(dir, uint64(idx), false)
		if err != nil {
			return nil, err
		}
		all = append(all, dentry.List(block)...)
	}
	return all, nil
}

// Lookup searches dir's content for name and returns its inode number.
func Lookup(tree *blocktree.Tree, dir *inode.Inode, name string) (uint32, error) {
	n := blocktree.NumLogicalBlocks(dir.Size, tree.BlockSize())
	for idx := uint32(0); idx < n; idx++ {
		block, err := tree.BlockAt(dir, uint64(idx), false)
		if err != nil {
			return 0, err
		}
		if got, ok := dentry.Lookup(block, name); ok {
			return got, nil
		}
	}
	return 0, fserrors.ErrNotFound
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fserrors.ErrBadPath
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return fserrors.ErrBadPath
		}
	}
	return nil
}

// AppendEntry adds name -> childInode to dir's content, reusing the first
// free run of space big enough to hold it (a tombstone, several merged
// tombstones, or simply unwritten tail space) in an already-allocated
// block, otherwise growing the directory by one new block.
func AppendEntry(tree *blocktree.Tree, dir *inode.Inode, name string, childInode uint32) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := Lookup(tree, dir, name); err == nil {
		return fserrors.ErrExists
	} else if err != fserrors.ErrNotFound {
		return err
	}

	blockSize := tree.BlockSize()
	needed := dentry.RecordSize(len(name))
	if needed > int(blockSize) {
		return fmt.Errorf("directory: name %q does not fit in a single block of %d bytes", name, blockSize)
	}

	n := blocktree.NumLogicalBlocks(dir.Size, blockSize)
	for idx := uint32(0); idx < n; idx++ {
		block, err := tree.BlockAt(dir, uint64(idx), false)
		if err != nil {
			return err
		}
		if off, ok := dentry.FindSpace(block, len(name)); ok {
			return dentry.Encode(block[off:off+needed], childInode, name)
		}
	}

	block, err := tree.BlockAt(dir, uint64(n), true)
	if err != nil {
		return err
	}
	if err := dentry.Encode(block, childInode, name); err != nil {
		return err
	}
	dir.Size += blockSize
	return nil
}

// RemoveEntry turns name's dentry into a tombstone. It does not shrink the
// directory or compact the surrounding block.
func RemoveEntry(tree *blocktree.Tree, dir *inode.Inode, name string) error {
	n := blocktree.NumLogicalBlocks(dir.Size, tree.BlockSize())
	for idx := uint32(0); idx < n; idx++ {
		block, err := tree.BlockAt(dir, uint64(idx), false)
		if err != nil {
			return err
		}
		if r, ok := dentry.Find(block, name); ok {
			return dentry.Clear(block, r)
		}
	}
	return fserrors.ErrNotFound
}

// IsEmpty reports whether dir contains nothing beyond the mandatory "." and
// ".." entries every directory is created with.
func IsEmpty(tree *blocktree.Tree, dir *inode.Inode) (bool, error) {
	entries, err := List(tree, dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// InitDotEntries populates a freshly created, empty directory with its
// mandatory "." and ".." entries, pointing at selfInode and parentInode
// respectively (a freshly created root directory passes its own number for
// both). It must run before any other entry is appended.
func InitDotEntries(tree *blocktree.Tree, dir *inode.Inode, selfInode, parentInode uint32) error {
	if err := AppendEntry(tree, dir, ".", selfInode); err != nil {
		return err
	}
	return AppendEntry(tree, dir, "..", parentInode)
}
