// Package imgfs is the FileSystem facade: the single entry point that turns
// a formatted byte region into the set of path-addressed operations a host
// (a FUSE bridge, a CLI, a test) actually calls. It owns the superblock, the
// two occupancy bitmaps, the inode table, and the block-pointer tree, and
// keeps them consistent across every mutating call.
package imgfs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/go-blockfs/blockfs/backend"
	"github.com/go-blockfs/blockfs/bitmap"
	"github.com/go-blockfs/blockfs/blockstore"
	"github.com/go-blockfs/blockfs/blocktree"
	"github.com/go-blockfs/blockfs/dentry"
	"github.com/go-blockfs/blockfs/directory"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
	"github.com/go-blockfs/blockfs/pathresolver"
	"github.com/go-blockfs/blockfs/region"
	"github.com/go-blockfs/blockfs/superblock"
)

// FileSystem is a mounted image: the live views over one byte region that
// every operation below reads and writes through.
type FileSystem struct {
	region      *region.Region
	sbBytes     []byte
	sb          *superblock.Superblock
	layout      *superblock.Layout
	inodeBitmap *bitmap.Bitmap
	dataBitmap  *bitmap.Bitmap
	inodes      *inode.Table
	blocks      *blockstore.BlockStore
	tree        *blocktree.Tree
	log         *logrus.Entry
}

func newLogger(log *logrus.Logger) *logrus.Entry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("component", "imgfs")
}

func openLayout(r *region.Region, log *logrus.Logger) (*FileSystem, error) {
	sbBytes, err := r.Slice(0, superblock.Size)
	if err != nil {
		return nil, fmt.Errorf("imgfs: region too small for a superblock: %w", err)
	}
	sb, err := superblock.Decode(sbBytes)
	if err != nil {
		return nil, err
	}
	layout, err := superblock.ComputeLayout(sb.BlockSize, sb.BlocksNum, sb.InodesNum)
	if err != nil {
		return nil, err
	}
	bs := int(layout.BlockSize)

	inodeBitmapBytes, err := r.Slice(int(layout.InodeBitmapBlock)*bs, int(layout.InodeBitmapBlocks)*bs)
	if err != nil {
		return nil, fmt.Errorf("imgfs: slicing inode bitmap: %w", err)
	}
	inodeBitmap, err := bitmap.New(inodeBitmapBytes, int(sb.InodesNum))
	if err != nil {
		return nil, err
	}

	inodeTableBytes, err := r.Slice(int(layout.InodeTableBlock)*bs, int(layout.InodeTableBlocks)*bs)
	if err != nil {
		return nil, fmt.Errorf("imgfs: slicing inode table: %w", err)
	}
	inodeTable, err := inode.NewTable(inodeTableBytes, sb.InodesNum)
	if err != nil {
		return nil, err
	}

	dataBitmapBytes, err := r.Slice(int(layout.DataBitmapBlock)*bs, int(layout.DataBitmapBlocks)*bs)
	if err != nil {
		return nil, fmt.Errorf("imgfs: slicing data bitmap: %w", err)
	}
	dataBitmap, err := bitmap.New(dataBitmapBytes, int(layout.DataRegionBlocks))
	if err != nil {
		return nil, err
	}

	dataBytes, err := r.Slice(int(layout.DataRegionBlock)*bs, int(layout.DataRegionBlocks)*bs)
	if err != nil {
		return nil, fmt.Errorf("imgfs: slicing data region: %w", err)
	}
	blocks, err := blockstore.New(dataBytes, layout.BlockSize, layout.DataRegionBlocks)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		region:      r,
		sbBytes:     sbBytes,
		sb:          sb,
		layout:      layout,
		inodeBitmap: inodeBitmap,
		dataBitmap:  dataBitmap,
		inodes:      inodeTable,
		blocks:      blocks,
		tree:        blocktree.New(blocks, dataBitmap),
		log:         newLogger(log),
	}, nil
}

// Mount opens an already-formatted image held in r.
func Mount(r *region.Region, log *logrus.Logger) (*FileSystem, error) {
	fs, err := openLayout(r, log)
	if err != nil {
		return nil, err
	}
	fs.log.WithFields(logrus.Fields{
		"block_size": fs.sb.BlockSize,
		"blocks_num": fs.sb.BlocksNum,
		"inodes_num": fs.sb.InodesNum,
	}).Info("mounted image")
	return fs, nil
}

// Format lays a brand-new filesystem out across r: superblock, zeroed
// bitmaps with their sentinel bit reserved, a zeroed inode table, and a
// freshly-created empty root directory at pathresolver.RootInode.
func Format(r *region.Region, blockSize, blocksNum, inodesNum uint32, log *logrus.Logger) (*FileSystem, error) {
	layout, err := superblock.ComputeLayout(blockSize, blocksNum, inodesNum)
	if err != nil {
		return nil, err
	}
	need := int64(blockSize) * int64(blocksNum)
	if int64(r.Len()) < need {
		return nil, fmt.Errorf("imgfs: region of %d bytes too small for an image of %d bytes", r.Len(), need)
	}

	sbBytes, err := r.Slice(0, superblock.Size)
	if err != nil {
		return nil, err
	}
	sb := &superblock.Superblock{InodesNum: inodesNum, BlocksNum: blocksNum, BlockSize: blockSize}
	if err := sb.Encode(sbBytes); err != nil {
		return nil, err
	}

	bs := int(layout.BlockSize)
	zero := func(blockStart, numBlocks uint32) error {
		buf, err := r.Slice(int(blockStart)*bs, int(numBlocks)*bs)
		if err != nil {
			return err
		}
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err := zero(layout.InodeBitmapBlock, layout.InodeBitmapBlocks); err != nil {
		return nil, fmt.Errorf("imgfs: zeroing inode bitmap: %w", err)
	}
	if err := zero(layout.InodeTableBlock, layout.InodeTableBlocks); err != nil {
		return nil, fmt.Errorf("imgfs: zeroing inode table: %w", err)
	}
	if err := zero(layout.DataBitmapBlock, layout.DataBitmapBlocks); err != nil {
		return nil, fmt.Errorf("imgfs: zeroing data bitmap: %w", err)
	}

	fs, err := openLayout(r, log)
	if err != nil {
		return nil, err
	}
	fs.inodeBitmap.Take(0)
	fs.dataBitmap.Take(0)

	rootNum, err := fs.allocInode()
	if err != nil {
		return nil, err
	}
	if rootNum != pathresolver.RootInode {
		return nil, fmt.Errorf("imgfs: root inode allocated as %d, want %d", rootNum, pathresolver.RootInode)
	}
	now := inode.Now()
	root := &inode.Inode{
		TypePerm:   inode.TypeDirectory | 0o755,
		HardLinks:  2,
		AccessTime: now,
		ModTime:    now,
		CreatTime:  now,
	}
	if err := fs.inodes.Write(rootNum, root); err != nil {
		return nil, err
	}
	if err := directory.InitDotEntries(fs.tree, root, rootNum, rootNum); err != nil {
		return nil, err
	}
	if err := fs.inodes.Write(rootNum, root); err != nil {
		return nil, err
	}

	fs.refreshCounts()
	fs.log.WithFields(logrus.Fields{
		"block_size": blockSize,
		"blocks_num": blocksNum,
		"inodes_num": inodesNum,
	}).Info("formatted image")
	return fs, nil
}

func (fs *FileSystem) refreshCounts() {
	freeBlocks := 0
	for i := 1; i < fs.dataBitmap.Size(); i++ {
		if !fs.dataBitmap.IsSet(i) {
			freeBlocks++
		}
	}
	freeInodes := 0
	for i := 1; i < fs.inodeBitmap.Size(); i++ {
		if !fs.inodeBitmap.IsSet(i) {
			freeInodes++
		}
	}
	fs.sb.FreeBlocks = uint32(freeBlocks)
	fs.sb.FreeInodes = uint32(freeInodes)
	fs.sb.Encode(fs.sbBytes)
}

func (fs *FileSystem) allocInode() (uint32, error) {
	idx, err := fs.inodeBitmap.FirstFree()
	if err != nil {
		return 0, err
	}
	return uint32(idx), nil
}

func (fs *FileSystem) freeInode(number uint32) {
	fs.inodeBitmap.Free(int(number))
}

// Sync flushes the underlying region back to persistent storage through b.
// When the region is backed by a real mmap mapping this is redundant with
// the kernel's own writeback, but it gives a host a point to force
// durability on demand, matching the msync-on-request model the image
// format assumes.
func (fs *FileSystem) Sync(b backend.Storage) error {
	return fs.region.Sync(b)
}

// Superblock returns a copy of the current superblock header, reflecting
// the live free-space counters.
func (fs *FileSystem) Superblock() superblock.Superblock {
	return *fs.sb
}

// GetAttr resolves path and returns its inode along with its inode number.
func (fs *FileSystem) GetAttr(path string) (*inode.Inode, uint32, error) {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return nil, 0, err
	}
	in, err := fs.inodes.Read(num)
	if err != nil {
		return nil, 0, err
	}
	return in, num, nil
}

// ReadDir lists the entries of the directory at path.
func (fs *FileSystem) ReadDir(path string) ([]dentry.Entry, error) {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return nil, err
	}
	dir, err := fs.inodes.Read(num)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory() {
		return nil, fserrors.ErrNotADirectory
	}
	return directory.List(fs.tree, dir)
}

// ReadFile reads into buf starting at offset within the regular file at
// path.
func (fs *FileSystem) ReadFile(path string, offset int64, buf []byte) (int, error) {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return 0, err
	}
	in, err := fs.inodes.Read(num)
	if err != nil {
		return 0, err
	}
	if in.IsDirectory() {
		return 0, fserrors.ErrNotADirectory
	}
	return fs.tree.ReadAt(in, offset, buf)
}

// WriteFile writes data at offset within the regular file at path. If offset
// plus the data would extend past the current size, the file is truncated
// (grown) to that length first, so any gap between the old size and offset
// gets real, zero-filled blocks rather than a hole. Persists the updated
// inode.
func (fs *FileSystem) WriteFile(path string, offset int64, data []byte) (int, error) {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return 0, err
	}
	in, err := fs.inodes.Read(num)
	if err != nil {
		return 0, err
	}
	if in.IsDirectory() {
		return 0, fserrors.ErrNotADirectory
	}
	if grown := offset + int64(len(data)); grown > 0 && uint64(in.Size) < uint64(grown) {
		if grown > int64(^uint32(0)) {
			return 0, fserrors.ErrFileTooLarge
		}
		if err := fs.tree.Truncate(in, uint32(grown)); err != nil {
			return 0, err
		}
	}
	n, err := fs.tree.WriteAt(in, offset, data)
	if err != nil && n == 0 {
		return 0, err
	}
	in.ModTime = inode.Now()
	if werr := fs.inodes.Write(num, in); werr != nil {
		return n, werr
	}
	fs.refreshCounts()
	return n, err
}

// Truncate resizes the regular file at path to size bytes.
func (fs *FileSystem) Truncate(path string, size uint32) error {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return err
	}
	in, err := fs.inodes.Read(num)
	if err != nil {
		return err
	}
	if in.IsDirectory() {
		return fserrors.ErrNotADirectory
	}
	if err := fs.tree.Truncate(in, size); err != nil {
		return err
	}
	in.ModTime = inode.Now()
	if err := fs.inodes.Write(num, in); err != nil {
		return err
	}
	fs.refreshCounts()
	return nil
}

// Chmod updates the permission bits of the inode at path.
func (fs *FileSystem) Chmod(path string, mode uint16) error {
	num, err := pathresolver.Resolve(fs.tree, fs.inodes, path)
	if err != nil {
		return err
	}
	in, err := fs.inodes.Read(num)
	if err != nil {
		return err
	}
	in.SetMode(mode)
	return fs.inodes.Write(num, in)
}

func (fs *FileSystem) createChild(path string, typePerm uint16) (uint32, error) {
	parentNum, name, err := pathresolver.ResolveParent(fs.tree, fs.inodes, path)
	if err != nil {
		return 0, err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return 0, err
	}
	if !parent.IsDirectory() {
		return 0, fserrors.ErrNotADirectory
	}
	if _, err := directory.Lookup(fs.tree, parent, name); err == nil {
		return 0, fserrors.ErrExists
	} else if err != fserrors.ErrNotFound {
		return 0, err
	}

	childNum, err := fs.allocInode()
	if err != nil {
		return 0, err
	}
	now := inode.Now()
	child := &inode.Inode{
		TypePerm:   typePerm,
		HardLinks:  2,
		AccessTime: now,
		ModTime:    now,
		CreatTime:  now,
	}
	if err := fs.inodes.Write(childNum, child); err != nil {
		fs.freeInode(childNum)
		return 0, err
	}
	if child.IsDirectory() {
		if err := directory.InitDotEntries(fs.tree, child, childNum, parentNum); err != nil {
			fs.freeInode(childNum)
			return 0, err
		}
		if err := fs.inodes.Write(childNum, child); err != nil {
			fs.freeInode(childNum)
			return 0, err
		}
	}
	if err := directory.AppendEntry(fs.tree, parent, name, childNum); err != nil {
		fs.freeInode(childNum)
		return 0, err
	}
	if err := fs.inodes.Write(parentNum, parent); err != nil {
		return 0, err
	}
	fs.refreshCounts()
	fs.log.WithFields(logrus.Fields{"path": path, "inode": childNum}).Debug("created entry")
	return childNum, nil
}

// Create makes a new regular file at path with the given permission bits.
func (fs *FileSystem) Create(path string, mode uint16) (uint32, error) {
	return fs.createChild(path, inode.TypeRegular|(mode&0o777))
}

// Mkdir makes a new, empty directory at path with the given permission
// bits.
func (fs *FileSystem) Mkdir(path string, mode uint16) (uint32, error) {
	return fs.createChild(path, inode.TypeDirectory|(mode&0o777))
}

// Unlink removes the directory entry at path and frees its inode and every
// block backing its content. hard_links is not consulted: this format does
// not support creating additional names for an existing inode, so every
// regular file has exactly one owning dentry.
func (fs *FileSystem) Unlink(path string) error {
	parentNum, name, err := pathresolver.ResolveParent(fs.tree, fs.inodes, path)
	if err != nil {
		return err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	if !parent.IsDirectory() {
		return fserrors.ErrNotADirectory
	}
	childNum, err := directory.Lookup(fs.tree, parent, name)
	if err != nil {
		return err
	}
	child, err := fs.inodes.Read(childNum)
	if err != nil {
		return err
	}
	if child.IsDirectory() {
		return fserrors.ErrNotADirectory
	}
	if err := directory.RemoveEntry(fs.tree, parent, name); err != nil {
		return err
	}
	if err := fs.tree.Truncate(child, 0); err != nil {
		return err
	}
	fs.freeInode(childNum)
	if err := fs.inodes.Write(parentNum, parent); err != nil {
		return err
	}
	fs.refreshCounts()
	return nil
}

// Rmdir removes the empty directory at path.
func (fs *FileSystem) Rmdir(path string) error {
	parentNum, name, err := pathresolver.ResolveParent(fs.tree, fs.inodes, path)
	if err != nil {
		return err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	childNum, err := directory.Lookup(fs.tree, parent, name)
	if err != nil {
		return err
	}
	child, err := fs.inodes.Read(childNum)
	if err != nil {
		return err
	}
	if !child.IsDirectory() {
		return fserrors.ErrNotADirectory
	}
	empty, err := directory.IsEmpty(fs.tree, child)
	if err != nil {
		return err
	}
	if !empty {
		return fserrors.ErrNotEmpty
	}
	if err := directory.RemoveEntry(fs.tree, parent, name); err != nil {
		return err
	}
	if err := fs.tree.Truncate(child, 0); err != nil {
		return err
	}
	fs.freeInode(childNum)
	if err := fs.inodes.Write(parentNum, parent); err != nil {
		return err
	}
	fs.refreshCounts()
	return nil
}

// Rename moves the entry at oldPath to newPath. If newPath already names a
// directory, Rename fails with ErrExists; if it names a regular file, that
// file is unlinked first and newPath is overwritten.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	oldParentNum, oldName, err := pathresolver.ResolveParent(fs.tree, fs.inodes, oldPath)
	if err != nil {
		return err
	}
	oldParent, err := fs.inodes.Read(oldParentNum)
	if err != nil {
		return err
	}
	childNum, err := directory.Lookup(fs.tree, oldParent, oldName)
	if err != nil {
		return err
	}

	newParentNum, newName, err := pathresolver.ResolveParent(fs.tree, fs.inodes, newPath)
	if err != nil {
		return err
	}
	// Within one directory both sides must share a single inode copy, or
	// writing oldParent back would drop a block AppendEntry adds below.
	newParent := oldParent
	if newParentNum != oldParentNum {
		if newParent, err = fs.inodes.Read(newParentNum); err != nil {
			return err
		}
	}
	if !newParent.IsDirectory() {
		return fserrors.ErrNotADirectory
	}
	if existingNum, err := directory.Lookup(fs.tree, newParent, newName); err == nil {
		existing, err := fs.inodes.Read(existingNum)
		if err != nil {
			return err
		}
		if existing.IsDirectory() {
			return fserrors.ErrExists
		}
		if err := directory.RemoveEntry(fs.tree, newParent, newName); err != nil {
			return err
		}
		if err := fs.tree.Truncate(existing, 0); err != nil {
			return err
		}
		fs.freeInode(existingNum)
	} else if err != fserrors.ErrNotFound {
		return err
	}

	if err := directory.AppendEntry(fs.tree, newParent, newName, childNum); err != nil {
		return err
	}
	if err := directory.RemoveEntry(fs.tree, oldParent, oldName); err != nil {
		return err
	}

	if newParentNum != oldParentNum {
		child, err := fs.inodes.Read(childNum)
		if err != nil {
			return err
		}
		if child.IsDirectory() {
			// Moving a directory to a new parent invalidates its ".."
			// entry; fix it up so the directory invariant (exactly one
			// ".." pointing at the real parent) keeps holding.
			if err := directory.RemoveEntry(fs.tree, child, ".."); err != nil {
				return err
			}
			if err := directory.AppendEntry(fs.tree, child, "..", newParentNum); err != nil {
				return err
			}
			if err := fs.inodes.Write(childNum, child); err != nil {
				return err
			}
		}
	}

	if err := fs.inodes.Write(oldParentNum, oldParent); err != nil {
		return err
	}
	if newParentNum != oldParentNum {
		if err := fs.inodes.Write(newParentNum, newParent); err != nil {
			return err
		}
	}
	fs.refreshCounts()
	return nil
}
