// Package fusehost bridges the path-addressed FileSystem facade onto
// jacobsa/fuse's inode-numbered operation set. The core never resolves FUSE
// requests itself (that translation is explicitly a host concern); this
// package is one such host, suitable for mounting an image with the
// standard `mount -t fuse` machinery via fuseutil.NewFileSystemServer.
//
// FUSE identifies everything by inode number and expects a host to resolve
// child lookups relative to a parent's number. Since every inode here
// already carries the real, persistent inode number the image uses
// on-disk, this host's only extra bookkeeping is a name cache mapping each
// inode number it has told the kernel about back to the full path the core
// API needs.
package fusehost

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"

	"github.com/go-blockfs/blockfs/dentry"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/imgfs"
	"github.com/go-blockfs/blockfs/inode"
	"github.com/go-blockfs/blockfs/pathresolver"
)

// FS adapts an *imgfs.FileSystem to fuseutil.FileSystem.
type FS struct {
	fuseutil.NotImplementedFileSystem

	fs  *imgfs.FileSystem
	log *logrus.Entry

	mu    sync.Mutex
	paths map[fuseops.InodeID]string
}

// New wraps fs for serving over FUSE. Pass the result to
// fuseutil.NewFileSystemServer to obtain a fuse.Server.
func New(fs *imgfs.FileSystem, log *logrus.Logger) *FS {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FS{
		fs:  fs,
		log: log.WithField("component", "fusehost"),
		paths: map[fuseops.InodeID]string{
			fuseops.RootInodeID: "/",
		},
	}
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fserrors.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, fserrors.ErrExists):
		return fuse.EEXIST
	case errors.Is(err, fserrors.ErrNotADirectory):
		return fuse.ENOTDIR
	case errors.Is(err, fserrors.ErrNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, fserrors.ErrOutOfSpace):
		return fuse.ENOSPC
	case errors.Is(err, fserrors.ErrFileTooLarge):
		return fuse.EFBIG
	case errors.Is(err, fserrors.ErrBadPath), errors.Is(err, fserrors.ErrInvalidUTF8):
		return fuse.EINVAL
	default:
		return fuse.EIO
	}
}

func attrsFor(in *inode.Inode) fuseops.InodeAttributes {
	mode := os.FileMode(in.Mode())
	if in.IsDirectory() {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  uint64(in.Size),
		Nlink: in.HardLinks,
		Mode:  mode,
		Atime: time.Unix(int64(in.AccessTime), 0),
		Mtime: time.Unix(int64(in.ModTime), 0),
		Ctime: time.Unix(int64(in.CreatTime), 0),
		Uid:   uint32(in.UID),
		Gid:   uint32(in.GID),
	}
}

func (fh *FS) pathOf(id fuseops.InodeID) string {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.paths[id]
}

func (fh *FS) remember(id fuseops.InodeID, path string) {
	fh.mu.Lock()
	fh.paths[id] = path
	fh.mu.Unlock()
}

func (fh *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	sb := fh.fs.Superblock()
	op.Blocks = uint64(sb.BlocksNum)
	op.BlocksFree = uint64(sb.FreeBlocks)
	op.BlocksAvailable = uint64(sb.FreeBlocks)
	op.IoSize = sb.BlockSize
	op.BlockSize = sb.BlockSize
	op.Inodes = uint64(sb.InodesNum)
	op.InodesFree = uint64(sb.FreeInodes)
	return nil
}

func (fh *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath := fh.pathOf(op.Parent)
	childPath := join(parentPath, op.Name)
	in, num, err := fh.fs.GetAttr(childPath)
	if err != nil {
		return mapErr(err)
	}
	childID := fuseops.InodeID(num)
	fh.remember(childID, childPath)
	op.Entry.Child = childID
	op.Entry.Attributes = attrsFor(in)
	return nil
}

func (fh *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	in, _, err := fh.fs.GetAttr(fh.pathOf(op.Inode))
	if err != nil {
		return mapErr(err)
	}
	op.Attributes = attrsFor(in)
	return nil
}

func (fh *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	path := fh.pathOf(op.Inode)
	if op.Mode != nil {
		if err := fh.fs.Chmod(path, uint16(op.Mode.Perm())); err != nil {
			return mapErr(err)
		}
	}
	if op.Size != nil {
		if err := fh.fs.Truncate(path, uint32(*op.Size)); err != nil {
			return mapErr(err)
		}
	}
	in, _, err := fh.fs.GetAttr(path)
	if err != nil {
		return mapErr(err)
	}
	op.Attributes = attrsFor(in)
	return nil
}

// OpenDir and OpenFile report ENOSYS so the kernel stops sending per-handle
// Open requests for read paths that do not need one, the same optimization
// used by other jacobsa/fuse-based file systems in this family.
func (fh *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return fuse.ENOSYS
}

func (fh *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return fuse.ENOSYS
}

func (fh *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	path := fh.pathOf(op.Inode)
	all, err := fh.fs.ReadDir(path)
	if err != nil {
		return mapErr(err)
	}
	entries := make([]fuseutil.Dirent, 0, len(all))
	for _, e := range all {
		// "." and ".." are real dentries in the on-disk directory, but the
		// kernel synthesizes both itself; a FUSE ReadDir must not report
		// them again.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childPath := join(path, e.Name)
		fh.remember(fuseops.InodeID(e.InodeNum), childPath)
		entries = append(entries, dirent(e, len(entries), childPath, fh))
	}
	if int(op.Offset) > len(entries) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func dirent(e dentry.Entry, idx int, path string, fh *FS) fuseutil.Dirent {
	typ := fuseutil.DT_File
	if in, _, err := fh.fs.GetAttr(path); err == nil && in.IsDirectory() {
		typ = fuseutil.DT_Directory
	}
	return fuseutil.Dirent{
		Offset: fuseops.DirOffset(idx + 1),
		Inode:  fuseops.InodeID(e.InodeNum),
		Name:   e.Name,
		Type:   typ,
	}
}

func (fh *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := fh.fs.ReadFile(fh.pathOf(op.Inode), op.Offset, op.Dst)
	op.BytesRead = n
	if errors.Is(err, io.EOF) {
		return nil
	}
	return mapErr(err)
}

func (fh *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := fh.fs.WriteFile(fh.pathOf(op.Inode), op.Offset, op.Data)
	return mapErr(err)
}

func (fh *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	path := join(fh.pathOf(op.Parent), op.Name)
	num, err := fh.fs.Mkdir(path, uint16(op.Mode.Perm()))
	if err != nil {
		return mapErr(err)
	}
	in, _, err := fh.fs.GetAttr(path)
	if err != nil {
		return mapErr(err)
	}
	fh.remember(fuseops.InodeID(num), path)
	op.Entry.Child = fuseops.InodeID(num)
	op.Entry.Attributes = attrsFor(in)
	return nil
}

func (fh *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	path := join(fh.pathOf(op.Parent), op.Name)
	num, err := fh.fs.Create(path, uint16(op.Mode.Perm()))
	if err != nil {
		return mapErr(err)
	}
	in, _, err := fh.fs.GetAttr(path)
	if err != nil {
		return mapErr(err)
	}
	fh.remember(fuseops.InodeID(num), path)
	op.Entry.Child = fuseops.InodeID(num)
	op.Entry.Attributes = attrsFor(in)
	return nil
}

func (fh *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	path := join(fh.pathOf(op.Parent), op.Name)
	return mapErr(fh.fs.Unlink(path))
}

func (fh *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	path := join(fh.pathOf(op.Parent), op.Name)
	return mapErr(fh.fs.Rmdir(path))
}

func (fh *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldPath := join(fh.pathOf(op.OldParent), op.OldName)
	newPath := join(fh.pathOf(op.NewParent), op.NewName)
	return mapErr(fh.fs.Rename(oldPath, newPath))
}

var _ = pathresolver.RootInode // fuseops.RootInodeID coincides with this by construction
