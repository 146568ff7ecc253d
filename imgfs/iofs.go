package imgfs

import (
	"io"
	iofs "io/fs"
	"time"

	"github.com/go-blockfs/blockfs/inode"
)

// AsIOFS exposes fs as a read-only io/fs.ReadDirFS, so it can be walked with
// fs.WalkDir or handed to anything that only needs read access through the
// standard library's filesystem abstraction. io/fs paths are slash-rooted
// at "." rather than "/"; this adapter translates between the two
// conventions.
func AsIOFS(fs *FileSystem) iofs.ReadDirFS {
	return &ioFSAdapter{fs: fs}
}

type ioFSAdapter struct {
	fs *FileSystem
}

func (a *ioFSAdapter) toAbs(name string) (string, error) {
	if !iofs.ValidPath(name) {
		return "", &iofs.PathError{Op: "open", Path: name, Err: iofs.ErrInvalid}
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

func (a *ioFSAdapter) Open(name string) (iofs.File, error) {
	abs, err := a.toAbs(name)
	if err != nil {
		return nil, err
	}
	in, _, err := a.fs.GetAttr(abs)
	if err != nil {
		return nil, &iofs.PathError{Op: "open", Path: name, Err: err}
	}
	return &ioFile{fs: a.fs, path: abs, in: in}, nil
}

func (a *ioFSAdapter) ReadDir(name string) ([]iofs.DirEntry, error) {
	abs, err := a.toAbs(name)
	if err != nil {
		return nil, err
	}
	entries, err := a.fs.ReadDir(abs)
	if err != nil {
		return nil, &iofs.PathError{Op: "readdir", Path: name, Err: err}
	}
	out := make([]iofs.DirEntry, 0, len(entries))
	for _, e := range entries {
		// "." and ".." are real on-disk dentries in every directory here,
		// but io/fs requires DirEntry lists to never include them.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childPath := e.Name
		if abs != "/" {
			childPath = abs[1:] + "/" + e.Name
		}
		in, _, err := a.fs.GetAttr("/" + childPath)
		if err != nil {
			return nil, err
		}
		out = append(out, dirEntry{name: e.Name, in: in})
	}
	return out, nil
}

type dirEntry struct {
	name string
	in   *inode.Inode
}

func (d dirEntry) Name() string { return d.name }
func (d dirEntry) IsDir() bool  { return d.in.IsDirectory() }
func (d dirEntry) Type() iofs.FileMode {
	if d.in.IsDirectory() {
		return iofs.ModeDir
	}
	return 0
}
func (d dirEntry) Info() (iofs.FileInfo, error) {
	return fileInfo{name: d.name, in: d.in}, nil
}

type fileInfo struct {
	name string
	in   *inode.Inode
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return int64(fi.in.Size) }
func (fi fileInfo) Mode() iofs.FileMode {
	if fi.in.IsDirectory() {
		return iofs.ModeDir | iofs.FileMode(fi.in.Mode())
	}
	return iofs.FileMode(fi.in.Mode())
}
func (fi fileInfo) ModTime() time.Time { return time.Unix(int64(fi.in.ModTime), 0) }
func (fi fileInfo) IsDir() bool        { return fi.in.IsDirectory() }
func (fi fileInfo) Sys() any           { return fi.in }

// ioFile is the read-only handle returned by ioFSAdapter.Open. Directories
// can be Stat'd but not Read; their content is reached through ReadDir.
type ioFile struct {
	fs     *FileSystem
	path   string
	in     *inode.Inode
	offset int64
}

func (f *ioFile) Stat() (iofs.FileInfo, error) {
	return fileInfo{name: baseName(f.path), in: f.in}, nil
}

func (f *ioFile) Read(b []byte) (int, error) {
	if f.in.IsDirectory() {
		return 0, &iofs.PathError{Op: "read", Path: f.path, Err: iofs.ErrInvalid}
	}
	n, err := f.fs.ReadFile(f.path, f.offset, b)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *ioFile) Close() error { return nil }

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
