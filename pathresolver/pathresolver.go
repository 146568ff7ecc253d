// Package pathresolver walks absolute, slash-separated paths down from the
// root inode, one directory lookup at a time. If an intermediate component
// isn't actually a directory, resolution fails as NotFound rather than
// NotADirectory: from the caller's view there's simply nothing there to
// look the next component up in.
package pathresolver

import (
	"strings"
	"unicode/utf8"

	"github.com/go-blockfs/blockfs/blocktree"
	"github.com/go-blockfs/blockfs/directory"
	"github.com/go-blockfs/blockfs/fserrors"
	"github.com/go-blockfs/blockfs/inode"
)

// RootInode is the fixed inode number of the filesystem root directory.
const RootInode uint32 = 1

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fserrors.ErrBadPath
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}, nil
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fserrors.ErrBadPath
		}
		if !utf8.ValidString(p) {
			return nil, fserrors.ErrInvalidUTF8
		}
	}
	return parts, nil
}

// descend walks parts starting at the root directory and returns the inode
// number the last component names (RootInode when parts is empty).
func descend(tree *blocktree.Tree, table *inode.Table, parts []string) (uint32, error) {
	cur := RootInode
	for _, name := range parts {
		dirInode, err := table.Read(cur)
		if err != nil {
			return 0, err
		}
		if !dirInode.IsDirectory() {
			return 0, fserrors.ErrNotFound
		}
		next, err := directory.Lookup(tree, dirInode, name)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

// Resolve returns the inode number that path refers to.
func Resolve(tree *blocktree.Tree, table *inode.Table, path string) (uint32, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return RootInode, nil
	}
	return descend(tree, table, parts)
}

// ResolveParent returns the inode number of path's containing directory and
// path's final component, without requiring that component to exist. The
// root path itself has no parent and is rejected with ErrBadPath.
func ResolveParent(tree *blocktree.Tree, table *inode.Table, path string) (uint32, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(parts) == 0 {
		return 0, "", fserrors.ErrBadPath
	}
	parent, err := descend(tree, table, parts[:len(parts)-1])
	if err != nil {
		return 0, "", err
	}
	return parent, parts[len(parts)-1], nil
}
