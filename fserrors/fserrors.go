// Package fserrors defines the error kinds shared across every layer of the
// filesystem core, from the bitmap up to the FileSystem facade. Callers use
// errors.Is against these sentinels; wrapping with fmt.Errorf("...: %w", ...)
// is expected at each layer to add context without losing the kind.
package fserrors

import "errors"

var (
	// ErrNotFound means a path component could not be resolved.
	ErrNotFound = errors.New("not found")
	// ErrExists means a create or rename target name is already taken.
	ErrExists = errors.New("already exists")
	// ErrNotADirectory means an operation found the wrong kind of inode: it
	// expected a directory and found a regular file, or (the facade's
	// ReadFile, WriteFile, Truncate and Unlink) expected a regular file and
	// found a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrNotEmpty means rmdir was attempted on a directory with entries
	// beyond "." and "..".
	ErrNotEmpty = errors.New("directory not empty")
	// ErrBadPath means a path failed basic structural validation (not
	// absolute, empty component, etc).
	ErrBadPath = errors.New("bad path")
	// ErrInvalidUTF8 means a name or path component was not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
	// ErrOutOfSpace means a bitmap had no free bit to allocate.
	ErrOutOfSpace = errors.New("out of space")
	// ErrFileTooLarge means an offset or size exceeds what the block tree
	// can address without triple-indirect blocks.
	ErrFileTooLarge = errors.New("file too large")
	// ErrWriteToHole means a traversal that does not allocate reached an
	// unallocated block pointer. blocktree.WriteAt never returns it: it
	// allocates any missing block it reaches. The facade grows a file with
	// Truncate before writing past its end.
	ErrWriteToHole = errors.New("write to hole")
	// ErrCorruptInode means a read traversal reached an unallocated block
	// pointer before satisfying the requested size.
	ErrCorruptInode = errors.New("corrupt inode")
)
