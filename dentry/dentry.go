// Package dentry implements the packed directory-entry record format stored
// inside a directory's data blocks: a 4-byte inode number, a 4-byte name
// length, the name bytes themselves, and zero-padding up to the next 4-byte
// boundary. Clearing an entry (rename/unlink) zeros its entire record in
// place, turning it into a tombstone indistinguishable from never-written
// space; scanning advances in 4-byte strides, silently absorbing any run of
// zero words (tombstones, merged runs of several, or the unwritten tail of
// a block) until it finds the next nonzero word, which can only be a live
// record's inode number. There is no compaction: removing an entry never
// shifts the bytes that follow it.
package dentry

import (
	"encoding/binary"
	"fmt"
)

// Entry is a single live directory entry.
type Entry struct {
	InodeNum uint32
	Name     string
}

// Record describes one live record parsed from a directory block.
type Record struct {
	Offset   int
	Size     int
	InodeNum uint32
	NameLen  int
}

func padLen(nameLen int) int {
	return (4 - nameLen%4) % 4
}

// RecordSize returns the padded on-disk size of a record holding a name of
// the given length.
func RecordSize(nameLen int) int {
	return 8 + nameLen + padLen(nameLen)
}

// isZeroWord reports whether the 4 bytes at block[pos:pos+4] are all zero.
func isZeroWord(block []byte, pos int) bool {
	w := block[pos : pos+4]
	return w[0] == 0 && w[1] == 0 && w[2] == 0 && w[3] == 0
}

// scan walks block from the start in 4-byte strides. A run of all-zero
// words — a tombstone, several merged tombstones, or the unwritten tail of
// the block — is skipped silently; it never terminates the scan. The first
// nonzero word found is a live record's inode_num, from which its name_len
// and full stride are read and visit is invoked. visit returning false
// stops the scan early.
func scan(block []byte, visit func(r Record) bool) {
	pos := 0
	for pos+4 <= len(block) {
		if isZeroWord(block, pos) {
			pos += 4
			continue
		}
		if pos+8 > len(block) {
			return
		}
		inodeNum := binary.LittleEndian.Uint32(block[pos : pos+4])
		nameLen := int(binary.LittleEndian.Uint32(block[pos+4 : pos+8]))
		size := RecordSize(nameLen)
		if pos+size > len(block) {
			return
		}
		if !visit(Record{Offset: pos, Size: size, InodeNum: inodeNum, NameLen: nameLen}) {
			return
		}
		pos += size
	}
}

func name(block []byte, r Record) string {
	return string(block[r.Offset+8 : r.Offset+8+r.NameLen])
}

// List returns every live entry in block, in on-disk order.
func List(block []byte) []Entry {
	var entries []Entry
	scan(block, func(r Record) bool {
		if r.InodeNum != 0 {
			entries = append(entries, Entry{InodeNum: r.InodeNum, Name: name(block, r)})
		}
		return true
	})
	return entries
}

// Lookup searches block for a live entry named target.
func Lookup(block []byte, target string) (uint32, bool) {
	var found uint32
	var ok bool
	scan(block, func(r Record) bool {
		if r.InodeNum != 0 && name(block, r) == target {
			found = r.InodeNum
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Find returns the live record named target, for callers that need to
// mutate it in place (RemoveEntry's tombstone conversion).
func Find(block []byte, target string) (Record, bool) {
	var found Record
	var ok bool
	scan(block, func(r Record) bool {
		if name(block, r) == target {
			found, ok = r, true
			return false
		}
		return true
	})
	return found, ok
}

// FindSpace scans block in 4-byte strides for the first contiguous run of
// zero bytes at least RecordSize(nameLen) bytes long — a tombstone, several
// tombstones merged back-to-back, or simply the unwritten tail of the
// block — and returns the run's starting offset. It does not require an
// exact-size match: any run at least as large as what's needed qualifies,
// matching the directory's space-search rule.
func FindSpace(block []byte, nameLen int) (int, bool) {
	needed := RecordSize(nameLen)
	pos := 0
	for pos+4 <= len(block) {
		if isZeroWord(block, pos) {
			runStart := pos
			for pos+4 <= len(block) && isZeroWord(block, pos) {
				pos += 4
			}
			if pos-runStart >= needed {
				return runStart, true
			}
			continue
		}
		if pos+8 > len(block) {
			break
		}
		liveNameLen := int(binary.LittleEndian.Uint32(block[pos+4 : pos+8]))
		size := RecordSize(liveNameLen)
		if pos+size > len(block) {
			break
		}
		pos += size
	}
	return 0, false
}

// Encode writes a record for name/inodeNum at dst[0:RecordSize(len(name))].
func Encode(dst []byte, inodeNum uint32, name string) error {
	size := RecordSize(len(name))
	if len(dst) < size {
		return fmt.Errorf("dentry: destination too small (%d < %d)", len(dst), size)
	}
	binary.LittleEndian.PutUint32(dst[0:4], inodeNum)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(len(name)))
	copy(dst[8:8+len(name)], name)
	for i := 8 + len(name); i < size; i++ {
		dst[i] = 0
	}
	return nil
}

// Clear turns the record r into a tombstone by zeroing its entire on-disk
// stride in place, indistinguishable from unwritten space; a later
// FindSpace call can reuse any part of it.
func Clear(block []byte, r Record) error {
	if r.Offset < 0 || r.Offset+r.Size > len(block) {
		return fmt.Errorf("dentry: record at %d (size %d) out of range", r.Offset, r.Size)
	}
	for i := r.Offset; i < r.Offset+r.Size; i++ {
		block[i] = 0
	}
	return nil
}
