package dentry

import "testing"

func TestEncodeListRoundTrip(t *testing.T) {
	block := make([]byte, 128)
	off := 0
	if err := Encode(block[off:], 5, "foo"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	off += RecordSize(len("foo"))
	if err := Encode(block[off:], 7, "barbaz"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	entries := List(block)
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	if entries[0] != (Entry{InodeNum: 5, Name: "foo"}) {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1] != (Entry{InodeNum: 7, Name: "barbaz"}) {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestLookup(t *testing.T) {
	block := make([]byte, 64)
	Encode(block, 3, "hello")
	if got, ok := Lookup(block, "hello"); !ok || got != 3 {
		t.Errorf("Lookup(hello) = (%d, %v), want (3, true)", got, ok)
	}
	if _, ok := Lookup(block, "missing"); ok {
		t.Errorf("Lookup(missing) should not be found")
	}
}

func TestTombstoneSkippedByListButReusable(t *testing.T) {
	block := make([]byte, 64)
	Encode(block, 9, "abc")
	r, ok := Find(block, "abc")
	if !ok {
		t.Fatalf("Find(abc) before clear: not found")
	}
	if err := Clear(block, r); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if entries := List(block); len(entries) != 0 {
		t.Errorf("List() after tombstone = %+v, want empty", entries)
	}
	off, ok := FindSpace(block, len("xyz"))
	if !ok || off != 0 {
		t.Fatalf("FindSpace() = (%d, %v), want (0, true)", off, ok)
	}
	if err := Encode(block[off:off+RecordSize(len("xyz"))], 11, "xyz"); err != nil {
		t.Fatalf("Encode() into reused slot error = %v", err)
	}
	entries := List(block)
	if len(entries) != 1 || entries[0] != (Entry{InodeNum: 11, Name: "xyz"}) {
		t.Errorf("List() after reuse = %+v", entries)
	}
}

func TestFindSpaceAcceptsLargerTombstone(t *testing.T) {
	block := make([]byte, 64)
	Encode(block, 1, "a-much-longer-name") // big record, cleared below
	r, ok := Find(block, "a-much-longer-name")
	if !ok {
		t.Fatalf("Find() before clear: not found")
	}
	if err := Clear(block, r); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	// A short name should still fit inside the larger cleared slot: space
	// search is a >= capacity match, not an exact-size one.
	off, ok := FindSpace(block, len("ab"))
	if !ok || off != 0 {
		t.Fatalf("FindSpace() = (%d, %v), want (0, true)", off, ok)
	}
}

func TestFindSpaceFindsUnwrittenTail(t *testing.T) {
	block := make([]byte, 64)
	Encode(block, 1, "a")
	want := RecordSize(len("a"))
	off, ok := FindSpace(block, len("b"))
	if !ok || off != want {
		t.Errorf("FindSpace() = (%d, %v), want (%d, true)", off, ok, want)
	}
}

func TestEncodeRejectsUndersizedDestination(t *testing.T) {
	dst := make([]byte, 4)
	if err := Encode(dst, 1, "toolong"); err == nil {
		t.Errorf("Encode() should fail when destination is smaller than the record")
	}
}
