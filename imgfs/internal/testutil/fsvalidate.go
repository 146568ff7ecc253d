package testutil

import (
	iofs "io/fs"
	"strings"
	"testing"
)

// TestFSTree walks fs from both its io/fs root (".") and from "/", asserting
// that the tree is acyclic, that entry names never contain a path separator,
// and that "." and ".." never appear as entries in their own right. The
// "slash" sub-test exists because io/fs treats a leading slash as an
// invalid path: a conforming ReadDirFS must report an error for it, never
// silently treat it as the root.
func TestFSTree(t *testing.T, fs iofs.ReadDirFS) {
	t.Helper()
	var seen map[string]struct{}
	var walk func(path string)
	walk = func(path string) {
		if _, ok := seen[path]; ok {
			t.Fatalf("cycle detected: revisiting path %q", path)
		}

		entries, err := fs.ReadDir(path)
		if err != nil {
			return // not a directory
		}
		seen[path] = struct{}{}

		for _, e := range entries {
			name := e.Name()

			if name == "." || name == ".." {
				t.Fatalf("illegal entry %q in %q", name, path)
			}

			if strings.Contains(name, "/") {
				t.Fatalf("entry name %q in %q is not a base name", name, path)
			}

			var child string
			if path == "." {
				child = name
			} else {
				child = path + "/" + name
			}

			if e.IsDir() {
				walk(child)
			}
		}
	}

	t.Run("dot", func(t *testing.T) {
		seen = map[string]struct{}{}
		walk(".")
		if len(seen) == 0 {
			t.Fatalf("no files seen during walk")
		}
	})
	t.Run("slash", func(t *testing.T) {
		seen = map[string]struct{}{}
		walk("/")
		if len(seen) != 0 {
			t.Fatalf("files seen during walk")
		}
	})
}
