package imgfs

import (
	"testing"

	"github.com/go-blockfs/blockfs/imgfs/internal/testutil"
)

func TestAsIOFSTree(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Mkdir("/sub", 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := fs.Create("/sub/leaf.txt", 0o644); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := fs.Create("/top.txt", 0o644); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	testutil.TestFSTree(t, AsIOFS(fs))
}
