//go:build linux || darwin

package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion wraps a Region that is backed by a real mmap mapping, together
// with the file it was mapped from, for the close function OpenMapped
// returns. The core never sees this type directly; it only
// ever touches the embedded Region's byte range.
type mmapRegion struct {
	*Region
	file *os.File
}

// OpenMapped mmaps the given file read-write and returns a Region over the
// mapping. This is the convenience opener a host uses to turn an image file
// on disk into the byte range the core operates on; the core itself has no
// idea the bytes came from mmap rather than a plain buffer.
func OpenMapped(f *os.File) (*Region, func() error, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("region: stat %s: %w", f.Name(), err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil, fmt.Errorf("region: cannot map empty file %s", f.Name())
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("region: mmap %s: %w", f.Name(), err)
	}
	m := &mmapRegion{Region: New(data), file: f}
	closeFn := func() error {
		if err := unix.Msync(data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("region: msync %s: %w", m.file.Name(), err)
		}
		return unix.Munmap(data)
	}
	return m.Region, closeFn, nil
}
