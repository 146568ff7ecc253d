// Command mountblockfs mounts a formatted image file as a FUSE filesystem
// at a given mountpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"

	"github.com/go-blockfs/blockfs/backend/file"
	"github.com/go-blockfs/blockfs/fusehost"
	"github.com/go-blockfs/blockfs/imgfs"
	"github.com/go-blockfs/blockfs/region"
)

func run(imagePath, mountpoint *string, readOnly *bool) error {
	if *imagePath == "" || *mountpoint == "" {
		return fmt.Errorf("must pass -image and -mountpoint")
	}

	b, err := file.OpenFromPath(*imagePath, *readOnly)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", *imagePath, err)
	}
	defer b.Close()

	osFile, err := b.Sys()
	if err != nil {
		return fmt.Errorf("image backend is not mmap-able: %w", err)
	}

	// A read-only descriptor cannot back a shared writable mapping, so a
	// read-only mount works on an in-memory copy of the image.
	var r *region.Region
	closeRegion := func() error { return nil }
	if *readOnly {
		r, err = region.Open(b)
	} else {
		r, closeRegion, err = region.OpenMapped(osFile)
	}
	if err != nil {
		return fmt.Errorf("cannot map %q: %w", *imagePath, err)
	}
	defer closeRegion()

	logger := logrus.StandardLogger()
	fs, err := imgfs.Mount(r, logger)
	if err != nil {
		return fmt.Errorf("cannot mount image %q: %w", *imagePath, err)
	}

	server := fuseutil.NewFileSystemServer(fusehost.New(fs, logger))

	mfs, err := fuse.Mount(*mountpoint, server, &fuse.MountConfig{
		FSName:   "blockfs",
		ReadOnly: *readOnly,
		// Our own OpenDir/OpenFile both report ENOSYS unconditionally; tell
		// the kernel up front so it stops issuing them.
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := fuse.Unmount(*mountpoint); err != nil {
			logger.WithError(err).Warn("unmount failed")
		}
	}()

	return mfs.Join(context.Background())
}

func main() {
	imagePath := flag.String("image", "", "path to the image file to mount")
	mountpoint := flag.String("mountpoint", "", "directory to mount the image at")
	readOnly := flag.Bool("readonly", false, "mount read-only")
	flag.Parse()

	if err := run(imagePath, mountpoint, readOnly); err != nil {
		log.Fatalf("mountblockfs: %s", err)
	}
}
