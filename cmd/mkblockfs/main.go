// Command mkblockfs creates and formats a new image file, laying down a
// fresh superblock, bitmaps, inode table, and an empty root directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/go-blockfs/blockfs/backend/file"
	"github.com/go-blockfs/blockfs/imgfs"
	"github.com/go-blockfs/blockfs/region"
	"github.com/go-blockfs/blockfs/util"
)

func run(path *string, blockSize, blocksNum, inodesNum *uint, dumpSuperblock *bool) error {
	if *path == "" {
		return fmt.Errorf("must pass -image")
	}
	size := int64(*blockSize) * int64(*blocksNum)
	b, err := file.CreateFromPath(*path, size)
	if err != nil {
		return fmt.Errorf("cannot create %q: %w", *path, err)
	}
	defer b.Close()

	r := region.NewZeroed(int(size))

	log := logrus.StandardLogger()
	fs, err := imgfs.Format(r, uint32(*blockSize), uint32(*blocksNum), uint32(*inodesNum), log)
	if err != nil {
		return fmt.Errorf("cannot format image: %w", err)
	}

	if err := fs.Sync(b); err != nil {
		return fmt.Errorf("cannot write image to %q: %w", *path, err)
	}

	if *dumpSuperblock {
		sb := fs.Superblock()
		var raw [28]byte
		if err := sb.Encode(raw[:]); err != nil {
			return fmt.Errorf("cannot encode superblock for dump: %w", err)
		}
		fmt.Fprint(os.Stderr, util.DumpByteSlice(raw[:], 16, true, true, false, nil))
	}

	return nil
}

func main() {
	path := flag.String("image", "", "path to the image file to create")
	blockSize := flag.Uint("block-size", 4096, "block size in bytes")
	blocksNum := flag.Uint("blocks", 4096, "total number of blocks in the image")
	inodesNum := flag.Uint("inodes", 1024, "total number of inodes in the image")
	dumpSuperblock := flag.Bool("dump-superblock", false, "print a hex dump of the finished superblock to stderr")
	flag.Parse()

	if err := run(path, blockSize, blocksNum, inodesNum, dumpSuperblock); err != nil {
		log.Fatalf("mkblockfs: %s", err)
	}
}
