// Command mkcpio builds the initramfs archive bundled into a kernel image:
// it walks a host skeleton directory and writes out a "newc" CPIO archive,
// the format internal/fs.Load unpacks into a tmpfs at boot. Grounded on
// biscuit/src/mkfs/mkfs.go's addfiles/copydata/main shape (WalkDir over a
// host tree, replicate each entry into a target filesystem), adapted from
// writing a ufs disk image to writing a CPIO stream, since spec.md's VFS
// module backs its root from a CPIO archive rather than a block device
// image.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"levitateos/internal/defs"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: mkcpio <output archive> <skel dir>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) != 3 {
		usage()
	}
	out, skeldir := os.Args[1], os.Args[2]

	w, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkcpio: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	enc := &cpioEncoder{w: w}
	if err := addfiles(enc, skeldir); err != nil {
		fmt.Fprintf(os.Stderr, "mkcpio: %v\n", err)
		os.Exit(1)
	}
	if err := enc.trailer(); err != nil {
		fmt.Fprintf(os.Stderr, "mkcpio: %v\n", err)
		os.Exit(1)
	}
}

// addfiles walks skeldir on the host and writes a CPIO entry for every file
// and directory it finds, relative to skeldir's root. Mirrors mkfs.go's
// addfiles, generalized from "create a dir/file in a ufs.Ufs_t then append
// its data" to "emit one CPIO header+data record per entry".
func addfiles(enc *cpioEncoder, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("access %q: %w", path, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), "/")
		if rel == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}

		if d.IsDir() {
			return enc.writeEntry(rel, defs.S_IFDIR|0755, nil)
		}
		return copydata(enc, path, rel, info.Mode())
	})
}

// copydata reads the file at src on the host and writes its contents as one
// CPIO record named dst, mirroring mkfs.go's copydata but writing a single
// contiguous record instead of appending fs.BSIZE-sized chunks to a
// block-backed file, since a CPIO entry's data is one run with a length
// prefix rather than a sequence of block appends.
func copydata(enc *cpioEncoder, src, dst string, mode os.FileMode) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %q: %w", src, err)
	}

	cpioMode := defs.S_IFREG | uint32(mode.Perm())
	if mode&os.ModeSymlink != 0 {
		cpioMode = defs.S_IFLNK | uint32(mode.Perm())
	}
	return enc.writeEntry(dst, cpioMode, data)
}
