package fs

import (
	"strconv"

	"levitateos/internal/defs"
	"levitateos/internal/ustr"
)

// CPIO "newc"/"crc" record header: a 110-byte ASCII-hex struct, grounded
// directly on spec.md's byte-layout description (POSIX.1 "new ASCII"
// format) since nothing in the retrieved pack implements an initramfs
// loader. Every numeric field is 8 ASCII hex digits; the magic is 6 bytes.
const (
	cpioMagicNewc = "070701"
	cpioMagicCrc  = "070702"
	cpioHeaderLen = 110
	cpioTrailer   = "TRAILER!!!"
)

func cpioHex(b []byte) (uint64, defs.Err_t) {
	v, err := strconv.ParseUint(string(b), 16, 32)
	if err != nil {
		return 0, -defs.EINVAL
	}
	return v, 0
}

func cpioAlign4(n int) int {
	return (n + 3) &^ 3
}

// Load walks a CPIO "newc"/"crc" archive and populates fs with a directory
// and file for every entry, in archive order, stopping at the TRAILER!!!
// sentinel. It returns the number of entries created.
func Load(fs *Fs_t, archive []byte) (int, defs.Err_t) {
	off := 0
	count := 0
	for {
		if off+cpioHeaderLen > len(archive) {
			return count, -defs.EINVAL
		}
		hdr := archive[off : off+cpioHeaderLen]
		magic := string(hdr[0:6])
		if magic != cpioMagicNewc && magic != cpioMagicCrc {
			return count, -defs.EINVAL
		}

		mode, err := cpioHex(hdr[14:22])
		if err != 0 {
			return count, err
		}
		filesize, err := cpioHex(hdr[54:62])
		if err != 0 {
			return count, err
		}
		namesize, err := cpioHex(hdr[94:102])
		if err != 0 {
			return count, err
		}

		nameStart := off + cpioHeaderLen
		nameEnd := nameStart + int(namesize)
		if nameEnd > len(archive) || namesize == 0 {
			return count, -defs.EINVAL
		}
		// namesize includes the trailing NUL.
		name := string(archive[nameStart : nameEnd-1])

		dataStart := off + cpioAlign4(cpioHeaderLen+int(namesize))
		dataEnd := dataStart + int(filesize)
		if dataEnd > len(archive) {
			return count, -defs.EINVAL
		}
		data := archive[dataStart:dataEnd]
		off = dataStart + cpioAlign4(int(filesize))

		if name == cpioTrailer {
			return count, 0
		}

		path := ustr.MkUstrRoot().ExtendStr(name)
		if uint32(mode)&defs.S_IFMT == defs.S_IFDIR {
			if werr := fs.mkdirAll(path, uint32(mode)&0o7777); werr != 0 {
				return count, werr
			}
		} else {
			comps := path.Components()
			if len(comps) > 1 {
				parent := ustr.MkUstrRoot()
				for _, c := range comps[:len(comps)-1] {
					parent = parent.Extend(c)
				}
				if werr := fs.mkdirAll(parent, 0755); werr != 0 {
					return count, werr
				}
			}
			fdesc, werr := fs.Open(path, defs.O_CREAT|defs.O_WRONLY|defs.O_TRUNC, uint32(mode)&0o7777)
			if werr != 0 {
				return count, werr
			}
			if len(data) > 0 {
				if _, werr := fdesc.Fops.Write(data); werr != 0 {
					fdesc.Fops.Close()
					return count, werr
				}
			}
			fdesc.Fops.Close()
		}
		count++
	}
}
