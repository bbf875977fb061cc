package fs

import (
	"sync"

	"levitateos/internal/defs"
)

// File_t is spec.md §4.9's File: an open position plus the Inode_t it
// views. One File_t exists per openat call; several may point at the same
// Inode_t, each tracking position independently, exactly as Unix dup'd
// and independently-opened descriptors differ.
type File_t struct {
	sync.Mutex
	fs     *Fs_t
	inode  *Inode_t
	pos    int64
	isDir  bool
	dirpos int // index into inode.children, for Getdents64 resumption
	closed bool
}

func (fl *File_t) Read(dst []uint8) (int, defs.Err_t) {
	fl.Lock()
	defer fl.Unlock()
	if fl.isDir {
		return 0, -defs.EISDIR
	}
	fl.inode.Lock()
	n, err := fl.inode.readAt(dst, fl.pos)
	fl.inode.Unlock()
	if err != 0 {
		return 0, err
	}
	fl.pos += int64(n)
	return n, 0
}

func (fl *File_t) Write(src []uint8) (int, defs.Err_t) {
	fl.Lock()
	defer fl.Unlock()
	if fl.isDir {
		return 0, -defs.EISDIR
	}
	fl.inode.Lock()
	n, err := fl.inode.writeAt(src, fl.pos)
	fl.inode.Unlock()
	if err != 0 {
		return 0, err
	}
	fl.pos += int64(n)
	return n, 0
}

func (fl *File_t) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	if fl.isDir {
		return 0, -defs.EISDIR
	}
	fl.inode.Lock()
	defer fl.inode.Unlock()
	return fl.inode.readAt(dst, int64(offset))
}

func (fl *File_t) Pwrite(src []uint8, offset int) (int, defs.Err_t) {
	if fl.isDir {
		return 0, -defs.EISDIR
	}
	fl.inode.Lock()
	defer fl.inode.Unlock()
	return fl.inode.writeAt(src, int64(offset))
}

func (fl *File_t) Lseek(offset int, whence int) (int, defs.Err_t) {
	fl.Lock()
	defer fl.Unlock()
	fl.inode.Lock()
	size := fl.inode.size
	fl.inode.Unlock()

	var np int64
	switch whence {
	case defs.SEEK_SET:
		np = int64(offset)
	case defs.SEEK_CUR:
		np = fl.pos + int64(offset)
	case defs.SEEK_END:
		np = size + int64(offset)
	default:
		return 0, -defs.EINVAL
	}
	if np < 0 {
		return 0, -defs.EINVAL
	}
	fl.pos = np
	return int(np), 0
}

func (fl *File_t) Fstat(st *defs.Stat_t) defs.Err_t {
	fl.inode.Lock()
	defer fl.inode.Unlock()
	fillStat(fl.inode, st)
	return 0
}

// dirent64 field widths, matching Linux's struct linux_dirent64: a fixed
// 19-byte header (ino, off, reclen, type) followed by a NUL-terminated
// name, the whole entry padded to an 8-byte boundary.
const dirent64Header = 19

func direntType(mode uint32) uint8 {
	switch mode & defs.S_IFMT {
	case defs.S_IFDIR:
		return 4
	case defs.S_IFLNK:
		return 10
	case defs.S_IFCHR:
		return 2
	default:
		return 8
	}
}

// Getdents64 serializes entries from inode.children, resuming from this
// File_t's own dirpos rather than the caller-supplied cookie: sysGetdents64
// always passes 0, since Fd_t keeps no per-fd cursor of its own, so the
// resumption state has to live here instead. "." and ".." are synthesized
// first, as no Dentry_t for either is stored in children.
func (fl *File_t) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	if !fl.isDir {
		return 0, 0, -defs.ENOTDIR
	}
	fl.Lock()
	defer fl.Unlock()
	fl.inode.Lock()
	defer fl.inode.Unlock()

	type ent struct {
		ino  uint64
		name string
		mode uint32
	}
	all := make([]ent, 0, len(fl.inode.children)+2)
	all = append(all, ent{fl.inode.Ino, ".", defs.S_IFDIR})
	all = append(all, ent{fl.inode.Ino, "..", defs.S_IFDIR})
	for _, d := range fl.inode.children {
		all = append(all, ent{d.Inode.Ino, d.Name, d.Inode.Mode})
	}

	off := 0
	i := fl.dirpos
	for ; i < len(all); i++ {
		e := all[i]
		reclen := dirent64Header + len(e.name) + 1
		reclen = (reclen + 7) &^ 7
		if off+reclen > len(dst) {
			break
		}
		buf := dst[off : off+reclen]
		putLE64(buf[0:8], e.ino)
		putLE64(buf[8:16], uint64(i+1))
		putLE16(buf[16:18], uint16(reclen))
		buf[18] = direntType(e.mode)
		copy(buf[19:], e.name)
		for j := 19 + len(e.name); j < reclen; j++ {
			buf[j] = 0
		}
		off += reclen
	}
	fl.dirpos = i
	return off, i, 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func (fl *File_t) Ioctl(req uint, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

func (fl *File_t) Close() defs.Err_t {
	fl.Lock()
	if fl.closed {
		fl.Unlock()
		return 0
	}
	fl.closed = true
	fl.Unlock()

	ino := fl.inode
	ino.Lock()
	ino.refcount--
	shouldFree := ino.unlinked && ino.refcount == 0 && ino.Nlink == 0
	if shouldFree {
		ino.freePages()
	}
	ino.Unlock()
	return 0
}

func (fl *File_t) Reopen() defs.Err_t {
	fl.inode.Lock()
	fl.inode.refcount++
	fl.inode.Unlock()
	return 0
}
