package defs

// Stat_t mirrors the fields of Linux's struct stat that spec.md §4.7's
// fstat/newfstatat/statx handlers need to fill in. Field order matches the
// x86_64/AArch64 struct stat layout closely enough for a userspace libc to
// consume directly once internal/syscalls copies it out.
type Stat_t struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// File type bits for Stat_t.Mode, the S_IFMT family.
const (
	S_IFREG uint32 = 0o100000
	S_IFDIR uint32 = 0o040000
	S_IFCHR uint32 = 0o020000
	S_IFIFO uint32 = 0o010000
	S_IFLNK uint32 = 0o120000
	S_IFMT  uint32 = 0o170000
)

// Lseek whence values, per spec.md §4.7.
const (
	SEEK_SET int = 0
	SEEK_CUR int = 1
	SEEK_END int = 2
)
