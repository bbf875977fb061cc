package defs

/// open(2)/openat(2) flag bits, numerically identical to x86_64 Linux's
/// (golang.org/x/sys/unix's O_* constants on amd64) so internal/syscalls can
/// pass a trapped openat's flags argument straight through without
/// translation. The same values are used on arm64, where Linux itself puts
/// O_DIRECTORY at 0o40000 and O_NOFOLLOW at 0o100000 instead.
const (
	O_RDONLY    int = 0o0
	O_WRONLY    int = 0o1
	O_RDWR      int = 0o2
	O_CREAT     int = 0o100
	O_TRUNC     int = 0o1000
	O_APPEND    int = 0o2000
	O_DIRECTORY int = 0o200000
	O_NOFOLLOW  int = 0o400000
	O_CLOEXEC   int = 0o2000000
)
