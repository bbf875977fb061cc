// Package fd implements the per-Task file descriptor: Fd_t (an Fdops_i
// plus its permission bits) and Cwd_t (the current-working-directory
// pointer every Task carries). Grounded on the teacher's fd/fd.go, which
// this package keeps almost verbatim — Fd_t's shape and Copyfd/Close_panic
// are unaffected by the switch from biscuit's on-disk ufs to LevitateOS's
// tmpfs-backed VFS, since both sit behind the same Fdops_i interface.
package fd

import (
	"sync"

	"levitateos/internal/defs"
	"levitateos/internal/ustr"
)

// File descriptor permission bits, matching the teacher's fd/fd.go.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fdops_i is the operation set every open file description implements:
// tmpfs regular files, tmpfs directories, pipes, and the console/null
// device files all satisfy it. spec.md §4.9's File abstraction (open
// position, flags, inode, fs-ops) is this interface plus the position
// tracking each implementation keeps internally.
type Fdops_i interface {
	// Read copies up to len(dst) bytes starting at the file's current
	// position into dst, advancing it, and returns the count read.
	Read(dst []uint8) (int, defs.Err_t)
	// Write copies all of src into the file at its current position,
	// advancing it, and returns the count written.
	Write(src []uint8) (int, defs.Err_t)
	// Pread/Pwrite operate at an explicit offset without touching or
	// requiring the file's current position (pread64/pwrite64, §4.7).
	Pread(dst []uint8, offset int) (int, defs.Err_t)
	Pwrite(src []uint8, offset int) (int, defs.Err_t)
	// Lseek repositions the file per whence (SEEK_SET/SEEK_CUR/SEEK_END)
	// and returns the new absolute position.
	Lseek(offset int, whence int) (int, defs.Err_t)
	// Fstat fills st with this file's metadata.
	Fstat(st *defs.Stat_t) defs.Err_t
	// Getdents64 is valid only on a directory fd; it serializes directory
	// entries starting after the given cookie into dst and returns the
	// bytes written plus the cookie to resume from.
	Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t)
	// Ioctl implements the handful of request codes LevitateOS supports
	// (TCGETS/TCSETS on the console fd); every other fd or request
	// returns -ENOTTY, matching a kernel with no general tty layer.
	Ioctl(req uint, arg uintptr) (int, defs.Err_t)
	// Close releases any resources and is idempotent-safe to call once.
	Close() defs.Err_t
	// Reopen is called by Copyfd (dup/dup3/fork-style fd sharing) to
	// bump whatever refcount the underlying open file keeps.
	Reopen() defs.Err_t
}

// Fd_t represents one open file descriptor slot in a Task's FD table.
type Fd_t struct {
	// Fops is an interface implemented via a pointer receiver, so Fops is
	// a reference to the shared open-file state, not a copy of it.
	Fops  Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening it, the way
// dup/dup3/fork share one underlying open file across two fd slots.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure; used during
// task exit where a close failing indicates kernel memory corruption, not
// a recoverable error.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
	sync.Mutex // serializes chdir against concurrent path resolution
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Canonicalpath resolves path components (".", "..") relative to cwd,
// returning an absolute, normalized path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return Canonicalize(cwd.Fullpath(p))
}

// Canonicalize collapses "." and ".." components of an absolute path
// without touching the filesystem, the way the teacher's bpath package
// (retrieved as an empty stub module; not present in the pack) is
// described as doing by fd.go's own Canonicalpath caller.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	var out []ustr.Ustr
	for _, c := range p.Components() {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	res := ustr.MkUstr()
	for _, c := range out {
		res = res.Extend(c)
	}
	return res
}

// MkRootCwd constructs a Cwd_t rooted at "/", backed by fd (the open
// directory file description for the root inode).
func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
}
