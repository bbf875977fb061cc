package syscalls

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/fs"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
	"levitateos/internal/ustr"
)

func init() {
	register(uintptr(unix.SYS_OPENAT), sysOpenat)
	register(uintptr(unix.SYS_NEWFSTATAT), sysNewfstatat)
	register(uintptr(unix.SYS_STATX), sysStatx)
	register(uintptr(unix.SYS_MKDIRAT), sysMkdirat)
	register(uintptr(unix.SYS_UNLINKAT), sysUnlinkat)
	register(uintptr(unix.SYS_RENAMEAT2), sysRenameat2)
	register(uintptr(unix.SYS_LINKAT), sysLinkat)
	register(uintptr(unix.SYS_SYMLINKAT), sysSymlinkat)
	register(uintptr(unix.SYS_READLINKAT), sysReadlinkat)
	register(uintptr(unix.SYS_CHDIR), sysChdir)
	register(uintptr(unix.SYS_GETCWD), sysGetcwd)
	register(uintptr(unix.SYS_PIPE2), sysPipe2)
}

// rootfs is the single tmpfs-backed VFS instance; internal/userinit builds
// it from the boot CPIO archive and installs it here before PID 1 spawns,
// the same pattern SeedRandom (misc.go) uses for boot-supplied state.
var rootfs *fs.Fs_t

// SetRootfs installs the kernel's filesystem. Called exactly once, by
// internal/userinit, before any task can reach a path-taking syscall.
func SetRootfs(f *fs.Fs_t) {
	rootfs = f
}

const maxPathLen = 4096

// resolvePath reads a NUL-terminated path argument from user memory and
// resolves it against the task's cwd. Only AT_FDCWD is accepted as dirfd;
// any other value fails with -EBADF: LevitateOS's syscall surface
// never hands userspace a directory fd it could pass back as dirfd before
// a path-relative open of it succeeds, so full *at-relative-to-arbitrary-fd
// resolution adds complexity with no exercised caller.
func resolvePath(t *sched.Task_t, dirfd int32, va uintptr) (ustr.Ustr, defs.Err_t) {
	if dirfd != unix.AT_FDCWD {
		return nil, -defs.EBADF
	}
	raw, err := t.As.CopyCstring(va, maxPathLen)
	if err != 0 {
		return nil, err
	}
	return t.Cwd.Canonicalpath(raw), 0
}

func sysOpenat(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	flags := int(f.Arg(2))
	mode := uint32(f.Arg(3))
	desc, oerr := rootfs.Open(path, flags, mode)
	if oerr != 0 {
		return encode(oerr)
	}
	if flags&defs.O_CLOEXEC != 0 {
		desc.Perms |= fd.FD_CLOEXEC
	}
	return uintptr(int64(t.AddFd(desc)))
}

func sysNewfstatat(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	var st defs.Stat_t
	if serr := rootfs.Stat(path, &st); serr != 0 {
		return encode(serr)
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &st)
	return encode(t.As.CopyOut(f.Arg(2), buf.Bytes()))
}

// statxLen mirrors the fixed 256-byte struct statx layout; LevitateOS
// fills only the fields it actually tracks (mask, ino, nlink, mode, size)
// and zeroes the rest, matching a minimal statx(2) responder.
const statxLen = 256

func sysStatx(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	var st defs.Stat_t
	if serr := rootfs.Stat(path, &st); serr != 0 {
		return encode(serr)
	}
	buf := make([]byte, statxLen)
	const (
		maskIno   = 0x100
		maskNlink = 0x4
		maskMode  = 0x2
		maskSize  = 0x200
	)
	binary.LittleEndian.PutUint32(buf[0:4], maskIno|maskNlink|maskMode|maskSize)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(st.Nlink))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(st.Mode))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(st.Ino))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(st.Size))
	return encode(t.As.CopyOut(f.Arg(4), buf))
}

func sysMkdirat(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	return encode(rootfs.Mkdir(path, uint32(f.Arg(2))))
}

func sysUnlinkat(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	rmdir := int32(f.Arg(2))&unix.AT_REMOVEDIR != 0
	return encode(rootfs.Unlink(path, rmdir))
}

func sysRenameat2(t *sched.Task_t, f trap.Frame) uintptr {
	oldp, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	newp, err := resolvePath(t, int32(f.Arg(2)), f.Arg(3))
	if err != 0 {
		return encode(err)
	}
	return encode(rootfs.Rename(oldp, newp))
}

func sysLinkat(t *sched.Task_t, f trap.Frame) uintptr {
	oldp, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	newp, err := resolvePath(t, int32(f.Arg(2)), f.Arg(3))
	if err != 0 {
		return encode(err)
	}
	return encode(rootfs.Link(oldp, newp))
}

func sysSymlinkat(t *sched.Task_t, f trap.Frame) uintptr {
	target, err := t.As.CopyCstring(f.Arg(0), maxPathLen)
	if err != 0 {
		return encode(err)
	}
	linkpath, err := resolvePath(t, int32(f.Arg(1)), f.Arg(2))
	if err != 0 {
		return encode(err)
	}
	return encode(rootfs.Symlink(target, linkpath))
}

func sysReadlinkat(t *sched.Task_t, f trap.Frame) uintptr {
	path, err := resolvePath(t, int32(f.Arg(0)), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	target, rerr := rootfs.Readlink(path)
	if rerr != 0 {
		return encode(rerr)
	}
	bufsz := int(f.Arg(3))
	if len(target) > bufsz {
		target = target[:bufsz]
	}
	if cerr := t.As.CopyOut(f.Arg(2), target); cerr != 0 {
		return encode(cerr)
	}
	return uintptr(int64(len(target)))
}

func sysChdir(t *sched.Task_t, f trap.Frame) uintptr {
	raw, err := t.As.CopyCstring(f.Arg(0), maxPathLen)
	if err != 0 {
		return encode(err)
	}
	path := t.Cwd.Canonicalpath(raw)
	desc, oerr := rootfs.Open(path, defs.O_RDONLY|defs.O_DIRECTORY, 0)
	if oerr != 0 {
		return encode(oerr)
	}
	t.Cwd.Lock()
	t.Cwd.Fd.Fops.Close()
	t.Cwd.Fd = desc
	t.Cwd.Path = path
	t.Cwd.Unlock()
	return 0
}

func sysGetcwd(t *sched.Task_t, f trap.Frame) uintptr {
	t.Cwd.Lock()
	path := append(ustr.Ustr{}, t.Cwd.Path...)
	t.Cwd.Unlock()

	out := append(path, 0)
	bufsz := int(f.Arg(1))
	if len(out) > bufsz {
		return encode(-defs.ERANGE)
	}
	if cerr := t.As.CopyOut(f.Arg(0), out); cerr != 0 {
		return encode(cerr)
	}
	return uintptr(int64(len(out)))
}

func sysPipe2(t *sched.Task_t, f trap.Frame) uintptr {
	r, w, err := fs.MakePipe()
	if err != 0 {
		return encode(err)
	}
	rfd := t.AddFd(&fd.Fd_t{Fops: r, Perms: fd.FD_READ})
	wfd := t.AddFd(&fd.Fd_t{Fops: w, Perms: fd.FD_WRITE})

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfd))
	if cerr := t.As.CopyOut(f.Arg(0), buf); cerr != 0 {
		return encode(cerr)
	}
	return 0
}
