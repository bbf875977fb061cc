package syscalls

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
)

func init() {
	register(uintptr(unix.SYS_READ), sysRead)
	register(uintptr(unix.SYS_WRITE), sysWrite)
	register(uintptr(unix.SYS_CLOSE), sysClose)
	register(uintptr(unix.SYS_LSEEK), sysLseek)
	register(uintptr(unix.SYS_FSTAT), sysFstat)
	register(uintptr(unix.SYS_DUP), sysDup)
	register(uintptr(unix.SYS_DUP3), sysDup3)
	register(uintptr(unix.SYS_PREAD64), sysPread64)
	register(uintptr(unix.SYS_PWRITE64), sysPwrite64)
	register(uintptr(unix.SYS_READV), sysReadv)
	register(uintptr(unix.SYS_WRITEV), sysWritev)
	register(uintptr(unix.SYS_IOCTL), sysIoctl)
	register(uintptr(unix.SYS_GETDENTS64), sysGetdents64)
}

func sysRead(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	buf := make([]byte, f.Arg(2))
	n, rerr := desc.Fops.Read(buf)
	if rerr != 0 {
		return encode(rerr)
	}
	if n > 0 {
		if cerr := t.As.CopyOut(f.Arg(1), buf[:n]); cerr != 0 {
			return encode(cerr)
		}
	}
	return uintptr(int64(n))
}

func sysWrite(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	buf, cerr := t.As.CopyIn(f.Arg(1), f.Arg(2))
	if cerr != 0 {
		return encode(cerr)
	}
	n, werr := desc.Fops.Write(buf)
	if werr != 0 {
		return encode(werr)
	}
	return uintptr(int64(n))
}

func sysClose(t *sched.Task_t, f trap.Frame) uintptr {
	return encode(t.CloseFd(int(int32(f.Arg(0)))))
}

func sysLseek(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	n, lerr := desc.Fops.Lseek(int(int64(f.Arg(1))), int(int32(f.Arg(2))))
	return encodeVal(n, lerr)
}

func sysFstat(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	var st defs.Stat_t
	if serr := desc.Fops.Fstat(&st); serr != 0 {
		return encode(serr)
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &st)
	return encode(t.As.CopyOut(f.Arg(1), buf.Bytes()))
}

func sysDup(t *sched.Task_t, f trap.Frame) uintptr {
	old, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	nfd, cerr := fd.Copyfd(old)
	if cerr != 0 {
		return encode(cerr)
	}
	return uintptr(int64(t.AddFd(nfd)))
}

func sysDup3(t *sched.Task_t, f trap.Frame) uintptr {
	oldn := int(int32(f.Arg(0)))
	newn := int(int32(f.Arg(1)))
	if oldn == newn {
		return encode(-defs.EINVAL)
	}
	old, err := t.GetFd(oldn)
	if err != 0 {
		return encode(err)
	}
	nfd, cerr := fd.Copyfd(old)
	if cerr != 0 {
		return encode(cerr)
	}
	if serr := t.SetFd(newn, nfd); serr != 0 {
		return encode(serr)
	}
	return uintptr(int64(newn))
}

func sysPread64(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	buf := make([]byte, f.Arg(2))
	n, rerr := desc.Fops.Pread(buf, int(int64(f.Arg(3))))
	if rerr != 0 {
		return encode(rerr)
	}
	if n > 0 {
		if cerr := t.As.CopyOut(f.Arg(1), buf[:n]); cerr != 0 {
			return encode(cerr)
		}
	}
	return uintptr(int64(n))
}

func sysPwrite64(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	buf, cerr := t.As.CopyIn(f.Arg(1), f.Arg(2))
	if cerr != 0 {
		return encode(cerr)
	}
	n, werr := desc.Fops.Pwrite(buf, int(int64(f.Arg(3))))
	return encodeVal(n, werr)
}

// maxIovcnt mirrors Linux's UIO_MAXIOV, bounding the kernel-side allocation
// a malicious iovcnt argument could otherwise force.
const maxIovcnt = 1024

type iovec struct {
	Base uint64
	Len  uint64
}

func readIovecs(t *sched.Task_t, va uintptr, count int) ([]iovec, defs.Err_t) {
	const iovecSize = 16
	raw, err := t.As.CopyIn(va, uintptr(count*iovecSize))
	if err != 0 {
		return nil, err
	}
	out := make([]iovec, count)
	for i := range out {
		off := i * iovecSize
		out[i].Base = binary.LittleEndian.Uint64(raw[off:])
		out[i].Len = binary.LittleEndian.Uint64(raw[off+8:])
	}
	return out, 0
}

func sysReadv(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	iovcnt := int(int32(f.Arg(2)))
	if iovcnt < 0 || iovcnt > maxIovcnt {
		return encode(-defs.EINVAL)
	}
	iovs, ierr := readIovecs(t, f.Arg(1), iovcnt)
	if ierr != 0 {
		return encode(ierr)
	}
	total := 0
	for _, iov := range iovs {
		if iov.Len == 0 {
			continue
		}
		buf := make([]byte, iov.Len)
		n, rerr := desc.Fops.Read(buf)
		if rerr != 0 {
			if total > 0 {
				break
			}
			return encode(rerr)
		}
		if n > 0 {
			if cerr := t.As.CopyOut(uintptr(iov.Base), buf[:n]); cerr != 0 {
				return encode(cerr)
			}
			total += n
		}
		if n < int(iov.Len) {
			break
		}
	}
	return uintptr(int64(total))
}

func sysWritev(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	iovcnt := int(int32(f.Arg(2)))
	if iovcnt < 0 || iovcnt > maxIovcnt {
		return encode(-defs.EINVAL)
	}
	iovs, ierr := readIovecs(t, f.Arg(1), iovcnt)
	if ierr != 0 {
		return encode(ierr)
	}
	total := 0
	for _, iov := range iovs {
		if iov.Len == 0 {
			continue
		}
		buf, cerr := t.As.CopyIn(uintptr(iov.Base), uintptr(iov.Len))
		if cerr != 0 {
			if total > 0 {
				break
			}
			return encode(cerr)
		}
		n, werr := desc.Fops.Write(buf)
		if werr != 0 {
			if total > 0 {
				break
			}
			return encode(werr)
		}
		total += n
		if n < len(buf) {
			break
		}
	}
	return uintptr(int64(total))
}

func sysIoctl(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	n, ierr := desc.Fops.Ioctl(uint(f.Arg(1)), f.Arg(2))
	return encodeVal(n, ierr)
}

// sysGetdents64 always resumes from cookie 0: Fd_t carries no per-fd cursor
// field, so the directory implementations behind Fdops_i (internal/fs)
// track their own read position internally rather than round-tripping a
// caller-supplied cookie the way telldir/seekdir-style resumption would
// need.
func sysGetdents64(t *sched.Task_t, f trap.Frame) uintptr {
	desc, err := t.GetFd(int(int32(f.Arg(0))))
	if err != 0 {
		return encode(err)
	}
	buf := make([]byte, f.Arg(2))
	n, _, gerr := desc.Fops.Getdents64(buf, 0)
	if gerr != 0 {
		return encode(gerr)
	}
	if n > 0 {
		if cerr := t.As.CopyOut(f.Arg(1), buf[:n]); cerr != 0 {
			return encode(cerr)
		}
	}
	return uintptr(int64(n))
}
