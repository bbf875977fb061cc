package syscalls

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/elfload"
	"levitateos/internal/fd"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
	"levitateos/internal/vm"
)

func init() {
	register(uintptr(unix.SYS_EXECVE), sysExecve)
}

// execStackTop and execStackPages mirror internal/userinit's userStackTop/
// userStackPages; duplicated rather than imported, since internal/syscalls
// cannot import internal/userinit (userinit already imports syscalls, for
// SetRootfs, and Go forbids the cycle).
const execStackTop uintptr = 0x0000_7000_0000_0000 - (1 << 20)
const execStackPages = 16

// sysExecve replaces the calling task's image: it loads a new ELF from
// path, builds a fresh initial stack carrying argv (envp is always empty,
// matching internal/userinit's own PID 1 bring-up), closes every
// descriptor marked FD_CLOEXEC, tears down the old address space, and
// resumes at the new entry point. It never returns to its caller on
// success, the same way Linux's execve(2) never returns except on error.
func sysExecve(t *sched.Task_t, f trap.Frame) uintptr {
	entry, usp, err := doExecve(t, f.Arg(0), f.Arg(1))
	if err != 0 {
		return encode(err)
	}
	trap.EnterUserWithReturn(entry, usp, 0)
	panic("unreachable: EnterUserWithReturn does not return")
}

// doExecve is sysExecve's entire image-replacement sequence up to, but not
// including, the final non-returning jump into the new image; split out so
// it can be driven directly from a test without executing the
// trap.EnterUserWithReturn that follows it, which depends on real
// privilege-transition instructions no host test process may execute.
func doExecve(t *sched.Task_t, pathVa, argvVa uintptr) (entry, usp uintptr, reterr defs.Err_t) {
	path, perr := t.As.CopyCstring(pathVa, maxPathLen)
	if perr != 0 {
		return 0, 0, perr
	}
	argv, aerr := copyInArgv(t, argvVa)
	if aerr != 0 {
		return 0, 0, aerr
	}

	canon := t.Cwd.Canonicalpath(path)
	desc, oerr := rootfs.Open(canon, defs.O_RDONLY, 0)
	if oerr != 0 {
		return 0, 0, oerr
	}
	data, rerr := readWholeOpenFile(desc)
	desc.Fops.Close()
	if rerr != 0 {
		return 0, 0, rerr
	}

	newAS, nerr := vm.New()
	if nerr != 0 {
		return 0, 0, nerr
	}
	img, lerr := elfload.Load(newAS, data)
	if lerr != 0 {
		return 0, 0, lerr
	}
	newUsp, serr := buildExecStack(newAS, argv)
	if serr != 0 {
		return 0, 0, serr
	}

	closeOnExec(t)

	t.As.Lock()
	oldVmas := t.As.Region.Slice()
	t.As.Unlock()
	for _, region := range oldVmas {
		t.As.Unmap(region.Start, region.Len)
	}

	t.As = newAS
	t.As.Lock()
	t.As.Brk = img.Brk
	t.As.Unlock()
	t.As.Pt.Activate()

	return img.Entry, newUsp, 0
}

// closeOnExec closes every descriptor opened with O_CLOEXEC, per spec.md
// §4.9's "close-on-exec flag honored across execve".
func closeOnExec(t *sched.Task_t) {
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	for i, desc := range t.Fds {
		if desc == nil || desc.Perms&fd.FD_CLOEXEC == 0 {
			continue
		}
		desc.Fops.Close()
		t.Fds[i] = nil
	}
}

// copyInArgv reads a NULL-terminated argv array of user pointers, each
// pointing at a NUL-terminated string, the layout execve(2) expects.
func copyInArgv(t *sched.Task_t, va uintptr) ([]string, defs.Err_t) {
	var out []string
	for i := 0; ; i++ {
		word, err := t.As.CopyIn(va+uintptr(i)*8, 8)
		if err != 0 {
			return nil, err
		}
		ptr := binary.LittleEndian.Uint64(word)
		if ptr == 0 {
			return out, 0
		}
		s, serr := t.As.CopyCstring(uintptr(ptr), maxPathLen)
		if serr != 0 {
			return nil, serr
		}
		out = append(out, s.String())
	}
}

// readWholeOpenFile reads desc to EOF via its Fstat-reported size, the
// same loop internal/userinit's readWholeFile uses for the boot-time
// load of PID 1's own image.
func readWholeOpenFile(desc *fd.Fd_t) ([]byte, defs.Err_t) {
	var st defs.Stat_t
	if err := desc.Fops.Fstat(&st); err != 0 {
		return nil, err
	}
	buf := make([]byte, int(st.Size))
	for total := 0; total < len(buf); {
		n, err := desc.Fops.Read(buf[total:])
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return buf, 0
}

// buildExecStack mirrors internal/userinit's buildInitialStack: maps the
// new address space's user stack and writes argc, argv[], a NULL, an
// empty envp, and its NULL terminator, 16-byte aligned per the Linux
// AArch64/x86_64 ABI's stack-alignment requirement at process entry.
func buildExecStack(as *vm.AddressSpace_t, argv []string) (uintptr, defs.Err_t) {
	length := uintptr(execStackPages) * uintptr(mem.PGSIZE)
	base := execStackTop - length
	if err := as.MapAnon(base, length, mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); err != 0 {
		return 0, err
	}

	sp := execStackTop
	var argvPtrs []uintptr
	for _, s := range argv {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		if err := as.CopyOut(sp, b); err != 0 {
			return 0, err
		}
		argvPtrs = append(argvPtrs, sp)
	}
	sp &^= 0xf

	words := 1 + len(argvPtrs) + 1 + 1
	if words%2 != 0 {
		sp -= 8
	}

	write := func(v uint64) defs.Err_t {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		sp -= 8
		return as.CopyOut(sp, b[:])
	}

	if err := write(0); err != 0 { // envp terminator
		return 0, err
	}
	if err := write(0); err != 0 { // argv terminator
		return 0, err
	}
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		if err := write(uint64(argvPtrs[i])); err != 0 {
			return 0, err
		}
	}
	if err := write(uint64(len(argvPtrs))); err != 0 { // argc
		return 0, err
	}
	return sp, 0
}
