// Package userinit composes internal/fs, internal/elfload and
// internal/sched into spec.md §4.10's userspace entry: populate the VFS
// from the boot CPIO archive, load the configured init binary, build the
// initial user stack per the Linux ABI, and spawn PID 1. Grounded on the
// teacher's mkfs/mkfs.go BootFS/ShutdownFS bring-up sequencing — a fixed,
// one-shot, ordered list of steps run exactly once at boot — generalized
// from "build a disk image at build time" to "build an in-memory VFS and
// spawn its first process at runtime".
package userinit

import (
	"fmt"

	"levitateos/internal/config"
	"levitateos/internal/console"
	"levitateos/internal/defs"
	"levitateos/internal/elfload"
	"levitateos/internal/fd"
	"levitateos/internal/fs"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/syscalls"
	"levitateos/internal/trap"
	"levitateos/internal/ustr"
)

// userStackTop is the fixed top of PID 1's (and every subsequent task's)
// initial user stack, chosen well below vm.MapAnon's mmap bump area so the
// two regions never collide as the stack's few pages are mapped downward
// from it.
const userStackTop uintptr = 0x0000_7000_0000_0000 - (1 << 20)

const userStackPages = 16

// Boot populates a tmpfs from archive (the boot module/initrd), installs
// it as the syscall layer's filesystem, loads config.Active.InitPath from
// it, and spawns PID 1 running that image. It panics on any failure: a
// kernel that cannot bring up its first process has nothing left to run.
func Boot(archive []byte) {
	rootfs := fs.NewTmpfs()
	if _, err := fs.Load(rootfs, archive); err != 0 {
		panic(fmt.Sprintf("userinit: cpio load failed: %s", err.Errstr()))
	}
	populateDevices(rootfs)
	syscalls.SetRootfs(rootfs)

	path := ustr.Ustr(config.Active.InitPath)
	data, err := readWholeFile(rootfs, path)
	if err != 0 {
		panic(fmt.Sprintf("userinit: open %s: %s", config.Active.InitPath, err.Errstr()))
	}

	argv := []string{config.Active.InitPath}

	// PID 1 is spawned as the watcher's own child (Waitpid only searches
	// the calling task's children), never as a task with no parent at
	// all: per the glossary's pid-1-exit contract, something has to be
	// sitting in Waitpid on it for its exit to ever be observed.
	_, werr := sched.Spawn(nil, nil, func() {
		parent := sched.Current()
		child, serr := spawnInit(parent, rootfs, data, argv)
		if serr != 0 {
			panic(fmt.Sprintf("userinit: spawn failed: %s", serr.Errstr()))
		}
		_, status, werr := sched.Waitpid(child.Pid)
		if werr != 0 {
			panic(fmt.Sprintf("userinit: waitpid on pid 1 failed: %s", werr.Errstr()))
		}
		panic(fmt.Sprintf("userinit: PID 1 exited with status %d", status))
	})
	if werr != 0 {
		panic(fmt.Sprintf("userinit: spawn watcher failed: %s", werr.Errstr()))
	}

	// One bootstrap dispatch hands control to the watcher (or, once it's
	// spawned, PID 1 itself); every task's own Schedule calls keep the
	// system moving after that, down to the permanent idle task when
	// nothing else is Ready, so this never returns.
	sched.Schedule()
	select {}
}

// populateDevices registers the kernel's handful of character device
// factories and creates their /dev nodes, run once at boot before any task
// can reach them through openat. Grounded on defs.device.go's D_CONSOLE/
// D_DEVNULL/D_STAT/D_PROF enumeration, which named these devices without
// ever wiring them into the VFS or a driver until now.
func populateDevices(rootfs *fs.Fs_t) {
	fs.RegisterDevice(defs.Mkdev(defs.D_CONSOLE, 0), func() (fd.Fdops_i, defs.Err_t) {
		return console.Dev(), 0
	})
	fs.RegisterDevice(defs.Mkdev(defs.D_DEVNULL, 0), fs.NewNullDevice)
	fs.RegisterDevice(defs.Mkdev(defs.D_STAT, 0), fs.NewStatDevice)
	fs.RegisterDevice(defs.Mkdev(defs.D_PROF, 0), fs.NewProfDevice)

	if err := rootfs.Mkdir(ustr.Ustr("/dev"), 0755); err != 0 && err != -defs.EEXIST {
		panic(fmt.Sprintf("userinit: mkdir /dev: %s", err.Errstr()))
	}
	nodes := []struct {
		path ustr.Ustr
		maj  int
	}{
		{ustr.Ustr("/dev/console"), defs.D_CONSOLE},
		{ustr.Ustr("/dev/null"), defs.D_DEVNULL},
		{ustr.Ustr("/dev/stat"), defs.D_STAT},
		{ustr.Ustr("/dev/prof"), defs.D_PROF},
	}
	for _, n := range nodes {
		if err := rootfs.Mknod(n.path, 0600, defs.Mkdev(n.maj, 0)); err != 0 && err != -defs.EEXIST {
			panic(fmt.Sprintf("userinit: mknod %s: %s", string(n.path), err.Errstr()))
		}
	}
}

func readWholeFile(rootfs *fs.Fs_t, path ustr.Ustr) ([]byte, defs.Err_t) {
	desc, err := rootfs.Open(path, defs.O_RDONLY, 0)
	if err != 0 {
		return nil, err
	}
	defer desc.Fops.Close()

	var st defs.Stat_t
	if serr := desc.Fops.Fstat(&st); serr != 0 {
		return nil, serr
	}
	buf := make([]byte, st.Size)
	for total := 0; total < len(buf); {
		n, rerr := desc.Fops.Read(buf[total:])
		if rerr != 0 {
			return nil, rerr
		}
		if n == 0 {
			break
		}
		total += n
	}
	return buf, 0
}

// spawnInit loads elf into a fresh address space, builds the initial user
// stack, installs the three console-backed standard fds and a root cwd,
// and enqueues the task to run it as parent's child.
func spawnInit(parent *sched.Task_t, rootfs *fs.Fs_t, elfData []byte, argv []string) (*sched.Task_t, defs.Err_t) {
	var spawnErr defs.Err_t
	var entry, usp uintptr

	t, serr := sched.Spawn(parent, func(t *sched.Task_t) {
		img, lerr := elfload.Load(t.As, elfData)
		if lerr != 0 {
			spawnErr = lerr
			return
		}
		entry = img.Entry

		sp, uerr := buildInitialStack(t, argv)
		if uerr != 0 {
			spawnErr = uerr
			return
		}
		usp = sp

		installStdFds(t)

		rootFd, oerr := rootfs.Open(ustr.MkUstrRoot(), defs.O_RDONLY|defs.O_DIRECTORY, 0)
		if oerr != 0 {
			spawnErr = oerr
			return
		}
		t.Cwd = fd.MkRootCwd(rootFd)
	}, func() {
		if spawnErr != 0 {
			// setup failed after the Task_t was already committed to the
			// scheduler (Spawn has no way to abort construction); exit
			// immediately rather than entering user mode with a bogus
			// entry point.
			sched.Exit(1)
			return
		}
		trap.EnterUser(entry, usp)
	})
	if serr != 0 {
		return nil, serr
	}
	if spawnErr != 0 {
		return nil, spawnErr
	}
	return t, 0
}

func installStdFds(t *sched.Task_t) {
	for i := 0; i < 3; i++ {
		t.AddFd(&fd.Fd_t{Fops: console.Dev(), Perms: fd.FD_READ | fd.FD_WRITE})
	}
}

// buildInitialStack maps the task's user stack and writes argc, argv[],
// a NULL, envp[] (empty), a NULL, per spec.md §4.10's Linux AArch64/x86_64
// ABI layout, 16-byte aligned per that ABI's stack-alignment requirement
// at process entry.
func buildInitialStack(t *sched.Task_t, argv []string) (uintptr, defs.Err_t) {
	length := uintptr(userStackPages) * uintptr(mem.PGSIZE)
	base := userStackTop - length
	if err := t.As.MapAnon(base, length, mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); err != 0 {
		return 0, err
	}

	sp := userStackTop
	var argvPtrs []uintptr
	for _, s := range argv {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		if err := t.As.CopyOut(sp, b); err != 0 {
			return 0, err
		}
		argvPtrs = append(argvPtrs, sp)
	}
	sp &^= 0xf // 16-byte align before the argc/argv/envp block

	words := 1 + len(argvPtrs) + 1 + 1 // argc, argv[], NULL, envp NULL
	if words%2 != 0 {
		sp -= 8
	}

	write := func(v uint64) defs.Err_t {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		sp -= 8
		return t.As.CopyOut(sp, b[:])
	}

	if err := write(0); err != 0 { // envp terminator (no environment variables)
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
