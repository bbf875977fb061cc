package syscalls

import (
	"testing"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/fs"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/ustr"
)

// installRootfs gives tsk a root cwd over a fresh tmpfs and installs it as
// the package-level rootfs every fs.go handler reaches for.
func installRootfs(tsk *sched.Task_t) *fs.Fs_t {
	root := fs.NewTmpfs()
	SetRootfs(root)
	rootFd, err := root.Open(ustr.MkUstrRoot(), defs.O_RDONLY|defs.O_DIRECTORY, 0)
	if err != 0 {
		panic(err)
	}
	tsk.Cwd = fd.MkRootCwd(rootFd)
	return root
}

func cstringInto(tsk *sched.Task_t, va uintptr, s string) {
	tsk.As.MapAnon(va, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
	tsk.As.CopyOut(va, append([]byte(s), 0))
}

func TestSysOpenatCreatesAndWrites(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var openRet uintptr
	var writeRet uintptr

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		installRootfs(tsk)
	}, func() {
		tsk := sched.Current()
		const pathVa = 0x40000
		cstringInto(tsk, pathVa, "/greeting.txt")

		of := &mockFrame{args: [6]uintptr{
			uintptr(unix.AT_FDCWD), pathVa,
			uintptr(defs.O_CREAT | defs.O_WRONLY), 0644,
		}}
		openRet = sysOpenat(tsk, of)

		const dataVa = 0x41000
		cstringInto(tsk, dataVa, "hi")
		wf := &mockFrame{args: [6]uintptr{openRet, dataVa, 2}}
		writeRet = sysWrite(tsk, wf)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(openRet) < 0 {
		t.Fatalf("openat failed: %d", int64(openRet))
	}
	if int64(writeRet) != 2 {
		t.Fatalf("write returned %d, want 2", int64(writeRet))
	}
}

func TestSysMkdiratThenOpenatDirectory(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var mkdirRet, openRet uintptr

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		installRootfs(tsk)
	}, func() {
		tsk := sched.Current()
		const pathVa = 0x40000
		cstringInto(tsk, pathVa, "/sub")

		mf := &mockFrame{args: [6]uintptr{uintptr(unix.AT_FDCWD), pathVa, 0755}}
		mkdirRet = sysMkdirat(tsk, mf)

		of := &mockFrame{args: [6]uintptr{
			uintptr(unix.AT_FDCWD), pathVa,
			uintptr(defs.O_RDONLY | defs.O_DIRECTORY), 0,
		}}
		openRet = sysOpenat(tsk, of)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(mkdirRet) != 0 {
		t.Fatalf("mkdirat failed: %d", int64(mkdirRet))
	}
	if int64(openRet) < 0 {
		t.Fatalf("openat on directory failed: %d", int64(openRet))
	}
}

func TestSysUnlinkatRemovesFile(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var unlinkRet, reopenRet uintptr

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		root := installRootfs(tsk)
		fdesc, err := root.Open(ustr.Ustr("/x.txt"), defs.O_CREAT|defs.O_WRONLY, 0644)
		if err != 0 {
			panic(err)
		}
		fdesc.Fops.Close()
	}, func() {
		tsk := sched.Current()
		const pathVa = 0x40000
		cstringInto(tsk, pathVa, "/x.txt")

		uf := &mockFrame{args: [6]uintptr{uintptr(unix.AT_FDCWD), pathVa, 0}}
		unlinkRet = sysUnlinkat(tsk, uf)

		of := &mockFrame{args: [6]uintptr{
			uintptr(unix.AT_FDCWD), pathVa, uintptr(defs.O_RDONLY), 0,
		}}
		reopenRet = sysOpenat(tsk, of)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(unlinkRet) != 0 {
		t.Fatalf("unlinkat failed: %d", int64(unlinkRet))
	}
	if int64(reopenRet) != int64(-defs.ENOENT) {
		t.Fatalf("expected -ENOENT reopening unlinked file, got %d", int64(reopenRet))
	}
}

func TestSysRenameat2MovesFile(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var renameRet uintptr
	var readBack string

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		root := installRootfs(tsk)
		fdesc, err := root.Open(ustr.Ustr("/old.txt"), defs.O_CREAT|defs.O_WRONLY, 0644)
		if err != 0 {
			panic(err)
		}
		fdesc.Fops.Write([]byte("moved"))
		fdesc.Fops.Close()
	}, func() {
		tsk := sched.Current()
		const oldVa = 0x40000
		const newVa = 0x41000
		cstringInto(tsk, oldVa, "/old.txt")
		cstringInto(tsk, newVa, "/new.txt")

		rf := &mockFrame{args: [6]uintptr{
			uintptr(unix.AT_FDCWD), oldVa, uintptr(unix.AT_FDCWD), newVa,
		}}
		renameRet = sysRenameat2(tsk, rf)

		of := &mockFrame{args: [6]uintptr{
			uintptr(unix.AT_FDCWD), newVa, uintptr(defs.O_RDONLY), 0,
		}}
		openRet := sysOpenat(tsk, of)
		if int64(openRet) < 0 {
			done <- struct{}{}
			return
		}
		const rbufVa = 0x42000
		tsk.As.MapAnon(rbufVa, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
		rdf := &mockFrame{sysno: uintptr(unix.SYS_READ), args: [6]uintptr{openRet, rbufVa, 16}}
		n := sysRead(tsk, rdf)
		got, _ := tsk.As.CopyIn(rbufVa, uintptr(int64(n)))
		readBack = string(got)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(renameRet) != 0 {
		t.Fatalf("renameat2 failed: %d", int64(renameRet))
	}
	if readBack != "moved" {
		t.Fatalf("content after rename = %q, want %q", readBack, "moved")
	}
}

func TestSysSymlinkatAndReadlinkat(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var symlinkRet, readlinkRet uintptr
	var target string

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		installRootfs(tsk)
	}, func() {
		tsk := sched.Current()
		const targetVa = 0x40000
		const linkVa = 0x41000
		cstringInto(tsk, targetVa, "/dest")
		cstringInto(tsk, linkVa, "/link")

		sf := &mockFrame{args: [6]uintptr{targetVa, uintptr(unix.AT_FDCWD), linkVa}}
		symlinkRet = sysSymlinkat(tsk, sf)

		const outVa = 0x42000
		tsk.As.MapAnon(outVa, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
		rf := &mockFrame{args: [6]uintptr{uintptr(unix.AT_FDCWD), linkVa, outVa, 64}}
		readlinkRet = sysReadlinkat(tsk, rf)
		if int64(readlinkRet) > 0 {
			got, _ := tsk.As.CopyIn(outVa, uintptr(int64(readlinkRet)))
			target = string(got)
		}
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(symlinkRet) != 0 {
		t.Fatalf("symlinkat failed: %d", int64(symlinkRet))
	}
	if target != "/dest" {
		t.Fatalf("readlinkat returned %q, want %q", target, "/dest")
	}
}

func TestSysChdirAndGetcwd(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var chdirRet, getcwdRet uintptr
	var cwd string

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		root := installRootfs(tsk)
		if err := root.Mkdir(ustr.Ustr("/home"), 0755); err != 0 {
			panic(err)
		}
	}, func() {
		tsk := sched.Current()
		const pathVa = 0x40000
		cstringInto(tsk, pathVa, "/home")

		cf := &mockFrame{args: [6]uintptr{pathVa}}
		chdirRet = sysChdir(tsk, cf)

		const bufVa = 0x41000
		tsk.As.MapAnon(bufVa, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
		gf := &mockFrame{args: [6]uintptr{bufVa, 64}}
		getcwdRet = sysGetcwd(tsk, gf)
		if int64(getcwdRet) > 0 {
			got, _ := tsk.As.CopyIn(bufVa, uintptr(int64(getcwdRet)-1))
			cwd = string(got)
		}
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(chdirRet) != 0 {
		t.Fatalf("chdir failed: %d", int64(chdirRet))
	}
	if cwd != "/home" {
		t.Fatalf("getcwd returned %q, want %q", cwd, "/home")
	}
}

func TestSysPipe2InstallsBothEnds(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	done := make(chan struct{}, 1)
	var pipeRet uintptr
	var rfd, wfd uint32
	var readBack string

	_, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		installRootfs(tsk)
	}, func() {
		tsk := sched.Current()
		const fdsVa = 0x40000
		tsk.As.MapAnon(fdsVa, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
		pf := &mockFrame{args: [6]uintptr{fdsVa}}
		pipeRet = sysPipe2(tsk, pf)

		raw, _ := tsk.As.CopyIn(fdsVa, 8)
		rfd = uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		wfd = uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24

		const dataVa = 0x41000
		cstringInto(tsk, dataVa, "pipeline")
		wf := &mockFrame{args: [6]uintptr{uintptr(wfd), dataVa, 8}}
		sysWrite(tsk, wf)

		const outVa = 0x42000
		tsk.As.MapAnon(outVa, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
		rf := &mockFrame{args: [6]uintptr{uintptr(rfd), outVa, 8}}
		n := sysRead(tsk, rf)
		got, _ := tsk.As.CopyIn(outVa, uintptr(int64(n)))
		readBack = string(got)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if int64(pipeRet) != 0 {
		t.Fatalf("pipe2 failed: %d", int64(pipeRet))
	}
	if readBack != "pipeline" {
		t.Fatalf("pipe round trip got %q, want %q", readBack, "pipeline")
	}
}
