package syscalls

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/vm"
)

func TestCopyAddressSpaceDuplicatesContentIndependently(t *testing.T) {
	setupPhys(t, 256)

	src, err := vm.New()
	if err != 0 {
		t.Fatalf("vm.New src: %v", err)
	}
	dst, err := vm.New()
	if err != 0 {
		t.Fatalf("vm.New dst: %v", err)
	}

	const va = 0x40000
	if err := src.MapAnon(va, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); err != 0 {
		t.Fatalf("MapAnon: %v", err)
	}
	want := bytes.Repeat([]byte{0xaa}, 64)
	if err := src.CopyOut(va, want); err != 0 {
		t.Fatalf("CopyOut: %v", err)
	}

	if err := copyAddressSpace(src, dst); err != 0 {
		t.Fatalf("copyAddressSpace: %v", err)
	}

	got, err := dst.CopyIn(va, uintptr(len(want)))
	if err != 0 {
		t.Fatalf("CopyIn from dst: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("dst content = %x, want %x", got, want)
	}

	// Mutating src after the copy must not be visible in dst.
	if err := src.CopyOut(va, bytes.Repeat([]byte{0xbb}, 64)); err != 0 {
		t.Fatalf("CopyOut mutate src: %v", err)
	}
	got2, err := dst.CopyIn(va, uintptr(len(want)))
	if err != 0 {
		t.Fatalf("CopyIn from dst after src mutation: %v", err)
	}
	if !bytes.Equal(got2, want) {
		t.Fatalf("dst content changed after src mutation: %x", got2)
	}
}

func TestCopyFdTableSharesUnderlyingFile(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState(t)

	parent, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn parent: %v", err)
	}
	mf := &memFile{}
	installFd(parent, mf)

	child, err := sched.Spawn(parent, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn child: %v", err)
	}

	if cerr := copyFdTable(parent, child); cerr != 0 {
		t.Fatalf("copyFdTable: %v", cerr)
	}
	if len(child.Fds) < 1 || child.Fds[0] == nil {
		t.Fatal("expected fd 0 duplicated into child")
	}
	if child.Fds[0].Fops != mf {
		t.Fatal("expected child fd to share the parent's open file description")
	}
	if child.Fds[0].Perms != parent.Fds[0].Perms {
		t.Fatalf("perms mismatch: child=%v parent=%v", child.Fds[0].Perms, parent.Fds[0].Perms)
	}
}

func TestCopyCwdPreservesPathWithIndependentFd(t *testing.T) {
	mf := &memFile{}
	root := &fd.Fd_t{Fops: mf, Perms: fd.FD_READ}
	cwd := fd.MkRootCwd(root)

	ncwd, err := copyCwd(cwd)
	if err != 0 {
		t.Fatalf("copyCwd: %v", err)
	}
	if !ncwd.Path.Eq(cwd.Path) {
		t.Fatalf("path mismatch: got %v want %v", ncwd.Path, cwd.Path)
	}
	if ncwd.Fd == cwd.Fd {
		t.Fatal("expected copyCwd to allocate a distinct *Fd_t")
	}
	if ncwd.Fd.Fops != cwd.Fd.Fops {
		t.Fatal("expected copyCwd's fd to share the same open file description")
	}
}

// TestSysCloneReturnsDistinctChildPids exercises sysClone end to end: its
// child's setup closure (address space, fd table, and cwd duplication) runs
// synchronously inside sched.Spawn, but the child's body — which calls
// trap.EnterUserWithReturn — is never reached here because the child is
// never handed to sched.Schedule. The copying logic itself is covered in
// detail by TestCopyAddressSpaceDuplicatesContentIndependently,
// TestCopyFdTableSharesUnderlyingFile, and TestCopyCwdPreservesPathWithIndependentFd;
// this test only checks that sysClone composes them into a successful
// parent-visible pid.
func TestSysCloneReturnsDistinctChildPids(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	parent, err := sched.Spawn(nil, func(tsk *sched.Task_t) {
		installRootfs(tsk)
		installFd(tsk, &memFile{})
	}, func() {})
	if err != 0 {
		t.Fatalf("spawn parent: %v", err)
	}

	const va = 0x50000
	if merr := parent.As.MapAnon(va, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); merr != 0 {
		t.Fatalf("MapAnon: %v", merr)
	}

	f := &mockFrame{sysno: uintptr(unix.SYS_CLONE), args: [6]uintptr{0, 0}, usp: 0x60000}
	ret1 := sysClone(parent, f)
	if int64(ret1) < 0 {
		t.Fatalf("sysClone failed: %v", defs.Err_t(int64(ret1)))
	}
	ret2 := sysClone(parent, f)
	if int64(ret2) < 0 {
		t.Fatalf("sysClone failed: %v", defs.Err_t(int64(ret2)))
	}
	if ret1 == ret2 {
		t.Fatalf("expected two clone calls to produce distinct pids, both got %d", ret1)
	}
	if defs.Pid_t(int64(ret1)) == parent.Pid || defs.Pid_t(int64(ret2)) == parent.Pid {
		t.Fatal("expected child pids to differ from the parent's")
	}
}
