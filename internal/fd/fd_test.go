package fd

import (
	"testing"

	"levitateos/internal/defs"
	"levitateos/internal/ustr"
)

type fakeFops struct {
	closed  bool
	reopens int
}

func (f *fakeFops) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Write(src []uint8) (int, defs.Err_t) { return len(src), 0 }
func (f *fakeFops) Pread(dst []uint8, off int) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Pwrite(src []uint8, off int) (int, defs.Err_t) { return len(src), 0 }
func (f *fakeFops) Lseek(off, whence int) (int, defs.Err_t)       { return off, 0 }
func (f *fakeFops) Fstat(st *defs.Stat_t) defs.Err_t              { return 0 }
func (f *fakeFops) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	return 0, 0, 0
}
func (f *fakeFops) Ioctl(req uint, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (f *fakeFops) Close() defs.Err_t                             { f.closed = true; return 0 }
func (f *fakeFops) Reopen() defs.Err_t                            { f.reopens++; return 0 }

func TestCopyfdReopensSharedFops(t *testing.T) {
	ops := &fakeFops{}
	orig := &Fd_t{Fops: ops, Perms: FD_READ}

	dup, err := Copyfd(orig)
	if err != 0 {
		t.Fatalf("Copyfd failed: %v", err)
	}
	if dup.Fops != orig.Fops {
		t.Fatal("Copyfd should share the same Fdops_i, not clone it")
	}
	if ops.reopens != 1 {
		t.Fatalf("expected Reopen called once, got %d", ops.reopens)
	}
	if dup.Perms != orig.Perms {
		t.Fatal("Copyfd should copy permission bits")
	}
}

func TestClosePanicOnFailure(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Close_panic should panic when Close fails")
		}
	}()
	f := &Fd_t{Fops: &failingClose{}}
	Close_panic(f)
}

type failingClose struct{ fakeFops }

func (f *failingClose) Close() defs.Err_t { return -defs.EIO }

func TestFullpathAbsoluteUnchanged(t *testing.T) {
	cwd := MkRootCwd(nil)
	abs := ustr.Ustr("/etc/passwd")
	if got := cwd.Fullpath(abs); !got.Eq(abs) {
		t.Fatalf("expected absolute path unchanged, got %q", got)
	}
}

func TestFullpathRelativeJoinsCwd(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/home/user")}
	got := cwd.Fullpath(ustr.Ustr("file.txt"))
	want := ustr.Ustr("/home/user/file.txt")
	if !got.Eq(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCanonicalizeCollapsesDotDot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/a/b/../c/./d"))
	want := ustr.Ustr("/a/c/d")
	if !got.Eq(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCanonicalizeDotDotAtRootStaysAtRoot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/../.."))
	if !got.Eq(ustr.MkUstrRoot()) {
		t.Fatalf("expected root, got %q", got)
	}
}

func TestCanonicalpathCombinesFullpathAndCanonicalize(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/a/b")}
	got := cwd.Canonicalpath(ustr.Ustr("../c"))
	want := ustr.Ustr("/a/c")
	if !got.Eq(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}
