package sched

import (
	"testing"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
)

type countingFops struct {
	closed int
}

func (f *countingFops) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (f *countingFops) Write(src []uint8) (int, defs.Err_t) { return len(src), 0 }
func (f *countingFops) Pread(dst []uint8, off int) (int, defs.Err_t)  { return 0, 0 }
func (f *countingFops) Pwrite(src []uint8, off int) (int, defs.Err_t) { return len(src), 0 }
func (f *countingFops) Lseek(off, whence int) (int, defs.Err_t)       { return off, 0 }
func (f *countingFops) Fstat(st *defs.Stat_t) defs.Err_t              { return 0 }
func (f *countingFops) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	return 0, 0, 0
}
func (f *countingFops) Ioctl(req uint, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (f *countingFops) Close() defs.Err_t                             { f.closed++; return 0 }
func (f *countingFops) Reopen() defs.Err_t                            { return 0 }

func TestAddFdReusesLowestClosedSlot(t *testing.T) {
	task := &Task_t{}
	a := &fd.Fd_t{Fops: &countingFops{}}
	b := &fd.Fd_t{Fops: &countingFops{}}
	c := &fd.Fd_t{Fops: &countingFops{}}

	if n := task.AddFd(a); n != 0 {
		t.Fatalf("expected slot 0, got %d", n)
	}
	if n := task.AddFd(b); n != 1 {
		t.Fatalf("expected slot 1, got %d", n)
	}
	if err := task.CloseFd(0); err != 0 {
		t.Fatalf("CloseFd failed: %v", err)
	}
	if n := task.AddFd(c); n != 0 {
		t.Fatalf("expected reused slot 0, got %d", n)
	}
}

func TestGetFdBadFd(t *testing.T) {
	task := &Task_t{}
	if _, err := task.GetFd(0); err != -defs.EBADF {
		t.Fatalf("expected -EBADF on empty table, got %v", err)
	}
	task.AddFd(&fd.Fd_t{Fops: &countingFops{}})
	if _, err := task.GetFd(5); err != -defs.EBADF {
		t.Fatalf("expected -EBADF out of range, got %v", err)
	}
}

func TestSetFdClosesPreviousOccupant(t *testing.T) {
	task := &Task_t{}
	oldOps := &countingFops{}
	task.SetFd(3, &fd.Fd_t{Fops: oldOps})

	newOps := &countingFops{}
	if err := task.SetFd(3, &fd.Fd_t{Fops: newOps}); err != 0 {
		t.Fatalf("SetFd failed: %v", err)
	}
	if oldOps.closed != 1 {
		t.Fatalf("expected previous occupant closed, got closed=%d", oldOps.closed)
	}
	got, err := task.GetFd(3)
	if err != 0 || got.Fops != newOps {
		t.Fatalf("expected new occupant installed at slot 3")
	}
}

func TestExitClosesAllFds(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState()

	ops := &countingFops{}
	done := make(chan struct{}, 1)

	child, err := Spawn(nil, func(task *Task_t) {
		task.AddFd(&fd.Fd_t{Fops: ops})
	}, func() {
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	waitForState(t, child, StateZombie)
	if ops.closed != 1 {
		t.Fatalf("expected fd closed exactly once on exit, got %d", ops.closed)
	}
}
