package sched

import (
	"runtime"
	"testing"
	"time"
	"unsafe"

	"levitateos/internal/defs"
	"levitateos/internal/limits"
	"levitateos/internal/mem"
)

func ptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// setupPhys gives internal/mem a host-backed arena, following the same
// pattern internal/vm's tests use, so vm.New (and therefore Spawn) can
// allocate a page table off real hardware.
func setupPhys(t *testing.T, pages int) {
	t.Helper()
	buf := make([]byte, pages*mem.PGSIZE+mem.PGSIZE)
	base := alignUp(uintptr(ptrOf(buf)), uintptr(mem.PGSIZE))
	mem.Phys_init(mem.Pa_t(base), mem.Pa_t(pages*mem.PGSIZE), nil, base)
}

// resetSchedState clears the package-level scheduler state between tests,
// since Spawn/Schedule/etc. all operate on package vars rather than a
// constructed type. idleTask is reset too so each test gets its own idle
// task; ensureIdle's staleness check retires the previous test's idle
// goroutine once it next wakes.
func resetSchedState() {
	ResetForTest()
}

// bootstrap makes the one legitimate external (non-task) call to Schedule,
// kicking off the first dispatch, then waits for done. This mirrors how
// cmd/kernel's main is expected to drive the scheduler: one Schedule call
// to start things moving, then block forever while tasks (including the
// idle task) hand control to each other.
func bootstrap(t *testing.T, done <-chan struct{}) {
	t.Helper()
	go Schedule()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap: done never fired")
	}
}

// waitForState polls t's State under schedMu until it matches want or the
// deadline passes. A plain field read would race with the task's own
// goroutine running Exit concurrently with the test goroutine; there is no
// parent here to synchronize through Waitpid, so polling under the lock is
// the only race-free option for a parentless task's post-exit state.
func waitForState(t *testing.T, task *Task_t, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		schedMu.Lock()
		got := task.State
		schedMu.Unlock()
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %v, last seen %v", want, got)
		}
		runtime.Gosched()
	}
}

func TestSpawnRunsBodyAndExitsToZombie(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState()

	done := make(chan struct{}, 1)
	child, err := Spawn(nil, nil, func() {
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	waitForState(t, child, StateZombie)
}

func TestWaitpidReturnsECHILDWithNoMatchingChild(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState()

	done := make(chan struct{}, 1)
	var werr defs.Err_t
	_, err := Spawn(nil, nil, func() {
		_, _, werr = Waitpid(999)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if werr != -defs.ECHILD {
		t.Fatalf("expected -ECHILD, got %v", werr)
	}
}

func TestWaitpidReapsExitedChildWithStatus(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState()

	done := make(chan struct{}, 1)
	var gotStatus int
	var werr defs.Err_t
	var childPid, reapedPid defs.Pid_t

	_, err := Spawn(nil, nil, func() {
		parent := Current()
		child, cerr := Spawn(parent, nil, func() {
			Exit(7)
		})
		if cerr != 0 {
			panic("nested spawn failed")
		}
		childPid = child.Pid
		reapedPid, gotStatus, werr = Waitpid(childPid)
		done <- struct{}{}
	})
	if err != 0 {
		t.Fatalf("Spawn failed: %v", err)
	}

	bootstrap(t, done)

	if werr != 0 {
		t.Fatalf("Waitpid failed: %v", werr)
	}
	if gotStatus != 7 {
		t.Fatalf("expected exit status 7, got %d", gotStatus)
	}
	if reapedPid != childPid {
		t.Fatalf("expected to reap pid %d, got %d", childPid, reapedPid)
	}
}

func TestWaitWakeAllReleasesEveryParkedTask(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState()

	var q WaitQueue
	parked := make(chan struct{}, 3)
	woken := make(chan int, 3)
	done := make(chan struct{}, 1)

	for i := 0; i < 3; i++ {
		i := i
		_, err := Spawn(nil, nil, func() {
			parked <- struct{}{}
			Wait(&q)
			woken <- i
		})
		if err != 0 {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}

	go func() {
		for i := 0; i < 3; i++ {
			<-parked
		}
		WakeAll(&q)
		for i := 0; i < 3; i++ {
			<-woken
		}
		done <- struct{}{}
	}()

	bootstrap(t, done)
}

func TestSpawnFailsOverSysprocsLimit(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState()

	saved := limits.Syslimit.Sysprocs
	limits.Syslimit.Sysprocs = 1
	defer func() { limits.Syslimit.Sysprocs = saved }()

	if _, err := Spawn(nil, nil, func() {}); err != 0 {
		t.Fatalf("first spawn under the limit should succeed, got %v", err)
	}
	if _, err := Spawn(nil, nil, func() {}); err != -defs.ENOMEM {
		t.Fatalf("spawn at the limit should fail with -ENOMEM, got %v", err)
	}
}
