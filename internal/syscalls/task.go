package syscalls

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
)

func init() {
	register(uintptr(unix.SYS_GETPID), sysGetpid)
	register(uintptr(unix.SYS_GETPPID), sysGetppid)
	register(uintptr(unix.SYS_GETTID), sysGettid)
	register(uintptr(unix.SYS_EXIT), sysExit)
	register(uintptr(unix.SYS_EXIT_GROUP), sysExit)
	register(uintptr(unix.SYS_WAIT4), sysWaitpid)
	register(uintptr(unix.SYS_KILL), sysKill)
}

func sysGetpid(t *sched.Task_t, f trap.Frame) uintptr {
	return uintptr(int64(t.Pid))
}

// sysGetppid returns 1 (PID 1's own idea of init, conventionally its own
// parent on Linux) when the caller has no parent, matching the orphan
// reparenting convention without implementing a real init-reparent pass.
func sysGetppid(t *sched.Task_t, f trap.Frame) uintptr {
	if t.Parent == nil {
		return 1
	}
	return uintptr(int64(t.Parent.Pid))
}

func sysGettid(t *sched.Task_t, f trap.Frame) uintptr {
	return uintptr(int64(t.Tid))
}

// sysExit backs both exit and exit_group: LevitateOS has no thread-group
// distinction separate from Task_t, so killing the one task a pid names is
// already "the whole group". sched.Exit never returns to its caller once
// the task is Zombie, so Dispatch's post-handler accounting line is never
// reached for this call, the same way it never runs again after Linux's
// real exit(2).
func sysExit(t *sched.Task_t, f trap.Frame) uintptr {
	sched.Exit(int(int32(f.Arg(0))))
	panic("unreachable: sched.Exit does not return")
}

// sysWaitpid implements wait4(pid, wstatus, options, rusage). options and
// rusage are accepted but ignored: WNOHANG blocking-avoidance and resource
// usage reporting are both out of scope for spec.md's required handler set,
// which asks only for "waitpid" and does not elaborate beyond the blocking
// reap sched.Waitpid already provides. Per Linux, pid<=0 (aside from exact
// process-group forms LevitateOS does not model) means "any child"; that
// collapses onto sched.Waitpid's own 0-means-any convention.
func sysWaitpid(t *sched.Task_t, f trap.Frame) uintptr {
	raw := int32(f.Arg(0))
	var want defs.Pid_t
	if raw > 0 {
		want = defs.Pid_t(raw)
	}

	pid, status, err := sched.Waitpid(want)
	if err != 0 {
		return encode(err)
	}

	if wstatusVa := f.Arg(1); wstatusVa != 0 {
		var buf [4]byte
		// Linux packs a normal exit's status into bits 8-15 of the word.
		binary.LittleEndian.PutUint32(buf[:], uint32(uint8(status))<<8)
		if cerr := t.As.CopyOut(wstatusVa, buf[:]); cerr != 0 {
			return encode(cerr)
		}
	}
	return uintptr(int64(pid))
}

// sysKill marks the target doomed; the target exits when Dispatch next
// finishes a system call for it (unhandled faults go through
// trap.KillHandler instead, which exits at once). A target parked in a wait
// queue is not forcibly woken, so kill cannot interrupt an indefinite block
// today (nanosleep and blocking read/waitpid are the only such blocks in
// the required handler set, and none of spec.md's test scenarios exercise
// killing a blocked task).
func sysKill(t *sched.Task_t, f trap.Frame) uintptr {
	pid := defs.Pid_t(int32(f.Arg(0)))
	return encode(sched.Kill(pid))
}
