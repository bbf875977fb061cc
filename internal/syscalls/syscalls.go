// Package syscalls is the Linux-ABI syscall dispatcher: it decodes a
// trapped syscall frame into a call against a typed handler table built
// over internal/sched's task state, internal/vm's user-memory helpers, and
// internal/fd's descriptor operations. Grounded on the teacher's
// defs.Err_t-as-return-value idiom (every handler here returns an Err_t the
// same way every other kernel subsystem does) and on gvisor's
// pkg/sentry/arch register-argument convention that internal/trap's Frame
// already mirrors (Arg(n), SetReturn). Syscall numbers come from
// golang.org/x/sys/unix's per-architecture SYS_* constants rather than a
// hand-copied table, so the dispatch table is automatically built against
// whichever of the two target architectures the kernel is compiled for.
package syscalls

import (
	"levitateos/internal/defs"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
)

func init() {
	trap.SyscallHandler = Dispatch
}

// handlerFn implements one syscall number: it reads its arguments out of f,
// does its work against t, and returns the raw ABI return value (a
// non-negative result or a two's-complement-encoded negative errno).
type handlerFn func(t *sched.Task_t, f trap.Frame) uintptr

var table = map[uintptr]handlerFn{}

// register installs fn at syscall number no. Called from each handler
// file's init(), keyed by the same golang.org/x/sys/unix constant the
// handler itself was grounded on, so there is one place per syscall (not
// two) naming its number.
func register(no uintptr, fn handlerFn) {
	if _, dup := table[no]; dup {
		panic("syscalls: duplicate registration for syscall number")
	}
	table[no] = fn
}

// encode converts a defs.Err_t into the raw ABI return value: the
// two's-complement bit pattern of the negative errno, which a userspace
// caller reads back as a small negative int64 the same way Linux's raw
// syscall return convention works.
func encode(err defs.Err_t) uintptr {
	return uintptr(int64(err))
}

// encodeVal returns the ABI encoding of a successful non-negative result n,
// or of err if err is non-zero.
func encodeVal(n int, err defs.Err_t) uintptr {
	if err != 0 {
		return encode(err)
	}
	return uintptr(int64(n))
}

// Dispatch is installed as trap.SyscallHandler at package init. It looks up
// the trapped syscall number, runs the handler (or synthesizes -ENOSYS),
// and writes the result back into the frame's return register. Syscalls
// that end a task's execution (exit, exit_group) call sched.Exit from
// within their handler and never return here, matching Linux's own exit(2)
// semantics. A task that sched.Kill has marked doomed exits here, with
// status 128+SIGKILL, once its current system call has finished.
func Dispatch(f trap.Frame) {
	t := sched.Current()
	start := t.Accnt.Now()

	h, ok := table[f.SyscallNo()]
	var ret uintptr
	if !ok {
		ret = encode(-defs.ENOSYS)
	} else {
		ret = h(t, f)
	}

	f.SetReturn(ret)
	t.Accnt.Finish(start)
	if t.Isdoomed {
		sched.Exit(128 + 9) // SIGKILL
	}
}
