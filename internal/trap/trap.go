// Package trap is the exception and interrupt plane: it decodes synchronous
// faults, dispatches asynchronous interrupts to registered handlers, and
// renders a register-dump-plus-disassembly panic report when a fault
// cannot be attributed to a running task. The vector tables themselves are
// hand-written assembly (vector_amd64.s, vector_arm64.s); this file is the
// Go-level policy they call into. Grounded on the teacher's trap-handling
// idiom (proc/... process fault classification) and on the gvisor
// pkg/sentry/arch register-file naming convention for the per-arch frame
// types in amd64.go/arm64.go.
package trap

import (
	"fmt"
	"sync"

	"levitateos/internal/caller"
	"levitateos/internal/defs"
	"levitateos/internal/stats"
)

// Frame is the architecture-neutral view of a trapped register state:
// enough to dispatch a syscall, report a fault, and resume or kill the
// faulting task.
type Frame interface {
	// SyscallNo returns the syscall number per the Linux ABI for this
	// architecture.
	SyscallNo() uintptr
	// Arg returns the nth syscall argument register (0-indexed).
	Arg(n int) uintptr
	// SetReturn stores a syscall's Err_t-encoded result in the return
	// register.
	SetReturn(v uintptr)
	// PC returns the faulting or executing instruction pointer.
	PC() uintptr
	// UserSp returns the trapped user stack pointer.
	UserSp() uintptr
	// IsUserMode reports whether the trapped context was running in EL0 /
	// ring 3.
	IsUserMode() bool
	// FaultAddr returns the address a page fault or alignment fault
	// occurred at.
	FaultAddr() uintptr
	// Dump renders the register file for a panic report.
	Dump() string
}

// Kind classifies why control entered the trap plane.
type Kind int

const (
	KindSyscall Kind = iota
	KindPageFault
	KindIllegalInstruction
	KindDivideError
	KindIRQ
	KindOther
)

// Signal mirrors the Linux signal numbers used to describe why a user-mode
// fault killed a task.
type Signal int

const (
	SIGSEGV Signal = 11
	SIGILL  Signal = 4
	SIGFPE  Signal = 8
)

// SyscallHandler dispatches a decoded syscall trap; internal/syscalls
// registers the real implementation at boot to avoid an import cycle
// (syscalls needs trap.Frame, trap must not need syscalls.Dispatch).
var SyscallHandler func(Frame)

// KillHandler is invoked when a user-mode fault cannot be resolved;
// internal/sched registers the real task-termination path.
var KillHandler func(sig Signal, f Frame)

var irqMu sync.Mutex
var irqHandlers = map[int]func(){}

// RegisterIRQ installs a handler for vector vec. internal/timer and
// internal/virtio call this at device-init time.
func RegisterIRQ(vec int, handler func()) {
	irqMu.Lock()
	defer irqMu.Unlock()
	if _, dup := irqHandlers[vec]; dup {
		panic("IRQ vector already claimed")
	}
	irqHandlers[vec] = handler
}

// Dispatch is called by the per-arch assembly trampoline with the
// classification already decided by the hardware-specific entry stub
// (syndrome register on arm64, vector number on amd64).
func Dispatch(kind Kind, vec int, f Frame) {
	stats.Nirqs[vec%len(stats.Nirqs)]++
	stats.Irqs++

	switch kind {
	case KindSyscall:
		if SyscallHandler == nil {
			panic("no syscall handler installed")
		}
		SyscallHandler(f)
	case KindIRQ:
		irqMu.Lock()
		h := irqHandlers[vec]
		irqMu.Unlock()
		if h != nil {
			h()
		}
	case KindPageFault, KindIllegalInstruction, KindDivideError:
		sig := faultSignal(kind)
		if f.IsUserMode() {
			if KillHandler == nil {
				panic("fault in user mode with no kill handler installed")
			}
			KillHandler(sig, f)
			return
		}
		panicFault(kind, f)
	default:
		panicFault(kind, f)
	}
}

func faultSignal(kind Kind) Signal {
	switch kind {
	case KindPageFault:
		return SIGSEGV
	case KindIllegalInstruction:
		return SIGILL
	case KindDivideError:
		return SIGFPE
	}
	return SIGSEGV
}

// panicFault renders a register dump, a best-effort disassembly of the
// faulting instruction (via decodeFault, golang.org/x/arch-backed), and a
// Go call stack, then panics: a fault taken in kernel mode is always fatal.
func panicFault(kind Kind, f Frame) {
	msg := fmt.Sprintf("kernel fault kind=%d at pc=%#x fault=%#x\n%s\n%s",
		kind, f.PC(), f.FaultAddr(), f.Dump(), decodeFault(f))
	caller.Callerdump(2)
	panic(msg)
}

// ErrFromSignal maps a delivered-but-unhandled fault signal to the Err_t a
// blocked syscall should wake up with, used when a task's pending signal
// interrupts a syscall it was sleeping in.
func ErrFromSignal(sig Signal) defs.Err_t {
	return -defs.EINTR
}
