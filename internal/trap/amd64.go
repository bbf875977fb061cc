//go:build amd64

package trap

import "fmt"

// AmdFrame is the register file saved by vector_amd64.s on trap entry,
// ordered to match the Linux x86-64 syscall ABI: rax carries the syscall
// number on entry and the return value on exit; arguments follow in
// rdi, rsi, rdx, r10, r8, r9 (not rcx, which SYSCALL clobbers with the
// return RIP).
type AmdFrame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	Rbp, Rdi, Rsi, Rdx, Rcx, Rbx, Rax    uint64
	Vector, ErrorCode                    uint64
	Rip, Cs, Rflags, Rsp, Ss             uint64
	Cr2                                  uint64
}

func (f *AmdFrame) SyscallNo() uintptr { return uintptr(f.Rax) }

func (f *AmdFrame) Arg(n int) uintptr {
	switch n {
	case 0:
		return uintptr(f.Rdi)
	case 1:
		return uintptr(f.Rsi)
	case 2:
		return uintptr(f.Rdx)
	case 3:
		return uintptr(f.R10)
	case 4:
		return uintptr(f.R8)
	case 5:
		return uintptr(f.R9)
	}
	panic("bad syscall arg index")
}

func (f *AmdFrame) SetReturn(v uintptr) { f.Rax = uint64(v) }
func (f *AmdFrame) PC() uintptr         { return uintptr(f.Rip) }
func (f *AmdFrame) UserSp() uintptr     { return uintptr(f.Rsp) }
func (f *AmdFrame) IsUserMode() bool    { return f.Cs&0x3 == 3 }
func (f *AmdFrame) FaultAddr() uintptr  { return uintptr(f.Cr2) }

func (f *AmdFrame) Dump() string {
	return fmt.Sprintf(
		"rax=%#x rbx=%#x rcx=%#x rdx=%#x rsi=%#x rdi=%#x rbp=%#x\n"+
			"r8=%#x r9=%#x r10=%#x r11=%#x r12=%#x r13=%#x r14=%#x r15=%#x\n"+
			"rip=%#x rsp=%#x rflags=%#x cs=%#x ss=%#x vector=%d error=%#x cr2=%#x",
		f.Rax, f.Rbx, f.Rcx, f.Rdx, f.Rsi, f.Rdi, f.Rbp,
		f.R8, f.R9, f.R10, f.R11, f.R12, f.R13, f.R14, f.R15,
		f.Rip, f.Rsp, f.Rflags, f.Cs, f.Ss, f.Vector, f.ErrorCode, f.Cr2)
}

// Vector numbers the teacher's idiom reserves in defs-style constant
// blocks; kept local since only vector_amd64.s and idt_amd64.go reference
// them.
const (
	vecDivideError     = 0
	vecInvalidOpcode   = 6
	vecPageFault       = 14
	vecTimer           = 32
	vecSyscall         = 0x80
	vecIRQBase         = vecTimer
)

// trapEntry is implemented in vector_amd64.s; it saves the general-purpose
// registers on the stack the CPU delivered the trap on and calls back into
// handleTrap with a pointer to the frame it just built.
func trapEntry()

// idtInstall is implemented in vector_amd64.s: it loads the IDT built by
// InitIDT via LIDT.
func idtInstall(base uintptr, limit uint16)

// EnterUser is implemented in enter_amd64.s; it drops to ring 3 at entry
// with stack pointer usp and does not return.
func EnterUser(entry, usp uintptr)

// EnterUserWithReturn is implemented in enter_amd64.s; like EnterUser but
// also sets rax, the register Linux's syscall ABI uses for a return value.
func EnterUserWithReturn(entry, usp, rax uintptr)

// handleTrap is called from vector_amd64.s once the register save frame is
// built; it is referenced there by symbol name, not through a Go call, so
// it must not be inlined away.
//
//go:noinline
func handleTrap(f *AmdFrame) {
	switch f.Vector {
	case vecSyscall:
		Dispatch(KindSyscall, int(f.Vector), f)
	case vecPageFault:
		Dispatch(KindPageFault, int(f.Vector), f)
	case vecInvalidOpcode:
		Dispatch(KindIllegalInstruction, int(f.Vector), f)
	case vecDivideError:
		Dispatch(KindDivideError, int(f.Vector), f)
	default:
		if f.Vector >= vecIRQBase {
			Dispatch(KindIRQ, int(f.Vector), f)
		} else {
			Dispatch(KindOther, int(f.Vector), f)
		}
	}
}
