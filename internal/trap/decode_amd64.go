//go:build amd64

package trap

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/x86asm"
)

// ReadCode returns up to n bytes of (kernel-addressable) memory starting at
// va, for disassembling a faulting instruction. internal/boot installs the
// real implementation once the higher-half kernel mapping is live; before
// that, decodeFault degrades to "no disassembly available" rather than
// risking a second fault while already handling one.
var ReadCode func(va uintptr, n int) []byte

func decodeFault(f Frame) string {
	if ReadCode == nil {
		return "(no disassembly available)"
	}
	code := ReadCode(f.PC(), 16)
	if code == nil {
		return "(could not read faulting instruction)"
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Sprintf("(disassembly failed: %v)", err)
	}
	return fmt.Sprintf("faulting instruction: %s", x86asm.GNUSyntax(inst, uint64(f.PC()), nil))
}

func readBytes(va uintptr, n int) []byte {
	out := make([]byte, n)
	src := unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
	copy(out, src)
	return out
}
