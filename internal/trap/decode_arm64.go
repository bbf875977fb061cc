//go:build arm64

package trap

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/arm64/arm64asm"
)

// ReadCode returns up to n bytes of kernel memory at va; see the amd64
// variant's doc comment for why this is a hook rather than a direct read.
var ReadCode func(va uintptr, n int) []byte

func decodeFault(f Frame) string {
	if ReadCode == nil {
		return "(no disassembly available)"
	}
	code := ReadCode(f.PC(), 4)
	if len(code) < 4 {
		return "(could not read faulting instruction)"
	}
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return fmt.Sprintf("(disassembly failed: %v)", err)
	}
	return fmt.Sprintf("faulting instruction: %s", arm64asm.GNUSyntax(inst))
}

func readBytes(va uintptr, n int) []byte {
	out := make([]byte, n)
	src := unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
	copy(out, src)
	return out
}
