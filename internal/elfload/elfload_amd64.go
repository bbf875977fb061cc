//go:build amd64

package elfload

import "debug/elf"

const wantMachine = elf.EM_X86_64
const relativeRelocType = uint32(elf.R_X86_64_RELATIVE)
