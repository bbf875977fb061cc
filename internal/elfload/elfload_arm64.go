//go:build arm64

package elfload

import "debug/elf"

const wantMachine = elf.EM_AARCH64
const relativeRelocType = uint32(elf.R_AARCH64_RELATIVE)
