//go:build amd64

package boot

import (
	"levitateos/internal/mem"
	"levitateos/internal/syscalls"
	"levitateos/internal/trap"
)

// StartX86_64 is the amd64 architecture's kernel entry, called by the boot
// assembly stub once long mode, a stack and a Go-runtime-usable environment
// exist. By the time this runs, Limine has already backfilled
// hhdmRequest/memmapRequest/moduleRequest/cmdlineRequest's response
// pointers (spec.md §6: "x86_64 entry goes through a Limine-compatible boot
// protocol for HHDM offset, memory map, kernel file and modules"). Never
// returns.
func StartX86_64() {
	if hhdmRequest.response == nil || memmapRequest.response == nil {
		panic("boot: bootloader did not answer required Limine requests")
	}

	memBase, memSize, ok := usableMemory(memmapRequest.response)
	if !ok {
		panic("boot: no usable memory region in Limine memmap")
	}

	reserved := make([][2]mem.Pa_t, 0, len(reservedRanges(memmapRequest.response)))
	for _, r := range reservedRanges(memmapRequest.response) {
		reserved = append(reserved, [2]mem.Pa_t{mem.Pa_t(r[0]), mem.Pa_t(r[1])})
	}

	dmapbase := uintptr(hhdmRequest.response.Offset)
	mem.Phys_init(mem.Pa_t(memBase), mem.Pa_t(memSize), reserved, dmapbase)

	trap.InitIDT()

	var initrd []byte
	if moduleRequest.response != nil {
		initrd, _ = initrdModule(moduleRequest.response)
	}

	var cmdline string
	if cmdlineRequest.response != nil {
		cmdline = cStringAt(cmdlineRequest.response.cmdline)
	}

	syscalls.SeedRandom(int64(readCycleCounter()))

	sequence(cmdline, initrd)
}
