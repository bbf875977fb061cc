//go:build arm64

package boot

import (
	"unsafe"

	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/syscalls"
	"levitateos/internal/trap"
)

// fdtTotalSize reads the FDT header's totalsize field (the second big-endian
// uint32) directly out of physical memory so the full blob can be sliced
// without first knowing its length.
func fdtTotalSize(fdtBase uintptr) uint32 {
	p := (*[12]byte)(unsafe.Pointer(fdtBase))
	return uint32(p[4])<<24 | uint32(p[5])<<16 | uint32(p[6])<<8 | uint32(p[7])
}

// StartAArch64 is the arm64 architecture's kernel entry, called by the boot
// assembly stub once a stack and a Go-runtime-usable environment exist,
// with fdtBase the physical address of the Flattened Device Tree QEMU's
// virt machine leaves in x0 at entry (spec.md §6: "entry with the FDT
// physical address in x0, preserved in a static before any clobber").
// Never returns.
func StartAArch64(fdtBase uintptr) {
	size := fdtTotalSize(fdtBase)
	blob := unsafe.Slice((*byte)(unsafe.Pointer(fdtBase)), int(size))

	info, ok := parseFDT(blob)
	if !ok {
		panic("boot: malformed FDT")
	}
	if !info.HasMemory {
		panic("boot: FDT has no /memory node")
	}

	reserved := [][2]mem.Pa_t{
		{mem.Pa_t(fdtBase), mem.Pa_t(fdtBase + uintptr(size))},
	}
	var initrd []byte
	if info.HasInitrd {
		reserved = append(reserved, [2]mem.Pa_t{mem.Pa_t(info.InitrdStart), mem.Pa_t(info.InitrdEnd)})
		initrd = unsafe.Slice((*byte)(unsafe.Pointer(info.InitrdStart)), int(info.InitrdEnd-info.InitrdStart))
	}

	// dmapbase mirrors x86_64's HHDM: a fixed high canonical base this
	// kernel's own direct map uses for physical-to-virtual translation,
	// per spec.md's Design Notes ("kernel half mapped at a fixed
	// canonical-high base via block entries covering all usable RAM").
	const dmapbase = 0xffff_0000_0000_0000

	ram := [2]mem.Pa_t{mem.Pa_t(info.MemStart), mem.Pa_t(info.MemStart + info.MemSize)}

	// scratch carves out a region at the top of RAM for the boot page
	// tables mmu.BootstrapAArch64 builds: a 4 KiB leaf table per 2 MiB of
	// identity-mapped RAM, plus the two top-level roots and headroom for
	// the device windows' own leaf tables.
	scratchSize := mem.Pa_t(info.MemSize)/256 + 1<<20
	scratch := [2]mem.Pa_t{ram[1] - scratchSize, ram[1]}
	reserved = append(reserved, scratch)

	// Fixed physical windows QEMU's virt machine places below RAM: the
	// GICv2 distributor and CPU interfaces (internal/trap/gic_arm64.go),
	// the PL011 UART (internal/console/uart_arm64.go) and the virtio-mmio
	// transport's 32 device slots (internal/virtio/mmio_arm64.go). None of
	// these live inside the /memory node ram covers, so each needs its own
	// identity window.
	devices := []mmu.DeviceWindow{
		{Base: 0x08000000, Size: 0x10000}, // GIC distributor
		{Base: 0x08010000, Size: 0x10000}, // GIC CPU interface
		{Base: 0x09000000, Size: 0x1000},  // PL011 UART
		{Base: 0x0a000000, Size: 0x4000},  // virtio-mmio, 32 * 0x200
	}
	mmu.BootstrapAArch64(scratch, ram, devices, dmapbase)

	mem.Phys_init(ram[0], ram[1]-ram[0], reserved, dmapbase)

	installVectors()
	trap.InitGIC()

	syscalls.SeedRandom(int64(readCycleCounter()))

	sequence(info.Bootargs, initrd)
}
