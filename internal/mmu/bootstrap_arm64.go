//go:build arm64

// Boot-time AArch64 MMU bring-up: builds a four-level identity mapping
// under TTBR0_EL1 covering usable RAM (which is where the kernel image,
// the FDT blob and the initrd QEMU's virt machine hands the kernel all
// live) plus this platform's device MMIO windows, and a second table
// under TTBR1_EL1 carrying the whole-RAM alias internal/mem's Dmap()
// resolves through, then programs MAIR_EL1/TCR_EL1 and sets SCTLR_EL1.M.
// Grounded on mazboot's initMMU/enableMMU bring-up sequence (a mapRegion
// helper walking 4 KiB leaves one at a time, the MAIR/TCR/TTBR/SCTLR
// programming order, per-device MMIO windows mapped Device-nGnRnE) from
// iansmith-mazarin/src/mazboot, adapted from its fixed physical scratch
// constant to this kernel's reserved-ranges-passed-to-mem.Phys_init
// convention: internal/boot carves a scratch region out of RAM for the
// tables this file builds and adds it to Phys_init's reserved list so the
// buddy allocator never hands those frames back out.
package mmu

import (
	"unsafe"

	"levitateos/internal/mem"
)

// mairEL1Value sets MAIR_EL1 index 0 to Normal, Inner/Outer Write-Back
// cacheable (0xff) and index 1 to Device-nGnRnE (0x00); descAttrNormal/
// descAttrDevice in arm64.go select between them per leaf.
const mairEL1Value uint64 = 0x00000000000000ff

// tcrEL1Value: T0SZ=T1SZ=16 (48-bit VA on both TTBRs, matching the
// 4-level/512GB-per-top-entry split backend.index assumes), 4 KiB
// granules on both halves, inner-shareable write-back table walks, IPS=2
// (40-bit/1 TiB physical address space — comfortably above anything
// QEMU's virt machine reports, with room to spare).
const tcrEL1Value uint64 = 16 | 1<<8 | 1<<10 | 3<<12 | 16<<16 | 1<<24 | 1<<26 | 3<<28 | 2<<30 | 2<<32

// DeviceWindow is one physical MMIO range BootstrapAArch64 identity-maps
// Device-nGnRnE, EL1-only, non-executable.
type DeviceWindow struct {
	Base mem.Pa_t
	Size uintptr
}

// bumpAlloc hands out zeroed page frames from [next, end) one at a time.
// internal/mem's buddy allocator does not exist yet when this code runs:
// building it is mem.Phys_init's job, and internal/boot calls Phys_init
// only after this file has installed the dmap mapping.
type bumpAlloc struct {
	next mem.Pa_t
	end  mem.Pa_t
}

func (b *bumpAlloc) alloc() mem.Pa_t {
	if b.next+mem.Pa_t(mem.PGSIZE) > b.end {
		panic("mmu: arm64 boot page table scratch region exhausted")
	}
	pa := b.next
	b.next += mem.Pa_t(mem.PGSIZE)
	tbl := rawTable(pa)
	for i := range tbl {
		tbl[i] = 0
	}
	return pa
}

// rawTable views a physical address as a page table directly: valid only
// before the MMU is enabled, when every physical address is also its own
// virtual address.
func rawTable(pa mem.Pa_t) *mem.Pg_t {
	return (*mem.Pg_t)(unsafe.Pointer(uintptr(pa)))
}

func (b *bumpAlloc) mapOne(root mem.Pa_t, va uintptr, pa mem.Pa_t, leafAttr uint64) {
	cur := root
	n := backend.levels()
	for level := 0; level < n-1; level++ {
		tbl := rawTable(cur)
		idx := backend.index(va, level)
		pte := tbl[idx]
		if pte&descValid == 0 {
			npa := b.alloc()
			tbl[idx] = backend.makeTableEntry(npa)
			cur = npa
		} else {
			cur = backend.tableAddr(pte)
		}
	}
	tbl := rawTable(cur)
	tbl[backend.index(va, n-1)] = uint64(pa)&descAddrMask | descValid | descTable | descAF | descSHInner | leafAttr
}

// identityRange maps va == pa across [start, end), rounded out to whole
// pages.
func (b *bumpAlloc) identityRange(root mem.Pa_t, start, end mem.Pa_t, attr uint64) {
	lo := uint64(start) &^ (uint64(mem.PGSIZE) - 1)
	hi := (uint64(end) + uint64(mem.PGSIZE) - 1) &^ (uint64(mem.PGSIZE) - 1)
	for pa := lo; pa < hi; pa += uint64(mem.PGSIZE) {
		b.mapOne(root, uintptr(pa), mem.Pa_t(pa), attr)
	}
}

// dmapRange maps dmapbase+(pa-start) -> pa across [start, end).
func (b *bumpAlloc) dmapRange(root mem.Pa_t, start, end mem.Pa_t, dmapbase uintptr, attr uint64) {
	lo := uint64(start) &^ (uint64(mem.PGSIZE) - 1)
	hi := (uint64(end) + uint64(mem.PGSIZE) - 1) &^ (uint64(mem.PGSIZE) - 1)
	for pa := lo; pa < hi; pa += uint64(mem.PGSIZE) {
		va := dmapbase + uintptr(pa-lo)
		b.mapOne(root, va, mem.Pa_t(pa), attr)
	}
}

// BootstrapAArch64 builds the boot page tables, installs them in
// TTBR0_EL1/TTBR1_EL1 and enables the MMU. scratch is a physical range the
// caller has set aside for page-table frames and will mark reserved
// before calling mem.Phys_init (this allocator predates Phys_init, so it
// cannot draw frames from it). ram is the usable memory range Phys_init
// will track; dmapbase is the virtual base internal/mem's Dmap() adds to
// a physical address. Must run before mem.Phys.Dmap or any device driver
// is used: both assume the mapping this function installs is already
// live.
//
// TTBR0_EL1's identity range is not carried into any task's own page
// table (internal/vm.New allocates an empty root for every task, the same
// simplification the amd64/Limine boot path already makes): once
// internal/sched activates a task's address space the kernel's own code,
// devices and this identity mapping are only reachable again on the next
// switch back to a kernel-only context. TTBR1_EL1's dmap mapping has no
// such gap — it is never swapped, so mem.Phys.Dmap stays valid for the
// whole kernel's lifetime regardless of which task is running.
func BootstrapAArch64(scratch [2]mem.Pa_t, ram [2]mem.Pa_t, devices []DeviceWindow, dmapbase uintptr) {
	b := &bumpAlloc{next: scratch[0], end: scratch[1]}

	identityRoot := b.alloc()
	dmapRoot := b.alloc()

	b.identityRange(identityRoot, ram[0], ram[1], descAttrNormal)
	for _, d := range devices {
		b.identityRange(identityRoot, d.Base, d.Base+mem.Pa_t(d.Size), descAttrDevice|descPXN|descUXN)
	}
	b.dmapRange(dmapRoot, ram[0], ram[1], dmapbase, descAttrNormal|descPXN|descUXN)

	writeMairEl1(mairEL1Value)
	writeTcrEl1(tcrEL1Value)
	loadTTBR0(uint64(identityRoot))
	writeTtbr1El1(uint64(dmapRoot))
	enableMMUEL1()
}

// writeMairEl1, writeTcrEl1, writeTtbr1El1 and enableMMUEL1 are
// implemented in activate_arm64.s.
func writeMairEl1(v uint64)
func writeTcrEl1(v uint64)
func writeTtbr1El1(pa uint64)
func enableMMUEL1()
