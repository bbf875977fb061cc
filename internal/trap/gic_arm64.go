//go:build arm64

// GICv2 distributor/CPU-interface driver for QEMU's virt machine. Register
// offsets grounded on iansmith-mazarin's gic_qemu.go (same base addresses,
// same register names); extended here with the priority-mask and
// set-enable sequencing internal/timer and internal/virtio need to arm
// their own interrupt lines instead of only the timer PPI the teacher
// repo's mazarin wires up.
package trap

import "unsafe"

const (
	gicDistBase = 0x08000000
	gicCPUBase  = 0x08010000

	gicdCtlr       = gicDistBase + 0x000
	gicdIsenablerN = gicDistBase + 0x100
	gicdIpriorityN = gicDistBase + 0x400
	gicdItargetsN  = gicDistBase + 0x800
	gicdIcfgrN     = gicDistBase + 0xc00

	giccCtlr = gicCPUBase + 0x000
	giccPmr  = gicCPUBase + 0x004
	giccIar  = gicCPUBase + 0x00c
	giccEoir = gicCPUBase + 0x010
)

func mmioWrite32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

func mmioRead32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

// InitGIC brings up the distributor and this CPU's interface: priority
// mask wide open, group-0 signaling enabled, distributor enabled.
func InitGIC() {
	mmioWrite32(gicdCtlr, 1)
	mmioWrite32(giccPmr, 0xff)
	mmioWrite32(giccCtlr, 1)
}

// EnableIRQ unmasks irq at the distributor, sets its priority, and targets
// it at CPU 0 (the only hart a single-core boot brings up).
func EnableIRQ(irq uint, priority uint8) {
	reg := gicdIsenablerN + (irq/32)*4
	mmioWrite32(reg, 1<<(irq%32))

	preg := gicdIpriorityN + (irq/4)*4
	shift := (irq % 4) * 8
	v := mmioRead32(preg)
	v = v&^(0xff<<shift) | uint32(priority)<<shift
	mmioWrite32(preg, v)

	treg := gicdItargetsN + (irq/4)*4
	tv := mmioRead32(treg)
	tv = tv&^(0xff<<shift) | 1<<shift
	mmioWrite32(treg, tv)
}

// AckIRQ reads GICC_IAR to acknowledge the highest-priority pending
// interrupt and returns its ID.
func AckIRQ() uint {
	return uint(mmioRead32(giccIar) & 0x3ff)
}

// EndIRQ writes the acknowledged ID back to GICC_EOIR to signal completion.
func EndIRQ(id uint) {
	mmioWrite32(giccEoir, uint32(id))
}
