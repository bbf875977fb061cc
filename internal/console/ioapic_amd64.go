//go:build amd64

// A minimal IOAPIC driver: just enough to route one legacy ISA interrupt
// line (COM1's IRQ4) to a chosen vector. No corpus example exists to
// ground this on (internal/timer's local-APIC driver and internal/msi's
// MSI-capability driver both sidestep the legacy PIC/IOAPIC entirely);
// the register layout here is standard IOAPIC hardware per Intel's
// multiprocessor I/O APIC specification, the same class of
// hardware-spec-only grounding internal/trap's GICv2 driver and
// internal/timer's CNTV access already rely on where no pack precedent
// exists.
package console

import "unsafe"

// ioapicBase is QEMU's fixed IOAPIC MMIO address on q35/i440fx.
const ioapicBase = 0xfec00000

const (
	ioregsel = ioapicBase + 0x00
	iowin    = ioapicBase + 0x10
)

func ioapicMMIO32(addr uintptr) *uint32 { return (*uint32)(unsafe.Pointer(addr)) }

func ioapicWrite(reg uint32, val uint32) {
	*ioapicMMIO32(ioregsel) = reg
	*ioapicMMIO32(iowin) = val
}

// redirTableBase is the offset of redirection table entry 0's low dword;
// entry n occupies two consecutive 32-bit registers at 0x10+2n (low) and
// 0x11+2n (high).
const redirTableBase = 0x10

// routeISAIRQ programs redirection table entry gsi to fire vector on CPU 0,
// edge-triggered, active-high, unmasked — the configuration every legacy
// ISA device line (keyboard, COM1/2, PIT) expects from the PIC it
// replaces.
func routeISAIRQ(gsi uint32, vector uint8) {
	lo := redirTableBase + gsi*2
	hi := redirTableBase + gsi*2 + 1
	ioapicWrite(hi, 0) // destination APIC ID 0
	ioapicWrite(lo, uint32(vector))
}
