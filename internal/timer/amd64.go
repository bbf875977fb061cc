//go:build amd64

// Local APIC timer: MMIO-mapped at the APIC base reported by MSR
// IA32_APIC_BASE (0x1b), accessed at its physical address 0xfee00000 (just
// below 4 GiB), where QEMU's q35/virt x86_64 target models place it.
package timer

import "unsafe"

const apicBase = 0xfee00000

const (
	lapicTPR      = apicBase + 0x080
	lapicSVR      = apicBase + 0x0f0
	lapicEOI      = apicBase + 0x0b0
	lapicTimerLVT = apicBase + 0x320
	lapicTimerICR = apicBase + 0x380
	lapicTimerCCR = apicBase + 0x390
	lapicTimerDCR = apicBase + 0x3e0
)

func mmioWrite32(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }
func mmioRead32(addr uintptr) uint32     { return *(*uint32)(unsafe.Pointer(addr)) }

func init() {
	tickHook.arm = apicTimerArm
	tickHook.rearm = apicTimerArm
	tickHook.cycles = readTSC
}

func vectorForArch() int { return vecTimerLVT }

const vecTimerLVT = 32

// apicTimerArm programs the local APIC timer for one-shot mode at the
// configured tick period, using the TSC-deadline-free divide-by-16 count
// register path. calibratedTicks is a fixed assumed count of APIC timer
// ticks per second at divide-by-16; nothing measures the APIC bus
// frequency against the TSC or PIT, so the real tick rate depends on the
// machine.
var calibratedTicks uint32 = 1_000_000

func apicTimerArm() {
	mmioWrite32(lapicTimerDCR, 0x3) // divide by 16
	mmioWrite32(lapicTimerLVT, vecTimerLVT)
	mmioWrite32(lapicTimerICR, calibratedTicks/hz)
}

func readTSC() uint64 {
	return rdtscAsm()
}

// rdtscAsm is implemented in timer_amd64.s.
func rdtscAsm() uint64
