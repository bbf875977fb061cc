//go:build arm64

package timer

// The AArch64 generic timer is programmed entirely through system
// registers (CNTV_CTL_EL0, CNTV_TVAL_EL0, CNTFRQ_EL0); there is no MMIO
// device to probe.

func init() {
	tickHook.arm = armTimer
	tickHook.rearm = armTimer
	tickHook.cycles = readCntvct
}

func vectorForArch() int { return TimerPPI }

// armTimer and readCntvct are implemented in timer_arm64.s: the former
// reads CNTFRQ_EL0, sets CNTV_TVAL_EL0 to one tick period, and enables the
// timer via CNTV_CTL_EL0; the latter reads the free-running CNTVCT_EL0
// cycle counter.
func armTimer()
func readCntvct() uint64
