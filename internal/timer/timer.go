// Package timer drives the periodic tick and exposes monotonic uptime.
// The tick handler counts ticks, rearms the hardware and runs the
// subscribers; it does not preempt the running task. The tick source is the ARM generic timer's
// virtual counter (CNTV) on AArch64 and the local APIC timer on x86_64;
// both report through the same arch-neutral API. Grounded on the
// teacher's accnt/accnt.go Now()-in-nanoseconds idiom and on
// iansmith-mazarin's gic_qemu.go IRQ_ID_TIMER_PPI constant for the AArch64
// timer interrupt's GIC ID.
package timer

import (
	"sync/atomic"

	"levitateos/internal/stats"
	"levitateos/internal/trap"
)

// TimerPPI is the GICv2 PPI ID the virtual timer interrupt arrives on,
// per iansmith-mazarin's gic_qemu.go.
const TimerPPI = 27

// HzDefault is the default tick rate; internal/config may override it.
const HzDefault = 100

var ticks uint64
var hz uint32 = HzDefault

// tickHook is installed per-arch (amd64.go/arm64.go) to program the next
// tick and read the current cycle/tick count from hardware.
var tickHook struct {
	arm, rearm func()
	cycles     func() uint64
}

// Init programs the tick source for the requested frequency and installs
// the IRQ handler. Must run after internal/trap's vector/IDT setup.
func Init(hzReq uint32) {
	hz = hzReq
	stats.Hook = func() uint64 {
		if tickHook.cycles == nil {
			return 0
		}
		return tickHook.cycles()
	}
	trap.RegisterIRQ(vectorForArch(), func() {
		atomic.AddUint64(&ticks, 1)
		if tickHook.rearm != nil {
			tickHook.rearm()
		}
		Broadcast()
	})
	if tickHook.arm != nil {
		tickHook.arm()
	}
}

// Ticks returns the number of timer interrupts serviced since boot.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// UptimeNs returns approximate nanoseconds since boot, derived from the
// tick count and configured frequency. Good to one tick period of
// resolution; internal/sched uses it for sleep-until deadlines, not
// fine-grained profiling (that's stats.Cycles_t's job).
func UptimeNs() int64 {
	period := int64(1e9) / int64(hz)
	return int64(Ticks()) * period
}

// subscribers is the list of callbacks invoked on every tick;
// internal/sched registers its "wake any task whose deadline has passed"
// sweep here.
var subscribers []func()

// Subscribe registers f to run on every timer tick, from IRQ context —
// f must not block.
func Subscribe(f func()) {
	subscribers = append(subscribers, f)
}

// Broadcast invokes every subscriber; called by the IRQ handler installed
// in Init.
func Broadcast() {
	for _, f := range subscribers {
		f()
	}
}
