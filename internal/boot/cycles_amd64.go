//go:build amd64

package boot

// readCycleCounter reads the timestamp counter (RDTSC), used once at boot
// to seed internal/syscalls' getrandom source: whatever cycle count the
// CPU has reached by the time this runs is as good an entropy source as
// this kernel has before any device is up.
func readCycleCounter() uint64
