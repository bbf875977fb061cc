//go:build arm64

package boot

// readCycleCounter reads CNTVCT_EL0, the virtual counter, used once at
// boot to seed internal/syscalls' getrandom source before any device
// (and so any other entropy input) exists.
func readCycleCounter() uint64
