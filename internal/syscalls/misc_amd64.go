//go:build amd64

package syscalls

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
)

func init() {
	register(uintptr(unix.SYS_ARCH_PRCTL), sysArchPrctl)
}

// sysArchPrctl implements only ARCH_SET_FS/ARCH_GET_FS: the pair glibc's
// thread-local-storage setup actually calls. Every other code (the
// ARCH_SET_GS/ARCH_GET_GS/ARCH_*_CPUID family) returns -EINVAL, since
// LevitateOS has no per-task GS-base use and no CPUID faulting support.
// t.FSBase is recorded here but not yet loaded into the FS_BASE MSR on
// context switch; that wiring belongs to internal/boot's entry assembly.
func sysArchPrctl(t *sched.Task_t, f trap.Frame) uintptr {
	switch int(f.Arg(0)) {
	case unix.ARCH_SET_FS:
		t.FSBase = f.Arg(1)
		return 0
	case unix.ARCH_GET_FS:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(t.FSBase))
		return encode(t.As.CopyOut(f.Arg(1), buf[:]))
	}
	return encode(-defs.EINVAL)
}
