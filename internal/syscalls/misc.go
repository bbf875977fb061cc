package syscalls

import (
	"encoding/binary"
	"math/rand"
	"time"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/sched"
	"levitateos/internal/timer"
	"levitateos/internal/trap"
)

func init() {
	register(uintptr(unix.SYS_SCHED_YIELD), sysYield)
	register(uintptr(unix.SYS_CLOCK_GETTIME), sysClockGettime)
	register(uintptr(unix.SYS_GETTIMEOFDAY), sysGettimeofday)
	register(uintptr(unix.SYS_NANOSLEEP), sysNanosleep)
	register(uintptr(unix.SYS_GETRANDOM), sysGetrandom)
	register(uintptr(unix.SYS_GETRLIMIT), sysGetrlimit)
}

func sysYield(t *sched.Task_t, f trap.Frame) uintptr {
	sched.YieldNow()
	return 0
}

// timespec is the 16-byte {seconds int64; nanoseconds int64} layout shared
// by clock_gettime, nanosleep's request/remaining, and (embedded twice) the
// struct stat access/modify/change times a fuller Stat_t would carry.
type timespec struct {
	Sec  int64
	Nsec int64
}

func writeTimespec(t *sched.Task_t, va uintptr, d time.Duration) defs.Err_t {
	ts := timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(ts.Sec))
	binary.LittleEndian.PutUint64(buf[8:], uint64(ts.Nsec))
	return t.As.CopyOut(va, buf[:])
}

// sysClockGettime ignores which clock id was requested: LevitateOS has one
// time source (the Go runtime's time.Now(), the same clock internal/accnt
// reads, not internal/timer's tick count) and does not distinguish
// monotonic from realtime.
func sysClockGettime(t *sched.Task_t, f trap.Frame) uintptr {
	return encode(writeTimespec(t, f.Arg(1), time.Duration(time.Now().UnixNano())))
}

// timeval is the 16-byte {seconds int64; microseconds int64} layout
// gettimeofday's struct timeval uses.
func sysGettimeofday(t *sched.Task_t, f trap.Frame) uintptr {
	if tvVa := f.Arg(0); tvVa != 0 {
		now := time.Now()
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:], uint64(now.Unix()))
		binary.LittleEndian.PutUint64(buf[8:], uint64(now.Nanosecond()/1000))
		if err := t.As.CopyOut(tvVa, buf[:]); err != 0 {
			return encode(err)
		}
	}
	// timezone (arg 1) is always obsolete on Linux; LevitateOS never
	// populates it, matching glibc's own "reserved, must be NULL" advice.
	return 0
}

// sysNanosleep parks the calling task on the scheduler's sleep queue until
// internal/timer's tick sweep observes the deadline has passed, rather than
// blocking the underlying goroutine outright — a raw time.Sleep here would
// hold the single hart's "current task" slot for the whole duration and
// starve every other Ready task. There is no signal-delivery path yet that
// could wake it early, so the -EINTR-plus-remaining-time contract spec.md
// §5 describes for an early wake never triggers today; a full sleep always
// returns 0.
func sysNanosleep(t *sched.Task_t, f trap.Frame) uintptr {
	buf, err := t.As.CopyIn(f.Arg(0), 16)
	if err != 0 {
		return encode(err)
	}
	sec := int64(binary.LittleEndian.Uint64(buf[0:]))
	nsec := int64(binary.LittleEndian.Uint64(buf[8:]))
	d := time.Duration(sec)*time.Second + time.Duration(nsec)
	sched.SleepUntil(timer.UptimeNs() + d.Nanoseconds())
	return 0
}

// getrandomSource is seeded at boot from the architected cycle counter
// (internal/boot calls SeedRandom once the HAL has one); it is explicitly
// not a cryptographically secure generator, matching a teaching kernel's
// scope rather than a real getrandom(2) guarantee.
var getrandomSource = rand.New(rand.NewSource(1))

// SeedRandom reseeds getrandomSource. internal/boot calls this once with
// the platform's free-running cycle counter (CNTVCT_EL0 / RDTSC) before
// userspace ever runs; the package-level default seed above only matters
// for tests and for a kernel build that never calls SeedRandom.
func SeedRandom(seed int64) {
	getrandomSource = rand.New(rand.NewSource(seed))
}

func sysGetrandom(t *sched.Task_t, f trap.Frame) uintptr {
	count := int(f.Arg(1))
	if count <= 0 {
		return 0
	}
	buf := make([]byte, count)
	getrandomSource.Read(buf)
	if err := t.As.CopyOut(f.Arg(0), buf); err != 0 {
		return encode(err)
	}
	return uintptr(int64(count))
}

// rlimit is the 16-byte {cur uint64; max uint64} layout struct rlimit uses.
// LevitateOS reports a single fixed ceiling per resource rather than
// tracking per-task overrides, since no handler in the required set
// (setrlimit is absent from spec.md §4.7's list) ever changes one.
type rlimit struct {
	Cur uint64
	Max uint64
}

func sysGetrlimit(t *sched.Task_t, f trap.Frame) uintptr {
	var lim rlimit
	switch int(f.Arg(0)) {
	case unix.RLIMIT_NOFILE:
		lim = rlimit{Cur: 1024, Max: 1024}
	case unix.RLIMIT_STACK:
		lim = rlimit{Cur: 8 << 20, Max: 8 << 20}
	default:
		lim = rlimit{Cur: uint64(unix.RLIM_INFINITY), Max: uint64(unix.RLIM_INFINITY)}
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], lim.Cur)
	binary.LittleEndian.PutUint64(buf[8:], lim.Max)
	return encode(t.As.CopyOut(f.Arg(1), buf[:]))
}
