// Package accnt implements per-task CPU accounting: user/system nanosecond
// counters. internal/syscalls' dispatcher adds each system call's elapsed
// time to system time, and internal/sched's Snapshot reads both counters
// back out; no getrusage/times handler exists. Grounded on the teacher's
// accnt/accnt.go.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"levitateos/internal/util"
)

// Accnt_t accumulates per-task accounting information. Userns and Sysns are
// nanoseconds; the embedded mutex lets a caller take a consistent snapshot
// of both fields together, as internal/sched's Snapshot does.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current wall-clock time in nanoseconds, read through the
// Go runtime's time.Now.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Io_time removes time spent waiting for I/O, measured from since, out of
// system time: a task blocked on a virtqueue completion is not "running".
func (a *Accnt_t) Io_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

// Sleep_time removes time spent voluntarily sleeping out of system time.
func (a *Accnt_t) Sleep_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

// Finish finalizes accounting for the current syscall or interrupt, adding
// time since inttime to system time.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

// Add merges a child's accounting into this one, used at wait(2) reaping to
// fold a reaped child's usage into the parent per POSIX semantics.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a consistent rusage-encoded snapshot.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

// To_rusage serializes the accounting data as a Linux struct rusage prefix:
// ru_utime and ru_stime, each a struct timeval (8 bytes sec, 8 bytes usec).
func (a *Accnt_t) To_rusage() []uint8 {
	words := 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	return ret
}
