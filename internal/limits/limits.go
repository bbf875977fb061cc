// Package limits tracks system-wide resource ceilings: counts that every
// allocation path must check before committing, so that a single runaway
// task cannot exhaust a kernel-wide table. Grounded on the teacher's
// limits/limits.go.
package limits

import (
	"sync/atomic"
	"unsafe"
)

// Lhits counts how many times a limit check has failed, for /dev/stat.
var Lhits int

// Sysatomic_t is a numeric limit that can be atomically given and taken.
type Sysatomic_t int64

// Syslimit_t tracks the system's configured resource ceilings.
type Syslimit_t struct {
	// Sysprocs bounds the number of live tasks.
	Sysprocs int
	// Vnodes bounds the number of live VFS inodes.
	Vnodes int
	// Mfspgs bounds tmpfs page allocations beyond each file's first free page.
	Mfspgs Sysatomic_t
	// Fds bounds open file descriptors system-wide.
	Fds Sysatomic_t
	// Blocks bounds VirtIO block-cache pages.
	Blocks int
}

// Syslimit holds the active system limits.
var Syslimit *Syslimit_t = MkSysLimit()

// MkSysLimit returns the default set of system limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Vnodes:   20000,
		Mfspgs:   1e5,
		Fds:      1e5,
		Blocks:   100000,
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by n, reporting whether it succeeded.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	Lhits++
	return false
}

// Take decrements the limit by one.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
