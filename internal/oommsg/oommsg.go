// Package oommsg is the rendezvous point between the physical allocator
// (internal/mem) and anything that can free memory on demand: tmpfs page
// reclaim (internal/fs) and, eventually, swap. Grounded on the teacher's
// oommsg/oommsg.go.
package oommsg

// OomCh is sent an Oommsg_t by internal/mem whenever a physical allocation
// fails; a reclaimer receives on it, frees what it can, and replies on
// Resume so the stalled allocator can retry.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

// Oommsg_t describes an out-of-memory condition.
type Oommsg_t struct {
	// Need is the number of physical pages the stalled allocation wants.
	Need int
	// Resume is sent true once the reclaimer has freed what it can.
	Resume chan bool
}
