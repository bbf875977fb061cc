// Package msi allocates message-signaled interrupt vectors for PCI devices,
// chiefly the VirtIO-PCI transport (internal/virtio). Grounded on the
// teacher's msi/msi.go, repurposed from its original NIC-only use to any
// MSI-X capable PCI function the VirtIO transport binds to.
package msi

import "sync"

// Msivec_t identifies an MSI interrupt vector.
type Msivec_t uint

// msivecs_t tracks which vectors in the reserved MSI range are free.
type msivecs_t struct {
	sync.Mutex
	avail map[Msivec_t]bool
}

// The reserved MSI vector range; vectors below this are used by the
// architected timer and legacy PIC/GIC SPI lines (internal/trap).
var msivecs = msivecs_t{
	avail: map[Msivec_t]bool{
		56: true, 57: true, 58: true, 59: true,
		60: true, 61: true, 62: true, 63: true,
	},
}

// Msi_alloc allocates and returns an available MSI vector. It panics if the
// reserved range is exhausted, since that indicates a misconfigured device
// count baked in at build time rather than a runtime condition to recover
// from.
func Msi_alloc() Msivec_t {
	msivecs.Lock()
	defer msivecs.Unlock()

	for i := range msivecs.avail {
		delete(msivecs.avail, i)
		return i
	}
	panic("no more MSI vecs")
}

// Msi_free releases a previously allocated MSI vector back to the pool.
func Msi_free(vector Msivec_t) {
	msivecs.Lock()
	defer msivecs.Unlock()

	if msivecs.avail[vector] {
		panic("double free")
	}
	msivecs.avail[vector] = true
}
