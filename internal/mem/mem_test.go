package mem

import (
	"testing"

	"levitateos/internal/oommsg"
)

// freshPhys builds an allocator over a fictitious page-0-based region; Dmap
// is never called in these tests, so dmapbase 0 is fine on a host build.
func freshPhys(npages int) *Physmem_t {
	return Phys_init(0, Pa_t(npages*PGSIZE), nil, 0)
}

func TestAllocFreeOrder0(t *testing.T) {
	p := freshPhys(16)
	a, ok := p.Alloc_frames(0)
	if !ok {
		t.Fatal("alloc should succeed")
	}
	p.Refdown(a)
	p.Free_frames(a, 0)
}

func TestAllocDistinctFrames(t *testing.T) {
	p := freshPhys(16)
	a, _ := p.Alloc_frames(0)
	b, _ := p.Alloc_frames(0)
	if a == b {
		t.Fatal("two allocations should not alias")
	}
}

func TestExhaustion(t *testing.T) {
	p := freshPhys(4)
	var got []Pa_t
	for i := 0; i < 4; i++ {
		a, ok := p.Alloc_frames(0)
		if !ok {
			t.Fatalf("alloc %d should succeed", i)
		}
		got = append(got, a)
	}
	// fifth allocation has nowhere to come from and no reclaimer is
	// listening on oommsg.OomCh, so it must not succeed synchronously;
	// exercise this in a goroutine with a reclaimer that frees one frame.
	done := make(chan bool)
	go func() {
		_, ok := p.Alloc_frames(0)
		done <- ok
	}()
	msg := <-oommsg.OomCh
	p.Refdown(got[0])
	p.Free_frames(got[0], 0)
	msg.Resume <- true
	if !<-done {
		t.Fatal("alloc after reclaim should succeed")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := freshPhys(4)
	a, _ := p.Alloc_frames(0)
	p.Refdown(a)
	p.Free_frames(a, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("double free should panic")
		}
	}()
	p.Free_frames(a, 0)
}

func TestFreeOfReferencedFramePanics(t *testing.T) {
	p := freshPhys(4)
	a, _ := p.Alloc_frames(0)
	defer func() {
		if recover() == nil {
			t.Fatal("freeing a still-referenced frame should panic")
		}
	}()
	p.Free_frames(a, 0)
}

func TestCoalesce(t *testing.T) {
	p := freshPhys(4)
	a, _ := p.Alloc_frames(2) // whole region as one order-2 block
	for k := 0; k < 4; k++ {
		p.Refdown(a + Pa_t(k*PGSIZE))
	}
	p.Free_frames(a, 2)
	// the full region should be available again as a single order-2 block
	b, ok := p.Alloc_frames(2)
	if !ok || b != a {
		t.Fatalf("coalesced block should be reusable at the same base, got %v ok=%v", b, ok)
	}
}
