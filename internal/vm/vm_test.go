package vm

import (
	"testing"
	"unsafe"

	"levitateos/internal/mem"
	"levitateos/internal/mmu"
)

func ptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// setupPhys gives internal/mem a host-backed arena large enough for a
// handful of page tables and a few mapped pages, with the direct map
// pointing at an actual allocated Go buffer so Dmap dereferences are valid
// even off real hardware.
func setupPhys(t *testing.T, pages int) {
	t.Helper()
	buf := make([]byte, pages*mem.PGSIZE+mem.PGSIZE)
	base := alignUp(uintptr(ptrOf(buf)), uintptr(mem.PGSIZE))
	mem.Phys_init(mem.Pa_t(base), mem.Pa_t(pages*mem.PGSIZE), nil, base)
}

func TestVmaInsertLookupRemove(t *testing.T) {
	var r Vmregion_t
	a := &Vma_t{Start: 0x1000, Len: 0x1000}
	b := &Vma_t{Start: 0x3000, Len: 0x1000}
	if !r.Insert(a) || !r.Insert(b) {
		t.Fatal("non-overlapping inserts should succeed")
	}
	overlap := &Vma_t{Start: 0x1800, Len: 0x1000}
	if r.Insert(overlap) {
		t.Fatal("overlapping insert should fail")
	}
	if v, ok := r.Lookup(0x1500); !ok || v != a {
		t.Fatal("lookup inside a should find a")
	}
	if _, ok := r.Lookup(0x2500); ok {
		t.Fatal("lookup in the gap should fail")
	}
	if !r.Remove(0x1000) {
		t.Fatal("remove should succeed")
	}
	if _, ok := r.Lookup(0x1500); ok {
		t.Fatal("removed region should no longer be found")
	}
}

func TestCopyOutRejectsReadOnly(t *testing.T) {
	setupPhys(t, 64)
	as, err := New()
	if err != 0 {
		t.Fatalf("New failed: %v", err)
	}
	if err := as.MapAnon(0x10000, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtUser); err != 0 {
		t.Fatalf("MapAnon failed: %v", err)
	}
	if err := as.CopyOut(0x10000, []byte("hi")); err == 0 {
		t.Fatal("writing to a read-only VMA should fail")
	}
}

func TestCopyOutCopyIn(t *testing.T) {
	setupPhys(t, 64)
	as, err := New()
	if err != 0 {
		t.Fatalf("New failed: %v", err)
	}
	if err := as.MapAnon(0x20000, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); err != 0 {
		t.Fatalf("MapAnon failed: %v", err)
	}
	msg := []byte("hello")
	if err := as.CopyOut(0x20000, msg); err != 0 {
		t.Fatalf("CopyOut failed: %v", err)
	}
	got, err := as.CopyIn(0x20000, uintptr(len(msg)))
	if err != 0 || string(got) != "hello" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestCopyCstring(t *testing.T) {
	setupPhys(t, 64)
	as, _ := New()
	as.MapAnon(0x30000, uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
	payload := append([]byte("/init"), 0)
	as.CopyOut(0x30000, payload)
	got, err := as.CopyCstring(0x30000, 64)
	if err != 0 || got.String() != "/init" {
		t.Fatalf("got %q, err %v", got, err)
	}
}
