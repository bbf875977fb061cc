// Package vm implements per-task address spaces: the VMA list, the
// eagerly-backed (not demand-paged) mapping of those VMAs into a page
// table, and the user/kernel copy helpers the syscall layer uses to read
// and write task memory safely. Grounded on the teacher's vm/as.go
// (Vm_t, the Lock_pmap/Unlock_pmap discipline, Userdmap8_inner) and
// vm/userbuf.go (Userbuf_t's restartable copy loop), adapted onto
// internal/mmu's page table instead of the teacher's inline x86 PTE code.
package vm

import (
	"sort"
	"sync"

	"levitateos/internal/defs"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/ustr"
)

// Vma_t is one mapped region of a task's address space.
type Vma_t struct {
	Start uintptr
	Len   uintptr
	Prot  mmu.Prot
}

func (v *Vma_t) end() uintptr { return v.Start + v.Len }

func (v *Vma_t) contains(va uintptr) bool {
	return va >= v.Start && va < v.end()
}

// Vmregion_t is a task's VMA list, kept sorted by start address so overlap
// checks and lookups are a binary search instead of a linear scan.
type Vmregion_t struct {
	regions []*Vma_t
}

// Lookup returns the VMA containing va, if any.
func (r *Vmregion_t) Lookup(va uintptr) (*Vma_t, bool) {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].end() > va
	})
	if i < len(r.regions) && r.regions[i].contains(va) {
		return r.regions[i], true
	}
	return nil, false
}

// Insert adds a new VMA, failing if it overlaps an existing one.
func (r *Vmregion_t) Insert(v *Vma_t) bool {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].Start >= v.Start
	})
	if i > 0 && r.regions[i-1].end() > v.Start {
		return false
	}
	if i < len(r.regions) && v.end() > r.regions[i].Start {
		return false
	}
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = v
	return true
}

// Slice returns a snapshot copy of the VMA list, safe to range over while
// the caller mutates the region (e.g. tearing it down one VMA at a time via
// Unmap).
func (r *Vmregion_t) Slice() []*Vma_t {
	out := make([]*Vma_t, len(r.regions))
	copy(out, r.regions)
	return out
}

// Remove deletes the VMA starting at va, if present.
func (r *Vmregion_t) Remove(va uintptr) bool {
	for i, v := range r.regions {
		if v.Start == va {
			r.regions = append(r.regions[:i], r.regions[i+1:]...)
			return true
		}
	}
	return false
}

// AddressSpace_t is a task's (or the kernel's) page table plus the VMAs
// backing it. The mutex serializes mapping changes and page-fault
// resolution the way the teacher's embedded sync.Mutex on Vm_t does.
type AddressSpace_t struct {
	sync.Mutex
	Pt        *mmu.PageTable
	Region    Vmregion_t
	Brk       uintptr
	pgfltaken bool
	mmapNext  uintptr
}

// mmapAreaBase is the first address internal/syscalls' anonymous mmap
// handler hands out, chosen well above any ET_EXEC/ET_DYN load address
// (internal/elfload never places a segment above a few hundred KiB) and
// the brk-grown heap that follows it, so an ordinary small PID-1 binary can
// never cause the two regions to collide.
const mmapAreaBase uintptr = 0x0000_7000_0000_0000

// MapAnonNext bump-allocates the next length bytes of the task's anonymous
// mmap area and maps them, returning the chosen address. There is no reuse
// of freed ranges: a teaching kernel's mmap/munmap pairing is expected to
// be coarse (one big mapping per task, freed once at exit), not the dense
// allocator workload a real malloc(3) would put behind mmap.
func (as *AddressSpace_t) MapAnonNext(length uintptr, prot mmu.Prot) (uintptr, defs.Err_t) {
	as.Lock()
	if as.mmapNext == 0 {
		as.mmapNext = mmapAreaBase
	}
	va := as.mmapNext
	as.mmapNext = va + length
	as.Unlock()

	if err := as.MapAnon(va, length, prot); err != 0 {
		return 0, err
	}
	return va, 0
}

// New allocates a fresh, empty address space.
func New() (*AddressSpace_t, defs.Err_t) {
	pt, err := mmu.New()
	if err != 0 {
		return nil, err
	}
	return &AddressSpace_t{Pt: pt}, 0
}

// Lock_pmap acquires the address space lock for page-table manipulation.
func (as *AddressSpace_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the lock taken by Lock_pmap.
func (as *AddressSpace_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *AddressSpace_t) lockassert() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// MapAnon creates an anonymous, zero-filled mapping of len bytes at va
// (both must be page-aligned) with the given protection, eagerly backing
// every page from internal/mem. Demand paging is out of scope: spec.md's
// kernel core never runs a workload large enough to make eager backing a
// problem, and it removes an entire class of page-fault-time allocation
// failure from the syscall-return path.
func (as *AddressSpace_t) MapAnon(va, length uintptr, prot mmu.Prot) defs.Err_t {
	if va%uintptr(mem.PGSIZE) != 0 || length%uintptr(mem.PGSIZE) != 0 {
		return -defs.EINVAL
	}
	as.Lock()
	defer as.Unlock()
	if !as.Region.Insert(&Vma_t{Start: va, Len: length, Prot: prot}) {
		return -defs.EINVAL
	}
	for off := uintptr(0); off < length; off += uintptr(mem.PGSIZE) {
		pa, ok := mem.Phys.Alloc_frames(0)
		if !ok {
			return -defs.ENOMEM
		}
		if err := as.Pt.Map(va+off, pa, prot); err != 0 {
			return err
		}
	}
	return 0
}

// MapPhys maps a specific, already-owned physical range (initramfs pages,
// ELF segments already materialized in memory) at va without allocating
// new frames.
func (as *AddressSpace_t) MapPhys(va uintptr, pa mem.Pa_t, length uintptr, prot mmu.Prot) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if !as.Region.Insert(&Vma_t{Start: va, Len: length, Prot: prot}) {
		return -defs.EINVAL
	}
	for off := uintptr(0); off < length; off += uintptr(mem.PGSIZE) {
		if err := as.Pt.Map(va+off, pa+mem.Pa_t(off), prot); err != 0 {
			return err
		}
	}
	return 0
}

// Unmap tears down the VMA at va, freeing every backing frame whose
// refcount drops to zero.
func (as *AddressSpace_t) Unmap(va, length uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if !as.Region.Remove(va) {
		return -defs.EINVAL
	}
	for off := uintptr(0); off < length; off += uintptr(mem.PGSIZE) {
		pa, ok := as.Pt.Unmap(va + off)
		if !ok {
			continue
		}
		if mem.Phys.Refdown(pa) {
			mem.Phys.Free_frames(pa, 0)
		}
	}
	return 0
}

// Translate resolves va to a physical address, or ok=false if unmapped.
func (as *AddressSpace_t) Translate(va uintptr) (mem.Pa_t, bool) {
	return as.Pt.Translate(va)
}

// kptrFor validates that [va, va+length) lies entirely within one VMA with
// at least the requested permissions and returns a kernel-visible slice
// backed by the direct map.
func (as *AddressSpace_t) kptrFor(va, length uintptr, writable bool) ([]byte, defs.Err_t) {
	as.lockassert()
	vma, ok := as.Region.Lookup(va)
	if !ok || va+length > vma.end() {
		return nil, -defs.EFAULT
	}
	if writable && vma.Prot&mmu.ProtWrite == 0 {
		return nil, -defs.EFAULT
	}
	out := make([]byte, 0, length)
	for off := uintptr(0); off < length; {
		pageva := va + off
		pa, ok := as.Pt.Translate(pageva)
		if !ok {
			return nil, -defs.EFAULT
		}
		pg := mem.Phys.Dmap(pa)
		bytes := mem.Pg2bytes(pg)
		inpage := pageva % uintptr(mem.PGSIZE)
		n := uintptr(mem.PGSIZE) - inpage
		if n > length-off {
			n = length - off
		}
		out = append(out, bytes[inpage:inpage+n]...)
		off += n
	}
	return out, 0
}

// CopyIn copies length bytes of user memory at va into a fresh kernel
// buffer.
func (as *AddressSpace_t) CopyIn(va uintptr, length uintptr) ([]byte, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.kptrFor(va, length, false)
}

// CopyOut copies src into user memory starting at va, validating
// page-by-page that the destination is mapped and writable and writing
// directly into the backing frame through the direct map.
func (as *AddressSpace_t) CopyOut(va uintptr, src []byte) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	length := uintptr(len(src))
	vma, ok := as.Region.Lookup(va)
	if !ok || va+length > vma.end() {
		return -defs.EFAULT
	}
	if vma.Prot&mmu.ProtWrite == 0 {
		return -defs.EFAULT
	}

	off := uintptr(0)
	for off < length {
		pageva := va + off
		pa, ok := as.Pt.Translate(pageva)
		if !ok {
			return -defs.EFAULT
		}
		bytes := mem.Pg2bytes(mem.Phys.Dmap(pa))
		inpage := pageva % uintptr(mem.PGSIZE)
		n := uintptr(mem.PGSIZE) - inpage
		if n > length-off {
			n = length - off
		}
		copy(bytes[inpage:inpage+n], src[off:off+n])
		off += n
	}
	return 0
}

// CopyCstring reads a NUL-terminated string from user memory, failing
// ENAMETOOLONG if no NUL appears within max bytes.
func (as *AddressSpace_t) CopyCstring(va uintptr, max int) (ustr.Ustr, defs.Err_t) {
	const chunk = 128
	var buf []byte
	for total := 0; total < max; total += chunk {
		n := chunk
		if total+n > max {
			n = max - total
		}
		b, err := as.CopyIn(va+uintptr(total), uintptr(n))
		if err != 0 {
			return nil, err
		}
		for i, c := range b {
			if c == 0 {
				return ustr.Ustr(append(buf, b[:i]...)), 0
			}
		}
		buf = append(buf, b...)
	}
	return nil, -defs.ENAMETOOLONG
}
