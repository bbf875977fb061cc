// Package mmu implements the architecture-neutral page-table walker: it
// allocates and tears down intermediate table levels through internal/mem
// and delegates bit-layout decisions (which bits mean present/writable/
// executable, how many levels, how a virtual address splits into indices)
// to a per-architecture file selected by build tag. Grounded on the
// teacher's PTE_P/PTE_W/PTE_U/PTE_ADDR constants in mem/mem.go, generalized
// from the teacher's x86_64-only four-level table to a level-count that
// varies by architecture.
package mmu

import (
	"levitateos/internal/defs"
	"levitateos/internal/mem"
)

// Prot describes the permissions requested for a mapping.
type Prot uint

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	ProtUser
)

// arch is implemented once per GOARCH in amd64.go / arm64.go.
type arch interface {
	levels() int
	index(va uintptr, level int) uint
	entriesPerTable() uint
	valid(pte uint64) bool
	leafAddr(pte uint64) mem.Pa_t
	tableAddr(pte uint64) mem.Pa_t
	makeTableEntry(pa mem.Pa_t) uint64
	makeLeafEntry(pa mem.Pa_t, prot Prot) uint64
	isLeaf(pte uint64, level int) bool
	activate(root mem.Pa_t)
	// invalidate flushes any cached translation for va from the TLB.
	// Unmap calls this after clearing a leaf so a stale mapping can never
	// outlive the frame it pointed to being handed back to the allocator.
	invalidate(va uintptr)
}

var backend arch

// PageTable is one task's (or the kernel's) root page table.
type PageTable struct {
	Root mem.Pa_t
}

// New allocates a zeroed root page table.
func New() (*PageTable, defs.Err_t) {
	pa, ok := mem.Phys.Alloc_frames(0)
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &PageTable{Root: pa}, 0
}

func tableAt(pa mem.Pa_t) *mem.Pg_t {
	return mem.Phys.Dmap(pa)
}

// walk returns a pointer to the leaf PTE slot for va, allocating
// intermediate tables along the way when create is true. It returns
// (nil, false) if the mapping does not exist and create is false.
func (pt *PageTable) walk(va uintptr, create bool) (*uint64, bool) {
	cur := pt.Root
	n := backend.levels()
	for level := 0; level < n-1; level++ {
		tbl := tableAt(cur)
		idx := backend.index(va, level)
		pte := tbl[idx]
		if !backend.valid(pte) {
			if !create {
				return nil, false
			}
			npa, ok := mem.Phys.Alloc_frames(0)
			if !ok {
				return nil, false
			}
			tbl[idx] = backend.makeTableEntry(npa)
			cur = npa
			continue
		}
		cur = backend.tableAddr(pte)
	}
	tbl := tableAt(cur)
	idx := backend.index(va, n-1)
	return &tbl[idx], true
}

// Map installs a leaf mapping from va to pa with the given permissions. It
// panics if va already has a valid mapping: callers (internal/vm) must
// Unmap first, matching the physical allocator's "never double-own a
// frame" invariant.
func (pt *PageTable) Map(va uintptr, pa mem.Pa_t, prot Prot) defs.Err_t {
	slot, ok := pt.walk(va, true)
	if !ok {
		return -defs.ENOMEM
	}
	if backend.valid(*slot) {
		panic("double map")
	}
	*slot = backend.makeLeafEntry(pa, prot)
	return 0
}

// walkPath returns the physical address of the root-to-leaf table chain for
// va: path[0] is the root, path[len(path)-1] is the table holding va's leaf
// PTE. It returns ok=false if any intermediate table along the way is
// missing.
func (pt *PageTable) walkPath(va uintptr) (path []mem.Pa_t, ok bool) {
	n := backend.levels()
	path = make([]mem.Pa_t, n)
	cur := pt.Root
	path[0] = cur
	for level := 0; level < n-1; level++ {
		tbl := tableAt(cur)
		pte := tbl[backend.index(va, level)]
		if !backend.valid(pte) {
			return nil, false
		}
		cur = backend.tableAddr(pte)
		path[level+1] = cur
	}
	return path, true
}

func tableEmpty(tbl *mem.Pg_t) bool {
	for _, e := range tbl {
		if e != 0 {
			return false
		}
	}
	return true
}

// Unmap removes the leaf mapping at va, invalidates the TLB entry it
// cached, and returns the physical address it pointed to. ok is false if
// there was no mapping. Any intermediate table left with no remaining
// valid entries is freed back to internal/mem and unlinked from its
// parent, walking up from the leaf; the root table itself is never freed
// here, since it is owned by the PageTable and released by Destroy.
func (pt *PageTable) Unmap(va uintptr) (mem.Pa_t, bool) {
	path, ok := pt.walkPath(va)
	if !ok {
		return 0, false
	}
	n := backend.levels()
	leaf := tableAt(path[n-1])
	idx := backend.index(va, n-1)
	if !backend.valid(leaf[idx]) {
		return 0, false
	}
	pa := backend.leafAddr(leaf[idx])
	leaf[idx] = 0
	backend.invalidate(va)

	for level := n - 1; level > 0; level-- {
		if !tableEmpty(tableAt(path[level])) {
			break
		}
		parent := tableAt(path[level-1])
		parent[backend.index(va, level-1)] = 0
		mem.Phys.Free_frames(path[level], 0)
	}
	return pa, true
}

// Destroy frees every intermediate table still reachable from the root and
// the root table itself. The caller (internal/sched's Exit) must have
// already unmapped and freed every VMA's backing frames; Destroy only
// walks and frees table structure, never a leaf's data frame.
func (pt *PageTable) Destroy() {
	freeSubtree(pt.Root, 0)
}

func freeSubtree(pa mem.Pa_t, level int) {
	if level < backend.levels()-1 {
		tbl := tableAt(pa)
		for _, pte := range tbl {
			if backend.valid(pte) {
				freeSubtree(backend.tableAddr(pte), level+1)
			}
		}
	}
	mem.Phys.Free_frames(pa, 0)
}

// Activate loads this page table as the active one for the current hart
// and, on architectures that require it, synchronizes the TLB.
// internal/sched calls this on every context switch that changes address
// space.
func (pt *PageTable) Activate() {
	backend.activate(pt.Root)
}

// Translate returns the physical address mapped at va, or ok=false.
func (pt *PageTable) Translate(va uintptr) (mem.Pa_t, bool) {
	slot, ok := pt.walk(va, false)
	if !ok || !backend.valid(*slot) {
		return 0, false
	}
	return backend.leafAddr(*slot), true
}
