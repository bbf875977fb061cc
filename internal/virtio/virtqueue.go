// Package virtio implements the VirtIO split-virtqueue transport shared by
// every device this kernel drives (block, net, input, GPU): descriptor
// table, avail ring, used ring, all allocated from internal/mem's DMA path
// and addressed physically, never virtually, per spec.md §4.5. Grounded on
// usbarmory-tamago's qemu/virtio.go for the VirtualQueueDesc/avail/used
// field layout and on tinyrange-cc's internal/devices/virtio/fs.go for the
// device-model/feature-negotiation shape; the completion-based (not
// blocking) submit/poll split is this package's own addition, since
// neither example implements it — both poll synchronously inline.
package virtio

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"levitateos/internal/defs"
	"levitateos/internal/mem"
	"levitateos/internal/util"
)

// QueueSize is the number of descriptors this kernel negotiates per
// virtqueue; VirtIO requires it be a power of two.
const QueueSize = 256

const (
	descFNext     uint16 = 1
	descFWrite    uint16 = 2
	descFIndirect uint16 = 4
)

// Desc is one virtqueue descriptor-table entry. Field layout and sizes per
// the VirtIO 1.1 specification; mirrors tamago's VirtualQueueDesc.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// availRing is the driver-to-device ring.
type availRing struct {
	Flags     uint16
	Idx       uint16
	Ring      [QueueSize]uint16
	UsedEvent uint16
}

// usedElem is one entry the device writes back.
type usedElem struct {
	Id  uint32
	Len uint32
}

// usedRing is the device-to-driver ring.
type usedRing struct {
	Flags      uint16
	Idx        uint16
	Ring       [QueueSize]usedElem
	AvailEvent uint16
}

// Queue is one split virtqueue: descriptor table, avail ring, and used
// ring, each a separately DMA-allocated, physically addressed region (the
// VirtIO spec permits but does not require they be contiguous; keeping
// them separate keeps each one's alignment trivial).
type Queue struct {
	sync.Mutex

	descPA, availPA, usedPA mem.Pa_t
	desc                    *[QueueSize]Desc
	avail                   *availRing
	used                    *usedRing

	freeHead  uint16
	numFree   uint16
	lastUsed  uint16

	pending map[uint16]chan Result
}

// Result is what a completed descriptor chain resolves to.
type Result struct {
	Len uint32
	Err defs.Err_t
}

// NewQueue allocates and initializes a virtqueue of QueueSize descriptors.
func NewQueue() (*Queue, defs.Err_t) {
	descOrder := orderFor(int(QueueSize) * 16)
	availOrder := orderFor(4 + 2*QueueSize + 2)
	usedOrder := orderFor(4 + 8*QueueSize + 2)

	descPA, ok := mem.Phys.Alloc_frames(descOrder)
	if !ok {
		return nil, -defs.ENOMEM
	}
	availPA, ok := mem.Phys.Alloc_frames(availOrder)
	if !ok {
		return nil, -defs.ENOMEM
	}
	usedPA, ok := mem.Phys.Alloc_frames(usedOrder)
	if !ok {
		return nil, -defs.ENOMEM
	}

	q := &Queue{
		descPA:  descPA,
		availPA: availPA,
		usedPA:  usedPA,
		desc:    (*[QueueSize]Desc)(ptrFor(descPA)),
		avail:   (*availRing)(ptrFor(availPA)),
		used:    (*usedRing)(ptrFor(usedPA)),
		numFree: QueueSize,
		pending: make(map[uint16]chan Result),
	}
	for i := uint16(0); i < QueueSize-1; i++ {
		q.desc[i].Next = i + 1
		q.desc[i].Flags = descFNext
	}
	return q, 0
}

// newLegacyQueue builds a Queue in the legacy virtio-pci layout: one
// contiguous physical region holding the descriptor table, then the avail
// ring, then the used ring page-aligned, addressed as a single page-frame
// number (the Queue Address register the legacy transport exposes).
// Requires size == QueueSize since this package's Queue type fixes its
// ring arrays at QueueSize; a device reporting a different queue size is
// rejected by the caller before reaching here.
func newLegacyQueue(size uint16) (*Queue, defs.Err_t) {
	if size != QueueSize {
		return nil, -defs.ENODEV
	}
	descBytes := int(QueueSize) * 16
	availBytes := 4 + 2*int(QueueSize) + 2
	availStart := descBytes
	usedStart := util.Roundup(availStart+availBytes, mem.PGSIZE)
	usedBytes := 4 + 8*int(QueueSize) + 2
	total := usedStart + usedBytes

	order := orderFor(total)
	basePA, ok := mem.Phys.Alloc_frames(order)
	if !ok {
		return nil, -defs.ENOMEM
	}
	baseVA := uintptr(ptrFor(basePA))

	q := &Queue{
		descPA:  basePA,
		availPA: basePA + mem.Pa_t(availStart),
		usedPA:  basePA + mem.Pa_t(usedStart),
		desc:    (*[QueueSize]Desc)(unsafe.Pointer(baseVA)),
		avail:   (*availRing)(unsafe.Pointer(baseVA + uintptr(availStart))),
		used:    (*usedRing)(unsafe.Pointer(baseVA + uintptr(usedStart))),
		numFree: QueueSize,
		pending: make(map[uint16]chan Result),
	}
	for i := uint16(0); i < QueueSize-1; i++ {
		q.desc[i].Next = i + 1
		q.desc[i].Flags = descFNext
	}
	return q, 0
}

func orderFor(bytes int) int {
	order := 0
	for (1 << uint(order) * mem.PGSIZE) < bytes {
		order++
	}
	return order
}

func ptrFor(pa mem.Pa_t) unsafe.Pointer {
	return unsafe.Pointer(mem.Phys.Dmap(pa))
}

// DescTablePA, AvailPA, UsedPA expose the physical addresses a device's
// transport binding (MMIO queue_desc/queue_avail/queue_used registers, or
// the PCI common-config queue address fields) writes into the device at
// queue-enable time.
func (q *Queue) DescTablePA() mem.Pa_t  { return q.descPA }
func (q *Queue) AvailPA() mem.Pa_t      { return q.availPA }
func (q *Queue) UsedPA() mem.Pa_t       { return q.usedPA }

// Submit builds a descriptor chain from bufs (physical addresses and
// lengths, writable marking device-writable buffers) and returns a Result
// channel the caller can poll or block on. It fails ENOHEAP, not
// ENOMEM — matching the teacher's convention that bookkeeping exhaustion
// (here, free descriptors) is distinguished from page exhaustion — if the
// free-descriptor list cannot satisfy the chain; per spec.md §4.5 this is
// reported, never silently retried.
func (q *Queue) Submit(bufs []DMABuf) (<-chan Result, defs.Err_t) {
	q.Lock()
	defer q.Unlock()

	if uint16(len(bufs)) > q.numFree {
		return nil, -defs.ENOHEAP
	}

	head := q.freeHead
	cur := head
	for i, b := range bufs {
		d := &q.desc[cur]
		d.Addr = uint64(b.PA)
		d.Len = uint32(b.Len)
		d.Flags = 0
		if b.Writable {
			d.Flags |= descFWrite
		}
		last := i == len(bufs)-1
		if !last {
			d.Flags |= descFNext
			cur = d.Next
		}
	}
	q.freeHead = q.desc[cur].Next
	q.numFree -= uint16(len(bufs))

	ch := make(chan Result, 1)
	q.pending[head] = ch

	// Publish the chain before the index bump (release semantics per
	// spec.md §4.5): the avail ring slot must be visible before idx says
	// to look at it.
	slot := q.avail.Idx % QueueSize
	q.avail.Ring[slot] = head
	atomic.StoreUint16(&q.avail.Idx, q.avail.Idx+1)

	return ch, 0
}

// DMABuf is one buffer in a descriptor chain, already translated to a
// physical address by the caller via internal/mmu before Submit is
// called: the transport never dereferences a virtual address.
type DMABuf struct {
	PA       mem.Pa_t
	Len      uint32
	Writable bool
}

// PollUsed reads the used ring with acquire semantics and resolves any
// newly completed chains' Result channels. Called from the device's IRQ
// handler (edge-triggered completion) and may also be polled directly by
// a caller that wants synchronous semantics.
func (q *Queue) PollUsed() {
	q.Lock()
	defer q.Unlock()

	usedIdx := atomic.LoadUint16(&q.used.Idx)
	for q.lastUsed != usedIdx {
		elem := q.used.Ring[q.lastUsed%QueueSize]
		head := uint16(elem.Id)
		if ch, ok := q.pending[head]; ok {
			ch <- Result{Len: elem.Len, Err: 0}
			close(ch)
			delete(q.pending, head)
		}
		q.freeChain(head)
		q.lastUsed++
	}
}

func (q *Queue) freeChain(head uint16) {
	n := uint16(1)
	cur := head
	for q.desc[cur].Flags&descFNext != 0 {
		cur = q.desc[cur].Next
		n++
	}
	q.desc[cur].Next = q.freeHead
	q.freeHead = head
	q.numFree += n
}

// SubmitWait is the blocking wrapper spec.md §4.5 calls for: it submits
// and waits for completion or timeout. No kernel path calls it; only the
// package's tests do.
func (q *Queue) SubmitWait(bufs []DMABuf, timeoutTicks func() <-chan struct{}) (Result, defs.Err_t) {
	ch, err := q.Submit(bufs)
	if err != 0 {
		return Result{}, err
	}
	if timeoutTicks == nil {
		return <-ch, 0
	}
	select {
	case r := <-ch:
		return r, 0
	case <-timeoutTicks():
		return Result{}, -defs.ETIMEDOUT
	}
}
