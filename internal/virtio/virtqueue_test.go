package virtio

import (
	"testing"
	"unsafe"

	"levitateos/internal/defs"
	"levitateos/internal/mem"
)

func ptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// setupPhys gives internal/mem a host-backed arena so NewQueue's
// allocations and Dmap dereferences are valid off real hardware, mirroring
// internal/vm's test setup.
func setupPhys(t *testing.T, pages int) {
	t.Helper()
	buf := make([]byte, pages*mem.PGSIZE+mem.PGSIZE)
	base := alignUp(ptrOf(buf), uintptr(mem.PGSIZE))
	mem.Phys_init(mem.Pa_t(base), mem.Pa_t(pages*mem.PGSIZE), nil, base)
}

func TestNewQueueFreelistChained(t *testing.T) {
	setupPhys(t, 8)
	q, err := NewQueue()
	if err != 0 {
		t.Fatalf("NewQueue failed: %v", err)
	}
	if q.numFree != QueueSize {
		t.Fatalf("got %d free descriptors, want %d", q.numFree, QueueSize)
	}
	if q.freeHead != 0 {
		t.Fatalf("fresh queue should start allocating at descriptor 0")
	}
}

func TestSubmitConsumesFreeDescriptorsAndPublishesAvail(t *testing.T) {
	setupPhys(t, 8)
	q, _ := NewQueue()

	bufs := []DMABuf{{PA: 0x1000, Len: 64}, {PA: 0x2000, Len: 64, Writable: true}}
	_, err := q.Submit(bufs)
	if err != 0 {
		t.Fatalf("Submit failed: %v", err)
	}
	if q.numFree != QueueSize-2 {
		t.Fatalf("got %d free, want %d", q.numFree, QueueSize-2)
	}
	if q.avail.Idx != 1 {
		t.Fatalf("avail.Idx should advance by one chain, got %d", q.avail.Idx)
	}
	head := q.avail.Ring[0]
	if q.desc[head].Addr != 0x1000 || q.desc[head].Flags&descFNext == 0 {
		t.Fatalf("first descriptor in chain malformed: %+v", q.desc[head])
	}
	next := q.desc[head].Next
	if q.desc[next].Addr != 0x2000 || q.desc[next].Flags&descFWrite == 0 {
		t.Fatalf("second descriptor in chain malformed: %+v", q.desc[next])
	}
	if q.desc[next].Flags&descFNext != 0 {
		t.Fatalf("last descriptor in chain should not carry NEXT")
	}
}

func TestSubmitFailsOnDescriptorExhaustionWithoutRetrying(t *testing.T) {
	setupPhys(t, 8)
	q, _ := NewQueue()

	huge := make([]DMABuf, QueueSize+1)
	_, err := q.Submit(huge)
	if err != -defs.ENOHEAP {
		t.Fatalf("got err %v, want ENOHEAP", err)
	}
	if q.numFree != QueueSize {
		t.Fatalf("a failed submit must not consume descriptors, got %d free", q.numFree)
	}
}

func TestPollUsedResolvesPendingAndFreesChain(t *testing.T) {
	setupPhys(t, 8)
	q, _ := NewQueue()

	ch, err := q.Submit([]DMABuf{{PA: 0x1000, Len: 32}})
	if err != 0 {
		t.Fatalf("Submit failed: %v", err)
	}
	head := q.avail.Ring[0]

	// Simulate the device: write a used entry and advance used.Idx.
	q.used.Ring[0] = usedElem{Id: uint32(head), Len: 32}
	q.used.Idx = 1

	q.PollUsed()

	select {
	case r := <-ch:
		if r.Len != 32 {
			t.Fatalf("got len %d, want 32", r.Len)
		}
	default:
		t.Fatal("completion channel should be ready after PollUsed")
	}
	if q.numFree != QueueSize {
		t.Fatalf("completed chain's descriptor should return to the free list, got %d free", q.numFree)
	}
}

func TestSubmitWaitTimesOutWithoutDeviceCompletion(t *testing.T) {
	setupPhys(t, 8)
	q, _ := NewQueue()

	timedOut := make(chan struct{})
	close(timedOut)
	_, err := q.SubmitWait([]DMABuf{{PA: 0x1000, Len: 8}}, func() <-chan struct{} { return timedOut })
	if err != -defs.ETIMEDOUT {
		t.Fatalf("got err %v, want ETIMEDOUT", err)
	}
}
