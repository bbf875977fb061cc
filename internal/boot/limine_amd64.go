//go:build amd64

package boot

import "unsafe"

// Limine boot protocol requests: the bootloader scans the kernel ELF's
// .requests section for each request struct's id, matches it against its own
// implementation, and backfills the response pointer before transferring
// control. Field layout and magic values come from the public Limine boot
// protocol specification (no in-pack precedent covers this bootloader; the
// general "tagged info struct populated by something outside the Go image"
// shape is grounded on gopher-os's multiboot.go tagHeader/info idiom, adapted
// from a single scanned info blob to Limine's per-feature request/response
// pairs).
const (
	limineCommonMagic0 = 0xc7b1dd30df4c8b88
	limineCommonMagic1 = 0x0a82e883a194f07b
)

type limineHHDMRequest struct {
	id       [4]uint64
	revision uint64
	response *limineHHDMResponse
}

type limineHHDMResponse struct {
	revision uint64
	// Offset is the virtual address a kernel adds to a physical address to
	// reach that physical address's identity mapping in the higher half.
	Offset uint64
}

type limineMemmapRequest struct {
	id       [4]uint64
	revision uint64
	response *limineMemmapResponse
}

type limineMemmapEntryType uint64

const (
	limineMemmapUsable limineMemmapEntryType = iota
	limineMemmapReserved
	limineMemmapACPIReclaimable
	limineMemmapACPINVS
	limineMemmapBadMemory
	limineMemmapBootloaderReclaimable
	limineMemmapKernelAndModules
	limineMemmapFramebuffer
)

type limineMemmapEntry struct {
	Base   uint64
	Length uint64
	Type   limineMemmapEntryType
}

type limineMemmapResponse struct {
	revision uint64
	count    uint64
	entries  *[512]*limineMemmapEntry
}

type limineModule struct {
	Addr     uint64
	Size     uint64
	PathPtr  uint64
	CmdlinePtr uint64
}

type limineModuleRequest struct {
	id       [4]uint64
	revision uint64
	response *limineModuleResponse
}

type limineModuleResponse struct {
	revision   uint64
	count      uint64
	modules    *[64]*limineModule
}

type limineKernelCmdlineRequest struct {
	id       [4]uint64
	revision uint64
	response *limineKernelCmdlineResponse
}

type limineKernelCmdlineResponse struct {
	revision uint64
	cmdline  uint64 // pointer to a NUL-terminated C string
}

// These four vars are the kernel's .requests entries: the linker places them
// in the section Limine's loader scans, keyed by each id array's contents.
// The response pointers start nil and are filled in by the bootloader before
// _start ever runs.
var (
	hhdmRequest = limineHHDMRequest{
		id:       [4]uint64{limineCommonMagic0, limineCommonMagic1, 0x48dcf1cb8ad2b852, 0x63984e959a98244b},
		revision: 0,
	}
	memmapRequest = limineMemmapRequest{
		id:       [4]uint64{limineCommonMagic0, limineCommonMagic1, 0x67cf3d9d378a806f, 0xe304acdfc50c3c62},
		revision: 0,
	}
	moduleRequest = limineModuleRequest{
		id:       [4]uint64{limineCommonMagic0, limineCommonMagic1, 0x3e7e279702be32af, 0xca1c4f3bd1280cee},
		revision: 0,
	}
	cmdlineRequest = limineKernelCmdlineRequest{
		id:       [4]uint64{limineCommonMagic0, limineCommonMagic1, 0xa9e5264ac71ee2a2, 0xdda1ca50dc38e35b},
		revision: 0,
	}
)

func cStringAt(ptr uint64) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(uintptr(ptr))
	end := 0
	for *(*byte)(unsafe.Add(p, end)) != 0 {
		end++
	}
	return string(unsafe.Slice((*byte)(p), end))
}

// usableMemory finds the largest usable region in the bootloader's memory
// map; this kernel's buddy allocator is seeded from a single contiguous
// range, per spec.md's Design Notes, the same simplification StartAArch64
// makes off the FDT's single memory@ node.
func usableMemory(resp *limineMemmapResponse) (base, size uint64, ok bool) {
	if resp == nil {
		return 0, 0, false
	}
	for i := uint64(0); i < resp.count; i++ {
		e := resp.entries[i]
		if e.Type != limineMemmapUsable {
			continue
		}
		if e.Length > size {
			base, size, ok = e.Base, e.Length, true
		}
	}
	return base, size, ok
}

func reservedRanges(resp *limineMemmapResponse) [][2]uint64 {
	if resp == nil {
		return nil
	}
	var out [][2]uint64
	for i := uint64(0); i < resp.count; i++ {
		e := resp.entries[i]
		if e.Type == limineMemmapUsable {
			continue
		}
		out = append(out, [2]uint64{e.Base, e.Base + e.Length})
	}
	return out
}

func initrdModule(resp *limineModuleResponse) ([]byte, bool) {
	if resp == nil || resp.count == 0 {
		return nil, false
	}
	m := resp.modules[0]
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(m.Addr))), int(m.Size)), true
}
