package syscalls

import (
	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
	"levitateos/internal/util"
)

func init() {
	register(uintptr(unix.SYS_MMAP), sysMmap)
	register(uintptr(unix.SYS_MUNMAP), sysMunmap)
	register(uintptr(unix.SYS_BRK), sysBrk)
}

// sysMmap supports only MAP_ANONYMOUS|MAP_PRIVATE, no fd, no offset: the
// required handler set (spec.md §4.7) names mmap with no further
// elaboration, and nothing in the spec's scenarios maps a file. A
// file-backed request is refused with -ENODEV rather than silently
// downgraded to an anonymous mapping, since the two have different observed
// behavior (read-back of file contents vs. zero fill) a caller could
// reasonably depend on. MAP_FIXED's exact target-address placement is not
// implemented either; the bump allocator behind MapAnonNext always picks
// the address.
func sysMmap(t *sched.Task_t, f trap.Frame) uintptr {
	length := f.Arg(1)
	prot := f.Arg(2)
	flags := f.Arg(3)
	fdNum := int32(f.Arg(4))

	if flags&unix.MAP_ANONYMOUS == 0 || fdNum != -1 {
		return encode(-defs.ENODEV)
	}
	length = util.Roundup(length, uintptr(mem.PGSIZE))
	if length == 0 {
		return encode(-defs.EINVAL)
	}

	mprot := mmu.ProtUser
	if prot&unix.PROT_READ != 0 {
		mprot |= mmu.ProtRead
	}
	if prot&unix.PROT_WRITE != 0 {
		mprot |= mmu.ProtWrite
	}
	if prot&unix.PROT_EXEC != 0 {
		mprot |= mmu.ProtExec
	}

	va, err := t.As.MapAnonNext(length, mprot)
	if err != 0 {
		return encode(err)
	}
	return uintptr(va)
}

// sysMunmap only accepts a va that exactly matches the start of a VMA
// mmap/the ELF loader previously installed: vm.Vmregion_t.Remove looks a
// VMA up by its start address, not by any address it contains, so
// unmapping a sub-range of a larger mapping is not supported.
func sysMunmap(t *sched.Task_t, f trap.Frame) uintptr {
	va := f.Arg(0)
	length := util.Roundup(f.Arg(1), uintptr(mem.PGSIZE))
	return encode(t.As.Unmap(va, length))
}

// sysBrk grows or shrinks the heap VMA elfload.Load's initial Image.Brk
// established. req of 0 is the traditional "just tell me the current
// break" query; any other value is rounded up to a page and the VMA
// resized to match, the same granularity brk has always had on a paging
// kernel.
func sysBrk(t *sched.Task_t, f trap.Frame) uintptr {
	req := f.Arg(0)

	t.As.Lock()
	cur := t.As.Brk
	t.As.Unlock()

	if req == 0 || req == cur {
		return uintptr(cur)
	}

	target := util.Roundup(req, uintptr(mem.PGSIZE))
	if target > cur {
		if err := t.As.MapAnon(cur, target-cur, mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser); err != 0 {
			return encode(err)
		}
	} else if target < cur {
		if err := t.As.Unmap(target, cur-target); err != 0 {
			return encode(err)
		}
	}

	t.As.Lock()
	t.As.Brk = target
	t.As.Unlock()
	return uintptr(target)
}
