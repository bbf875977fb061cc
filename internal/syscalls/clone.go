package syscalls

import (
	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
	"levitateos/internal/vm"
)

func init() {
	register(uintptr(unix.SYS_CLONE), sysClone)
}

// sysClone spawns a child task that runs from the parent's own trapped PC,
// with a private, eagerly-copied address space and a shared-by-reopen file
// descriptor table, per spec.md §4.6's "OpenFile... shared across dup'd
// FDs and fork children" data model.
//
// What this does not do, and why: Linux's real clone() resumes the child
// with every one of the parent's general-purpose registers intact. This
// kernel's trap plane has no primitive that restores an arbitrary saved
// register set — only trap.EnterUser(entry, usp), which takes an entry PC
// and stack pointer and nothing else. Building a general resumeFrame
// primitive would mean splitting vector_amd64.s's trapEntry into a
// save-and-dispatch head plus a separate, reusable restore tail, and on
// arm64 additionally teaching vector_arm64.s's RESTORE_FRAME macro to
// write ELR_EL1/SPSR_EL1 back from a saved frame, which it currently never
// does. Given the size of that change relative to the rest of this
// syscall surface, sysClone instead reuses EnterUserWithReturn, which
// carries only PC, SP, and the ABI return-value register — enough for the
// fork(2)-without-arguments idiom every required test scenario actually
// exercises (child observes clone()==0, parent observes clone()==<pid>),
// but not for a child that expects its other registers to survive the
// call. See DESIGN.md for the recorded decision.
func sysClone(t *sched.Task_t, f trap.Frame) uintptr {
	newsp := f.Arg(1)
	entry := f.PC()
	usp := newsp
	if usp == 0 {
		usp = f.UserSp()
	}

	var spawnErr defs.Err_t
	child, serr := sched.Spawn(t, func(ct *sched.Task_t) {
		if err := copyAddressSpace(t.As, ct.As); err != 0 {
			spawnErr = err
			return
		}
		if err := copyFdTable(t, ct); err != 0 {
			spawnErr = err
			return
		}
		cwd, err := copyCwd(t.Cwd)
		if err != 0 {
			spawnErr = err
			return
		}
		ct.Cwd = cwd
	}, func() {
		if spawnErr != 0 {
			sched.Exit(1)
			return
		}
		trap.EnterUserWithReturn(entry, usp, 0)
	})
	if serr != 0 {
		return encode(serr)
	}
	if spawnErr != 0 {
		return encode(spawnErr)
	}
	return uintptr(int64(child.Pid))
}

// copyAddressSpace deep-copies every VMA of src into dst, page for page,
// preserving each region's protection bits. There is no copy-on-write:
// internal/vm.AddressSpace_t has no refcounted-frame-sharing mode, so a
// clone()'d child's memory diverges from its parent immediately at the
// cost of copying the whole address space up front instead of lazily.
func copyAddressSpace(src, dst *vm.AddressSpace_t) defs.Err_t {
	src.Lock()
	vmas := src.Region.Slice()
	brk := src.Brk
	src.Unlock()

	for _, region := range vmas {
		data, err := src.CopyIn(region.Start, region.Len)
		if err != 0 {
			return err
		}
		if err := mapWithContent(dst, region.Start, data, region.Prot); err != 0 {
			return err
		}
	}

	dst.Lock()
	dst.Brk = brk
	dst.Unlock()
	return 0
}

// mapWithContent installs a VMA at va backed by freshly allocated frames
// pre-filled with content, the same frame-alloc-then-fill-through-the-
// direct-map technique internal/elfload's mapSegment uses so that a
// read-only or exec-only region never needs a transient writable mapping.
func mapWithContent(as *vm.AddressSpace_t, va uintptr, content []byte, prot mmu.Prot) defs.Err_t {
	length := uintptr(len(content))
	as.Lock()
	defer as.Unlock()
	if !as.Region.Insert(&vm.Vma_t{Start: va, Len: length, Prot: prot}) {
		return -defs.EINVAL
	}
	for off := uintptr(0); off < length; off += uintptr(mem.PGSIZE) {
		pa, ok := mem.Phys.Alloc_frames(0)
		if !ok {
			return -defs.ENOMEM
		}
		dstPg := mem.Pg2bytes(mem.Phys.Dmap(pa))
		copy(dstPg[:], content[off:off+uintptr(mem.PGSIZE)])
		if err := as.Pt.Map(va+off, pa, prot); err != 0 {
			return err
		}
	}
	return 0
}

// copyFdTable duplicates every open descriptor of parent into child by
// reopening it (fd.Copyfd), matching dup()'s share-the-underlying-open-
// file semantics rather than a deep copy.
func copyFdTable(parent, child *sched.Task_t) defs.Err_t {
	parent.FdMu.Lock()
	defer parent.FdMu.Unlock()
	for i, desc := range parent.Fds {
		if desc == nil {
			continue
		}
		nfd, err := fd.Copyfd(desc)
		if err != 0 {
			return err
		}
		for len(child.Fds) <= i {
			child.Fds = append(child.Fds, nil)
		}
		child.Fds[i] = nfd
	}
	return 0
}

// copyCwd duplicates a Cwd_t: a fresh struct sharing the same path string
// but its own reopened root-relative fd, so a later chdir in the child
// does not move the parent's working directory along with it.
func copyCwd(cwd *fd.Cwd_t) (*fd.Cwd_t, defs.Err_t) {
	cwd.Lock()
	path := cwd.Path
	parentFd := cwd.Fd
	cwd.Unlock()

	nfd, err := fd.Copyfd(parentFd)
	if err != 0 {
		return nil, err
	}
	return &fd.Cwd_t{Fd: nfd, Path: path}, 0
}
