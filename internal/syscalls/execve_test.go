package syscalls

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/fs"
	"levitateos/internal/mem"
	"levitateos/internal/mmu"
	"levitateos/internal/sched"
	"levitateos/internal/ustr"
)

// hostMachine mirrors internal/elfload's per-arch wantMachine constant
// (unexported there), picked at runtime off GOARCH so this test builds an
// image loadable by whichever architecture the test binary targets.
func hostMachine() elf.Machine {
	if runtime.GOARCH == "arm64" {
		return elf.EM_AARCH64
	}
	return elf.EM_X86_64
}

// buildTinyELF hand-assembles a minimal ET_EXEC image with one PT_LOAD
// segment, the same manual Header64/Prog64 layout internal/userinit's own
// test helper uses, duplicated here since it is unexported in that package.
func buildTinyELF(t *testing.T, entry uint64) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56
	const vaddr = 0x20000
	text := []byte{0x00, 0x00, 0x00, 0x00}

	phoff := uint64(ehsize)
	dataOff := phoff + phentsize

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(hostMachine()),
		Version:   1,
		Entry:     entry,
		Phoff:     phoff,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
	}
	hdr.Ident[0] = 0x7f
	hdr.Ident[1] = 'E'
	hdr.Ident[2] = 'L'
	hdr.Ident[3] = 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = 1
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	ph := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    dataOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(text)),
		Memsz:  uint64(len(text)),
		Align:  0x1000,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &ph); err != nil {
		t.Fatalf("write phdr: %v", err)
	}
	buf.Write(text)
	return buf.Bytes()
}

type execCpioEnt struct {
	name string
	mode uint32
	data []byte
}

// buildExecCpio assembles a "newc" CPIO archive, duplicated from
// internal/fs's and internal/userinit's own unexported test helpers of the
// same shape.
func buildExecCpio(ents []execCpioEnt) []byte {
	const hdrLen = 110
	var out []byte
	pad4 := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	put := func(e execCpioEnt) {
		name := e.name + "\x00"
		hdr := make([]byte, hdrLen)
		copy(hdr[0:6], "070701")
		hexField := func(off int, v uint64) {
			s := []byte("00000000")
			for i := 7; i >= 0; i-- {
				d := v & 0xf
				v >>= 4
				c := byte('0' + d)
				if d > 9 {
					c = byte('a' + d - 10)
				}
				s[i] = c
			}
			copy(hdr[off:off+8], s)
		}
		hexField(6, 1)
		hexField(14, uint64(e.mode))
		hexField(54, uint64(len(e.data)))
		hexField(94, uint64(len(name)))
		out = append(out, hdr...)
		out = append(out, name...)
		out = pad4(out)
		out = append(out, e.data...)
		out = pad4(out)
	}
	for _, e := range ents {
		put(e)
	}
	put(execCpioEnt{name: "TRAILER!!!"})
	return out
}

// installExecRootfs builds a tmpfs containing one executable file at path,
// installs it as the package-level rootfs, and roots tsk's cwd at "/".
func installExecRootfs(t *testing.T, tsk *sched.Task_t, path string, elfData []byte) *fs.Fs_t {
	t.Helper()
	root := fs.NewTmpfs()
	archive := buildExecCpio([]execCpioEnt{{name: path, mode: defs.S_IFREG | 0755, data: elfData}})
	if _, err := fs.Load(root, archive); err != 0 {
		t.Fatalf("cpio load: %v", err)
	}
	SetRootfs(root)
	rootFd, err := root.Open(ustr.MkUstrRoot(), defs.O_RDONLY|defs.O_DIRECTORY, 0)
	if err != 0 {
		t.Fatalf("open root: %v", err)
	}
	tsk.Cwd = fd.MkRootCwd(rootFd)
	return root
}

func mapAndWriteCstring(t *sched.Task_t, va uintptr, s string) {
	t.As.MapAnon(va&^uintptr(mem.PGSIZE-1), uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
	t.As.CopyOut(va, append([]byte(s), 0))
}

// mapArgv writes argv's strings at stringsVa (packed back to back) and
// the NULL-terminated pointer array at argvVa, both page-backed.
func mapArgv(t *sched.Task_t, argvVa, stringsVa uintptr, argv []string) {
	t.As.MapAnon(argvVa&^uintptr(mem.PGSIZE-1), uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
	t.As.MapAnon(stringsVa&^uintptr(mem.PGSIZE-1), uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)

	sp := stringsVa
	var ptrs []uint64
	for _, s := range argv {
		b := append([]byte(s), 0)
		t.As.CopyOut(sp, b)
		ptrs = append(ptrs, uint64(sp))
		sp += uintptr(len(b))
	}
	ptrs = append(ptrs, 0)

	for i, p := range ptrs {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], p)
		t.As.CopyOut(argvVa+uintptr(i)*8, b[:])
	}
}

func TestCopyInArgvReadsNullTerminatedArray(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState(t)

	tsk, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn: %v", err)
	}

	const argvVa = 0x30000
	const stringsVa = 0x31000
	mapArgv(tsk, argvVa, stringsVa, []string{"/init", "-v"})

	got, aerr := copyInArgv(tsk, argvVa)
	if aerr != 0 {
		t.Fatalf("copyInArgv: %v", aerr)
	}
	if len(got) != 2 || got[0] != "/init" || got[1] != "-v" {
		t.Fatalf("copyInArgv = %v, want [/init -v]", got)
	}
}

func TestCloseOnExecClosesOnlyCloexecFds(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState(t)

	tsk, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn: %v", err)
	}
	tsk.AddFd(&fd.Fd_t{Fops: &memFile{}, Perms: fd.FD_READ})
	tsk.AddFd(&fd.Fd_t{Fops: &memFile{}, Perms: fd.FD_READ | fd.FD_CLOEXEC})

	closeOnExec(tsk)

	if tsk.Fds[0] == nil {
		t.Fatal("expected fd 0 (no CLOEXEC) to survive")
	}
	if tsk.Fds[1] != nil {
		t.Fatal("expected fd 1 (CLOEXEC) to be closed")
	}
}

func TestDoExecveLoadsNewImageAndReplacesAddressSpace(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	tsk, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn: %v", err)
	}
	installExecRootfs(t, tsk, "/prog", buildTinyELF(t, 0x20000))
	tsk.AddFd(&fd.Fd_t{Fops: &memFile{}, Perms: fd.FD_READ | fd.FD_CLOEXEC})

	oldAS := tsk.As

	const pathVa = 0x40000
	const argvVa = 0x41000
	const stringsVa = 0x42000
	mapAndWriteCstring(tsk, pathVa, "/prog")
	mapArgv(tsk, argvVa, stringsVa, []string{"/prog"})

	entry, usp, eerr := doExecve(tsk, pathVa, argvVa)
	if eerr != 0 {
		t.Fatalf("doExecve: %v", eerr)
	}
	if entry != 0x20000 {
		t.Fatalf("entry = %#x, want %#x", entry, 0x20000)
	}
	if usp == 0 {
		t.Fatal("expected a nonzero initial stack pointer")
	}
	if usp%16 != 0 {
		t.Fatalf("stack pointer %#x not 16-byte aligned", usp)
	}
	if tsk.As == oldAS {
		t.Fatal("expected doExecve to install a new address space")
	}
	if tsk.Fds[0] != nil {
		t.Fatal("expected the CLOEXEC fd to be closed across doExecve")
	}
}

func TestSysExecveFailsOnMissingFile(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState(t)

	tsk, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn: %v", err)
	}
	installExecRootfs(t, tsk, "/prog", buildTinyELF(t, 0x20000))

	const pathVa = 0x40000
	const argvVa = 0x41000
	mapAndWriteCstring(tsk, pathVa, "/does-not-exist")
	tsk.As.MapAnon(argvVa&^uintptr(mem.PGSIZE-1), uintptr(mem.PGSIZE), mmu.ProtRead|mmu.ProtWrite|mmu.ProtUser)
	var zero [8]byte
	tsk.As.CopyOut(argvVa, zero[:])

	f := &mockFrame{sysno: uintptr(unix.SYS_EXECVE), args: [6]uintptr{pathVa, argvVa}}
	ret := sysExecve(tsk, f)
	if defs.Err_t(int64(ret)) != -defs.ENOENT {
		t.Fatalf("sysExecve = %v, want -ENOENT", defs.Err_t(int64(ret)))
	}
}
