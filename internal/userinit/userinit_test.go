package userinit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"runtime"
	"testing"
	"unsafe"

	"levitateos/internal/defs"
	"levitateos/internal/fs"
	"levitateos/internal/mem"
	"levitateos/internal/sched"
	"levitateos/internal/ustr"
)

func ptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// setupPhys gives internal/mem a host-backed arena, the same pattern
// internal/sched's and internal/elfload's own tests use so vm.New (and
// therefore sched.Spawn) can allocate real page tables on the host.
func setupPhys(t *testing.T, pages int) {
	t.Helper()
	buf := make([]byte, pages*mem.PGSIZE+mem.PGSIZE)
	base := alignUp(ptrOf(buf), uintptr(mem.PGSIZE))
	mem.Phys_init(mem.Pa_t(base), mem.Pa_t(pages*mem.PGSIZE), nil, base)
}

func resetSchedState(t *testing.T) {
	t.Helper()
	sched.ResetForTest()
}

// hostMachine mirrors internal/elfload's per-arch wantMachine constant,
// which is unexported; picking it at runtime off GOARCH lets a single test
// file build a loadable image for whichever arch this test binary targets.
func hostMachine() elf.Machine {
	if runtime.GOARCH == "arm64" {
		return elf.EM_AARCH64
	}
	return elf.EM_X86_64
}

// buildTinyELF hand-assembles a minimal ET_EXEC image with one PT_LOAD
// segment, the same manual Header64/Prog64 layout internal/elfload's own
// buildELF test helper uses, since debug/elf can only parse ELF, not write
// it.
func buildTinyELF(t *testing.T, entry uint64) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56
	const vaddr = 0x20000
	text := []byte{0x00, 0x00, 0x00, 0x00} // contents never executed by this test

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

type cpioEnt struct {
	name string
	mode uint32
	data []byte
}

// buildCpio assembles a "newc" CPIO archive, the same field layout and
// 4-byte alignment internal/fs's own buildCpio test helper uses, duplicated
// here since those helpers are unexported in their own package.
func buildCpio(t *testing.T, ents []cpioEnt) []byte {
	t.Helper()
	const hdrLen = 110
	var out []byte
	pad4 := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	put := func(e cpioEnt) {
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
	put(cpioEnt{name: "TRAILER!!!"})
	return out
}

func TestReadWholeFileReadsFullContents(t *testing.T) {
	setupPhys(t, 64)
	root := fs.NewTmpfs()
	archive := buildCpio(t, []cpioEnt{
		{name: "init", mode: defs.S_IFREG | 0755, data: bytes.Repeat([]byte("x"), 9000)},
	})
	if _, err := fs.Load(root, archive); err != 0 {
		t.Fatalf("cpio load: %v", err)
	}

	data, err := readWholeFile(root, ustr.Ustr("/init"))
	if err != 0 {
		t.Fatalf("readWholeFile: %v", err)
	}
	if len(data) != 9000 {
		t.Fatalf("len(data) = %d, want 9000", len(data))
	}
}

func TestBuildInitialStackLayout(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	task, err := sched.Spawn(nil, nil, func() {})
	if err != 0 {
		t.Fatalf("spawn: %v", err)
	}

	argv := []string{"/init", "-v"}
	sp, serr := buildInitialStack(task, argv)
	if serr != 0 {
		t.Fatalf("buildInitialStack: %v", serr)
	}
	if sp%16 != 0 {
		t.Fatalf("sp = %#x, not 16-byte aligned", sp)
	}

	readWord := func(va uintptr) uint64 {
		b, err := task.As.CopyIn(va, 8)
		if err != 0 {
			t.Fatalf("copyin %#x: %v", va, err)
		}
		return binary.LittleEndian.Uint64(b)
	}

	argc := readWord(sp)
	if argc != uint64(len(argv)) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	argvBase := sp + 8
	for i := range argv {
		ptr := uintptr(readWord(argvBase + uintptr(i)*8))
		if ptr == 0 {
			t.Fatalf("argv[%d] pointer is NULL", i)
		}
		sb, cerr := task.As.CopyIn(ptr, uintptr(len(argv[i])+1))
		if cerr != 0 {
			t.Fatalf("copyin argv[%d] string: %v", i, cerr)
		}
		got := string(sb[:len(argv[i])])
		if got != argv[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got, argv[i])
		}
		if sb[len(argv[i])] != 0 {
			t.Fatalf("argv[%d] string not NUL-terminated", i)
		}
	}

	argvTerm := readWord(argvBase + uintptr(len(argv))*8)
	if argvTerm != 0 {
		t.Fatalf("argv terminator = %#x, want 0", argvTerm)
	}

	envpTerm := readWord(argvBase + uintptr(len(argv)+1)*8)
	if envpTerm != 0 {
		t.Fatalf("envp terminator = %#x, want 0", envpTerm)
	}
}

func TestSpawnInitInstallsStdFdsAndCwd(t *testing.T) {
	setupPhys(t, 256)
	resetSchedState(t)

	root := fs.NewTmpfs()
	archive := buildCpio(t, []cpioEnt{
		{name: "init", mode: defs.S_IFREG | 0755},
	})
	if _, err := fs.Load(root, archive); err != 0 {
		t.Fatalf("cpio load: %v", err)
	}

	elfData := buildTinyELF(t, 0x20000)
	task, serr := spawnInit(nil, root, elfData, []string{"/init"})
	if serr != 0 {
		t.Fatalf("spawnInit: %v", serr)
	}
	if len(task.Fds) < 3 || task.Fds[0] == nil || task.Fds[1] == nil || task.Fds[2] == nil {
		t.Fatalf("expected fds 0,1,2 installed, got %d fds", len(task.Fds))
	}
	if task.Cwd == nil {
		t.Fatal("expected Cwd to be set")
	}
}

func TestSpawnInitFailsOnGarbageELF(t *testing.T) {
	setupPhys(t, 64)
	resetSchedState(t)

	root := fs.NewTmpfs()
	_, serr := spawnInit(nil, root, []byte("not an elf"), []string{"/init"})
	if serr == 0 {
		t.Fatal("expected spawnInit to fail on a non-ELF image")
	}
}
