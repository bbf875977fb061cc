// Command kernel is the only Go symbol visible from the arch-specific boot
// assembly: it is the trampoline the rt0 code calls after setting up a stack
// and a minimal Go-runtime environment, the same "main just calls into the
// real entrypoint package" shape gopher-os's boot.go uses so the compiler
// never optimizes the kernel away as dead code from the assembly's point of
// view. main never returns; if the arch entry it calls ever does, the boot
// assembly halts the CPU.
//
//go:debug asyncpreemptoff=1
package main

import "runtime"

func main() {
	// spec.md's Non-goals assume a single hart/CPU; asyncpreemptoff above
	// keeps the runtime from signal-preempting goroutines with a
	// mechanism this kernel's own trap plane doesn't model, and
	// GOMAXPROCS(1) keeps the Go scheduler from ever believing it has a
	// second core to run on.
	runtime.GOMAXPROCS(1)
	startKernel()
}
