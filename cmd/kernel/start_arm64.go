//go:build arm64

package main

import "levitateos/internal/boot"

// EntryFDTBase is the physical address of the Flattened Device Tree QEMU's
// virt machine leaves in x0 at reset. The platform's boot stub preserves x0
// into this static before any Go code runs and could clobber it, per
// internal/boot.StartAArch64's own doc comment; startKernel reads it exactly
// once.
var EntryFDTBase uintptr

func startKernel() {
	boot.StartAArch64(EntryFDTBase)
}
