// Package boot implements spec.md §6's platform init: the arch-specific
// entry discovers memory, the boot command line and the initramfs (a
// Flattened Device Tree on AArch64, a Limine-compatible bootloader's
// responses on x86_64), brings up the interrupt controller and tick
// source, then hands off to the generic kernel. Grounded on
// `other_examples`' tamago/gopher-os entry idiom (a tiny arch-specific
// `main`/`Kmain` trampoline that does the minimum possible before handing
// off to portable kernel code) and on spec.md §6's explicit per-arch
// discovery list.
package boot

import (
	"fmt"

	"levitateos/internal/config"
	"levitateos/internal/console"
	"levitateos/internal/timer"
	"levitateos/internal/userinit"
)

// sequence runs the arch-neutral half of boot once the arch-specific start
// function has discovered memory, the command line and the initramfs, and
// brought up its interrupt controller: apply boot-command-line overrides,
// bring up the console and tick source, then load and run PID 1. Never
// returns.
func sequence(cmdline string, initrd []byte) {
	config.Parse(cmdline)
	console.Init()
	timer.Init(config.Active.TimerHz)
	fmt.Fprintf(console.Kmsg, "levitateos: booting, initrd=%d bytes\n", len(initrd))
	userinit.Boot(initrd)
}

func align4(n int) int { return (n + 3) &^ 3 }

func readCString(blob []byte, off int) (string, int) {
	end := off
	for end < len(blob) && blob[end] != 0 {
		end++
	}
	return string(blob[off:end]), end + 1
}

func trimNUL(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}

// readCells decodes a DTB property value as a single big-endian integer
// cell, 4 or 8 bytes depending on the property's length, per the
// Devicetree Specification's #address-cells/#size-cells convention (QEMU's
// virt machine emits 2-cell, i.e. 8-byte, addresses and sizes for
// linux,initrd-start/end).
func readCells(val []byte) uint64 {
	var v uint64
	for _, b := range val {
		v = v<<8 | uint64(b)
	}
	return v
}
