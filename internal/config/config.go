// Package config holds the kernel's boot-time tunables: a single struct
// with documented defaults, the same package-level-var-with-a-Mk-style-
// constructor idiom internal/limits uses for Syslimit_t, generalized from
// one struct of resource ceilings to the handful of timing and policy
// values spec.md's Design Notes and External Interfaces sections leave
// open. There is no config file: every value here is either a compiled-in
// default or an override parsed out of the boot command line
// (bootargs/FDT on AArch64, the Limine command-line request on x86_64),
// since no filesystem exists this early in boot to read one from.
package config

import (
	"strconv"
	"strings"
)

// Config_t is the active set of boot-time parameters.
type Config_t struct {
	// TimerHz is the timer tick rate.
	TimerHz uint32
	// VirtioInitTimeoutMs bounds how long device init polls a virtqueue
	// for a response before giving up. spec.md §9 Open Question (a)
	// leaves this as a configurable value rather than a fixed constant,
	// since the source material's own notes record divergent behavior
	// between a custom virtqueue path and a reference implementation
	// wrapper.
	VirtioInitTimeoutMs uint32
	// VirtioInitRetries bounds how many times device init retries a
	// timed-out negotiation step before failing the device as absent.
	VirtioInitRetries uint32
	// InitPath is the initramfs path PID 1 is loaded from (§4.10).
	InitPath string
}

// Default returns the compiled-in configuration before any command-line
// override is applied.
func Default() *Config_t {
	return &Config_t{
		TimerHz:             100,
		VirtioInitTimeoutMs: 500,
		VirtioInitRetries:   3,
		InitPath:            "/init",
	}
}

// Active is the live configuration; internal/boot calls Parse to populate
// it from the boot command line before any other subsystem reads it.
var Active = Default()

// Parse overrides Active's fields from a space-separated "key=value"
// command line (bootargs on AArch64, the Limine command-line request's
// string on x86_64). Unknown keys are ignored rather than rejected: a
// kernel command line commonly carries keys meant for userspace
// (console=, root=) that this kernel has no use for.
func Parse(cmdline string) {
	for _, tok := range strings.Fields(cmdline) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "timer.hz":
			if v, err := strconv.ParseUint(val, 10, 32); err == nil {
				Active.TimerHz = uint32(v)
			}
		case "virtio.timeout_ms":
			if v, err := strconv.ParseUint(val, 10, 32); err == nil {
				Active.VirtioInitTimeoutMs = uint32(v)
			}
		case "virtio.retries":
			if v, err := strconv.ParseUint(val, 10, 32); err == nil {
				Active.VirtioInitRetries = uint32(v)
			}
		case "init":
			Active.InitPath = val
		}
	}
}
