//go:build arm64

package boot

// vbarTableAddr and writeVBAR are implemented in vbar_arm64.s.
func vbarTableAddr() uintptr
func writeVBAR(addr uintptr)

// installVectors builds and installs the VBAR_EL1 table, the arm64
// counterpart to internal/trap's InitIDT on amd64: that one owns its
// table entirely inside internal/trap since x86_64's IDT is a data
// structure the CPU merely reads, but AArch64's vector table is code the
// PC jumps to directly at a fixed stride, so it has to live in an
// assembly TEXT symbol rather than a Go array — which is why this step
// runs in internal/boot instead, per vector_arm64.s's own comment.
func installVectors() {
	writeVBAR(vbarTableAddr())
}
