//go:build arm64

// VirtIO over MMIO: the transport QEMU's virt machine exposes on AArch64.
// Register offsets are the VirtIO 1.1 MMIO register layout; the device
// bring-up sequence (status-byte handshake, feature negotiation, queue
// setup by physical address) follows the same ordering tinyrange-cc's
// internal/devices/virtio device-model package implements from the
// opposite (device) side, and which usbarmory-tamago's qemu/virtio.go
// drives from the guest side over PCI — the MMIO register numbers
// themselves come from the VirtIO specification, since the retrieved PCI
// examples don't use this transport.
package virtio

import (
	"unsafe"

	"levitateos/internal/defs"
	"levitateos/internal/trap"
)

const (
	regMagicValue       = 0x000
	regVersion          = 0x004
	regDeviceID         = 0x008
	regVendorID         = 0x00c
	regDeviceFeatures   = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures   = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel         = 0x030
	regQueueNumMax      = 0x034
	regQueueNum         = 0x038
	regQueueReady       = 0x044
	regQueueNotify      = 0x050
	regInterruptStatus  = 0x060
	regInterruptACK     = 0x064
	regStatus           = 0x070
	regQueueDescLow     = 0x080
	regQueueDescHigh    = 0x084
	regQueueDriverLow   = 0x090
	regQueueDriverHigh  = 0x094
	regQueueDeviceLow   = 0x0a0
	regQueueDeviceHigh  = 0x0a4
	regConfigGeneration = 0x0fc
	regConfig           = 0x100
)

const mmioMagic = 0x74726976 // "virt" little-endian

const (
	statusAcknowledge = 1
	statusDriver      = 2
	statusDriverOK    = 4
	statusFeaturesOK  = 8
	statusFailed      = 128
)

// MMIODevice is one VirtIO MMIO device window. internal/mmu's
// BootstrapAArch64 identity-maps it (physical equals virtual)
// Device-nGnRnE under TTBR0_EL1 alongside the GIC and UART windows, so the
// raw pointer arithmetic in mmioW/mmioR is only valid once that boot-time
// mapping is installed — device MMIO ranges stay outside the dmap and are
// mapped individually, never folded into the bulk RAM identity range.
type MMIODevice struct {
	base  uintptr
	irq   uint
	Queue *Queue
}

func mmioW(base uintptr, off uintptr, v uint32) { *(*uint32)(unsafe.Pointer(base + off)) = v }
func mmioR(base uintptr, off uintptr) uint32    { return *(*uint32)(unsafe.Pointer(base + off)) }

// ProbeMMIO validates the magic/version fields at base and returns the
// device's reported DeviceID (0 means "no device present at this slot",
// which QEMU's virt machine uses to pad the MMIO transport list).
func ProbeMMIO(base uintptr) (deviceID uint32, ok bool) {
	if mmioR(base, regMagicValue) != mmioMagic {
		return 0, false
	}
	if mmioR(base, regVersion) != 2 {
		return 0, false
	}
	return mmioR(base, regDeviceID), true
}

// InitMMIODevice resets the device, negotiates wantFeatures (masked
// against what the device offers), allocates and installs queue 0, and
// wires its IRQ line through internal/trap. Per spec.md §4.5 the status
// handshake is linear and any deviation (FEATURES_OK not retained after
// being written) fails the device rather than proceeding with unsupported
// features.
func InitMMIODevice(base uintptr, irq uint, wantFeatures uint64) (*MMIODevice, defs.Err_t) {
	mmioW(base, regStatus, 0) // reset
	mmioW(base, regStatus, statusAcknowledge)
	mmioW(base, regStatus, statusAcknowledge|statusDriver)

	mmioW(base, regDeviceFeaturesSel, 0)
	lo := uint64(mmioR(base, regDeviceFeatures))
	mmioW(base, regDeviceFeaturesSel, 1)
	hi := uint64(mmioR(base, regDeviceFeatures))
	offered := lo | (hi << 32)
	negotiated := offered & wantFeatures

	mmioW(base, regDriverFeaturesSel, 0)
	mmioW(base, regDriverFeatures, uint32(negotiated))
	mmioW(base, regDriverFeaturesSel, 1)
	mmioW(base, regDriverFeatures, uint32(negotiated>>32))

	mmioW(base, regStatus, statusAcknowledge|statusDriver|statusFeaturesOK)
	if mmioR(base, regStatus)&statusFeaturesOK == 0 {
		mmioW(base, regStatus, statusFailed)
		return nil, -defs.ENODEV
	}

	q, err := NewQueue()
	if err != 0 {
		mmioW(base, regStatus, statusFailed)
		return nil, err
	}

	mmioW(base, regQueueSel, 0)
	max := mmioR(base, regQueueNumMax)
	if max < QueueSize {
		mmioW(base, regStatus, statusFailed)
		return nil, -defs.ENODEV
	}
	mmioW(base, regQueueNum, QueueSize)
	mmioW(base, regQueueDescLow, uint32(q.DescTablePA()))
	mmioW(base, regQueueDescHigh, uint32(uint64(q.DescTablePA())>>32))
	mmioW(base, regQueueDriverLow, uint32(q.AvailPA()))
	mmioW(base, regQueueDriverHigh, uint32(uint64(q.AvailPA())>>32))
	mmioW(base, regQueueDeviceLow, uint32(q.UsedPA()))
	mmioW(base, regQueueDeviceHigh, uint32(uint64(q.UsedPA())>>32))
	mmioW(base, regQueueReady, 1)

	mmioW(base, regStatus, statusAcknowledge|statusDriver|statusFeaturesOK|statusDriverOK)

	dev := &MMIODevice{base: base, irq: irq, Queue: q}
	trap.RegisterIRQ(int(irq), dev.handleIRQ)
	return dev, 0
}

// handleIRQ acknowledges the interrupt cause bits and drains completions.
// Per spec.md §4.5, acking is a separate MMIO write from draining the used
// ring: a device may coalesce several completions behind one interrupt.
func (d *MMIODevice) handleIRQ() {
	cause := mmioR(d.base, regInterruptStatus)
	mmioW(d.base, regInterruptACK, cause)
	if cause&interruptBitUsedRing != 0 {
		d.Queue.PollUsed()
	}
}

const interruptBitUsedRing = 0x1

// Notify rings the device's doorbell for this device's only queue (index
// 0): a plain MMIO store, release-ordered relative to the avail-ring
// update Submit already performed under q's mutex, per spec.md §4.5's
// "doorbell written with release semantics before any subsequent avail
// update" — here there is no subsequent update until the next Submit
// call, which re-takes the same mutex and so cannot reorder before this
// write completes.
func (d *MMIODevice) Notify() {
	mmioW(d.base, regQueueNotify, 0)
}

// ConfigRead32 reads 4 bytes from the device-specific configuration
// space starting at regConfig, for device types (block's capacity, gpu's
// display info) that publish state there instead of over the queue.
func (d *MMIODevice) ConfigRead32(off uintptr) uint32 {
	return mmioR(d.base, regConfig+off)
}
