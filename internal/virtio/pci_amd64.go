//go:build amd64

// VirtIO over the legacy PCI transport, the layout QEMU's q35/i440fx
// machines expose by default. Port offsets and the status/feature
// handshake ordering are grounded directly on usbarmory-tamago's
// qemu/virtio.go PCI RNG driver (bar0+0x00 device features, +0x04 guest
// features, +0x08 queue address, +0x0c queue size, +0x0e queue select,
// +0x10 queue notify, +0x12 device status); this package adds PCI
// config-space enumeration (tamago's driver assumed a fixed, pre-scanned
// BAR) and MSI IRQ wiring via internal/msi, neither of which the RNG
// example needed since it polled instead of using interrupts.
package virtio

import (
	"levitateos/internal/defs"
	"levitateos/internal/mem"
	"levitateos/internal/msi"
	"levitateos/internal/trap"
)

const (
	pciConfigAddress = 0xcf8
	pciConfigData    = 0xcfc
)

func outl(port uint16, v uint32)
func inl(port uint16) uint32
func outw(port uint16, v uint16)
func inw(port uint16) uint16
func outb(port uint16, v uint8)
func inb(port uint16) uint8

func pciConfigRead32(bus, dev, fn uint8, off uint8) uint32 {
	addr := uint32(1)<<31 | uint32(bus)<<16 | uint32(dev)<<11 | uint32(fn)<<8 | uint32(off&0xfc)
	outl(pciConfigAddress, addr)
	return inl(pciConfigData)
}

func pciConfigWrite32(bus, dev, fn uint8, off uint8, v uint32) {
	addr := uint32(1)<<31 | uint32(bus)<<16 | uint32(dev)<<11 | uint32(fn)<<8 | uint32(off&0xfc)
	outl(pciConfigAddress, addr)
	outl(pciConfigData, v)
}

// PCIAddr identifies a function on the PCI bus.
type PCIAddr struct {
	Bus, Dev, Fn uint8
}

// virtioPCIVendor is the vendor ID QEMU's virtio-pci devices advertise.
const virtioPCIVendor = 0x1af4

// FindDevice scans bus 0 for a virtio-pci device with the given
// subsystem/device ID (the legacy transport aliases device ID as
// 0x1000+virtioDeviceType) and returns its location and BAR0 I/O port
// base. Multi-bus/bridge topologies are out of scope: QEMU's default
// machine puts all virtio-pci functions on bus 0.
func FindDevice(deviceID uint16) (PCIAddr, uint16, bool) {
	for dev := uint8(0); dev < 32; dev++ {
		vendorDevice := pciConfigRead32(0, dev, 0, 0x00)
		vendor := uint16(vendorDevice)
		did := uint16(vendorDevice >> 16)
		if vendor != virtioPCIVendor || did != deviceID {
			continue
		}
		bar0 := pciConfigRead32(0, dev, 0, 0x10)
		if bar0&0x1 == 0 {
			continue // not an I/O-space BAR
		}
		return PCIAddr{Bus: 0, Dev: dev, Fn: 0}, uint16(bar0 &^ 0x3), true
	}
	return PCIAddr{}, 0, false
}

const (
	pciStatusAcknowledge = 0x01
	pciStatusDriver      = 0x02
	pciStatusDriverOK    = 0x04
	pciStatusFailed      = 0x80
)

const (
	pciOffDeviceFeatures = 0x00
	pciOffGuestFeatures  = 0x04
	pciOffQueueAddress   = 0x08
	pciOffQueueSize      = 0x0c
	pciOffQueueSelect    = 0x0e
	pciOffQueueNotify    = 0x10
	pciOffDeviceStatus   = 0x12
	pciOffISRStatus      = 0x13
)

// PCIDevice is one bound legacy-transport virtio-pci device.
type PCIDevice struct {
	bar0  uint16
	vec   int
	Queue *Queue
}

// InitPCIDevice negotiates features (masked to the low 32 bits the legacy
// transport exposes) and installs queue 0 by physical queue-frame number
// (the legacy transport's Queue Address register is a page-frame number,
// not a byte address, so newLegacyQueue lays the descriptor table, avail
// ring, and used ring out in one physically contiguous multi-page block).
// The queue size is not negotiated: a device reporting a size other than
// QueueSize fails with -ENODEV.
func InitPCIDevice(bar0 uint16, wantFeatures uint32) (*PCIDevice, defs.Err_t) {
	outb(bar0+pciOffDeviceStatus, 0) // reset
	outb(bar0+pciOffDeviceStatus, pciStatusAcknowledge)
	outb(bar0+pciOffDeviceStatus, pciStatusAcknowledge|pciStatusDriver)

	offered := inl(bar0 + pciOffDeviceFeatures)
	outl(bar0+pciOffGuestFeatures, offered&wantFeatures)

	outw(bar0+pciOffQueueSelect, 0)
	qsize := inw(bar0 + pciOffQueueSize)
	if qsize == 0 {
		outb(bar0+pciOffDeviceStatus, pciStatusFailed)
		return nil, -defs.ENODEV
	}

	q, err := newLegacyQueue(uint16(qsize))
	if err != 0 {
		outb(bar0+pciOffDeviceStatus, pciStatusFailed)
		return nil, err
	}

	outl(bar0+pciOffQueueAddress, uint32(q.descPA/mem.Pa_t(mem.PGSIZE)))

	vec := msi.Msi_alloc()

	outb(bar0+pciOffDeviceStatus, pciStatusAcknowledge|pciStatusDriver|pciStatusDriverOK)

	dev := &PCIDevice{bar0: bar0, vec: int(vec), Queue: q}
	trap.RegisterIRQ(int(vec), dev.handleIRQ)
	return dev, 0
}

// Notify rings the legacy transport's doorbell for queue 0.
func (d *PCIDevice) Notify() {
	outw(d.bar0+pciOffQueueNotify, 0)
}

func (d *PCIDevice) handleIRQ() {
	cause := inb(d.bar0 + pciOffISRStatus)
	if cause&0x1 != 0 {
		d.Queue.PollUsed()
	}
}
