//go:build amd64

// 16550-compatible UART at the legacy COM1 I/O port, per spec's x86_64
// console requirement. Register layout and init sequence grounded on the
// teacher's real console driver (justanotherdot's copy of biscuit's
// kernel/main.go, cons_t/_comready/com_daemon: COM1 at port 0x3f8, line
// status register at +5 bit 0 for data-ready); port-I/O access follows
// the outb/inb Go-asm idiom already established in internal/virtio's
// pci_amd64.s for legacy-transport VirtIO.
package console

import (
	"unsafe"

	"levitateos/internal/trap"
)

// lapicEOI is the local APIC's end-of-interrupt register; every vectored
// interrupt handler, IOAPIC-routed or not, must write it before returning
// or the local APIC withholds further interrupts at that priority. Same
// address internal/timer's local APIC timer driver uses.
const lapicEOI = 0xfee000b0

func lapicSendEOI() { *(*uint32)(unsafe.Pointer(uintptr(lapicEOI))) = 0 }

func outb(port uint16, v uint8)
func inb(port uint16) uint8

const com1Base = 0x3f8

const (
	uartRBR = com1Base + 0 // receive buffer (DLAB=0)
	uartTHR = com1Base + 0 // transmit holding (DLAB=0)
	uartDLL = com1Base + 0 // divisor latch low (DLAB=1)
	uartIER = com1Base + 1 // interrupt enable (DLAB=0)
	uartDLM = com1Base + 1 // divisor latch high (DLAB=1)
	uartFCR = com1Base + 2 // FIFO control
	uartLCR = com1Base + 3 // line control
	uartMCR = com1Base + 4 // modem control
	uartLSR = com1Base + 5 // line status
)

const (
	lsrDataReady   = 1 << 0
	lsrTHREmpty    = 1 << 5
	ierRxAvailable = 1 << 0
	lcrDLAB        = 1 << 7
	lcr8N1         = 0x03
	fcrEnableClear = 0xc7
	mcrRtsDtrOut2  = 0x0b
)

// comVector is the legacy IRQ4 (COM1) line's IDT vector, following the
// classic PIC-remap convention (ISA IRQ n -> vector 32+n) every other
// vector in this kernel's allocation already assumes; internal/msi
// reserves 56-63 and the timer owns 32, leaving 36 free.
const comVector = 36

func initUART() {
	outb(uartIER, 0x00)
	outb(uartLCR, lcrDLAB)
	outb(uartDLL, 1) // divisor 1 == 115200 baud
	outb(uartDLM, 0)
	outb(uartLCR, lcr8N1)
	outb(uartFCR, fcrEnableClear)
	outb(uartMCR, mcrRtsDtrOut2)
	outb(uartIER, ierRxAvailable)

	routeISAIRQ(4, comVector)
	trap.RegisterIRQ(comVector, comISR)

	putcHook = uartPutc
}

func uartPutc(c byte) {
	for inb(uartLSR)&lsrTHREmpty == 0 {
	}
	outb(uartTHR, c)
}

// comISR drains every byte the 16550 has buffered; a single RX interrupt
// can represent more than one received byte once the FIFO threshold has
// been crossed.
func comISR() {
	for inb(uartLSR)&lsrDataReady != 0 {
		console.pushByte(inb(uartRBR))
	}
	lapicSendEOI()
}
