//go:build arm64

// PL011 UART, memory-mapped at QEMU virt's fixed base, per spec's AArch64
// console requirement (115200 baud). Register offsets grounded on
// iansmith-mazarin's uart_qemu.go (DR, FR, IBRD, FBRD, LCRH, CR, ICR at
// the same offsets); this driver adds the interrupt-mask/clear registers
// (IMSC, MIS, RIS) mazarin's polling-only uartGetc never needed, and
// wires RX delivery through the GICv2 driver (internal/trap's
// gic_arm64.go) instead of polling FR's RXFE bit.
//
// uartBase defaults to QEMU virt's fixed PL011 address; internal/boot can
// override it via SetUARTBase once it has parsed the real base out of the
// FDT, the same boot-time-setter shape internal/syscalls' SetRootfs uses.
package console

import (
	"unsafe"

	"levitateos/internal/trap"
)

var uartBase uintptr = 0x09000000

// SetUARTBase overrides the PL011 base address; it takes effect only if
// called before Init runs. internal/boot's StartAArch64 does not call it,
// so the default base above is what Init uses.
func SetUARTBase(base uintptr) {
	uartBase = base
}

func uartReg(off uintptr) uintptr { return uartBase + off }

const (
	offDR   = 0x00
	offFR   = 0x18
	offIBRD = 0x24
	offFBRD = 0x28
	offLCRH = 0x2c
	offCR   = 0x30
	offIMSC = 0x38
	offRIS  = 0x3c
	offMIS  = 0x40
	offICR  = 0x44
)

const (
	frRXFE = 1 << 4 // receive FIFO empty
	frTXFF = 1 << 5 // transmit FIFO full

	crUARTEN = 1 << 0
	crTXE    = 1 << 8
	crRXE    = 1 << 9

	lcrhFEN   = 1 << 4 // enable FIFOs
	lcrhWLEN8 = 0x3 << 5

	imscRXIM = 1 << 4
)

func mmioWrite32(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }
func mmioRead32(addr uintptr) uint32     { return *(*uint32)(unsafe.Pointer(addr)) }

// pl011RXIRQ is the GIC SPI ID QEMU's virt machine wires PL011 UART0's
// interrupt to (SPI1, INTID 32+1).
const pl011RXIRQ = 33

func initUART() {
	mmioWrite32(uartReg(offCR), 0) // disable while configuring

	// Baud-rate divisor for 115200 @ a 24MHz UARTCLK (QEMU virt's fixed
	// PL011 clock): ibrd=13, fbrd=1, per the PL011 TRM's divisor formula.
	mmioWrite32(uartReg(offIBRD), 13)
	mmioWrite32(uartReg(offFBRD), 1)

	mmioWrite32(uartReg(offLCRH), lcrhWLEN8|lcrhFEN)
	mmioWrite32(uartReg(offIMSC), imscRXIM)
	mmioWrite32(uartReg(offCR), crUARTEN|crTXE|crRXE)

	trap.EnableIRQ(pl011RXIRQ, 0x80)
	trap.RegisterIRQ(pl011RXIRQ, pl011ISR)

	putcHook = uartPutc
}

func uartPutc(c byte) {
	for mmioRead32(uartReg(offFR))&frTXFF != 0 {
	}
	mmioWrite32(uartReg(offDR), uint32(c))
}

// pl011ISR drains every byte pending in the receive FIFO; internal/trap's
// ackAndHandleIRQ has already acknowledged and will end-of-interrupt the
// GIC line around this call, the same wrapping internal/timer's tick
// handler relies on.
func pl011ISR() {
	for mmioRead32(uartReg(offFR))&frRXFE == 0 {
		console.pushByte(byte(mmioRead32(uartReg(offDR))))
	}
	mmioWrite32(uartReg(offICR), imscRXIM)
}
