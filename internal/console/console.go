// Package console implements /dev/console: a single Fdops_i device backed
// by a fixed-size byte ring buffer that a UART receive interrupt fills and
// a blocking Read drains. Grounded on the teacher's cons_t (biscuit's
// kernel/main.go, retrieved as justanotherdot's copy of the same file)
// which shapes console input the same way — an ISR-fed buffer a daemon or
// syscall drains — generalized here from biscuit's channel-request
// protocol to a plain ring buffer plus sched.WaitQueue, and from
// keyboard+COM1 to the two UARTs this kernel actually drives.
//
// The ring buffer is written by an interrupt handler and read by ordinary
// task context, so it is protected by trap.IrqSave/IrqRestore rather than
// a plain mutex, per the no-plain-spinlocks-on-IRQ-shared-data rule this
// kernel holds itself to everywhere else (timer ticks, VirtIO used rings).
package console

import (
	"fmt"
	"io"

	"levitateos/internal/defs"
	"levitateos/internal/sched"
	"levitateos/internal/trap"
)

const ringSize = 4096

// Device_t is the console's Fdops_i: internal/userinit installs one at
// each of PID 1's reserved fds 0, 1 and 2 (spec.md's "reserved slots 0/1/2
// point to a console file at PID 1 spawn").
type Device_t struct {
	buf        [ringSize]byte
	head, tail int // byte counts; index is mod ringSize, never reset
	rq         sched.WaitQueue
}

var console Device_t

// Dev returns the single system console device.
func Dev() *Device_t { return &console }

// Kmsg is the kernel log sink: every package logs via fmt.Fprintf(Kmsg,
// ...) rather than calling fmt.Println directly, the same single-writer
// idiom the teacher's own straight-to-console fmt.Printf style implies
// once there is more than one console backend to route through.
var Kmsg io.Writer = kmsgWriter{}

type kmsgWriter struct{}

func (kmsgWriter) Write(p []byte) (int, error) {
	n, err := console.Write(p)
	if err != 0 {
		return n, fmt.Errorf("console write: %s", err.Errstr())
	}
	return n, nil
}

// putcHook transmits one byte; installed by the arch-specific UART driver
// (uart_amd64.go or uart_arm64.go) at Init time.
var putcHook func(byte)

// Init brings up the arch's UART (16550 on amd64, PL011 on arm64) and
// wires its RX interrupt to push into the shared ring buffer. Must run
// after internal/trap's vector/IDT or GIC setup.
func Init() {
	initUART()
}

func (d *Device_t) used() int { return d.head - d.tail }
func (d *Device_t) left() int { return len(d.buf) - d.used() }

// pushByte is called from RX-interrupt context to enqueue one received
// byte, translating a bare CR to LF the way a cooked tty line discipline
// would (the teacher's cons_t does the same CR/LF and DEL/backspace
// translation at the same point, in its com_daemon body).
func (d *Device_t) pushByte(c byte) {
	if c == '\r' {
		c = '\n'
	}
	flags := trap.IrqSave()
	if d.left() > 0 {
		d.buf[d.head%len(d.buf)] = c
		d.head++
	}
	trap.IrqRestore(flags)
	sched.WakeAll(&d.rq)
}

// Read blocks until at least one byte is available, then copies up to
// len(dst) buffered bytes out.
func (d *Device_t) Read(dst []uint8) (int, defs.Err_t) {
	for {
		flags := trap.IrqSave()
		avail := d.used()
		if avail > 0 {
			want := len(dst)
			if want > avail {
				want = avail
			}
			ti := d.tail % len(d.buf)
			n := copy(dst[:want], d.buf[ti:])
			if n < want {
				n += copy(dst[n:want], d.buf[:d.head%len(d.buf)])
			}
			d.tail += n
			trap.IrqRestore(flags)
			return n, 0
		}
		trap.IrqRestore(flags)
		sched.Wait(&d.rq)
	}
}

// Write sends src out the console UART, one byte at a time.
func (d *Device_t) Write(src []uint8) (int, defs.Err_t) {
	if putcHook == nil {
		return 0, -defs.EIO
	}
	for _, c := range src {
		if c == '\n' {
			putcHook('\r')
		}
		putcHook(c)
	}
	return len(src), 0
}

func (d *Device_t) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (d *Device_t) Pwrite(src []uint8, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (d *Device_t) Lseek(offset int, whence int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (d *Device_t) Fstat(st *defs.Stat_t) defs.Err_t {
	st.Mode = defs.S_IFCHR | 0620
	return 0
}
func (d *Device_t) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}

// TCGETS/TCSETS request codes, per the Linux termios ioctl ABI; a task
// probing isatty(3) on the console needs these two to succeed even though
// LevitateOS keeps no real termios settings to report.
const (
	tcgets = 0x5401
	tcsets = 0x5402
)

// Ioctl answers just enough of the termios protocol for isatty(3) to
// recognize the console as a tty; every other request is -ENOTTY, same as
// every other Fdops_i implementation in this kernel.
func (d *Device_t) Ioctl(req uint, arg uintptr) (int, defs.Err_t) {
	switch req {
	case tcgets, tcsets:
		return 0, 0
	}
	return 0, -defs.ENOTTY
}

func (d *Device_t) Close() defs.Err_t  { return 0 }
func (d *Device_t) Reopen() defs.Err_t { return 0 }
