package fs

import (
	"bytes"
	"fmt"

	"github.com/google/pprof/profile"

	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/sched"
	"levitateos/internal/stats"
)

// deviceFactories maps a defs.Mkdev-encoded device number to the function
// that produces a fresh Fdops_i each time a Mknod'd inode carrying that
// number is opened. Populated once at boot by internal/userinit before any
// task can reach a device node through openat, so no lock guards it.
var deviceFactories = map[uint]func() (fd.Fdops_i, defs.Err_t){}

// RegisterDevice installs the Fdops_i factory for rdev. Called once per
// device at boot; registering the same rdev twice overwrites the prior
// factory, which no boot sequence in this kernel ever does.
func RegisterDevice(rdev uint, factory func() (fd.Fdops_i, defs.Err_t)) {
	deviceFactories[rdev] = factory
}

func openDevice(rdev uint) (fd.Fdops_i, defs.Err_t) {
	factory, ok := deviceFactories[rdev]
	if !ok {
		return nil, -defs.ENXIO
	}
	return factory()
}

// NewNullDevice is /dev/null's Fdops_i factory: Read reports EOF
// immediately and Write silently discards everything, matching Linux.
func NewNullDevice() (fd.Fdops_i, defs.Err_t) {
	return nullDevice{}, 0
}

type nullDevice struct{}

func (nullDevice) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (nullDevice) Write(src []uint8) (int, defs.Err_t) { return len(src), 0 }
func (nullDevice) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	return 0, 0
}
func (nullDevice) Pwrite(src []uint8, offset int) (int, defs.Err_t) {
	return len(src), 0
}
func (nullDevice) Lseek(offset int, whence int) (int, defs.Err_t) { return 0, 0 }
func (nullDevice) Fstat(st *defs.Stat_t) defs.Err_t {
	st.Mode = defs.S_IFCHR | 0666
	return 0
}
func (nullDevice) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}
func (nullDevice) Ioctl(req uint, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (nullDevice) Close() defs.Err_t                             { return 0 }
func (nullDevice) Reopen() defs.Err_t                            { return 0 }

// NewStatDevice is /dev/stat's Fdops_i factory: a plain-text dump of
// internal/stats' interrupt counters, in the same reflective
// Stats2String format the teacher's stats package already documents as
// /dev/stat's rendering, though Stats2String itself is a no-op while
// stats.Stats stays false.
func NewStatDevice() (fd.Fdops_i, defs.Err_t) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "irqs: %d\n", stats.Irqs)
	for vec, n := range stats.Nirqs {
		if n != 0 {
			fmt.Fprintf(&b, "irq%d: %d\n", vec, n)
		}
	}
	b.WriteString(stats.Stats2String(struct{}{}))
	return &byteBufDevice{buf: b.Bytes()}, 0
}

// byteBufDevice is a read-only device backed by a byte slice fully
// materialized at open time, shared by /dev/stat and /dev/prof: both
// render their snapshot once up front and drain it through Read/Pread, so
// concurrent readers never see two different snapshots interleaved and a
// reader that seeks backward still sees a self-consistent view.
type byteBufDevice struct {
	buf []byte
	pos int
}

// NewProfDevice builds a pprof profile.Profile out of internal/sched's
// per-task accounting and internal/stats' IRQ/syscall counters, serializes
// it via profile.Profile.Write, and hands back an Fdops_i that reads the
// result like any other file.
func NewProfDevice() (fd.Fdops_i, defs.Err_t) {
	p := buildProfile()
	var out bytes.Buffer
	if err := p.Write(&out); err != nil {
		return nil, -defs.EIO
	}
	return &byteBufDevice{buf: out.Bytes()}, 0
}

func buildProfile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
		Comments:   []string{fmt.Sprintf("irqs=%d", stats.Irqs)},
	}

	var nextID uint64 = 1
	for _, t := range sched.Snapshot() {
		fn := &profile.Function{
			ID:   nextID,
			Name: fmt.Sprintf("pid%d/tid%d", t.Pid, t.Tid),
		}
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn, Line: 1}},
		}
		nextID++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{t.Userns, t.Sysns},
		})
	}
	return p
}

func (d *byteBufDevice) Read(dst []uint8) (int, defs.Err_t) {
	if d.pos >= len(d.buf) {
		return 0, 0
	}
	n := copy(dst, d.buf[d.pos:])
	d.pos += n
	return n, 0
}

func (d *byteBufDevice) Write(src []uint8) (int, defs.Err_t) { return 0, -defs.EPERM }

func (d *byteBufDevice) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	if offset < 0 || offset >= len(d.buf) {
		return 0, 0
	}
	return copy(dst, d.buf[offset:]), 0
}

func (d *byteBufDevice) Pwrite(src []uint8, offset int) (int, defs.Err_t) { return 0, -defs.EPERM }

func (d *byteBufDevice) Lseek(offset int, whence int) (int, defs.Err_t) {
	var np int
	switch whence {
	case defs.SEEK_SET:
		np = offset
	case defs.SEEK_CUR:
		np = d.pos + offset
	case defs.SEEK_END:
		np = len(d.buf) + offset
	default:
		return 0, -defs.EINVAL
	}
	if np < 0 {
		return 0, -defs.EINVAL
	}
	d.pos = np
	return np, 0
}

func (d *byteBufDevice) Fstat(st *defs.Stat_t) defs.Err_t {
	st.Mode = defs.S_IFCHR | 0400
	st.Size = int64(len(d.buf))
	return 0
}

func (d *byteBufDevice) Getdents64(dst []uint8, cookie int) (int, int, defs.Err_t) {
	return 0, 0, -defs.ENOTDIR
}

func (d *byteBufDevice) Ioctl(req uint, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (d *byteBufDevice) Close() defs.Err_t                             { return 0 }
func (d *byteBufDevice) Reopen() defs.Err_t                            { return 0 }
