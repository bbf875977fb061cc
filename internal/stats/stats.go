// Package stats implements the kernel's compile-time-gated counters: when
// Stats/Timing are false the Inc/Add methods are no-ops, so instrumented
// call sites cost nothing in a production build. Grounded on the teacher's
// stats/stats.go; exposed to userspace via /dev/stat (internal/fs).
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Stats enables Counter_t bookkeeping when true.
const Stats = false

// Timing enables Cycles_t bookkeeping when true.
const Timing = false

// Nirqs counts interrupts delivered per vector.
var Nirqs [256]int

// Irqs is the total interrupt count across all vectors.
var Irqs int

// Counter_t is a statistical counter, a no-op when Stats is false.
type Counter_t int64

// Cycles_t holds an elapsed cycle count, a no-op when Timing is false.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds the cycles elapsed since mark to the counter.
func (c *Cycles_t) Add(mark uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(rdtsc()-mark))
	}
}

// rdtsc returns the architected cycle counter when Timing is enabled. The
// real implementation lives in internal/timer, which stats cannot import
// without a cycle (timer reports elapsed time in Cycles_t); Hook is set by
// internal/timer's init.
var Hook func() uint64

func rdtsc() uint64 {
	if Hook == nil {
		return 0
	}
	return Hook()
}

// Stats2String renders every Counter_t/Cycles_t field of st as a printable
// string, for the /dev/stat read path.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
