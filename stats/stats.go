// Package stats implements the zero-cost-when-disabled statistical
// counters the teacher uses throughout biscuit (Counter_t/Cycles_t,
// gated by a compile-time const so the field reads fold away when
// disabled). The teacher's Rdtsc reads the CPU timestamp counter through
// a patched runtime.Rdtsc; this kernel has no hardware timer of its own
// to read from host Go, so Cyclecount is instead fed by the timer
// driver's tick count (package drivers/timer) -- the same "how many
// units of time have passed" question the real TSC answers, grounded on
// this kernel's own get_ticks (§6).
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

const Stats = false
const Timing = false

/// TickSource supplies the monotonic tick count Cycles_t accounts
/// against. Wired to drivers/timer.Ticks at boot.
var TickSource func() uint64 = func() uint64 { return 0 }

/// Cyclecount returns the current tick count when accounting is enabled.
func Cyclecount() uint64 {
	if Stats || Timing {
		return TickSource()
	}
	return 0
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an accumulated tick count.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

/// Add adds elapsed ticks since mark to the counter.
func (c *Cycles_t) Add(mark uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Cyclecount()-mark))
	}
}

/// Stats2String converts a struct of counters to a printable string.
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
