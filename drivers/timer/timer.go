// Package timer models the 100Hz periodic interrupt source the
// scheduler's Tick (§4.3) runs off of. On real IA-32 hardware this is
// the PIT (or local APIC timer) programmed at boot; there is no such
// device to program from hosted Go, so Start spins a goroutine that
// calls the supplied tick function at the configured rate, standing in
// for the interrupt handler's invocation of sched.Scheduler.Tick.
package timer

import (
	"sync/atomic"
	"time"
)

const HZ = 100

/// Driver drives a periodic tick callback and exposes a monotonic count
/// of ticks delivered so far, for get_ticks (§6) and package stats'
/// Cyclecount.
type Driver struct {
	count int64
	stop  chan struct{}
}

/// New constructs a stopped timer driver.
func New() *Driver {
	return &Driver{stop: make(chan struct{})}
}

/// Start begins delivering ticks at HZ per second, invoking onTick after
/// incrementing the count on each one. Call Stop to halt it.
func (d *Driver) Start(onTick func()) {
	go func() {
		t := time.NewTicker(time.Second / HZ)
		defer t.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-t.C:
				atomic.AddInt64(&d.count, 1)
				onTick()
			}
		}
	}()
}

/// Stop halts tick delivery.
func (d *Driver) Stop() {
	close(d.stop)
}

/// Ticks returns the number of ticks delivered so far (get_ticks, §6).
func (d *Driver) Ticks() uint64 {
	return uint64(atomic.LoadInt64(&d.count))
}
