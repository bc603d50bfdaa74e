// Package scalls implements the syscall dispatch table (§4.7): one
// method per supported call, each validating its pointer/buffer/string
// arguments against the caller's address space (package uaccess) before
// touching them, then delegating to the package that owns the actual
// behavior (sched, ksync, lifecycle, vm, drivers/console, ramdisk).
// Grounded on biscuit's syscall.go (one sys_* function per call, each
// starting with an argument-fetch/validate block) -- adapted from
// biscuit's trap-number-indexed Sys_... dispatch table (itself filled in
// by a patched-runtime trap gate) to plain exported Go methods, since
// this kernel has no trap gate of its own to generate the dispatch from.
package scalls

import (
	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/drivers/console"
	"github.com/d94ny/x86kernel/except"
	"github.com/d94ny/x86kernel/ksync"
	"github.com/d94ny/x86kernel/lifecycle"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
	"github.com/d94ny/x86kernel/uaccess"
	"github.com/d94ny/x86kernel/vm"
)

/// Dispatcher wires the syscall surface to the packages that implement
/// it. One instance exists per running kernel.
type Dispatcher struct {
	Kernel  *lifecycle.Kernel
	Sched   *sched.Scheduler
	Console *console.Driver

	// ConsoleLock is §4.6's mutex wrapping the console: readline holds
	// it across the several internal byte reads that make up one line
	// so print from another thread can't interleave mid-line. Nil in
	// tests that never touch a console syscall.
	ConsoleLock *ksync.Mutex_t
}

func (d *Dispatcher) lockConsole(self *proc.Tcb_t) {
	if d.ConsoleLock != nil {
		d.ConsoleLock.Acquire(self)
	}
}

func (d *Dispatcher) unlockConsole(self *proc.Tcb_t) {
	if d.ConsoleLock != nil {
		d.ConsoleLock.Release(self)
	}
}

// settle cooperatively performs a pending timer-recommended preemption,
// called at the end of fork, thread_fork, exec, wait, yield, deschedule,
// make_runnable and sleep; the other calls return without checking for
// one (§4.3's dispatch is otherwise only
// reachable at a voluntary block/yield point, see package sched).
func (d *Dispatcher) settle(self *proc.Tcb_t) {
	if next := d.Sched.TakePending(self); next != nil {
		ctxswitch.Switch(d.Sched, self, next)
	}
}

/// Gettid implements gettid.
func (d *Dispatcher) Gettid(self *proc.Tcb_t) defs.Tid_t {
	return self.Tid
}

/// Fork implements fork. childBody is the child continuation (see
/// package lifecycle).
func (d *Dispatcher) Fork(self *proc.Tcb_t, childBody func(*proc.Tcb_t)) (defs.Tid_t, defs.Err_t) {
	tid, err := d.Kernel.Fork(self, childBody)
	d.settle(self)
	return tid, err
}

/// ThreadFork implements thread_fork.
func (d *Dispatcher) ThreadFork(self *proc.Tcb_t, childBody func(*proc.Tcb_t)) (defs.Tid_t, defs.Err_t) {
	tid, err := d.Kernel.ThreadFork(self, childBody)
	d.settle(self)
	return tid, err
}

/// Exec implements exec: validates the filename and argv pointers,
/// loads the named binary, and execs into it.
func (d *Dispatcher) Exec(self *proc.Tcb_t, nameVa, argvVa uint32, launch func(entry, stackTop uint32, argv []string)) defs.Err_t {
	space := self.Proc.Vm
	name, err := uaccess.CheckString(space, nameVa)
	if err != 0 {
		return err
	}
	var argv []string
	if argvVa != 0 {
		argv, err = uaccess.CheckStringArray(space, argvVa)
		if err != 0 {
			return err
		}
	}
	ex, lerr := d.Kernel.LoadExec(name, argv)
	if lerr != 0 {
		return lerr
	}
	err = d.Kernel.Exec(self, name, ex, launch)
	d.settle(self)
	return err
}

/// Wait implements wait(status_ptr).
func (d *Dispatcher) Wait(self *proc.Tcb_t, statusVa uint32) (defs.Tid_t, defs.Err_t) {
	if statusVa != 0 {
		if err := uaccess.CheckBuffer(self.Proc.Vm, statusVa, 4, true); err != 0 {
			return 0, err
		}
	}
	tid, status, err := d.Kernel.Wait(self)
	if err == 0 && statusVa != 0 {
		_ = uaccess.WriteWord(self.Proc.Vm, statusVa, uint32(status))
	}
	d.settle(self)
	return tid, err
}

/// Vanish implements vanish. It never returns to the caller.
func (d *Dispatcher) Vanish(self *proc.Tcb_t) {
	d.Kernel.Vanish(self)
}

/// SetStatus implements set_status(n).
func (d *Dispatcher) SetStatus(self *proc.Tcb_t, n int32) {
	d.Kernel.SetStatus(self, n)
}

/// Yield implements yield(tid).
func (d *Dispatcher) Yield(self *proc.Tcb_t, tid int32) defs.Err_t {
	next, err := d.Sched.Yield(tid)
	if err != 0 {
		return err
	}
	if next != nil && next != self {
		ctxswitch.Switch(d.Sched, self, next)
	}
	d.settle(self)
	return 0
}

/// Deschedule implements deschedule.
func (d *Dispatcher) Deschedule(self *proc.Tcb_t) {
	ctxswitch.Deschedule(d.Sched, self, func() *proc.Tcb_t { return d.Sched.NextRunnable() })
	d.settle(self)
}

/// MakeRunnable implements make_runnable(tid).
func (d *Dispatcher) MakeRunnable(self *proc.Tcb_t, tid defs.Tid_t) defs.Err_t {
	target, ok := proc.Tids.Get(tid)
	if !ok {
		return defs.ENOTBLOCKED
	}
	target.Lock()
	st := target.State
	pending := target.PendingWake
	target.Unlock()
	if st != proc.ThreadBlocked && !pending {
		return defs.ENOTBLOCKED
	}
	ctxswitch.MakeRunnable(d.Sched, target)
	d.settle(self)
	return 0
}

/// Sleep implements sleep(ticks).
func (d *Dispatcher) Sleep(self *proc.Tcb_t, ticks uint64) {
	wake := d.Sched.Ticks() + ticks
	d.Sched.SetSleeping(self, wake)
	ctxswitch.Switch(d.Sched, self, d.Sched.NextRunnable())
	d.settle(self)
}

/// GetTicks implements get_ticks.
func (d *Dispatcher) GetTicks() uint64 {
	return d.Sched.Ticks()
}

/// NewPages implements new_pages(base, len).
func (d *Dispatcher) NewPages(self *proc.Tcb_t, base, length uint32) defs.Err_t {
	if base&uint32(mem.PGOFFSET) != 0 {
		return defs.EINVAL
	}
	const maxLen = 4095 * mem.PGSIZE
	if length == 0 || length > maxLen || length%mem.PGSIZE != 0 {
		return defs.EINVAL
	}
	pages := length / mem.PGSIZE
	space := self.Proc.Vm
	created := uint32(0)
	for i := uint32(0); i < pages; i++ {
		va := base + i*mem.PGSIZE
		if err := space.CreatePage(va, vm.USER, 0); err != 0 {
			for j := uint32(0); j < created; j++ {
				space.DestroyPage(base + j*mem.PGSIZE)
			}
			return err
		}
		created++
	}
	if _, err := self.Proc.PutMemregion(base, pages); err != 0 {
		for j := uint32(0); j < created; j++ {
			space.DestroyPage(base + j*mem.PGSIZE)
		}
		return err
	}
	return 0
}

/// RemovePages implements remove_pages(base).
func (d *Dispatcher) RemovePages(self *proc.Tcb_t, base uint32) defs.Err_t {
	pages, ok := self.Proc.TakeMemregion(base)
	if !ok {
		return defs.EINVAL
	}
	space := self.Proc.Vm
	for i := uint32(0); i < pages; i++ {
		space.DestroyPage(base + i*mem.PGSIZE)
	}
	return 0
}

/// Getchar implements getchar.
func (d *Dispatcher) Getchar(self *proc.Tcb_t) (byte, bool) {
	d.lockConsole(self)
	defer d.unlockConsole(self)
	return d.Console.Getchar()
}

/// Readline implements readline: validates the destination buffer, then
/// fills it from the console. The whole fill runs under ConsoleLock, so
/// the several internal getchar-style reads that make up one line are
/// never interleaved with another thread's print.
func (d *Dispatcher) Readline(self *proc.Tcb_t, bufVa uint32, n int) (int, defs.Err_t) {
	if err := uaccess.CheckBuffer(self.Proc.Vm, bufVa, n, true); err != 0 {
		return 0, err
	}
	d.lockConsole(self)
	defer d.unlockConsole(self)
	tmp := make([]byte, n)
	got, _ := d.Console.Readline(tmp)
	uaccess.CopyOut(self.Proc.Vm, bufVa, tmp[:got])
	return got, 0
}

/// Print implements print: validates the source buffer, then writes it.
func (d *Dispatcher) Print(self *proc.Tcb_t, bufVa uint32, n int) defs.Err_t {
	if err := uaccess.CheckBuffer(self.Proc.Vm, bufVa, n, false); err != 0 {
		return err
	}
	d.lockConsole(self)
	defer d.unlockConsole(self)
	d.Console.Print(string(uaccess.CopyIn(self.Proc.Vm, bufVa, n)))
	return 0
}

/// SetTermColor implements set_term_color.
func (d *Dispatcher) SetTermColor(self *proc.Tcb_t, fg, bg uint8) {
	d.lockConsole(self)
	defer d.unlockConsole(self)
	d.Console.SetTermColor(fg, bg)
}

/// GetCursorPos implements get_cursor_pos.
func (d *Dispatcher) GetCursorPos(self *proc.Tcb_t) (int, int) {
	d.lockConsole(self)
	defer d.unlockConsole(self)
	return d.Console.GetCursorPos()
}

/// SetCursorPos implements set_cursor_pos.
func (d *Dispatcher) SetCursorPos(self *proc.Tcb_t, row, col int) defs.Err_t {
	d.lockConsole(self)
	defer d.unlockConsole(self)
	return d.Console.SetCursorPos(row, col)
}

/// Halt implements halt by panicking with a shutdown message, which ends
/// the process hosting this kernel unless a caller recovers it.
func (d *Dispatcher) Halt() {
	panic("halt: kernel shutdown requested")
}

/// Swexn implements swexn(esp3, eip, arg, newureg). esp3/eip == 0
/// deregisters the handler.
func (d *Dispatcher) Swexn(self *proc.Tcb_t, esp3, eip, arg uint32, newUreg *except.Ureg, curUreg *except.Ureg) defs.Err_t {
	if esp3 == 0 || eip == 0 {
		self.Swexn = nil
		return 0
	}
	space := self.Proc.Vm
	if err := uaccess.CheckPage(space, eip, false); err != 0 {
		return err
	}
	if err := uaccess.CheckBuffer(space, esp3-4, 4, true); err != 0 {
		return err
	}
	if newUreg != nil {
		if err := except.ValidateNewUreg(curUreg, newUreg); err != 0 {
			return err
		}
		*curUreg = *newUreg
	}
	self.Swexn = &proc.SwexnHandler{Entry: eip, Stack: esp3, Arg: arg}
	return 0
}

/// Readfile implements readfile: validates the name and destination
/// buffer, then copies up to len(dst) bytes of the named ram-disk entry.
func (d *Dispatcher) Readfile(self *proc.Tcb_t, nameVa, dstVa uint32, dstLen int) (int, defs.Err_t) {
	space := self.Proc.Vm
	name, err := uaccess.CheckString(space, nameVa)
	if err != 0 {
		return 0, err
	}
	if err := uaccess.CheckBuffer(space, dstVa, dstLen, true); err != 0 {
		return 0, err
	}
	data, rerr := d.Kernel.Toc.ReadFile(name)
	if rerr != 0 {
		return 0, rerr
	}
	n := len(data)
	if n > dstLen {
		n = dstLen
	}
	uaccess.CopyOut(space, dstVa, data[:n])
	return n, 0
}
