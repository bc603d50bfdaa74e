// Package lifecycle implements fork, thread_fork, exec, set_status,
// vanish, and wait (§4.5): the operations that create, transform, and
// tear down processes and threads. Grounded on biscuit's sys_fork/
// sys_execv/sys_wait/proc_t.terminate (package proc/syscall.go),
// adapted to this kernel's narrower process model (no fd table to
// duplicate or close, no filesystem cwd -- §1 Non-goals) and to the
// explicit-continuation fork translation described in package
// ctxswitch: Go cannot literally duplicate a call stack and branch on
// a return value, so Fork/ThreadFork take the child's future code as an
// explicit closure instead of relying on a zero-vs-nonzero return.
package lifecycle

import (
	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/elfload"
	"github.com/d94ny/x86kernel/except"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/ramdisk"
	"github.com/d94ny/x86kernel/sched"
	"github.com/d94ny/x86kernel/tinfo"
	"github.com/d94ny/x86kernel/uaccess"
	"github.com/d94ny/x86kernel/util"
	"github.com/d94ny/x86kernel/vm"
)

/// Kernel bundles the shared state fork/exec/wait/vanish operate over.
/// One instance exists per running kernel (or per test harness).
type Kernel struct {
	Alloc *mem.Allocator
	Sched *sched.Scheduler
	Toc   *ramdisk.Toc
	Notes *tinfo.Threadinfo_t

	Init *proc.Pcb_t // the well-known reparenting target, set once exec sees "init"
}

/// NewKernel constructs an empty kernel context.
func NewKernel(alloc *mem.Allocator, s *sched.Scheduler, toc *ramdisk.Toc) *Kernel {
	notes := &tinfo.Threadinfo_t{}
	notes.Init()
	return &Kernel{Alloc: alloc, Sched: s, Toc: toc, Notes: notes}
}

/// CreateGod builds the first process (§3's create_god, called exactly
/// once during boot) with a fresh empty address space and one thread,
/// which body runs once dispatched.
func (k *Kernel) CreateGod(body func(self *proc.Tcb_t)) (*proc.Pcb_t, *proc.Tcb_t) {
	space, err := vm.New(k.Alloc)
	if err != nil {
		panic(err)
	}
	p := proc.NewPcb(nil, space)
	t := proc.NewTcb(p)
	p.OriginalTid = t.Tid
	k.Notes.Put(t.Tid, t.Note)
	go func() {
		<-t.Resume
		body(t)
	}()
	k.Sched.SetRunnable(t)
	return p, t
}

/// Fork implements §4.5's fork: copies the PCB and address space (via
/// copy_paging) and the calling TCB, and makes the child runnable.
/// childBody is the child's continuation -- the Go translation of
/// "returns 0 in the child" -- and runs once the scheduler actually
/// dispatches the new thread. Fails EMTHREADS if the caller's process
/// has more than one thread (§4.5).
func (k *Kernel) Fork(self *proc.Tcb_t, childBody func(child *proc.Tcb_t)) (defs.Tid_t, defs.Err_t) {
	parent := self.Proc
	if parent.NumThreads() > 1 {
		return 0, defs.EMTHREADS
	}

	childSpace, err := vm.New(k.Alloc)
	if err != nil {
		return 0, defs.ENOMEM
	}
	if cerr := vm.CopyPaging(parent.Vm, childSpace); cerr != 0 {
		return 0, cerr
	}

	// childPcb's Memregions array is zero-valued -- a fresh, empty table,
	// per §4.5 ("fresh memory-region table"); the parent's entries track
	// its own new_pages regions and are never copied.
	childPcb := proc.NewPcb(parent, childSpace)
	parent.AddChild(childPcb)

	childTcb := proc.NewTcb(childPcb)
	childPcb.OriginalTid = childTcb.Tid
	childTcb.Swexn = self.Swexn
	k.Notes.Put(childTcb.Tid, childTcb.Note)

	go func() {
		<-childTcb.Resume
		childBody(childTcb)
	}()
	k.Sched.SetRunnable(childTcb)

	return childTcb.Tid, 0
}

/// ThreadFork implements §4.5's thread_fork: a new thread sharing the
/// caller's process and address space. swexn is not inherited.
func (k *Kernel) ThreadFork(self *proc.Tcb_t, childBody func(child *proc.Tcb_t)) (defs.Tid_t, defs.Err_t) {
	p := self.Proc
	childTcb := proc.NewTcb(p)
	k.Notes.Put(childTcb.Tid, childTcb.Note)

	go func() {
		<-childTcb.Resume
		childBody(childTcb)
	}()
	k.Sched.SetRunnable(childTcb)

	return childTcb.Tid, 0
}

/// SetStatus implements set_status(n) (§4.5).
func (k *Kernel) SetStatus(self *proc.Tcb_t, n int32) {
	self.Proc.SetExitStatus(n)
}

/// ExecImage is everything exec needs after argument validation: the
/// looked-up binary's parsed ELF image plus the materialized argv.
type ExecImage struct {
	Image *elfload.Image
	Argv  []string
}

/// LoadExec resolves name on the ram disk and parses it, materializing
/// argv into kernel-owned storage (since reset_paging below wipes user
/// pages) ahead of resetting the caller's address space, per §4.5's
/// ordering requirement.
func (k *Kernel) LoadExec(name string, argv []string) (*ExecImage, defs.Err_t) {
	raw, err := k.Toc.Lookup(name)
	if err != 0 {
		return nil, err
	}
	img, berr := elfload.Parse(raw)
	if berr != 0 {
		return nil, berr
	}
	argvCopy := append([]string(nil), argv...)
	return &ExecImage{Image: img, Argv: argvCopy}, 0
}

const (
	userStackTop  = 0xf0000000
	userStackSize = mem.PGSIZE
	argvPagesBase = userStackTop // Exec maps no pages at or above this address
)

/// Exec implements §4.5's exec: resets paging, loads the ELF image
/// (TEXT/RODATA read-only, DATA read-write, and a DATA segment's pages
/// past its file bytes as BSS ZFOD, each page mapped exactly once), maps
/// one empty user stack page just below userStackTop, and launches to the
/// entry point, handing argv to launch as a Go slice. No argv strings or
/// pointers are written into user memory, and no page is mapped above the
/// stack. idle and init are recognized by literal
/// name and registered with the scheduler/kernel as §4.5 requires.
/// launch is the caller-supplied trampoline representing "the process's
/// new user-mode execution", standing in for the iret this kernel
/// cannot perform from hosted Go.
func (k *Kernel) Exec(self *proc.Tcb_t, name string, ex *ExecImage, launch func(entry, stackTop uint32, argv []string)) defs.Err_t {
	space := self.Proc.Vm
	space.ResetPaging()

	for _, seg := range ex.Image.Segments {
		base := util.Rounddown(seg.Vaddr, uint32(mem.PGSIZE))
		end := util.Roundup(seg.Vaddr+seg.Memsz, uint32(mem.PGSIZE))
		fileEnd := util.Roundup(seg.Vaddr+seg.Filesz, uint32(mem.PGSIZE))
		for va := base; va < end; va += mem.PGSIZE {
			typ := seg.Type
			if typ == vm.DATA && va >= fileEnd {
				typ = vm.BSS // past the file bytes: zero-fill on demand
			}
			if cerr := space.CreatePage(va, typ, 0); cerr != 0 && cerr != defs.EPRESENT {
				return cerr
			}
		}
		if len(seg.Data) > 0 {
			uaccess.CopyOut(space, seg.Vaddr, seg.Data)
		}
	}

	if name == "idle" {
		k.Sched.SetIdle(self)
	}
	if name == "init" {
		k.Init = self.Proc
	}

	if serr := space.CreatePage(userStackTop-userStackSize, vm.STACK, 0); serr != 0 && serr != defs.EPRESENT {
		return serr
	}

	launch(ex.Image.Entry, userStackTop, ex.Argv)
	return 0
}

/// HandlePageFault implements §4.2's three-branch page-fault policy
/// chained into §4.8's delivery-or-panic fallback: try ZFOD, then COW,
/// then deliver to the faulting thread's swexn handler, then panic the
/// thread (or the kernel, for a fault that reached here from kernel
/// mode). code is the bytes at the faulting eip, if available, used
/// only for KernelPanicMessage's disassembly. launch is invoked solely
/// on the swexn-delivery branch, with the handler's entry point and
/// prepared stack.
func (k *Kernel) HandlePageFault(self *proc.Tcb_t, va uint32, vec except.Vector, fromUser bool, code []byte, launch func(entry, stackTop uint32)) defs.Err_t {
	space := self.Proc.Vm

	switch space.Classify(va) {
	case vm.FaultZFOD:
		if err := space.ResolveZFOD(va); err == 0 {
			return 0
		}
		// OOM: fall through to swexn-or-panic, per §9's documented
		// (and preserved) behavior under memory pressure.
	case vm.FaultCOW:
		return space.ResolveCOW(va)
	}

	f := except.Fault{
		Vector:   vec,
		FromUser: fromUser,
		Ureg:     except.Ureg{Eip: va, FaultVaddr: va},
		Code:     code,
	}
	outcome, h := except.Deliver(self, f)
	switch outcome {
	case except.OutcomeLaunchHandler:
		launch(h.Entry, h.Stack)
	case except.OutcomePanicKernel:
		panic(f.KernelPanicMessage())
	case except.OutcomePanicThread:
		k.SetStatus(self, -2)
		k.Vanish(self)
	}
	return 0
}

/// Vanish implements §4.5's vanish: unsets scheduler state, involuntarily
/// releases every held mutex, decrements the process's thread count, and
/// -- if this was the last thread -- vanishes the owning process
/// (reparenting to init, marking EXITED, and waking a blocked waiter if
/// one exists). next is the thread context-switched to once this
/// thread's own execution is irrevocably abandoned.
func (k *Kernel) Vanish(self *proc.Tcb_t) {
	self.DrainLocks()

	p := self.Proc
	remaining := p.DropThread(self)
	self.Lock()
	self.State = proc.ThreadZombie
	self.Unlock()
	k.Sched.Retire(self)

	if remaining > 0 {
		next := k.Sched.NextRunnable()
		ctxswitch.Switch(k.Sched, self, next)
		return
	}

	k.vanishProcess(p)

	next := k.Sched.NextRunnable()
	if waiter, ok := p.PopWaiter(); ok {
		ctxswitch.MakeRunnable(k.Sched, waiter)
		next = waiter
	}
	ctxswitch.Switch(k.Sched, self, next)
}

// vanishProcess reparents every surviving child -- running or already
// EXITED -- to init, so a child that raced its own vanish against its
// parent's stays reapable instead of leaking its Pcb_t/Vm_t with no one
// left to wait() on it.
func (k *Kernel) vanishProcess(p *proc.Pcb_t) {
	if k.Init != nil && k.Init != p {
		for _, child := range p.Children() {
			p.RemoveChild(child)
			k.Init.Reparent(child)
		}
	}
	p.SetState(proc.ProcExited)
}

/// Wait implements §4.5's wait: fails NoChildren/WaitFull, otherwise
/// polls for an already-EXITED child, or blocks until one vanishes.
/// Returns the reaped child's original tid and its exit status.
func (k *Kernel) Wait(self *proc.Tcb_t) (defs.Tid_t, int32, defs.Err_t) {
	p := self.Proc
	if p.LiveChildren == 0 {
		return 0, 0, defs.ENOCHILDREN
	}
	if p.WaitersFull() {
		return 0, 0, defs.EWAITFULL
	}

	for {
		for _, child := range p.Children() {
			if child.GetState() == proc.ProcExited {
				return k.reap(p, child), child.GetExitStatus(), 0
			}
		}
		k.Sched.SetWaiting(self, p)
		ctxswitch.Deschedule(k.Sched, self, func() *proc.Tcb_t { return k.Sched.NextRunnable() })
	}
}

func (k *Kernel) reap(parent, child *proc.Pcb_t) defs.Tid_t {
	origTid := child.OriginalTid
	for _, t := range child.Threads() {
		proc.Tids.Del(t.Tid)
		k.Notes.Del(t.Tid)
	}
	child.Vm.Teardown()
	parent.RemoveChild(child)
	child.SetState(proc.ProcBuried)
	proc.Pids.Del(child.Pid)
	return origTid
}
