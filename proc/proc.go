// Package proc holds the process (PCB) and thread (TCB) descriptors of
// §3's data model, the monotonic tid/pid counters, and the global tid
// directory. It is grounded on biscuit's proc package (Proc_t/Tid_t
// layout and the Allprocs/Thread_save bookkeeping around it), adapted
// from biscuit's swappable-filesystem-bearing Proc_t down to this
// kernel's narrower process state (no fd table, no filesystem cwd --
// §1 Non-goals exclude both).
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/hashtable"
	"github.com/d94ny/x86kernel/tinfo"
	"github.com/d94ny/x86kernel/vm"
)

/// ProcState is a process's lifecycle state (§3).
type ProcState int

const (
	ProcRunning ProcState = iota
	ProcExited
	ProcBuried
)

/// SchedState is a thread's scheduler state (§3).
type SchedState int

const (
	ThreadRunning SchedState = iota
	ThreadBlocked
	ThreadSleeping
	ThreadWaiting
	ThreadZombie
)

const maxMemregions = 1024 /// §4.7 new_pages/remove_pages table size

/// Memregion is one new_pages-registered span, kept as a page-aligned
/// Base and a separate Pages count rather than packed into one word.
type Memregion struct {
	Used  bool
	Base  uint32
	Pages uint32
}

/// Releaser is a mutex-like resource a thread can hold and that must be
/// released involuntarily on vanish (§4.5). Satisfied by *ksync.Mutex_t
/// without proc importing ksync, avoiding an import cycle (ksync needs
/// *Tcb_t for its waiter queue).
type Releaser interface {
	ReleaseForVanish()
}

/// SwexnHandler is a registered one-shot user exception handler (§4.8).
type SwexnHandler struct {
	Entry uint32
	Stack uint32
	Arg   uint32
}

/// Tcb_t is a thread descriptor (§3's TCB).
type Tcb_t struct {
	Tid   defs.Tid_t
	mu    sync.Mutex
	State SchedState
	Proc  *Pcb_t

	// Esp/Esp0/Esp3 mirror the real kernel-stack-pointer and TSS.esp0
	// fields the teacher's assembly context switch manipulates directly
	// (§4.4). Since this kernel runs each thread as a goroutine rather
	// than hand-building a raw stack, these are bookkeeping only --
	// package ctxswitch uses a park/unpark channel instead of a saved
	// stack pointer to suspend and resume execution, and records the
	// fields here purely so diagnostics and tests can observe the
	// simulated addresses a real dispatch would have programmed.
	Esp, Esp0, Esp3 uint32

	WakeTick uint64
	Swexn    *SwexnHandler

	// PendingWake closes the deschedule/make_runnable race (§4.3): a
	// make_runnable that arrives before the target finishes descheduling
	// sets this instead of touching scheduler lists, and Deschedule
	// checks it under the same per-thread lock before actually blocking.
	PendingWake bool

	AcquiredLocks []Releaser

	Note *tinfo.Tnote_t

	// scheduler-list intrusive links (one of runnable/sleeping/waiting)
	SchedNext, SchedPrev *Tcb_t
	// mutex- and condvar-wait intrusive links
	MutexNext, CondNext *Tcb_t
	// sibling link inside the owning process's thread set
	ProcNext *Tcb_t

	Resume chan struct{} /// park/unpark gate, see package ctxswitch
}

/// Lock/Unlock guard the small set of fields the scheduler mutates
/// (State, WakeTick, list links) independent of the process lock.
func (t *Tcb_t) Lock()   { t.mu.Lock() }
func (t *Tcb_t) Unlock() { t.mu.Unlock() }

/// PushLock records a newly-acquired mutex on this thread's stack, so
/// vanish can release it involuntarily (§4.5).
func (t *Tcb_t) PushLock(r Releaser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AcquiredLocks = append(t.AcquiredLocks, r)
}

/// PopLock removes the most recently acquired mutex, called by the
/// mutex's own Release so the stack mirrors reality even on the
/// voluntary path.
func (t *Tcb_t) PopLock(r Releaser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.AcquiredLocks) - 1; i >= 0; i-- {
		if t.AcquiredLocks[i] == r {
			t.AcquiredLocks = append(t.AcquiredLocks[:i], t.AcquiredLocks[i+1:]...)
			return
		}
	}
}

/// DrainLocks releases every mutex still on this thread's stack,
/// topmost first, as vanish requires (§4.5).
func (t *Tcb_t) DrainLocks() {
	t.mu.Lock()
	locks := t.AcquiredLocks
	t.AcquiredLocks = nil
	t.mu.Unlock()
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].ReleaseForVanish()
	}
}

/// Pcb_t is a process descriptor (§3's PCB).
type Pcb_t struct {
	Pid   defs.Pid_t
	mu    sync.Mutex
	State ProcState

	ExitStatus int32

	Vm *vm.Vm_t

	Memregions [maxMemregions]Memregion

	Parent        *Pcb_t
	children      []*Pcb_t
	LiveChildren  int
	LiveThreads   int
	OriginalTid   defs.Tid_t
	threads       []*Tcb_t
	waiters       []*Tcb_t // threads blocked in wait() on this process
	inFlightWaits int
}

func (p *Pcb_t) Lock()   { p.mu.Lock() }
func (p *Pcb_t) Unlock() { p.mu.Unlock() }

/// SetExitStatus records n as the process's exit status (set_status, §4.5).
func (p *Pcb_t) SetExitStatus(n int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExitStatus = n
}

/// GetExitStatus returns the process's exit status.
func (p *Pcb_t) GetExitStatus() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ExitStatus
}

/// SetState transitions the process's lifecycle state (§3).
func (p *Pcb_t) SetState(s ProcState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.State = s
}

/// GetState reads the process's lifecycle state.
func (p *Pcb_t) GetState() ProcState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

/// AddChild records child under p, under p's lock.
func (p *Pcb_t) AddChild(child *Pcb_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, child)
	p.LiveChildren++
}

/// Children returns a snapshot of the live child list.
func (p *Pcb_t) Children() []*Pcb_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Pcb_t, len(p.children))
	copy(out, p.children)
	return out
}

/// RemoveChild drops child from p's child set once it has been reaped.
func (p *Pcb_t) RemoveChild(child *Pcb_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if c == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			p.LiveChildren--
			return
		}
	}
}

/// Reparent splices child onto p's child list, used when vanish
/// reparents a dying process's surviving children to init (§4.5).
func (p *Pcb_t) Reparent(child *Pcb_t) {
	p.mu.Lock()
	child.mu.Lock()
	child.Parent = p
	child.mu.Unlock()
	p.children = append(p.children, child)
	p.LiveChildren++
	p.mu.Unlock()
}

/// AddThread records t as one of p's threads.
func (p *Pcb_t) AddThread(t *Tcb_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads = append(p.threads, t)
	p.LiveThreads++
}

/// DropThread removes t from p's thread set, called by vanish for the
/// vanishing thread.
func (p *Pcb_t) DropThread(t *Tcb_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.threads {
		if o == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	p.LiveThreads--
	return p.LiveThreads
}

/// Threads returns a snapshot of p's live threads.
func (p *Pcb_t) Threads() []*Tcb_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Tcb_t, len(p.threads))
	copy(out, p.threads)
	return out
}

/// NumThreads reports the count of live threads, for fork's
/// EMTHREADS check (§4.5).
func (p *Pcb_t) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

/// EnqueueWaiter appends t to the threads blocked in wait() on p.
func (p *Pcb_t) EnqueueWaiter(t *Tcb_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters = append(p.waiters, t)
	p.inFlightWaits++
}

/// PopWaiter removes and returns the first waiter, if any, called when
/// a vanishing process hands a collector thread its exit.
func (p *Pcb_t) PopWaiter() (*Tcb_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) == 0 {
		return nil, false
	}
	t := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.inFlightWaits--
	return t, true
}

/// WaitersFull reports whether every live child already has an in-flight
/// waiter (§4.5 wait's WaitFull condition). Caller holds no lock; this
/// takes p's lock internally.
func (p *Pcb_t) WaitersFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlightWaits >= p.LiveChildren && p.LiveChildren > 0
}

/// PutMemregion finds a free slot and records base|pages, returning the
/// index, or EBUSY if the table (1024 entries, §4.7) is full.
func (p *Pcb_t) PutMemregion(base, pages uint32) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.Memregions {
		if !p.Memregions[i].Used {
			p.Memregions[i] = Memregion{Used: true, Base: base, Pages: pages}
			return i, 0
		}
	}
	return 0, defs.EBUSY
}

/// TakeMemregion finds and clears the entry whose base matches, reporting
/// its page count, for remove_pages (§4.7).
func (p *Pcb_t) TakeMemregion(base uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.Memregions {
		if p.Memregions[i].Used && p.Memregions[i].Base == base {
			pages := p.Memregions[i].Pages
			p.Memregions[i] = Memregion{}
			return pages, true
		}
	}
	return 0, false
}

var nextTid int32
var nextPid int32

/// NewTid hands out the next strictly-monotonic tid (§3 invariant 6).
func NewTid() defs.Tid_t {
	return defs.Tid_t(atomic.AddInt32(&nextTid, 1))
}

/// NewPid hands out the next strictly-monotonic pid.
func NewPid() defs.Pid_t {
	return defs.Pid_t(atomic.AddInt32(&nextPid, 1))
}

func tidHash(t defs.Tid_t) uint32 { return uint32(t) }
func pidHash(p defs.Pid_t) uint32 { return uint32(p) }

/// Tids is the global tid -> Tcb_t directory backing O(1) lookup (§4.3).
var Tids = hashtable.New[defs.Tid_t, *Tcb_t](256, tidHash)

/// Pids is the global pid -> Pcb_t directory.
var Pids = hashtable.New[defs.Pid_t, *Pcb_t](256, pidHash)

/// NewTcb allocates and registers a thread descriptor owned by p.
func NewTcb(p *Pcb_t) *Tcb_t {
	t := &Tcb_t{
		Tid:    NewTid(),
		State:  ThreadZombie,
		Proc:   p,
		Resume: make(chan struct{}, 1),
		Note:   &tinfo.Tnote_t{Alive: true},
	}
	Tids.Set(t.Tid, t)
	p.AddThread(t)
	return t
}

/// NewPcb allocates and registers a process descriptor.
func NewPcb(parent *Pcb_t, addrSpace *vm.Vm_t) *Pcb_t {
	p := &Pcb_t{
		Pid:    NewPid(),
		State:  ProcRunning,
		Vm:     addrSpace,
		Parent: parent,
	}
	Pids.Set(p.Pid, p)
	return p
}
