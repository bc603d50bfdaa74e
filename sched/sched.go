// Package sched implements the four thread collections and the dispatch
// and time-slicing policy of §4.3. It is grounded on biscuit's
// scheduler (the runnable/sleeping lists threaded through Tcb_t, plus
// Schedule()'s pick-next-thread loop), adapted from biscuit's
// many-core, runtime-goroutine-backed scheduler (one OS thread parks per
// idle core) down to a single-core design: exactly one thread's code
// runs at a time, modeled by every non-running thread's goroutine
// parking on a receive from its own Tcb_t.Resume channel. Dispatch
// (package ctxswitch) is the only place that sends on a Resume channel,
// so "runnable list head" and "the one goroutine actually executing"
// never disagree -- the same invariant §3 states for no_switch.
package sched

import (
	"sort"
	"sync"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/diag"
	"github.com/d94ny/x86kernel/proc"
)

/// Scheduler owns the runnable/sleeping lists and the tick counter. One
/// instance exists per kernel instance (tests construct their own).
type Scheduler struct {
	mu       sync.Mutex
	runnable []*proc.Tcb_t // FIFO; index 0 is the head (current, normally)
	sleeping []*proc.Tcb_t // sorted by WakeTick ascending
	idle     *proc.Tcb_t
	current  *proc.Tcb_t
	ticks    uint64
	noSwitch bool
	pending  *proc.Tcb_t // set by Tick, consumed cooperatively, see TakePending

	// Profiler, if set, records one sample per tick naming which thread
	// was current -- the D_PROF consumer the Ambient Stack's test tooling
	// needs to exercise package diag's pprof export. Nil by default: a
	// production boot never pays for sampling it doesn't ask for.
	Profiler *diag.Profiler
}

/// New constructs an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

/// SetIdle registers the idle thread, consulted by the tick handler's
/// step 4 (§4.3).
func (s *Scheduler) SetIdle(t *proc.Tcb_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = t
}

/// Current returns the thread presently marked RUNNING.
func (s *Scheduler) Current() *proc.Tcb_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) removeRunnableLocked(t *proc.Tcb_t) {
	for i, o := range s.runnable {
		if o == t {
			s.runnable = append(s.runnable[:i], s.runnable[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) removeSleepingLocked(t *proc.Tcb_t) {
	for i, o := range s.sleeping {
		if o == t {
			s.sleeping = append(s.sleeping[:i], s.sleeping[i+1:]...)
			return
		}
	}
}

// removeLocked takes t out of whichever of runnable/sleeping/waiting it
// currently occupies, idempotently, per §4.3's "each first removes the
// thread from its current list" rule.
func (s *Scheduler) removeLocked(t *proc.Tcb_t) {
	switch t.State {
	case proc.ThreadRunning:
		s.removeRunnableLocked(t)
	case proc.ThreadSleeping:
		s.removeSleepingLocked(t)
	case proc.ThreadWaiting:
		// waiting lists live on the owning Pcb_t (proc.Pcb_t.waiters);
		// PopWaiter there is the only removal path and is called by the
		// code that wakes a waiter, not by this generic transition.
	}
}

/// SetRunnable moves t onto the tail of the runnable list.
func (s *Scheduler) SetRunnable(t *proc.Tcb_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
	t.Lock()
	t.State = proc.ThreadRunning
	t.Unlock()
	s.runnable = append(s.runnable, t)
}

/// SetBlocked marks t BLOCKED and off every list -- it is reachable only
/// via the global tid table until a make_runnable or signal retrieves it.
func (s *Scheduler) SetBlocked(t *proc.Tcb_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
	t.Lock()
	t.State = proc.ThreadBlocked
	t.Unlock()
}

/// SetSleeping inserts t into the sleeping list, sorted by wake tick.
func (s *Scheduler) SetSleeping(t *proc.Tcb_t, wake uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
	t.Lock()
	t.State = proc.ThreadSleeping
	t.WakeTick = wake
	t.Unlock()
	i := sort.Search(len(s.sleeping), func(i int) bool { return s.sleeping[i].WakeTick > wake })
	s.sleeping = append(s.sleeping, nil)
	copy(s.sleeping[i+1:], s.sleeping[i:])
	s.sleeping[i] = t
}

/// SetWaiting marks t WAITING and enqueues it on owner's wait() queue.
func (s *Scheduler) SetWaiting(t *proc.Tcb_t, owner *proc.Pcb_t) {
	s.mu.Lock()
	s.removeLocked(t)
	s.mu.Unlock()
	t.Lock()
	t.State = proc.ThreadWaiting
	t.Unlock()
	owner.EnqueueWaiter(t)
}

/// SetRunning marks target RUNNING, copies its Esp into the simulated
/// Esp0 (no page-directory root is installed), clears the do-not-switch
/// flag, and records it as
/// current. This is the target-side half of context_switch (§4.4).
func (s *Scheduler) SetRunning(t *proc.Tcb_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeRunnableLocked(t)
	t.Lock()
	t.State = proc.ThreadRunning
	t.Esp0 = t.Esp
	t.Unlock()
	s.runnable = append([]*proc.Tcb_t{t}, s.runnable...)
	s.current = t
	s.noSwitch = false
}

/// NoSwitch sets the do-not-switch-me-out veto (§4.3's do-not-switch
/// protocol), consulted by Tick before preempting.
func (s *Scheduler) NoSwitch(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSwitch = on
}

/// Tick implements the 100Hz timer handler (§4.3): advance the clock,
/// honor the do-not-switch veto, drain expired sleepers, and pick the
/// next thread to run. Returns the thread to context-switch to, or nil
/// if dispatch should not occur (either vetoed, or no change needed).
func (s *Scheduler) Tick() *proc.Tcb_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	now := s.ticks
	if s.Profiler != nil && s.current != nil {
		s.Profiler.Record(diag.Sample{Tid: int32(s.current.Tid), Symbol: "sched.Tick", Ticks: 1})
	}
	if s.noSwitch {
		return nil
	}

	for len(s.sleeping) > 0 && s.sleeping[0].WakeTick <= now {
		t := s.sleeping[0]
		s.sleeping = s.sleeping[1:]
		t.Lock()
		t.State = proc.ThreadRunning
		t.Unlock()
		s.runnable = append(s.runnable, t)
	}

	if len(s.runnable) == 0 {
		return nil
	}

	cur := s.current
	if cur != nil && cur != s.idle {
		s.removeRunnableLocked(cur)
		s.runnable = append(s.runnable, cur)
	} else if cur == s.idle {
		nonIdle := -1
		for i, t := range s.runnable {
			if t != s.idle {
				nonIdle = i
				break
			}
		}
		if nonIdle < 0 {
			return nil
		}
		// idle never occupies the head while another thread is runnable
		// (§4.3's idle-vs-non-idle rotation): swap the found thread to the
		// front instead of rotating idle to the back, since idle has
		// nowhere useful to rotate to -- it is always re-enqueued the next
		// time nothing else is runnable.
		s.runnable[0], s.runnable[nonIdle] = s.runnable[nonIdle], s.runnable[0]
	}

	next := s.runnable[0]
	if next == cur {
		return nil
	}
	// The timer handler's goroutine cannot itself perform the switch (only
	// a thread's own goroutine may park itself, see package ctxswitch), so
	// the recommendation is also latched here for the running thread to
	// pick up cooperatively the next time it crosses into kernel code
	// (package scalls' settle calls TakePending at the end of fork,
	// thread_fork, exec, wait, yield, deschedule, make_runnable and sleep).
	s.pending = next
	return next
}

/// TakePending returns and clears a pending preemption recommendation
/// left by Tick, if self is still the recorded current thread (it may no
/// longer be, if self already yielded voluntarily since the tick fired).
func (s *Scheduler) TakePending(self *proc.Tcb_t) *proc.Tcb_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.current != self {
		return nil
	}
	next := s.pending
	s.pending = nil
	return next
}

/// Ticks returns the current tick count (get_ticks, §6).
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

/// Yield implements §4.3's yield(tid): tid == -1 rotates the runnable
/// list; tid >= 0 moves that specific RUNNING thread to the head.
/// Returns the thread that should next be dispatched, or nil if nothing
/// changes.
func (s *Scheduler) Yield(tid int32) (*proc.Tcb_t, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid < 0 {
		if len(s.runnable) < 2 {
			return nil, 0
		}
		head := s.runnable[0]
		s.runnable = append(s.runnable[1:], head)
		return s.runnable[0], 0
	}
	target, ok := proc.Tids.Get(defs.Tid_t(tid))
	if !ok {
		return nil, defs.ENOTRUNNABLE
	}
	target.Lock()
	st := target.State
	target.Unlock()
	if st != proc.ThreadRunning {
		return nil, defs.ENOTRUNNABLE
	}
	s.removeRunnableLocked(target)
	s.runnable = append([]*proc.Tcb_t{target}, s.runnable...)
	return target, 0
}

/// NextRunnable returns the current runnable-list head, used by callers
/// that must pick a thread to switch to after blocking themselves (e.g.
/// ksync's deschedule path), or nil if nothing is runnable.
func (s *Scheduler) NextRunnable() *proc.Tcb_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runnable) == 0 {
		return nil
	}
	return s.runnable[0]
}

/// RunnableLen reports the runnable list's length, for tests.
func (s *Scheduler) RunnableLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runnable)
}

/// Retire unconditionally drops t from the runnable list, for vanish
/// (§4.5): a zombie thread's State no longer matches any of
/// removeLocked's cases (it has already moved past ThreadRunning), so
/// without this it would linger in the runnable list and could even be
/// handed back out by NextRunnable as its own successor.
func (s *Scheduler) Retire(t *proc.Tcb_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == t {
		s.current = nil
	}
	s.removeRunnableLocked(t)
}
