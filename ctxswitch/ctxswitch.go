// Package ctxswitch performs the actual handoff of execution between
// threads (§4.4). The teacher hand-builds a child kernel stack and
// exchanges esp values through a C-level helper; a hosted Go kernel has
// no stack pointer to hand-build. Instead every thread runs as its own
// goroutine that spends all of its "blocked" time parked on a receive
// from its Tcb_t.Resume channel, and Switch is the only place that ever
// sends on one -- so at most one thread's goroutine is ever unparked,
// which is the uniprocessor property §4.4 relies on (the "exchange esp"
// step and "call set_running" step collapse into one atomic handoff).
package ctxswitch

import (
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
)

/// Switch performs the target-side half of §4.4's context switch: mark
/// target running (copying its Esp into the simulated esp0; no
/// page-directory root is installed) and wake its goroutine. If
/// self != target, the caller then
/// parks until someone switches back to it. Called with self equal to
/// the presently-running thread -- i.e. from inside that thread's own
/// goroutine -- exactly as the real assembly only ever switches away
/// from the CPU's current context.
func Switch(s *sched.Scheduler, self, target *proc.Tcb_t) {
	if target == nil || target == self {
		return
	}
	s.SetRunning(target)
	select {
	case target.Resume <- struct{}{}:
	default:
	}
	if self != nil {
		<-self.Resume
	}
}

/// Launch starts a brand-new thread's goroutine and switches to it
/// immediately, used by fork/thread_fork's child and by exec's launch to
/// the ELF entry point (§4.4 "launch to user mode"). body runs as the
/// thread's entire kernel-to-user-and-back lifetime; Launch returns once
/// self is rescheduled.
func Launch(s *sched.Scheduler, self, child *proc.Tcb_t, body func()) {
	go func() {
		<-child.Resume // wait to actually be dispatched
		body()
	}()
	Switch(s, self, child)
}

/// Deschedule implements §4.3's deschedule/make_runnable race guard: it
/// marks self BLOCKED and switches to the given next-runnable thread,
/// unless a racing MakeRunnable already arrived, in which case it
/// returns immediately without ever leaving the runnable set.
func Deschedule(s *sched.Scheduler, self *proc.Tcb_t, pickNext func() *proc.Tcb_t) {
	self.Lock()
	if self.PendingWake {
		self.PendingWake = false
		self.Unlock()
		return
	}
	self.Unlock()

	s.SetBlocked(self)

	self.Lock()
	if self.PendingWake {
		self.PendingWake = false
		self.Unlock()
		s.SetRunnable(self)
		return
	}
	self.Unlock()

	next := pickNext()
	Switch(s, self, next)
}

/// MakeRunnable implements the other half of the race guard: if target
/// is BLOCKED it is moved to runnable immediately; if it is still in the
/// middle of descheduling (its lock held, state not yet BLOCKED) the
/// pending-wake flag is set so Deschedule sees it and skips blocking.
func MakeRunnable(s *sched.Scheduler, target *proc.Tcb_t) {
	target.Lock()
	if target.State != proc.ThreadBlocked {
		target.PendingWake = true
		target.Unlock()
		return
	}
	target.Unlock()
	s.SetRunnable(target)
}
