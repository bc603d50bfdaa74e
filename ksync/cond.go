package ksync

import (
	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
)

/// Cond_t is §4.6's condition variable: a FIFO waiter list threaded
/// through each waiter's Tcb_t.CondNext, guarded by its own mutex.
type Cond_t struct {
	s       *sched.Scheduler
	guard   *Mutex_t
	head, tail *proc.Tcb_t
}

/// NewCond constructs a condition variable bound to scheduler s.
func NewCond(s *sched.Scheduler) *Cond_t {
	return &Cond_t{s: s, guard: NewMutex(s)}
}

func (c *Cond_t) enqueue(t *proc.Tcb_t) {
	t.CondNext = nil
	if c.tail == nil {
		c.head, c.tail = t, t
		return
	}
	c.tail.CondNext = t
	c.tail = t
}

func (c *Cond_t) dequeue() *proc.Tcb_t {
	if c.head == nil {
		return nil
	}
	t := c.head
	c.head = t.CondNext
	if c.head == nil {
		c.tail = nil
	}
	t.CondNext = nil
	return t
}

/// Wait implements §4.6's cv.wait(user_mutex): enqueue self, release the
/// caller-supplied mutex, deschedule, and on wake reacquire it.
func (c *Cond_t) Wait(self *proc.Tcb_t, userMutex *Mutex_t) {
	c.guard.Acquire(self)
	c.enqueue(self)
	c.guard.Release(self)

	userMutex.Release(self)

	ctxswitch.Deschedule(c.s, self, func() *proc.Tcb_t { return c.s.NextRunnable() })

	userMutex.Acquire(self)
}

/// Signal implements §4.6's signal: pop the head waiter and
/// make_runnable it, yielding first if the target has not yet actually
/// descheduled (closing the enqueue/deschedule window).
func (c *Cond_t) Signal(self *proc.Tcb_t) {
	c.guard.Acquire(self)
	target := c.dequeue()
	c.guard.Release(self)
	if target == nil {
		return
	}
	for {
		target.Lock()
		st := target.State
		target.Unlock()
		if st == proc.ThreadBlocked {
			break
		}
		ctxswitch.Switch(c.s, self, target)
	}
	ctxswitch.MakeRunnable(c.s, target)
}

/// Broadcast wakes every waiter.
func (c *Cond_t) Broadcast(self *proc.Tcb_t) {
	for {
		c.guard.Acquire(self)
		empty := c.head == nil
		c.guard.Release(self)
		if empty {
			return
		}
		c.Signal(self)
	}
}
