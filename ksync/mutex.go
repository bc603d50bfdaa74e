// Package ksync implements the kernel's own synchronization primitives
// (§4.6): a test-and-set mutex with FIFO waiters and yield-to-holder,
// condition variables layered on it, and a writer-priority
// reader/writer lock. It is grounded on biscuit's runtime mutex/condvar
// (the same "park via scheduler block, not via sync.Mutex" approach),
// generalized to cross goroutine boundaries explicitly through package
// sched and ctxswitch rather than a patched runtime's lock primitives.
package ksync

import (
	"runtime"
	"sync/atomic"

	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
)

/// Mutex_t is §4.6's mutex: a test-and-set structure lock plus FIFO
/// waiters threaded through each waiter's Tcb_t.MutexNext.
type Mutex_t struct {
	s *sched.Scheduler

	lock      int32 // the single test-and-set word, mutex_lock
	listOwner *proc.Tcb_t
	owner     *proc.Tcb_t
	head, tail *proc.Tcb_t
}

/// NewMutex constructs an unheld mutex bound to scheduler s.
func NewMutex(s *sched.Scheduler) *Mutex_t {
	return &Mutex_t{s: s}
}

func (m *Mutex_t) testAndSet() bool {
	return atomic.CompareAndSwapInt32(&m.lock, 0, 1)
}

func (m *Mutex_t) clear() {
	atomic.StoreInt32(&m.lock, 0)
}

// spinTake implements step 1: spin on test-and-set, yielding directly to
// whoever currently holds the structure-edit right between attempts.
func (m *Mutex_t) spinTake(self *proc.Tcb_t) {
	for !m.testAndSet() {
		lo := m.listOwner
		if lo != nil && lo != self {
			ctxswitch.Switch(m.s, self, lo)
		} else {
			runtime.Gosched()
		}
	}
	m.listOwner = self
}

func (m *Mutex_t) inQueue(t *proc.Tcb_t) bool {
	for n := m.head; n != nil; n = n.MutexNext {
		if n == t {
			return true
		}
	}
	return false
}

func (m *Mutex_t) enqueue(t *proc.Tcb_t) {
	t.MutexNext = nil
	if m.tail == nil {
		m.head, m.tail = t, t
		return
	}
	m.tail.MutexNext = t
	m.tail = t
}

func (m *Mutex_t) dequeueHead() *proc.Tcb_t {
	if m.head == nil {
		return nil
	}
	t := m.head
	m.head = t.MutexNext
	if m.head == nil {
		m.tail = nil
	}
	t.MutexNext = nil
	return t
}

/// Acquire implements §4.6's full acquire sequence.
func (m *Mutex_t) Acquire(self *proc.Tcb_t) {
	m.spinTake(self)
	if m.owner == nil {
		m.owner = self
		self.PushLock(m)
		m.clear()
		return
	}

	if !m.inQueue(self) {
		m.enqueue(self)
	}
	holder := m.owner
	m.clear()

	for {
		ctxswitch.Switch(m.s, self, holder)
		m.spinTake(self)
		if m.owner == self {
			break
		}
		holder = m.owner
		m.clear()
	}
	self.PushLock(m)
	m.clear()
}

func (m *Mutex_t) release(self *proc.Tcb_t) {
	m.spinTake(self)
	self.PopLock(m)

	var newOwner *proc.Tcb_t
	for {
		cand := m.dequeueHead()
		if cand == nil {
			break
		}
		cand.Lock()
		running := cand.State == proc.ThreadRunning
		cand.Unlock()
		if running {
			newOwner = cand
			break
		}
	}
	m.owner = newOwner
	m.clear()
	if newOwner != nil {
		ctxswitch.Switch(m.s, self, newOwner)
	}
}

/// Release implements §4.6's release sequence, called by the mutex's
/// current owner.
func (m *Mutex_t) Release(self *proc.Tcb_t) {
	m.release(self)
}

/// ReleaseForVanish satisfies proc.Releaser: it is only ever invoked by
/// Tcb_t.DrainLocks on a mutex this exact thread (m.owner) holds, so the
/// owner itself is the correct "self" to resume as.
func (m *Mutex_t) ReleaseForVanish() {
	m.release(m.owner)
}

/// Owner reports the current holder, or nil.
func (m *Mutex_t) Owner() *proc.Tcb_t {
	return m.owner
}
