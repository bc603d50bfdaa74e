package ksync

import (
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
)

/// Rwlock_t is §4.6's writer-priority reader/writer lock: two condition
/// variables (noThreadsIn for writers, noWritersIn for readers) guarded
/// by one internal mutex.
type Rwlock_t struct {
	guard *Mutex_t

	noThreadsIn *Cond_t
	noWritersIn *Cond_t

	writerIn       bool
	readersIn      int
	writersWaiting int
}

/// NewRwlock constructs an unheld reader/writer lock bound to scheduler s.
func NewRwlock(s *sched.Scheduler) *Rwlock_t {
	return &Rwlock_t{
		guard:       NewMutex(s),
		noThreadsIn: NewCond(s),
		noWritersIn: NewCond(s),
	}
}

/// Lock acquires the lock for writing.
func (rw *Rwlock_t) Lock(self *proc.Tcb_t) {
	rw.guard.Acquire(self)
	rw.writersWaiting++
	for rw.writerIn || rw.readersIn > 0 {
		rw.noThreadsIn.Wait(self, rw.guard)
	}
	rw.writersWaiting--
	rw.writerIn = true
	rw.guard.Release(self)
}

/// RLock acquires the lock for reading. Writer-priority: a reader blocks
/// while any writer holds the lock or is waiting for it.
func (rw *Rwlock_t) RLock(self *proc.Tcb_t) {
	rw.guard.Acquire(self)
	for rw.writerIn || rw.writersWaiting > 0 {
		rw.noWritersIn.Wait(self, rw.guard)
	}
	rw.readersIn++
	rw.guard.Release(self)
}

/// Unlock releases a write lock. writerIn is always cleared here: Lock's
/// wait loop re-checks writerIn||readersIn>0 after waking (Mesa-style,
/// not a baton pass), so a woken writer that still saw writerIn==true
/// would never leave its loop and the handoff would deadlock. Writer
/// priority is preserved by writersWaiting alone -- a reader's RLock loop
/// blocks on writersWaiting>0 regardless of writerIn, so it cannot sneak
/// in ahead of a writer still waiting to be scheduled.
func (rw *Rwlock_t) Unlock(self *proc.Tcb_t) {
	rw.guard.Acquire(self)
	rw.writerIn = false
	if rw.writersWaiting > 0 {
		rw.noThreadsIn.Signal(self)
	} else {
		rw.noWritersIn.Broadcast(self)
	}
	rw.guard.Release(self)
}

/// RUnlock releases a read lock, waking a waiting writer once the last
/// reader leaves.
func (rw *Rwlock_t) RUnlock(self *proc.Tcb_t) {
	rw.guard.Acquire(self)
	rw.readersIn--
	if rw.readersIn == 0 && rw.writersWaiting > 0 {
		rw.noThreadsIn.Signal(self)
	}
	rw.guard.Release(self)
}

/// Downgrade atomically converts a held write lock into a read lock,
/// per §4.6.
func (rw *Rwlock_t) Downgrade(self *proc.Tcb_t) {
	rw.guard.Acquire(self)
	rw.writerIn = false
	rw.readersIn++
	rw.noWritersIn.Broadcast(self)
	rw.guard.Release(self)
}
