package ksync

import (
	"testing"
	"time"

	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/sched"
)

func newTestTcb(s *sched.Scheduler) *proc.Tcb_t {
	p := proc.NewPcb(nil, nil)
	t := proc.NewTcb(p)
	t.Resume = make(chan struct{}, 1)
	return t
}

func TestMutexUncontendedAcquireRelease(t *testing.T) {
	s := sched.New()
	m := NewMutex(s)
	self := newTestTcb(s)
	s.SetRunnable(self)
	s.SetRunning(self)

	m.Acquire(self)
	if m.Owner() != self {
		t.Fatalf("Owner() = %v, want self", m.Owner())
	}
	if len(self.AcquiredLocks) != 1 {
		t.Fatalf("AcquiredLocks = %v, want one entry", self.AcquiredLocks)
	}

	m.Release(self)
	if m.Owner() != nil {
		t.Errorf("Owner() after Release = %v, want nil", m.Owner())
	}
	if len(self.AcquiredLocks) != 0 {
		t.Errorf("AcquiredLocks after Release = %v, want empty", self.AcquiredLocks)
	}
}

func TestMutexContendedHandoff(t *testing.T) {
	s := sched.New()
	m := NewMutex(s)

	holder := newTestTcb(s)
	waiter := newTestTcb(s)

	s.SetRunnable(holder)
	s.SetRunning(holder)
	m.Acquire(holder)

	s.SetRunnable(waiter)
	acquired := make(chan struct{})
	go func() {
		<-waiter.Resume
		m.Acquire(waiter)
		close(acquired)
	}()

	// Hand the CPU to waiter; its Acquire call enqueues it and blocks,
	// switching back to holder once it does (the inner Switch handoff in
	// Acquire), so this call returns once control comes back to holder.
	ctxswitch.Switch(s, holder, waiter)

	// Release hands off directly to waiter and then parks holder awaiting
	// its own next resume, which this test never delivers -- run it in its
	// own goroutine so the handoff can complete without blocking the test.
	go m.Release(holder)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the mutex after release handed off to it")
	}

	if m.Owner() != waiter {
		t.Errorf("Owner() = %v, want waiter", m.Owner())
	}
}
