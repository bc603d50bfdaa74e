package proc

import (
	"testing"

	"github.com/d94ny/x86kernel/defs"
)

type fakeReleaser struct{ released bool }

func (f *fakeReleaser) ReleaseForVanish() { f.released = true }

func TestNewTidNewPidMonotonic(t *testing.T) {
	a := NewTid()
	b := NewTid()
	if b <= a {
		t.Errorf("NewTid not monotonic: %d then %d", a, b)
	}
	p1 := NewPid()
	p2 := NewPid()
	if p2 <= p1 {
		t.Errorf("NewPid not monotonic: %d then %d", p1, p2)
	}
}

func TestNewPcbNewTcbRegisterInHashtables(t *testing.T) {
	p := NewPcb(nil, nil)
	if _, ok := Pids.Get(p.Pid); !ok {
		t.Fatalf("NewPcb did not register pid %d", p.Pid)
	}
	tcb := NewTcb(p)
	if _, ok := Tids.Get(tcb.Tid); !ok {
		t.Fatalf("NewTcb did not register tid %d", tcb.Tid)
	}
	if p.NumThreads() != 1 {
		t.Errorf("NumThreads = %d, want 1", p.NumThreads())
	}
}

func TestDrainLocksReleasesTopmostFirst(t *testing.T) {
	p := NewPcb(nil, nil)
	tcb := NewTcb(p)

	var order []int
	r1 := &orderedReleaser{id: 1, order: &order}
	r2 := &orderedReleaser{id: 2, order: &order}
	tcb.PushLock(r1)
	tcb.PushLock(r2)

	tcb.DrainLocks()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("DrainLocks order = %v, want [2 1] (topmost first)", order)
	}
	if len(tcb.AcquiredLocks) != 0 {
		t.Errorf("AcquiredLocks not cleared after DrainLocks")
	}
}

type orderedReleaser struct {
	id    int
	order *[]int
}

func (r *orderedReleaser) ReleaseForVanish() { *r.order = append(*r.order, r.id) }

func TestPopLockRemovesSpecificEntry(t *testing.T) {
	p := NewPcb(nil, nil)
	tcb := NewTcb(p)
	r1, r2 := &fakeReleaser{}, &fakeReleaser{}
	tcb.PushLock(r1)
	tcb.PushLock(r2)
	tcb.PopLock(r1)
	if len(tcb.AcquiredLocks) != 1 || tcb.AcquiredLocks[0] != r2 {
		t.Errorf("PopLock did not remove the targeted entry cleanly")
	}
}

func TestChildReparentAndRemove(t *testing.T) {
	parent := NewPcb(nil, nil)
	init := NewPcb(nil, nil)
	child := NewPcb(parent, nil)
	parent.AddChild(child)

	if got := len(parent.Children()); got != 1 {
		t.Fatalf("parent has %d children, want 1", got)
	}

	parent.RemoveChild(child)
	init.Reparent(child)

	if got := len(parent.Children()); got != 0 {
		t.Errorf("parent still lists reparented child")
	}
	if got := len(init.Children()); got != 1 {
		t.Errorf("init did not gain the reparented child")
	}
	if child.Parent != init {
		t.Errorf("child.Parent not updated by Reparent")
	}
}

func TestMemregionPutTakeAndExhaustion(t *testing.T) {
	p := NewPcb(nil, nil)
	idx, err := p.PutMemregion(0x40000000, 4)
	if err != 0 {
		t.Fatalf("PutMemregion: %v", err)
	}
	if idx < 0 || idx >= maxMemregions {
		t.Fatalf("PutMemregion returned out-of-range index %d", idx)
	}
	pages, ok := p.TakeMemregion(0x40000000)
	if !ok || pages != 4 {
		t.Fatalf("TakeMemregion = (%d, %v), want (4, true)", pages, ok)
	}
	if _, ok := p.TakeMemregion(0x40000000); ok {
		t.Errorf("TakeMemregion succeeded twice on the same base")
	}

	for i := 0; i < maxMemregions; i++ {
		if _, err := p.PutMemregion(uint32(i)*0x1000, 1); err != 0 {
			t.Fatalf("PutMemregion #%d: %v, want success", i, err)
		}
	}
	if _, err := p.PutMemregion(0xdeadb000, 1); err != defs.EBUSY {
		t.Errorf("PutMemregion on full table = %v, want EBUSY", err)
	}
}

func TestWaitersFullTracksInFlightWaits(t *testing.T) {
	p := NewPcb(nil, nil)
	if p.WaitersFull() {
		t.Fatalf("WaitersFull true with no children")
	}
	child := NewPcb(p, nil)
	p.AddChild(child)
	if p.WaitersFull() {
		t.Fatalf("WaitersFull true with no waiters yet")
	}
	tcb := NewTcb(p)
	p.EnqueueWaiter(tcb)
	if !p.WaitersFull() {
		t.Errorf("WaitersFull false once every live child has a waiter")
	}
	if w, ok := p.PopWaiter(); !ok || w != tcb {
		t.Errorf("PopWaiter = (%v, %v), want (tcb, true)", w, ok)
	}
	if p.WaitersFull() {
		t.Errorf("WaitersFull true after the only waiter was popped")
	}
}

func TestDropThreadReturnsRemainingCount(t *testing.T) {
	p := NewPcb(nil, nil)
	t1 := NewTcb(p)
	t2 := NewTcb(p)
	if remaining := p.DropThread(t1); remaining != 1 {
		t.Errorf("DropThread first = %d, want 1", remaining)
	}
	if remaining := p.DropThread(t2); remaining != 0 {
		t.Errorf("DropThread last = %d, want 0", remaining)
	}
}
