package lifecycle

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/d94ny/x86kernel/ctxswitch"
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/except"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/ramdisk"
	"github.com/d94ny/x86kernel/sched"
	"github.com/d94ny/x86kernel/vm"
)

func newTestKernel(t *testing.T, entries ...ramdisk.Entry) (*Kernel, *sched.Scheduler) {
	t.Helper()
	a := mem.NewAllocator(4096)
	a.InitZeroFrame()
	s := sched.New()
	toc := ramdisk.New(entries)
	return NewKernel(a, s, toc), s
}

func newTestTcb(s *sched.Scheduler) *proc.Tcb_t {
	p := proc.NewPcb(nil, nil)
	t := proc.NewTcb(p)
	t.Resume = make(chan struct{}, 1)
	return t
}

// dispatchAndWait switches from a throwaway driver thread to target and
// waits for done, mirroring the Switch/Resume choreography every other
// package's concurrency tests use.
func dispatchAndWait(t *testing.T, s *sched.Scheduler, target *proc.Tcb_t, done <-chan struct{}) {
	t.Helper()
	driver := newTestTcb(s)
	s.SetRunnable(driver)
	s.SetRunning(driver)
	go ctxswitch.Switch(s, driver, target)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("target thread never ran to completion")
	}
}

func TestCreateGodBodyRunsOnDispatch(t *testing.T) {
	k, s := newTestKernel(t)
	ran := make(chan struct{})
	_, god := k.CreateGod(func(self *proc.Tcb_t) { close(ran) })

	if _, ok := proc.Tids.Get(god.Tid); !ok {
		t.Fatalf("CreateGod did not register the god thread's tid")
	}
	dispatchAndWait(t, s, god, ran)
}

func TestForkRejectsMultiThreadedProcess(t *testing.T) {
	k, s := newTestKernel(t)
	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)
	proc.NewTcb(p) // a second thread in the same process
	s.SetRunnable(self)
	s.SetRunning(self)

	if _, err := k.Fork(self, func(*proc.Tcb_t) {}); err != defs.EMTHREADS {
		t.Errorf("Fork on a multi-threaded process = %v, want EMTHREADS", err)
	}
}

func TestForkChildSharesParentPagesAndRegisters(t *testing.T) {
	k, s := newTestKernel(t)
	space, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, space)
	self := proc.NewTcb(parent)
	s.SetRunnable(self)
	s.SetRunning(self)

	const va = 0x08048000
	space.CreatePage(va, vm.DATA, 0)

	ran := make(chan struct{})
	var childTid defs.Tid_t
	tid, err := k.Fork(self, func(child *proc.Tcb_t) {
		childTid = child.Tid
		close(ran)
	})
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	child, ok := proc.Tids.Get(tid)
	if !ok {
		t.Fatalf("Fork did not register the child's tid")
	}
	dispatchAndWait(t, s, child, ran)
	if childTid != tid {
		t.Errorf("childBody saw tid %d, want %d", childTid, tid)
	}

	if got := len(parent.Children()); got != 1 {
		t.Fatalf("parent.Children() = %d, want 1", got)
	}
	childPcb := parent.Children()[0]
	if _, ok := childPcb.Vm.Translate(va); !ok {
		t.Errorf("child address space missing the page the parent had at fork time")
	}
}

func TestVanishLastThreadReparentsChildrenAndExits(t *testing.T) {
	k, s := newTestKernel(t)

	initSpace, _ := vm.New(k.Alloc)
	initPcb := proc.NewPcb(nil, initSpace)
	k.Init = initPcb

	parentSpace, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, parentSpace)
	self := proc.NewTcb(parent)

	childSpace, _ := vm.New(k.Alloc)
	child := proc.NewPcb(parent, childSpace)
	parent.AddChild(child)

	other := newTestTcb(s)
	s.SetRunnable(other)
	s.SetRunnable(self)
	s.SetRunning(self)

	// Vanish hands off to other and then parks self forever (there is no
	// one left to resume a dead thread), so wait for the hand-off to land
	// on other rather than for Vanish itself to return.
	woke := make(chan struct{})
	go func() {
		<-other.Resume
		close(woke)
	}()
	go k.Vanish(self)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("Vanish never handed off to the other runnable thread")
	}

	if parent.GetState() != proc.ProcExited {
		t.Errorf("parent.GetState() = %v, want ProcExited", parent.GetState())
	}
	if got := len(parent.Children()); got != 0 {
		t.Errorf("parent still lists %d children after vanish, want 0 (reparented)", got)
	}
	if got := len(initPcb.Children()); got != 1 || initPcb.Children()[0] != child {
		t.Errorf("init did not inherit the orphaned child")
	}
}

func TestVanishReparentsAlreadyExitedChildToInit(t *testing.T) {
	k, s := newTestKernel(t)

	initSpace, _ := vm.New(k.Alloc)
	initPcb := proc.NewPcb(nil, initSpace)
	k.Init = initPcb

	parentSpace, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, parentSpace)
	self := proc.NewTcb(parent)

	zombieSpace, _ := vm.New(k.Alloc)
	zombie := proc.NewPcb(parent, zombieSpace)
	zombie.SetState(proc.ProcExited)
	parent.AddChild(zombie)

	other := newTestTcb(s)
	s.SetRunnable(other)
	s.SetRunnable(self)
	s.SetRunning(self)

	woke := make(chan struct{})
	go func() {
		<-other.Resume
		close(woke)
	}()
	go k.Vanish(self)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("Vanish never handed off to the other runnable thread")
	}

	if got := len(parent.Children()); got != 0 {
		t.Errorf("parent still lists %d children after vanish, want 0 (reparented)", got)
	}
	children := initPcb.Children()
	if len(children) != 1 || children[0] != zombie {
		t.Fatalf("init did not inherit the already-exited child")
	}
	if children[0].GetState() != proc.ProcExited {
		t.Errorf("reparented child's state = %v, want still ProcExited", children[0].GetState())
	}
}

func TestHandlePageFaultResolvesZFOD(t *testing.T) {
	k, s := newTestKernel(t)
	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)
	s.SetRunnable(self)
	s.SetRunning(self)

	const va = 0x10000000
	space.CreatePage(va, vm.BSS, 0)
	if got := space.Classify(va); got != vm.FaultZFOD {
		t.Fatalf("Classify(fresh BSS page) = %v, want FaultZFOD", got)
	}

	launched := false
	if err := k.HandlePageFault(self, va, except.VecPageFault, true, nil, func(uint32, uint32) { launched = true }); err != 0 {
		t.Fatalf("HandlePageFault: %v", err)
	}
	if launched {
		t.Errorf("ZFOD resolution should not invoke the swexn launch closure")
	}
	pte, ok := space.Translate(va)
	if !ok {
		t.Fatalf("page vanished after ZFOD resolution")
	}
	if pte&mem.PTE_ZFOD != 0 {
		t.Errorf("PTE still marked ZFOD after resolution")
	}
	if pte&mem.PTE_W == 0 {
		t.Errorf("PTE not writable after ZFOD resolution")
	}
}

func TestHandlePageFaultResolvesCOW(t *testing.T) {
	k, s := newTestKernel(t)
	parentSpace, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, parentSpace)
	self := proc.NewTcb(parent)
	s.SetRunnable(self)
	s.SetRunning(self)

	const va = 0x08048000
	parentSpace.CreatePage(va, vm.DATA, 0)

	childSpace, _ := vm.New(k.Alloc)
	if err := vm.CopyPaging(parentSpace, childSpace); err != 0 {
		t.Fatalf("CopyPaging: %v", err)
	}
	if got := parentSpace.Classify(va); got != vm.FaultCOW {
		t.Fatalf("Classify(shared DATA page) = %v, want FaultCOW", got)
	}

	if err := k.HandlePageFault(self, va, except.VecPageFault, true, nil, nil); err != 0 {
		t.Fatalf("HandlePageFault: %v", err)
	}
	pte, _ := parentSpace.Translate(va)
	if pte&mem.PTE_COW != 0 {
		t.Errorf("PTE still marked COW after resolution")
	}
	if pte&mem.PTE_W == 0 {
		t.Errorf("PTE not writable after COW resolution")
	}
}

func TestHandlePageFaultDeliversSwexnHandler(t *testing.T) {
	k, s := newTestKernel(t)
	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)
	self.Swexn = &proc.SwexnHandler{Entry: 0x08049000, Stack: 0xf0000000, Arg: 7}
	s.SetRunnable(self)
	s.SetRunning(self)

	var entry, stack uint32
	const faultVa = 0
	if err := k.HandlePageFault(self, faultVa, except.VecPageFault, true, nil, func(e, st uint32) {
		entry, stack = e, st
	}); err != 0 {
		t.Fatalf("HandlePageFault: %v", err)
	}
	if entry != 0x08049000 || stack != 0xf0000000 {
		t.Errorf("launch got (entry=%#x, stack=%#x), want (0x8049000, 0xf0000000)", entry, stack)
	}
	if self.Swexn != nil {
		t.Errorf("swexn handler not unregistered after one-shot delivery")
	}
}

func TestHandlePageFaultPanicsThreadWithoutHandler(t *testing.T) {
	k, s := newTestKernel(t)

	initSpace, _ := vm.New(k.Alloc)
	k.Init = proc.NewPcb(nil, initSpace)

	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)

	other := newTestTcb(s)
	s.SetRunnable(other)
	s.SetRunnable(self)
	s.SetRunning(self)

	woke := make(chan struct{})
	go func() {
		<-other.Resume
		close(woke)
	}()
	go k.HandlePageFault(self, 0, except.VecGeneralProtection, true, nil, nil)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("HandlePageFault never vanished the faulting thread")
	}
	if got := p.GetExitStatus(); got != -2 {
		t.Errorf("exit status after unhandled fault = %d, want -2", got)
	}
}

func TestWaitFailsWithNoChildren(t *testing.T) {
	k, _ := newTestKernel(t)
	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)
	if _, _, err := k.Wait(self); err != defs.ENOCHILDREN {
		t.Errorf("Wait() with no children = %v, want ENOCHILDREN", err)
	}
}

func TestWaitReturnsImmediatelyForAlreadyExitedChild(t *testing.T) {
	k, _ := newTestKernel(t)
	parentSpace, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, parentSpace)
	self := proc.NewTcb(parent)

	childSpace, _ := vm.New(k.Alloc)
	child := proc.NewPcb(parent, childSpace)
	child.OriginalTid = 42
	child.SetExitStatus(7)
	child.SetState(proc.ProcExited)
	parent.AddChild(child)

	tid, status, err := k.Wait(self)
	if err != 0 {
		t.Fatalf("Wait: %v", err)
	}
	if tid != 42 || status != 7 {
		t.Errorf("Wait() = (%d, %d), want (42, 7)", tid, status)
	}
	if got := len(parent.Children()); got != 0 {
		t.Errorf("parent.Children() after reap = %d, want 0", got)
	}
}

func TestWaitFailsWhenEveryChildAlreadyHasAWaiter(t *testing.T) {
	k, _ := newTestKernel(t)
	parentSpace, _ := vm.New(k.Alloc)
	parent := proc.NewPcb(nil, parentSpace)
	self := proc.NewTcb(parent)

	childSpace, _ := vm.New(k.Alloc)
	child := proc.NewPcb(parent, childSpace)
	parent.AddChild(child)
	parent.EnqueueWaiter(proc.NewTcb(parent))

	if _, _, err := k.Wait(self); err != defs.EWAITFULL {
		t.Errorf("Wait() with every child already waited-on = %v, want EWAITFULL", err)
	}
}

// buildELF32 assembles a minimal ELF32/EM_386/ET_EXEC image with a single
// PT_LOAD segment -- duplicated from package elfload's test helper since
// debug/elf only reads.
func buildELF32(entry, vaddr uint32, data []byte, memsz uint32, flags uint32) []byte {
	const ehsize = 52
	const phsize = 32
	offset := uint32(ehsize + phsize)

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(3))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(entry))
	binary.Write(&buf, binary.LittleEndian, uint32(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))

	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, offset)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	binary.Write(&buf, binary.LittleEndian, memsz)
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, uint32(0x1000))

	buf.Write(data)
	return buf.Bytes()
}

func TestLoadExecUnknownNameFails(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, err := k.LoadExec("nonesuch", nil); err != defs.ENOSUCHPROC {
		t.Errorf("LoadExec(missing) = %v, want ENOSUCHPROC", err)
	}
}

func TestExecMapsSegmentsAndRecognizesIdle(t *testing.T) {
	const flagsRX = 1 | 4
	raw := buildELF32(0x08048000, 0x08048000, []byte{0x90, 0x90, 0xc3}, 3, flagsRX)
	k, s := newTestKernel(t, ramdisk.Entry{Name: "idle", Bytes: raw})

	space, _ := vm.New(k.Alloc)
	p := proc.NewPcb(nil, space)
	self := proc.NewTcb(p)
	s.SetRunnable(self)
	s.SetRunning(self)

	ex, err := k.LoadExec("idle", []string{"idle"})
	if err != 0 {
		t.Fatalf("LoadExec: %v", err)
	}

	launched := false
	cerr := k.Exec(self, "idle", ex, func(entry, stackTop uint32, argv []string) {
		launched = true
		if entry != 0x08048000 {
			t.Errorf("launch entry = %#x, want 0x08048000", entry)
		}
	})
	if cerr != 0 {
		t.Fatalf("Exec: %v", cerr)
	}
	if !launched {
		t.Fatalf("Exec never invoked launch")
	}
	if _, ok := space.Translate(0x08048000); !ok {
		t.Errorf("Exec did not map the TEXT segment")
	}
	if k.Sched.Current() == nil {
		t.Fatalf("scheduler lost track of the current thread")
	}
}
