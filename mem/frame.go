package mem

import "sync"

// USERSTART is the first frame index this allocator owns. Frames below
// it stand in for the kernel's direct-mapped, never-freed region
// (§3 invariants): operations on an address below it fail
// ErrKernelFrame, exactly as biscuit's Physmem_t distinguishes kernel
// pages from the pool it tracks via phys.startn.
const USERSTART Pa_t = 256 * PGSIZE

/// Allocator is the reference-counted pool of physical frames described
/// in §4.1: one byte per frame (ref ∈ 0..=255), plus next, the id of
/// some frame with ref = 0 (or -1 if none). One mutex protects both.
type Allocator struct {
	mu      sync.Mutex
	arena   []Frame
	ref     []uint8
	nexti   []int32 // free-list link, parallel to ref
	next    int32   // index of some free frame, or -1
	zero    int32   // index of the read-only shared zero frame
	zeroSet bool
}

/// NewAllocator builds an allocator over nframes user-mode frames,
/// starting logical physical address USERSTART.
func NewAllocator(nframes int) *Allocator {
	a := &Allocator{
		arena: make([]Frame, nframes),
		ref:   make([]uint8, nframes),
		nexti: make([]int32, nframes),
		next:  0,
		zero:  -1,
	}
	for i := range a.nexti {
		if i+1 < nframes {
			a.nexti[i] = int32(i + 1)
		} else {
			a.nexti[i] = -1
		}
	}
	return a
}

func (a *Allocator) idx(pa Pa_t) (int, bool) {
	if pa < USERSTART {
		return 0, false
	}
	i := int((pa - USERSTART) / PGSIZE)
	if i < 0 || i >= len(a.arena) {
		return 0, false
	}
	return i, true
}

func (a *Allocator) addr(i int) Pa_t {
	return USERSTART + Pa_t(i)*PGSIZE
}

/// InitZeroFrame allocates the globally shared, read-only zero frame used
/// for ZFOD mappings. Must be called exactly once during boot, before
/// any create_page(BSS) call, per §9's fixed boot order.
func (a *Allocator) InitZeroFrame() Pa_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zeroSet {
		panic("mem: zero frame already initialized")
	}
	i := a.takeLocked()
	if i < 0 {
		panic("mem: out of frames during boot")
	}
	a.arena[i] = Frame{}
	a.ref[i] = 1
	a.zero = int32(i)
	a.zeroSet = true
	return a.addr(i)
}

/// ZeroFrame returns the address of the shared zero frame.
func (a *Allocator) ZeroFrame() Pa_t {
	return a.addr(int(a.zero))
}

func (a *Allocator) takeLocked() int {
	if a.next < 0 {
		return -1
	}
	i := int(a.next)
	a.next = a.nexti[i]
	return i
}

func (a *Allocator) putLocked(i int) {
	a.nexti[i] = a.next
	a.next = int32(i)
}

/// Alloc returns the address of an unused frame with its refcount set to
/// 1, without zeroing it. Fails ErrNoFrames when the pool is exhausted.
func (a *Allocator) Alloc() (Pa_t, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.takeLocked()
	if i < 0 {
		return 0, ErrNoFrames
	}
	a.ref[i] = 1
	return a.addr(i), nil
}

/// AllocZeroed is like Alloc but zero-fills the frame first.
func (a *Allocator) AllocZeroed() (Pa_t, error) {
	pa, err := a.Alloc()
	if err != nil {
		return 0, err
	}
	i, _ := a.idx(pa)
	a.arena[i] = Frame{}
	return pa, nil
}

/// Get increments a frame's refcount, as happens when a second PTE
/// starts pointing at an already-allocated frame (e.g. fork's
/// copy_paging). Fails ErrKernelFrame below USERSTART, ErrTooManyOwners
/// at 255.
func (a *Allocator) Get(pa Pa_t) error {
	i, ok := a.idx(pa)
	if !ok {
		return ErrKernelFrame
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ref[i] >= 255 {
		return ErrTooManyOwners
	}
	a.ref[i]++
	return nil
}

/// Free decrements a frame's refcount, returning it to the free list on
/// the 1->0 transition. Fails ErrFreeOwnerless when already at 0,
/// ErrKernelFrame below USERSTART.
func (a *Allocator) Free(pa Pa_t) error {
	i, ok := a.idx(pa)
	if !ok {
		return ErrKernelFrame
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ref[i] == 0 {
		return ErrFreeOwnerless
	}
	a.ref[i]--
	if a.ref[i] == 0 {
		a.putLocked(i)
	}
	return nil
}

/// Refcount returns a frame's current reference count.
func (a *Allocator) Refcount(pa Pa_t) int {
	i, ok := a.idx(pa)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.ref[i])
}

/// Bytes returns the frame's backing storage for direct read/write,
/// analogous to biscuit's Dmap direct-mapped access.
func (a *Allocator) Bytes(pa Pa_t) *Frame {
	i, ok := a.idx(pa)
	if !ok {
		panic("mem: Bytes of a kernel/out-of-range address")
	}
	return &a.arena[i]
}

/// SumRefs totals every tracked frame's refcount. Used by the §8 "fork
/// bomb survivability" test to assert the pool returns to baseline.
func (a *Allocator) SumRefs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := 0
	for _, r := range a.ref {
		s += int(r)
	}
	return s
}

/// CopyOnWrite implements §4.1's copy_on_write: if the frame currently
/// mapped at pa has refcount 1, it is already exclusively owned and this
/// is a no-op. Otherwise it allocates a fresh frame, copies the old
/// frame's bytes through a kernel-owned bounce buffer (a local Go value
/// copy -- the real constraint this avoids in a bare-metal target is that
/// the source virtual address must keep mapping the old frame while the
/// copy runs, which a local copy naturally preserves), and decrements the
/// old frame's refcount. The caller (paging's page-fault handler) is
/// responsible for rewriting the PTE to the returned frame and flushing
/// the TLB.
func (a *Allocator) CopyOnWrite(old Pa_t) (Pa_t, error) {
	i, ok := a.idx(old)
	if !ok {
		return 0, ErrKernelFrame
	}
	a.mu.Lock()
	single := a.ref[i] == 1
	a.mu.Unlock()
	if single {
		return old, nil
	}

	var bounce Frame
	bounce = *a.Bytes(old)

	fresh, err := a.Alloc()
	if err != nil {
		return 0, err
	}
	*a.Bytes(fresh) = bounce
	if err := a.Free(old); err != nil {
		// the allocation above succeeded; a failure to drop the old
		// reference is an accounting bug, not a recoverable error.
		panic(err)
	}
	return fresh, nil
}
