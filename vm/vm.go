// Package vm implements IA-32 paging: the per-process page directory,
// PTE flag algebra, ZFOD/COW propagation, and the page-fault handler
// (§4.2). It is grounded on biscuit's vm.Vm_t and mem/dmap.go -- the
// same "address space wraps a page-table root behind a mutex" shape --
// generalized from biscuit's 4-level amd64 PML4/PDPT/PD/PT walk down to
// IA-32's 2-level page-directory/page-table walk, and from biscuit's
// VANON/VFILE/VSANON region types down to this spec's simpler
// TEXT/RODATA/DATA/HEAP/STACK/BSS/USER page types (§4.2 create_page).
package vm

import (
	"encoding/binary"
	"sync"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/mem"
)

const entries = 1024 /// PDEs or PTEs per table on IA-32 (no PAE)

/// PageType selects the PTE flags create_page installs, per §4.2.
type PageType int

const (
	TEXT PageType = iota /// read-only code
	RODATA
	DATA  /// read-write initialized data
	HEAP
	STACK
	BSS   /// ZFOD until first write
	USER  /// new_pages()-allocated region
)

func (t PageType) writable() bool {
	return t != TEXT && t != RODATA
}

/// table overlays a raw Pa_t-indexed array of entries on top of a
/// physical frame, mirroring biscuit's Pmap_t cast over a Pg_t.
type table struct {
	alloc *mem.Allocator
	frame mem.Pa_t
}

func (t table) get(i int) mem.Pa_t {
	b := t.alloc.Bytes(t.frame)
	return mem.Pa_t(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
}

func (t table) set(i int, v mem.Pa_t) {
	b := t.alloc.Bytes(t.frame)
	binary.LittleEndian.PutUint32(b[i*4:i*4+4], uint32(v))
}

func pdIndex(va uint32) int { return int(va>>22) & (entries - 1) }
func ptIndex(va uint32) int { return int(va>>12) & (entries - 1) }

/// kernEntries holds the fixed set of page-directory entries every
/// process's directory shares: the direct-mapped, global, supervisor-only
/// kernel region (§3 invariant: "never freed", identical in every
/// directory). Populated once by InitKernelMap during boot.
var kernEntries = map[int]mem.Pa_t{}
var kernLock sync.Mutex

/// InitKernelMap records a kernel page-directory entry that every
/// subsequent New() copies into the new process's directory. Called only
/// during the fixed boot sequence (§9), before any process is created.
func InitKernelMap(pdSlot int, pde mem.Pa_t) {
	kernLock.Lock()
	defer kernLock.Unlock()
	kernEntries[pdSlot] = pde | mem.PTE_P | mem.PTE_W | mem.PTE_G
}

/// Vm_t is a process's virtual address space: a page-directory root plus
/// the allocator it draws frames from. The mutex serializes all
/// modifications to the directory and its tables, matching biscuit's
/// Vm_t.Lock_pmap/Unlock_pmap discipline.
type Vm_t struct {
	mu    sync.Mutex
	alloc *mem.Allocator
	dir   mem.Pa_t
}

/// New allocates a fresh page directory, pre-populated with the shared
/// kernel entries from InitKernelMap.
func New(alloc *mem.Allocator) (*Vm_t, error) {
	dir, err := alloc.AllocZeroed()
	if err != nil {
		return nil, err
	}
	v := &Vm_t{alloc: alloc, dir: dir}
	kernLock.Lock()
	for slot, pde := range kernEntries {
		table{alloc, dir}.set(slot, pde)
	}
	kernLock.Unlock()
	return v, nil
}

/// Dir returns the physical address of the page-directory root (the
/// value that would be loaded into CR3).
func (v *Vm_t) Dir() mem.Pa_t { return v.dir }

func (v *Vm_t) dirTable() table { return table{v.alloc, v.dir} }

// ptableFor returns the page table covering va, allocating it if
// allocate is true and none exists yet.
func (v *Vm_t) ptableFor(va uint32, allocate bool) (table, bool, defs.Err_t) {
	pdi := pdIndex(va)
	dt := v.dirTable()
	pde := dt.get(pdi)
	if pde&mem.PTE_P == 0 {
		if !allocate {
			return table{}, false, 0
		}
		ptFrame, err := v.alloc.AllocZeroed()
		if err != nil {
			return table{}, false, defs.ENOMEM
		}
		dt.set(pdi, ptFrame|mem.PTE_P|mem.PTE_W|mem.PTE_U)
		return table{v.alloc, ptFrame}, true, 0
	}
	return table{v.alloc, pde & mem.PTE_ADDR}, true, 0
}

/// CreatePage implements §4.2's create_page(va, type, ref_frame). When
/// refFrame is non-zero the page is mapped to it with COW set and write
/// cleared, without taking a reference on it (CopyPaging does not use
/// this path; it copies PTEs itself); when typ == BSS it maps the shared
/// zero frame with ZFOD set; otherwise it allocates a fresh frame.
func (v *Vm_t) CreatePage(va uint32, typ PageType, refFrame mem.Pa_t) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()

	pt, _, err := v.ptableFor(va, true)
	if err != 0 {
		return err
	}
	pti := ptIndex(va)
	if pt.get(pti)&mem.PTE_P != 0 {
		return defs.EPRESENT
	}

	flags := mem.PTE_P | mem.PTE_U
	if typ.writable() {
		flags |= mem.PTE_W
	}

	switch {
	case refFrame != 0:
		flags |= mem.PTE_COW
		flags &^= mem.PTE_W
		pt.set(pti, (refFrame&mem.PTE_ADDR)|flags)
	case typ == BSS:
		flags |= mem.PTE_ZFOD
		flags &^= mem.PTE_W
		pt.set(pti, (v.alloc.ZeroFrame()&mem.PTE_ADDR)|flags)
	default:
		frame, aerr := v.alloc.AllocZeroed()
		if aerr != nil {
			return defs.ENOMEM
		}
		pt.set(pti, (frame&mem.PTE_ADDR)|flags)
	}
	return 0
}

/// DestroyPage tears down one user PTE, flushing the TLB (a no-op in
/// this hosted simulation; real hardware would invlpg here) and
/// releasing the underlying frame. The zero frame and kernel pages are
/// left alone, per §4.2.
func (v *Vm_t) DestroyPage(va uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.destroyPageLocked(va)
}

func (v *Vm_t) destroyPageLocked(va uint32) {
	pt, ok, _ := v.ptableFor(va, false)
	if !ok {
		return
	}
	pti := ptIndex(va)
	pte := pt.get(pti)
	if pte&mem.PTE_P == 0 || pte&mem.PTE_G != 0 {
		return
	}
	frame := pte & mem.PTE_ADDR
	if frame == v.alloc.ZeroFrame() {
		pt.set(pti, 0)
		return
	}
	pt.set(pti, 0)
	if err := v.alloc.Free(frame); err != nil && err != mem.ErrKernelFrame {
		panic(err)
	}
}

/// ResetPaging releases every non-global user PTE in this directory
/// (skipping zero-frame PTEs), used by exec to wipe the caller's address
/// space before loading a new image (§4.5).
func (v *Vm_t) ResetPaging() {
	v.mu.Lock()
	defer v.mu.Unlock()
	dt := v.dirTable()
	for pdi := 0; pdi < entries; pdi++ {
		pde := dt.get(pdi)
		if pde&mem.PTE_P == 0 || pde&mem.PTE_G != 0 {
			continue
		}
		for pti := 0; pti < entries; pti++ {
			va := uint32(pdi)<<22 | uint32(pti)<<12
			v.destroyPageLocked(va)
		}
		dt.set(pdi, 0)
		if err := v.alloc.Free(pde & mem.PTE_ADDR); err != nil {
			panic(err)
		}
	}
}

/// CopyPaging implements §4.2's copy_paging: walks the parent directory
/// and, for each user-present PTE, shares the underlying frame
/// copy-on-write between parent and child. A frame whose refcount
/// saturates triggers an immediate eager copy through a bounce buffer
/// instead of failing the fork; a kernel-frame PTE (global) is skipped.
/// On any hard failure the child's paging is torn down and the error
/// propagated -- the parent may be left with some writable bits already
/// cleared, which is correctness-preserving (the next write fault sees
/// ref == 1 and upgrades in place, per §4.2's note).
func CopyPaging(parent, child *Vm_t) defs.Err_t {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	child.mu.Lock()
	defer child.mu.Unlock()

	alloc := parent.alloc
	pdt := parent.dirTable()
	cdt := child.dirTable()

	for pdi := 0; pdi < entries; pdi++ {
		pde := pdt.get(pdi)
		if pde&mem.PTE_P == 0 || pde&mem.PTE_G != 0 {
			continue // kernel entry, shared verbatim already via New()
		}
		ppt := table{alloc, pde & mem.PTE_ADDR}

		cpde := cdt.get(pdi)
		var cpt table
		if cpde&mem.PTE_P == 0 {
			ptFrame, err := alloc.AllocZeroed()
			if err != nil {
				child.teardownLocked()
				return defs.ENOMEM
			}
			cdt.set(pdi, ptFrame|mem.PTE_P|mem.PTE_W|mem.PTE_U)
			cpt = table{alloc, ptFrame}
		} else {
			cpt = table{alloc, cpde & mem.PTE_ADDR}
		}

		for pti := 0; pti < entries; pti++ {
			pte := ppt.get(pti)
			if pte&mem.PTE_P == 0 {
				continue
			}
			cpt.set(pti, pte)

			frame := pte & mem.PTE_ADDR
			if frame == alloc.ZeroFrame() {
				continue // ZFOD, shared read-only, no refcount dance needed
			}
			wasReadonly := pte&mem.PTE_W == 0 && pte&mem.PTE_ZFOD == 0

			err := alloc.Get(frame)
			switch err {
			case nil:
				if alloc.Refcount(frame) >= 2 && !wasReadonly {
					newpte := pte &^ mem.PTE_W
					newpte |= mem.PTE_COW
					ppt.set(pti, newpte)
					cpt.set(pti, newpte)
				}
			case mem.ErrTooManyOwners:
				fresh, cowErr := eagerCopy(alloc, frame)
				if cowErr != nil {
					child.teardownLocked()
					return defs.ENOMEM
				}
				newpte := (pte &^ mem.PTE_ADDR) | fresh
				cpt.set(pti, newpte)
			case mem.ErrKernelFrame:
				// ignored per §4.2
			default:
				child.teardownLocked()
				return defs.ENOMEM
			}
		}
	}
	return 0
}

func eagerCopy(alloc *mem.Allocator, src mem.Pa_t) (mem.Pa_t, error) {
	var bounce mem.Frame
	bounce = *alloc.Bytes(src)
	fresh, err := alloc.Alloc()
	if err != nil {
		return 0, err
	}
	*alloc.Bytes(fresh) = bounce
	return fresh, nil
}

func (v *Vm_t) teardownLocked() {
	dt := v.dirTable()
	for pdi := 0; pdi < entries; pdi++ {
		pde := dt.get(pdi)
		if pde&mem.PTE_P == 0 || pde&mem.PTE_G != 0 {
			continue
		}
		pt := table{v.alloc, pde & mem.PTE_ADDR}
		for pti := 0; pti < entries; pti++ {
			pte := pt.get(pti)
			if pte&mem.PTE_P == 0 {
				continue
			}
			frame := pte & mem.PTE_ADDR
			if frame != v.alloc.ZeroFrame() {
				_ = v.alloc.Free(frame)
			}
		}
		_ = v.alloc.Free(pde & mem.PTE_ADDR)
		dt.set(pdi, 0)
	}
}

/// Teardown releases the directory's user mappings and frees the
/// directory frame itself. Called once a process has become EXITED and
/// BURIED (§3 process lifecycle).
func (v *Vm_t) Teardown() {
	v.mu.Lock()
	v.teardownLocked()
	v.mu.Unlock()
	_ = v.alloc.Free(v.dir)
}

/// Translate returns the raw PTE (address bits plus flags) mapped at va,
/// and whether it is present. Used by package uaccess to validate and
/// locate syscall argument buffers without going through the page-fault
/// path (§4.7's check_page/check_buffer/check_string family).
func (v *Vm_t) Translate(va uint32) (mem.Pa_t, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pt, ok, _ := v.ptableFor(va, false)
	if !ok {
		return 0, false
	}
	pte := pt.get(ptIndex(va))
	if pte&mem.PTE_P == 0 {
		return 0, false
	}
	return pte, true
}

/// Alloc exposes the frame allocator backing this address space, so
/// callers (package uaccess) can turn a translated PTE into actual
/// bytes via Allocator.Bytes.
func (v *Vm_t) Alloc() *mem.Allocator { return v.alloc }

/// FaultKind classifies a page fault for the three-way policy in §4.2.
type FaultKind int

const (
	FaultZFOD FaultKind = iota
	FaultCOW
	FaultUnrecoverable
)

/// Classify inspects the PTE backing va and reports which policy branch
/// of the page-fault handler applies, without mutating any state.
func (v *Vm_t) Classify(va uint32) FaultKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	pt, ok, _ := v.ptableFor(va, false)
	if !ok {
		return FaultUnrecoverable
	}
	pte := pt.get(ptIndex(va))
	switch {
	case pte&mem.PTE_ZFOD != 0:
		return FaultZFOD
	case pte&mem.PTE_COW != 0:
		return FaultCOW
	default:
		return FaultUnrecoverable
	}
}

/// ResolveZFOD implements §4.2 step 1: allocate a frame, clear ZFOD, set
/// writable, point the PTE at the new frame, and zero it. Returns
/// ENOMEM on allocator exhaustion so the caller can fall through to the
/// generic "no handler" path, per §9's documented (and preserved)
/// behavior under memory pressure.
func (v *Vm_t) ResolveZFOD(va uint32) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	pt, ok, _ := v.ptableFor(va, false)
	if !ok {
		return defs.EFAULT
	}
	pti := ptIndex(va)
	pte := pt.get(pti)
	if pte&mem.PTE_ZFOD == 0 {
		return defs.EINVAL
	}
	frame, err := v.alloc.AllocZeroed()
	if err != nil {
		return defs.ENOMEM
	}
	newpte := (pte &^ (mem.PTE_ADDR | mem.PTE_ZFOD)) | mem.PTE_W | frame
	pt.set(pti, newpte)
	return 0
}

/// ResolveCOW implements §4.2 step 2: clear COW, set writable, and hand
/// the underlying frame to the allocator's copy_on_write.
func (v *Vm_t) ResolveCOW(va uint32) defs.Err_t {
	v.mu.Lock()
	pt, ok, _ := v.ptableFor(va, false)
	if !ok {
		v.mu.Unlock()
		return defs.EFAULT
	}
	pti := ptIndex(va)
	pte := pt.get(pti)
	if pte&mem.PTE_COW == 0 {
		v.mu.Unlock()
		return defs.EINVAL
	}
	oldFrame := pte & mem.PTE_ADDR
	v.mu.Unlock()

	newFrame, err := v.alloc.CopyOnWrite(oldFrame)
	if err != nil {
		return defs.ENOMEM
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	pte = pt.get(pti)
	newpte := (pte &^ (mem.PTE_ADDR | mem.PTE_COW)) | mem.PTE_W | newFrame
	pt.set(pti, newpte)
	return 0
}
