package mem

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	a := NewAllocator(4)
	pa, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := a.Refcount(pa); got != 1 {
		t.Errorf("fresh frame refcount = %d, want 1", got)
	}
	if err := a.Free(pa); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if got := a.Refcount(pa); got != 0 {
		t.Errorf("freed frame refcount = %d, want 0", got)
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := NewAllocator(2)
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if _, err := a.Alloc(); err != ErrNoFrames {
		t.Errorf("Alloc on exhausted pool = %v, want ErrNoFrames", err)
	}
}

func TestFreeOwnerless(t *testing.T) {
	a := NewAllocator(2)
	pa, _ := a.Alloc()
	a.Free(pa)
	if err := a.Free(pa); err != ErrFreeOwnerless {
		t.Errorf("double free = %v, want ErrFreeOwnerless", err)
	}
}

func TestGetSaturates(t *testing.T) {
	a := NewAllocator(2)
	pa, _ := a.Alloc()
	for i := 0; i < 254; i++ {
		if err := a.Get(pa); err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
	}
	if got := a.Refcount(pa); got != 255 {
		t.Fatalf("refcount after saturating Get = %d, want 255", got)
	}
	if err := a.Get(pa); err != ErrTooManyOwners {
		t.Errorf("Get past 255 = %v, want ErrTooManyOwners", err)
	}
}

func TestKernelFrameRejected(t *testing.T) {
	a := NewAllocator(2)
	if err := a.Get(0); err != ErrKernelFrame {
		t.Errorf("Get(0) = %v, want ErrKernelFrame", err)
	}
	if err := a.Free(0); err != ErrKernelFrame {
		t.Errorf("Free(0) = %v, want ErrKernelFrame", err)
	}
}

func TestCopyOnWriteSingleOwnerIsNoop(t *testing.T) {
	a := NewAllocator(4)
	pa, _ := a.Alloc()
	got, err := a.CopyOnWrite(pa)
	if err != nil {
		t.Fatalf("CopyOnWrite: %v", err)
	}
	if got != pa {
		t.Errorf("single-owner CopyOnWrite returned %v, want the same frame %v", got, pa)
	}
}

func TestCopyOnWriteSharedSplits(t *testing.T) {
	a := NewAllocator(4)
	pa, _ := a.Alloc()
	a.Bytes(pa)[0] = 0xAB
	if err := a.Get(pa); err != nil {
		t.Fatalf("Get: %v", err)
	}

	fresh, err := a.CopyOnWrite(pa)
	if err != nil {
		t.Fatalf("CopyOnWrite: %v", err)
	}
	if fresh == pa {
		t.Fatalf("shared CopyOnWrite returned the same frame")
	}
	if a.Bytes(fresh)[0] != 0xAB {
		t.Errorf("copy did not preserve frame contents")
	}
	if got := a.Refcount(pa); got != 1 {
		t.Errorf("old frame refcount after split = %d, want 1", got)
	}
	if got := a.Refcount(fresh); got != 1 {
		t.Errorf("new frame refcount after split = %d, want 1", got)
	}
}

func TestSumRefsTracksAllocations(t *testing.T) {
	a := NewAllocator(8)
	if got := a.SumRefs(); got != 0 {
		t.Fatalf("SumRefs on empty pool = %d, want 0", got)
	}
	p1, _ := a.Alloc()
	p2, _ := a.Alloc()
	a.Get(p1)
	if got := a.SumRefs(); got != 3 {
		t.Errorf("SumRefs = %d, want 3", got)
	}
	a.Free(p1)
	a.Free(p1)
	a.Free(p2)
	if got := a.SumRefs(); got != 0 {
		t.Errorf("SumRefs after draining = %d, want 0", got)
	}
}

// TestConcurrentAllocFreeReturnsToBaseline stands in for §8 scenario 2's
// 200-fork-bomb property: many goroutines (one per simulated fork-and-exit)
// hammer Alloc/Get/Free concurrently, and once every one has settled the
// allocator's sum(ref[*]) must be back at the pre-run baseline.
func TestConcurrentAllocFreeReturnsToBaseline(t *testing.T) {
	a := NewAllocator(200)
	baseline := a.SumRefs()

	var g errgroup.Group
	for i := 0; i < 200; i++ {
		g.Go(func() error {
			pa, err := a.Alloc()
			if err != nil {
				return err
			}
			if err := a.Get(pa); err != nil {
				return err
			}
			if err := a.Free(pa); err != nil {
				return err
			}
			return a.Free(pa)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent alloc/free: %v", err)
	}
	if got := a.SumRefs(); got != baseline {
		t.Errorf("SumRefs after 200 concurrent fork-and-frees = %d, want baseline %d", got, baseline)
	}
}
