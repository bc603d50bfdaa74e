package hashtable

import "testing"

func idHash(k int) uint32 { return uint32(k) }

func TestSetGetDel(t *testing.T) {
	tbl := New[int, string](4, idHash)
	tbl.Set(1, "one")
	tbl.Set(2, "two")

	if v, ok := tbl.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = (%q, %v), want (one, true)", v, ok)
	}
	if _, ok := tbl.Get(99); ok {
		t.Errorf("Get(99) found a value, want absent")
	}

	tbl.Del(1)
	if _, ok := tbl.Get(1); ok {
		t.Errorf("Get(1) after Del still present")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d after one Set surviving, want 1", tbl.Len())
	}
}

func TestSetDuplicateKeyPanics(t *testing.T) {
	tbl := New[int, string](4, idHash)
	tbl.Set(1, "one")
	defer func() {
		if recover() == nil {
			t.Errorf("Set(duplicate key) did not panic")
		}
	}()
	tbl.Set(1, "again")
}

func TestDelMissingKeyPanics(t *testing.T) {
	tbl := New[int, string](4, idHash)
	defer func() {
		if recover() == nil {
			t.Errorf("Del(missing key) did not panic")
		}
	}()
	tbl.Del(42)
}

func TestBucketCountRoundsUpToPowerOfTwo(t *testing.T) {
	tbl := New[int, int](5, idHash)
	if got := len(tbl.buckets); got != 8 {
		t.Errorf("bucket count for New(5, ...) = %d, want 8", got)
	}
}

func TestLenAcrossManyBuckets(t *testing.T) {
	tbl := New[int, int](16, idHash)
	for i := 0; i < 100; i++ {
		tbl.Set(i, i*i)
	}
	if got := tbl.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}
	for i := 0; i < 100; i++ {
		v, ok := tbl.Get(i)
		if !ok || v != i*i {
			t.Errorf("Get(%d) = (%d, %v), want (%d, true)", i, v, ok, i*i)
		}
	}
}
