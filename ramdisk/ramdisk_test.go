package ramdisk

import (
	"bytes"
	"testing"

	"github.com/d94ny/x86kernel/defs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "init", Bytes: []byte{1, 2, 3}},
		{Name: "shell", Bytes: []byte("hello world")},
		{Name: "empty", Bytes: nil},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Decode returned %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Name != e.Name {
			t.Errorf("entry %d name = %q, want %q", i, got[i].Name, e.Name)
		}
		if !bytes.Equal(got[i].Bytes, e.Bytes) && len(got[i].Bytes)+len(e.Bytes) != 0 {
			t.Errorf("entry %d bytes = %v, want %v", i, got[i].Bytes, e.Bytes)
		}
	}
}

func TestEncodeRejectsOverlongName(t *testing.T) {
	name := make([]byte, 0x10000)
	var buf bytes.Buffer
	if err := Encode(&buf, []Entry{{Name: string(name), Bytes: nil}}); err == nil {
		t.Errorf("Encode with a 64KiB+ name succeeded, want error")
	}
}

func TestTocLookupAndReadFileDistinctErrors(t *testing.T) {
	toc := New([]Entry{{Name: "init", Bytes: []byte("payload")}})

	b, err := toc.Lookup("init")
	if err != 0 || !bytes.Equal(b, []byte("payload")) {
		t.Fatalf("Lookup(init) = (%v, %v), want (payload, 0)", b, err)
	}
	if _, err := toc.Lookup("missing"); err != defs.ENOSUCHPROC {
		t.Errorf("Lookup(missing) = %v, want ENOSUCHPROC", err)
	}

	b, err = toc.ReadFile("init")
	if err != 0 || !bytes.Equal(b, []byte("payload")) {
		t.Fatalf("ReadFile(init) = (%v, %v), want (payload, 0)", b, err)
	}
	if _, err := toc.ReadFile("missing"); err != defs.ENOENT {
		t.Errorf("ReadFile(missing) = %v, want ENOENT (not ENOSUCHPROC)", err)
	}
}
