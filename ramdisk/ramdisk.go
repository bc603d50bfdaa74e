// Package ramdisk implements the flat table-of-contents RAM disk this
// kernel uses in place of a real filesystem (§1 Non-goals: filesystem
// beyond a ram-disk TOC). Grounded on biscuit's boot-time ramdisk
// loading (the embedded image biscuit's Makefile links in and chentry
// patches), reduced from a full UFS-like filesystem to the exact-name
// lookup table this spec's readfile/exec need.
package ramdisk

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/d94ny/x86kernel/defs"
)

/// Entry is one bundled executable's table-of-contents record.
type Entry struct {
	Name  string
	Bytes []byte
}

/// Toc is the ram disk's in-memory table of contents, built once at boot
/// by cmd/mkramdisk's output and consulted by exec/readfile (§6).
type Toc struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

/// New builds a Toc from entries, as produced by decoding the linked-in
/// ram-disk image.
func New(entries []Entry) *Toc {
	t := &Toc{entries: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		t.entries[e.Name] = e.Bytes
	}
	return t
}

/// Lookup returns name's bytes, failing ENOSUCHPROC -- exec's error for
/// an unknown executable name (§7).
func (t *Toc) Lookup(name string) ([]byte, defs.Err_t) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.entries[name]
	if !ok {
		return nil, defs.ENOSUCHPROC
	}
	return b, 0
}

/// ReadFile returns name's bytes for the readfile syscall, failing
/// ENOENT (distinct from exec's ENOSUCHPROC, per §7) when absent.
func (t *Toc) ReadFile(name string) ([]byte, defs.Err_t) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.entries[name]
	if !ok {
		return nil, defs.ENOENT
	}
	return b, 0
}

// Wire format, written by cmd/mkramdisk and read here at boot:
//   repeated { u16 namelen; name bytes; u32 datalen; data bytes }

/// Encode serializes entries into the ram-disk wire format.
func Encode(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if len(e.Name) > 0xffff {
			return fmt.Errorf("ramdisk: name %q too long", e.Name)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(e.Name))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(e.Name)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Bytes))); err != nil {
			return err
		}
		if _, err := w.Write(e.Bytes); err != nil {
			return err
		}
	}
	return nil
}

/// Decode parses the ram-disk wire format produced by Encode, as the
/// boot sequence does with the image linked into the kernel binary.
func Decode(r io.Reader) ([]Entry, error) {
	var out []Entry
	for {
		var nlen uint16
		err := binary.Read(r, binary.LittleEndian, &nlen)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		name := make([]byte, nlen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		var dlen uint32
		if err := binary.Read(r, binary.LittleEndian, &dlen); err != nil {
			return nil, err
		}
		data := make([]byte, dlen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: string(name), Bytes: data})
	}
}
