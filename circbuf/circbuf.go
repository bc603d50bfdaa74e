// Package circbuf implements a single-page circular byte buffer, used by
// the console driver to hold typed-ahead keyboard input between
// interrupts and a readline/getchar syscall. Adapted from the teacher's
// Circbuf_t: the teacher backs Copyin/Copyout with fdops.Userio_i (a
// page-fault-aware user-buffer copier this kernel has no fd layer for --
// §1 Non-goals exclude pipes/files beyond the ram disk) and a richer
// Page_i with Refup/Refdown; here Copyin/Copyout operate on plain []byte
// and the page comes from this kernel's mem.Allocator.
package circbuf

import (
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/mem"
)

/// Circbuf_t is a lazily-allocated, single-page circular buffer. Not
/// safe for concurrent use; callers (the console driver) serialize
/// access themselves.
type Circbuf_t struct {
	alloc mem.Page_i
	buf   []uint8
	bufsz int
	head  int
	tail  int
	page  mem.Pa_t
}

/// Bufsz returns the configured buffer size.
func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

/// Init lazily allocates a backing page of the given size (<= PGSIZE).
func (cb *Circbuf_t) Init(sz int, alloc mem.Page_i) {
	if sz <= 0 || sz > mem.PGSIZE {
		panic("bad circbuf size")
	}
	cb.alloc = alloc
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	pg, err := cb.alloc.Alloc()
	if err != nil {
		return defs.ENOMEM
	}
	cb.page = pg
	cb.buf = cb.alloc.Bytes(pg)[:cb.bufsz]
	return 0
}

/// Release drops the backing page.
func (cb *Circbuf_t) Release() {
	if cb.buf == nil {
		return
	}
	_ = cb.alloc.Free(cb.page)
	cb.page = 0
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

/// Full reports whether the buffer can accept no more data.
func (cb *Circbuf_t) Full() bool { return cb.head-cb.tail == cb.bufsz }

/// Empty reports whether the buffer holds no data.
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }

/// Left returns remaining write capacity in bytes.
func (cb *Circbuf_t) Left() int { return cb.bufsz - (cb.head - cb.tail) }

/// Used returns the number of unread bytes.
func (cb *Circbuf_t) Used() int { return cb.head - cb.tail }

/// Write appends as much of src as fits, returning the byte count
/// written (0 when full, never an error once the backing page exists).
func (cb *Circbuf_t) Write(src []uint8) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	n := 0
	for n < len(src) && !cb.Full() {
		cb.buf[cb.head%cb.bufsz] = src[n]
		cb.head++
		n++
	}
	return n, 0
}

/// Read drains up to len(dst) bytes into dst, returning the count read.
func (cb *Circbuf_t) Read(dst []uint8) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	n := 0
	for n < len(dst) && !cb.Empty() {
		dst[n] = cb.buf[cb.tail%cb.bufsz]
		cb.tail++
		n++
	}
	return n, 0
}
