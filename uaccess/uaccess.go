// Package uaccess implements §4.7's syscall-argument validation family:
// check_page, check_buffer, check_string, check_string_array, and
// check_array, plus the copy helpers syscall handlers use once an
// argument has been validated. Every check walks the caller's page
// tables (package vm) directly rather than dereferencing the pointer,
// so a bad argument reports InvalidArg instead of faulting the kernel,
// exactly as §4.7 requires. Grounded on biscuit's uio/fetch code for
// the same "bounds-check against the VM map before touching the
// pointer" discipline, adapted from biscuit's Present()/Usercopy cast
// over a direct-mapped address to an explicit PTE Translate + Allocator
// Bytes lookup, since this kernel has no direct map to slice into.
package uaccess

import (
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/ustr"
	"github.com/d94ny/x86kernel/vm"
)

const maxString = 4096
const maxStringArray = 1024

/// pageOf rounds va down to its containing page.
func pageOf(va uint32) uint32 { return va &^ uint32(mem.PGOFFSET) }

/// CheckPage validates that va's page is present, user-accessible, and
/// (if writable is true) writable.
func CheckPage(space *vm.Vm_t, va uint32, writable bool) defs.Err_t {
	pte, ok := space.Translate(va)
	if !ok || pte&mem.PTE_U == 0 {
		return defs.EFAULT
	}
	if writable && pte&mem.PTE_W == 0 {
		return defs.EFAULT
	}
	return 0
}

/// CheckBuffer validates that every page spanned by [va, va+length) is
/// present, user, and (if writable) writable.
func CheckBuffer(space *vm.Vm_t, va uint32, length int, writable bool) defs.Err_t {
	if length < 0 {
		return defs.EINVAL
	}
	if length == 0 {
		return 0
	}
	start := pageOf(va)
	end := pageOf(va + uint32(length) - 1)
	for p := start; ; p += mem.PGSIZE {
		if err := CheckPage(space, p, writable); err != 0 {
			return err
		}
		if p == end {
			break
		}
	}
	return 0
}

func byteAt(space *vm.Vm_t, va uint32) (byte, bool) {
	pte, ok := space.Translate(va)
	if !ok || pte&mem.PTE_U == 0 {
		return 0, false
	}
	frame := pte & mem.PTE_ADDR
	off := va & uint32(mem.PGOFFSET)
	return space.Alloc().Bytes(frame)[off], true
}

/// CheckString validates a NUL-terminated string of at most 4096 bytes
/// (§4.7) starting at va and returns its contents (without the NUL).
func CheckString(space *vm.Vm_t, va uint32) (string, defs.Err_t) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxString; i++ {
		b, ok := byteAt(space, va+uint32(i))
		if !ok {
			return "", defs.EFAULT
		}
		if b == 0 {
			return ustr.Ustr(buf).String(), 0
		}
		buf = append(buf, b)
	}
	return "", defs.ENAMETOOLONG
}

/// CheckStringArray validates a NULL-terminated array of at most 1024
/// string pointers (argv-shaped), returning the decoded strings.
func CheckStringArray(space *vm.Vm_t, va uint32) ([]string, defs.Err_t) {
	var out []string
	for i := 0; i < maxStringArray; i++ {
		ptrVa := va + uint32(i)*4
		if err := CheckBuffer(space, ptrVa, 4, false); err != 0 {
			return nil, err
		}
		ptr := readWordUnchecked(space, ptrVa)
		if ptr == 0 {
			return out, 0
		}
		s, err := CheckString(space, ptr)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, defs.ENAMETOOLONG
}

/// CheckArray validates a buffer of n 32-bit words starting at va.
func CheckArray(space *vm.Vm_t, va uint32, n int, writable bool) defs.Err_t {
	return CheckBuffer(space, va, n*4, writable)
}

func readWordUnchecked(space *vm.Vm_t, va uint32) uint32 {
	var w uint32
	for i := 0; i < 4; i++ {
		b, _ := byteAt(space, va+uint32(i))
		w |= uint32(b) << (8 * i)
	}
	return w
}

/// CopyOut writes src into the validated buffer at va (caller must have
/// already called CheckBuffer with writable=true).
func CopyOut(space *vm.Vm_t, va uint32, src []byte) {
	for i, b := range src {
		pte, _ := space.Translate(pageOf(va + uint32(i)))
		frame := pte & mem.PTE_ADDR
		off := (va + uint32(i)) & uint32(mem.PGOFFSET)
		space.Alloc().Bytes(frame)[off] = b
	}
}

/// CopyIn reads n bytes from the validated buffer at va.
func CopyIn(space *vm.Vm_t, va uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b, _ := byteAt(space, va+uint32(i))
		out[i] = b
	}
	return out
}

/// ReadWord reads one validated 32-bit little-endian word at va.
func ReadWord(space *vm.Vm_t, va uint32) (uint32, defs.Err_t) {
	if err := CheckBuffer(space, va, 4, false); err != 0 {
		return 0, err
	}
	return readWordUnchecked(space, va), 0
}

/// WriteWord writes a validated 32-bit little-endian word at va.
func WriteWord(space *vm.Vm_t, va, val uint32) defs.Err_t {
	if err := CheckBuffer(space, va, 4, true); err != 0 {
		return err
	}
	b := []byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	CopyOut(space, va, b)
	return 0
}
