// Package diag formats the diagnostics this kernel prints when a fault
// cannot be repaired: a disassembly of the faulting instruction for a
// kernel-mode panic (§4.8), and a sampling profile of scheduler activity
// behind the debug-only D_PROF device. Grounded on the rest of the
// example pack's reach for golang.org/x/arch/x86/x86asm for exactly this
// "decode the bytes at the fault site" diagnostic, and
// github.com/google/pprof/profile + github.com/ianlancetaylor/demangle
// for exporting sampled stacks; the teacher kernel instead dumps raw
// hex because its patched runtime has no access to these libraries
// during a kernel-mode fault, a constraint this hosted kernel doesn't
// share.
package diag

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

/// DisassembleOne decodes the single instruction at the start of code
/// (32-bit mode) and renders it in AT&T (GNU) syntax, for inclusion in a
/// kernel-mode panic message. Falls back to a hex dump if the bytes
/// don't decode to a valid instruction (e.g. the fault address itself
/// was bad).
func DisassembleOne(code []byte, pc uint32) string {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		n := len(code)
		if n > 16 {
			n = 16
		}
		return fmt.Sprintf("0x%08x: <undecodable: % x>", pc, code[:n])
	}
	return fmt.Sprintf("0x%08x: %s", pc, x86asm.GNUSyntax(inst, uint64(pc), nil))
}

/// DisassembleRange decodes successive instructions starting at pc until
/// code is exhausted or count instructions have been printed, for a
/// short "instructions leading up to the fault" trace.
func DisassembleRange(code []byte, pc uint32, count int) []string {
	var out []string
	off := 0
	for i := 0; i < count && off < len(code); i++ {
		inst, err := x86asm.Decode(code[off:], 32)
		if err != nil {
			out = append(out, fmt.Sprintf("0x%08x: <undecodable>", pc+uint32(off)))
			break
		}
		out = append(out, fmt.Sprintf("0x%08x: %s", pc+uint32(off), x86asm.GNUSyntax(inst, uint64(pc)+uint64(off), nil)))
		off += inst.Len
	}
	return out
}
