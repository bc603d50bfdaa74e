// Package caller dumps the host Go call stack leading to a kernel panic,
// the closest analogue this hosted kernel has to unwinding a real x86
// kernel stack (see except.Fault.KernelPanicMessage). Grounded on
// biscuit's caller package of the same name; trimmed to the one
// function this kernel actually calls -- biscuit's own
// Distinct_caller_t (deduplicating repeated panic call chains under a
// whitelist, for a long-running multi-process kernel logging the same
// fault over and over) has no caller here, since this kernel panics at
// most once per process before that process's thread vanishes.
package caller

import (
	"fmt"
	"runtime"
)

// Callerdump prints the call stack starting at the given depth.
//
// Parameters:
//
//	start - stack frame to begin printing.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}
