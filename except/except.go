// Package except implements §4.8's exception delivery policy: building
// the ureg frame for a registered swexn handler, the one-shot
// unregister-then-launch sequence, and the panic-the-thread /
// panic-the-kernel fallbacks. Grounded on biscuit's trap.go
// (Trapstub/sys_swexn), generalized since this kernel has no real
// interrupt-descriptor table or register file to snapshot -- Ureg here
// is an explicit, caller-populated record of exactly the state §4.8
// specifies (the interrupted eip/cs/eflags/esp/ss plus the fault's own
// vector/error-code/address) rather than a raw stack dump.
package except

import (
	"fmt"

	"github.com/d94ny/x86kernel/caller"
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/diag"
	"github.com/d94ny/x86kernel/proc"
)

/// Vector identifies which exception is being delivered.
type Vector int

const (
	VecPageFault Vector = iota
	VecGeneralProtection
	VecDivideError
	VecDebug
	VecBreakpoint
	VecOverflow
	VecInvalidOpcode
)

/// Replayable reports whether the vector is one of the "continue after
/// delivery" traps (§4.8): debug, breakpoint, overflow replay the
/// faulting instruction once the handler returns, rather than the
/// fault itself being repaired.
func (v Vector) Replayable() bool {
	switch v {
	case VecDebug, VecBreakpoint, VecOverflow:
		return true
	default:
		return false
	}
}

/// Ureg is the interrupted register snapshot passed to swexn handlers
/// and consulted/rewritten in place when swexn's newureg argument is
/// accepted.
type Ureg struct {
	Eip, Cs, Eflags, Esp, Ss uint32
	FaultVaddr               uint32
	ErrorCode                uint32
}

// allowedEflagsMask limits which eflags bits swexn's newureg argument
// may change: arithmetic/status flags plus the trap flag, never IOPL,
// VM86, or the interrupt-enable flag a user handler has no business
// touching (§4.8's "eflags change limited to an allowed mask").
const allowedEflagsMask uint32 = 0x000009d5

/// ValidateNewUreg reports whether replacing cur with next is an
/// allowed swexn register override: user segment selectors must stay
/// user-mode (RPL 3, bit 0-1 set), and only allowedEflagsMask bits of
/// eflags may differ.
func ValidateNewUreg(cur, next *Ureg) defs.Err_t {
	if next.Cs&0x3 != 0x3 || next.Ss&0x3 != 0x3 {
		return defs.EINVAL
	}
	if (cur.Eflags^next.Eflags)&^allowedEflagsMask != 0 {
		return defs.EINVAL
	}
	return 0
}

/// Fault is one exception occurrence awaiting delivery.
type Fault struct {
	Vector   Vector
	FromUser bool
	Ureg     Ureg

	// Code holds the bytes at Ureg.Eip, if available, for
	// KernelPanicMessage's disassembly. Nil when the fault address
	// itself was unreadable.
	Code []byte
}

/// KernelPanicMessage renders the §7 "Fatal" diagnostic string for a
/// kernel-mode fault: the vector, the faulting address, and (when Code
/// was captured) a disassembly of the instruction that faulted, via
/// package diag. It also dumps the host Go call stack leading to the
/// panic via package caller -- the teacher's own caller.Callerdump, the
/// closest analogue this hosted kernel has to unwinding a real x86
/// kernel stack, since there is no such stack to walk here.
func (f Fault) KernelPanicMessage() string {
	caller.Callerdump(2)
	msg := fmt.Sprintf("kernel_panic: vector %d at eip=%#08x err=%#x addr=%#08x",
		f.Vector, f.Ureg.Eip, f.Ureg.ErrorCode, f.Ureg.FaultVaddr)
	if len(f.Code) > 0 {
		msg += "\n" + diag.DisassembleOne(f.Code, f.Ureg.Eip)
	}
	return msg
}

/// Outcome tells the caller what to do once Deliver has decided a
/// policy: either launch the user handler with the given argument
/// triple, replay the faulting instruction, or tear the thread (or the
/// whole kernel) down.
type Outcome int

const (
	OutcomeLaunchHandler Outcome = iota
	OutcomeReplay
	OutcomePanicThread
	OutcomePanicKernel
)

/// Deliver implements §4.8's policy tree. If the fault is from user code
/// and the thread has a registered one-shot swexn handler, it is
/// unregistered and OutcomeLaunchHandler is returned along with the
/// argument triple {fake-return, arg, &ureg} the handler expects to see
/// on its stack. A kernel-mode fault always panics the kernel. A
/// user-mode fault with no handler returns OutcomeReplay for a
/// replayable vector and panics the thread otherwise.
func Deliver(t *proc.Tcb_t, f Fault) (Outcome, *proc.SwexnHandler) {
	if !f.FromUser {
		return OutcomePanicKernel, nil
	}
	if f.Vector.Replayable() && t.Swexn == nil {
		return OutcomeReplay, nil
	}
	if t.Swexn == nil {
		return OutcomePanicThread, nil
	}
	h := t.Swexn
	t.Swexn = nil // one-shot
	return OutcomeLaunchHandler, h
}
