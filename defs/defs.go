// Package defs holds identifiers and the error catalogue shared by every
// kernel package: thread/process ids, syscall numbers, and the signed
// integer error codes returned across the syscall boundary.
package defs

/// Err_t is the kernel's error type. Zero is success; any nonzero value
/// is an error, drawn from the positive catalogue below. This mirrors
/// the real ABI, where a syscall's return register holds the error
/// directly -- wrapping it in Go's error interface would hide that the
/// value crosses into user space unchanged.
type Err_t int

/// Tid_t is a thread id. Tids are strictly monotonic and never reused.
type Tid_t int32

/// Pid_t is a process id. Pids are strictly monotonic and never reused.
type Pid_t int32

// Error catalogue. Values are positive; 0 always means success.
const (
	EINVAL     Err_t = 1  /// bad argument: null/misaligned pointer, out-of-range int
	EFAULT     Err_t = 2  /// unmapped or unwritable user buffer
	ENAMETOOLONG Err_t = 3 /// string/argv exceeded its bound
	ENOMEM     Err_t = 4  /// heap exhausted
	ENOFRAMES  Err_t = 5  /// frame allocator has no free frame
	EMANYOWNERS Err_t = 6 /// frame refcount saturated at 255
	EFREEOWNERLESS Err_t = 7 /// free() on a frame with refcount already 0
	EKERNFRAME Err_t = 8  /// operation on a frame below USER_MEM_START
	EPRESENT   Err_t = 9  /// create_page on an already-present PTE
	EMTHREADS  Err_t = 10 /// fork() with more than one thread in the process
	ENOCHILDREN Err_t = 11 /// wait() with no live children
	EWAITFULL  Err_t = 12 /// wait() when every child already has a waiter
	ENOTRUNNABLE Err_t = 13 /// yield(tid) targeting a non-RUNNING thread
	ENOTBLOCKED Err_t = 14 /// make_runnable(tid) targeting a non-blocked thread
	ERACE      Err_t = 15 /// deschedule raced with a concurrent make_runnable
	EBUSY      Err_t = 16 /// resource (e.g. memregion table) temporarily full
	ENOSUCHPROC Err_t = 17 /// exec() name not found on the ram disk
	EBADELF    Err_t = 18 /// ELF magic or section layout invalid
	ENOENT     Err_t = 19 /// readfile() name not found on the ram disk
)

/// ExitFault is the implicit exit status of a thread killed by an
/// unhandled fault or explicit kernel_panic-of-thread (panic()).
const ExitFault = -2

/// Syscall_t identifies which syscall a trap is dispatching, distinct
/// from Err_t so a vector number can never be mistaken for (or compared
/// against) an error code.
type Syscall_t int

// Syscall vector numbers. Fixed: user-space library code is compiled
// against these values, so they may not be renumbered.
const (
	SYS_GETTID Syscall_t = iota
	SYS_FORK
	SYS_THREAD_FORK
	SYS_EXEC
	SYS_WAIT
	SYS_VANISH
	SYS_SET_STATUS
	SYS_YIELD
	SYS_DESCHEDULE
	SYS_MAKE_RUNNABLE
	SYS_SLEEP
	SYS_GET_TICKS
	SYS_NEW_PAGES
	SYS_REMOVE_PAGES
	SYS_GETCHAR
	SYS_READLINE
	SYS_PRINT
	SYS_SET_TERM_COLOR
	SYS_GET_CURSOR_POS
	SYS_SET_CURSOR_POS
	SYS_HALT
	SYS_SWEXN
	SYS_READFILE
)

// Device identifiers for the narrow driver surface this kernel actually
// uses. Trimmed from the teacher's wider device table (which also carried
// socket, raw-disk, and profiling device ids for a networked/disked
// kernel) down to the console plus a debug-only profiling device; see
// DESIGN.md for the D_PROF rationale.
const (
	D_CONSOLE int = 1 /// VGA text console + PS/2 keyboard
	D_PROF    int = 2 /// debug/test-only scheduler sampling device
)
