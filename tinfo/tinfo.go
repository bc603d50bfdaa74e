// Package tinfo holds per-thread kill/doom notes and the tid -> note
// directory, grounded on biscuit's tinfo package. Package lifecycle
// registers a thread's note when it creates the thread; no package in
// this tree marks a thread doomed or killed, or polls those flags.
//
// The teacher identifies "the currently running thread" through
// runtime.Gptr/Setgptr, a pair only a patched Go runtime exposes (it
// stashes a pointer in the g struct). Lacking that runtime, this kernel
// never relies on ambient per-goroutine lookup: code that needs the
// running thread is handed its *proc.Tcb_t explicitly (the self
// parameter in packages lifecycle and scalls). This file keeps only the
// state, not the lookup trick.
package tinfo

import (
	"sync"

	"github.com/d94ny/x86kernel/defs"
)

/// Tnote_t stores a thread's kill/doom bookkeeping. No code in this tree
/// sets or polls these flags.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread has been marked for involuntary
/// teardown (its process is vanishing, or it lost a race with another
/// thread's vanish).
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

/// Threadinfo_t is the global tid -> Tnote_t directory. Package lifecycle
/// fills it with Put; no code in this tree reads it back with Get.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

/// Init prepares an empty directory.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

/// Put registers tid's note.
func (t *Threadinfo_t) Put(tid defs.Tid_t, note *Tnote_t) {
	t.Lock()
	defer t.Unlock()
	t.Notes[tid] = note
}

/// Del removes tid's note once the thread is reaped.
func (t *Threadinfo_t) Del(tid defs.Tid_t) {
	t.Lock()
	defer t.Unlock()
	delete(t.Notes, tid)
}

/// Get looks up tid's note.
func (t *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	t.Lock()
	defer t.Unlock()
	n, ok := t.Notes[tid]
	return n, ok
}
