// Command kernel is the hosted stand-in for the bootloader-to-iret
// transfer: it brings every package in this module up in the fixed order
// §9 mandates (paging, heap, thread table, syscall table, drivers, god
// process, mutex operational, interrupts enabled) and then lets the god
// process fork-and-exec idle, init, and a shell, exactly as §1 describes.
// Grounded on the teacher's kernel/chentry.go (a small host-side tool
// driven entirely by os.Args and fmt.Printf/log.Fatalf, no flag package,
// no structured logging) -- generalized from "patch one ELF's entry
// point" to "bring up a whole simulated machine", since this kernel has
// no bootloader of its own to hand control to.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/diag"
	"github.com/d94ny/x86kernel/drivers/console"
	"github.com/d94ny/x86kernel/drivers/keyboard"
	"github.com/d94ny/x86kernel/drivers/timer"
	"github.com/d94ny/x86kernel/ksync"
	"github.com/d94ny/x86kernel/lifecycle"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/proc"
	"github.com/d94ny/x86kernel/ramdisk"
	"github.com/d94ny/x86kernel/scalls"
	"github.com/d94ny/x86kernel/sched"
	"github.com/d94ny/x86kernel/stats"
	"github.com/d94ny/x86kernel/vm"
)

// nframes sizes the simulated physical memory: enough frames for a
// handful of processes' page tables plus their text/data/stack, with
// headroom for the fork-bomb scenario in §8.
const nframes = 1 << 16

func usage() {
	fmt.Fprintf(os.Stderr, "usage: kernel <ramdisk-image>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}

	// 1. paging
	alloc := mem.NewAllocator(nframes)
	alloc.InitZeroFrame()
	kernPT, err := alloc.Alloc()
	if err != nil {
		log.Fatalf("kernel: reserving kernel page table: %v", err)
	}
	vm.InitKernelMap(0, kernPT)
	log.Printf("kernel: paging up, %d frames reserved", nframes)

	// 2. heap
	// The frame allocator doubles as the kernel heap in this design --
	// there is no separate slab allocator, matching biscuit's own
	// single-level Physmem_t.
	log.Printf("kernel: heap up")

	// 3. thread table
	s := sched.New()
	log.Printf("kernel: thread table up")

	f, ferr := os.Open(os.Args[1])
	if ferr != nil {
		log.Fatalf("kernel: opening ramdisk image: %v", ferr)
	}
	entries, derr := ramdisk.Decode(f)
	f.Close()
	if derr != nil {
		log.Fatalf("kernel: decoding ramdisk image: %v", derr)
	}
	toc := ramdisk.New(entries)
	k := lifecycle.NewKernel(alloc, s, toc)

	// 4. syscall table
	d := &scalls.Dispatcher{Kernel: k, Sched: s}
	log.Printf("kernel: syscall table up")

	// 5. drivers
	consoleDrv := console.New(alloc)
	d.Console = consoleDrv
	d.ConsoleLock = ksync.NewMutex(s)
	kbd := &keyboard.Translator{}
	timerDrv := timer.New()
	timerDrv.Start(func() { s.Tick() })
	log.Printf("kernel: drivers up (console, keyboard, timer)")

	// D_PROF: sample which thread owns each tick when asked, so a test
	// harness or cmd/ktrace-shaped tool can inspect scheduler fairness
	// with standard pprof tooling instead of a bespoke tick log.
	if os.Getenv("KERNEL_PROFILE") != "" {
		s.Profiler = diag.NewProfiler()
		log.Printf("kernel: tick profiling enabled (D_PROF)")
	}

	// 6. god process
	k.CreateGod(func(self *proc.Tcb_t) { godBody(k, d, s, self) })

	// 7. mutex operational
	// Every ksync.Mutex_t constructed from here on may be acquired; none
	// existed before the god process's own creation, so nothing upstream
	// of this point ever contends one.
	log.Printf("kernel: mutex subsystem operational")

	// 8. interrupts enabled
	// The timer goroutine above is already delivering ticks; this step is
	// the point past which a tick's recommendation (package sched's
	// TakePending) is first honored, since settle() is only ever called
	// from inside a syscall and no thread has made one yet.
	log.Printf("kernel: interrupts enabled")

	stats.TickSource = timerDrv.Ticks

	feedKeyboard(kbd, consoleDrv)

	select {}
}

// feedKeyboard stands in for the keyboard IRQ handler: a real PS/2
// controller has no analogue in hosted Go, so this reads raw bytes off
// stdin, treats each as a Set-1 scancode, and runs it through the same
// translator a real IRQ1 handler would before queuing the result on the
// console's typed-ahead buffer.
func feedKeyboard(kbd *keyboard.Translator, c *console.Driver) {
	go func() {
		buf := make([]byte, 1)
		for {
			n, rerr := os.Stdin.Read(buf)
			if rerr != nil || n == 0 {
				return
			}
			if ascii, ok := kbd.Feed(buf[0]); ok {
				c.Inject(ascii)
			}
		}
	}()
}

// godBody implements §1's fixed boot program: fork a child that execs
// into "idle", then exec this very thread into "init", which in turn
// forks a child execing into "shell" and spends the rest of its life
// reaping zombies via wait().
func godBody(k *lifecycle.Kernel, d *scalls.Dispatcher, s *sched.Scheduler, self *proc.Tcb_t) {
	if _, err := k.Fork(self, func(child *proc.Tcb_t) {
		execAndRun(k, d, s, child, "idle", func(self *proc.Tcb_t, argv []string) { idleMain(d, self) })
	}); err != 0 {
		log.Fatalf("kernel: forking idle: %v", err)
	}

	execAndRun(k, d, s, self, "init", func(self *proc.Tcb_t, argv []string) {
		initMain(k, d, s, self)
	})
}

// execAndRun loads name off the ram disk and execs self into it, then
// runs body as the program's "user-mode" code. A real exec never returns
// on success, so neither does this -- body is expected to loop or
// vanish, never to fall off the end.
func execAndRun(k *lifecycle.Kernel, d *scalls.Dispatcher, s *sched.Scheduler, self *proc.Tcb_t, name string, body func(self *proc.Tcb_t, argv []string)) {
	ex, err := k.LoadExec(name, nil)
	if err != 0 {
		log.Fatalf("kernel: loading %q: %v", name, err)
	}
	launch := func(entry, stackTop uint32, argv []string) {
		body(self, argv)
	}
	if err := k.Exec(self, name, ex, launch); err != 0 {
		log.Fatalf("kernel: exec %q: %v", name, err)
	}
}

// idleMain is the idle thread's entire program: deschedule forever so
// any runnable thread always preempts it, per §4.3's idle-vs-non-idle
// rotation rule.
func idleMain(d *scalls.Dispatcher, self *proc.Tcb_t) {
	for {
		d.Deschedule(self)
	}
}

// initMain forks "shell" once and then spends the rest of its life
// reaping exited children, the traditional init-process duty.
func initMain(k *lifecycle.Kernel, d *scalls.Dispatcher, s *sched.Scheduler, self *proc.Tcb_t) {
	if _, err := k.Fork(self, func(child *proc.Tcb_t) { execAndRun(k, d, s, child, "shell", func(self *proc.Tcb_t, argv []string) { shellMain(d, self) }) }); err != 0 {
		log.Fatalf("kernel: forking shell: %v", err)
	}
	for {
		if _, _, err := k.Wait(self); err != 0 && err != defs.ENOCHILDREN {
			log.Printf("init: wait: %v", err)
		}
	}
}

// shellMain is a minimal line-oriented REPL standing in for a real
// statically-linked shell binary: it echoes typed lines back at the
// console, since there is no IA-32 interpreter in this kernel to run an
// actual shell's machine code (see DESIGN.md).
func shellMain(d *scalls.Dispatcher, self *proc.Tcb_t) {
	d.Console.Print("> ")
	var line []byte
	for {
		c, ok := d.Getchar(self)
		if !ok {
			d.Yield(self, -1)
			continue
		}
		if c == '\n' || c == '\r' {
			d.Console.Print(string(line) + "\n> ")
			line = line[:0]
			continue
		}
		line = append(line, c)
	}
}
