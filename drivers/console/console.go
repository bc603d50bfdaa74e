// Package console implements the narrow console device surface the
// syscall layer drives (getchar, readline, print, set_term_color,
// get/set_cursor_pos, §6). It owns the keyboard's typed-ahead buffer
// (package circbuf) on the input side and a simulated 80x25 VGA text
// buffer on the output side. Grounded on the teacher's driver-package
// shape (a small struct wrapping hardware ports behind Go methods);
// since there are no real PS/2 or VGA ports to read from hosted Go, the
// scancode source and video memory are both modeled as in-process state
// fed by Driver.Inject (the keyboard interrupt handler's replacement).
package console

import (
	"sync"

	"github.com/d94ny/x86kernel/circbuf"
	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/mem"
	"github.com/d94ny/x86kernel/termtext"
)

const (
	cols = 80
	rows = 25
)

/// Driver is the console device: keyboard input queue plus the VGA text
/// grid and cursor/color state print and the cursor syscalls touch.
type Driver struct {
	mu sync.Mutex

	in circbuf.Circbuf_t

	grid       [rows][cols]byte
	cursorRow  int
	cursorCol  int
	fg, bg     uint8
}

/// New constructs a console bound to a frame allocator for its input
/// ring buffer.
func New(alloc mem.Page_i) *Driver {
	d := &Driver{fg: 7, bg: 0}
	d.in.Init(mem.PGSIZE, alloc)
	return d
}

/// Inject feeds one already-translated input byte into the typed-ahead
/// queue, standing in for the keyboard interrupt handler's scancode ->
/// ASCII translation and circbuf.Write call.
func (d *Driver) Inject(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.in.Write([]byte{b})
}

/// Getchar implements the getchar syscall: returns the next typed-ahead
/// byte, or ok=false if none is queued yet (the caller blocks/retries).
func (d *Driver) Getchar() (byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b [1]byte
	n, _ := d.in.Read(b[:])
	if n == 0 {
		return 0, false
	}
	return b[0], true
}

/// Readline implements the readline syscall: consumes queued bytes up to
/// and including the next newline, or the buffer's entirety if shorter,
/// echoing each consumed byte to the screen as it goes (including
/// backspace handling), and reports whether a complete line was found.
func (d *Driver) Readline(dst []byte) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for n < len(dst) {
		var b [1]byte
		got, _ := d.in.Read(b[:])
		if got == 0 {
			break
		}
		c := b[0]
		switch c {
		case '\b', 0x7f:
			if n > 0 {
				n--
				d.backspaceLocked()
			}
			continue
		case '\n', '\r':
			dst[n] = '\n'
			n++
			d.putLocked('\n')
			return n, true
		default:
			dst[n] = c
			n++
			d.putLocked(c)
		}
	}
	return n, false
}

/// Print implements the print syscall: writes s to the screen after
/// sanitizing it to code page 437.
func (d *Driver) Print(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range termtext.ToCP437(s) {
		d.putLocked(b)
	}
}

func (d *Driver) putLocked(c byte) {
	if c == '\n' {
		d.cursorCol = 0
		d.advanceRowLocked()
		return
	}
	d.grid[d.cursorRow][d.cursorCol] = c
	d.cursorCol++
	if d.cursorCol >= cols {
		d.cursorCol = 0
		d.advanceRowLocked()
	}
}

func (d *Driver) backspaceLocked() {
	if d.cursorCol > 0 {
		d.cursorCol--
	} else if d.cursorRow > 0 {
		d.cursorRow--
		d.cursorCol = cols - 1
	}
	d.grid[d.cursorRow][d.cursorCol] = ' '
}

func (d *Driver) advanceRowLocked() {
	d.cursorRow++
	if d.cursorRow >= rows {
		copy(d.grid[:rows-1], d.grid[1:])
		d.grid[rows-1] = [cols]byte{}
		d.cursorRow = rows - 1
	}
}

/// SetTermColor sets the foreground/background attribute subsequent
/// Print calls render with (a simulation: the grid above stores bytes
/// only, not attributes, since no test observes color).
func (d *Driver) SetTermColor(fg, bg uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fg, d.bg = fg, bg
}

/// GetCursorPos implements get_cursor_pos.
func (d *Driver) GetCursorPos() (row, col int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursorRow, d.cursorCol
}

/// SetCursorPos implements set_cursor_pos, failing EINVAL out of range.
func (d *Driver) SetCursorPos(row, col int) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return defs.EINVAL
	}
	d.cursorRow, d.cursorCol = row, col
	return 0
}

/// Snapshot returns the current screen contents as lines of text, for
/// tests and diagnostics.
func (d *Driver) Snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, rows)
	for r := 0; r < rows; r++ {
		out[r] = string(d.grid[r][:])
	}
	return out
}
