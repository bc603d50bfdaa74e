package console

import (
	"strings"
	"testing"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/mem"
)

func newTestDriver() *Driver {
	a := mem.NewAllocator(16)
	return New(a)
}

func TestInjectGetcharFIFO(t *testing.T) {
	d := newTestDriver()
	d.Inject('a')
	d.Inject('b')

	c, ok := d.Getchar()
	if !ok || c != 'a' {
		t.Fatalf("Getchar #1 = (%q, %v), want ('a', true)", c, ok)
	}
	c, ok = d.Getchar()
	if !ok || c != 'b' {
		t.Fatalf("Getchar #2 = (%q, %v), want ('b', true)", c, ok)
	}
	if _, ok := d.Getchar(); ok {
		t.Errorf("Getchar on an empty queue returned ok=true")
	}
}

func TestPrintAdvancesCursorAndWraps(t *testing.T) {
	d := newTestDriver()
	d.Print("hi")
	row, col := d.GetCursorPos()
	if row != 0 || col != 2 {
		t.Errorf("cursor after Print(hi) = (%d,%d), want (0,2)", row, col)
	}
	d.Print("\n")
	row, col = d.GetCursorPos()
	if row != 1 || col != 0 {
		t.Errorf("cursor after Print(\\n) = (%d,%d), want (1,0)", row, col)
	}
	lines := d.Snapshot()
	if !strings.HasPrefix(lines[0], "hi") {
		t.Errorf("Snapshot()[0] = %q, want prefix \"hi\"", lines[0])
	}
}

func TestReadlineConsumesThroughNewlineWithBackspace(t *testing.T) {
	d := newTestDriver()
	for _, b := range []byte("ab\bc\n") {
		d.Inject(b)
	}
	dst := make([]byte, 16)
	n, complete := d.Readline(dst)
	if !complete {
		t.Fatalf("Readline did not report a complete line")
	}
	got := string(dst[:n])
	if got != "ac\n" {
		t.Errorf("Readline = %q, want %q (backspace drops the b)", got, "ac\n")
	}
}

func TestReadlineIncompleteWithoutNewline(t *testing.T) {
	d := newTestDriver()
	d.Inject('a')
	d.Inject('b')
	dst := make([]byte, 16)
	n, complete := d.Readline(dst)
	if complete {
		t.Errorf("Readline reported complete with no newline queued")
	}
	if string(dst[:n]) != "ab" {
		t.Errorf("Readline partial = %q, want %q", dst[:n], "ab")
	}
}

func TestSetCursorPosBounds(t *testing.T) {
	d := newTestDriver()
	if err := d.SetCursorPos(5, 10); err != 0 {
		t.Fatalf("SetCursorPos(in range): %v", err)
	}
	row, col := d.GetCursorPos()
	if row != 5 || col != 10 {
		t.Errorf("GetCursorPos after SetCursorPos = (%d,%d), want (5,10)", row, col)
	}
	if err := d.SetCursorPos(-1, 0); err != defs.EINVAL {
		t.Errorf("SetCursorPos(negative row) = %v, want EINVAL", err)
	}
	if err := d.SetCursorPos(0, 80); err != defs.EINVAL {
		t.Errorf("SetCursorPos(col == cols) = %v, want EINVAL", err)
	}
}

func TestScrollOnRowOverflow(t *testing.T) {
	d := newTestDriver()
	for i := 0; i < 26; i++ {
		d.Print("x\n")
	}
	row, _ := d.GetCursorPos()
	if row != 24 {
		t.Errorf("cursor row after overflowing 25 rows = %d, want pinned at 24", row)
	}
}
