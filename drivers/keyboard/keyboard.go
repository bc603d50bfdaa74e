// Package keyboard translates PS/2 Set-1 scancodes into ASCII and feeds
// them to the console driver's typed-ahead buffer. Modeled as a pure
// function plus small shift-state machine rather than a port-reading
// interrupt handler, since there is no PS/2 controller to read from
// hosted Go; the boot sequence wires Feed's output directly into
// console.Driver.Inject in place of a real IRQ1 handler.
package keyboard

const releaseBit = 0x80

var lower = map[byte]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0c: '-', 0x0d: '=', 0x0e: '\b', 0x0f: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1a: '[', 0x1b: ']', 0x1c: '\n',
	0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x28: '\'', 0x29: '`',
	0x2b: '\\', 0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v',
	0x30: 'b', 0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.',
	0x35: '/', 0x39: ' ',
}

var upper = map[byte]byte{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0a: '(', 0x0b: ')',
	0x0c: '_', 0x0d: '+',
	0x1a: '{', 0x1b: '}',
	0x27: ':', 0x28: '"', 0x29: '~', 0x2b: '|',
	0x33: '<', 0x34: '>', 0x35: '?',
}

const (
	leftShift  = 0x2a
	rightShift = 0x36
)

/// Translator holds the small amount of shift-key state a scancode
/// stream needs to decode correctly.
type Translator struct {
	shifted bool
}

/// Feed processes one scancode byte and returns the ASCII byte it
/// produces, if any (key releases and modifier-only keys produce none).
func (t *Translator) Feed(code byte) (byte, bool) {
	release := code&releaseBit != 0
	key := code &^ releaseBit

	if key == leftShift || key == rightShift {
		t.shifted = !release
		return 0, false
	}
	if release {
		return 0, false
	}

	if t.shifted {
		if c, ok := upper[key]; ok {
			return c, true
		}
		if c, ok := lower[key]; ok {
			if c >= 'a' && c <= 'z' {
				return c - ('a' - 'A'), true
			}
			return c, true
		}
		return 0, false
	}
	if c, ok := lower[key]; ok {
		return c, true
	}
	return 0, false
}
