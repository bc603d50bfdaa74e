// Package termtext sanitizes UTF-8 text for the VGA text-mode console:
// print (§6) accepts arbitrary Go strings, but the console hardware only
// understands single-byte code page 437 glyphs. Grounded on the rest of
// the example pack reaching for golang.org/x/text for exactly this kind
// of encoding conversion; the teacher kernel has no console package of
// its own to generalize from (its console is a raw line discipline with
// no charset concerns), so this is net-new, built the way the pack's
// x/text-consuming examples wire an Encoder.
package termtext

import (
	"golang.org/x/text/encoding/charmap"
)

/// ToCP437 transforms s into code page 437 bytes suitable for writing
/// directly into VGA text-mode video memory. Characters with no CP437
/// representation are replaced with '?': the encoder rejects them, and
/// the rune-by-rune pass below substitutes '?' for each one.
func ToCP437(s string) []byte {
	enc := charmap.CodePage437.NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		// Bytes() errs on the first rune CP437 cannot encode, since no
		// replacement is configured on this encoder. Re-encode rune by
		// rune instead of faulting the kernel over a console write.
		clean := make([]byte, 0, len(s))
		for _, r := range s {
			if b, ok := enc.Bytes([]byte(string(r))); ok == nil && len(b) == 1 {
				clean = append(clean, b[0])
			} else {
				clean = append(clean, '?')
			}
		}
		return clean
	}
	return out
}
