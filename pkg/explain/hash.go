package explain

import "fmt"

// X16 formats a 64-bit hash as uppercase 16-hex-digit text, the wire form
// every params hash uses across the explain envelopes.
func X16(h uint64) string {
	return fmt.Sprintf("%016X", h)
}
