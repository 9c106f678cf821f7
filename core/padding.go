package core

import "errors"

// padding.go -- power-of-two padding for encrypted payloads (§6, §8).
//
// applyPadding pads x to the next power-of-two bin (minimum 128 bytes) with
// a single 0x80 terminator followed by zeros. removePadding is the strict
// inverse: it fails unless the buffer ends in exactly one 0x80 byte followed
// only by zeros.

const minPaddingBin = 128

var errBadPadding = errors.New("padding: missing or malformed terminator")

func nextPow2(n int) int {
	if n < minPaddingBin {
		return minPaddingBin
	}
	p := minPaddingBin
	for p < n {
		p <<= 1
	}
	return p
}

// applyPadding pads x into the next power-of-two bin >= minPaddingBin. If x
// is already a validly padded frame (power-of-two length, single trailing
// 0x80 terminator followed only by zeros) it is returned unchanged, making
// applyPadding idempotent on already-padded inputs precisely when a valid
// terminator is present. Any other input is padded fresh; plaintext that
// itself has the shape of a padded frame is returned unchanged, so
// removePadding does not give it back byte for byte.
func applyPadding(x []byte) []byte {
	if _, err := removePadding(x); err == nil {
		out := make([]byte, len(x))
		copy(out, x)
		return out
	}
	bin := nextPow2(len(x) + 1)
	out := make([]byte, bin)
	copy(out, x)
	out[len(x)] = 0x80
	return out
}

// removePadding strips padding applied by applyPadding. It fails unless the
// buffer's length is a power of two >= minPaddingBin, exactly one trailing
// 0x80 byte is present, and every byte after it is zero.
func removePadding(padded []byte) ([]byte, error) {
	n := len(padded)
	if n < minPaddingBin || n&(n-1) != 0 {
		return nil, errBadPadding
	}
	i := n - 1
	for i >= 0 && padded[i] == 0 {
		i--
	}
	if i < 0 || padded[i] != 0x80 {
		return nil, errBadPadding
	}
	return padded[:i], nil
}
