package core

import (
	"bytes"
	"testing"
)

func TestPaddingRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hi"),
		bytes.Repeat([]byte{0xAB}, 127),
		bytes.Repeat([]byte{0xCD}, 300),
		bytes.Repeat([]byte{0x00}, 4000),
	}
	for _, x := range cases {
		padded := applyPadding(x)
		n := len(padded)
		if n < minPaddingBin || n&(n-1) != 0 {
			t.Fatalf("padded length %d is not a power of two >= %d", n, minPaddingBin)
		}
		got, err := removePadding(padded)
		if err != nil {
			t.Fatalf("removePadding: %v", err)
		}
		if !bytes.Equal(got, x) {
			t.Fatalf("round trip mismatch: got %x want %x", got, x)
		}
	}
}

func TestPaddingIdempotentOnValidFrame(t *testing.T) {
	x := []byte("hello world")
	once := applyPadding(x)
	twice := applyPadding(once)
	if !bytes.Equal(once, twice) {
		t.Fatalf("applyPadding not idempotent on a validly padded frame")
	}
}

func TestRemovePaddingRejectsMalformed(t *testing.T) {
	bad := [][]byte{
		bytes.Repeat([]byte{0x00}, 128),          // no terminator at all
		append(bytes.Repeat([]byte{0x00}, 126), 0x80, 0x01), // junk after terminator
		bytes.Repeat([]byte{0x80}, 100),          // not a power of two length
	}
	for _, b := range bad {
		if _, err := removePadding(b); err == nil {
			t.Fatalf("expected error removing padding from %x", b)
		}
	}
}
