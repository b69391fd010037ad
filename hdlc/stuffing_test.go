package hdlc

import (
	"bytes"
	"testing"
)

func TestStuffDestuffRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"no special bytes", []byte{0x01, 0x02, 0xAA, 0xFF}},
		{"single flag", []byte{FlagByte}},
		{"only flags", []byte{FlagByte, FlagByte, FlagByte}},
		{"single escape", []byte{EscapeByte}},
		{"trailing escape", []byte{0x01, 0x02, EscapeByte}},
		{"escape then flag", []byte{EscapeByte, FlagByte}},
		{"mixed", []byte{0x00, FlagByte, 0x10, EscapeByte, 0x20, FlagByte, EscapeByte}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := destuff(stuff(c.in))
			if !bytes.Equal(got, c.in) {
				t.Errorf("destuff(stuff(%v)) = %v, want %v", c.in, got, c.in)
			}
		})
	}
}

func TestStuffNeverEmitsInternalFlag(t *testing.T) {
	in := []byte{0x01, FlagByte, 0x02, FlagByte, FlagByte, 0x03}
	out := stuff(in)
	for _, b := range out {
		if b == FlagByte {
			t.Fatalf("stuff(%v) = %v contains an internal FLAG byte", in, out)
		}
	}
}

func TestDestuffTotalOnMalformedInput(t *testing.T) {
	// A lone trailing ESCAPE, and an ESCAPE followed by a byte that is
	// neither restoring code: destuff must not panic or truncate.
	in := []byte{0x01, EscapeByte, 0x02, EscapeByte}
	out := destuff(in)
	if len(out) == 0 {
		t.Fatalf("destuff(%v) returned empty, want a total (non-rejecting) result", in)
	}
}
