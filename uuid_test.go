package bluetoe

import (
	"bytes"
	"testing"
)

func TestUUID16(t *testing.T) {
	if want, got := (UUID{[]byte{0x00, 0x18}}), UUID16(0x1800); !got.Equal(want) {
		t.Errorf("UUID16: got %x, want %x", got.Bytes(), want.Bytes())
	}
}

func TestReverse(t *testing.T) {
	cases := []struct {
		fwd  []byte
		back []byte
	}{
		{fwd: []byte{0, 1}, back: []byte{1, 0}},
		{fwd: []byte{0, 1, 2}, back: []byte{2, 1, 0}},
		{fwd: []byte{0, 1, 2, 3}, back: []byte{3, 2, 1, 0}},
		{
			fwd:  []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			back: []byte{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
		},
	}

	for _, tt := range cases {
		got := reverse(tt.fwd)
		if !bytes.Equal(got, tt.back) {
			t.Errorf("reverse(%x): got %x want %x", tt.fwd, got, tt.back)
		}
	}
}

func TestUUIDEqualWidensShortForm(t *testing.T) {
	short := UUID16(0x180f)
	long, err := ParseUUID("0000180f-0000-1000-8000-00805f9b34fb")
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if !short.Equal(long) {
		t.Errorf("UUID16(0x180f) should equal its 128-bit expansion, got %x vs %x", short.Bytes(), long.Bytes())
	}
	if short.Is16Bit() == long.Is16Bit() {
		t.Errorf("short and long forms should differ in Is16Bit")
	}
}

func TestUUIDRoundTripString(t *testing.T) {
	const s = "09fc95c0-c111-11e3-9904-0002a5d5c51b"
	u, err := ParseUUID(s)
	if err != nil {
		t.Fatalf("ParseUUID(%q): %v", s, err)
	}
	if got := u.String(); got != s {
		t.Errorf("String round-trip: got %q want %q", got, s)
	}
}

func TestParseUUIDRejectsBadLength(t *testing.T) {
	if _, err := ParseUUID("abcd12"); err == nil {
		t.Errorf("ParseUUID should reject a uuid that is neither 16 nor 128 bits")
	}
}

func BenchmarkReverseBytes16(b *testing.B) {
	u := UUID{make([]byte, 2)}
	for i := 0; i < b.N; i++ {
		reverse(u.b)
	}
}

func BenchmarkReverseBytes128(b *testing.B) {
	u := UUID{make([]byte, 16)}
	for i := 0; i < b.N; i++ {
		reverse(u.b)
	}
}
