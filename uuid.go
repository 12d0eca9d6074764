package bluetoe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// canonicalBase16 is the big-endian, 16-byte skeleton shared by every
// Bluetooth SIG 16-bit UUID: 0000xxxx-0000-1000-8000-00805F9B34FB,
// with the 16-bit portion left zeroed at [2:4].
var canonicalBase16 = [16]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
}

// A UUID identifies an attribute type. It holds either a 16-bit
// Bluetooth SIG UUID (2 bytes) or a full 128-bit UUID (16 bytes), both
// stored little-endian on the wire, matching the over-the-air byte
// order used throughout the ATT protocol.
type UUID struct {
	b []byte
}

// UUID16 returns the UUID for a 16-bit Bluetooth SIG-assigned number.
func UUID16(n uint16) UUID {
	return UUID{b: []byte{byte(n), byte(n >> 8)}}
}

// ParseUUID parses a UUID from its canonical string form
// (e.g. "0000180f-0000-1000-8000-00805f9b34fb" or a bare "180f" /
// "0x180f" short form). It returns an error if s is not a valid UUID.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, fmt.Errorf("bluetoe: invalid uuid %q: %w", s, err)
	}
	switch len(b) {
	case 2:
		return UUID{b: []byte{b[1], b[0]}}, nil
	case 16:
		return UUID{b: reverse(b)}, nil
	default:
		return UUID{}, errors.New("bluetoe: uuid must be 16 or 128 bits")
	}
}

// MustParseUUID is like ParseUUID but panics on error. It is intended
// for use with constant UUID strings known at compile time.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Len returns the length of u in bytes, either 2 or 16.
func (u UUID) Len() int { return len(u.b) }

// Bytes returns the little-endian, over-the-air encoding of u.
func (u UUID) Bytes() []byte { return u.b }

// Is16Bit reports whether u is a 16-bit Bluetooth SIG UUID.
func (u UUID) Is16Bit() bool { return len(u.b) == 2 }

// Equal reports whether u and v identify the same attribute type,
// widening a 16-bit UUID to its 128-bit base form for comparison.
func (u UUID) Equal(v UUID) bool {
	return uuidEqual(u, v)
}

// String returns the canonical, big-endian hex representation of u,
// dash-grouped for 128-bit UUIDs.
func (u UUID) String() string {
	b := reverse(u.b)
	if len(b) == 2 {
		return hex.EncodeToString(b)
	}
	s := hex.EncodeToString(b)
	if len(s) != 32 {
		return s
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}

// uuidEqual reports whether a and b identify the same attribute type.
// A 16-bit UUID is widened against the Bluetooth base UUID before
// comparing, so UUID16(0x1800) equals its 128-bit expansion.
func uuidEqual(a, b UUID) bool {
	av, bv := widen(a), widen(b)
	if len(av) != len(bv) {
		return false
	}
	for i := range av {
		if av[i] != bv[i] {
			return false
		}
	}
	return true
}

func widen(u UUID) []byte {
	if len(u.b) == 16 {
		return u.b
	}
	canonical := canonicalBase16
	canonical[2] = u.b[1] // high byte of the 16-bit value
	canonical[3] = u.b[0] // low byte of the 16-bit value
	return reverse(canonical[:])
}

// reverse returns a new slice containing b's bytes in reverse order.
func reverse(b []byte) []byte {
	n := len(b)
	out := make([]byte, n)
	for i, v := range b {
		out[n-1-i] = v
	}
	return out
}
