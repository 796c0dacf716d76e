// Package der implements the handful of ASN.1 DER encoding primitives needed
// to emit SubjectPublicKeyInfo structures from JSON Web Keys. There is no
// decoder; inputs are always key material, never arbitrary DER.
package der

import "fmt"

const constructed = 0x1 << 5

// Universal tags used by the encoders in this package.
const (
	TagInteger     byte = 0x02
	TagBitString   byte = 0x03
	TagNull        byte = 0x05
	TagObjectID    byte = 0x06
	TagSequence    byte = 0x10 | constructed
	maxContentSize      = 1<<31 - 1
)

// Null is the DER encoding of an ASN.1 NULL value.
var Null = []byte{TagNull, 0x00}

// EncodeValue encodes content in identifier-length-contents form. Lengths
// below 128 use the short form; anything larger uses the long form with a
// big-endian length. Content larger than 2^31-1 bytes panics.
func EncodeValue(tag byte, content []byte) []byte {
	n := len(content)
	if n > maxContentSize {
		panic(fmt.Sprintf("der: content too large: %d bytes", n))
	}

	out := make([]byte, 0, n+6)
	out = append(out, tag)
	if n < 0x80 {
		out = append(out, byte(n))
	} else {
		var lenBytes []byte
		for v := n; v > 0; v >>= 8 {
			lenBytes = append([]byte{byte(v)}, lenBytes...)
		}
		out = append(out, 0x80|byte(len(lenBytes)))
		out = append(out, lenBytes...)
	}
	return append(out, content...)
}

// EncodeBase128 encodes n as big-endian base-128 with the continuation bit
// set on every byte except the last.
func EncodeBase128(n uint64) []byte {
	out := []byte{byte(n & 0x7f)}
	for n >>= 7; n > 0; n >>= 7 {
		out = append([]byte{byte(n&0x7f) | 0x80}, out...)
	}
	return out
}

// EncodeSequence wraps the concatenation of parts in a SEQUENCE.
func EncodeSequence(parts ...[]byte) []byte {
	var content []byte
	for _, p := range parts {
		content = append(content, p...)
	}
	return EncodeValue(TagSequence, content)
}

// EncodeOID encodes an object identifier given its full arc list, e.g.
// EncodeOID(1, 2, 840, 113549, 1, 1, 1). The first two arcs are combined
// into a single component as X.690 requires.
func EncodeOID(arcs ...uint64) []byte {
	if len(arcs) < 2 {
		panic("der: object identifier needs at least two arcs")
	}

	content := EncodeBase128(arcs[0]*40 + arcs[1])
	for _, arc := range arcs[2:] {
		content = append(content, EncodeBase128(arc)...)
	}
	return EncodeValue(TagObjectID, content)
}

// EncodeBitString encodes data as a BIT STRING with zero unused bits.
func EncodeBitString(data []byte) []byte {
	content := make([]byte, 0, len(data)+1)
	content = append(content, 0x00)
	content = append(content, data...)
	return EncodeValue(TagBitString, content)
}

// EncodeUnsignedInteger encodes a big-endian unsigned magnitude as an
// INTEGER. Redundant leading zeros are dropped and a single zero byte is
// prepended when the high bit is set, so the value never reads as negative.
func EncodeUnsignedInteger(magnitude []byte) []byte {
	b := magnitude
	for len(b) > 1 && b[0] == 0x00 {
		b = b[1:]
	}
	if len(b) == 0 {
		b = []byte{0x00}
	}

	content := make([]byte, 0, len(b)+1)
	if b[0]&0x80 != 0 {
		content = append(content, 0x00)
	}
	content = append(content, b...)
	return EncodeValue(TagInteger, content)
}
