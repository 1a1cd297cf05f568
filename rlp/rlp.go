// Package rlp implements the slice of recursive-length-prefix encoding the
// block primitives need. Encoding is appender-style: callers build a list
// payload item by item (byte strings, unsigned integers, big integers) and
// close it with WrapList; nested lists are payloads wrapped before being
// appended. Decoding goes through Stream, which keeps list scopes so a
// decoder can check for the hardfork-gated optional fields at the end of a
// header list before reading each one.
package rlp

import "math/big"

// AppendString appends the RLP encoding of a byte string to dst. The empty
// string encodes as 0x80; a single byte below 0x80 is its own encoding.
func AppendString(dst, s []byte) []byte {
	if len(s) == 1 && s[0] <= 0x7f {
		return append(dst, s[0])
	}
	dst = appendSize(dst, 0x80, uint64(len(s)))
	return append(dst, s...)
}

// AppendUint64 appends the canonical integer encoding: big-endian with no
// leading zeros, zero as the empty string.
func AppendUint64(dst []byte, v uint64) []byte {
	switch {
	case v == 0:
		return append(dst, 0x80)
	case v < 0x80:
		return append(dst, byte(v))
	default:
		return AppendString(dst, trimBigEndian(v))
	}
}

// AppendBigInt appends a non-negative big integer. A nil value encodes as
// zero.
func AppendBigInt(dst []byte, v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return append(dst, 0x80)
	}
	return AppendString(dst, v.Bytes())
}

// WrapList wraps an already-encoded payload in a list header.
func WrapList(payload []byte) []byte {
	return append(appendSize(nil, 0xc0, uint64(len(payload))), payload...)
}

// appendSize appends the length prefix for a string (base 0x80) or list
// (base 0xc0) of the given payload size.
func appendSize(dst []byte, base byte, size uint64) []byte {
	if size <= 55 {
		return append(dst, base+byte(size))
	}
	b := trimBigEndian(size)
	dst = append(dst, base+55+byte(len(b)))
	return append(dst, b...)
}

// trimBigEndian returns v big-endian with leading zero bytes removed.
// v must be non-zero.
func trimBigEndian(v uint64) []byte {
	b := make([]byte, 0, 8)
	for shift := 56; shift >= 0; shift -= 8 {
		if x := byte(v >> shift); x != 0 || len(b) > 0 {
			b = append(b, x)
		}
	}
	return b
}
