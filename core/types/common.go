// Package types defines the core data structures of the development node:
// hashes, addresses, block headers with hardfork-gated trailing fields,
// blocks, transactions, receipts and logs.
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	HashLength    = 32
	AddressLength = 20
	BloomLength   = 256
	NonceLength   = 8
)

// Hash represents the 32-byte Keccak256 hash of data.
type Hash [HashLength]byte

// Address represents the 20-byte address of an Ethereum account.
type Address [AddressLength]byte

// Bloom represents a 2048-bit logs bloom filter.
type Bloom [BloomLength]byte

// BlockNonce is the 8-byte block nonce (legacy PoW, zero post-merge).
type BlockNonce [NonceLength]byte

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string (with or without 0x prefix) to Hash.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex representation of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// SetBytes sets the hash from a byte slice, left-padding if necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	*h = Hash{}
	copy(h[HashLength-len(b):], b)
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool { return h == Hash{} }

// Big returns the hash interpreted as a big-endian integer.
func (h Hash) Big() *big.Int { return new(big.Int).SetBytes(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler (hex-quantity JSON form).
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(input []byte) error {
	return unmarshalFixedText("Hash", input, h[:])
}

// BytesToAddress converts bytes to Address, left-padding if necessary.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress converts a hex string to Address.
func HexToAddress(s string) Address {
	return BytesToAddress(fromHex(s))
}

// BigToAddress converts a big integer to Address, truncating to 20 bytes.
func BigToAddress(b *big.Int) Address {
	return BytesToAddress(b.Bytes())
}

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the 0x-prefixed hex representation of the address.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// SetBytes sets the address from a byte slice, left-padding if necessary.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	*a = Address{}
	copy(a[AddressLength-len(b):], b)
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool { return a == Address{} }

// Hash returns the address left-padded to 32 bytes.
func (a Address) Hash() Hash { return BytesToHash(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(input []byte) error {
	return unmarshalFixedText("Address", input, a[:])
}

// EncodeNonce converts a uint64 to a big-endian BlockNonce.
func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	for j := 7; j >= 0; j-- {
		n[j] = byte(i)
		i >>= 8
	}
	return n
}

// Uint64 returns the nonce as a big-endian integer.
func (n BlockNonce) Uint64() uint64 {
	var v uint64
	for _, b := range n {
		v = v<<8 | uint64(b)
	}
	return v
}

// fromHex decodes a hex string, tolerating a 0x prefix and odd length.
func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func unmarshalFixedText(typ string, input, out []byte) error {
	raw := input
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	if len(raw) != 2*len(out) {
		return fmt.Errorf("%s: hex string has length %d, want %d", typ, len(raw), 2*len(out))
	}
	_, err := hex.Decode(out, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}

// CopyBytes returns a copy of b (nil stays nil).
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
