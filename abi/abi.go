// Package abi models the slice of the Solidity contract ABI the test runner
// and cheat-code dispatcher need: function signatures with their 4-byte
// selectors, and encoding/decoding of the elementary argument types used in
// test calls. It is not a general ABI codec; tuples and nested arrays are out
// of scope.
package abi

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
)

// Kind enumerates the supported elementary types.
type Kind uint8

const (
	KindUint Kind = iota
	KindInt
	KindAddress
	KindBool
	KindFixedBytes
	KindBytes
	KindString
)

// Type is one elementary Solidity type.
type Type struct {
	Kind Kind
	// Bits is the width of uint/int types (8..256).
	Bits int
	// Size is the width of fixed bytes types (1..32).
	Size int
}

var typePattern = regexp.MustCompile(`^(uint|int|bytes)([0-9]*)$`)

// ParseType parses an elementary type name such as "uint256", "address" or
// "bytes32".
func ParseType(s string) (Type, error) {
	switch s {
	case "address":
		return Type{Kind: KindAddress}, nil
	case "bool":
		return Type{Kind: KindBool}, nil
	case "string":
		return Type{Kind: KindString}, nil
	case "bytes":
		return Type{Kind: KindBytes}, nil
	}
	m := typePattern.FindStringSubmatch(s)
	if m == nil {
		return Type{}, fmt.Errorf("abi: unsupported type %q", s)
	}
	switch m[1] {
	case "uint", "int":
		bits := 256
		if m[2] != "" {
			v, err := strconv.Atoi(m[2])
			if err != nil || v < 8 || v > 256 || v%8 != 0 {
				return Type{}, fmt.Errorf("abi: invalid width in %q", s)
			}
			bits = v
		}
		kind := KindUint
		if m[1] == "int" {
			kind = KindInt
		}
		return Type{Kind: kind, Bits: bits}, nil
	case "bytes":
		if m[2] == "" {
			return Type{Kind: KindBytes}, nil
		}
		v, err := strconv.Atoi(m[2])
		if err != nil || v < 1 || v > 32 {
			return Type{}, fmt.Errorf("abi: invalid width in %q", s)
		}
		return Type{Kind: KindFixedBytes, Size: v}, nil
	}
	return Type{}, fmt.Errorf("abi: unsupported type %q", s)
}

// MustType parses a type name, panicking on failure. For static tables.
func MustType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical type name.
func (t Type) String() string {
	switch t.Kind {
	case KindUint:
		return "uint" + strconv.Itoa(t.Bits)
	case KindInt:
		return "int" + strconv.Itoa(t.Bits)
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	case KindFixedBytes:
		return "bytes" + strconv.Itoa(t.Size)
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// IsDynamic reports whether values of the type are tail-encoded.
func (t Type) IsDynamic() bool {
	return t.Kind == KindBytes || t.Kind == KindString
}

// Parameter is one named function input.
type Parameter struct {
	Name string
	Type Type
}

// Function is one entry of a contract ABI.
type Function struct {
	Name   string
	Inputs []Parameter
	// StateMutability is "pure", "view", "nonpayable" or "payable".
	StateMutability string
}

// Signature returns the canonical signature, e.g. "transfer(address,uint256)".
func (f *Function) Signature() string {
	parts := make([]string, len(f.Inputs))
	for i, in := range f.Inputs {
		parts[i] = in.Type.String()
	}
	return f.Name + "(" + strings.Join(parts, ",") + ")"
}

// Selector returns the 4-byte function selector.
func (f *Function) Selector() [4]byte {
	return Selector(f.Signature())
}

// Selector hashes a canonical signature into its 4-byte selector.
func Selector(signature string) [4]byte {
	h := crypto.Keccak256Hash([]byte(signature))
	var sel [4]byte
	copy(sel[:], h[:4])
	return sel
}

// EventTopic hashes a canonical event signature into its topic0 value.
func EventTopic(signature string) types.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// Contract is the ABI surface of one compiled contract.
type Contract struct {
	Name      string
	Functions []Function
}

// Function returns the first function with the given name, or nil.
func (c *Contract) Function(name string) *Function {
	for i := range c.Functions {
		if c.Functions[i].Name == name {
			return &c.Functions[i]
		}
	}
	return nil
}

// FunctionsNamed returns every overload with the given name.
func (c *Contract) FunctionsNamed(name string) []*Function {
	var out []*Function
	for i := range c.Functions {
		if c.Functions[i].Name == name {
			out = append(out, &c.Functions[i])
		}
	}
	return out
}

var errShortData = errors.New("abi: calldata too short")

// EncodeCall encodes selector plus arguments for the function.
func EncodeCall(f *Function, values ...interface{}) ([]byte, error) {
	args, err := EncodeArgs(f.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("abi: %s: %w", f.Signature(), err)
	}
	sel := f.Selector()
	return append(sel[:], args...), nil
}

// EncodeArgs encodes values per the standard head/tail layout. Go types per
// kind: *big.Int for uint/int, types.Address, bool, types.Hash or [n]byte
// slice-compatible []byte for fixed bytes, []byte for bytes, string.
func EncodeArgs(inputs []Parameter, values []interface{}) ([]byte, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("abi: want %d values, got %d", len(inputs), len(values))
	}
	head := make([]byte, 0, 32*len(inputs))
	var tail []byte
	tailBase := 32 * len(inputs)

	for i, in := range inputs {
		if in.Type.IsDynamic() {
			head = append(head, encodeUint(big.NewInt(int64(tailBase+len(tail))))...)
			enc, err := encodeDynamic(in.Type, values[i])
			if err != nil {
				return nil, err
			}
			tail = append(tail, enc...)
			continue
		}
		word, err := encodeStatic(in.Type, values[i])
		if err != nil {
			return nil, err
		}
		head = append(head, word...)
	}
	return append(head, tail...), nil
}

func encodeStatic(t Type, v interface{}) ([]byte, error) {
	switch t.Kind {
	case KindUint:
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("abi: %s wants *big.Int, got %T", t, v)
		}
		if n.Sign() < 0 || n.BitLen() > t.Bits {
			return nil, fmt.Errorf("abi: value out of range for %s", t)
		}
		return encodeUint(n), nil
	case KindInt:
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("abi: %s wants *big.Int, got %T", t, v)
		}
		return encodeInt(n), nil
	case KindAddress:
		a, ok := v.(types.Address)
		if !ok {
			return nil, fmt.Errorf("abi: address wants types.Address, got %T", v)
		}
		word := make([]byte, 32)
		copy(word[12:], a[:])
		return word, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("abi: bool wants bool, got %T", v)
		}
		word := make([]byte, 32)
		if b {
			word[31] = 1
		}
		return word, nil
	case KindFixedBytes:
		word := make([]byte, 32)
		switch b := v.(type) {
		case types.Hash:
			copy(word, b[:t.Size])
		case []byte:
			if len(b) != t.Size {
				return nil, fmt.Errorf("abi: %s wants %d bytes, got %d", t, t.Size, len(b))
			}
			copy(word, b)
		default:
			return nil, fmt.Errorf("abi: %s wants types.Hash or []byte, got %T", t, v)
		}
		return word, nil
	}
	return nil, fmt.Errorf("abi: %s is not static", t)
}

func encodeDynamic(t Type, v interface{}) ([]byte, error) {
	var data []byte
	switch t.Kind {
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("abi: bytes wants []byte, got %T", v)
		}
		data = b
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("abi: string wants string, got %T", v)
		}
		data = []byte(s)
	default:
		return nil, fmt.Errorf("abi: %s is not dynamic", t)
	}
	out := encodeUint(big.NewInt(int64(len(data))))
	out = append(out, data...)
	if pad := len(data) % 32; pad != 0 {
		out = append(out, make([]byte, 32-pad)...)
	}
	return out, nil
}

func encodeUint(n *big.Int) []byte {
	return n.FillBytes(make([]byte, 32))
}

func encodeInt(n *big.Int) []byte {
	if n.Sign() >= 0 {
		return encodeUint(n)
	}
	// Two's complement over 256 bits.
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	return encodeUint(new(big.Int).Add(mod, n))
}

// DecodeArgs decodes argument data (without the selector) per the inputs.
func DecodeArgs(inputs []Parameter, data []byte) ([]interface{}, error) {
	out := make([]interface{}, len(inputs))
	for i, in := range inputs {
		word, err := word(data, i)
		if err != nil {
			return nil, err
		}
		switch in.Type.Kind {
		case KindUint:
			out[i] = new(big.Int).SetBytes(word)
		case KindInt:
			out[i] = decodeInt(word)
		case KindAddress:
			out[i] = types.BytesToAddress(word[12:])
		case KindBool:
			out[i] = word[31] != 0
		case KindFixedBytes:
			out[i] = types.BytesToHash(word)
		case KindBytes, KindString:
			offset := new(big.Int).SetBytes(word)
			if !offset.IsInt64() || offset.Int64()+32 > int64(len(data)) {
				return nil, errShortData
			}
			start := int(offset.Int64())
			length := new(big.Int).SetBytes(data[start : start+32])
			if !length.IsInt64() || int64(start)+32+length.Int64() > int64(len(data)) {
				return nil, errShortData
			}
			payload := data[start+32 : start+32+int(length.Int64())]
			if in.Type.Kind == KindString {
				out[i] = string(payload)
			} else {
				out[i] = append([]byte(nil), payload...)
			}
		}
	}
	return out, nil
}

func word(data []byte, index int) ([]byte, error) {
	start := 32 * index
	if start+32 > len(data) {
		return nil, errShortData
	}
	return data[start : start+32], nil
}

func decodeInt(word []byte) *big.Int {
	n := new(big.Int).SetBytes(word)
	if word[0]&0x80 == 0 {
		return n
	}
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	return n.Sub(n, mod)
}

// FormatValue renders one decoded value for counter-example display.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case types.Address:
		return x.Hex()
	case types.Hash:
		return x.Hex()
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return "0x" + fmt.Sprintf("%x", x)
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// FormatCall renders a call with decoded arguments, e.g.
// withdraw(0x1234…, 1).
func FormatCall(f *Function, values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatValue(v)
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// errorStringSelector is the selector of Error(string), the payload Solidity
// builds for require(..., "reason").
var errorStringSelector = Selector("Error(string)")

// EncodeRevertReason builds the Error(string) payload for a reason.
func EncodeRevertReason(reason string) []byte {
	args, _ := EncodeArgs([]Parameter{{Type: Type{Kind: KindString}}}, []interface{}{reason})
	return append(errorStringSelector[:], args...)
}

// DecodeRevertReason extracts the human-readable reason from revert output.
// Raw output that is not an Error(string) payload is returned as-is when
// printable, hex otherwise.
func DecodeRevertReason(output []byte) string {
	if len(output) >= 4 && [4]byte(output[:4]) == errorStringSelector {
		if vals, err := DecodeArgs([]Parameter{{Type: Type{Kind: KindString}}}, output[4:]); err == nil {
			return vals[0].(string)
		}
	}
	if isPrintable(output) {
		return string(output)
	}
	return "0x" + fmt.Sprintf("%x", output)
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
