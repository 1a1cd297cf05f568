package trie

import (
	"bytes"
	"errors"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
)

var (
	// ErrOutOfOrder is returned when keys are inserted out of order.
	ErrOutOfOrder = errors.New("trie: keys must be inserted in ascending order")

	// ErrFinalized is returned when Update is called after Hash.
	ErrFinalized = errors.New("trie: already finalized")
)

// nodeType distinguishes node states in the Hasher's working tree.
type nodeType byte

const (
	ntEmpty nodeType = iota
	ntLeaf
	ntExt
	ntBranch
)

type node struct {
	typ      nodeType
	key      []byte    // nibble key: remaining key for leaves, shared prefix for extensions
	val      []byte    // value bytes for leaves and branch terminations
	children [16]*node // branch children; children[0] doubles as the extension child
}

// Hasher computes the Merkle-Patricia root of key-value pairs inserted in
// strictly ascending raw-byte order. It keeps the full node tree in memory;
// for the short sequences of a dev-node block this is cheaper than a
// streaming collapse.
type Hasher struct {
	root      *node
	lastKey   []byte
	finalized bool
	count     int
}

// NewHasher creates an empty trie hasher.
func NewHasher() *Hasher {
	return &Hasher{root: &node{typ: ntEmpty}}
}

// Update inserts a key-value pair. Keys must arrive in strictly ascending
// order; empty values are skipped.
func (h *Hasher) Update(key, value []byte) error {
	if h.finalized {
		return ErrFinalized
	}
	if len(value) == 0 {
		return nil
	}
	if h.lastKey != nil && bytes.Compare(key, h.lastKey) <= 0 {
		return ErrOutOfOrder
	}
	h.lastKey = append([]byte(nil), key...)

	nibbles := keybytesToHex(key)
	nibbles = nibbles[:len(nibbles)-1] // type is tracked separately, drop terminator
	h.count++
	h.insert(h.root, nibbles, value)
	return nil
}

func (h *Hasher) insert(n *node, key, value []byte) {
	switch n.typ {
	case ntEmpty:
		n.typ = ntLeaf
		n.key = append([]byte(nil), key...)
		n.val = append([]byte(nil), value...)

	case ntLeaf:
		match := prefixLen(n.key, key)
		if match == len(n.key) && match == len(key) {
			n.val = append([]byte(nil), value...)
			return
		}

		existingKey, existingVal := n.key, n.val
		branch := &node{typ: ntBranch}

		if match == len(existingKey) {
			branch.val = existingVal
		} else {
			branch.children[existingKey[match]] = &node{
				typ: ntLeaf,
				key: append([]byte(nil), existingKey[match+1:]...),
				val: existingVal,
			}
		}
		if match == len(key) {
			branch.val = append([]byte(nil), value...)
		} else {
			branch.children[key[match]] = &node{
				typ: ntLeaf,
				key: append([]byte(nil), key[match+1:]...),
				val: append([]byte(nil), value...),
			}
		}

		if match > 0 {
			n.typ = ntExt
			n.key = append([]byte(nil), existingKey[:match]...)
			n.val = nil
			n.children = [16]*node{}
			n.children[0] = branch
		} else {
			*n = *branch
		}

	case ntExt:
		match := prefixLen(n.key, key)
		if match == len(n.key) {
			h.insert(n.children[0], key[match:], value)
			return
		}

		oldExt, child := n.key, n.children[0]
		branch := &node{typ: ntBranch}

		if remaining := len(oldExt) - match - 1; remaining > 0 {
			ext := &node{typ: ntExt, key: append([]byte(nil), oldExt[match+1:]...)}
			ext.children[0] = child
			branch.children[oldExt[match]] = ext
		} else {
			branch.children[oldExt[match]] = child
		}

		if match == len(key) {
			branch.val = append([]byte(nil), value...)
		} else {
			branch.children[key[match]] = &node{
				typ: ntLeaf,
				key: append([]byte(nil), key[match+1:]...),
				val: append([]byte(nil), value...),
			}
		}

		if match > 0 {
			n.key = append([]byte(nil), oldExt[:match]...)
			n.children = [16]*node{}
			n.children[0] = branch
		} else {
			*n = *branch
		}

	case ntBranch:
		if len(key) == 0 {
			n.val = append([]byte(nil), value...)
			return
		}
		idx := key[0]
		if n.children[idx] == nil {
			n.children[idx] = &node{typ: ntEmpty}
		}
		h.insert(n.children[idx], key[1:], value)
	}
}

// Hash finalizes the hasher and returns the root hash. The root of an empty
// trie is the well-known empty-root constant.
func (h *Hasher) Hash() types.Hash {
	h.finalized = true
	if h.count == 0 {
		return types.EmptyRootHash
	}
	return crypto.Keccak256Hash(h.encode(h.root))
}

// encode RLP-encodes a node per the Yellow Paper; children whose encoding is
// 32 bytes or longer are referenced by hash.
func (h *Hasher) encode(n *node) []byte {
	switch n.typ {
	case ntEmpty:
		return []byte{0x80}

	case ntLeaf:
		leafKey := make([]byte, len(n.key)+1)
		copy(leafKey, n.key)
		leafKey[len(leafKey)-1] = terminatorByte
		return encodePair(hexToCompact(leafKey), n.val)

	case ntExt:
		keyEnc := encodeBytes(hexToCompact(n.key))
		childEnc := h.encode(n.children[0])
		var ref []byte
		if len(childEnc) >= 32 {
			ref = encodeBytes(crypto.Keccak256(childEnc))
		} else {
			ref = childEnc
		}
		return wrapList(append(keyEnc, ref...))

	case ntBranch:
		var payload []byte
		for i := 0; i < 16; i++ {
			child := n.children[i]
			if child == nil {
				payload = append(payload, 0x80)
				continue
			}
			childEnc := h.encode(child)
			if len(childEnc) >= 32 {
				payload = append(payload, encodeBytes(crypto.Keccak256(childEnc))...)
			} else {
				payload = append(payload, childEnc...)
			}
		}
		if n.val != nil {
			payload = append(payload, encodeBytes(n.val)...)
		} else {
			payload = append(payload, 0x80)
		}
		return wrapList(payload)
	}
	return []byte{0x80}
}

func encodePair(key, val []byte) []byte {
	return wrapList(append(encodeBytes(key), encodeBytes(val)...))
}

// encodeBytes encodes a byte string as RLP.
func encodeBytes(b []byte) []byte {
	switch {
	case len(b) == 1 && b[0] < 0x80:
		return []byte{b[0]}
	case len(b) <= 55:
		out := make([]byte, 1+len(b))
		out[0] = 0x80 + byte(len(b))
		copy(out[1:], b)
		return out
	default:
		lenBytes := beBytes(uint64(len(b)))
		out := make([]byte, 1+len(lenBytes)+len(b))
		out[0] = 0xb7 + byte(len(lenBytes))
		copy(out[1:], lenBytes)
		copy(out[1+len(lenBytes):], b)
		return out
	}
}

func wrapList(payload []byte) []byte {
	if len(payload) <= 55 {
		out := make([]byte, 1+len(payload))
		out[0] = 0xc0 + byte(len(payload))
		copy(out[1:], payload)
		return out
	}
	lenBytes := beBytes(uint64(len(payload)))
	out := make([]byte, 1+len(lenBytes)+len(payload))
	out[0] = 0xf7 + byte(len(lenBytes))
	copy(out[1:], lenBytes)
	copy(out[1+len(lenBytes):], payload)
	return out
}

func beBytes(u uint64) []byte {
	var tmp [8]byte
	n := 0
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(u)
		u >>= 8
		n++
		if u == 0 {
			break
		}
	}
	return append([]byte(nil), tmp[8-n:]...)
}
