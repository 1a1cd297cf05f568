package trie

import (
	"sort"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// Encodable is implemented by items that know their own canonical encoding
// (transactions, receipts, withdrawals).
type Encodable interface {
	EncodeRLP() ([]byte, error)
}

// OrderedRoot computes the trie root of an indexed sequence whose keys are
// RLP(index). This is the transactions/receipts/withdrawals root of a block.
func OrderedRoot[T Encodable](items []T) (types.Hash, error) {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		enc, err := item.EncodeRLP()
		if err != nil {
			return types.Hash{}, err
		}
		encoded[i] = enc
	}
	return OrderedRootOfEncoded(encoded)
}

// OrderedRootOfEncoded computes the ordered trie root over pre-encoded
// values. RLP(index) keys are not monotonic in the raw-byte order the hasher
// expects (RLP(0) is 0x80, after all single-byte encodings), so pairs are
// sorted by key bytes before insertion.
func OrderedRootOfEncoded(values [][]byte) (types.Hash, error) {
	type pair struct {
		key []byte
		val []byte
	}
	pairs := make([]pair, 0, len(values))
	for i, val := range values {
		pairs = append(pairs, pair{key: rlp.AppendUint64(nil, uint64(i)), val: val})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i].key) < string(pairs[j].key)
	})

	h := NewHasher()
	for _, p := range pairs {
		if err := h.Update(p.key, p.val); err != nil {
			return types.Hash{}, err
		}
	}
	return h.Hash(), nil
}
