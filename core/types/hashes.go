package types

import (
	"golang.org/x/crypto/sha3"
)

// Well-known constant hashes.
var (
	// EmptyRootHash is the root of an empty Merkle-Patricia trie.
	EmptyRootHash = HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

	// EmptyCodeHash is keccak256 of empty code.
	EmptyCodeHash = HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")

	// EmptyUncleHash is keccak256(rlp([])), the ommers hash of a block with
	// no uncles.
	EmptyUncleHash = HexToHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347")

	// EmptyRequestsHash is the requests hash of a block carrying no EIP-7685
	// requests: the keccak256 hash of the empty byte string.
	EmptyRequestsHash = EmptyCodeHash
)

// keccak256 computes the Keccak-256 hash over the concatenation of data.
// The types package keeps its own copy to stay free of import cycles with
// the crypto package.
func keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}
