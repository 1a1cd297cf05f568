// Package crypto provides the hashing helpers used across the node.
package crypto

import (
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Keccak256(data...))
}

// CreateAddress computes the address of a contract created by sender with
// the given nonce: keccak256(rlp([sender, nonce]))[12:].
func CreateAddress(sender types.Address, nonce uint64) types.Address {
	enc := rlp.WrapList(rlp.AppendUint64(rlp.AppendString(nil, sender[:]), nonce))
	return types.BytesToAddress(Keccak256(enc)[12:])
}

// CreateAddress2 computes a CREATE2 address:
// keccak256(0xff ++ sender ++ salt ++ keccak256(init_code))[12:].
func CreateAddress2(sender types.Address, salt types.Hash, initCodeHash []byte) types.Address {
	return types.BytesToAddress(Keccak256([]byte{0xff}, sender.Bytes(), salt.Bytes(), initCodeHash)[12:])
}

// Selector returns the 4-byte function selector of a canonical signature,
// e.g. "transfer(address,uint256)".
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], Keccak256([]byte(signature))[:4])
	return sel
}

// HashToBig converts a hash to a big integer.
func HashToBig(h types.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}
