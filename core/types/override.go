package types

import "math/big"

// AccountOverride describes a per-account diff applied on top of a baseline
// state: any non-nil field replaces the corresponding account value.
type AccountOverride struct {
	Nonce   *uint64
	Balance *big.Int
	Code    []byte
	Storage map[Hash]Hash
}

// StateOverride is a state diff applied at a particular block number,
// together with a synthetic state root used when the local trie cannot be
// regenerated (for example over a forked baseline).
type StateOverride struct {
	BlockNumber uint64
	Accounts    map[Address]AccountOverride
	StateRoot   Hash
}

// NewStateOverride creates an empty override for the given block number with
// the given synthetic root.
func NewStateOverride(blockNumber uint64, root Hash) *StateOverride {
	return &StateOverride{
		BlockNumber: blockNumber,
		Accounts:    make(map[Address]AccountOverride),
		StateRoot:   root,
	}
}
