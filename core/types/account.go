package types

import "math/big"

// Account is the state of an Ethereum account: nonce, balance, code hash and
// storage root.
type Account struct {
	Nonce    uint64
	Balance  *big.Int
	Root     Hash
	CodeHash []byte
}

// NewAccount returns an empty account.
func NewAccount() Account {
	return Account{
		Balance:  new(big.Int),
		Root:     EmptyRootHash,
		CodeHash: EmptyCodeHash.Bytes(),
	}
}

// Copy returns a deep copy of the account.
func (a Account) Copy() Account {
	cpy := a
	if a.Balance != nil {
		cpy.Balance = new(big.Int).Set(a.Balance)
	}
	cpy.CodeHash = CopyBytes(a.CodeHash)
	return cpy
}

// IsEmpty reports whether the account is empty per EIP-161.
func (a Account) IsEmpty() bool {
	return a.Nonce == 0 &&
		(a.Balance == nil || a.Balance.Sign() == 0) &&
		BytesToHash(a.CodeHash) == EmptyCodeHash
}
