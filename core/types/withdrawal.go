package types

import (
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// Withdrawal represents a validator withdrawal pushed from the beacon chain
// (EIP-4895).
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        Address
	Amount         uint64 // in Gwei
}

// EncodeRLP returns the RLP encoding [index, validator, address, amount].
func (w *Withdrawal) EncodeRLP() ([]byte, error) {
	p := rlp.AppendUint64(nil, w.Index)
	p = rlp.AppendUint64(p, w.ValidatorIndex)
	p = rlp.AppendString(p, w.Address[:])
	p = rlp.AppendUint64(p, w.Amount)
	return rlp.WrapList(p), nil
}
