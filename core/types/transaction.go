package types

import (
	"math/big"
	"sync/atomic"
)

// Transaction type identifiers per EIP-2718.
const (
	LegacyTxType     = 0x00
	AccessListTxType = 0x01
	DynamicFeeTxType = 0x02
	BlobTxType       = 0x03
	SetCodeTxType    = 0x04
)

// AccessTuple is an entry in an EIP-2930 access list.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// AccessList is an EIP-2930 access list.
type AccessList []AccessTuple

// Authorization is an EIP-7702 set-code authorization.
type Authorization struct {
	ChainID uint64
	Address Address
	Nonce   uint64
	V       uint8
	R       *big.Int
	S       *big.Int
}

// Transaction is a signed (or impersonated) transaction as executed by the
// development node. The sender is carried explicitly: the node accepts both
// fully signed transactions and provider-level impersonated ones, and sender
// recovery happens in the (external) RPC layer.
type Transaction struct {
	Type uint8

	// ChainID is present on typed transactions (EIP-2718 onwards).
	ChainID *big.Int

	Nonce uint64

	// Fee fields. GasPrice doubles as the effective price for legacy and
	// access-list transactions; dynamic fee transactions use the tip/fee cap
	// pair.
	GasPrice  *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	Gas       uint64

	To    *Address // nil means contract creation
	Value *big.Int
	Data  []byte

	AccessList AccessList

	// EIP-4844. The sidecar rides along when the transaction arrived in the
	// pooled network wrapper; it is not part of the consensus encoding.
	BlobFeeCap *big.Int
	BlobHashes []Hash
	Sidecar    *BlobSidecar

	// EIP-7702
	AuthList []Authorization

	// From is the resolved sender.
	From Address

	// Signature values; zero for impersonated transactions.
	V, R, S *big.Int

	hash atomic.Pointer[Hash]
}

// Hash returns the transaction hash: keccak256 of the canonical encoding
// (type byte prefix for typed transactions).
func (tx *Transaction) Hash() Hash {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	enc, err := tx.EncodeRLP()
	if err != nil {
		return Hash{}
	}
	h := keccak256(enc)
	tx.hash.Store(&h)
	return h
}

// IsCreate reports whether the transaction creates a contract.
func (tx *Transaction) IsCreate() bool { return tx.To == nil }

// EffectiveGasTip returns the miner tip the transaction pays on top of the
// given base fee, or a negative value when the fee cap is below the base fee.
func (tx *Transaction) EffectiveGasTip(baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tx.gasTipValue())
	}
	feeCap := tx.gasFeeCapValue()
	tip := new(big.Int).Sub(feeCap, baseFee)
	if tipCap := tx.gasTipValue(); tip.Cmp(tipCap) > 0 {
		tip.Set(tipCap)
	}
	return tip
}

// EffectiveGasPrice returns the price actually charged per unit of gas under
// the given base fee.
func (tx *Transaction) EffectiveGasPrice(baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.Type < DynamicFeeTxType {
		return new(big.Int).Set(tx.gasFeeCapValue())
	}
	price := new(big.Int).Add(baseFee, tx.EffectiveGasTip(baseFee))
	if cap := tx.gasFeeCapValue(); price.Cmp(cap) > 0 {
		price.Set(cap)
	}
	return price
}

func (tx *Transaction) gasTipValue() *big.Int {
	if tx.GasTipCap != nil {
		return tx.GasTipCap
	}
	if tx.GasPrice != nil {
		return tx.GasPrice
	}
	return new(big.Int)
}

func (tx *Transaction) gasFeeCapValue() *big.Int {
	if tx.GasFeeCap != nil {
		return tx.GasFeeCap
	}
	if tx.GasPrice != nil {
		return tx.GasPrice
	}
	return new(big.Int)
}

// ValueOrZero returns the transfer value (never nil).
func (tx *Transaction) ValueOrZero() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}
