package types

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/rlp"
)

// Body contains the transactions and auxiliary data of a block.
type Body struct {
	Transactions []*Transaction
	Uncles       []*Header
	Withdrawals  []*Withdrawal
}

// Block represents an Ethereum block. Blocks are immutable once constructed;
// handles are cheap to copy and safe to share.
type Block struct {
	header *Header
	body   Body
}

// NewBlock creates a block with the given header and body. The header is
// deep-copied; the body slices are copied shallowly (transactions are
// immutable once placed).
func NewBlock(header *Header, body *Body) *Block {
	b := &Block{header: CopyHeader(header)}
	if body != nil {
		b.body.Transactions = append([]*Transaction(nil), body.Transactions...)
		b.body.Uncles = make([]*Header, len(body.Uncles))
		for i, u := range body.Uncles {
			b.body.Uncles[i] = CopyHeader(u)
		}
		if body.Withdrawals != nil {
			b.body.Withdrawals = append([]*Withdrawal(nil), body.Withdrawals...)
		}
	}
	return b
}

// Header returns a copy of the block header.
func (b *Block) Header() *Header { return CopyHeader(b.header) }

// HeaderNoCopy returns the underlying header. Callers must not mutate it.
func (b *Block) HeaderNoCopy() *Header { return b.header }

// Hash returns the canonical block hash.
func (b *Block) Hash() Hash { return b.header.Hash() }

// Transactions returns the block's transactions.
func (b *Block) Transactions() []*Transaction { return b.body.Transactions }

// Uncles returns the block's ommer headers.
func (b *Block) Uncles() []*Header { return b.body.Uncles }

// Withdrawals returns the block's withdrawals (nil pre-Shanghai).
func (b *Block) Withdrawals() []*Withdrawal { return b.body.Withdrawals }

// Number returns a copy of the block number.
func (b *Block) Number() *big.Int {
	if b.header.Number == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.header.Number)
}

// NumberU64 returns the block number as a uint64.
func (b *Block) NumberU64() uint64 { return b.header.NumberU64() }

// ParentHash returns the parent block hash.
func (b *Block) ParentHash() Hash { return b.header.ParentHash }

// Time returns the block timestamp.
func (b *Block) Time() uint64 { return b.header.Time }

// GasLimit returns the block gas limit.
func (b *Block) GasLimit() uint64 { return b.header.GasLimit }

// GasUsed returns the gas used by the block.
func (b *Block) GasUsed() uint64 { return b.header.GasUsed }

// BaseFee returns the base fee (nil pre-London).
func (b *Block) BaseFee() *big.Int {
	if b.header.BaseFee == nil {
		return nil
	}
	return new(big.Int).Set(b.header.BaseFee)
}

// Difficulty returns a copy of the block difficulty.
func (b *Block) Difficulty() *big.Int {
	if b.header.Difficulty == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.header.Difficulty)
}

// Transaction returns the transaction at the given index, or nil.
func (b *Block) Transaction(i int) *Transaction {
	if i < 0 || i >= len(b.body.Transactions) {
		return nil
	}
	return b.body.Transactions[i]
}

// CalcUncleHash computes keccak256(rlp(ommers-list)).
func CalcUncleHash(uncles []*Header) Hash {
	if len(uncles) == 0 {
		return EmptyUncleHash
	}
	var payload []byte
	for _, u := range uncles {
		enc, err := u.EncodeRLP()
		if err != nil {
			return Hash{}
		}
		payload = append(payload, enc...)
	}
	return keccak256(rlp.WrapList(payload))
}
