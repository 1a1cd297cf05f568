// Package vm defines the execution environment and the seams the node uses
// to drive an EVM interpreter: the Interpreter interface, the Inspector
// call-site hooks and the uniform execution result. The interpreter itself
// is pluggable; the package ships a minimal native implementation covering
// value transfers and code installation, which is what block assembly and
// the test harness exercise directly.
package vm

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// BlockEnv is the block-level execution context.
type BlockEnv struct {
	Number      uint64
	Timestamp   uint64
	Beneficiary types.Address
	GasLimit    uint64
	BaseFee     *uint256.Int
	// PrevRandao doubles as mix hash pre-merge.
	PrevRandao types.Hash
	Difficulty *uint256.Int

	ExcessBlobGas *uint64
	BlobBaseFee   *uint256.Int
}

// TxEnv is the transaction-level execution context.
type TxEnv struct {
	From     types.Address
	To       *types.Address // nil = contract creation
	Value    *uint256.Int
	Data     []byte
	GasLimit uint64
	GasPrice *uint256.Int
	// Nonce pins the expected account nonce; nil skips the check.
	Nonce *uint64

	AccessList types.AccessList
	AuthList   []types.Authorization
	BlobHashes []types.Hash
}

// Env is the combined execution environment handed to the interpreter.
type Env struct {
	ChainID  uint64
	Hardfork core.Hardfork
	Block    BlockEnv
	Tx       TxEnv
}

// NewBlockEnv derives a block env from a header under the given fork.
func NewBlockEnv(header *types.Header, fork core.Hardfork) BlockEnv {
	env := BlockEnv{
		Number:      header.NumberU64(),
		Timestamp:   header.Time,
		Beneficiary: header.Coinbase,
		GasLimit:    header.GasLimit,
		PrevRandao:  header.MixDigest,
	}
	if header.BaseFee != nil {
		env.BaseFee, _ = uint256.FromBig(header.BaseFee)
	} else {
		env.BaseFee = uint256.NewInt(0)
	}
	if header.Difficulty != nil {
		env.Difficulty, _ = uint256.FromBig(header.Difficulty)
	} else {
		env.Difficulty = uint256.NewInt(0)
	}
	if header.ExcessBlobGas != nil {
		excess := *header.ExcessBlobGas
		env.ExcessBlobGas = &excess
		params := core.BlobParamsForHardfork(fork, header.Time, nil)
		fee, _ := uint256.FromBig(core.CalcBlobFee(excess, params))
		env.BlobBaseFee = fee
	}
	return env
}

// TxEnvFromTransaction builds a tx env from a pooled transaction under the
// given base fee.
func TxEnvFromTransaction(tx *types.Transaction, baseFee *big.Int) TxEnv {
	value, _ := uint256.FromBig(tx.ValueOrZero())
	price, _ := uint256.FromBig(tx.EffectiveGasPrice(baseFee))
	nonce := tx.Nonce
	return TxEnv{
		From:       tx.From,
		To:         tx.To,
		Value:      value,
		Data:       tx.Data,
		GasLimit:   tx.Gas,
		GasPrice:   price,
		Nonce:      &nonce,
		AccessList: tx.AccessList,
		AuthList:   tx.AuthList,
		BlobHashes: tx.BlobHashes,
	}
}
