package core

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/trie"
)

// DefaultBlockGasLimit is the gas limit of a local chain's genesis block.
const DefaultBlockGasLimit = 30_000_000

// preMergeNonce is the sentinel block nonce of locally built pre-merge
// blocks.
var preMergeNonce = types.EncodeNonce(0x42)

// BlobGasOverride pins both blob gas fields of a header.
type BlobGasOverride struct {
	GasUsed   uint64
	ExcessGas uint64
}

// HeaderOverrides enumerates per-field overrides applied during header
// construction. Nil fields fall back to the computed defaults.
type HeaderOverrides struct {
	ParentHash       *types.Hash
	OmmersHash       *types.Hash
	Beneficiary      *types.Address
	StateRoot        *types.Hash
	ReceiptsRoot     *types.Hash
	LogsBloom        *types.Bloom
	Difficulty       *big.Int
	Number           *uint64
	GasLimit         *uint64
	GasUsed          *uint64
	Timestamp        *uint64
	ExtraData        []byte
	MixHash          *types.Hash
	Nonce            *types.BlockNonce
	BaseFee          *big.Int
	WithdrawalsRoot  *types.Hash
	BlobGas          *BlobGasOverride
	ParentBeaconRoot *types.Hash
	RequestsHash     *types.Hash
}

// PartialHeader is a block header under assembly: everything except the
// transactions root, which is only known once the mempool ordering is final.
// The miner additionally refreshes state root, receipts root, logs bloom and
// gas used after executing the block's transactions.
type PartialHeader struct {
	ParentHash       types.Hash
	OmmersHash       types.Hash
	Beneficiary      types.Address
	StateRoot        types.Hash
	ReceiptsRoot     types.Hash
	LogsBloom        types.Bloom
	Difficulty       *big.Int
	Number           uint64
	GasLimit         uint64
	GasUsed          uint64
	Timestamp        uint64
	ExtraData        []byte
	MixHash          types.Hash
	Nonce            types.BlockNonce
	BaseFee          *big.Int
	WithdrawalsRoot  *types.Hash
	BlobGasUsed      *uint64
	ExcessBlobGas    *uint64
	ParentBeaconRoot *types.Hash
	RequestsHash     *types.Hash
}

// NewPartialHeader constructs a header for the child of parent (nil parent
// means genesis) under the given config, applying overrides field by field.
func NewPartialHeader(config *BlockConfig, overrides *HeaderOverrides, parent *types.Header, ommers []*types.Header, withdrawals []*types.Withdrawal) (*PartialHeader, error) {
	if overrides == nil {
		overrides = &HeaderOverrides{}
	}
	fork := config.Hardfork
	h := &PartialHeader{}

	// parent_hash: override, else the parent's canonical hash, else zero.
	switch {
	case overrides.ParentHash != nil:
		h.ParentHash = *overrides.ParentHash
	case parent != nil:
		h.ParentHash = parent.Hash()
	}

	// number: override, else parent + 1, else 0.
	switch {
	case overrides.Number != nil:
		h.Number = *overrides.Number
	case parent != nil:
		h.Number = parent.NumberU64() + 1
	}

	// timestamp: override, else strictly after the parent.
	switch {
	case overrides.Timestamp != nil:
		h.Timestamp = *overrides.Timestamp
	case parent != nil:
		h.Timestamp = parent.Time + 1
	}

	// ommers_hash is always derived from the ommers list unless pinned.
	if overrides.OmmersHash != nil {
		h.OmmersHash = *overrides.OmmersHash
	} else {
		h.OmmersHash = types.CalcUncleHash(ommers)
	}

	if overrides.Beneficiary != nil {
		h.Beneficiary = *overrides.Beneficiary
	}
	if overrides.StateRoot != nil {
		h.StateRoot = *overrides.StateRoot
	} else {
		h.StateRoot = types.EmptyRootHash
	}
	if overrides.ReceiptsRoot != nil {
		h.ReceiptsRoot = *overrides.ReceiptsRoot
	} else {
		h.ReceiptsRoot = types.EmptyRootHash
	}
	if overrides.LogsBloom != nil {
		h.LogsBloom = *overrides.LogsBloom
	}

	switch {
	case overrides.GasLimit != nil:
		h.GasLimit = *overrides.GasLimit
	case parent != nil:
		h.GasLimit = parent.GasLimit
	default:
		h.GasLimit = DefaultBlockGasLimit
	}
	if overrides.GasUsed != nil {
		h.GasUsed = *overrides.GasUsed
	}
	h.ExtraData = types.CopyBytes(overrides.ExtraData)
	if overrides.MixHash != nil {
		h.MixHash = *overrides.MixHash
	}

	// difficulty: zero post-merge, canonical ethash before.
	switch {
	case overrides.Difficulty != nil:
		h.Difficulty = new(big.Int).Set(overrides.Difficulty)
	case fork.IsPostMerge():
		h.Difficulty = new(big.Int)
	case parent != nil:
		h.Difficulty = CalcEthashDifficulty(fork, parent, h.Timestamp, len(ommers) > 0, config.MinEthashDifficulty)
	default:
		h.Difficulty = difficultyFloor(config)
	}

	// nonce: zero post-merge, fixed sentinel before.
	switch {
	case overrides.Nonce != nil:
		h.Nonce = *overrides.Nonce
	case !fork.IsPostMerge():
		h.Nonce = preMergeNonce
	}

	// base_fee_per_gas (London+).
	if fork.AtLeast(London) {
		switch {
		case overrides.BaseFee != nil:
			h.BaseFee = new(big.Int).Set(overrides.BaseFee)
		case parent != nil:
			h.BaseFee = CalcBaseFee(parent, config.BaseFeeParams)
		default:
			h.BaseFee = new(big.Int).Set(InitialBaseFee)
		}
	}

	// withdrawals_root (Shanghai+).
	if fork.AtLeast(Shanghai) {
		if overrides.WithdrawalsRoot != nil {
			root := *overrides.WithdrawalsRoot
			h.WithdrawalsRoot = &root
		} else {
			root, err := trie.OrderedRoot(withdrawals)
			if err != nil {
				return nil, err
			}
			h.WithdrawalsRoot = &root
		}
	}

	// blob gas (Cancun+).
	if fork.AtLeast(Cancun) {
		used, excess := uint64(0), uint64(0)
		if overrides.BlobGas != nil {
			used, excess = overrides.BlobGas.GasUsed, overrides.BlobGas.ExcessGas
		} else if parent != nil && parent.ExcessBlobGas != nil {
			params := BlobParamsForHardfork(fork, h.Timestamp, config.ScheduledBlobParams)
			parentUsed := uint64(0)
			if parent.BlobGasUsed != nil {
				parentUsed = *parent.BlobGasUsed
			}
			if fork.AtLeast(Osaka) {
				excess = NextBlockExcessBlobGasOsaka(*parent.ExcessBlobGas, parentUsed, parentBaseFeeOrZero(parent), params)
			} else {
				excess = NextBlockExcessBlobGas(*parent.ExcessBlobGas, parentUsed, params)
			}
		}
		h.BlobGasUsed = &used
		h.ExcessBlobGas = &excess

		// parent_beacon_block_root: the EIP-4788 initial value is zero.
		beaconRoot := types.Hash{}
		if overrides.ParentBeaconRoot != nil {
			beaconRoot = *overrides.ParentBeaconRoot
		}
		h.ParentBeaconRoot = &beaconRoot
	}

	// requests_hash (Prague+): the hash of no requests by default.
	if fork.AtLeast(Prague) {
		requestsHash := types.EmptyRequestsHash
		if overrides.RequestsHash != nil {
			requestsHash = *overrides.RequestsHash
		}
		h.RequestsHash = &requestsHash
	}

	return h, nil
}

// Finalize produces the immutable header once the transactions root is
// known.
func (p *PartialHeader) Finalize(txRoot types.Hash) *types.Header {
	h := &types.Header{
		ParentHash:       p.ParentHash,
		UncleHash:        p.OmmersHash,
		Coinbase:         p.Beneficiary,
		Root:             p.StateRoot,
		TxHash:           txRoot,
		ReceiptHash:      p.ReceiptsRoot,
		Bloom:            p.LogsBloom,
		Difficulty:       p.Difficulty,
		Number:           new(big.Int).SetUint64(p.Number),
		GasLimit:         p.GasLimit,
		GasUsed:          p.GasUsed,
		Time:             p.Timestamp,
		Extra:            p.ExtraData,
		MixDigest:        p.MixHash,
		Nonce:            p.Nonce,
		BaseFee:          p.BaseFee,
		WithdrawalsHash:  p.WithdrawalsRoot,
		BlobGasUsed:      p.BlobGasUsed,
		ExcessBlobGas:    p.ExcessBlobGas,
		ParentBeaconRoot: p.ParentBeaconRoot,
		RequestsHash:     p.RequestsHash,
	}
	return h
}

func difficultyFloor(config *BlockConfig) *big.Int {
	if config.MinEthashDifficulty != nil {
		return new(big.Int).Set(config.MinEthashDifficulty)
	}
	return new(big.Int)
}

func parentBaseFeeOrZero(parent *types.Header) *big.Int {
	if parent.BaseFee == nil {
		return new(big.Int)
	}
	return parent.BaseFee
}
