// Package fork splices a remote chain and local block storage into one
// blockchain: block numbers at or below the fork point are served from the
// remote endpoint, everything above it from locally produced blocks.
package fork

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/NomicFoundation/edr-sub001/blockstore"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/remote"
)

var (
	// ErrCannotDeleteRemote is returned when a revert targets a block below
	// the fork point.
	ErrCannotDeleteRemote = errors.New("fork: cannot delete remote blocks")

	// ErrUnsupportedHardfork is returned when the remote chain ran a fork
	// older than Spurious Dragon at the fork block.
	ErrUnsupportedHardfork = errors.New("fork: remote hardfork below spurious dragon is not supported")

	// ErrInvalidGasLimit is returned when an inserted block's gas limit
	// moves too far from its parent's.
	ErrInvalidGasLimit = errors.New("fork: gas limit out of bounds")

	// ErrInvalidBaseFee is returned when an inserted block's base fee does
	// not match the value derived from its parent.
	ErrInvalidBaseFee = errors.New("fork: base fee mismatch")

	// ErrUnknownBlock is returned for lookups outside the spliced range.
	ErrUnknownBlock = errors.New("fork: unknown block")
)

// Gas limit bounds (EIP-1559 / Yellow Paper).
const (
	gasLimitBoundDivisor = 1024
	minGasLimit          = 5000
)

// SafeBlockDepth returns the reorg-safety depth used to derive a recommended
// fork block for the given chain. Unknown chains are treated as devnets with
// instant finality, so the latest block is used as-is.
func SafeBlockDepth(chainID uint64) uint64 {
	switch chainID {
	case 1, 5, 10, 17000, 11155111:
		return 5
	case 100:
		return 38
	default:
		return 0
	}
}

// Config describes how to attach to a remote chain.
type Config struct {
	// BlockNumber pins the fork point. Nil means derive a recommended value
	// from the remote's latest block and the chain's safe depth.
	BlockNumber *uint64

	// Hardfork is the fork the local chain runs.
	Hardfork core.Hardfork

	// ChainID overrides the remote chain id for locally produced blocks.
	// Nil keeps the remote id.
	ChainID *uint64

	// History is the remote chain's activation history. Nil falls back to
	// the mainnet history when the remote is mainnet, and to Hardfork
	// otherwise.
	History *core.HardforkHistory

	// BlockConfig parameterises locally built headers. Nil uses the default
	// config at Hardfork.
	BlockConfig *core.BlockConfig
}

// Blockchain is the spliced view over a remote chain and local storage. A
// local-only chain (NewLocalBlockchain) has no remote side; its genesis block
// takes the anchor's place.
type Blockchain struct {
	remote *remote.Blockchain
	local  *blockstore.Storage
	logger *log.Logger

	// genesis is set for local-only chains and served for reads at the
	// anchor number.
	genesis *Block

	forkBlockNumber uint64
	remoteChainID   uint64
	chainID         uint64
	hardfork        core.Hardfork
	remoteFork      core.Hardfork
	blockConfig     *core.BlockConfig

	// stateOverride installs predeploys the remote chain predates; nil when
	// none are needed.
	stateOverride *types.StateOverride

	// nextBaseFee, when set, replaces the parent-derived base fee for the
	// next inserted block; consumed on insertion.
	nextBaseFee *big.Int

	// pinnedGasLimit, when non-zero, is the exact gas limit every inserted
	// block must carry, replacing the parent-delta bound.
	pinnedGasLimit uint64
}

// Block pairs a block with its canonical hash and cumulative difficulty.
// Remote blocks carry the hash reported by the endpoint.
type Block struct {
	*types.Block
	Hash            types.Hash
	TotalDifficulty *big.Int
}

// NewBlockchain attaches to the remote chain behind client and anchors local
// storage at the fork block.
func NewBlockchain(ctx context.Context, client *remote.Client, config Config, logger *log.Logger) (*Blockchain, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.Module("fork")

	rb, err := remote.NewBlockchain(client)
	if err != nil {
		return nil, err
	}

	remoteChainID, err := rb.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fork: chain id: %w", err)
	}
	latest, err := rb.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fork: latest block: %w", err)
	}

	forkNumber := latest - min(latest, SafeBlockDepth(remoteChainID))
	if config.BlockNumber != nil {
		forkNumber = *config.BlockNumber
		if forkNumber > latest {
			return nil, fmt.Errorf("fork: requested block %d is beyond the remote tip %d", forkNumber, latest)
		}
	}

	forkBlock, err := rb.BlockByNumber(ctx, forkNumber)
	if err != nil {
		return nil, fmt.Errorf("fork: fork block %d: %w", forkNumber, err)
	}

	remoteFork := detectRemoteFork(remoteChainID, config, forkBlock)
	if !remoteFork.AtLeast(core.SpuriousDragon) {
		return nil, fmt.Errorf("%w: detected %s at block %d", ErrUnsupportedHardfork, remoteFork, forkNumber)
	}

	blockConfig := config.BlockConfig
	if blockConfig == nil {
		blockConfig = core.DefaultBlockConfig(config.Hardfork)
	}

	header := forkBlock.HeaderNoCopy()
	td := forkBlock.TotalDifficulty
	if td == nil {
		td = new(big.Int).Set(header.Difficulty)
	}
	local := blockstore.New(blockConfig, blockstore.Anchor{
		Number:          forkNumber,
		Hash:            forkBlock.Hash,
		Timestamp:       header.Time,
		StateRoot:       header.Root,
		BaseFee:         header.BaseFee,
		GasLimit:        header.GasLimit,
		TotalDifficulty: td,
	})

	chainID := remoteChainID
	if config.ChainID != nil {
		chainID = *config.ChainID
	}

	b := &Blockchain{
		remote:          rb,
		local:           local,
		logger:          logger,
		forkBlockNumber: forkNumber,
		remoteChainID:   remoteChainID,
		chainID:         chainID,
		hardfork:        config.Hardfork,
		remoteFork:      remoteFork,
		blockConfig:     blockConfig,
		stateOverride:   predeployOverride(config.Hardfork, remoteFork, forkNumber),
	}
	logger.Info("forked chain attached",
		"chain_id", remoteChainID, "fork_block", forkNumber, "remote_fork", remoteFork.String())
	return b, nil
}

// detectRemoteFork resolves the remote hardfork at the fork block: explicit
// history first, mainnet's recorded history next, the configured local fork
// as the devnet fallback.
func detectRemoteFork(chainID uint64, config Config, forkBlock *remote.Block) core.Hardfork {
	history := config.History
	if history == nil && chainID == core.MainnetChainID {
		history = core.MainnetHardforkHistory()
	}
	if history == nil {
		return config.Hardfork
	}
	return history.ForkAt(forkBlock.NumberU64(), forkBlock.Time())
}

// ForkBlockNumber returns the immutable fork point.
func (b *Blockchain) ForkBlockNumber() uint64 { return b.forkBlockNumber }

// ChainID returns the chain id locally produced blocks carry.
func (b *Blockchain) ChainID() uint64 { return b.chainID }

// RemoteChainID returns the chain id reported by the remote endpoint.
func (b *Blockchain) RemoteChainID() uint64 { return b.remoteChainID }

// Hardfork returns the local chain's fork.
func (b *Blockchain) Hardfork() core.Hardfork { return b.hardfork }

// RemoteHardfork returns the fork detected on the remote chain at the fork
// block.
func (b *Blockchain) RemoteHardfork() core.Hardfork { return b.remoteFork }

// StateOverride returns the predeploy override to apply on top of the remote
// state, or nil when the remote chain already carries the predeploys.
func (b *Blockchain) StateOverride() *types.StateOverride { return b.stateOverride }

// Client returns the underlying remote client, for RPC pass-through. Nil for
// local-only chains.
func (b *Blockchain) Client() *remote.Client {
	if b.remote == nil {
		return nil
	}
	return b.remote.Client()
}

// IsForked reports whether the chain has a remote baseline.
func (b *Blockchain) IsForked() bool { return b.remote != nil }

// BlockConfig returns the config locally built headers follow.
func (b *Blockchain) BlockConfig() *core.BlockConfig { return b.blockConfig }

// LastBlockNumber returns the current tip: the highest local block, or the
// fork point when nothing has been produced yet.
func (b *Blockchain) LastBlockNumber() uint64 {
	return b.local.LastBlockNumber()
}

// BlockByNumber serves n from the remote chain when n is at or below the
// fork point, from local storage otherwise.
func (b *Blockchain) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	if number <= b.forkBlockNumber {
		if b.remote == nil {
			if b.genesis != nil && number == b.forkBlockNumber {
				return b.genesis, nil
			}
			return nil, fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
		}
		rb, err := b.remote.BlockByNumber(ctx, number)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return nil, fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
			}
			return nil, err
		}
		return remoteBlock(rb), nil
	}
	block, err := b.local.BlockByNumber(number)
	if err != nil {
		return nil, fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
	}
	return b.localBlock(block)
}

// BlockByHash consults local storage first, then the remote chain.
func (b *Blockchain) BlockByHash(ctx context.Context, hash types.Hash) (*Block, error) {
	if block, err := b.local.BlockByHash(hash); err == nil {
		return b.localBlock(block)
	}
	if b.remote == nil {
		if b.genesis != nil && hash == b.genesis.Hash {
			return b.genesis, nil
		}
		return nil, fmt.Errorf("%w: hash %s", ErrUnknownBlock, hash)
	}
	rb, err := b.remote.BlockByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("%w: hash %s", ErrUnknownBlock, hash)
		}
		return nil, err
	}
	return remoteBlock(rb), nil
}

// ReceiptByTxHash consults local storage first, then the remote chain.
func (b *Blockchain) ReceiptByTxHash(ctx context.Context, txHash types.Hash) (*types.Receipt, error) {
	if receipt := b.local.ReceiptByTxHash(txHash); receipt != nil {
		return receipt, nil
	}
	if b.remote == nil {
		return nil, fmt.Errorf("%w: tx %s", ErrUnknownBlock, txHash)
	}
	receipt, err := b.remote.ReceiptByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("%w: tx %s", ErrUnknownBlock, txHash)
		}
		return nil, err
	}
	return receipt, nil
}

// TotalDifficultyByHash consults local storage first, then the remote chain.
func (b *Blockchain) TotalDifficultyByHash(ctx context.Context, hash types.Hash) (*big.Int, error) {
	if td, err := b.local.TotalDifficultyByHash(hash); err == nil {
		return td, nil
	}
	if b.remote == nil {
		if b.genesis != nil && hash == b.genesis.Hash {
			return new(big.Int).Set(b.genesis.TotalDifficulty), nil
		}
		return nil, fmt.Errorf("%w: hash %s", ErrUnknownBlock, hash)
	}
	return b.remote.TotalDifficultyByHash(ctx, hash)
}

// InsertBlock validates the block against its parent and appends it to local
// storage with the cumulative difficulty carried forward.
func (b *Blockchain) InsertBlock(ctx context.Context, block *types.Block, receipts []*types.Receipt, diff blockstore.StateDiff) (*Block, error) {
	header := block.HeaderNoCopy()
	if header.NumberU64() == 0 {
		return nil, fmt.Errorf("%w: number 0", blockstore.ErrNonConsecutiveBlock)
	}
	parent, err := b.BlockByNumber(ctx, header.NumberU64()-1)
	if err != nil {
		return nil, err
	}
	parentHeader := parent.HeaderNoCopy()

	if b.pinnedGasLimit != 0 {
		if header.GasLimit != b.pinnedGasLimit {
			return nil, fmt.Errorf("%w: got %d, want pinned %d", ErrInvalidGasLimit, header.GasLimit, b.pinnedGasLimit)
		}
	} else if err := validateGasLimit(parentHeader.GasLimit, header.GasLimit); err != nil {
		return nil, err
	}
	if b.hardfork.AtLeast(core.London) {
		want := b.nextBaseFee
		if want == nil {
			want = core.CalcBaseFee(parentHeader, b.blockConfig.BaseFeeParams)
		}
		if header.BaseFee == nil || header.BaseFee.Cmp(want) != 0 {
			return nil, fmt.Errorf("%w: got %v, want %v", ErrInvalidBaseFee, header.BaseFee, want)
		}
	}
	b.nextBaseFee = nil

	td := new(big.Int).Set(parent.TotalDifficulty)
	if header.Difficulty != nil {
		td.Add(td, header.Difficulty)
	}
	stored, err := b.local.InsertBlock(block, receipts, diff, td)
	if err != nil {
		return nil, err
	}
	return b.localBlock(stored)
}

// SetNextBaseFee pins the base fee the next inserted block must carry,
// replacing the parent-derived value once. Nil clears the pin.
func (b *Blockchain) SetNextBaseFee(fee *big.Int) {
	if fee == nil {
		b.nextBaseFee = nil
		return
	}
	b.nextBaseFee = new(big.Int).Set(fee)
}

// NextBaseFee returns the base fee the next block will carry: the pinned
// value when one is set, the parent-derived value otherwise.
func (b *Blockchain) NextBaseFee(ctx context.Context) (*big.Int, error) {
	if !b.hardfork.AtLeast(core.London) {
		return nil, nil
	}
	if b.nextBaseFee != nil {
		return new(big.Int).Set(b.nextBaseFee), nil
	}
	tip, err := b.BlockByNumber(ctx, b.LastBlockNumber())
	if err != nil {
		return nil, err
	}
	return core.CalcBaseFee(tip.HeaderNoCopy(), b.blockConfig.BaseFeeParams), nil
}

// PinGasLimit fixes the gas limit inserted blocks must carry, bypassing the
// parent-delta bound. Zero restores the default validation.
func (b *Blockchain) PinGasLimit(limit uint64) {
	b.pinnedGasLimit = limit
}

// BlockByTxHash returns the block containing the transaction: local storage
// first, then the remote chain via its receipt.
func (b *Blockchain) BlockByTxHash(ctx context.Context, txHash types.Hash) (*Block, error) {
	if block := b.local.BlockByTxHash(txHash); block != nil {
		return b.localBlock(block)
	}
	if b.remote == nil {
		return nil, fmt.Errorf("%w: tx %s", ErrUnknownBlock, txHash)
	}
	receipt, err := b.remote.ReceiptByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("%w: tx %s", ErrUnknownBlock, txHash)
		}
		return nil, err
	}
	return b.BlockByHash(ctx, receipt.BlockHash)
}

// ReceiptsByNumber returns the receipts of a locally produced block, or nil
// for remote or unknown numbers.
func (b *Blockchain) ReceiptsByNumber(number uint64) []*types.Receipt {
	return b.local.ReceiptsByNumber(number)
}

// ReserveBlocks marks count empty blocks, interval seconds apart, without
// materializing them.
func (b *Blockchain) ReserveBlocks(count, interval uint64) {
	b.local.ReserveBlocks(count, interval)
}

// RevertToBlock makes number the new tip. Reverting below the fork point
// fails; reverting to the fork point empties local storage.
func (b *Blockchain) RevertToBlock(number uint64) error {
	if number < b.forkBlockNumber {
		return fmt.Errorf("%w: block %d is below the fork point %d", ErrCannotDeleteRemote, number, b.forkBlockNumber)
	}
	if !b.local.RevertToBlock(number) {
		return fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
	}
	return nil
}

// Logs collects logs across the splice: the remote chain serves the range up
// to the fork point, local storage the rest.
func (b *Blockchain) Logs(ctx context.Context, filter *types.LogFilter) ([]*types.Log, error) {
	var out []*types.Log
	if b.remote != nil && filter.FromBlock <= b.forkBlockNumber {
		remoteFilter := *filter
		if remoteFilter.ToBlock > b.forkBlockNumber {
			remoteFilter.ToBlock = b.forkBlockNumber
		}
		logs, err := b.remote.Logs(ctx, &remoteFilter)
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
	}
	if filter.ToBlock > b.forkBlockNumber {
		localFilter := *filter
		if localFilter.FromBlock <= b.forkBlockNumber {
			localFilter.FromBlock = b.forkBlockNumber + 1
		}
		out = append(out, b.local.Logs(&localFilter)...)
	}
	return out, nil
}

// StateDiffsUpTo merges the account diffs of all local blocks up to and
// including number.
func (b *Blockchain) StateDiffsUpTo(number uint64) blockstore.StateDiff {
	return b.local.StateDiffsUpTo(number)
}

func (b *Blockchain) localBlock(block *types.Block) (*Block, error) {
	td, err := b.local.TotalDifficultyByHash(block.Hash())
	if err != nil {
		return nil, err
	}
	return &Block{Block: block, Hash: block.Hash(), TotalDifficulty: td}, nil
}

func remoteBlock(rb *remote.Block) *Block {
	return &Block{Block: rb.Block, Hash: rb.Hash, TotalDifficulty: rb.TotalDifficulty}
}

// validateGasLimit enforces the per-block gas limit delta bound.
func validateGasLimit(parent, limit uint64) error {
	if limit < minGasLimit {
		return fmt.Errorf("%w: %d below minimum %d", ErrInvalidGasLimit, limit, minGasLimit)
	}
	bound := parent / gasLimitBoundDivisor
	var delta uint64
	if limit > parent {
		delta = limit - parent
	} else {
		delta = parent - limit
	}
	if delta >= bound {
		return fmt.Errorf("%w: delta %d from parent %d exceeds bound %d", ErrInvalidGasLimit, delta, parent, bound)
	}
	return nil
}
