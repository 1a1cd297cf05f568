// Package miner assembles blocks from pooled transactions: it builds the
// next header from the chain tip, executes candidates in the configured
// order, derives receipts and roots, and hands the finished block to the
// chain. Mining N empty blocks installs a block-store reservation instead of
// materializing N headers.
package miner

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/blockstore"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/fork"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/trie"
	"github.com/NomicFoundation/edr-sub001/txpool"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// Blockchain is the chain surface the miner appends to. fork.Blockchain
// implements it.
type Blockchain interface {
	LastBlockNumber() uint64
	BlockByNumber(ctx context.Context, number uint64) (*fork.Block, error)
	InsertBlock(ctx context.Context, block *types.Block, receipts []*types.Receipt, diff blockstore.StateDiff) (*fork.Block, error)
	ReserveBlocks(count, interval uint64)
}

// Config holds the miner's fixed parameters.
type Config struct {
	Beneficiary types.Address
	Ordering    txpool.Ordering
}

// Result is one mined block with its execution artifacts.
type Result struct {
	Block    *fork.Block
	Receipts []*types.Receipt

	// Results holds the per-transaction execution outcomes in block order,
	// including traces and console output.
	Results []*executor.RawCallResult
}

// Empty reports whether the block contains no transactions.
func (r *Result) Empty() bool { return len(r.Receipts) == 0 }

// Miner builds blocks against an executor's working state.
type Miner struct {
	chain       Blockchain
	exec        *executor.Executor
	pool        *txpool.Pool
	blockConfig *core.BlockConfig
	config      Config
	logger      *log.Logger
}

// New creates a miner.
func New(chain Blockchain, exec *executor.Executor, pool *txpool.Pool, blockConfig *core.BlockConfig, config Config, logger *log.Logger) *Miner {
	if logger == nil {
		logger = log.Discard()
	}
	return &Miner{
		chain:       chain,
		exec:        exec,
		pool:        pool,
		blockConfig: blockConfig,
		config:      config,
		logger:      logger.Module("miner"),
	}
}

// SetBeneficiary changes the coinbase of subsequently mined blocks.
func (m *Miner) SetBeneficiary(addr types.Address) {
	m.config.Beneficiary = addr
}

// MineBlock assembles and appends one block. Transactions that do not fit
// the remaining gas stay pending; transactions that halt (nonce mismatch,
// insufficient funds) are dropped rather than aborting the block.
func (m *Miner) MineBlock(ctx context.Context, overrides *core.HeaderOverrides) (*Result, error) {
	parent, err := m.chain.BlockByNumber(ctx, m.chain.LastBlockNumber())
	if err != nil {
		return nil, fmt.Errorf("miner: tip: %w", err)
	}

	if overrides == nil {
		overrides = &core.HeaderOverrides{}
	}
	if overrides.Beneficiary == nil {
		beneficiary := m.config.Beneficiary
		overrides.Beneficiary = &beneficiary
	}
	if overrides.ParentHash == nil {
		parentHash := parent.Hash
		overrides.ParentHash = &parentHash
	}

	var withdrawals []*types.Withdrawal
	if m.blockConfig.Hardfork.AtLeast(core.Shanghai) {
		withdrawals = []*types.Withdrawal{}
	}
	partial, err := core.NewPartialHeader(m.blockConfig, overrides, parent.HeaderNoCopy(), nil, withdrawals)
	if err != nil {
		return nil, fmt.Errorf("miner: header: %w", err)
	}

	m.applyBlockEnv(partial)
	m.pool.SetBaseFee(partial.BaseFee)

	var (
		txs      []*types.Transaction
		receipts []*types.Receipt
		results  []*executor.RawCallResult
		diff     = make(blockstore.StateDiff)
		cumGas   uint64
		logIndex uint
	)
	for _, tx := range m.pool.Candidates(m.config.Ordering) {
		if cumGas+tx.Gas > partial.GasLimit {
			// Leave pending for a later block.
			continue
		}

		raw, err := m.exec.Transact(vm.TxEnvFromTransaction(tx, partial.BaseFee))
		if err != nil {
			m.logger.Warn("transaction execution failed", "tx", tx.Hash(), "err", err)
			m.pool.Remove(tx.Hash())
			continue
		}
		if raw.ExitReason != "success" && raw.ExitReason != "revert" {
			// Halted before execution; drop it instead of aborting the
			// block.
			m.logger.Debug("dropping halted transaction", "tx", tx.Hash(), "reason", raw.ExitReason)
			m.pool.Remove(tx.Hash())
			continue
		}

		cumGas += raw.GasUsed
		index := uint(len(txs))
		for _, l := range raw.Logs {
			l.BlockNumber = partial.Number
			l.TxHash = tx.Hash()
			l.TxIndex = index
			l.Index = logIndex
			logIndex++
		}

		receipt := &types.Receipt{
			Type:              tx.Type,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: cumGas,
			Bloom:             types.LogsBloom(raw.Logs),
			Logs:              raw.Logs,
			TxHash:            tx.Hash(),
			GasUsed:           raw.GasUsed,
			EffectiveGasPrice: tx.EffectiveGasPrice(partial.BaseFee),
			BlockNumber:       partial.Number,
			TransactionIndex:  index,
		}
		if raw.Reverted {
			receipt.Status = types.ReceiptStatusFailed
		}
		if raw.CreatedAddress != nil {
			receipt.ContractAddress = *raw.CreatedAddress
		}

		mergeDiff(diff, raw.Changeset)
		txs = append(txs, tx)
		receipts = append(receipts, receipt)
		results = append(results, raw)
	}

	txRoot, err := trie.OrderedRoot(txs)
	if err != nil {
		return nil, fmt.Errorf("miner: tx root: %w", err)
	}
	receiptsRoot, err := trie.OrderedRoot(receipts)
	if err != nil {
		return nil, fmt.Errorf("miner: receipts root: %w", err)
	}
	stateRoot, err := m.exec.StateDB().StateRoot()
	if err != nil {
		return nil, fmt.Errorf("miner: state root: %w", err)
	}

	partial.GasUsed = cumGas
	partial.ReceiptsRoot = receiptsRoot
	partial.StateRoot = stateRoot
	partial.LogsBloom = types.BlockBloom(receipts)

	header := partial.Finalize(txRoot)
	block := types.NewBlock(header, &types.Body{Transactions: txs, Withdrawals: withdrawals})

	inserted, err := m.chain.InsertBlock(ctx, block, receipts, diff)
	if err != nil {
		return nil, fmt.Errorf("miner: insert: %w", err)
	}
	for _, receipt := range receipts {
		receipt.BlockHash = inserted.Hash
		for _, l := range receipt.Logs {
			l.BlockHash = inserted.Hash
		}
	}

	m.pool.Prune()
	return &Result{Block: inserted, Receipts: receipts, Results: results}, nil
}

// MineReservedBlocks marks count empty blocks, interval seconds apart,
// without materializing them.
func (m *Miner) MineReservedBlocks(count, interval uint64) {
	m.chain.ReserveBlocks(count, interval)
	m.logger.Debug("reserved empty blocks", "count", count, "interval", interval)
}

// applyBlockEnv points the executor's environment at the block under
// construction.
func (m *Miner) applyBlockEnv(partial *core.PartialHeader) {
	env := m.exec.BlockEnv()
	env.Number = partial.Number
	env.Timestamp = partial.Timestamp
	env.Beneficiary = partial.Beneficiary
	env.GasLimit = partial.GasLimit
	env.PrevRandao = partial.MixHash
	if partial.BaseFee != nil {
		env.BaseFee, _ = uint256.FromBig(partial.BaseFee)
	} else {
		env.BaseFee = uint256.NewInt(0)
	}
	if partial.Difficulty != nil {
		env.Difficulty, _ = uint256.FromBig(partial.Difficulty)
	} else {
		env.Difficulty = uint256.NewInt(0)
	}
	if partial.ExcessBlobGas != nil {
		excess := *partial.ExcessBlobGas
		env.ExcessBlobGas = &excess
		params := core.BlobParamsForHardfork(m.blockConfig.Hardfork, partial.Timestamp, m.blockConfig.ScheduledBlobParams)
		fee, _ := uint256.FromBig(core.CalcBlobFee(excess, params))
		env.BlobBaseFee = fee
	}
}

func mergeDiff(into blockstore.StateDiff, changes map[types.Address]*types.AccountOverride) {
	for addr, o := range changes {
		dst, ok := into[addr]
		if !ok {
			dst = &types.AccountOverride{}
			into[addr] = dst
		}
		if o.Nonce != nil {
			nonce := *o.Nonce
			dst.Nonce = &nonce
		}
		if o.Balance != nil {
			dst.Balance = o.Balance
		}
		if o.Code != nil {
			dst.Code = o.Code
		}
		if len(o.Storage) > 0 {
			if dst.Storage == nil {
				dst.Storage = make(map[types.Hash]types.Hash, len(o.Storage))
			}
			for slot, value := range o.Storage {
				dst.Storage[slot] = value
			}
		}
	}
}
