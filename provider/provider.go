// Package provider implements the development node's JSON-RPC backend: the
// eth_*, evm_*, hardhat_* and debug_* method set over a local or forked
// blockchain. Submitted transactions go through the pending pool; automine
// mines a block per submission, interval mining mines on a timer, and
// hardhat_mine installs block-store reservations for bulk requests. Filters
// and snapshots are provider-level state.
package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/blockstore"
	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/fork"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/miner"
	"github.com/NomicFoundation/edr-sub001/remote"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/txpool"
	"github.com/NomicFoundation/edr-sub001/vm"
)

var (
	// ErrUnknownAccount is returned when a method needs a key the node does
	// not hold and the address is not impersonated.
	ErrUnknownAccount = errors.New("provider: unknown account")

	// ErrHistoricalState is returned for state reads at block numbers whose
	// state the node no longer holds.
	ErrHistoricalState = errors.New("provider: historical state is not available")

	// ErrUnsupportedOperation is returned for state operations the current
	// baseline cannot serve (for example eth_getProof over a fork).
	ErrUnsupportedOperation = errors.New("provider: unsupported operation")
)

// Provider is the JSON-RPC method backend. All methods are safe for
// concurrent use; chain and state mutations serialise on one mutex.
type Provider struct {
	cfg    *config.ProviderConfig
	logger *log.Logger
	interp vm.Interpreter

	mu sync.Mutex

	chain *fork.Blockchain
	exec  *executor.Executor
	pool  *txpool.Pool
	miner *miner.Miner

	interval *miner.IntervalMiner

	accounts     []*devAccount
	impersonated map[types.Address]struct{}

	automine    bool
	minGasPrice *big.Int
	gasLimit    uint64

	// Next-block knobs, consumed when the block is mined.
	nextTimestamp uint64
	nextBaseFee   *big.Int
	prevRandao    *types.Hash

	// timeOffset shifts wall-clock time for block timestamps
	// (evm_increaseTime and explicit timestamps move it).
	timeOffset int64

	// genesisDiff records the initial account funding so historical replays
	// (debug_traceTransaction) can rebuild the pre-block state.
	genesisDiff blockstore.StateDiff

	snapshots      []providerSnapshot
	nextSnapshotID uint64

	filters *filterManager

	loggingEnabled bool
	instanceID     types.Hash
	compilations   []compilationResult

	now func() time.Time
}

// providerSnapshot captures everything evm_revert restores.
type providerSnapshot struct {
	id            uint64
	execSnap      uint64
	blockNumber   uint64
	timeOffset    int64
	nextTimestamp uint64
	pending       []*types.Transaction
}

// New assembles a provider. A configured fork URL switches it into forked
// mode; otherwise the chain starts from a fresh genesis with the development
// accounts funded.
func New(ctx context.Context, cfg *config.ProviderConfig, interp vm.Interpreter, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.Module("provider")

	p := &Provider{
		cfg:            cfg,
		logger:         logger,
		interp:         interp,
		impersonated:   make(map[types.Address]struct{}),
		automine:       cfg.Automine,
		minGasPrice:    cfg.MinGasPrice,
		gasLimit:       cfg.GasLimit,
		genesisDiff:    make(blockstore.StateDiff),
		filters:        newFilterManager(filterTimeout),
		loggingEnabled: true,
		now:            time.Now,
	}
	rand.Read(p.instanceID[:])

	accounts, err := deriveAccounts(cfg.Accounts)
	if err != nil {
		return nil, err
	}
	p.accounts = accounts

	if err := p.initChain(ctx); err != nil {
		return nil, err
	}

	if cfg.IntervalMining > 0 {
		p.interval = miner.NewIntervalMiner(p.miner, cfg.IntervalMining, logger)
		p.interval.Start()
	}
	return p, nil
}

// initChain builds the blockchain, state, executor, pool and miner from the
// current configuration. hardhat_reset reuses it.
func (p *Provider) initChain(ctx context.Context) error {
	cfg := p.cfg
	p.genesisDiff = make(blockstore.StateDiff)

	var (
		chain *fork.Blockchain
		db    *state.StateDB
		err   error
	)
	if cfg.ForkURL != "" {
		client, dialErr := remote.Dial(ctx, cfg.ForkURL, cfg.CacheDir, p.logger)
		if dialErr != nil {
			return dialErr
		}
		chainID := cfg.ChainID
		chain, err = fork.NewBlockchain(ctx, client, fork.Config{
			BlockNumber: cfg.ForkBlockNumber,
			Hardfork:    cfg.Hardfork,
			ChainID:     &chainID,
		}, p.logger)
		if err != nil {
			return err
		}
		reader := state.NewForkedReader(ctx, client, chain.ForkBlockNumber())
		db = state.New(reader)
		if override := chain.StateOverride(); override != nil {
			diff := make(map[types.Address]*types.AccountOverride, len(override.Accounts))
			for addr, acct := range override.Accounts {
				acct := acct
				diff[addr] = &acct
				p.genesisDiff[addr] = &acct
			}
			db.ApplyDiff(diff)
		}
	} else {
		genesis := &core.HeaderOverrides{
			Beneficiary: &cfg.Coinbase,
			GasLimit:    &cfg.GasLimit,
		}
		if cfg.Timestamp != 0 {
			ts := cfg.Timestamp
			genesis.Timestamp = &ts
		}
		if cfg.BaseFee != nil {
			genesis.BaseFee = cfg.BaseFee
		}
		if cfg.Difficulty != nil {
			genesis.Difficulty = cfg.Difficulty
		}
		chain, err = fork.NewLocalBlockchain(fork.LocalConfig{
			ChainID:  cfg.ChainID,
			Hardfork: cfg.Hardfork,
			Genesis:  genesis,
		}, p.logger)
		if err != nil {
			return err
		}
		db = state.New(nil)
	}

	for _, acct := range p.accounts {
		if acct.balance != nil && acct.balance.Sign() > 0 {
			db.SetBalance(acct.address, acct.balance)
			p.genesisDiff[acct.address] = &types.AccountOverride{
				Balance: new(big.Int).Set(acct.balance),
			}
		}
	}

	tip, err := chain.BlockByNumber(ctx, chain.LastBlockNumber())
	if err != nil {
		return err
	}
	blockEnv := vm.NewBlockEnv(tip.HeaderNoCopy(), cfg.Hardfork)
	blockEnv.Number = tip.NumberU64() + 1
	blockEnv.Timestamp = tip.Time() + 1

	chainConfig := &core.ChainConfig{ChainID: cfg.ChainID, Hardfork: cfg.Hardfork}
	exec := executor.New(chainConfig, p.interp, db, blockEnv, p.logger)

	pool := txpool.New(txpool.Config{
		MaxSize:       txpool.MaxPoolSize,
		BlockGasLimit: cfg.GasLimit,
	}, db)
	if baseFee, err := chain.NextBaseFee(ctx); err == nil {
		pool.SetBaseFee(baseFee)
	}

	p.chain = chain
	p.exec = exec
	p.pool = pool
	p.miner = miner.New(chain, exec, pool, chain.BlockConfig(), miner.Config{
		Beneficiary: cfg.Coinbase,
		Ordering:    txpool.OrderPriorityFee,
	}, p.logger)
	return nil
}

// Close stops background mining.
func (p *Provider) Close() {
	p.mu.Lock()
	interval := p.interval
	p.interval = nil
	p.mu.Unlock()
	if interval != nil {
		interval.Stop()
	}
}

// ChainID returns the chain id of locally produced blocks.
func (p *Provider) ChainID() uint64 { return p.cfg.ChainID }

// mineBlockLocked assembles one block using the accumulated next-block knobs
// and notifies the filters. Callers hold p.mu.
func (p *Provider) mineBlockLocked(ctx context.Context, timestamp *uint64) (*miner.Result, error) {
	overrides := &core.HeaderOverrides{}

	ts, err := p.nextBlockTimeLocked(ctx, timestamp)
	if err != nil {
		return nil, err
	}
	overrides.Timestamp = &ts

	if p.gasLimit != 0 {
		limit := p.gasLimit
		overrides.GasLimit = &limit
	}
	if p.prevRandao != nil {
		overrides.MixHash = p.prevRandao
	}
	if p.nextBaseFee != nil {
		overrides.BaseFee = p.nextBaseFee
		p.chain.SetNextBaseFee(p.nextBaseFee)
	}

	result, err := p.miner.MineBlock(ctx, overrides)
	if err != nil {
		p.chain.SetNextBaseFee(nil)
		return nil, err
	}
	p.nextTimestamp = 0
	p.nextBaseFee = nil
	p.prevRandao = nil

	p.filters.notifyBlock(result)
	p.logMined(result)
	return result, nil
}

// nextBlockTimeLocked resolves the next block timestamp: an explicit
// argument wins, then evm_setNextBlockTimestamp, then offset-shifted wall
// time; the result is always strictly after the parent.
func (p *Provider) nextBlockTimeLocked(ctx context.Context, explicit *uint64) (uint64, error) {
	tip, err := p.chain.BlockByNumber(ctx, p.chain.LastBlockNumber())
	if err != nil {
		return 0, err
	}
	parentTime := tip.Time()

	var ts uint64
	pinned := false
	switch {
	case explicit != nil:
		ts, pinned = *explicit, true
	case p.nextTimestamp != 0:
		ts, pinned = p.nextTimestamp, true
	default:
		now := p.now().Unix() + p.timeOffset
		if now > 0 {
			ts = uint64(now)
		}
	}
	if ts <= parentTime {
		ts = parentTime + 1
	}
	if pinned {
		// Later blocks continue from the pinned time.
		p.timeOffset = int64(ts) - p.now().Unix()
	}
	return ts, nil
}

// logMined reports a mined block and its decoded console output.
func (p *Provider) logMined(result *miner.Result) {
	if !p.loggingEnabled {
		return
	}
	p.logger.Info("mined block",
		"number", result.Block.NumberU64(),
		"hash", result.Block.Hash,
		"txs", len(result.Receipts),
		"gas", result.Block.GasUsed())
	for i, raw := range result.Results {
		for _, data := range raw.ConsoleLogs {
			p.logger.Info("console.log", "tx", result.Receipts[i].TxHash, "message", decodeConsoleLog(data))
		}
	}
}

// maybeAutomineLocked mines a block after a transaction submission when
// automine is on. The submitted transaction reverting surfaces as an error
// even though the block stays mined, matching the Hardhat behaviour.
func (p *Provider) maybeAutomineLocked(ctx context.Context, txHash types.Hash) error {
	if !p.automine {
		return nil
	}
	result, err := p.mineBlockLocked(ctx, nil)
	if err != nil {
		return err
	}
	for _, receipt := range result.Receipts {
		if receipt.TxHash == txHash && receipt.Failed() {
			return fmt.Errorf("provider: transaction %s reverted", txHash)
		}
	}
	return nil
}

// pendingNonce returns the next nonce for the sender, accounting for pooled
// transactions.
func (p *Provider) pendingNonce(addr types.Address) (uint64, error) {
	nonce, err := p.exec.StateDB().Nonce(addr)
	if err != nil {
		return 0, err
	}
	pooled := make(map[uint64]struct{})
	for _, tx := range p.pool.All() {
		if tx.From == addr {
			pooled[tx.Nonce] = struct{}{}
		}
	}
	for {
		if _, ok := pooled[nonce]; !ok {
			return nonce, nil
		}
		nonce++
	}
}

// callEnv builds the transaction environment of a read-only call.
func (p *Provider) callEnv(req *CallRequest) vm.TxEnv {
	env := vm.TxEnv{
		From:     req.from(),
		To:       req.To,
		Data:     req.data(),
		Value:    uint256.NewInt(0),
		GasLimit: p.gasLimit,
		GasPrice: uint256.NewInt(0),
	}
	if req.Value != nil {
		env.Value, _ = uint256.FromBig((*big.Int)(req.Value))
	}
	if req.Gas != nil {
		env.GasLimit = uint64(*req.Gas)
	}
	if req.GasPrice != nil {
		env.GasPrice, _ = uint256.FromBig((*big.Int)(req.GasPrice))
	}
	return env
}

// requireStateAt verifies a state read can be served at the given block
// number. The node holds the latest state only; over a fork, numbers at or
// below the fork point are served by the remote endpoint.
func (p *Provider) requireStateAt(number uint64) (remoteRead bool, err error) {
	tip := p.chain.LastBlockNumber()
	if number >= tip {
		return false, nil
	}
	if p.chain.IsForked() && number <= p.chain.ForkBlockNumber() {
		return true, nil
	}
	return false, fmt.Errorf("%w: block %d (latest is %d)", ErrHistoricalState, number, tip)
}

// snapshotLocked records the full provider state for evm_revert.
func (p *Provider) snapshotLocked() uint64 {
	p.nextSnapshotID++
	id := p.nextSnapshotID
	p.snapshots = append(p.snapshots, providerSnapshot{
		id:            id,
		execSnap:      p.exec.Snapshot(),
		blockNumber:   p.chain.LastBlockNumber(),
		timeOffset:    p.timeOffset,
		nextTimestamp: p.nextTimestamp,
		pending:       p.pool.All(),
	})
	return id
}

// revertLocked restores the snapshot with the given id and discards it along
// with every later one.
func (p *Provider) revertLocked(id uint64) bool {
	idx := -1
	for i, snap := range p.snapshots {
		if snap.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	snap := p.snapshots[idx]

	if !p.exec.RevertToSnapshot(snap.execSnap) {
		return false
	}
	if err := p.chain.RevertToBlock(snap.blockNumber); err != nil {
		p.logger.Error("chain revert failed", "block", snap.blockNumber, "err", err)
		return false
	}
	p.timeOffset = snap.timeOffset
	p.nextTimestamp = snap.nextTimestamp

	p.pool.Reset(p.exec.StateDB())
	for _, tx := range snap.pending {
		if err := p.pool.Add(tx); err != nil && !errors.Is(err, txpool.ErrAlreadyKnown) {
			p.logger.Warn("pooled transaction dropped on revert", "tx", tx.Hash(), "err", err)
		}
	}

	p.snapshots = p.snapshots[:idx]
	return true
}
