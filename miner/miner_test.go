package miner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/blockstore"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/fork"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/txpool"
	"github.com/NomicFoundation/edr-sub001/vm"
)

var (
	minerSender      = types.HexToAddress("0x00000000000000000000000000000000000000a1")
	minerRecipient   = types.HexToAddress("0x00000000000000000000000000000000000000b1")
	minerBeneficiary = types.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// testChain adapts bare block storage to the miner's chain surface, serving
// the anchor block itself for parent lookups at the storage floor.
type testChain struct {
	store  *blockstore.Storage
	anchor *fork.Block
	td     *big.Int
}

func newTestChain(config *core.BlockConfig) *testChain {
	header := &types.Header{
		Number:   big.NewInt(10),
		Time:     1000,
		GasLimit: 30_000_000,
		BaseFee:  big.NewInt(1_000_000_000),
		Root:     types.HexToHash("0xbb"),
	}
	anchorHash := types.HexToHash("0xaa")
	anchor := &fork.Block{
		Block:           types.NewBlock(header, &types.Body{}),
		Hash:            anchorHash,
		TotalDifficulty: big.NewInt(0),
	}
	store := blockstore.New(config, blockstore.Anchor{
		Number:          10,
		Hash:            anchorHash,
		Timestamp:       header.Time,
		StateRoot:       header.Root,
		BaseFee:         header.BaseFee,
		GasLimit:        header.GasLimit,
		TotalDifficulty: big.NewInt(0),
	})
	return &testChain{store: store, anchor: anchor, td: big.NewInt(0)}
}

func (c *testChain) LastBlockNumber() uint64 { return c.store.LastBlockNumber() }

func (c *testChain) BlockByNumber(_ context.Context, number uint64) (*fork.Block, error) {
	if number == c.anchor.NumberU64() {
		return c.anchor, nil
	}
	block, err := c.store.BlockByNumber(number)
	if err != nil {
		return nil, err
	}
	td, err := c.store.TotalDifficultyByHash(block.Hash())
	if err != nil {
		return nil, err
	}
	return &fork.Block{Block: block, Hash: block.Hash(), TotalDifficulty: td}, nil
}

func (c *testChain) InsertBlock(_ context.Context, block *types.Block, receipts []*types.Receipt, diff blockstore.StateDiff) (*fork.Block, error) {
	c.td = new(big.Int).Add(c.td, block.HeaderNoCopy().Difficulty)
	stored, err := c.store.InsertBlock(block, receipts, diff, new(big.Int).Set(c.td))
	if err != nil {
		return nil, err
	}
	return &fork.Block{Block: stored, Hash: stored.Hash(), TotalDifficulty: c.td}, nil
}

func (c *testChain) ReserveBlocks(count, interval uint64) {
	c.store.ReserveBlocks(count, interval)
}

func newTestMiner(t *testing.T, ordering txpool.Ordering) (*Miner, *testChain, *executor.Executor, *txpool.Pool) {
	t.Helper()

	blockConfig := core.DefaultBlockConfig(core.Cancun)
	chain := newTestChain(blockConfig)

	db := state.New(nil)
	db.SetBalance(minerSender, big.NewInt(1_000_000_000_000_000_000))

	chainConfig := &core.ChainConfig{ChainID: core.DevChainID, Hardfork: core.Cancun}
	exec := executor.New(chainConfig, vm.NewNativeInterpreter(), db, vm.BlockEnv{
		Number:    10,
		Timestamp: 1000,
		GasLimit:  30_000_000,
		BaseFee:   uint256.NewInt(1_000_000_000),
	}, nil)

	pool := txpool.New(txpool.DefaultConfig(), db)
	m := New(chain, exec, pool, blockConfig, Config{Beneficiary: minerBeneficiary, Ordering: ordering}, nil)
	return m, chain, exec, pool
}

func pooledTransfer(nonce uint64, tip int64) *types.Transaction {
	return &types.Transaction{
		Type:      types.DynamicFeeTxType,
		ChainID:   big.NewInt(core.DevChainID),
		Nonce:     nonce,
		Gas:       21_000,
		To:        &minerRecipient,
		Value:     big.NewInt(100),
		GasFeeCap: big.NewInt(2_000_000_000),
		GasTipCap: big.NewInt(tip),
		From:      minerSender,
	}
}

func TestMineEmptyBlock(t *testing.T) {
	m, chain, _, _ := newTestMiner(t, txpool.OrderPriorityFee)

	result, err := m.MineBlock(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Empty() {
		t.Fatalf("result = %+v", result)
	}

	header := result.Block.HeaderNoCopy()
	if header.NumberU64() != 11 {
		t.Errorf("number = %d", header.NumberU64())
	}
	if header.ParentHash != types.HexToHash("0xaa") {
		t.Errorf("parent hash = %v", header.ParentHash)
	}
	if header.Coinbase != minerBeneficiary {
		t.Errorf("coinbase = %v", header.Coinbase)
	}
	if header.TxHash != types.EmptyRootHash {
		t.Errorf("tx root = %v", header.TxHash)
	}
	if header.Root == (types.Hash{}) {
		t.Error("state root not filled")
	}
	if chain.LastBlockNumber() != 11 {
		t.Errorf("tip = %d", chain.LastBlockNumber())
	}
}

func TestMineBlockWithTransactions(t *testing.T) {
	m, _, exec, pool := newTestMiner(t, txpool.OrderPriorityFee)

	if err := pool.Add(pooledTransfer(0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(pooledTransfer(1, 1)); err != nil {
		t.Fatal(err)
	}

	result, err := m.MineBlock(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Receipts) != 2 {
		t.Fatalf("got %d receipts", len(result.Receipts))
	}

	first, second := result.Receipts[0], result.Receipts[1]
	if first.CumulativeGasUsed != 21_000 || second.CumulativeGasUsed != 42_000 {
		t.Errorf("cumulative gas = %d, %d", first.CumulativeGasUsed, second.CumulativeGasUsed)
	}
	if first.TransactionIndex != 0 || second.TransactionIndex != 1 {
		t.Errorf("indices = %d, %d", first.TransactionIndex, second.TransactionIndex)
	}
	if first.BlockHash != result.Block.Hash {
		t.Errorf("receipt block hash = %v", first.BlockHash)
	}

	header := result.Block.HeaderNoCopy()
	if header.GasUsed != 42_000 {
		t.Errorf("header gas used = %d", header.GasUsed)
	}
	if header.TxHash == types.EmptyRootHash {
		t.Error("tx root still empty")
	}
	if header.ReceiptHash == types.EmptyRootHash {
		t.Error("receipts root still empty")
	}

	// Execution committed: value moved, nonce advanced, pool pruned.
	if balance, _ := exec.StateDB().Balance(minerRecipient); balance.Int64() != 200 {
		t.Errorf("recipient balance = %v", balance)
	}
	if nonce, _ := exec.StateDB().Nonce(minerSender); nonce != 2 {
		t.Errorf("sender nonce = %d", nonce)
	}
	if pool.Count() != 0 {
		t.Errorf("pool count = %d after mining", pool.Count())
	}
}

func TestOversizedTransactionStaysPending(t *testing.T) {
	m, _, _, pool := newTestMiner(t, txpool.OrderPriorityFee)

	small := pooledTransfer(0, 100)
	if err := pool.Add(small); err != nil {
		t.Fatal(err)
	}
	big2 := pooledTransfer(1, 1)
	big2.Gas = 30_000_000
	if err := pool.Add(big2); err != nil {
		t.Fatal(err)
	}

	result, err := m.MineBlock(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Receipts) != 1 {
		t.Fatalf("got %d receipts", len(result.Receipts))
	}
	if pool.Get(big2.Hash()) == nil {
		t.Error("oversized transaction was dropped instead of left pending")
	}
}

func TestHaltedTransactionDropped(t *testing.T) {
	m, _, exec, pool := newTestMiner(t, txpool.OrderPriorityFee)

	tx := pooledTransfer(0, 1)
	if err := pool.Add(tx); err != nil {
		t.Fatal(err)
	}
	// The sender loses funding between pooling and mining.
	exec.StateDB().SetBalance(minerSender, big.NewInt(0))

	result, err := m.MineBlock(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Empty() {
		t.Fatalf("halted transaction included: %+v", result.Receipts)
	}
	if pool.Get(tx.Hash()) != nil {
		t.Error("halted transaction still pooled")
	}
}

func TestFIFOOrdering(t *testing.T) {
	m, _, _, pool := newTestMiner(t, txpool.OrderFIFO)

	other := types.HexToAddress("0x00000000000000000000000000000000000000d1")
	m.exec.StateDB().SetBalance(other, big.NewInt(1_000_000_000_000_000_000))

	cheapFirst := pooledTransfer(0, 1)
	richSecond := pooledTransfer(0, 1_000_000)
	richSecond.From = other

	if err := pool.Add(cheapFirst); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(richSecond); err != nil {
		t.Fatal(err)
	}

	result, err := m.MineBlock(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Receipts) != 2 {
		t.Fatalf("got %d receipts", len(result.Receipts))
	}
	if result.Receipts[0].TxHash != cheapFirst.Hash() {
		t.Error("fifo ordering not honored")
	}
}

func TestReservationMode(t *testing.T) {
	m, chain, _, _ := newTestMiner(t, txpool.OrderPriorityFee)

	m.MineReservedBlocks(1000, 12)
	if chain.LastBlockNumber() != 1010 {
		t.Fatalf("tip = %d after reservation", chain.LastBlockNumber())
	}

	// Materialization on demand keeps the timestamp arithmetic.
	block, err := chain.BlockByNumber(context.Background(), 500)
	if err != nil {
		t.Fatal(err)
	}
	if block.Time() != 1000+490*12 {
		t.Errorf("timestamp = %d", block.Time())
	}
}

func TestIntervalMinerMinesAndStops(t *testing.T) {
	m, chain, _, _ := newTestMiner(t, txpool.OrderPriorityFee)

	im := NewIntervalMiner(m, 5*time.Millisecond, nil)
	im.Start()
	if !im.Running() {
		t.Fatal("miner not running after start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for chain.LastBlockNumber() < 12 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	im.Stop()
	if im.Running() {
		t.Fatal("miner still running after stop")
	}

	mined := chain.LastBlockNumber()
	if mined < 12 {
		t.Fatalf("tip = %d, want at least 12", mined)
	}
	time.Sleep(20 * time.Millisecond)
	if got := chain.LastBlockNumber(); got != mined {
		t.Fatalf("mining continued after stop: %d -> %d", mined, got)
	}

	// Restart works.
	im.Start()
	im.Stop()
}
