package cheats

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/fork"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/remote"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// forkEntry is one created fork: its spliced chain and the journaled state
// pinned at its current block.
type forkEntry struct {
	id          uint64
	url         string
	chain       *fork.Blockchain
	client      *remote.Client
	db          *state.StateDB
	blockNumber uint64
	env         vm.BlockEnv
}

// ForkManager owns every fork a test created and tracks which one is active.
// Selecting a fork swaps the executor's state overlay while carrying the
// persistent accounts over.
type ForkManager struct {
	mu sync.Mutex

	exec      *executor.Executor
	cacheDir  string
	endpoints map[string]string
	logger    *log.Logger

	forks  map[uint64]*forkEntry
	nextID uint64

	// active is the selected fork id; 0 means the pre-fork base state.
	active  uint64
	baseDB  *state.StateDB
	baseEnv vm.BlockEnv
}

// NewForkManager creates a manager over the executor's current state as the
// base. endpoints maps aliases usable in createFork to URLs.
func NewForkManager(exec *executor.Executor, endpoints map[string]string, cacheDir string, logger *log.Logger) *ForkManager {
	if logger == nil {
		logger = log.Discard()
	}
	return &ForkManager{
		exec:      exec,
		cacheDir:  cacheDir,
		endpoints: endpoints,
		logger:    logger.Module("forks"),
		forks:     make(map[uint64]*forkEntry),
		nextID:    1,
		baseDB:    exec.StateDB(),
		baseEnv:   *exec.BlockEnv(),
	}
}

// resolveURL maps a configured alias to its URL; unknown names are treated as
// literal URLs.
func (m *ForkManager) resolveURL(name string) string {
	if url, ok := m.endpoints[name]; ok {
		return url
	}
	return name
}

// CreateFork attaches to the endpoint and pins a fork at blockNumber (nil
// derives the safe depth from the remote tip). The new fork is not selected.
func (m *ForkManager) CreateFork(ctx context.Context, urlOrAlias string, blockNumber *uint64) (uint64, error) {
	url := m.resolveURL(urlOrAlias)
	client, err := remote.Dial(ctx, url, m.cacheDir, m.logger)
	if err != nil {
		return 0, fmt.Errorf("cheats: dial %s: %w", url, err)
	}
	chain, err := fork.NewBlockchain(ctx, client, fork.Config{
		BlockNumber: blockNumber,
		Hardfork:    m.exec.ChainConfig().Hardfork,
	}, m.logger)
	if err != nil {
		return 0, err
	}

	entry, err := m.buildEntry(ctx, chain, client, url, chain.ForkBlockNumber())
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	entry.id = m.nextID
	m.nextID++
	m.forks[entry.id] = entry
	m.mu.Unlock()

	m.logger.Debug("fork created", "id", entry.id, "url", url, "block", entry.blockNumber)
	return entry.id, nil
}

// buildEntry pins a journaled state and block env at the given block of the
// chain, applying predeploy overrides the remote chain predates.
func (m *ForkManager) buildEntry(ctx context.Context, chain *fork.Blockchain, client *remote.Client, url string, blockNumber uint64) (*forkEntry, error) {
	reader := state.NewForkedReader(ctx, client, blockNumber)
	db := state.New(reader)
	if override := chain.StateOverride(); override != nil {
		diff := make(map[types.Address]*types.AccountOverride, len(override.Accounts))
		for addr, o := range override.Accounts {
			oc := o
			diff[addr] = &oc
		}
		db.ApplyDiff(diff)
	}

	block, err := chain.BlockByNumber(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	env := vm.NewBlockEnv(block.HeaderNoCopy(), chain.Hardfork())

	return &forkEntry{
		url:         url,
		chain:       chain,
		client:      client,
		db:          db,
		blockNumber: blockNumber,
		env:         env,
	}, nil
}

// CreateForkAtTx creates a fork pinned inside the block containing txHash:
// the parent block's state with every earlier transaction of that block
// replayed. The fork is not left selected.
func (m *ForkManager) CreateForkAtTx(ctx context.Context, urlOrAlias string, txHash types.Hash) (uint64, error) {
	id, err := m.CreateFork(ctx, urlOrAlias, nil)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	previous := m.active
	m.mu.Unlock()

	// The prefix replay runs through the executor, so the fork is selected
	// for its duration and the previous state reinstated after.
	if err := m.RollForkToTx(ctx, &id, txHash); err != nil {
		return 0, err
	}
	if previous != 0 {
		return id, m.SelectFork(ctx, previous)
	}
	return id, m.selectBase()
}

// selectBase reinstates the pre-fork base state.
func (m *ForkManager) selectBase() error {
	m.mu.Lock()
	previous := m.activeDBLocked()
	m.active = 0
	m.mu.Unlock()

	if err := state.TransferPersistentAccounts(previous, m.baseDB); err != nil {
		return err
	}
	m.baseDB.SetForkID(0)
	m.exec.SwapStateDB(m.baseDB)
	*m.exec.BlockEnv() = m.baseEnv
	return nil
}

// SelectFork makes the fork's state active, transferring persistent accounts
// from the previously active state.
func (m *ForkManager) SelectFork(ctx context.Context, id uint64) error {
	m.mu.Lock()
	entry, ok := m.forks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cheats: unknown fork id %d", id)
	}
	previous := m.activeDBLocked()
	m.active = id
	m.mu.Unlock()

	if err := state.TransferPersistentAccounts(previous, entry.db); err != nil {
		return err
	}
	entry.db.SetForkID(id)
	m.exec.SwapStateDB(entry.db)
	*m.exec.BlockEnv() = entry.env
	m.logger.Debug("fork selected", "id", id, "block", entry.blockNumber)
	return nil
}

// RollFork repins the fork (the active one when id is nil) at blockNumber.
func (m *ForkManager) RollFork(ctx context.Context, id *uint64, blockNumber uint64) error {
	entry, err := m.entryFor(id)
	if err != nil {
		return err
	}

	fresh, err := m.buildEntry(ctx, entry.chain, entry.client, entry.url, blockNumber)
	if err != nil {
		return err
	}
	if err := state.TransferPersistentAccounts(entry.db, fresh.db); err != nil {
		return err
	}

	m.mu.Lock()
	fresh.id = entry.id
	m.forks[entry.id] = fresh
	isActive := m.active == entry.id
	m.mu.Unlock()

	if isActive {
		fresh.db.SetForkID(fresh.id)
		m.exec.SwapStateDB(fresh.db)
		*m.exec.BlockEnv() = fresh.env
	}
	m.logger.Debug("fork rolled", "id", fresh.id, "block", blockNumber)
	return nil
}

// RollForkToTx rolls the fork to the block containing txHash and replays
// every transaction before it in block order, leaving the state as it was at
// the moment the transaction executed.
func (m *ForkManager) RollForkToTx(ctx context.Context, id *uint64, txHash types.Hash) error {
	entry, err := m.entryFor(id)
	if err != nil {
		return err
	}
	receipt, err := entry.chain.ReceiptByTxHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("cheats: transaction %s: %w", txHash, err)
	}
	if receipt.BlockNumber == 0 {
		return fmt.Errorf("cheats: transaction %s has no block", txHash)
	}

	// Pin the state at the parent block, then replay the prefix.
	if err := m.RollFork(ctx, id, receipt.BlockNumber-1); err != nil {
		return err
	}
	entry, err = m.entryFor(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	isActive := m.active == entry.id
	m.mu.Unlock()
	if !isActive {
		if err := m.SelectFork(ctx, entry.id); err != nil {
			return err
		}
	}

	block, err := entry.chain.BlockByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return err
	}
	header := block.HeaderNoCopy()
	env := vm.NewBlockEnv(header, entry.chain.Hardfork())
	m.mu.Lock()
	entry.env = env
	m.mu.Unlock()
	*m.exec.BlockEnv() = env

	var baseFee *big.Int
	if header.BaseFee != nil {
		baseFee = header.BaseFee
	}
	for _, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			break
		}
		if _, err := m.exec.Transact(vm.TxEnvFromTransaction(tx, baseFee)); err != nil {
			return fmt.Errorf("cheats: replaying %s: %w", tx.Hash(), err)
		}
	}
	return nil
}

// ActiveFork returns the selected fork id; ok is false for the base state.
func (m *ForkManager) ActiveFork() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != 0
}

// ActiveClient returns the RPC client of the selected fork, or nil.
func (m *ForkManager) ActiveClient() *remote.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.forks[m.active]; ok {
		return entry.client
	}
	return nil
}

func (m *ForkManager) entryFor(id *uint64) (*forkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.active
	if id != nil {
		target = *id
	}
	entry, ok := m.forks[target]
	if !ok {
		return nil, fmt.Errorf("cheats: unknown fork id %d", target)
	}
	return entry, nil
}

func (m *ForkManager) activeDBLocked() *state.StateDB {
	if entry, ok := m.forks[m.active]; ok {
		return entry.db
	}
	return m.baseDB
}

func (c *Inspector) activeClient() *remote.Client {
	if c.forks == nil {
		return nil
	}
	return c.forks.ActiveClient()
}

func registerForkCheats() {
	register("createFork(string)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, err := c.forks.CreateFork(c.ctx, args[0].(string), nil)
		if err != nil {
			return nil, err
		}
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("createFork(string,uint256)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		n, err := toUint64(args[1])
		if err != nil {
			return nil, err
		}
		id, err := c.forks.CreateFork(c.ctx, args[0].(string), &n)
		if err != nil {
			return nil, err
		}
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("createFork(string,bytes32)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, err := c.forks.CreateForkAtTx(c.ctx, args[0].(string), args[1].(types.Hash))
		if err != nil {
			return nil, err
		}
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("createSelectFork(string)", false, func(c *Inspector, frame *vm.CallFrame, args []interface{}) ([]byte, error) {
		return createSelect(c, args[0].(string), nil)
	})
	register("createSelectFork(string,uint256)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		n, err := toUint64(args[1])
		if err != nil {
			return nil, err
		}
		return createSelect(c, args[0].(string), &n)
	})
	register("createSelectFork(string,bytes32)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		// CreateFork pins at the safe depth, then the tx pin rolls and
		// replays; the fork stays selected.
		id, err := c.forks.CreateFork(c.ctx, args[0].(string), nil)
		if err != nil {
			return nil, err
		}
		if err := c.forks.RollForkToTx(c.ctx, &id, args[1].(types.Hash)); err != nil {
			return nil, err
		}
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("selectFork(uint256)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		return nil, c.forks.SelectFork(c.ctx, id)
	})
	register("activeFork()", true, func(c *Inspector, _ *vm.CallFrame, _ []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, ok := c.forks.ActiveFork()
		if !ok {
			return nil, fmt.Errorf("no fork selected")
		}
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("rollFork(uint256)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		n, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		return nil, c.forks.RollFork(c.ctx, nil, n)
	})
	register("rollFork(uint256,uint256)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		n, err := toUint64(args[1])
		if err != nil {
			return nil, err
		}
		return nil, c.forks.RollFork(c.ctx, &id, n)
	})
	register("rollFork(bytes32)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		return nil, c.forks.RollForkToTx(c.ctx, nil, args[0].(types.Hash))
	})
	register("rollFork(uint256,bytes32)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if c.forks == nil {
			return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
		}
		id, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		return nil, c.forks.RollForkToTx(c.ctx, &id, args[1].(types.Hash))
	})
}

func createSelect(c *Inspector, url string, blockNumber *uint64) ([]byte, error) {
	if c.forks == nil {
		return nil, fmt.Errorf("fork cheat-codes unavailable: no endpoints configured")
	}
	id, err := c.forks.CreateFork(c.ctx, url, blockNumber)
	if err != nil {
		return nil, err
	}
	if err := c.forks.SelectFork(c.ctx, id); err != nil {
		return nil, err
	}
	return encodeOne("uint256", new(big.Int).SetUint64(id))
}
