// Package executor drives the EVM interpreter for the test harness: it
// assembles execution environments, distinguishes discarding calls from
// committing transactions, converts interpreter outcomes into RawCallResult
// and applies the ds-test success rules.
package executor

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// CheatcodeAddress is the well-known address cheat-code calls target.
var CheatcodeAddress = types.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")

// ConsoleAddress receives console.log calls; their calldata is collected,
// never executed.
var ConsoleAddress = types.HexToAddress("0x000000000000000000636F6e736F6c652e6c6f67")

// GlobalFailSlot is the storage slot on the cheat-code contract that ds-test
// flips on assertion failure: bytes32("failed").
var GlobalFailSlot = globalFailSlot()

func globalFailSlot() types.Hash {
	var h types.Hash
	copy(h[:], "failed")
	return h
}

// expectedRevertOutputSize is the synthetic return size substituted when an
// expected revert fires on a call.
const expectedRevertOutputSize = 8192

// expectedRevertCreateAddress is substituted for the deployment address when
// an expected revert fires on a create.
var expectedRevertCreateAddress = types.HexToAddress("0x0000000000000000000000000000000000000001")

// RevertExpecter is the cheat-code table consulted after every call: a
// pending expectation converts a matching revert into a synthetic success.
type RevertExpecter interface {
	// PendingExpectRevert returns the expected reason and whether the
	// expectation is a wildcard. ok is false when nothing is pending.
	PendingExpectRevert() (reason []byte, wildcard bool, ok bool)
	ClearExpectRevert()
}

// IndeterminismSource reports the impure cheat-codes touched since the last
// drain.
type IndeterminismSource interface {
	DrainIndeterminismReasons() []string
}

// Executor owns a state overlay and a block environment, and runs
// transactions through the configured interpreter and inspector stack.
type Executor struct {
	mu sync.Mutex

	chainConfig *core.ChainConfig
	interp      vm.Interpreter
	db          *state.StateDB
	blockEnv    vm.BlockEnv
	inspector   vm.Inspector
	logger      *log.Logger

	revertExpecter RevertExpecter
	indeterminism  IndeterminismSource

	snapshotFailed bool
	labels         map[types.Address]string

	// gasPriceOverride reinstates a gas price on test calls, which normally
	// run with the price zeroed. Set by the txGasPrice cheat-code.
	gasPriceOverride *uint256.Int

	// envSnapshots pairs state snapshot ids with the block env captured at
	// the same moment.
	envSnapshots map[uint64]vm.BlockEnv
}

// New creates an executor.
func New(chainConfig *core.ChainConfig, interp vm.Interpreter, db *state.StateDB, blockEnv vm.BlockEnv, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{
		chainConfig:  chainConfig,
		interp:       interp,
		db:           db,
		blockEnv:     blockEnv,
		inspector:    vm.NoopInspector{},
		logger:       logger.Module("executor"),
		labels:       make(map[types.Address]string),
		envSnapshots: make(map[uint64]vm.BlockEnv),
	}
}

// SetInspector installs the inspector stack used by subsequent executions.
func (e *Executor) SetInspector(inspector vm.Inspector) {
	if inspector == nil {
		inspector = vm.NoopInspector{}
	}
	e.inspector = inspector
}

// SetRevertExpecter wires the cheat-code expect-revert table.
func (e *Executor) SetRevertExpecter(r RevertExpecter) { e.revertExpecter = r }

// SetIndeterminismSource wires the impurity tracker.
func (e *Executor) SetIndeterminismSource(s IndeterminismSource) { e.indeterminism = s }

// StateDB returns the executor's state overlay.
func (e *Executor) StateDB() *state.StateDB { return e.db }

// SwapStateDB replaces the state overlay, used by fork selection. Snapshot
// ids taken against the previous overlay are invalidated.
func (e *Executor) SwapStateDB(db *state.StateDB) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.db = db
	e.envSnapshots = make(map[uint64]vm.BlockEnv)
}

// BlockEnv returns a pointer to the mutable block environment; cheat-codes
// like warp and roll write through it.
func (e *Executor) BlockEnv() *vm.BlockEnv { return &e.blockEnv }

// ChainConfig returns the chain configuration.
func (e *Executor) ChainConfig() *core.ChainConfig { return e.chainConfig }

// Label attaches a human-readable name to an address.
func (e *Executor) Label(addr types.Address, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.labels[addr] = name
}

// Labels returns a copy of the current label table.
func (e *Executor) Labels() map[types.Address]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Address]string, len(e.labels))
	for a, n := range e.labels {
		out[a] = n
	}
	return out
}

// SetSnapshotFailure records a failed snapshot revert; the flag makes every
// subsequent test call unsuccessful.
func (e *Executor) SetSnapshotFailure(failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshotFailed = failed
}

// SnapshotFailure reports the backend snapshot-failure flag.
func (e *Executor) SnapshotFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotFailed
}

// Call executes the transaction and discards its state changes. The
// captured changeset is still reported in the result. Gas price is zeroed
// so test calls are independent of fee markets.
func (e *Executor) Call(txEnv vm.TxEnv) (*RawCallResult, error) {
	txEnv.GasPrice = uint256.NewInt(0)
	if o := e.GasPriceOverride(); o != nil {
		txEnv.GasPrice = new(uint256.Int).Set(o)
	}
	txEnv.Nonce = nil
	return e.run(txEnv, false)
}

// SetGasPriceOverride pins the gas price applied to subsequent test calls;
// nil restores the zeroed default.
func (e *Executor) SetGasPriceOverride(price *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gasPriceOverride = price
}

// GasPriceOverride returns the pinned test-call gas price, or nil.
func (e *Executor) GasPriceOverride() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gasPriceOverride
}

// Transact executes the transaction and commits its state changes.
func (e *Executor) Transact(txEnv vm.TxEnv) (*RawCallResult, error) {
	return e.run(txEnv, true)
}

// Deploy is a committing create from the given sender.
func (e *Executor) Deploy(from types.Address, code []byte, value *uint256.Int) (*RawCallResult, error) {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return e.Transact(vm.TxEnv{
		From:     from,
		To:       nil,
		Value:    value,
		Data:     code,
		GasLimit: e.blockEnv.GasLimit,
		GasPrice: uint256.NewInt(0),
	})
}

func (e *Executor) run(txEnv vm.TxEnv, commit bool) (*RawCallResult, error) {
	env := &vm.Env{
		ChainID:  e.chainConfig.ChainID,
		Hardfork: e.chainConfig.Hardfork,
		Block:    e.blockEnv,
		Tx:       txEnv,
	}

	collector := newCollector()
	inspector := vm.NewInspectorStack(collector, e.inspector)

	cp := e.db.Checkpoint()
	result, err := e.interp.Inspect(env, e.db, inspector)
	if err != nil {
		e.db.Revert(cp)
		return nil, fmt.Errorf("executor: %w", err)
	}

	raw := newRawCallResult(result)
	raw.Logs = collector.logs
	raw.ConsoleLogs = collector.consoleLogs
	raw.Traces = collector.traces
	raw.Labels = e.Labels()
	raw.Changeset = e.db.Changeset(cp)
	if e.indeterminism != nil {
		raw.IndeterminismReasons = e.indeterminism.DrainIndeterminismReasons()
	}

	e.applyExpectedRevert(raw, txEnv.To == nil)
	raw.FailSlotSet = e.failSlotSet(raw)

	// The interpreter already unwound the writes of reverted executions, so
	// a committing run keeps what remains: the nonce bump and gas payment.
	if commit {
		e.db.Commit(cp)
	} else {
		e.db.Revert(cp)
	}
	return raw, nil
}

// applyExpectedRevert rewrites a reverted call into a synthetic success when
// a pending expectation matches, per the expectRevert contract.
func (e *Executor) applyExpectedRevert(raw *RawCallResult, isCreate bool) {
	if e.revertExpecter == nil {
		return
	}
	reason, wildcard, ok := e.revertExpecter.PendingExpectRevert()
	if !ok {
		return
	}
	e.revertExpecter.ClearExpectRevert()

	if !raw.Reverted {
		raw.Reverted = true
		raw.ExitReason = "revert"
		raw.Output = []byte("call did not revert as expected")
		return
	}
	if !wildcard && !bytes.Equal(raw.Output, reason) {
		raw.ExitReason = "revert"
		raw.Output = []byte(fmt.Sprintf("Error != expected error: %s != %s",
			abi.DecodeRevertReason(raw.Output), abi.DecodeRevertReason(reason)))
		return
	}

	raw.Reverted = false
	raw.ExitReason = "success"
	if isCreate {
		created := expectedRevertCreateAddress
		raw.CreatedAddress = &created
		raw.Output = nil
	} else {
		raw.Output = make([]byte, expectedRevertOutputSize)
	}
}

// failSlotSet evaluates the ds-test global failure slot: the post-call
// value, or a changeset write flipping it.
func (e *Executor) failSlotSet(raw *RawCallResult) bool {
	if post, err := e.db.Storage(CheatcodeAddress, GlobalFailSlot); err == nil && post != (types.Hash{}) {
		return true
	}
	if o, ok := raw.Changeset[CheatcodeAddress]; ok {
		if v, ok := o.Storage[GlobalFailSlot]; ok && v != (types.Hash{}) {
			return true
		}
	}
	return false
}

// Success applies the ds-test dual-flag predicate to a call result.
func (e *Executor) Success(raw *RawCallResult) bool {
	if raw.Reverted {
		return false
	}
	if e.SnapshotFailure() {
		return false
	}
	return !raw.FailSlotSet
}

// Snapshot captures state and block env, returning an id for
// RevertToSnapshot.
func (e *Executor) Snapshot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.db.Snapshot()
	e.envSnapshots[id] = e.blockEnv
	return id
}

// RevertToSnapshot restores state and block env. Returns false (and sets
// the snapshot-failure flag) for unknown ids.
func (e *Executor) RevertToSnapshot(id uint64) bool {
	e.mu.Lock()
	env, ok := e.envSnapshots[id]
	e.mu.Unlock()

	if !ok || !e.db.RevertToSnapshot(id) {
		e.SetSnapshotFailure(true)
		return false
	}

	e.mu.Lock()
	e.blockEnv = env
	for other := range e.envSnapshots {
		if other >= id {
			delete(e.envSnapshots, other)
		}
	}
	e.mu.Unlock()
	return true
}

// Clone returns an executor with an independent state overlay and the same
// configuration, for parallel test functions.
func (e *Executor) Clone() *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()

	cpy := &Executor{
		chainConfig:    e.chainConfig,
		interp:         e.interp,
		db:             e.db.Clone(),
		blockEnv:       e.blockEnv,
		inspector:      e.inspector,
		logger:         e.logger,
		revertExpecter: e.revertExpecter,
		indeterminism:  e.indeterminism,
		snapshotFailed: e.snapshotFailed,
		labels:         make(map[types.Address]string, len(e.labels)),
		envSnapshots:   make(map[uint64]vm.BlockEnv, len(e.envSnapshots)),
	}
	if e.gasPriceOverride != nil {
		cpy.gasPriceOverride = new(uint256.Int).Set(e.gasPriceOverride)
	}
	for a, n := range e.labels {
		cpy.labels[a] = n
	}
	for id, env := range e.envSnapshots {
		cpy.envSnapshots[id] = env
	}
	return cpy
}

// collector records logs, traces and console inputs for one execution.
type collector struct {
	logs        []*types.Log
	consoleLogs [][]byte
	traces      []CallTrace
	open        []int // indices of entered, not yet exited traces
}

func newCollector() *collector {
	return &collector{}
}

func (c *collector) EnterCall(frame *vm.CallFrame) (*vm.InterceptResult, error) {
	if frame.Callee == ConsoleAddress {
		data := append([]byte(nil), frame.Input...)
		c.consoleLogs = append(c.consoleLogs, data)
		return &vm.InterceptResult{}, nil
	}
	c.traces = append(c.traces, CallTrace{
		Depth:    frame.Depth,
		Caller:   frame.Caller,
		Callee:   frame.Callee,
		Input:    append([]byte(nil), frame.Input...),
		Value:    frame.Value,
		IsCreate: frame.IsCreate,
	})
	c.open = append(c.open, len(c.traces)-1)
	return nil, nil
}

func (c *collector) ExitCall(_ *vm.CallFrame, result *vm.Result) {
	if len(c.open) == 0 {
		return
	}
	idx := c.open[len(c.open)-1]
	c.open = c.open[:len(c.open)-1]
	c.traces[idx].Output = result.Output
	c.traces[idx].GasUsed = result.GasUsed
	c.traces[idx].Reverted = !result.Succeeded()
}

func (c *collector) EmitLog(l *types.Log) {
	c.logs = append(c.logs, l)
}
