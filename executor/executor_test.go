package executor

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

var (
	testSender = types.HexToAddress("0x00000000000000000000000000000000000000aa")
	testTarget = types.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	db := state.New(nil)
	db.SetBalance(testSender, big.NewInt(1_000_000_000))

	chainConfig := &core.ChainConfig{ChainID: core.DevChainID, Hardfork: core.Cancun}
	blockEnv := vm.BlockEnv{
		Number:    1,
		Timestamp: 1000,
		GasLimit:  30_000_000,
		BaseFee:   uint256.NewInt(0),
	}
	return New(chainConfig, vm.NewNativeInterpreter(), db, blockEnv, nil)
}

func transferTx(value uint64) vm.TxEnv {
	return vm.TxEnv{
		From:     testSender,
		To:       &testTarget,
		Value:    uint256.NewInt(value),
		GasLimit: 100_000,
	}
}

func TestCallDiscardsState(t *testing.T) {
	e := newTestExecutor(t)

	raw, err := e.Call(transferTx(500))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("result = %+v", raw)
	}

	// The changeset reports the write, the state does not retain it.
	if o, ok := raw.Changeset[testTarget]; !ok || o.Balance == nil || o.Balance.Int64() != 500 {
		t.Errorf("changeset = %+v", raw.Changeset)
	}
	if balance, _ := e.StateDB().Balance(testTarget); balance.Sign() != 0 {
		t.Errorf("call leaked state: balance = %v", balance)
	}
}

func TestTransactCommitsState(t *testing.T) {
	e := newTestExecutor(t)

	raw, err := e.Transact(transferTx(500))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("result = %+v", raw)
	}
	if balance, _ := e.StateDB().Balance(testTarget); balance.Int64() != 500 {
		t.Errorf("balance = %v", balance)
	}
}

func TestDeploy(t *testing.T) {
	e := newTestExecutor(t)

	code := []byte{0x60, 0x01}
	raw, err := e.Deploy(testSender, code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted || raw.CreatedAddress == nil {
		t.Fatalf("result = %+v", raw)
	}
	stored, _ := e.StateDB().Code(*raw.CreatedAddress)
	if string(stored) != string(code) {
		t.Errorf("deployed code = %x", stored)
	}
}

func TestSuccessPredicateFailSlot(t *testing.T) {
	e := newTestExecutor(t)

	raw, err := e.Call(transferTx(1))
	if err != nil {
		t.Fatal(err)
	}
	if !e.Success(raw) {
		t.Fatal("clean call reported unsuccessful")
	}

	// ds-test global failure: the slot on the cheat-code contract is set.
	e.StateDB().SetStorage(CheatcodeAddress, GlobalFailSlot, types.HexToHash("0x01"))
	raw, err = e.Call(transferTx(1))
	if err != nil {
		t.Fatal(err)
	}
	if !raw.FailSlotSet {
		t.Fatal("fail slot not detected")
	}
	if e.Success(raw) {
		t.Fatal("failed call reported successful")
	}
}

func TestSuccessPredicateSnapshotFailure(t *testing.T) {
	e := newTestExecutor(t)

	raw, err := e.Call(transferTx(1))
	if err != nil {
		t.Fatal(err)
	}
	e.SetSnapshotFailure(true)
	if e.Success(raw) {
		t.Fatal("snapshot failure ignored by success predicate")
	}
}

// fakeExpecter is a one-shot expect-revert table.
type fakeExpecter struct {
	reason   []byte
	wildcard bool
	pending  bool
}

func (f *fakeExpecter) PendingExpectRevert() ([]byte, bool, bool) {
	return f.reason, f.wildcard, f.pending
}
func (f *fakeExpecter) ClearExpectRevert() { f.pending = false }

// revertingInspector makes every call revert with a fixed payload.
type revertingInspector struct{ output []byte }

func (r *revertingInspector) EnterCall(*vm.CallFrame) (*vm.InterceptResult, error) {
	return &vm.InterceptResult{Output: r.output, Reverted: true}, nil
}
func (r *revertingInspector) ExitCall(*vm.CallFrame, *vm.Result) {}
func (r *revertingInspector) EmitLog(*types.Log)                 {}

func TestExpectedRevertRewrite(t *testing.T) {
	e := newTestExecutor(t)
	e.SetInspector(&revertingInspector{output: []byte("nope")})

	expecter := &fakeExpecter{reason: []byte("nope"), pending: true}
	e.SetRevertExpecter(expecter)

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("expected revert not rewritten: %+v", raw)
	}
	if len(raw.Output) != expectedRevertOutputSize {
		t.Fatalf("synthetic output size = %d", len(raw.Output))
	}
	for _, b := range raw.Output {
		if b != 0 {
			t.Fatal("synthetic output not zeroed")
		}
	}
	if expecter.pending {
		t.Fatal("expectation not consumed")
	}
}

func TestExpectedRevertStringReasonMatchesErrorPayload(t *testing.T) {
	e := newTestExecutor(t)
	// require(..., "boom") reverts with the Error(string) encoding; the
	// expectation carries the same encoded form.
	e.SetInspector(&revertingInspector{output: abi.EncodeRevertReason("boom")})
	expecter := &fakeExpecter{reason: abi.EncodeRevertReason("boom"), pending: true}
	e.SetRevertExpecter(expecter)

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("encoded reason did not match: %s", raw.Output)
	}
	if expecter.pending {
		t.Fatal("expectation not consumed")
	}
}

func TestExpectedRevertMismatchMessageDecodes(t *testing.T) {
	e := newTestExecutor(t)
	e.SetInspector(&revertingInspector{output: abi.EncodeRevertReason("other")})
	e.SetRevertExpecter(&fakeExpecter{reason: abi.EncodeRevertReason("boom"), pending: true})

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if !raw.Reverted {
		t.Fatal("reason mismatch treated as success")
	}
	if got := string(raw.Output); got != "Error != expected error: other != boom" {
		t.Fatalf("mismatch message = %q", got)
	}
}

func TestExpectedRevertRawBytesReason(t *testing.T) {
	e := newTestExecutor(t)
	// Custom-error payloads are compared byte-for-byte.
	e.SetInspector(&revertingInspector{output: []byte{0xde, 0xad, 0xbe, 0xef}})
	e.SetRevertExpecter(&fakeExpecter{reason: []byte{0xde, 0xad, 0xbe, 0xef}, pending: true})

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("raw payload did not match: %x", raw.Output)
	}
}

func TestExpectedRevertWildcard(t *testing.T) {
	e := newTestExecutor(t)
	e.SetInspector(&revertingInspector{output: []byte("anything at all")})
	e.SetRevertExpecter(&fakeExpecter{wildcard: true, pending: true})

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("wildcard expectation did not match: %+v", raw)
	}
}

func TestExpectedRevertReasonMismatch(t *testing.T) {
	e := newTestExecutor(t)
	e.SetInspector(&revertingInspector{output: []byte("actual")})
	e.SetRevertExpecter(&fakeExpecter{reason: []byte("expected"), pending: true})

	raw, err := e.Call(transferTx(0))
	if err != nil {
		t.Fatal(err)
	}
	if !raw.Reverted {
		t.Fatal("reason mismatch treated as success")
	}
}

func TestExpectedRevertButSucceeded(t *testing.T) {
	e := newTestExecutor(t)
	e.SetRevertExpecter(&fakeExpecter{wildcard: true, pending: true})

	raw, err := e.Call(transferTx(1))
	if err != nil {
		t.Fatal(err)
	}
	if !raw.Reverted {
		t.Fatal("missing revert not flagged")
	}
}

func TestExpectedRevertOnCreate(t *testing.T) {
	e := newTestExecutor(t)
	e.SetInspector(&revertingInspector{output: []byte("ctor failed")})
	e.SetRevertExpecter(&fakeExpecter{wildcard: true, pending: true})

	raw, err := e.Transact(vm.TxEnv{
		From:     testSender,
		Data:     []byte{0x01},
		GasLimit: 100_000,
		GasPrice: uint256.NewInt(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("expected revert on create not rewritten: %+v", raw)
	}
	if raw.CreatedAddress == nil || *raw.CreatedAddress != expectedRevertCreateAddress {
		t.Fatalf("created address = %v", raw.CreatedAddress)
	}
}

func TestSnapshotRestoresEnvAndState(t *testing.T) {
	e := newTestExecutor(t)
	e.StateDB().SetNonce(testTarget, 1)

	id := e.Snapshot()

	e.BlockEnv().Timestamp = 99_999 // warp
	e.BlockEnv().Number = 42        // roll
	e.StateDB().SetNonce(testTarget, 7)

	if !e.RevertToSnapshot(id) {
		t.Fatal("revert failed")
	}
	if e.BlockEnv().Timestamp != 1000 || e.BlockEnv().Number != 1 {
		t.Fatalf("env not restored: %+v", e.BlockEnv())
	}
	if nonce, _ := e.StateDB().Nonce(testTarget); nonce != 1 {
		t.Fatalf("state not restored: nonce = %d", nonce)
	}
	if e.SnapshotFailure() {
		t.Fatal("successful revert raised the failure flag")
	}
}

func TestRevertToUnknownSnapshot(t *testing.T) {
	e := newTestExecutor(t)
	if e.RevertToSnapshot(777) {
		t.Fatal("unknown snapshot accepted")
	}
	if !e.SnapshotFailure() {
		t.Fatal("failed revert did not raise the failure flag")
	}
}

func TestCloneIsolation(t *testing.T) {
	e := newTestExecutor(t)
	c := e.Clone()

	if _, err := c.Transact(transferTx(500)); err != nil {
		t.Fatal(err)
	}
	if balance, _ := e.StateDB().Balance(testTarget); balance.Sign() != 0 {
		t.Fatal("clone transaction leaked into the original")
	}

	c.BlockEnv().Timestamp = 5555
	if e.BlockEnv().Timestamp == 5555 {
		t.Fatal("clone env shared with original")
	}
}

func TestConsoleLogCapture(t *testing.T) {
	e := newTestExecutor(t)

	raw, err := e.Call(vm.TxEnv{
		From:     testSender,
		To:       &ConsoleAddress,
		Data:     []byte("hello"),
		GasLimit: 100_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if raw.Reverted {
		t.Fatalf("console call reverted: %+v", raw)
	}
	if len(raw.ConsoleLogs) != 1 || string(raw.ConsoleLogs[0]) != "hello" {
		t.Fatalf("console logs = %q", raw.ConsoleLogs)
	}
}
