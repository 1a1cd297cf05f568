package cheats

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

func newTestInspector(t *testing.T) (*Inspector, *executor.Executor) {
	t.Helper()
	chainConfig := &core.ChainConfig{ChainID: core.DevChainID, Hardfork: core.Cancun}
	blockEnv := vm.BlockEnv{
		Number:    1,
		Timestamp: 100,
		GasLimit:  core.DefaultBlockGasLimit,
		BaseFee:   uint256.NewInt(1_000_000_000),
	}
	exec := executor.New(chainConfig, vm.NewNativeInterpreter(), state.New(nil), blockEnv, nil)
	c := New(exec, nil, nil)
	exec.SetInspector(c)
	return c, exec
}

// invoke dispatches one cheat-code call directly through the inspector.
func invoke(t *testing.T, c *Inspector, signature string, values ...interface{}) *vm.InterceptResult {
	t.Helper()
	name, inputs := parseSignature(signature)
	data, err := abi.EncodeCall(&abi.Function{Name: name, Inputs: inputs}, values...)
	require.NoError(t, err)
	result, err := c.EnterCall(&vm.CallFrame{
		Callee: executor.CheatcodeAddress,
		Input:  data,
	})
	require.NoError(t, err)
	require.NotNil(t, result, "cheatcode call was not intercepted")
	return result
}

func requireOK(t *testing.T, r *vm.InterceptResult) {
	t.Helper()
	if r.Reverted {
		t.Fatalf("cheatcode reverted: %s", abi.DecodeRevertReason(r.Output))
	}
}

func TestWarpRollFee(t *testing.T) {
	c, exec := newTestInspector(t)

	requireOK(t, invoke(t, c, "warp(uint256)", big.NewInt(12345)))
	require.Equal(t, uint64(12345), exec.BlockEnv().Timestamp)

	requireOK(t, invoke(t, c, "roll(uint256)", big.NewInt(777)))
	require.Equal(t, uint64(777), exec.BlockEnv().Number)

	requireOK(t, invoke(t, c, "fee(uint256)", big.NewInt(42)))
	require.Equal(t, uint64(42), exec.BlockEnv().BaseFee.Uint64())

	coinbase := types.HexToAddress("0x00000000000000000000000000000000000000cb")
	requireOK(t, invoke(t, c, "coinbase(address)", coinbase))
	require.Equal(t, coinbase, exec.BlockEnv().Beneficiary)
}

func TestSetBalanceAndStorage(t *testing.T) {
	c, exec := newTestInspector(t)
	addr := types.HexToAddress("0x1111111111111111111111111111111111111111")

	requireOK(t, invoke(t, c, "setBalance(address,uint256)", addr, big.NewInt(1e18)))
	balance, err := exec.StateDB().Balance(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1e18), balance)

	slot := types.HexToHash("0x01")
	value := types.HexToHash("0xff")
	requireOK(t, invoke(t, c, "setStorage(address,bytes32,bytes32)", addr, slot, value))

	result := invoke(t, c, "load(address,bytes32)", addr, slot)
	requireOK(t, result)
	decoded, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("bytes32")}}, result.Output)
	require.NoError(t, err)
	require.Equal(t, value, decoded[0])
}

func TestSetNonceCannotDecrease(t *testing.T) {
	c, _ := newTestInspector(t)
	addr := types.HexToAddress("0x2222222222222222222222222222222222222222")

	requireOK(t, invoke(t, c, "setNonce(address,uint64)", addr, big.NewInt(5)))
	result := invoke(t, c, "setNonce(address,uint64)", addr, big.NewInt(3))
	require.True(t, result.Reverted)
}

func TestPrankAppliesToNextCall(t *testing.T) {
	c, _ := newTestInspector(t)
	impostor := types.HexToAddress("0x3333333333333333333333333333333333333333")

	requireOK(t, invoke(t, c, "prank(address)", impostor))

	frame := &vm.CallFrame{
		Caller: types.HexToAddress("0x4444444444444444444444444444444444444444"),
		Callee: types.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
	intercept, err := c.EnterCall(frame)
	require.NoError(t, err)
	require.Nil(t, intercept)
	require.Equal(t, impostor, frame.Caller)

	// One-shot: the next call is untouched.
	second := &vm.CallFrame{Caller: types.HexToAddress("0x4444444444444444444444444444444444444444")}
	_, err = c.EnterCall(second)
	require.NoError(t, err)
	require.NotEqual(t, impostor, second.Caller)
}

func TestStartPrankPersistsUntilStop(t *testing.T) {
	c, _ := newTestInspector(t)
	impostor := types.HexToAddress("0x3333333333333333333333333333333333333333")
	origin := types.HexToAddress("0x6666666666666666666666666666666666666666")

	requireOK(t, invoke(t, c, "startPrank(address,address)", impostor, origin))

	for i := 0; i < 3; i++ {
		frame := &vm.CallFrame{Callee: types.HexToAddress("0x55")}
		_, err := c.EnterCall(frame)
		require.NoError(t, err)
		require.Equal(t, impostor, frame.Caller)
		require.Equal(t, origin, frame.Origin)
	}

	requireOK(t, invoke(t, c, "stopPrank()"))
	frame := &vm.CallFrame{}
	_, err := c.EnterCall(frame)
	require.NoError(t, err)
	require.NotEqual(t, impostor, frame.Caller)
}

func TestSnapshotRevertToThroughCheat(t *testing.T) {
	c, exec := newTestInspector(t)
	addr := types.HexToAddress("0x7777777777777777777777777777777777777777")

	requireOK(t, invoke(t, c, "setBalance(address,uint256)", addr, big.NewInt(100)))

	result := invoke(t, c, "snapshot()")
	requireOK(t, result)
	decoded, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("uint256")}}, result.Output)
	require.NoError(t, err)
	id := decoded[0].(*big.Int)

	requireOK(t, invoke(t, c, "setBalance(address,uint256)", addr, big.NewInt(999)))

	revertResult := invoke(t, c, "revertTo(uint256)", id)
	requireOK(t, revertResult)
	ok, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("bool")}}, revertResult.Output)
	require.NoError(t, err)
	require.True(t, ok[0].(bool))

	balance, err := exec.StateDB().Balance(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), balance)
}

func TestExpectRevertFlowsThroughExecutor(t *testing.T) {
	c, exec := newTestInspector(t)

	requireOK(t, invoke(t, c, "expectRevert(string)", "boom"))

	reason, wildcard, pending := c.PendingExpectRevert()
	require.True(t, pending)
	require.False(t, wildcard)
	require.Equal(t, abi.EncodeRevertReason("boom"), reason)

	// A reverting interpreter is simulated by an inspector stack member
	// intercepting the call. require(..., "boom") produces the
	// Error(string) payload.
	exec.SetInspector(vm.NewInspectorStack(c, revertingInspector{output: abi.EncodeRevertReason("boom")}))
	to := types.HexToAddress("0x9999999999999999999999999999999999999999")
	raw, err := exec.Call(vm.TxEnv{
		From:     types.HexToAddress("0x8888888888888888888888888888888888888888"),
		To:       &to,
		GasLimit: 100000,
	})
	require.NoError(t, err)
	require.False(t, raw.Reverted, "matched expectRevert should rewrite to success")
	require.Len(t, raw.Output, 8192)
	require.NoError(t, c.VerifyExpectations())
}

func TestExpectRevertMismatchMessage(t *testing.T) {
	c, exec := newTestInspector(t)
	requireOK(t, invoke(t, c, "expectRevert(string)", "boom"))

	exec.SetInspector(vm.NewInspectorStack(c, revertingInspector{output: abi.EncodeRevertReason("other")}))
	to := types.HexToAddress("0x9999999999999999999999999999999999999999")
	raw, err := exec.Call(vm.TxEnv{
		From:     types.HexToAddress("0x8888888888888888888888888888888888888888"),
		To:       &to,
		GasLimit: 100000,
	})
	require.NoError(t, err)
	require.True(t, raw.Reverted)
	require.Equal(t, "Error != expected error: other != boom", string(raw.Output))
}

func TestExpectRevertRawBytesMatchesRawPayload(t *testing.T) {
	c, exec := newTestInspector(t)
	requireOK(t, invoke(t, c, "expectRevert(bytes)", []byte{0xde, 0xad}))

	// The bytes form compares against the raw revert data, no Error(string)
	// wrapping on either side.
	exec.SetInspector(vm.NewInspectorStack(c, revertingInspector{output: []byte{0xde, 0xad}}))
	to := types.HexToAddress("0x9999999999999999999999999999999999999999")
	raw, err := exec.Call(vm.TxEnv{
		From:     types.HexToAddress("0x8888888888888888888888888888888888888888"),
		To:       &to,
		GasLimit: 100000,
	})
	require.NoError(t, err)
	require.False(t, raw.Reverted)
	require.NoError(t, c.VerifyExpectations())
}

func TestExpectRevertWithoutRevertFails(t *testing.T) {
	c, exec := newTestInspector(t)
	requireOK(t, invoke(t, c, "expectRevert()"))

	to := types.HexToAddress("0x9999999999999999999999999999999999999999")
	raw, err := exec.Call(vm.TxEnv{
		From:     types.HexToAddress("0x8888888888888888888888888888888888888888"),
		To:       &to,
		GasLimit: 100000,
	})
	require.NoError(t, err)
	require.True(t, raw.Reverted)
}

// revertingInspector forces the next entered call to revert with the given
// payload, standing in for a real interpreter.
type revertingInspector struct {
	output []byte
}

func (r revertingInspector) EnterCall(frame *vm.CallFrame) (*vm.InterceptResult, error) {
	return &vm.InterceptResult{Reverted: true, Output: r.output}, nil
}
func (revertingInspector) ExitCall(*vm.CallFrame, *vm.Result) {}
func (revertingInspector) EmitLog(*types.Log)                 {}

func TestImpurityTracking(t *testing.T) {
	c, _ := newTestInspector(t)

	t.Setenv("CHEATS_TEST_VALUE", "42")
	result := invoke(t, c, "envUint(string)", "CHEATS_TEST_VALUE")
	requireOK(t, result)

	reasons := c.DrainIndeterminismReasons()
	require.Equal(t, []string{"envUint"}, reasons)
	require.Empty(t, c.DrainIndeterminismReasons(), "drain consumes")

	// Pure cheat-codes contribute nothing.
	requireOK(t, invoke(t, c, "warp(uint256)", big.NewInt(1)))
	require.Empty(t, c.DrainIndeterminismReasons())
}

func TestEnvProbes(t *testing.T) {
	c, _ := newTestInspector(t)

	t.Setenv("CHEATS_BOOL", "true")
	result := invoke(t, c, "envBool(string)", "CHEATS_BOOL")
	requireOK(t, result)
	decoded, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("bool")}}, result.Output)
	require.NoError(t, err)
	require.True(t, decoded[0].(bool))

	result = invoke(t, c, "envOr(string,string)", "CHEATS_MISSING", "fallback")
	requireOK(t, result)
	str, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("string")}}, result.Output)
	require.NoError(t, err)
	require.Equal(t, "fallback", str[0])

	result = invoke(t, c, "envExists(string)", "CHEATS_BOOL")
	requireOK(t, result)
	exists, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("bool")}}, result.Output)
	require.NoError(t, err)
	require.True(t, exists[0].(bool))
}

func TestPersistentAccountCheats(t *testing.T) {
	c, exec := newTestInspector(t)
	addr := types.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	requireOK(t, invoke(t, c, "makePersistent(address)", addr))
	require.True(t, exec.StateDB().IsPersistent(addr))

	requireOK(t, invoke(t, c, "revokePersistent(address)", addr))
	require.False(t, exec.StateDB().IsPersistent(addr))
}

func TestUnknownSelectorReverts(t *testing.T) {
	c, _ := newTestInspector(t)
	result, err := c.EnterCall(&vm.CallFrame{
		Callee: executor.CheatcodeAddress,
		Input:  []byte{0xde, 0xad, 0xbe, 0xef},
	})
	require.NoError(t, err)
	require.True(t, result.Reverted)
}
