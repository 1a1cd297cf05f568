package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// mustFn parses a human signature like "transfer(address to,uint256 amount)"
// into an ABI function.
func mustFn(signature string) abi.Function {
	open := strings.IndexByte(signature, '(')
	name := signature[:open]
	inner := strings.TrimSuffix(signature[open+1:], ")")
	var inputs []abi.Parameter
	if inner != "" {
		for _, part := range strings.Split(inner, ",") {
			fields := strings.Fields(part)
			p := abi.Parameter{Type: abi.MustType(fields[0])}
			if len(fields) > 1 {
				p.Name = fields[1]
			}
			inputs = append(inputs, p)
		}
	}
	return abi.Function{Name: name, Inputs: inputs}
}

// callCtx is the execution context a scripted handler runs in.
type callCtx struct {
	env       *vm.Env
	db        *state.StateDB
	inspector vm.Inspector
	frame     *vm.CallFrame
}

// cheat invokes a cheat-code through the inspector stack, like contract code
// calling the cheat-code address would.
func (c *callCtx) cheat(signature string, values ...interface{}) *vm.InterceptResult {
	f := mustFn(signature)
	data, err := abi.EncodeCall(&f, values...)
	if err != nil {
		panic(err)
	}
	frame := &vm.CallFrame{
		Depth:  c.frame.Depth + 1,
		Caller: c.frame.Callee,
		Origin: c.frame.Origin,
		Callee: executor.CheatcodeAddress,
		Input:  data,
		Gas:    c.frame.Gas,
	}
	intercept, err := c.inspector.EnterCall(frame)
	if err != nil {
		panic(err)
	}
	return intercept
}

func (c *callCtx) storage(slot types.Hash) uint64 {
	v, err := c.db.Storage(c.frame.Callee, slot)
	if err != nil {
		panic(err)
	}
	return new(uint256.Int).SetBytes(v[:]).Uint64()
}

func (c *callCtx) setStorage(slot types.Hash, value uint64) {
	word := uint256.NewInt(value).Bytes32()
	c.db.SetStorage(c.frame.Callee, slot, types.Hash(word))
}

// flipFailSlot flips the ds-test global failure slot, like a failed
// assertion would.
func (c *callCtx) flipFailSlot() {
	var v types.Hash
	v[31] = 1
	c.db.SetStorage(executor.CheatcodeAddress, executor.GlobalFailSlot, v)
}

func success() *vm.Result {
	return &vm.Result{Kind: vm.KindSuccess, GasUsed: 21000}
}

func revertWith(reason string) *vm.Result {
	return &vm.Result{Kind: vm.KindRevert, Output: abi.EncodeRevertReason(reason), GasUsed: 21000}
}

// fakeEVM is a scripted interpreter: registered selectors run Go handlers,
// everything else falls back to the account-plumbing interpreter. It keeps
// the real interpreter contract of unwinding state on revert.
type fakeEVM struct {
	native   *vm.NativeInterpreter
	handlers map[[4]byte]func(*callCtx) *vm.Result
}

func newFakeEVM() *fakeEVM {
	return &fakeEVM{
		native:   vm.NewNativeInterpreter(),
		handlers: make(map[[4]byte]func(*callCtx) *vm.Result),
	}
}

func (f *fakeEVM) handle(signature string, h func(*callCtx) *vm.Result) *fakeEVM {
	fn := mustFn(signature)
	f.handlers[fn.Selector()] = h
	return f
}

func (f *fakeEVM) Inspect(env *vm.Env, db *state.StateDB, inspector vm.Inspector) (*vm.Result, error) {
	if inspector == nil {
		inspector = vm.NoopInspector{}
	}
	if env.Tx.To != nil && len(env.Tx.Data) >= 4 {
		var sel [4]byte
		copy(sel[:], env.Tx.Data[:4])
		if h, ok := f.handlers[sel]; ok {
			value := env.Tx.Value
			if value == nil {
				value = uint256.NewInt(0)
			}
			frame := &vm.CallFrame{
				Caller: env.Tx.From,
				Origin: env.Tx.From,
				Callee: *env.Tx.To,
				Input:  env.Tx.Data,
				Value:  value,
				Gas:    env.Tx.GasLimit,
			}
			intercept, err := inspector.EnterCall(frame)
			if err != nil {
				return nil, err
			}
			var result *vm.Result
			if intercept != nil {
				result = &vm.Result{Output: intercept.Output, GasUsed: intercept.GasUsed}
				if intercept.Reverted {
					result.Kind = vm.KindRevert
				}
			} else {
				cp := db.Checkpoint()
				result = h(&callCtx{env: env, db: db, inspector: inspector, frame: frame})
				if result.Succeeded() {
					db.Commit(cp)
				} else {
					db.Revert(cp)
				}
			}
			inspector.ExitCall(frame, result)
			return result, nil
		}
	}
	return f.native.Inspect(env, db, inspector)
}

// newTestRunner wires a runner over the scripted interpreter and a fresh
// in-memory state.
func newTestRunner(t *testing.T, cfg *config.RunnerConfig, evm *fakeEVM) *Runner {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultRunnerConfig()
	}
	exec := NewExecutor(cfg, evm, state.New(nil), nil)
	r, err := New(cfg, exec, nil)
	require.NoError(t, err)
	return r
}

func artifactFor(name string, bytecode []byte, fns ...abi.Function) *Artifact {
	return &Artifact{
		Name:     name,
		ABI:      &abi.Contract{Name: name, Functions: fns},
		Bytecode: bytecode,
	}
}

func resultByName(t *testing.T, suite *SuiteResult, name string) *TestResult {
	t.Helper()
	for i := range suite.Results {
		if suite.Results[i].Name == name {
			return &suite.Results[i]
		}
	}
	t.Fatalf("no result named %s", name)
	return nil
}

func TestDiscoveryClassifiesKinds(t *testing.T) {
	r := newTestRunner(t, nil, newFakeEVM())
	contract := &abi.Contract{Functions: []abi.Function{
		mustFn("setUp()"),
		mustFn("testTransfer()"),
		mustFn("testFuzzTransfer(uint256 amount)"),
		mustFn("invariantSolvent()"),
		mustFn("helper()"),
		mustFn("afterInvariant()"),
	}}

	plans, setUp, after, err := r.discover(contract)
	require.NoError(t, err)
	require.NotNil(t, setUp)
	require.NotNil(t, after)
	require.Len(t, plans, 3)

	kinds := map[string]TestKind{}
	for _, p := range plans {
		kinds[p.function.Name] = p.kind
	}
	require.Equal(t, UnitTest, kinds["testTransfer"])
	require.Equal(t, FuzzTest, kinds["testFuzzTransfer"])
	require.Equal(t, InvariantTest, kinds["invariantSolvent"])
}

func TestDiscoveryFilter(t *testing.T) {
	cfg := config.DefaultRunnerConfig()
	cfg.Filter = "^testA"
	r := newTestRunner(t, cfg, newFakeEVM())
	contract := &abi.Contract{Functions: []abi.Function{
		mustFn("testAlpha()"),
		mustFn("testBeta()"),
	}}

	plans, _, _, err := r.discover(contract)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "testAlpha", plans[0].function.Name)
}

func TestDuplicateSetUpFailsSuite(t *testing.T) {
	r := newTestRunner(t, nil, newFakeEVM())
	artifact := artifactFor("DupSetUp", []byte{0x60, 0x01},
		mustFn("setUp()"), mustFn("setUp()"), mustFn("testNoop()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Len(t, suite.Results, 1)
	require.Equal(t, StatusFail, suite.Results[0].Status)
	require.Equal(t, "multiple setUp() functions", suite.Results[0].Reason)
	require.True(t, suite.Failed())
}

func TestUnitPassAndFail(t *testing.T) {
	evm := newFakeEVM().
		handle("testPass()", func(c *callCtx) *vm.Result { return success() }).
		handle("testRevert()", func(c *callCtx) *vm.Result { return revertWith("boom") }).
		handle("testAssert()", func(c *callCtx) *vm.Result {
			c.flipFailSlot()
			return success()
		})
	r := newTestRunner(t, nil, evm)
	artifact := artifactFor("Unit", []byte{0x60, 0x02},
		mustFn("testPass()"), mustFn("testRevert()"), mustFn("testAssert()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Len(t, suite.Results, 3)

	require.Equal(t, StatusPass, resultByName(t, suite, "testPass").Status)

	failed := resultByName(t, suite, "testRevert")
	require.Equal(t, StatusFail, failed.Status)
	require.Equal(t, "boom", failed.Reason)

	asserted := resultByName(t, suite, "testAssert")
	require.Equal(t, StatusFail, asserted.Status)
	require.Equal(t, "assertion failed", asserted.Reason)
}

func TestTestFailInversion(t *testing.T) {
	evm := newFakeEVM().
		handle("testFailBoom()", func(c *callCtx) *vm.Result { return revertWith("boom") }).
		handle("testFailQuiet()", func(c *callCtx) *vm.Result { return success() })
	cfg := config.DefaultRunnerConfig()
	cfg.TestFail = true
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("Inverted", []byte{0x60, 0x03},
		mustFn("testFailBoom()"), mustFn("testFailQuiet()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Equal(t, StatusPass, resultByName(t, suite, "testFailBoom").Status)

	quiet := resultByName(t, suite, "testFailQuiet")
	require.Equal(t, StatusFail, quiet.Status)
	require.Equal(t, "test did not fail as expected", quiet.Reason)
}

func TestSetUpFailureSkipsTests(t *testing.T) {
	evm := newFakeEVM().
		handle("setUp()", func(c *callCtx) *vm.Result { return revertWith("setup broke") }).
		handle("testNoop()", func(c *callCtx) *vm.Result { return success() })
	r := newTestRunner(t, nil, evm)
	artifact := artifactFor("BadSetup", []byte{0x60, 0x04},
		mustFn("setUp()"), mustFn("testNoop()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Len(t, suite.Results, 2)

	synthetic := suite.Results[0]
	require.Equal(t, "setUp()", synthetic.Name)
	require.Equal(t, StatusFail, synthetic.Status)
	require.Contains(t, synthetic.Reason, "setup broke")

	skipped := resultByName(t, suite, "testNoop")
	require.Equal(t, StatusSkip, skipped.Status)
}

func TestSetUpStatePersistsIntoTests(t *testing.T) {
	slot := types.HexToHash("0x10")
	evm := newFakeEVM().
		handle("setUp()", func(c *callCtx) *vm.Result {
			c.setStorage(slot, 42)
			return success()
		}).
		handle("testReadsSetup()", func(c *callCtx) *vm.Result {
			if c.storage(slot) != 42 {
				return revertWith("setup state missing")
			}
			return success()
		})
	r := newTestRunner(t, nil, evm)
	artifact := artifactFor("Stateful", []byte{0x60, 0x05},
		mustFn("setUp()"), mustFn("testReadsSetup()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Equal(t, StatusPass, resultByName(t, suite, "testReadsSetup").Status)
}

// stubDecoder renders each trace as "caller -> callee".
type stubDecoder struct{}

func (stubDecoder) DecodeStackTrace(traces []executor.CallTrace, _ []*types.Log, _ map[types.Address]string) ([]string, error) {
	frames := make([]string, len(traces))
	for i, tr := range traces {
		frames[i] = tr.Caller.Hex() + " -> " + tr.Callee.Hex()
	}
	return frames, nil
}

func TestDeterministicFailureGetsStackTrace(t *testing.T) {
	evm := newFakeEVM().
		handle("testRevert()", func(c *callCtx) *vm.Result { return revertWith("boom") })
	r := newTestRunner(t, nil, evm)
	r.SetTraceDecoder(stubDecoder{})
	artifact := artifactFor("Traced", []byte{0x60, 0x06}, mustFn("testRevert()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	failed := resultByName(t, suite, "testRevert")
	require.Equal(t, StatusFail, failed.Status)
	require.NotEmpty(t, failed.StackTrace)
}

func TestImpureFailureSuppressesReExecution(t *testing.T) {
	t.Setenv("RUNNER_TEST_VAR", "")
	evm := newFakeEVM().
		handle("testImpure()", func(c *callCtx) *vm.Result {
			c.cheat("setEnv(string,string)", "RUNNER_TEST_VAR", "1")
			return revertWith("boom")
		})
	r := newTestRunner(t, nil, evm)
	r.SetTraceDecoder(stubDecoder{})
	artifact := artifactFor("Impure", []byte{0x60, 0x07}, mustFn("testImpure()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	failed := resultByName(t, suite, "testImpure")
	require.Equal(t, StatusFail, failed.Status)
	require.Contains(t, failed.IndeterminismReasons, "setEnv")
	require.Empty(t, failed.StackTrace)
}
