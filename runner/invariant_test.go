package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/vm"
)

var counterSlot = types.HexToHash("0x20")

// counterEVM scripts a contract with an increment() target and an invariant
// that the counter stays below the limit.
func counterEVM(limit uint64) *fakeEVM {
	return newFakeEVM().
		handle("increment()", func(c *callCtx) *vm.Result {
			c.setStorage(counterSlot, c.storage(counterSlot)+1)
			return success()
		}).
		handle("noop()", func(c *callCtx) *vm.Result {
			return success()
		}).
		handle("invariantCounterBelowLimit()", func(c *callCtx) *vm.Result {
			if c.storage(counterSlot) >= limit {
				return revertWith("counter reached limit")
			}
			return success()
		})
}

func TestInvariantHolds(t *testing.T) {
	evm := counterEVM(1 << 62)
	cfg := config.DefaultRunnerConfig()
	cfg.Invariant.Runs = 2
	cfg.Invariant.Depth = 5
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("Counter", []byte{0x62, 0x01},
		mustFn("increment()"), mustFn("invariantCounterBelowLimit()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusPass, result.Status)
	require.NotNil(t, result.Invariant)
	require.Equal(t, 2, result.Invariant.Runs)
	require.Equal(t, 10, result.Invariant.Calls)
	require.Equal(t, 0, result.Invariant.Reverts)
}

func TestInvariantViolationShrinksToMinimalSequence(t *testing.T) {
	evm := counterEVM(2)
	cfg := config.DefaultRunnerConfig()
	cfg.Invariant.Runs = 4
	cfg.Invariant.Depth = 50
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("Shrink", []byte{0x62, 0x02},
		mustFn("increment()"), mustFn("noop()"), mustFn("invariantCounterBelowLimit()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, result.Status)
	require.Contains(t, result.Reason, "counter reached limit")
	require.NotNil(t, result.CounterExample)

	// Noise calls shrink away; reaching the limit takes exactly two
	// increments.
	require.Len(t, result.CounterExample.Calls, 2)
	for _, call := range result.CounterExample.Calls {
		require.Equal(t, "increment()", call.Display)
	}
}

func TestInvariantFailOnRevert(t *testing.T) {
	evm := counterEVM(1 << 62).
		handle("explode()", func(c *callCtx) *vm.Result {
			return revertWith("kaboom")
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Invariant.Runs = 1
	cfg.Invariant.Depth = 20
	cfg.Invariant.FailOnRevert = true
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("Reverter", []byte{0x62, 0x03},
		mustFn("explode()"), mustFn("invariantCounterBelowLimit()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, result.Status)
	require.Contains(t, result.Reason, "reverted")
	require.Contains(t, result.Reason, "kaboom")
}

func TestInvariantAfterInvariantRuns(t *testing.T) {
	armedSlot := types.HexToHash("0x21")
	evm := newFakeEVM().
		handle("arm()", func(c *callCtx) *vm.Result {
			c.setStorage(armedSlot, 1)
			return success()
		}).
		handle("afterInvariant()", func(c *callCtx) *vm.Result {
			if c.storage(armedSlot) != 0 {
				c.setStorage(counterSlot, 100)
			}
			return success()
		}).
		handle("invariantCounterBelowLimit()", func(c *callCtx) *vm.Result {
			if c.storage(counterSlot) >= 2 {
				return revertWith("counter reached limit")
			}
			return success()
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Invariant.Runs = 1
	cfg.Invariant.Depth = 3
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("AfterHook", []byte{0x62, 0x04},
		mustFn("arm()"), mustFn("afterInvariant()"), mustFn("invariantCounterBelowLimit()"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	// Every sequence arms the hook, afterInvariant trips the counter, and the
	// final check catches it.
	result := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, result.Status)
	require.Contains(t, result.Reason, "counter reached limit")
}

func TestInvariantCounterExamplePersistence(t *testing.T) {
	dir := t.TempDir()
	build := func(bytecode []byte) (*Runner, *Artifact) {
		cfg := config.DefaultRunnerConfig()
		cfg.Invariant.Runs = 4
		cfg.Invariant.Depth = 20
		cfg.Invariant.FailurePersistDir = dir
		r := newTestRunner(t, cfg, counterEVM(2))
		artifact := artifactFor("Persisted", bytecode,
			mustFn("increment()"), mustFn("invariantCounterBelowLimit()"))
		return r, artifact
	}

	bytecode := []byte{0x62, 0x05}
	r1, a1 := build(bytecode)
	suite, err := r1.RunSuite(context.Background(), a1)
	require.NoError(t, err)
	first := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, first.Status)
	require.NotNil(t, first.CounterExample)

	path := filepath.Join(dir, "Persisted", "invariantCounterBelowLimit.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var pf persistedFailure
	require.NoError(t, json.Unmarshal(data, &pf))
	require.Equal(t, crypto.Keccak256Hash(bytecode).Hex(), pf.BytecodeHash)
	require.Len(t, pf.Calls, len(first.CounterExample.Calls))

	// Matching bytecode: the persisted sequence replays and fails without
	// fresh generation.
	r2, a2 := build(bytecode)
	suite, err = r2.RunSuite(context.Background(), a2)
	require.NoError(t, err)
	replayed := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, replayed.Status)
	require.Equal(t, 1, replayed.Invariant.Runs)
	require.NotNil(t, replayed.CounterExample)
	require.Len(t, replayed.CounterExample.Calls, len(first.CounterExample.Calls))
	require.Equal(t, first.CounterExample.Calls[0].Calldata, replayed.CounterExample.Calls[0].Calldata)

	// Changed bytecode: the stale counter-example is discarded and fresh
	// runs happen, re-persisting under the new hash.
	newBytecode := []byte{0x62, 0x06}
	r3, a3 := build(newBytecode)
	suite, err = r3.RunSuite(context.Background(), a3)
	require.NoError(t, err)
	fresh := resultByName(t, suite, "invariantCounterBelowLimit")
	require.Equal(t, StatusFail, fresh.Status)
	require.GreaterOrEqual(t, fresh.Invariant.Runs, 1)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &pf))
	require.Equal(t, crypto.Keccak256Hash(newBytecode).Hex(), pf.BytecodeHash)
}
