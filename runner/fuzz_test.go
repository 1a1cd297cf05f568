package runner

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/vm"
)

func TestFuzzPropertyHolds(t *testing.T) {
	evm := newFakeEVM().
		handle("testFuzzAny(uint256 x)", func(c *callCtx) *vm.Result {
			// The property holds for every input.
			return success()
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Fuzz.Runs = 16
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("Fuzzed", []byte{0x61, 0x01}, mustFn("testFuzzAny(uint256 x)"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "testFuzzAny")
	require.Equal(t, StatusPass, result.Status)
	require.NotNil(t, result.Fuzz)
	require.Equal(t, 16, result.Fuzz.Runs)
	require.Equal(t, 0, result.Fuzz.Rejects)
	require.Equal(t, uint64(21000), result.Fuzz.MeanGas)
	require.Equal(t, uint64(21000), result.Fuzz.MedianGas)
}

func TestFuzzCounterExampleOnFailure(t *testing.T) {
	evm := newFakeEVM().
		handle("testFuzzBroken(uint256 x)", func(c *callCtx) *vm.Result {
			return revertWith("boom")
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Fuzz.Runs = 16
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("FuzzFail", []byte{0x61, 0x02}, mustFn("testFuzzBroken(uint256 x)"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "testFuzzBroken")
	require.Equal(t, StatusFail, result.Status)
	require.Equal(t, "boom", result.Reason)
	require.Equal(t, 1, result.Fuzz.Runs)
	require.NotNil(t, result.CounterExample)
	require.Len(t, result.CounterExample.Calls, 1)
	require.Equal(t, "testFuzzBroken(uint256)", result.CounterExample.Calls[0].Signature)
	require.Contains(t, result.CounterExample.Calls[0].Display, "testFuzzBroken(")
}

func TestFuzzSeedDeterminism(t *testing.T) {
	build := func() (*Runner, *Artifact) {
		evm := newFakeEVM().
			handle("testFuzzBroken(uint256 x)", func(c *callCtx) *vm.Result {
				return revertWith("boom")
			})
		cfg := config.DefaultRunnerConfig()
		cfg.Fuzz.Runs = 16
		r := newTestRunner(t, cfg, evm)
		return r, artifactFor("FuzzSeed", []byte{0x61, 0x03}, mustFn("testFuzzBroken(uint256 x)"))
	}

	r1, a1 := build()
	r2, a2 := build()
	s1, err := r1.RunSuite(context.Background(), a1)
	require.NoError(t, err)
	s2, err := r2.RunSuite(context.Background(), a2)
	require.NoError(t, err)

	ce1 := resultByName(t, s1, "testFuzzBroken").CounterExample
	ce2 := resultByName(t, s2, "testFuzzBroken").CounterExample
	require.NotNil(t, ce1)
	require.NotNil(t, ce2)
	require.Equal(t, ce1.Calls[0].Calldata, ce2.Calls[0].Calldata)
}

func TestFuzzAssumeRejectionBudget(t *testing.T) {
	evm := newFakeEVM().
		handle("testFuzzPicky(uint256 x)", func(c *callCtx) *vm.Result {
			intercept := c.cheat("assume(bool)", false)
			if intercept != nil && intercept.Reverted {
				return &vm.Result{Kind: vm.KindRevert, Output: intercept.Output}
			}
			return success()
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Fuzz.Runs = 16
	cfg.Fuzz.MaxRejects = 8
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("FuzzPicky", []byte{0x61, 0x04}, mustFn("testFuzzPicky(uint256 x)"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)

	result := resultByName(t, suite, "testFuzzPicky")
	require.Equal(t, StatusFail, result.Status)
	require.Contains(t, result.Reason, "rejected too many fuzz inputs")
	require.Equal(t, 0, result.Fuzz.Runs)
	require.Equal(t, 9, result.Fuzz.Rejects)
}

func TestFuzzDictionaryDrawsFromFixtures(t *testing.T) {
	lucky := big.NewInt(777)
	seen := make(chan *big.Int, 256)
	evm := newFakeEVM().
		handle("fixtureAmount(uint256 index)", func(c *callCtx) *vm.Result {
			vals, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("uint256")}}, c.frame.Input[4:])
			if err != nil || vals[0].(*big.Int).Sign() != 0 {
				return revertWith("out of range")
			}
			word := types.BytesToHash(lucky.Bytes())
			return &vm.Result{Kind: vm.KindSuccess, Output: word[:], GasUsed: 21000}
		}).
		handle("testFuzzAmount(uint256 amount)", func(c *callCtx) *vm.Result {
			vals, err := abi.DecodeArgs([]abi.Parameter{{Type: abi.MustType("uint256")}}, c.frame.Input[4:])
			if err != nil {
				return revertWith("bad input")
			}
			select {
			case seen <- vals[0].(*big.Int):
			default:
			}
			return success()
		})
	cfg := config.DefaultRunnerConfig()
	cfg.Fuzz.Runs = 64
	cfg.Fuzz.DictionaryWeight = 100
	r := newTestRunner(t, cfg, evm)
	artifact := artifactFor("FuzzDict", []byte{0x61, 0x05},
		mustFn("fixtureAmount(uint256 index)"), mustFn("testFuzzAmount(uint256 amount)"))

	suite, err := r.RunSuite(context.Background(), artifact)
	require.NoError(t, err)
	require.Equal(t, StatusPass, resultByName(t, suite, "testFuzzAmount").Status)

	close(seen)
	total := 0
	fromFixture := 0
	for v := range seen {
		total++
		if v.Cmp(lucky) == 0 {
			fromFixture++
		}
	}
	require.Equal(t, 64, total)
	// Weight 100 means every input with a pool comes from the fixture.
	require.Equal(t, total, fromFixture)
}
