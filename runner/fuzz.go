package runner

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/cheats"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// generator produces fuzz inputs. Generation is fully determined by the seed
// so campaigns replay identically.
type generator struct {
	rnd        *rand.Rand
	fixtures   map[string][]types.Hash
	dictWeight int
}

// fuzzSeed derives the campaign seed: the configured seed, or the function
// signature hashed when none is set.
func fuzzSeed(configured int64, signature string) int64 {
	if configured != 0 {
		return configured
	}
	h := crypto.Keccak256([]byte(signature))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

func newGenerator(seed int64, fixtures map[string][]types.Hash, dictWeight int) *generator {
	return &generator{
		rnd:        rand.New(rand.NewSource(seed)),
		fixtures:   fixtures,
		dictWeight: dictWeight,
	}
}

// value generates one argument for the parameter, drawing from the fixture
// pool with the configured dictionary weight when a pool exists.
func (g *generator) value(p abi.Parameter) (interface{}, error) {
	if pool := g.fixtures[strings.ToLower(p.Name)]; len(pool) > 0 && g.rnd.Intn(100) < g.dictWeight {
		word := pool[g.rnd.Intn(len(pool))]
		if v, ok := wordToValue(p.Type, word); ok {
			return v, nil
		}
	}
	switch p.Type.Kind {
	case abi.KindUint:
		return g.uintValue(p.Type.Bits), nil
	case abi.KindInt:
		return g.intValue(p.Type.Bits), nil
	case abi.KindAddress:
		var a types.Address
		g.rnd.Read(a[:])
		return a, nil
	case abi.KindBool:
		return g.rnd.Intn(2) == 1, nil
	case abi.KindFixedBytes:
		b := make([]byte, p.Type.Size)
		g.rnd.Read(b)
		return b, nil
	case abi.KindBytes:
		b := make([]byte, g.rnd.Intn(101))
		g.rnd.Read(b)
		return b, nil
	case abi.KindString:
		return g.stringValue(), nil
	default:
		return nil, fmt.Errorf("cannot generate %s", p.Type)
	}
}

// uintValue biases towards boundary values before sampling uniformly over
// the type's width.
func (g *generator) uintValue(bits int) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	max.Sub(max, big.NewInt(1))
	switch g.rnd.Intn(8) {
	case 0:
		return big.NewInt(0)
	case 1:
		return big.NewInt(1)
	case 2:
		return new(big.Int).Set(max)
	case 3:
		return new(big.Int).Sub(max, big.NewInt(1))
	default:
		b := make([]byte, bits/8)
		g.rnd.Read(b)
		return new(big.Int).SetBytes(b)
	}
}

func (g *generator) intValue(bits int) *big.Int {
	magnitude := g.uintValue(bits - 1)
	if g.rnd.Intn(2) == 1 {
		return magnitude.Neg(magnitude)
	}
	return magnitude
}

func (g *generator) stringValue() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 _-"
	n := g.rnd.Intn(65)
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[g.rnd.Intn(len(alphabet))]
	}
	return string(b)
}

// wordToValue converts a raw fixture word into the parameter's Go value.
// Dynamic types cannot be represented by a single word.
func wordToValue(t abi.Type, word types.Hash) (interface{}, bool) {
	switch t.Kind {
	case abi.KindUint:
		v := new(big.Int).SetBytes(word[:])
		if v.BitLen() > t.Bits {
			return nil, false
		}
		return v, true
	case abi.KindInt:
		return new(big.Int).SetBytes(word[:]), true
	case abi.KindAddress:
		return types.BytesToAddress(word[12:]), true
	case abi.KindBool:
		return word[31] != 0, true
	case abi.KindFixedBytes:
		return append([]byte(nil), word[:t.Size]...), true
	default:
		return nil, false
	}
}

// runFuzz executes a seeded fuzz campaign for one parameterised test.
func (r *Runner) runFuzz(ctx context.Context, s *session, setup *TestSetup, plan testPlan, result *TestResult) {
	cfg := r.cfg.Fuzz
	gen := newGenerator(fuzzSeed(cfg.Seed, plan.function.Signature()), setup.Fixtures, cfg.DictionaryWeight)

	stats := &FuzzStats{}
	result.Fuzz = stats

	var gasSamples []uint64
	deadline := time.Time{}
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	for stats.Runs < cfg.Runs {
		if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
			break
		}

		values := make([]interface{}, len(plan.function.Inputs))
		for i, in := range plan.function.Inputs {
			v, err := gen.value(in)
			if err != nil {
				result.Status = StatusFail
				result.Reason = err.Error()
				return
			}
			values[i] = v
		}
		calldata, err := abi.EncodeCall(plan.function, values...)
		if err != nil {
			result.Status = StatusFail
			result.Reason = err.Error()
			return
		}

		// Each run gets its own clone so env mutations cannot leak between
		// inputs.
		run := r.runSession(ctx, s)
		raw, err := run.exec.Call(vm.TxEnv{
			From:     r.cfg.Sender,
			To:       &setup.Address,
			Data:     calldata,
			Value:    uint256.NewInt(0),
			GasLimit: r.cfg.GasLimit,
		})
		if err != nil {
			result.Status = StatusFail
			result.Reason = err.Error()
			return
		}

		if raw.Reverted && cheats.IsAssumeRejection(raw.Output) {
			stats.Rejects++
			if stats.Rejects > cfg.MaxRejects {
				result.Status = StatusFail
				result.Reason = fmt.Sprintf("rejected too many fuzz inputs (%d)", stats.Rejects)
				return
			}
			continue
		}
		stats.Runs++

		ok := run.exec.Success(raw)
		reason := ""
		if !ok {
			reason = failureReason(raw)
		}
		if expectErr := run.cheat.VerifyExpectations(); ok && expectErr != nil {
			ok = false
			reason = expectErr.Error()
		}
		if plan.inverted {
			ok = !ok
			if !ok {
				reason = "test did not fail as expected"
			}
		}

		if !ok {
			r.fillResult(result, raw)
			result.Status = StatusFail
			result.Reason = reason
			result.CounterExample = &CounterExample{
				BytecodeHash: types.Hash{},
				Calls: []CounterExampleCall{{
					Sender:    r.cfg.Sender,
					Target:    setup.Address,
					Signature: plan.function.Signature(),
					Calldata:  calldata,
					Display:   abi.FormatCall(plan.function, values),
				}},
			}
			summariseGas(stats, gasSamples)
			return
		}
		gasSamples = append(gasSamples, raw.GasUsed)
		result.GasUsed = raw.GasUsed
	}

	summariseGas(stats, gasSamples)
	result.Status = StatusPass
}

// runSession clones the post-setup session for one fuzz/invariant run.
func (r *Runner) runSession(ctx context.Context, s *session) *session {
	exec := s.exec.Clone()
	var forks *cheats.ForkManager
	if len(r.cfg.RPCEndpoints) > 0 || r.cfg.ForkURL != "" {
		endpoints := r.cfg.RPCEndpoints
		if endpoints == nil {
			endpoints = map[string]string{}
		}
		forks = cheats.NewForkManager(exec, endpoints, r.cfg.RPCCachePath, r.logger)
	}
	cheat := cheats.New(exec, forks, r.logger)
	cheat.WithContext(ctx)
	exec.SetInspector(cheat)
	return &session{exec: exec, cheat: cheat}
}

// summariseGas fills the mean/median gas statistics over successful runs.
func summariseGas(stats *FuzzStats, samples []uint64) {
	if len(samples) == 0 {
		return
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	var total uint64
	for _, g := range samples {
		total += g
	}
	stats.MeanGas = total / uint64(len(samples))
	stats.MedianGas = samples[len(samples)/2]
}
