package runner

import (
	"context"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// invariantTargets selects the contract functions the sequence generator may
// call: state-mutating functions that are not part of the test harness
// surface.
func invariantTargets(contract *abi.Contract) []*abi.Function {
	var targets []*abi.Function
	for i := range contract.Functions {
		fn := &contract.Functions[i]
		switch {
		case fn.Name == "setUp" || fn.Name == "afterInvariant" || fn.Name == "failed":
			continue
		case strings.HasPrefix(fn.Name, "test") ||
			strings.HasPrefix(fn.Name, "invariant") ||
			strings.HasPrefix(fn.Name, "fixture"):
			continue
		case fn.StateMutability == "view" || fn.StateMutability == "pure":
			continue
		}
		targets = append(targets, fn)
	}
	return targets
}

// replayOutcome is the result of applying one call sequence.
type replayOutcome struct {
	failed   bool
	reason   string
	reverts  int
	calls    int
	lastRaw  *executor.RawCallResult
	failedAt int
}

// replaySequence applies the calls on a fresh clone of the template session,
// checking the invariant after each one.
func (r *Runner) replaySequence(ctx context.Context, template *session, setup *TestSetup, invariantFn, afterFn *abi.Function, calls []CounterExampleCall, failOnRevert bool) replayOutcome {
	s := r.runSession(ctx, template)
	out := replayOutcome{failedAt: -1}

	for i, call := range calls {
		target := call.Target
		if target == (types.Address{}) {
			target = setup.Address
		}
		raw, err := s.exec.Transact(vm.TxEnv{
			From:     call.Sender,
			To:       &target,
			Data:     call.Calldata,
			Value:    uint256.NewInt(0),
			GasLimit: r.cfg.GasLimit,
			GasPrice: uint256.NewInt(0),
		})
		if err != nil {
			out.failed = true
			out.reason = err.Error()
			out.failedAt = i
			return out
		}
		out.calls++
		out.lastRaw = raw
		if raw.Reverted {
			out.reverts++
			if failOnRevert {
				out.failed = true
				out.reason = call.Display + " reverted: " + abi.DecodeRevertReason(raw.Output)
				out.failedAt = i
				return out
			}
		}
		if checkRaw, ok, reason := r.checkInvariant(s, setup, invariantFn); !ok {
			out.failed = true
			out.reason = reason
			out.failedAt = i
			out.lastRaw = checkRaw
			return out
		}
	}

	if afterFn != nil {
		sel := afterFn.Selector()
		if _, err := s.exec.Transact(vm.TxEnv{
			From:     r.cfg.Sender,
			To:       &setup.Address,
			Data:     sel[:],
			Value:    uint256.NewInt(0),
			GasLimit: r.cfg.GasLimit,
			GasPrice: uint256.NewInt(0),
		}); err != nil {
			out.failed = true
			out.reason = err.Error()
			return out
		}
		if checkRaw, ok, reason := r.checkInvariant(s, setup, invariantFn); !ok {
			out.failed = true
			out.reason = reason
			out.lastRaw = checkRaw
			return out
		}
	}
	return out
}

// checkInvariant calls the invariant function once, discarding state.
func (r *Runner) checkInvariant(s *session, setup *TestSetup, invariantFn *abi.Function) (*executor.RawCallResult, bool, string) {
	sel := invariantFn.Selector()
	raw, err := s.exec.Call(vm.TxEnv{
		From:     r.cfg.Sender,
		To:       &setup.Address,
		Data:     sel[:],
		Value:    uint256.NewInt(0),
		GasLimit: r.cfg.GasLimit,
	})
	if err != nil {
		return nil, false, err.Error()
	}
	if !s.exec.Success(raw) {
		return raw, false, invariantFn.Name + " violated: " + failureReason(raw)
	}
	return raw, true, ""
}

// runInvariant executes an invariant campaign: persisted counter-example
// replay first, then seeded sequence generation with shrinking on failure.
func (r *Runner) runInvariant(ctx context.Context, artifact *Artifact, s *session, setup *TestSetup, plan testPlan, afterFn *abi.Function, result *TestResult) {
	cfg := r.cfg.Invariant
	stats := &InvariantStats{}
	result.Invariant = stats
	hash := bytecodeHash(artifact)

	if ce := r.loadCounterExample(artifact.Name, plan.function.Name); ce != nil {
		if ce.BytecodeHash != hash {
			r.logger.Warn("discarding persisted counter-example for changed bytecode",
				"contract", artifact.Name, "test", plan.function.Name)
			r.removeCounterExample(artifact.Name, plan.function.Name)
		} else {
			out := r.replaySequence(ctx, s, setup, plan.function, afterFn, ce.Calls, cfg.FailOnRevert)
			stats.Runs = 1
			stats.Calls = out.calls
			stats.Reverts = out.reverts
			if out.failed {
				result.Status = StatusFail
				result.Reason = out.reason
				result.CounterExample = ce
				if out.lastRaw != nil {
					r.fillResult(result, out.lastRaw)
				}
				return
			}
			// The persisted failure no longer reproduces; fall through to
			// fresh runs.
			r.removeCounterExample(artifact.Name, plan.function.Name)
		}
	}

	targets := invariantTargets(artifact.ABI)
	gen := newGenerator(fuzzSeed(r.cfg.Fuzz.Seed, plan.function.Signature()), setup.Fixtures, r.cfg.Fuzz.DictionaryWeight)
	senders := make([]types.Address, 4)
	senders[0] = r.cfg.Sender
	for i := 1; i < len(senders); i++ {
		gen.rnd.Read(senders[i][:])
	}

	deadline := time.Time{}
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	var lastSequence []CounterExampleCall
	for run := 0; run < cfg.Runs; run++ {
		if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
			break
		}
		stats.Runs++

		runS := r.runSession(ctx, s)
		if raw, ok, reason := r.checkInvariant(runS, setup, plan.function); !ok {
			result.Status = StatusFail
			result.Reason = reason
			if raw != nil {
				r.fillResult(result, raw)
			}
			return
		}

		var sequence []CounterExampleCall
		depth := cfg.Depth
		if len(targets) == 0 {
			depth = 0
		}
		for step := 0; step < depth; step++ {
			fn := targets[gen.rnd.Intn(len(targets))]
			values := make([]interface{}, len(fn.Inputs))
			bad := false
			for i, in := range fn.Inputs {
				v, err := gen.value(in)
				if err != nil {
					bad = true
					break
				}
				values[i] = v
			}
			if bad {
				continue
			}
			calldata, err := abi.EncodeCall(fn, values...)
			if err != nil {
				continue
			}
			call := CounterExampleCall{
				Sender:    senders[gen.rnd.Intn(len(senders))],
				Target:    setup.Address,
				Signature: fn.Signature(),
				Calldata:  calldata,
				Display:   abi.FormatCall(fn, values),
			}

			raw, err := runS.exec.Transact(vm.TxEnv{
				From:     call.Sender,
				To:       &call.Target,
				Data:     call.Calldata,
				Value:    uint256.NewInt(0),
				GasLimit: r.cfg.GasLimit,
				GasPrice: uint256.NewInt(0),
			})
			if err != nil {
				result.Status = StatusFail
				result.Reason = err.Error()
				return
			}
			stats.Calls++
			sequence = append(sequence, call)

			if raw.Reverted {
				stats.Reverts++
				if cfg.FailOnRevert {
					r.failInvariant(ctx, artifact, s, setup, plan, afterFn, sequence, hash,
						call.Display+" reverted: "+abi.DecodeRevertReason(raw.Output), raw, result)
					return
				}
				continue
			}

			if checkRaw, ok, reason := r.checkInvariant(runS, setup, plan.function); !ok {
				r.failInvariant(ctx, artifact, s, setup, plan, afterFn, sequence, hash, reason, checkRaw, result)
				return
			}
		}

		if afterFn != nil {
			sel := afterFn.Selector()
			if _, err := runS.exec.Transact(vm.TxEnv{
				From:     r.cfg.Sender,
				To:       &setup.Address,
				Data:     sel[:],
				Value:    uint256.NewInt(0),
				GasLimit: r.cfg.GasLimit,
				GasPrice: uint256.NewInt(0),
			}); err != nil {
				result.Status = StatusFail
				result.Reason = err.Error()
				return
			}
			if checkRaw, ok, reason := r.checkInvariant(runS, setup, plan.function); !ok {
				r.failInvariant(ctx, artifact, s, setup, plan, afterFn, sequence, hash, reason, checkRaw, result)
				return
			}
		}
		lastSequence = sequence
	}

	// Runs exhausted: replay the last sequence once so the passing result
	// still carries logs and traces.
	if len(lastSequence) > 0 {
		out := r.replaySequence(ctx, s, setup, plan.function, afterFn, lastSequence, cfg.FailOnRevert)
		if out.lastRaw != nil {
			result.Logs = out.lastRaw.Logs
			result.Traces = out.lastRaw.Traces
			result.Labels = out.lastRaw.Labels
		}
	}
	result.Status = StatusPass
}

// failInvariant shrinks the failing sequence, persists the counter-example
// and fills the failure result.
func (r *Runner) failInvariant(ctx context.Context, artifact *Artifact, template *session, setup *TestSetup, plan testPlan, afterFn *abi.Function, sequence []CounterExampleCall, hash types.Hash, reason string, raw *executor.RawCallResult, result *TestResult) {
	shrunk := r.shrinkSequence(ctx, template, setup, plan.function, afterFn, sequence)

	ce := &CounterExample{BytecodeHash: hash, Calls: shrunk}
	result.Status = StatusFail
	result.Reason = reason
	result.CounterExample = ce
	if raw != nil {
		r.fillResult(result, raw)
	}

	if err := r.saveCounterExample(artifact.Name, plan.function.Name, ce); err != nil {
		r.logger.Warn("persisting counter-example failed",
			"contract", artifact.Name, "test", plan.function.Name, "err", err)
	}
}

// shrinkSequence greedily removes calls while the reduced sequence still
// violates the invariant, bounded by the shrink limit.
func (r *Runner) shrinkSequence(ctx context.Context, template *session, setup *TestSetup, invariantFn, afterFn *abi.Function, sequence []CounterExampleCall) []CounterExampleCall {
	limit := r.cfg.Invariant.ShrinkLimit
	if limit <= 0 {
		return sequence
	}
	attempts := 0
	for attempts < limit {
		improved := false
		for i := 0; i < len(sequence) && attempts < limit; i++ {
			candidate := make([]CounterExampleCall, 0, len(sequence)-1)
			candidate = append(candidate, sequence[:i]...)
			candidate = append(candidate, sequence[i+1:]...)
			attempts++
			out := r.replaySequence(ctx, template, setup, invariantFn, afterFn, candidate, r.cfg.Invariant.FailOnRevert)
			if out.failed {
				sequence = candidate
				improved = true
				break
			}
		}
		if !improved {
			break
		}
	}
	return sequence
}
