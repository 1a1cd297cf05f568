// Package runner executes Solidity test contracts: it discovers test
// functions on the contract ABI, deploys the contract and its libraries,
// runs setUp, and drives unit, fuzz and invariant tests on cloned executors
// in parallel. Failure reporting includes counter-examples, decoded stack
// traces for deterministic failures and persisted invariant counter-examples
// keyed by the contract's bytecode hash.
package runner

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/cheats"
	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/remote"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// Runner executes test contracts against a template executor. Each test
// function runs on its own clone.
type Runner struct {
	cfg      *config.RunnerConfig
	template *executor.Executor
	decoder  TraceDecoder
	logger   *log.Logger
	filter   *regexp.Regexp
}

// New creates a runner. The template executor carries the chain config,
// block environment and baseline state every test starts from.
func New(cfg *config.RunnerConfig, template *executor.Executor, logger *log.Logger) (*Runner, error) {
	if logger == nil {
		logger = log.Discard()
	}
	r := &Runner{
		cfg:      cfg,
		template: template,
		logger:   logger.Module("runner"),
	}
	if cfg.Filter != "" {
		re, err := regexp.Compile(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("runner: bad filter %q: %w", cfg.Filter, err)
		}
		r.filter = re
	}
	return r, nil
}

// SetTraceDecoder injects the stack-trace decoder used for deterministic
// failures. Without one, failing tests carry raw traces only.
func (r *Runner) SetTraceDecoder(d TraceDecoder) { r.decoder = d }

// NewExecutor assembles a local test executor from the runner configuration.
func NewExecutor(cfg *config.RunnerConfig, interp vm.Interpreter, db *state.StateDB, logger *log.Logger) *executor.Executor {
	blockEnv := vm.BlockEnv{
		Number:      cfg.BlockNumber,
		Timestamp:   cfg.Timestamp,
		Beneficiary: cfg.Coinbase,
		GasLimit:    cfg.GasLimit,
	}
	blockEnv.BaseFee, _ = uint256.FromBig(cfg.BaseFee)
	blockEnv.Difficulty, _ = uint256.FromBig(cfg.Difficulty)
	if cfg.BlobExcessGas != nil {
		excess := *cfg.BlobExcessGas
		blockEnv.ExcessBlobGas = &excess
		params := core.BlobParamsForHardfork(cfg.Hardfork, cfg.Timestamp, nil)
		blockEnv.BlobBaseFee, _ = uint256.FromBig(core.CalcBlobFee(excess, params))
	}
	chainConfig := &core.ChainConfig{ChainID: cfg.ChainID, Hardfork: cfg.Hardfork}
	exec := executor.New(chainConfig, interp, db, blockEnv, logger)
	for addr, name := range cfg.Labels {
		exec.Label(addr, name)
	}
	return exec
}

// NewForkedExecutor assembles a test executor whose baseline state is read
// from the configured fork endpoint at the pinned (or latest) block.
func NewForkedExecutor(ctx context.Context, cfg *config.RunnerConfig, interp vm.Interpreter, logger *log.Logger) (*executor.Executor, error) {
	client, err := remote.Dial(ctx, cfg.ForkURL, cfg.RPCCachePath, logger)
	if err != nil {
		return nil, err
	}
	blockNumber := uint64(0)
	if cfg.ForkBlockNumber != nil {
		blockNumber = *cfg.ForkBlockNumber
	} else {
		blockNumber, err = client.LatestBlockNumber(ctx)
		if err != nil {
			return nil, err
		}
	}
	reader := state.NewForkedReader(ctx, client, blockNumber)
	db := state.New(reader)

	forked := *cfg
	forked.BlockNumber = blockNumber + 1
	return NewExecutor(&forked, interp, db, logger), nil
}

// testPlan is one discovered test function.
type testPlan struct {
	function *abi.Function
	kind     TestKind
	// inverted flips the success predicate (testFail… convention).
	inverted bool
}

// discover classifies the contract's ABI into test plans and resolves the
// setUp and afterInvariant singletons.
func (r *Runner) discover(contract *abi.Contract) ([]testPlan, *abi.Function, *abi.Function, error) {
	setUps := contract.FunctionsNamed("setUp")
	if len(setUps) > 1 {
		return nil, nil, nil, fmt.Errorf("multiple setUp() functions")
	}
	afters := contract.FunctionsNamed("afterInvariant")
	if len(afters) > 1 {
		return nil, nil, nil, fmt.Errorf("multiple afterInvariant() functions")
	}

	var setUp, after *abi.Function
	if len(setUps) == 1 {
		setUp = setUps[0]
	}
	if len(afters) == 1 {
		after = afters[0]
	}

	var plans []testPlan
	for i := range contract.Functions {
		fn := &contract.Functions[i]
		var kind TestKind
		switch {
		case strings.HasPrefix(fn.Name, "invariant"):
			kind = InvariantTest
		case strings.HasPrefix(fn.Name, "test"):
			if len(fn.Inputs) > 0 {
				kind = FuzzTest
			} else {
				kind = UnitTest
			}
		default:
			continue
		}
		if r.filter != nil && !r.filter.MatchString(fn.Name) {
			continue
		}
		plans = append(plans, testPlan{
			function: fn,
			kind:     kind,
			inverted: r.cfg.TestFail && strings.HasPrefix(fn.Name, "testFail"),
		})
	}
	return plans, setUp, after, nil
}

// RunSuite runs every test function of the artifact and returns the suite
// result. Functions run in parallel on cloned executors.
func (r *Runner) RunSuite(ctx context.Context, artifact *Artifact) (*SuiteResult, error) {
	start := time.Now()
	suite := &SuiteResult{Contract: artifact.Name}

	plans, setUpFn, afterFn, err := r.discover(artifact.ABI)
	if err != nil {
		suite.Results = []TestResult{{
			Name:   artifact.Name,
			Status: StatusFail,
			Reason: err.Error(),
		}}
		suite.Duration = time.Since(start)
		return suite, nil
	}

	// Probe the setup once; a failing setUp yields one synthetic result and
	// skips every real test.
	probe := r.newSession(ctx)
	setup := r.setup(probe, artifact, setUpFn)
	if setup.Failed() {
		results := []TestResult{{
			Name:      "setUp()",
			Signature: "setUp()",
			Status:    StatusFail,
			Reason:    setup.Reason,
			Logs:      setup.Logs,
			Traces:    setup.Traces,
			Labels:    setup.Labels,
		}}
		for _, plan := range plans {
			results = append(results, TestResult{
				Name:      plan.function.Name,
				Signature: plan.function.Signature(),
				Kind:      plan.kind,
				Status:    StatusSkip,
				Reason:    "setUp failed",
			})
		}
		suite.Results = results
		suite.Duration = time.Since(start)
		return suite, nil
	}

	results := make([]TestResult, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			results[i] = r.runTest(gctx, artifact, plan, setUpFn, afterFn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	suite.Results = results
	suite.Duration = time.Since(start)
	return suite, nil
}

// session is one executor clone with its cheat-code inspector wired in.
type session struct {
	exec  *executor.Executor
	cheat *cheats.Inspector
}

// newSession clones the template and attaches a fresh cheat-code inspector.
func (r *Runner) newSession(ctx context.Context) *session {
	exec := r.template.Clone()
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

// setup deploys libraries and the test contract and runs setUp on the
// session's executor, committing the results.
func (r *Runner) setup(s *session, artifact *Artifact, setUpFn *abi.Function) *TestSetup {
	setup := &TestSetup{Fixtures: map[string][]types.Hash{}}
	db := s.exec.StateDB()

	db.SetBalance(r.cfg.Sender, r.cfg.InitialBalance)
	db.SetBalance(config.DefaultLibraryDeployer, r.cfg.InitialBalance)

	for i, code := range artifact.Libraries {
		raw, err := s.exec.Deploy(config.DefaultLibraryDeployer, code, nil)
		if err != nil {
			setup.Reason = fmt.Sprintf("library %d deployment: %v", i, err)
			return setup
		}
		if raw.Reverted || raw.CreatedAddress == nil {
			setup.Reason = fmt.Sprintf("library %d deployment reverted: %s", i, abi.DecodeRevertReason(raw.Output))
			return setup
		}
		setup.Libraries = append(setup.Libraries, *raw.CreatedAddress)
	}

	raw, err := s.exec.Deploy(r.cfg.Sender, artifact.Bytecode, nil)
	if err != nil {
		setup.Reason = fmt.Sprintf("deployment: %v", err)
		return setup
	}
	if raw.Reverted || raw.CreatedAddress == nil {
		setup.Reason = fmt.Sprintf("deployment reverted: %s", abi.DecodeRevertReason(raw.Output))
		return setup
	}
	setup.Address = *raw.CreatedAddress
	setup.Logs = append(setup.Logs, raw.Logs...)
	setup.Traces = append(setup.Traces, raw.Traces...)

	db.SetBalance(setup.Address, r.cfg.InitialBalance)

	if setUpFn != nil {
		sel := setUpFn.Selector()
		raw, err := s.exec.Transact(vm.TxEnv{
			From:     r.cfg.Sender,
			To:       &setup.Address,
			Data:     sel[:],
			Value:    uint256.NewInt(0),
			GasLimit: r.cfg.GasLimit,
			GasPrice: uint256.NewInt(0),
		})
		if err != nil {
			setup.Reason = fmt.Sprintf("setUp(): %v", err)
			return setup
		}
		setup.Logs = append(setup.Logs, raw.Logs...)
		setup.Traces = append(setup.Traces, raw.Traces...)
		if !s.exec.Success(raw) {
			setup.Reason = "setUp(): " + failureReason(raw)
			return setup
		}
	}

	setup.Labels = s.exec.Labels()
	if r.cfg.Fuzz.DictionaryWeight > 0 {
		r.collectFixtures(s, artifact.ABI, setup)
	}
	return setup
}

// collectFixtures gathers input pools from fixture… functions: a
// parameterless function returns an encoded array, a uint256-indexed getter
// is read until it reverts.
func (r *Runner) collectFixtures(s *session, contract *abi.Contract, setup *TestSetup) {
	for i := range contract.Functions {
		fn := &contract.Functions[i]
		if !strings.HasPrefix(fn.Name, "fixture") || len(fn.Name) == len("fixture") {
			continue
		}
		key := strings.ToLower(fn.Name[len("fixture"):])
		switch {
		case len(fn.Inputs) == 0:
			words := r.readFixtureArray(s, setup.Address, fn)
			if len(words) > 0 {
				setup.Fixtures[key] = words
			}
		case len(fn.Inputs) == 1 && fn.Inputs[0].Type.Kind == abi.KindUint:
			words := r.readFixtureGetter(s, setup.Address, fn)
			if len(words) > 0 {
				setup.Fixtures[key] = words
			}
		}
	}
}

// readFixtureArray calls fn() and decodes the output as an ABI-encoded array
// of static 32-byte elements.
func (r *Runner) readFixtureArray(s *session, target types.Address, fn *abi.Function) []types.Hash {
	sel := fn.Selector()
	raw, err := s.exec.Call(vm.TxEnv{
		From:     r.cfg.Sender,
		To:       &target,
		Data:     sel[:],
		Value:    uint256.NewInt(0),
		GasLimit: r.cfg.GasLimit,
	})
	if err != nil || raw.Reverted {
		return nil
	}
	out := raw.Output
	if len(out) < 64 {
		return nil
	}
	offset := new(uint256.Int).SetBytes(out[:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(out)) {
		return nil
	}
	base := offset.Uint64()
	length := new(uint256.Int).SetBytes(out[base : base+32])
	if !length.IsUint64() {
		return nil
	}
	n := length.Uint64()
	if base+32+32*n > uint64(len(out)) {
		return nil
	}
	words := make([]types.Hash, 0, n)
	for i := uint64(0); i < n; i++ {
		start := base + 32 + 32*i
		words = append(words, types.BytesToHash(out[start:start+32]))
	}
	return words
}

// readFixtureGetter calls fn(index) with increasing indexes until the call
// reverts, collecting one word per element.
func (r *Runner) readFixtureGetter(s *session, target types.Address, fn *abi.Function) []types.Hash {
	const maxFixtureElements = 1024
	var words []types.Hash
	for i := 0; i < maxFixtureElements; i++ {
		data, err := abi.EncodeCall(fn, new(uint256.Int).SetUint64(uint64(i)).ToBig())
		if err != nil {
			return words
		}
		raw, err := s.exec.Call(vm.TxEnv{
			From:     r.cfg.Sender,
			To:       &target,
			Data:     data,
			Value:    uint256.NewInt(0),
			GasLimit: r.cfg.GasLimit,
		})
		if err != nil || raw.Reverted || len(raw.Output) < 32 {
			return words
		}
		words = append(words, types.BytesToHash(raw.Output[:32]))
	}
	return words
}

// runTest prepares a fresh session with setup applied and dispatches by
// test kind.
func (r *Runner) runTest(ctx context.Context, artifact *Artifact, plan testPlan, setUpFn, afterFn *abi.Function) TestResult {
	start := time.Now()
	s := r.newSession(ctx)
	setup := r.setup(s, artifact, setUpFn)

	result := TestResult{
		Name:      plan.function.Name,
		Signature: plan.function.Signature(),
		Kind:      plan.kind,
	}
	if setup.Failed() {
		// The probe passed but this clone did not; treat as a test failure.
		result.Status = StatusFail
		result.Reason = setup.Reason
		result.Duration = time.Since(start)
		return result
	}

	switch plan.kind {
	case UnitTest:
		r.runUnit(s, setup, plan, &result)
	case FuzzTest:
		r.runFuzz(ctx, s, setup, plan, &result)
	case InvariantTest:
		r.runInvariant(ctx, artifact, s, setup, plan, afterFn, &result)
	}

	if result.Failed() {
		r.attachStackTrace(ctx, artifact, plan, setUpFn, &result)
	}
	if r.cfg.Traces == config.TracesNone || (r.cfg.Traces == config.TracesOnFailure && !result.Failed()) {
		result.Traces = nil
	}
	result.Duration = time.Since(start)
	return result
}

// runUnit executes a single parameterless test call.
func (r *Runner) runUnit(s *session, setup *TestSetup, plan testPlan, result *TestResult) {
	sel := plan.function.Selector()
	raw, err := s.exec.Call(vm.TxEnv{
		From:     r.cfg.Sender,
		To:       &setup.Address,
		Data:     sel[:],
		Value:    uint256.NewInt(0),
		GasLimit: r.cfg.GasLimit,
	})
	if err != nil {
		result.Status = StatusFail
		result.Reason = err.Error()
		return
	}
	r.fillResult(result, raw)

	ok := s.exec.Success(raw)
	reason := ""
	if !ok {
		reason = failureReason(raw)
	}
	if expectErr := s.cheat.VerifyExpectations(); ok && expectErr != nil {
		ok = false
		reason = expectErr.Error()
	}

	if plan.inverted {
		if ok {
			result.Status = StatusFail
			result.Reason = "test did not fail as expected"
		} else {
			result.Status = StatusPass
		}
		return
	}
	if ok {
		result.Status = StatusPass
		return
	}
	result.Status = StatusFail
	result.Reason = reason
}

// fillResult copies the observable execution outputs onto the result.
func (r *Runner) fillResult(result *TestResult, raw *executor.RawCallResult) {
	result.GasUsed = raw.GasUsed
	result.Logs = raw.Logs
	result.ConsoleLogs = raw.ConsoleLogs
	result.Traces = raw.Traces
	result.Labels = raw.Labels
	result.IndeterminismReasons = raw.IndeterminismReasons
}

// failureReason renders why a call failed the success predicate.
func failureReason(raw *executor.RawCallResult) string {
	if raw.Reverted {
		return abi.DecodeRevertReason(raw.Output)
	}
	if raw.FailSlotSet {
		return "assertion failed"
	}
	return "snapshot failure"
}

// attachStackTrace re-executes a deterministic failure with the injected
// decoder. Impure failures surface their indeterminism reasons instead.
func (r *Runner) attachStackTrace(ctx context.Context, artifact *Artifact, plan testPlan, setUpFn *abi.Function, result *TestResult) {
	if len(result.IndeterminismReasons) > 0 || r.decoder == nil {
		return
	}
	var calls []CounterExampleCall
	if result.CounterExample != nil {
		calls = result.CounterExample.Calls
	} else {
		sel := plan.function.Selector()
		calls = []CounterExampleCall{{
			Sender:    r.cfg.Sender,
			Signature: plan.function.Signature(),
			Calldata:  sel[:],
		}}
	}

	s := r.newSession(ctx)
	setup := r.setup(s, artifact, setUpFn)
	if setup.Failed() {
		return
	}
	var last *executor.RawCallResult
	for _, call := range calls {
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
			return
		}
		last = raw
	}
	if last == nil {
		return
	}
	frames, err := r.decoder.DecodeStackTrace(last.Traces, last.Logs, last.Labels)
	if err != nil {
		r.logger.Warn("stack trace decoding failed", "test", result.Name, "err", err)
		return
	}
	result.StackTrace = frames
}

// bytecodeHash keys persisted counter-examples to the contract build.
func bytecodeHash(artifact *Artifact) types.Hash {
	return crypto.Keccak256Hash(artifact.Bytecode)
}
