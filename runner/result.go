package runner

import (
	"strings"
	"time"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
)

// TestKind classifies a discovered test function.
type TestKind int

const (
	// UnitTest is a parameterless test… function.
	UnitTest TestKind = iota
	// FuzzTest is a test… function with parameters.
	FuzzTest
	// InvariantTest is an invariant… function checked against generated call
	// sequences.
	InvariantTest
)

func (k TestKind) String() string {
	switch k {
	case UnitTest:
		return "unit"
	case FuzzTest:
		return "fuzz"
	case InvariantTest:
		return "invariant"
	default:
		return "unknown"
	}
}

// TestStatus is the outcome of one test function.
type TestStatus int

const (
	StatusPass TestStatus = iota
	StatusFail
	StatusSkip
)

func (s TestStatus) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// FuzzStats summarises a fuzz campaign.
type FuzzStats struct {
	Runs    int
	Rejects int
	// MeanGas and MedianGas are taken over successful runs.
	MeanGas   uint64
	MedianGas uint64
}

// InvariantStats summarises an invariant campaign.
type InvariantStats struct {
	Runs    int
	Calls   int
	Reverts int
}

// CounterExampleCall is one call of a failing input or sequence.
type CounterExampleCall struct {
	Sender    types.Address
	Target    types.Address
	Signature string
	Calldata  []byte
	// Display is the decoded rendering, e.g. withdraw(0x…, 1).
	Display string
}

// CounterExample is the minimal failing input (fuzz) or call sequence
// (invariant) for a failed test.
type CounterExample struct {
	// BytecodeHash keys the counter-example to the test contract build it
	// was found against.
	BytecodeHash types.Hash
	Calls        []CounterExampleCall
}

func (ce *CounterExample) String() string {
	parts := make([]string, len(ce.Calls))
	for i, c := range ce.Calls {
		parts[i] = c.Display
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TestResult is the outcome of one test function.
type TestResult struct {
	Name      string
	Signature string
	Kind      TestKind
	Status    TestStatus

	// Reason is the failure reason; empty on pass.
	Reason string

	Duration time.Duration
	GasUsed  uint64

	Logs        []*types.Log
	ConsoleLogs [][]byte
	Traces      []executor.CallTrace
	Labels      map[types.Address]string

	CounterExample *CounterExample

	// StackTrace is the decoded frame list from deterministic re-execution;
	// populated only for failing, deterministic tests when a decoder is
	// configured.
	StackTrace []string

	// IndeterminismReasons lists the impure cheat-codes the failing call
	// touched; non-empty suppresses re-execution.
	IndeterminismReasons []string

	Fuzz      *FuzzStats
	Invariant *InvariantStats
}

// Failed reports whether the test failed.
func (r *TestResult) Failed() bool { return r.Status == StatusFail }

// SuiteResult is the outcome of one test contract.
type SuiteResult struct {
	Contract string
	Duration time.Duration
	Results  []TestResult
}

// Failed reports whether any test in the suite failed.
func (s *SuiteResult) Failed() bool {
	for i := range s.Results {
		if s.Results[i].Failed() {
			return true
		}
	}
	return false
}

// TraceDecoder turns raw call traces into a human-readable stack trace. The
// runner only invokes it for deterministic failures; callers inject an
// implementation that knows the project's contract metadata.
type TraceDecoder interface {
	DecodeStackTrace(traces []executor.CallTrace, logs []*types.Log, labels map[types.Address]string) ([]string, error)
}

// TestSetup is the prepared environment for one test function: libraries and
// the test contract deployed, setUp executed, fixtures collected.
type TestSetup struct {
	Address   types.Address
	Libraries []types.Address

	Logs   []*types.Log
	Traces []executor.CallTrace
	Labels map[types.Address]string

	// Fixtures maps a lowercase parameter name to the raw 32-byte words
	// collected from fixture… functions.
	Fixtures map[string][]types.Hash

	// Reason is non-empty when deployment or setUp failed.
	Reason string
}

// Failed reports whether setup failed.
func (s *TestSetup) Failed() bool { return s.Reason != "" }

// Artifact is one compiled test contract handed to the runner.
type Artifact struct {
	Name string
	ABI  *abi.Contract
	// Bytecode is the creation code of the test contract.
	Bytecode []byte
	// Libraries are linked library creation codes, deployed in order before
	// the test contract.
	Libraries [][]byte
}
