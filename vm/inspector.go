package vm

import (
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// CallFrame describes one EVM call about to execute. Inspectors may mutate
// Caller, Origin and Value before execution proceeds (impersonation).
type CallFrame struct {
	Depth    int
	Caller   types.Address
	Origin   types.Address
	Callee   types.Address
	Input    []byte
	Value    *uint256.Int
	Gas      uint64
	IsCreate bool
	// IsStatic marks read-only call contexts.
	IsStatic bool
}

// InterceptResult is returned by an inspector that handled the call itself
// (cheat-code dispatch); the interpreter skips real execution and uses it
// verbatim.
type InterceptResult struct {
	Output   []byte
	Reverted bool
	GasUsed  uint64
}

// Inspector observes and intercepts call sites. The zero-value NoopInspector
// implements it with no-ops.
type Inspector interface {
	// EnterCall fires before a call executes. A non-nil InterceptResult
	// short-circuits execution.
	EnterCall(frame *CallFrame) (*InterceptResult, error)
	// ExitCall fires after a call completes, with the frame it entered.
	ExitCall(frame *CallFrame, result *Result)
	// EmitLog fires for every log emitted during execution.
	EmitLog(log *types.Log)
}

// NoopInspector ignores everything.
type NoopInspector struct{}

func (NoopInspector) EnterCall(*CallFrame) (*InterceptResult, error) { return nil, nil }
func (NoopInspector) ExitCall(*CallFrame, *Result)                   {}
func (NoopInspector) EmitLog(*types.Log)                             {}

// InspectorStack fans out to a fixed list of inspectors. EnterCall returns
// the first interception; EmitLog and ExitCall reach every member.
type InspectorStack struct {
	inspectors []Inspector
}

// NewInspectorStack composes inspectors in order.
func NewInspectorStack(inspectors ...Inspector) *InspectorStack {
	return &InspectorStack{inspectors: inspectors}
}

func (s *InspectorStack) EnterCall(frame *CallFrame) (*InterceptResult, error) {
	for _, in := range s.inspectors {
		intercept, err := in.EnterCall(frame)
		if err != nil {
			return nil, err
		}
		if intercept != nil {
			return intercept, nil
		}
	}
	return nil, nil
}

func (s *InspectorStack) ExitCall(frame *CallFrame, result *Result) {
	for _, in := range s.inspectors {
		in.ExitCall(frame, result)
	}
}

func (s *InspectorStack) EmitLog(log *types.Log) {
	for _, in := range s.inspectors {
		in.EmitLog(log)
	}
}
