package executor

import (
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// CallTrace is one call site observed during execution, in entry order.
type CallTrace struct {
	Depth    int
	Caller   types.Address
	Callee   types.Address
	Input    []byte
	Output   []byte
	Value    *uint256.Int
	GasUsed  uint64
	IsCreate bool
	Reverted bool
}

// RawCallResult is the uniform outcome of a call, transact or deploy.
type RawCallResult struct {
	// ExitReason is the normalised outcome label: "success", "revert" or a
	// halt reason.
	ExitReason string
	Reverted   bool
	Output     []byte
	GasUsed    uint64

	Logs        []*types.Log
	ConsoleLogs [][]byte
	Traces      []CallTrace
	Labels      map[types.Address]string

	// Changeset is the account diff the call produced. Call() reverts the
	// diff after capturing it; Transact() leaves it applied.
	Changeset map[types.Address]*types.AccountOverride

	// FailSlotSet reports that the cheat-code contract's global failure
	// slot was non-zero after the call, either read back directly or
	// flipped by the changeset.
	FailSlotSet bool

	// IndeterminismReasons lists the impure cheat-codes the call touched.
	// Empty means deterministic re-execution yields identical results.
	IndeterminismReasons []string

	CreatedAddress *types.Address
}

func newRawCallResult(result *vm.Result) *RawCallResult {
	r := &RawCallResult{
		Output:         result.Output,
		GasUsed:        result.GasUsed,
		CreatedAddress: result.CreatedAddress,
	}
	switch result.Kind {
	case vm.KindSuccess:
		r.ExitReason = "success"
	case vm.KindRevert:
		r.ExitReason = "revert"
		r.Reverted = true
	case vm.KindHalt:
		r.ExitReason = result.HaltReason
		r.Reverted = true
	}
	return r
}
