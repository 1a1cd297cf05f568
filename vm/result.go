package vm

import (
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// ResultKind classifies an execution outcome.
type ResultKind uint8

const (
	// KindSuccess: execution completed and state changes apply.
	KindSuccess ResultKind = iota
	// KindRevert: execution reverted, returning the revert payload.
	KindRevert
	// KindHalt: execution aborted exceptionally, consuming all gas.
	KindHalt
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRevert:
		return "revert"
	case KindHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Halt reasons.
const (
	HaltOutOfGas          = "out of gas"
	HaltInvalidOpcode     = "invalid opcode"
	HaltNonceMismatch     = "nonce mismatch"
	HaltInsufficientFunds = "insufficient funds"
	HaltGasLimitExceeded  = "gas limit exceeded"
	HaltCreateCollision   = "contract address collision"
	HaltCallDepthExceeded = "call depth exceeded"
)

// Result is the uniform interpreter outcome.
type Result struct {
	Kind        ResultKind
	Output      []byte
	Logs        []*types.Log
	GasUsed     uint64
	GasRefunded uint64
	// HaltReason is set for KindHalt.
	HaltReason string
	// CreatedAddress is set for successful creations.
	CreatedAddress *types.Address
}

// Succeeded reports whether execution completed normally.
func (r *Result) Succeeded() bool { return r.Kind == KindSuccess }

// Reverted reports whether execution reverted.
func (r *Result) Reverted() bool { return r.Kind == KindRevert }
