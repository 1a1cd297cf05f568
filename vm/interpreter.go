package vm

import (
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/state"
)

// Interpreter executes a transaction environment against a state database,
// reporting call sites and logs to the inspector. Implementations decide how
// much of the EVM they model; the node treats the interpreter as external.
type Interpreter interface {
	Inspect(env *Env, db *state.StateDB, inspector Inspector) (*Result, error)
}

// Intrinsic gas constants.
const (
	txGas                 = 21000
	txGasContractCreation = 53000
	txDataZeroGas         = 4
	txDataNonZeroGas      = 16
)

// NativeInterpreter is the built-in interpreter: it models account plumbing
// (nonce, balance transfer, code installation, intrinsic gas) without
// executing bytecode. Contract-call semantics beyond the transfer are
// delegated to inspectors, which is sufficient for the cheat-code dispatch
// and harness paths; a full EVM plugs in through the Interpreter interface.
type NativeInterpreter struct{}

// NewNativeInterpreter returns the built-in interpreter.
func NewNativeInterpreter() *NativeInterpreter { return &NativeInterpreter{} }

// Inspect runs one transaction.
func (n *NativeInterpreter) Inspect(env *Env, db *state.StateDB, inspector Inspector) (*Result, error) {
	if inspector == nil {
		inspector = NoopInspector{}
	}

	intrinsic := intrinsicGas(env.Tx.Data, env.Tx.To == nil)
	if env.Tx.GasLimit < intrinsic {
		return &Result{Kind: KindHalt, HaltReason: HaltOutOfGas, GasUsed: env.Tx.GasLimit}, nil
	}

	sender := env.Tx.From
	nonce, err := db.Nonce(sender)
	if err != nil {
		return nil, err
	}
	if env.Tx.Nonce != nil && *env.Tx.Nonce != nonce {
		return &Result{Kind: KindHalt, HaltReason: HaltNonceMismatch}, nil
	}

	value := env.Tx.Value
	if value == nil {
		value = uint256.NewInt(0)
	}
	gasPrice := env.Tx.GasPrice
	if gasPrice == nil {
		gasPrice = uint256.NewInt(0)
	}

	// Upfront affordability: value plus the worst-case gas cost.
	balance, err := db.Balance(sender)
	if err != nil {
		return nil, err
	}
	maxCost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(env.Tx.GasLimit))
	maxCost.Add(maxCost, value)
	if balance.Cmp(maxCost.ToBig()) < 0 {
		return &Result{Kind: KindHalt, HaltReason: HaltInsufficientFunds}, nil
	}

	cp := db.Checkpoint()

	frame := &CallFrame{
		Depth:    0,
		Caller:   sender,
		Origin:   sender,
		Input:    env.Tx.Data,
		Value:    value,
		Gas:      env.Tx.GasLimit,
		IsCreate: env.Tx.To == nil,
	}
	if env.Tx.To != nil {
		frame.Callee = *env.Tx.To
	} else {
		frame.Callee = crypto.CreateAddress(sender, nonce)
	}

	intercept, err := inspector.EnterCall(frame)
	if err != nil {
		db.Revert(cp)
		return nil, err
	}

	var result *Result
	if intercept != nil {
		result = &Result{
			Output:  intercept.Output,
			GasUsed: intrinsic + intercept.GasUsed,
		}
		if intercept.Reverted {
			result.Kind = KindRevert
		}
	} else {
		result, err = n.execute(env, db, frame, nonce, intrinsic)
		if err != nil {
			db.Revert(cp)
			return nil, err
		}
	}

	if result.Kind == KindSuccess {
		// Sender pays for gas; the beneficiary collects the tip.
		db.SetNonce(sender, nonce+1)
		if err := n.settleGas(env, db, result); err != nil {
			db.Revert(cp)
			return nil, err
		}
		db.Commit(cp)
	} else {
		db.Revert(cp)
		// A reverted transaction still consumes gas and bumps the nonce.
		if result.Kind == KindRevert {
			db.SetNonce(sender, nonce+1)
			if err := n.settleGas(env, db, result); err != nil {
				return nil, err
			}
		}
	}

	inspector.ExitCall(frame, result)
	return result, nil
}

// execute performs the value transfer / code installation on an already
// checkpointed state.
func (n *NativeInterpreter) execute(env *Env, db *state.StateDB, frame *CallFrame, nonce, intrinsic uint64) (*Result, error) {
	sender := frame.Caller
	value := frame.Value.ToBig()

	if value.Sign() > 0 {
		if err := db.SubBalance(sender, value); err != nil {
			return &Result{Kind: KindHalt, HaltReason: HaltInsufficientFunds}, nil
		}
		if err := db.AddBalance(frame.Callee, value); err != nil {
			return nil, err
		}
	}

	result := &Result{Kind: KindSuccess, GasUsed: intrinsic}
	if frame.IsCreate {
		existing, err := db.Code(frame.Callee)
		if err != nil {
			return nil, err
		}
		existingNonce, err := db.Nonce(frame.Callee)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 || existingNonce > 0 {
			return &Result{Kind: KindHalt, HaltReason: HaltCreateCollision}, nil
		}
		// Creation preserves any pre-existing balance at the address.
		priorBalance, err := db.Balance(frame.Callee)
		if err != nil {
			return nil, err
		}
		db.CreateAccount(frame.Callee)
		if priorBalance.Sign() > 0 {
			db.SetBalance(frame.Callee, priorBalance)
		}
		db.SetCode(frame.Callee, frame.Input)
		db.SetNonce(frame.Callee, 1)
		created := frame.Callee
		result.CreatedAddress = &created
		result.Output = frame.Input
	}
	return result, nil
}

// settleGas debits the sender's gas cost and credits the beneficiary's tip
// over the base fee.
func (n *NativeInterpreter) settleGas(env *Env, db *state.StateDB, result *Result) error {
	gasPrice := env.Tx.GasPrice
	if gasPrice == nil || gasPrice.IsZero() {
		return nil
	}
	cost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(result.GasUsed))
	if err := db.SubBalance(env.Tx.From, cost.ToBig()); err != nil {
		return err
	}

	tip := new(uint256.Int).Set(gasPrice)
	if env.Block.BaseFee != nil {
		if tip.Cmp(env.Block.BaseFee) <= 0 {
			return nil
		}
		tip.Sub(tip, env.Block.BaseFee)
	}
	tipTotal := tip.Mul(tip, uint256.NewInt(result.GasUsed))
	return db.AddBalance(env.Block.Beneficiary, tipTotal.ToBig())
}

// intrinsicGas computes the gas consumed before any execution happens.
func intrinsicGas(data []byte, isCreate bool) uint64 {
	gas := uint64(txGas)
	if isCreate {
		gas = txGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}
