package vm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/state"
)

var (
	sender    = types.HexToAddress("0x0000000000000000000000000000000000000051")
	recipient = types.HexToAddress("0x0000000000000000000000000000000000000041")
	coinbase  = types.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func transferEnv(nonce uint64, value uint64) *Env {
	n := nonce
	return &Env{
		ChainID:  core.DevChainID,
		Hardfork: core.Cancun,
		Block: BlockEnv{
			Number:      1,
			Timestamp:   1000,
			Beneficiary: coinbase,
			GasLimit:    30_000_000,
			BaseFee:     uint256.NewInt(100),
		},
		Tx: TxEnv{
			From:     sender,
			To:       &recipient,
			Value:    uint256.NewInt(value),
			GasLimit: 50_000,
			GasPrice: uint256.NewInt(0),
			Nonce:    &n,
		},
	}
}

func fundedState(balance int64) *state.StateDB {
	db := state.New(nil)
	db.SetBalance(sender, big.NewInt(balance))
	return db
}

func TestTransfer(t *testing.T) {
	db := fundedState(1_000_000)
	interp := NewNativeInterpreter()

	result, err := interp.Inspect(transferEnv(0, 500), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v", result)
	}
	if result.GasUsed != 21000 {
		t.Errorf("gas used = %d, want 21000", result.GasUsed)
	}

	if balance, _ := db.Balance(recipient); balance.Int64() != 500 {
		t.Errorf("recipient balance = %v", balance)
	}
	if balance, _ := db.Balance(sender); balance.Int64() != 999_500 {
		t.Errorf("sender balance = %v", balance)
	}
	if nonce, _ := db.Nonce(sender); nonce != 1 {
		t.Errorf("sender nonce = %d", nonce)
	}
}

func TestNonceMismatch(t *testing.T) {
	db := fundedState(1_000_000)
	interp := NewNativeInterpreter()

	result, err := interp.Inspect(transferEnv(5, 1), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != KindHalt || result.HaltReason != HaltNonceMismatch {
		t.Fatalf("result = %+v", result)
	}
	if balance, _ := db.Balance(recipient); balance.Sign() != 0 {
		t.Error("halted transaction moved value")
	}
}

func TestInsufficientFunds(t *testing.T) {
	db := fundedState(100)
	interp := NewNativeInterpreter()

	result, err := interp.Inspect(transferEnv(0, 500), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != KindHalt || result.HaltReason != HaltInsufficientFunds {
		t.Fatalf("result = %+v", result)
	}
}

func TestIntrinsicGasLimit(t *testing.T) {
	db := fundedState(1_000_000)
	interp := NewNativeInterpreter()

	env := transferEnv(0, 0)
	env.Tx.GasLimit = 100
	result, err := interp.Inspect(env, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != KindHalt || result.HaltReason != HaltOutOfGas {
		t.Fatalf("result = %+v", result)
	}
}

func TestCreate(t *testing.T) {
	db := fundedState(1_000_000)
	interp := NewNativeInterpreter()

	code := []byte{0x60, 0x80, 0x60, 0x40}
	env := transferEnv(0, 0)
	env.Tx.To = nil
	env.Tx.Data = code
	env.Tx.GasLimit = 100_000

	result, err := interp.Inspect(env, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v", result)
	}
	if result.CreatedAddress == nil {
		t.Fatal("no created address")
	}
	want := crypto.CreateAddress(sender, 0)
	if *result.CreatedAddress != want {
		t.Errorf("created = %v, want %v", result.CreatedAddress, want)
	}

	stored, _ := db.Code(*result.CreatedAddress)
	if string(stored) != string(code) {
		t.Errorf("stored code = %x", stored)
	}
	if nonce, _ := db.Nonce(*result.CreatedAddress); nonce != 1 {
		t.Errorf("created account nonce = %d", nonce)
	}
}

func TestCreateCollision(t *testing.T) {
	db := fundedState(1_000_000)
	target := crypto.CreateAddress(sender, 0)
	db.SetCode(target, []byte{0x01})

	env := transferEnv(0, 0)
	env.Tx.To = nil
	env.Tx.Data = []byte{0x02}
	env.Tx.GasLimit = 100_000

	result, err := NewNativeInterpreter().Inspect(env, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != KindHalt || result.HaltReason != HaltCreateCollision {
		t.Fatalf("result = %+v", result)
	}
}

func TestGasSettlement(t *testing.T) {
	db := fundedState(100_000_000)
	interp := NewNativeInterpreter()

	env := transferEnv(0, 0)
	env.Tx.GasPrice = uint256.NewInt(150) // base fee is 100, tip is 50

	result, err := interp.Inspect(env, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v", result)
	}

	wantCost := int64(21000 * 150)
	if balance, _ := db.Balance(sender); balance.Int64() != 100_000_000-wantCost {
		t.Errorf("sender balance = %v", balance)
	}
	if balance, _ := db.Balance(coinbase); balance.Int64() != 21000*50 {
		t.Errorf("coinbase tip = %v", balance)
	}
}

// interceptInspector answers every call itself.
type interceptInspector struct {
	output   []byte
	reverted bool
	exits    int
}

func (i *interceptInspector) EnterCall(*CallFrame) (*InterceptResult, error) {
	return &InterceptResult{Output: i.output, Reverted: i.reverted, GasUsed: 100}, nil
}
func (i *interceptInspector) ExitCall(*CallFrame, *Result) { i.exits++ }
func (i *interceptInspector) EmitLog(*types.Log)           {}

func TestInspectorIntercept(t *testing.T) {
	db := fundedState(1_000_000)
	inspector := &interceptInspector{output: []byte{0xca, 0xfe}}

	result, err := NewNativeInterpreter().Inspect(transferEnv(0, 0), db, inspector)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v", result)
	}
	if string(result.Output) != string([]byte{0xca, 0xfe}) {
		t.Errorf("output = %x", result.Output)
	}
	if result.GasUsed != 21100 {
		t.Errorf("gas used = %d", result.GasUsed)
	}
	if inspector.exits != 1 {
		t.Errorf("exit hook fired %d times", inspector.exits)
	}
	// Intercepted transfer does not move value.
	if balance, _ := db.Balance(recipient); balance.Sign() != 0 {
		t.Error("intercepted call moved value")
	}
}

func TestInspectorInterceptRevert(t *testing.T) {
	db := fundedState(1_000_000)
	inspector := &interceptInspector{output: []byte("boom"), reverted: true}

	result, err := NewNativeInterpreter().Inspect(transferEnv(0, 0), db, inspector)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Reverted() {
		t.Fatalf("result = %+v", result)
	}
	if string(result.Output) != "boom" {
		t.Errorf("output = %q", result.Output)
	}
	// Reverted transactions still bump the nonce.
	if nonce, _ := db.Nonce(sender); nonce != 1 {
		t.Errorf("nonce = %d", nonce)
	}
}

func TestInspectorStackOrder(t *testing.T) {
	first := &interceptInspector{output: []byte{0x01}}
	stack := NewInspectorStack(NoopInspector{}, first, &interceptInspector{output: []byte{0x02}})

	intercept, err := stack.EnterCall(&CallFrame{})
	if err != nil {
		t.Fatal(err)
	}
	if intercept == nil || intercept.Output[0] != 0x01 {
		t.Fatalf("intercept = %+v", intercept)
	}
}
