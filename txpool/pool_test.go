package txpool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

var (
	alice = types.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = types.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// fakeState is a fixed nonce/balance table.
type fakeState struct {
	nonces   map[types.Address]uint64
	balances map[types.Address]*big.Int
}

func newFakeState() *fakeState {
	return &fakeState{
		nonces: map[types.Address]uint64{},
		balances: map[types.Address]*big.Int{
			alice: big.NewInt(1_000_000_000_000),
			bob:   big.NewInt(1_000_000_000_000),
		},
	}
}

func (s *fakeState) Nonce(addr types.Address) (uint64, error) { return s.nonces[addr], nil }
func (s *fakeState) Balance(addr types.Address) (*big.Int, error) {
	if b, ok := s.balances[addr]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func makeTx(from types.Address, nonce uint64, tip int64) *types.Transaction {
	return &types.Transaction{
		Type:      types.DynamicFeeTxType,
		ChainID:   big.NewInt(31337),
		Nonce:     nonce,
		Gas:       21_000,
		To:        &types.Address{0x01},
		Value:     big.NewInt(1),
		GasFeeCap: big.NewInt(1_000_000),
		GasTipCap: big.NewInt(tip),
		From:      from,
	}
}

func TestAddValidation(t *testing.T) {
	state := newFakeState()
	state.nonces[alice] = 3
	pool := New(DefaultConfig(), state)

	if err := pool.Add(makeTx(alice, 3, 1)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(makeTx(alice, 3, 1)); !errors.Is(err, ErrAlreadyKnown) {
		t.Errorf("duplicate: got %v", err)
	}
	if err := pool.Add(makeTx(alice, 2, 1)); !errors.Is(err, ErrNonceTooLow) {
		t.Errorf("stale nonce: got %v", err)
	}
	if err := pool.Add(makeTx(alice, 3+MaxNonceGap+1, 1)); !errors.Is(err, ErrNonceTooHigh) {
		t.Errorf("nonce gap: got %v", err)
	}

	over := makeTx(alice, 4, 1)
	over.Gas = 31_000_000
	if err := pool.Add(over); !errors.Is(err, ErrGasLimit) {
		t.Errorf("over gas limit: got %v", err)
	}

	tiny := makeTx(alice, 4, 1)
	tiny.Gas = 20_000
	if err := pool.Add(tiny); !errors.Is(err, ErrIntrinsicGas) {
		t.Errorf("intrinsic gas: got %v", err)
	}

	inverted := makeTx(alice, 4, 1)
	inverted.GasTipCap = big.NewInt(2_000_000)
	if err := pool.Add(inverted); !errors.Is(err, ErrFeeCapBelowTip) {
		t.Errorf("inverted fees: got %v", err)
	}

	broke := makeTx(types.HexToAddress("0xcc"), 0, 1)
	if err := pool.Add(broke); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("unfunded sender: got %v", err)
	}
}

func TestReplaceByFee(t *testing.T) {
	pool := New(DefaultConfig(), newFakeState())

	old := makeTx(alice, 0, 100)
	if err := pool.Add(old); err != nil {
		t.Fatal(err)
	}

	// Same fee cap, bumped tip only: still underpriced.
	cheap := makeTx(alice, 0, 200)
	if err := pool.Add(cheap); !errors.Is(err, ErrReplacementUnderpriced) {
		t.Fatalf("cheap replacement: got %v", err)
	}

	bumped := makeTx(alice, 0, 200)
	bumped.GasFeeCap = big.NewInt(1_100_000)
	if err := pool.Add(bumped); err != nil {
		t.Fatal(err)
	}
	if pool.Count() != 1 {
		t.Fatalf("count = %d after replacement", pool.Count())
	}
	if got := pool.Get(bumped.Hash()); got == nil {
		t.Fatal("replacement not retrievable")
	}
	if got := pool.Get(old.Hash()); got != nil {
		t.Fatal("replaced transaction still pooled")
	}
}

func TestCandidatesPriorityOrder(t *testing.T) {
	pool := New(DefaultConfig(), newFakeState())
	pool.SetBaseFee(big.NewInt(0))

	// Alice pays less than Bob, but her nonce order must hold.
	a0 := makeTx(alice, 0, 10)
	a1 := makeTx(alice, 1, 500) // highest tip overall, gated behind a0
	b0 := makeTx(bob, 0, 100)

	for _, tx := range []*types.Transaction{a0, a1, b0} {
		if err := pool.Add(tx); err != nil {
			t.Fatal(err)
		}
	}

	got := pool.Candidates(OrderPriorityFee)
	if len(got) != 3 {
		t.Fatalf("got %d candidates", len(got))
	}
	// b0 (tip 100) beats a0 (tip 10); a1 only becomes eligible after a0.
	want := []*types.Transaction{b0, a0, a1}
	for i := range want {
		if got[i].Hash() != want[i].Hash() {
			t.Fatalf("position %d: got nonce %d from %v", i, got[i].Nonce, got[i].From)
		}
	}
}

func TestCandidatesFIFO(t *testing.T) {
	pool := New(DefaultConfig(), newFakeState())

	a0 := makeTx(alice, 0, 10)
	b0 := makeTx(bob, 0, 10_000)
	if err := pool.Add(a0); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(b0); err != nil {
		t.Fatal(err)
	}

	got := pool.Candidates(OrderFIFO)
	if len(got) != 2 || got[0].Hash() != a0.Hash() || got[1].Hash() != b0.Hash() {
		t.Fatalf("fifo order broken: %v", got)
	}
}

func TestCandidatesSkipGappedTail(t *testing.T) {
	pool := New(DefaultConfig(), newFakeState())

	if err := pool.Add(makeTx(alice, 0, 1)); err != nil {
		t.Fatal(err)
	}
	// Nonce 2 is gapped until nonce 1 arrives.
	if err := pool.Add(makeTx(alice, 2, 1)); err != nil {
		t.Fatal(err)
	}

	if got := pool.Candidates(OrderFIFO); len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}

	if err := pool.Add(makeTx(alice, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if got := pool.Candidates(OrderFIFO); len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
}

func TestPrune(t *testing.T) {
	state := newFakeState()
	pool := New(DefaultConfig(), state)

	if err := pool.Add(makeTx(alice, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(makeTx(alice, 1, 1)); err != nil {
		t.Fatal(err)
	}

	// A mined block advanced the nonce past the first transaction.
	state.nonces[alice] = 1
	pool.Prune()

	if pool.Count() != 1 {
		t.Fatalf("count = %d after prune", pool.Count())
	}
	got := pool.Candidates(OrderFIFO)
	if len(got) != 1 || got[0].Nonce != 1 {
		t.Fatalf("candidates after prune: %v", got)
	}
}

func TestRemove(t *testing.T) {
	pool := New(DefaultConfig(), newFakeState())

	tx := makeTx(alice, 0, 1)
	if err := pool.Add(tx); err != nil {
		t.Fatal(err)
	}
	pool.Remove(tx.Hash())
	if pool.Count() != 0 {
		t.Fatalf("count = %d after remove", pool.Count())
	}
	if pool.Get(tx.Hash()) != nil {
		t.Fatal("removed transaction still retrievable")
	}
}
