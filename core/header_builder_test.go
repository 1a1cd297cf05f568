package core

import (
	"math/big"
	"testing"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

func cancunParent() *types.Header {
	excess := uint64(5 * GasPerBlob)
	used := uint64(4 * GasPerBlob)
	return &types.Header{
		ParentHash:    types.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		Root:          types.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"),
		Difficulty:    new(big.Int),
		Number:        big.NewInt(41),
		GasLimit:      30_000_000,
		GasUsed:       15_000_000,
		Time:          1_700_000_000,
		BaseFee:       big.NewInt(1_000_000_000),
		BlobGasUsed:   &used,
		ExcessBlobGas: &excess,
	}
}

func TestNewPartialHeaderGenesis(t *testing.T) {
	config := DefaultBlockConfig(Cancun)

	h, err := NewPartialHeader(config, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if h.Number != 0 {
		t.Errorf("number = %d, want 0", h.Number)
	}
	if h.ParentHash != (types.Hash{}) {
		t.Errorf("parent hash = %v, want zero", h.ParentHash)
	}
	if h.GasLimit != DefaultBlockGasLimit {
		t.Errorf("gas limit = %d, want %d", h.GasLimit, DefaultBlockGasLimit)
	}
	if h.BaseFee == nil || h.BaseFee.Cmp(InitialBaseFee) != 0 {
		t.Errorf("base fee = %v, want %v", h.BaseFee, InitialBaseFee)
	}
	if h.Difficulty.Sign() != 0 {
		t.Errorf("post-merge difficulty = %v, want 0", h.Difficulty)
	}
	if h.Nonce != (types.BlockNonce{}) {
		t.Errorf("post-merge nonce = %v, want zero", h.Nonce)
	}
	if h.OmmersHash != types.EmptyUncleHash {
		t.Errorf("ommers hash = %v, want empty uncle hash", h.OmmersHash)
	}
	if h.WithdrawalsRoot == nil || *h.WithdrawalsRoot != types.EmptyRootHash {
		t.Errorf("withdrawals root = %v, want empty root", h.WithdrawalsRoot)
	}
	if h.BlobGasUsed == nil || *h.BlobGasUsed != 0 || h.ExcessBlobGas == nil || *h.ExcessBlobGas != 0 {
		t.Errorf("blob gas = (%v, %v), want (0, 0)", h.BlobGasUsed, h.ExcessBlobGas)
	}
	if h.ParentBeaconRoot == nil || *h.ParentBeaconRoot != (types.Hash{}) {
		t.Errorf("parent beacon root = %v, want zero", h.ParentBeaconRoot)
	}
	if h.RequestsHash != nil {
		t.Errorf("pre-prague requests hash = %v, want nil", h.RequestsHash)
	}
}

func TestNewPartialHeaderChild(t *testing.T) {
	config := DefaultBlockConfig(Cancun)
	parent := cancunParent()

	h, err := NewPartialHeader(config, nil, parent, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if h.Number != 42 {
		t.Errorf("number = %d, want 42", h.Number)
	}
	if h.ParentHash != parent.Hash() {
		t.Errorf("parent hash = %v, want %v", h.ParentHash, parent.Hash())
	}
	if h.Timestamp != parent.Time+1 {
		t.Errorf("timestamp = %d, want %d", h.Timestamp, parent.Time+1)
	}
	if h.GasLimit != parent.GasLimit {
		t.Errorf("gas limit = %d, want %d", h.GasLimit, parent.GasLimit)
	}
	wantFee := CalcBaseFee(parent, config.BaseFeeParams)
	if h.BaseFee.Cmp(wantFee) != 0 {
		t.Errorf("base fee = %v, want %v", h.BaseFee, wantFee)
	}
	// Parent was at 5 excess + 4 used against a 3-blob target.
	wantExcess := NextBlockExcessBlobGas(*parent.ExcessBlobGas, *parent.BlobGasUsed, CancunBlobParams)
	if *h.ExcessBlobGas != wantExcess {
		t.Errorf("excess blob gas = %d, want %d", *h.ExcessBlobGas, wantExcess)
	}
}

func TestNewPartialHeaderOverrides(t *testing.T) {
	config := DefaultBlockConfig(Prague)
	parent := cancunParent()

	number := uint64(999)
	timestamp := uint64(2_000_000_000)
	gasLimit := uint64(10_000_000)
	beneficiary := types.HexToAddress("0x000000000000000000000000000000000000dead")
	baseFee := big.NewInt(7)
	blobGas := &BlobGasOverride{GasUsed: GasPerBlob, ExcessGas: 2 * GasPerBlob}
	stateRoot := types.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333")

	h, err := NewPartialHeader(config, &HeaderOverrides{
		Number:      &number,
		Timestamp:   &timestamp,
		GasLimit:    &gasLimit,
		Beneficiary: &beneficiary,
		BaseFee:     baseFee,
		BlobGas:     blobGas,
		StateRoot:   &stateRoot,
		ExtraData:   []byte("club"),
	}, parent, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if h.Number != number || h.Timestamp != timestamp || h.GasLimit != gasLimit {
		t.Errorf("scalar overrides not applied: %+v", h)
	}
	if h.Beneficiary != beneficiary {
		t.Errorf("beneficiary = %v, want %v", h.Beneficiary, beneficiary)
	}
	if h.BaseFee.Cmp(baseFee) != 0 {
		t.Errorf("base fee = %v, want %v", h.BaseFee, baseFee)
	}
	if *h.BlobGasUsed != blobGas.GasUsed || *h.ExcessBlobGas != blobGas.ExcessGas {
		t.Errorf("blob gas = (%d, %d), want (%d, %d)", *h.BlobGasUsed, *h.ExcessBlobGas, blobGas.GasUsed, blobGas.ExcessGas)
	}
	if h.StateRoot != stateRoot {
		t.Errorf("state root = %v, want %v", h.StateRoot, stateRoot)
	}
	if string(h.ExtraData) != "club" {
		t.Errorf("extra data = %q", h.ExtraData)
	}
	if h.RequestsHash == nil || *h.RequestsHash != types.EmptyRequestsHash {
		t.Errorf("requests hash = %v, want empty requests hash", h.RequestsHash)
	}
}

func TestNewPartialHeaderPreMerge(t *testing.T) {
	config := DefaultBlockConfig(Berlin)
	parent := &types.Header{
		Number:     big.NewInt(100),
		Time:       1000,
		GasLimit:   8_000_000,
		Difficulty: big.NewInt(2_000_000),
	}

	h, err := NewPartialHeader(config, nil, parent, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if h.Nonce == (types.BlockNonce{}) {
		t.Error("pre-merge nonce is zero, want sentinel")
	}
	if h.Difficulty.Sign() == 0 {
		t.Error("pre-merge difficulty is zero")
	}
	want := CalcEthashDifficulty(Berlin, parent, h.Timestamp, false, config.MinEthashDifficulty)
	if h.Difficulty.Cmp(want) != 0 {
		t.Errorf("difficulty = %v, want %v", h.Difficulty, want)
	}
	if h.BaseFee != nil {
		t.Errorf("pre-london base fee = %v, want nil", h.BaseFee)
	}
	if h.WithdrawalsRoot != nil || h.BlobGasUsed != nil {
		t.Error("pre-shanghai header has withdrawal/blob fields")
	}
}

func TestNewPartialHeaderWithdrawals(t *testing.T) {
	config := DefaultBlockConfig(Shanghai)
	parent := &types.Header{
		Number:   big.NewInt(10),
		Time:     1000,
		GasLimit: 30_000_000,
		BaseFee:  big.NewInt(1_000_000_000),
	}
	withdrawals := []*types.Withdrawal{
		{Index: 0, ValidatorIndex: 7, Address: types.HexToAddress("0x00000000000000000000000000000000000000aa"), Amount: 12},
	}

	h, err := NewPartialHeader(config, nil, parent, nil, withdrawals)
	if err != nil {
		t.Fatal(err)
	}
	if h.WithdrawalsRoot == nil || *h.WithdrawalsRoot == types.EmptyRootHash {
		t.Fatalf("withdrawals root = %v, want non-empty", h.WithdrawalsRoot)
	}

	empty, err := NewPartialHeader(config, nil, parent, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if *empty.WithdrawalsRoot != types.EmptyRootHash {
		t.Errorf("empty withdrawals root = %v, want empty root", *empty.WithdrawalsRoot)
	}
}

func TestPartialHeaderFinalize(t *testing.T) {
	config := DefaultBlockConfig(Cancun)
	parent := cancunParent()

	p, err := NewPartialHeader(config, nil, parent, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	txRoot := types.HexToHash("0x4444444444444444444444444444444444444444444444444444444444444444")
	h := p.Finalize(txRoot)

	if h.TxHash != txRoot {
		t.Errorf("tx root = %v, want %v", h.TxHash, txRoot)
	}
	if h.NumberU64() != p.Number {
		t.Errorf("number = %d, want %d", h.NumberU64(), p.Number)
	}
	if err := h.SanityCheck(); err != nil {
		t.Errorf("finalized header fails sanity check: %v", err)
	}
}
