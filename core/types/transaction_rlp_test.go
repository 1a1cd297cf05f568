package types

import (
	"bytes"
	"math/big"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signCanonical signs inner with a fixed key and returns both the signed
// transaction and its canonical wire encoding.
func signCanonical(t *testing.T, inner gethtypes.TxData) (*gethtypes.Transaction, []byte) {
	t.Helper()
	key, err := gethcrypto.HexToECDSA("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	if err != nil {
		t.Fatal(err)
	}
	signer := gethtypes.LatestSignerForChainID(big.NewInt(1337))
	signed, err := gethtypes.SignNewTx(key, signer, inner)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return signed, raw
}

func requireCanonical(t *testing.T, tx *Transaction, signed *gethtypes.Transaction, raw []byte) {
	t.Helper()
	enc, err := tx.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, raw) {
		t.Fatalf("encoding mismatch:\n got %x\nwant %x", enc, raw)
	}
	if got, want := tx.Hash(), BytesToHash(signed.Hash().Bytes()); got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
}

func TestLegacyTransactionEncoding(t *testing.T) {
	to := gethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	signed, raw := signCanonical(t, &gethtypes.LegacyTx{
		Nonce:    3,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1_000_000_000_000_000_000),
	})

	dest := BytesToAddress(to.Bytes())
	tx := &Transaction{
		Type:     LegacyTxType,
		Nonce:    3,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      21000,
		To:       &dest,
		Value:    big.NewInt(1_000_000_000_000_000_000),
	}
	tx.V, tx.R, tx.S = signed.RawSignatureValues()
	requireCanonical(t, tx, signed, raw)
}

func TestDynamicFeeTransactionEncoding(t *testing.T) {
	to := gethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	signed, raw := signCanonical(t, &gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
		Gas:       60000,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      []byte{0xca, 0xfe, 0xba, 0xbe},
		AccessList: gethtypes.AccessList{{
			Address:     to,
			StorageKeys: []gethcommon.Hash{{0x01}, {0x02}},
		}},
	})

	dest := BytesToAddress(to.Bytes())
	tx := &Transaction{
		Type:      DynamicFeeTxType,
		ChainID:   big.NewInt(1337),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
		Gas:       60000,
		To:        &dest,
		Value:     big.NewInt(0),
		Data:      []byte{0xca, 0xfe, 0xba, 0xbe},
		AccessList: AccessList{{
			Address:     dest,
			StorageKeys: []Hash{{0x01}, {0x02}},
		}},
	}
	tx.V, tx.R, tx.S = signed.RawSignatureValues()
	requireCanonical(t, tx, signed, raw)
}

func TestContractCreationEncoding(t *testing.T) {
	signed, raw := signCanonical(t, &gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     0,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
		Gas:       1_000_000,
		To:        nil,
		Value:     big.NewInt(0),
		Data:      []byte{0x60, 0x00, 0x60, 0x00, 0xf3},
	})

	tx := &Transaction{
		Type:      DynamicFeeTxType,
		ChainID:   big.NewInt(1337),
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
		Gas:       1_000_000,
		Value:     big.NewInt(0),
		Data:      []byte{0x60, 0x00, 0x60, 0x00, 0xf3},
	}
	tx.V, tx.R, tx.S = signed.RawSignatureValues()
	requireCanonical(t, tx, signed, raw)
}
