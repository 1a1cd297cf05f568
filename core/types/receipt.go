package types

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/rlp"
)

// Receipt statuses per EIP-658.
const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt is the execution receipt of a transaction. Pre-Byzantium receipts
// carry a post-state root instead of a status; exactly one of PostState and
// the status encoding is used on the wire.
type Receipt struct {
	Type              uint8
	PostState         []byte
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []*Log

	// Derived fields, not part of the consensus encoding.
	TxHash            Hash
	ContractAddress   Address
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlobGasUsed       uint64
	BlobGasPrice      *big.Int
	BlockHash         Hash
	BlockNumber       uint64
	TransactionIndex  uint
}

// Failed reports whether the execution failed (status receipts only).
func (r *Receipt) Failed() bool {
	return len(r.PostState) == 0 && r.Status == ReceiptStatusFailed
}

// EncodeRLP returns the consensus encoding used for the receipts trie:
// [status_or_poststate, cumulative_gas, bloom, logs], prefixed with the
// transaction type byte for typed receipts (EIP-2718).
func (r *Receipt) EncodeRLP() ([]byte, error) {
	var payload []byte
	if len(r.PostState) > 0 {
		payload = rlp.AppendString(nil, r.PostState)
	} else {
		payload = rlp.AppendUint64(nil, r.Status)
	}
	payload = rlp.AppendUint64(payload, r.CumulativeGasUsed)
	payload = rlp.AppendString(payload, r.Bloom[:])

	var logsPayload []byte
	for _, l := range r.Logs {
		enc, err := l.EncodeRLP()
		if err != nil {
			return nil, err
		}
		logsPayload = append(logsPayload, enc...)
	}
	payload = append(payload, rlp.WrapList(logsPayload)...)
	enc := rlp.WrapList(payload)

	if r.Type == LegacyTxType {
		return enc, nil
	}
	out := make([]byte, 0, 1+len(enc))
	out = append(out, r.Type)
	out = append(out, enc...)
	return out, nil
}

// DeriveLogFields fills in the block and transaction back-references of the
// receipt's logs. logIndexOffset is the number of logs emitted by earlier
// transactions in the same block.
func (r *Receipt) DeriveLogFields(blockHash Hash, blockNumber uint64, txIndex uint, logIndexOffset uint) {
	for i, l := range r.Logs {
		l.BlockHash = blockHash
		l.BlockNumber = blockNumber
		l.TxHash = r.TxHash
		l.TxIndex = txIndex
		l.Index = logIndexOffset + uint(i)
	}
}
