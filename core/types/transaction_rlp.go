package types

import (
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// EncodeRLP returns the canonical wire encoding of the transaction. Legacy
// transactions are a bare RLP list; typed transactions are the type byte
// followed by the RLP payload (EIP-2718).
func (tx *Transaction) EncodeRLP() ([]byte, error) {
	payload, err := tx.encodePayload()
	if err != nil {
		return nil, err
	}
	if tx.Type == LegacyTxType {
		return payload, nil
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, tx.Type)
	out = append(out, payload...)
	return out, nil
}

func (tx *Transaction) encodePayload() ([]byte, error) {
	switch tx.Type {
	case LegacyTxType:
		p := rlp.AppendUint64(nil, tx.Nonce)
		p = rlp.AppendBigInt(p, tx.GasPrice)
		p = rlp.AppendUint64(p, tx.Gas)
		p = appendTo(p, tx.To)
		p = rlp.AppendBigInt(p, tx.Value)
		p = rlp.AppendString(p, tx.Data)
		p = appendSignature(p, tx)
		return rlp.WrapList(p), nil

	case AccessListTxType:
		p := rlp.AppendBigInt(nil, tx.ChainID)
		p = rlp.AppendUint64(p, tx.Nonce)
		p = rlp.AppendBigInt(p, tx.GasPrice)
		p = rlp.AppendUint64(p, tx.Gas)
		p = appendTo(p, tx.To)
		p = rlp.AppendBigInt(p, tx.Value)
		p = rlp.AppendString(p, tx.Data)
		p = appendAccessList(p, tx.AccessList)
		p = appendSignature(p, tx)
		return rlp.WrapList(p), nil

	case DynamicFeeTxType:
		p := appendDynamicFeeFields(tx)
		p = appendAccessList(p, tx.AccessList)
		p = appendSignature(p, tx)
		return rlp.WrapList(p), nil

	case BlobTxType:
		p := appendDynamicFeeFields(tx)
		p = appendAccessList(p, tx.AccessList)
		p = rlp.AppendBigInt(p, tx.BlobFeeCap)
		var hashes []byte
		for _, h := range tx.BlobHashes {
			hashes = rlp.AppendString(hashes, h[:])
		}
		p = append(p, rlp.WrapList(hashes)...)
		p = appendSignature(p, tx)
		return rlp.WrapList(p), nil

	case SetCodeTxType:
		p := appendDynamicFeeFields(tx)
		p = appendAccessList(p, tx.AccessList)
		var auths []byte
		for _, a := range tx.AuthList {
			entry := rlp.AppendUint64(nil, a.ChainID)
			entry = rlp.AppendString(entry, a.Address[:])
			entry = rlp.AppendUint64(entry, a.Nonce)
			entry = rlp.AppendUint64(entry, uint64(a.V))
			entry = rlp.AppendBigInt(entry, a.R)
			entry = rlp.AppendBigInt(entry, a.S)
			auths = append(auths, rlp.WrapList(entry)...)
		}
		p = append(p, rlp.WrapList(auths)...)
		p = appendSignature(p, tx)
		return rlp.WrapList(p), nil

	default:
		return nil, &InvalidHeaderError{Field: "txType", Reason: "unknown transaction type"}
	}
}

// appendDynamicFeeFields writes the common prefix of the EIP-1559 family:
// [chainId, nonce, tip, feeCap, gas, to, value, data].
func appendDynamicFeeFields(tx *Transaction) []byte {
	p := rlp.AppendBigInt(nil, tx.ChainID)
	p = rlp.AppendUint64(p, tx.Nonce)
	p = rlp.AppendBigInt(p, tx.GasTipCap)
	p = rlp.AppendBigInt(p, tx.GasFeeCap)
	p = rlp.AppendUint64(p, tx.Gas)
	p = appendTo(p, tx.To)
	p = rlp.AppendBigInt(p, tx.Value)
	return rlp.AppendString(p, tx.Data)
}

// appendTo writes the optional destination: the empty string for creates.
func appendTo(p []byte, to *Address) []byte {
	if to == nil {
		return rlp.AppendString(p, nil)
	}
	return rlp.AppendString(p, to[:])
}

func appendSignature(p []byte, tx *Transaction) []byte {
	p = rlp.AppendBigInt(p, tx.V)
	p = rlp.AppendBigInt(p, tx.R)
	return rlp.AppendBigInt(p, tx.S)
}

func appendAccessList(p []byte, al AccessList) []byte {
	var entries []byte
	for _, tuple := range al {
		var keys []byte
		for _, k := range tuple.StorageKeys {
			keys = rlp.AppendString(keys, k[:])
		}
		entry := rlp.AppendString(nil, tuple.Address[:])
		entry = append(entry, rlp.WrapList(keys)...)
		entries = append(entries, rlp.WrapList(entry)...)
	}
	return append(p, rlp.WrapList(entries)...)
}
