package types

import (
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// EncodeRLP returns the RLP encoding of the header in Yellow Paper field
// order:
//
//	[ParentHash, UncleHash, Coinbase, Root, TxHash, ReceiptHash, Bloom,
//	 Difficulty, Number, GasLimit, GasUsed, Time, Extra, MixDigest, Nonce,
//	 BaseFee?, WithdrawalsHash?, BlobGasUsed?, ExcessBlobGas?,
//	 ParentBeaconRoot?, RequestsHash?]
//
// Optional fields are appended only when non-nil; the prefix-closed property
// guarantees no gaps.
func (h *Header) EncodeRLP() ([]byte, error) {
	p := rlp.AppendString(nil, h.ParentHash[:])
	p = rlp.AppendString(p, h.UncleHash[:])
	p = rlp.AppendString(p, h.Coinbase[:])
	p = rlp.AppendString(p, h.Root[:])
	p = rlp.AppendString(p, h.TxHash[:])
	p = rlp.AppendString(p, h.ReceiptHash[:])
	p = rlp.AppendString(p, h.Bloom[:])
	p = rlp.AppendBigInt(p, h.Difficulty)
	p = rlp.AppendBigInt(p, h.Number)
	p = rlp.AppendUint64(p, h.GasLimit)
	p = rlp.AppendUint64(p, h.GasUsed)
	p = rlp.AppendUint64(p, h.Time)
	p = rlp.AppendString(p, h.Extra)
	p = rlp.AppendString(p, h.MixDigest[:])
	p = rlp.AppendString(p, h.Nonce[:])
	if h.BaseFee != nil {
		p = rlp.AppendBigInt(p, h.BaseFee)
	}
	if h.WithdrawalsHash != nil {
		p = rlp.AppendString(p, h.WithdrawalsHash[:])
	}
	if h.BlobGasUsed != nil {
		p = rlp.AppendUint64(p, *h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		p = rlp.AppendUint64(p, *h.ExcessBlobGas)
	}
	if h.ParentBeaconRoot != nil {
		p = rlp.AppendString(p, h.ParentBeaconRoot[:])
	}
	if h.RequestsHash != nil {
		p = rlp.AppendString(p, h.RequestsHash[:])
	}
	return rlp.WrapList(p), nil
}

// DecodeHeaderRLP decodes an RLP-encoded header, accepting any valid prefix
// of the hardfork-gated optional tail.
func DecodeHeaderRLP(data []byte) (*Header, error) {
	s := rlp.NewStreamFromBytes(data)
	if _, err := s.List(); err != nil {
		return nil, err
	}

	h := &Header{}
	var err error

	if err = decodeHash(s, &h.ParentHash); err != nil {
		return nil, err
	}
	if err = decodeHash(s, &h.UncleHash); err != nil {
		return nil, err
	}
	if err = decodeAddress(s, &h.Coinbase); err != nil {
		return nil, err
	}
	if err = decodeHash(s, &h.Root); err != nil {
		return nil, err
	}
	if err = decodeHash(s, &h.TxHash); err != nil {
		return nil, err
	}
	if err = decodeHash(s, &h.ReceiptHash); err != nil {
		return nil, err
	}
	if err = decodeBloom(s, &h.Bloom); err != nil {
		return nil, err
	}
	if h.Difficulty, err = s.BigInt(); err != nil {
		return nil, err
	}
	if h.Number, err = s.BigInt(); err != nil {
		return nil, err
	}
	if h.GasLimit, err = s.Uint64(); err != nil {
		return nil, err
	}
	if h.GasUsed, err = s.Uint64(); err != nil {
		return nil, err
	}
	if h.Time, err = s.Uint64(); err != nil {
		return nil, err
	}
	extra, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	h.Extra = CopyBytes(extra)
	if err = decodeHash(s, &h.MixDigest); err != nil {
		return nil, err
	}
	nonce, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	copy(h.Nonce[NonceLength-len(nonce):], nonce)

	// Hardfork-gated tail, read strictly in activation order.
	if s.MoreDataInList() {
		if h.BaseFee, err = s.BigInt(); err != nil {
			return nil, err
		}
	}
	if s.MoreDataInList() {
		var wh Hash
		if err = decodeHash(s, &wh); err != nil {
			return nil, err
		}
		h.WithdrawalsHash = &wh
	}
	if s.MoreDataInList() {
		used, err := s.Uint64()
		if err != nil {
			return nil, err
		}
		excess, err := s.Uint64()
		if err != nil {
			return nil, err
		}
		h.BlobGasUsed = &used
		h.ExcessBlobGas = &excess
	}
	if s.MoreDataInList() {
		var br Hash
		if err = decodeHash(s, &br); err != nil {
			return nil, err
		}
		h.ParentBeaconRoot = &br
	}
	if s.MoreDataInList() {
		var rh Hash
		if err = decodeHash(s, &rh); err != nil {
			return nil, err
		}
		h.RequestsHash = &rh
	}
	if err := s.ListEnd(); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeHash(s *rlp.Stream, out *Hash) error {
	b, err := s.Bytes()
	if err != nil {
		return err
	}
	out.SetBytes(b)
	return nil
}

func decodeAddress(s *rlp.Stream, out *Address) error {
	b, err := s.Bytes()
	if err != nil {
		return err
	}
	out.SetBytes(b)
	return nil
}

func decodeBloom(s *rlp.Stream, out *Bloom) error {
	b, err := s.Bytes()
	if err != nil {
		return err
	}
	if len(b) > BloomLength {
		b = b[len(b)-BloomLength:]
	}
	copy(out[BloomLength-len(b):], b)
	return nil
}

