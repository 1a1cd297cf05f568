package types

// Bloom filter over log addresses and topics, per the Yellow Paper: three
// 11-bit indices derived from the keccak256 hash of the input select bits in
// the 2048-bit filter.

// Add sets the bloom bits for the given data.
func (b *Bloom) Add(data []byte) {
	h := keccak256(data)
	for i := 0; i < 6; i += 2 {
		bit := (uint(h[i])<<8 | uint(h[i+1])) & 0x7ff
		byteIdx := BloomLength - 1 - bit/8
		b[byteIdx] |= 1 << (bit % 8)
	}
}

// Test reports whether the bloom possibly contains the given data.
func (b Bloom) Test(data []byte) bool {
	h := keccak256(data)
	for i := 0; i < 6; i += 2 {
		bit := (uint(h[i])<<8 | uint(h[i+1])) & 0x7ff
		byteIdx := BloomLength - 1 - bit/8
		if b[byteIdx]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Or merges other into b.
func (b *Bloom) Or(other Bloom) {
	for i := range b {
		b[i] |= other[i]
	}
}

// Bytes returns the byte representation of the bloom.
func (b Bloom) Bytes() []byte { return b[:] }

// LogsBloom computes the combined bloom of a set of logs.
func LogsBloom(logs []*Log) Bloom {
	var bloom Bloom
	for _, l := range logs {
		bloom.Add(l.Address.Bytes())
		for _, t := range l.Topics {
			bloom.Add(t.Bytes())
		}
	}
	return bloom
}

// BlockBloom OR-composes the per-receipt blooms of a block.
func BlockBloom(receipts []*Receipt) Bloom {
	var bloom Bloom
	for _, r := range receipts {
		bloom.Or(r.Bloom)
	}
	return bloom
}
