package types

import (
	"math/big"
	"sync/atomic"
)

// Header represents an Ethereum block header. The trailing optional fields
// form a prefix-closed set: a header carrying a Cancun field also carries all
// Shanghai and London fields.
type Header struct {
	ParentHash  Hash
	UncleHash   Hash
	Coinbase    Address
	Root        Hash
	TxHash      Hash
	ReceiptHash Hash
	Bloom       Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   Hash
	Nonce       BlockNonce

	// EIP-1559 (London)
	BaseFee *big.Int

	// EIP-4895 (Shanghai): beacon chain push withdrawals
	WithdrawalsHash *Hash

	// EIP-4844 (Cancun): shard blob transactions
	BlobGasUsed   *uint64
	ExcessBlobGas *uint64

	// EIP-4788 (Cancun): beacon block root in the EVM
	ParentBeaconRoot *Hash

	// EIP-7685 (Prague): general purpose execution layer requests
	RequestsHash *Hash

	// Cached canonical hash; not serialized.
	hash atomic.Pointer[Hash]
}

// Hash returns the canonical block hash: keccak256 of the RLP-encoded header.
func (h *Header) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	enc, err := h.EncodeRLP()
	if err != nil {
		return Hash{}
	}
	hash := keccak256(enc)
	h.hash.Store(&hash)
	return hash
}

// NumberU64 returns the block number as a uint64 (0 for nil).
func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return h.Number.Uint64()
}

// CopyHeader creates a deep copy of the header, dropping the hash cache.
func CopyHeader(h *Header) *Header {
	cpy := Header{
		ParentHash:       h.ParentHash,
		UncleHash:        h.UncleHash,
		Coinbase:         h.Coinbase,
		Root:             h.Root,
		TxHash:           h.TxHash,
		ReceiptHash:      h.ReceiptHash,
		Bloom:            h.Bloom,
		Difficulty:       h.Difficulty,
		Number:           h.Number,
		GasLimit:         h.GasLimit,
		GasUsed:          h.GasUsed,
		Time:             h.Time,
		Extra:            h.Extra,
		MixDigest:        h.MixDigest,
		Nonce:            h.Nonce,
		BaseFee:          h.BaseFee,
		WithdrawalsHash:  h.WithdrawalsHash,
		BlobGasUsed:      h.BlobGasUsed,
		ExcessBlobGas:    h.ExcessBlobGas,
		ParentBeaconRoot: h.ParentBeaconRoot,
		RequestsHash:     h.RequestsHash,
	}
	if h.Difficulty != nil {
		cpy.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.Number != nil {
		cpy.Number = new(big.Int).Set(h.Number)
	}
	if h.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	cpy.Extra = CopyBytes(h.Extra)
	if h.WithdrawalsHash != nil {
		v := *h.WithdrawalsHash
		cpy.WithdrawalsHash = &v
	}
	if h.BlobGasUsed != nil {
		v := *h.BlobGasUsed
		cpy.BlobGasUsed = &v
	}
	if h.ExcessBlobGas != nil {
		v := *h.ExcessBlobGas
		cpy.ExcessBlobGas = &v
	}
	if h.ParentBeaconRoot != nil {
		v := *h.ParentBeaconRoot
		cpy.ParentBeaconRoot = &v
	}
	if h.RequestsHash != nil {
		v := *h.RequestsHash
		cpy.RequestsHash = &v
	}
	return &cpy
}

// SanityCheck verifies the prefix-closed property of the optional tail: no
// later-fork field may be set while an earlier one is nil.
func (h *Header) SanityCheck() error {
	type gate struct {
		name string
		set  bool
	}
	gates := []gate{
		{"baseFeePerGas", h.BaseFee != nil},
		{"withdrawalsRoot", h.WithdrawalsHash != nil},
		{"blobGasUsed", h.BlobGasUsed != nil && h.ExcessBlobGas != nil},
		{"parentBeaconBlockRoot", h.ParentBeaconRoot != nil},
		{"requestsHash", h.RequestsHash != nil},
	}
	for i := len(gates) - 1; i > 0; i-- {
		if gates[i].set && !gates[i-1].set {
			return &InvalidHeaderError{Field: gates[i].name, Reason: "set without " + gates[i-1].name}
		}
	}
	return nil
}

// InvalidHeaderError reports a structurally invalid header.
type InvalidHeaderError struct {
	Field  string
	Reason string
}

func (e *InvalidHeaderError) Error() string {
	return "invalid header field " + e.Field + ": " + e.Reason
}
