package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

func TestKeccak256Vectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"abc", "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
	}
	for _, tt := range tests {
		got := Keccak256([]byte(tt.in))
		want, _ := hex.DecodeString(tt.want)
		if !bytes.Equal(got, want) {
			t.Errorf("Keccak256(%q) = %x, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKeccak256Incremental(t *testing.T) {
	whole := Keccak256([]byte("hello world"))
	parts := Keccak256([]byte("hello "), []byte("world"))
	if !bytes.Equal(whole, parts) {
		t.Error("multi-chunk hashing must equal single-chunk hashing")
	}
}

func TestCreateAddress(t *testing.T) {
	// Known vector: sender 0x970e8128ab834e8eac17ab8e3812f010678cf791, nonce 0.
	sender := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")
	got := CreateAddress(sender, 0)
	want := types.HexToAddress("0x333c3310824b7c685133f2bedb2ca4b8b4df633d")
	if got != want {
		t.Errorf("CreateAddress = %s, want %s", got, want)
	}
	if CreateAddress(sender, 1) == got {
		t.Error("different nonces must yield different addresses")
	}
}

func TestSelector(t *testing.T) {
	sel := Selector("setUp()")
	want := [4]byte{0x0a, 0x92, 0x54, 0xe4}
	if sel != want {
		t.Errorf("Selector(setUp()) = %x, want %x", sel, want)
	}
}
