package types

import (
	"testing"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// validSidecar builds a one-blob sidecar with a real commitment and proof
// for the zero blob.
func validSidecar(t *testing.T) (*BlobSidecar, []Hash) {
	t.Helper()
	ctx, err := kzgContext()
	if err != nil {
		t.Fatal(err)
	}
	var blob goethkzg.Blob
	commitment, err := ctx.BlobToKZGCommitment(&blob, 0)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := ctx.ComputeBlobKZGProof(&blob, commitment, 0)
	if err != nil {
		t.Fatal(err)
	}
	sc := &BlobSidecar{
		Blobs:       [][]byte{blob[:]},
		Commitments: [][]byte{commitment[:]},
		Proofs:      [][]byte{proof[:]},
	}
	return sc, []Hash{KZGToVersionedHash(commitment[:])}
}

func TestBlobSidecarVerify(t *testing.T) {
	sc, hashes := validSidecar(t)
	if err := sc.Verify(hashes); err != nil {
		t.Fatalf("valid sidecar rejected: %v", err)
	}
}

func TestBlobSidecarVerifyRejectsWrongHash(t *testing.T) {
	sc, _ := validSidecar(t)
	if err := sc.Verify([]Hash{HexToHash("0x01")}); err == nil {
		t.Fatal("mismatched versioned hash accepted")
	}
}

func TestBlobSidecarVerifyRejectsBadProof(t *testing.T) {
	sc, hashes := validSidecar(t)
	sc.Proofs[0] = append([]byte(nil), sc.Proofs[0]...)
	sc.Proofs[0][10] ^= 0xff
	if err := sc.Verify(hashes); err == nil {
		t.Fatal("corrupted proof accepted")
	}
}

func TestBlobSidecarVerifyCountMismatch(t *testing.T) {
	sc, hashes := validSidecar(t)
	sc.Proofs = nil
	if err := sc.Verify(hashes); err != ErrBlobHashCount {
		t.Fatalf("err = %v, want %v", err, ErrBlobHashCount)
	}
}

func TestKZGToVersionedHashVersionByte(t *testing.T) {
	h := KZGToVersionedHash(make([]byte, BytesPerKZGCommitment))
	if h[0] != BlobCommitmentVersionKZG {
		t.Fatalf("version byte = %#x", h[0])
	}
}
