package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// Blob sidecar sizes per EIP-4844.
const (
	BytesPerBlob          = 131072
	BytesPerKZGCommitment = 48
	BytesPerKZGProof      = 48

	// BlobCommitmentVersionKZG is the version byte of a KZG versioned hash.
	BlobCommitmentVersionKZG = 0x01
)

var (
	ErrBlobSize       = errors.New("blob: invalid blob size")
	ErrCommitmentSize = errors.New("blob: invalid commitment size")
	ErrProofSize      = errors.New("blob: invalid proof size")
	ErrBlobHashCount  = errors.New("blob: sidecar length mismatch")
)

// BlobSidecar carries the blobs, commitments and proofs accompanying a blob
// transaction on the local chain.
type BlobSidecar struct {
	Blobs       [][]byte
	Commitments [][]byte
	Proofs      [][]byte
}

// KZGToVersionedHash converts a KZG commitment to its EIP-4844 versioned
// hash: sha256 of the commitment with the first byte replaced by the version.
func KZGToVersionedHash(commitment []byte) Hash {
	h := sha256.Sum256(commitment)
	h[0] = BlobCommitmentVersionKZG
	return Hash(h)
}

// kzgContext is the shared go-eth-kzg verification context. Initialization
// processes the embedded ceremony SRS, so it is done once, lazily.
var (
	kzgCtxOnce sync.Once
	kzgCtx     *goethkzg.Context
	kzgCtxErr  error
)

func kzgContext() (*goethkzg.Context, error) {
	kzgCtxOnce.Do(func() {
		kzgCtx, kzgCtxErr = goethkzg.NewContext4096Secure()
	})
	return kzgCtx, kzgCtxErr
}

// Verify checks the sidecar against the transaction's versioned blob hashes:
// counts must line up, every commitment must hash to the corresponding
// versioned hash, and every blob proof must verify under the ceremony SRS.
func (sc *BlobSidecar) Verify(blobHashes []Hash) error {
	n := len(sc.Blobs)
	if len(sc.Commitments) != n || len(sc.Proofs) != n || len(blobHashes) != n {
		return ErrBlobHashCount
	}
	ctx, err := kzgContext()
	if err != nil {
		return fmt.Errorf("blob: kzg context: %w", err)
	}
	for i := 0; i < n; i++ {
		if len(sc.Blobs[i]) != BytesPerBlob {
			return ErrBlobSize
		}
		if len(sc.Commitments[i]) != BytesPerKZGCommitment {
			return ErrCommitmentSize
		}
		if len(sc.Proofs[i]) != BytesPerKZGProof {
			return ErrProofSize
		}
		if KZGToVersionedHash(sc.Commitments[i]) != blobHashes[i] {
			return fmt.Errorf("blob %d: commitment does not match versioned hash", i)
		}

		var blob goethkzg.Blob
		copy(blob[:], sc.Blobs[i])
		var comm goethkzg.KZGCommitment
		copy(comm[:], sc.Commitments[i])
		var proof goethkzg.KZGProof
		copy(proof[:], sc.Proofs[i])

		if err := ctx.VerifyBlobKZGProof(&blob, comm, proof); err != nil {
			return fmt.Errorf("blob %d: proof verification failed: %w", i, err)
		}
	}
	return nil
}
