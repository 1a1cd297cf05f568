package state

import (
	"sync"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
)

// RandomHashGenerator produces a deterministic sequence of hashes from a
// seed. Forked states use it for synthetic state roots once local writes
// invalidate the remote trie: the roots are meaningless but unique and
// reproducible.
type RandomHashGenerator struct {
	mu      sync.Mutex
	current types.Hash
}

// NewRandomHashGenerator seeds a generator.
func NewRandomHashGenerator(seed string) *RandomHashGenerator {
	return &RandomHashGenerator{current: crypto.Keccak256Hash([]byte(seed))}
}

// Next advances the sequence and returns the new hash.
func (g *RandomHashGenerator) Next() types.Hash {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = crypto.Keccak256Hash(g.current[:])
	return g.current
}

// Clone copies the generator at its current position.
func (g *RandomHashGenerator) Clone() *RandomHashGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &RandomHashGenerator{current: g.current}
}
