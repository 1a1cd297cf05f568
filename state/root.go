package state

import (
	"math/big"
	"sort"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/rlp"
	"github.com/NomicFoundation/edr-sub001/trie"
)

// StateRoot returns the state root of the current overlay. Purely local
// states get a real secure-trie root over their accounts; fork-backed states
// cannot enumerate the remote trie and get a synthetic root from the hash
// generator instead. The root is stable between writes.
func (s *StateDB) StateRoot() (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rootValid && s.rootVersion == s.version {
		return s.rootCache, nil
	}

	var root types.Hash
	if s.reader != nil {
		root = s.hashGen.Next()
	} else {
		computed, err := s.localRootLocked()
		if err != nil {
			return types.Hash{}, err
		}
		root = computed
	}
	s.rootCache = root
	s.rootVersion = s.version
	s.rootValid = true
	return root, nil
}

// localRootLocked builds the account trie root from the merged overlay.
func (s *StateDB) localRootLocked() (types.Hash, error) {
	merged := newFrame()
	for _, f := range s.frames {
		mergeFrame(merged, f)
	}

	type pair struct {
		key []byte
		val []byte
	}
	pairs := make([]pair, 0, len(merged.accounts))
	for addr, e := range merged.accounts {
		account := types.NewAccount()
		if e.nonce != nil {
			account.Nonce = *e.nonce
		}
		if e.balance != nil {
			account.Balance = new(big.Int).Set(e.balance)
		}
		if e.codeSet && len(e.code) > 0 {
			account.CodeHash = crypto.Keccak256(e.code)
		}
		storageRoot, err := storageRoot(e.storage)
		if err != nil {
			return types.Hash{}, err
		}
		account.Root = storageRoot

		if account.IsEmpty() && storageRoot == types.EmptyRootHash {
			continue
		}
		// The trie leaf layout: [nonce, balance, storageRoot, codeHash].
		leaf := rlp.AppendUint64(nil, account.Nonce)
		leaf = rlp.AppendBigInt(leaf, account.Balance)
		leaf = rlp.AppendString(leaf, account.Root[:])
		leaf = rlp.AppendString(leaf, account.CodeHash)
		enc := rlp.WrapList(leaf)
		key := crypto.Keccak256(addr[:])
		pairs = append(pairs, pair{key: key, val: enc})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i].key) < string(pairs[j].key)
	})
	h := trie.NewHasher()
	for _, p := range pairs {
		if err := h.Update(p.key, p.val); err != nil {
			return types.Hash{}, err
		}
	}
	return h.Hash(), nil
}

// storageRoot builds the secure storage trie root of one account.
func storageRoot(storage map[types.Hash]types.Hash) (types.Hash, error) {
	if len(storage) == 0 {
		return types.EmptyRootHash, nil
	}

	type pair struct {
		key []byte
		val []byte
	}
	pairs := make([]pair, 0, len(storage))
	for slot, value := range storage {
		if value == (types.Hash{}) {
			continue
		}
		// Stored values are left-trimmed before hashing.
		enc := rlp.AppendBigInt(nil, new(big.Int).SetBytes(value[:]))
		pairs = append(pairs, pair{key: crypto.Keccak256(slot[:]), val: enc})
	}
	if len(pairs) == 0 {
		return types.EmptyRootHash, nil
	}

	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i].key) < string(pairs[j].key)
	})
	h := trie.NewHasher()
	for _, p := range pairs {
		if err := h.Update(p.key, p.val); err != nil {
			return types.Hash{}, err
		}
	}
	return h.Hash(), nil
}
