package state

import (
	"context"
	"sync"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/remote"
)

// ForkedReader serves baseline reads from a remote node, pinned to a block
// number. Fetched values are cached: the pinned block is immutable, so a
// slot or account never needs refetching.
type ForkedReader struct {
	client      *remote.Client
	blockNumber uint64
	ctx         context.Context

	mu       sync.Mutex
	accounts map[types.Address]*AccountInfo
	slots    map[storageKey]types.Hash
}

type storageKey struct {
	addr types.Address
	slot types.Hash
}

// NewForkedReader pins a reader to the given block number. The context
// bounds all fetches performed through the reader.
func NewForkedReader(ctx context.Context, client *remote.Client, blockNumber uint64) *ForkedReader {
	return &ForkedReader{
		client:      client,
		blockNumber: blockNumber,
		ctx:         ctx,
		accounts:    make(map[types.Address]*AccountInfo),
		slots:       make(map[storageKey]types.Hash),
	}
}

// BlockNumber returns the pinned block number.
func (r *ForkedReader) BlockNumber() uint64 { return r.blockNumber }

// AccountInfo fetches nonce, balance and code at the pinned block. Accounts
// with zero nonce, zero balance and no code are reported as absent.
func (r *ForkedReader) AccountInfo(addr types.Address) (*AccountInfo, error) {
	r.mu.Lock()
	if info, ok := r.accounts[addr]; ok {
		r.mu.Unlock()
		return info, nil
	}
	r.mu.Unlock()

	balance, err := r.client.Balance(r.ctx, addr, r.blockNumber)
	if err != nil {
		return nil, err
	}
	nonce, err := r.client.Nonce(r.ctx, addr, r.blockNumber)
	if err != nil {
		return nil, err
	}
	code, err := r.client.Code(r.ctx, addr, r.blockNumber)
	if err != nil {
		return nil, err
	}

	var info *AccountInfo
	if nonce != 0 || balance.Sign() != 0 || len(code) > 0 {
		info = &AccountInfo{Nonce: nonce, Balance: balance, Code: code}
	}
	r.mu.Lock()
	r.accounts[addr] = info
	r.mu.Unlock()
	return info, nil
}

// StorageSlot fetches a storage slot at the pinned block.
func (r *ForkedReader) StorageSlot(addr types.Address, slot types.Hash) (types.Hash, error) {
	key := storageKey{addr: addr, slot: slot}
	r.mu.Lock()
	if v, ok := r.slots[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	v, err := r.client.StorageAt(r.ctx, addr, slot, r.blockNumber)
	if err != nil {
		return types.Hash{}, err
	}
	r.mu.Lock()
	r.slots[key] = v
	r.mu.Unlock()
	return v, nil
}

// TransferPersistentAccounts copies the current materialized state of from's
// persistent accounts into to, and marks them persistent there. Fork
// selection calls this so that test contracts, senders and cheat-code state
// survive the swap.
func TransferPersistentAccounts(from, to *StateDB) error {
	for _, addr := range from.PersistentAccounts() {
		balance, err := from.Balance(addr)
		if err != nil {
			return err
		}
		nonce, err := from.Nonce(addr)
		if err != nil {
			return err
		}
		code, err := from.Code(addr)
		if err != nil {
			return err
		}

		to.SetBalance(addr, balance)
		to.SetNonce(addr, nonce)
		if len(code) > 0 {
			to.SetCode(addr, code)
		}
		for slot, value := range from.mergedStorage(addr) {
			to.SetStorage(addr, slot, value)
		}
		to.AddPersistentAccount(addr)
	}
	return nil
}

// mergedStorage returns every overlay-written slot of the account. Baseline
// (remote) slots are not enumerable and are not included.
func (s *StateDB) mergedStorage(addr types.Address) map[types.Hash]types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.Hash]types.Hash)
	for _, f := range s.frames {
		e, ok := f.accounts[addr]
		if !ok {
			continue
		}
		if e.created {
			out = make(map[types.Hash]types.Hash)
		}
		for slot, v := range e.storage {
			out[slot] = v
		}
	}
	return out
}
