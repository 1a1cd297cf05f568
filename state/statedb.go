// Package state implements the journaled in-memory state database used by
// the executor and miner. State is a stack of overlay frames: writes land in
// the top frame, reads scan top-down and fall through to an optional baseline
// reader (a remote fork). Snapshots capture a stack position and can be
// restored in O(1).
package state

import (
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
)

// Reader is the baseline below the overlay stack. Implementations may hit
// the network; errors propagate to the caller.
type Reader interface {
	// AccountInfo returns nil for non-existent accounts.
	AccountInfo(addr types.Address) (*AccountInfo, error)
	// StorageSlot returns the zero hash for unset slots.
	StorageSlot(addr types.Address, slot types.Hash) (types.Hash, error)
}

// AccountInfo is the non-storage portion of an account.
type AccountInfo struct {
	Nonce   uint64
	Balance *big.Int
	Code    []byte
}

// accountEntry is the per-frame diff of one account. Nil fields are
// untouched at this frame.
type accountEntry struct {
	nonce   *uint64
	balance *big.Int
	code    []byte // nil = unchanged; empty non-nil = cleared
	codeSet bool
	storage map[types.Hash]types.Hash
	created bool // account was (re)created here: stop fallthrough below
}

type frame struct {
	accounts map[types.Address]*accountEntry
}

func newFrame() *frame {
	return &frame{accounts: make(map[types.Address]*accountEntry)}
}

func (f *frame) entry(addr types.Address) *accountEntry {
	e, ok := f.accounts[addr]
	if !ok {
		e = &accountEntry{}
		f.accounts[addr] = e
	}
	return e
}

type snapshotRecord struct {
	frameCount int
	persistent mapset.Set[types.Address]
	forkID     uint64
}

// StateDB is the journaled state overlay. Safe for use from a single
// goroutine; clones are independent.
type StateDB struct {
	mu sync.Mutex

	reader Reader
	frames []*frame

	snapshots      map[uint64]snapshotRecord
	nextSnapshotID uint64

	persistent mapset.Set[types.Address]
	forkID     uint64

	hashGen *RandomHashGenerator
	version uint64

	rootVersion uint64
	rootCache   types.Hash
	rootValid   bool
}

// New creates a state database over an optional baseline reader.
func New(reader Reader) *StateDB {
	return &StateDB{
		reader:     reader,
		frames:     []*frame{newFrame()},
		snapshots:  make(map[uint64]snapshotRecord),
		persistent: mapset.NewThreadUnsafeSet[types.Address](),
		hashGen:    NewRandomHashGenerator("statedb"),
	}
}

// SetForkID records the active fork id captured by snapshots.
func (s *StateDB) SetForkID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forkID = id
}

// ForkID returns the active fork id.
func (s *StateDB) ForkID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forkID
}

// Checkpoint marks the current stack position and opens a fresh frame.
// Sub-call semantics: Commit keeps the frames, Revert discards them.
func (s *StateDB) Checkpoint() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := len(s.frames)
	s.frames = append(s.frames, newFrame())
	return cp
}

// Revert discards every write since the checkpoint.
func (s *StateDB) Revert(cp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp <= 0 || cp > len(s.frames) {
		return
	}
	s.frames = s.frames[:cp]
	if len(s.frames) == 0 {
		s.frames = []*frame{newFrame()}
	}
	s.version++
}

// Commit collapses the frames above the checkpoint into a single frame,
// keeping their writes.
func (s *StateDB) Commit(cp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp <= 0 || cp >= len(s.frames) {
		return
	}
	merged := newFrame()
	for _, f := range s.frames[cp:] {
		mergeFrame(merged, f)
	}
	s.frames = append(s.frames[:cp], merged)
}

// Snapshot captures the current state, the persistent-account set and the
// active fork id, and returns an id for RevertToSnapshot.
func (s *StateDB) Snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSnapshotID
	s.nextSnapshotID++
	s.snapshots[id] = snapshotRecord{
		frameCount: len(s.frames),
		persistent: s.persistent.Clone(),
		forkID:     s.forkID,
	}
	// Later writes go above the captured position.
	s.frames = append(s.frames, newFrame())
	return id
}

// RevertToSnapshot restores the state captured by Snapshot. Returns false
// for unknown ids. The snapshot is consumed, along with any snapshot taken
// after it.
func (s *StateDB) RevertToSnapshot(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.snapshots[id]
	if !ok {
		return false
	}
	s.frames = s.frames[:record.frameCount]
	s.frames = append(s.frames, newFrame())
	s.persistent = record.persistent.Clone()
	s.forkID = record.forkID

	for other, rec := range s.snapshots {
		if other >= id || rec.frameCount > record.frameCount {
			delete(s.snapshots, other)
		}
	}
	s.version++
	return true
}

// Balance returns the account balance.
func (s *StateDB) Balance(addr types.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].accounts[addr]; ok {
			if e.balance != nil {
				return new(big.Int).Set(e.balance), nil
			}
			if e.created {
				return new(big.Int), nil
			}
		}
	}
	info, err := s.baseInfoLocked(addr)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(info.Balance), nil
}

// SetBalance replaces the account balance.
func (s *StateDB) SetBalance(addr types.Address, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topEntryLocked(addr).balance = new(big.Int).Set(balance)
	s.version++
}

// AddBalance credits the account.
func (s *StateDB) AddBalance(addr types.Address, amount *big.Int) error {
	balance, err := s.Balance(addr)
	if err != nil {
		return err
	}
	s.SetBalance(addr, balance.Add(balance, amount))
	return nil
}

// SubBalance debits the account; the balance may not go negative.
func (s *StateDB) SubBalance(addr types.Address, amount *big.Int) error {
	balance, err := s.Balance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: insufficient balance for %v: have %v, need %v", addr, balance, amount)
	}
	s.SetBalance(addr, balance.Sub(balance, amount))
	return nil
}

// Nonce returns the account nonce.
func (s *StateDB) Nonce(addr types.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].accounts[addr]; ok {
			if e.nonce != nil {
				return *e.nonce, nil
			}
			if e.created {
				return 0, nil
			}
		}
	}
	info, err := s.baseInfoLocked(addr)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, nil
	}
	return info.Nonce, nil
}

// SetNonce replaces the account nonce.
func (s *StateDB) SetNonce(addr types.Address, nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := nonce
	s.topEntryLocked(addr).nonce = &n
	s.version++
}

// Code returns the account code.
func (s *StateDB) Code(addr types.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].accounts[addr]; ok {
			if e.codeSet {
				return e.code, nil
			}
			if e.created {
				return nil, nil
			}
		}
	}
	info, err := s.baseInfoLocked(addr)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	return info.Code, nil
}

// CodeHash returns keccak256 of the account code, or the empty-code hash.
func (s *StateDB) CodeHash(addr types.Address) (types.Hash, error) {
	code, err := s.Code(addr)
	if err != nil {
		return types.Hash{}, err
	}
	if len(code) == 0 {
		return types.EmptyCodeHash, nil
	}
	return crypto.Keccak256Hash(code), nil
}

// SetCode replaces the account code.
func (s *StateDB) SetCode(addr types.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.topEntryLocked(addr)
	e.code = append([]byte(nil), code...)
	e.codeSet = true
	s.version++
}

// Storage returns the value of a storage slot.
func (s *StateDB) Storage(addr types.Address, slot types.Hash) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].accounts[addr]; ok {
			if e.storage != nil {
				if v, ok := e.storage[slot]; ok {
					return v, nil
				}
			}
			if e.created {
				return types.Hash{}, nil
			}
		}
	}
	if s.reader == nil {
		return types.Hash{}, nil
	}
	return s.reader.StorageSlot(addr, slot)
}

// SetStorage writes a storage slot.
func (s *StateDB) SetStorage(addr types.Address, slot, value types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.topEntryLocked(addr)
	if e.storage == nil {
		e.storage = make(map[types.Hash]types.Hash)
	}
	e.storage[slot] = value
	s.version++
}

// Exists reports whether the account is present in the overlay or baseline.
func (s *StateDB) Exists(addr types.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		if _, ok := s.frames[i].accounts[addr]; ok {
			return true, nil
		}
	}
	info, err := s.baseInfoLocked(addr)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// CreateAccount resets the account to an empty one, severing fallthrough to
// earlier frames and the baseline.
func (s *StateDB) CreateAccount(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.topEntryLocked(addr)
	e.created = true
	e.nonce = nil
	e.balance = nil
	e.code = nil
	e.codeSet = false
	e.storage = nil
	s.version++
}

// AddPersistentAccount marks an account as surviving fork selection.
func (s *StateDB) AddPersistentAccount(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent.Add(addr)
}

// RemovePersistentAccount clears the persistence mark.
func (s *StateDB) RemovePersistentAccount(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent.Remove(addr)
}

// IsPersistent reports whether the account survives fork selection.
func (s *StateDB) IsPersistent(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistent.Contains(addr)
}

// PersistentAccounts returns the persistent account set.
func (s *StateDB) PersistentAccounts() []types.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistent.ToSlice()
}

// ApplyDiff writes an account diff into the top frame.
func (s *StateDB) ApplyDiff(diff map[types.Address]*types.AccountOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, o := range diff {
		e := s.topEntryLocked(addr)
		if o.Nonce != nil {
			n := *o.Nonce
			e.nonce = &n
		}
		if o.Balance != nil {
			e.balance = new(big.Int).Set(o.Balance)
		}
		if o.Code != nil {
			e.code = append([]byte(nil), o.Code...)
			e.codeSet = true
		}
		if len(o.Storage) > 0 {
			if e.storage == nil {
				e.storage = make(map[types.Hash]types.Hash)
			}
			for slot, v := range o.Storage {
				e.storage[slot] = v
			}
		}
	}
	s.version++
}

// Changeset merges every write since the checkpoint into an account diff.
func (s *StateDB) Changeset(cp int) map[types.Address]*types.AccountOverride {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp < 0 {
		cp = 0
	}
	merged := newFrame()
	for _, f := range s.frames[min(cp, len(s.frames)):] {
		mergeFrame(merged, f)
	}

	out := make(map[types.Address]*types.AccountOverride, len(merged.accounts))
	for addr, e := range merged.accounts {
		o := &types.AccountOverride{}
		if e.nonce != nil {
			n := *e.nonce
			o.Nonce = &n
		}
		if e.balance != nil {
			o.Balance = new(big.Int).Set(e.balance)
		}
		if e.codeSet {
			o.Code = append([]byte(nil), e.code...)
		}
		if len(e.storage) > 0 {
			o.Storage = make(map[types.Hash]types.Hash, len(e.storage))
			for slot, v := range e.storage {
				o.Storage[slot] = v
			}
		}
		out[addr] = o
	}
	return out
}

// Clone returns an independent deep copy sharing nothing with the receiver.
func (s *StateDB) Clone() *StateDB {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := &StateDB{
		reader:         s.reader,
		snapshots:      make(map[uint64]snapshotRecord, len(s.snapshots)),
		nextSnapshotID: s.nextSnapshotID,
		persistent:     s.persistent.Clone(),
		forkID:         s.forkID,
		hashGen:        s.hashGen.Clone(),
		version:        s.version,
	}
	cpy.frames = make([]*frame, len(s.frames))
	for i, f := range s.frames {
		nf := newFrame()
		mergeFrame(nf, f)
		cpy.frames[i] = nf
	}
	for id, rec := range s.snapshots {
		cpy.snapshots[id] = snapshotRecord{
			frameCount: rec.frameCount,
			persistent: rec.persistent.Clone(),
			forkID:     rec.forkID,
		}
	}
	return cpy
}

// topEntryLocked returns the mutable entry of addr in the top frame.
func (s *StateDB) topEntryLocked(addr types.Address) *accountEntry {
	return s.frames[len(s.frames)-1].entry(addr)
}

func (s *StateDB) baseInfoLocked(addr types.Address) (*AccountInfo, error) {
	if s.reader == nil {
		return nil, nil
	}
	return s.reader.AccountInfo(addr)
}

// mergeFrame applies src on top of dst.
func mergeFrame(dst, src *frame) {
	for addr, e := range src.accounts {
		d := dst.entry(addr)
		if e.created {
			*d = accountEntry{created: true}
		}
		if e.nonce != nil {
			n := *e.nonce
			d.nonce = &n
		}
		if e.balance != nil {
			d.balance = new(big.Int).Set(e.balance)
		}
		if e.codeSet {
			d.code = append([]byte(nil), e.code...)
			d.codeSet = true
		}
		if len(e.storage) > 0 {
			if d.storage == nil {
				d.storage = make(map[types.Hash]types.Hash, len(e.storage))
			}
			for slot, v := range e.storage {
				d.storage[slot] = v
			}
		}
	}
}
