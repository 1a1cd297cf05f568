// Package blockstore provides sparse, reservation-aware storage for locally
// produced blocks. Reserved ranges represent runs of empty blocks that are
// never materialized unless a caller asks for one by number, which keeps
// "mine N blocks" constant-time regardless of N.
package blockstore

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// Storage errors.
var (
	// ErrBlockExists is returned when inserting a block number that is
	// already materialized.
	ErrBlockExists = errors.New("blockstore: block number already exists")

	// ErrInvalidParentHash is returned when an inserted block does not link
	// to the current tip.
	ErrInvalidParentHash = errors.New("blockstore: parent hash mismatch")

	// ErrNonConsecutiveBlock is returned when an inserted block number is
	// not tip + 1.
	ErrNonConsecutiveBlock = errors.New("blockstore: non-consecutive block number")

	// ErrUnknownBlock is returned for lookups outside the stored range.
	ErrUnknownBlock = errors.New("blockstore: unknown block")
)

// StateDiff records the account changes a block applied, keyed by address.
type StateDiff map[types.Address]*types.AccountOverride

// Anchor describes the block the storage is rooted on: the fork point for a
// forked chain, or the genesis block for a local one.
type Anchor struct {
	Number          uint64
	Hash            types.Hash
	Timestamp       uint64
	StateRoot       types.Hash
	BaseFee         *big.Int
	GasLimit        uint64
	TotalDifficulty *big.Int
}

// tipInfo is the rolling snapshot of the highest stored block, reserved or
// materialized. Reservations synthesize their blocks from the snapshot taken
// when they were created.
type tipInfo struct {
	number          uint64
	hash            types.Hash
	timestamp       uint64
	stateRoot       types.Hash
	baseFee         *big.Int
	gasLimit        uint64
	totalDifficulty *big.Int
}

// reservation is a contiguous run of virtual empty blocks. parent is the tip
// snapshot at creation time; block k of the run has timestamp
// parent.timestamp + (k - parent.number) * interval.
type reservation struct {
	first    uint64
	last     uint64
	interval uint64
	parent   tipInfo
}

type entry struct {
	block           *types.Block
	receipts        []*types.Receipt
	stateDiff       StateDiff
	totalDifficulty *big.Int
}

type txLocation struct {
	blockNumber uint64
	txIndex     int
}

// Storage is a reservable sparse block store. All methods are safe for
// concurrent use.
type Storage struct {
	mu sync.RWMutex

	config *core.BlockConfig
	anchor Anchor

	blocks       map[uint64]*entry
	byHash       map[types.Hash]uint64
	byTxHash     map[types.Hash]txLocation
	reservations []reservation

	tip tipInfo
}

// New creates a storage anchored on the given block. The config drives header
// synthesis for reserved blocks.
func New(config *core.BlockConfig, anchor Anchor) *Storage {
	return &Storage{
		config:   config,
		anchor:   anchor,
		blocks:   make(map[uint64]*entry),
		byHash:   make(map[types.Hash]uint64),
		byTxHash: make(map[types.Hash]txLocation),
		tip: tipInfo{
			number:          anchor.Number,
			hash:            anchor.Hash,
			timestamp:       anchor.Timestamp,
			stateRoot:       anchor.StateRoot,
			baseFee:         anchor.BaseFee,
			gasLimit:        anchor.GasLimit,
			totalDifficulty: anchor.TotalDifficulty,
		},
	}
}

// LastBlockNumber returns the number of the highest stored block, counting
// reserved blocks.
func (s *Storage) LastBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.number
}

// AnchorNumber returns the number of the block the storage is rooted on.
func (s *Storage) AnchorNumber() uint64 { return s.anchor.Number }

// Contains reports whether the number refers to a stored block, reserved or
// materialized, excluding the anchor itself.
func (s *Storage) Contains(number uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return number > s.anchor.Number && number <= s.tip.number
}

// InsertBlock appends a block at tip + 1, recording its receipts, state diff
// and cumulative total difficulty. The block's parent hash must match the
// tip; a reserved tip is materialized first to resolve its hash.
func (s *Storage) InsertBlock(block *types.Block, receipts []*types.Receipt, diff StateDiff, totalDifficulty *big.Int) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number := block.NumberU64()
	if _, ok := s.blocks[number]; ok {
		return nil, fmt.Errorf("%w: %d", ErrBlockExists, number)
	}
	if number != s.tip.number+1 {
		return nil, fmt.Errorf("%w: got %d, tip is %d", ErrNonConsecutiveBlock, number, s.tip.number)
	}

	tipHash, err := s.tipHashLocked()
	if err != nil {
		return nil, err
	}
	if block.ParentHash() != tipHash {
		return nil, fmt.Errorf("%w: block %d links %v, tip is %v", ErrInvalidParentHash, number, block.ParentHash(), tipHash)
	}

	s.storeLocked(block, receipts, diff, totalDifficulty)
	return block, nil
}

// BlockByNumber returns the block with the given number, materializing it
// from a reservation if necessary. Returns ErrUnknownBlock for numbers
// outside the stored range.
func (s *Storage) BlockByNumber(number uint64) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockByNumberLocked(number)
}

// BlockByHash returns the materialized block with the given hash. Reserved
// blocks have no hash until materialized.
func (s *Storage) BlockByHash(hash types.Hash) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %v", ErrUnknownBlock, hash)
	}
	return s.blocks[number].block, nil
}

// TotalDifficultyByHash returns the cumulative total difficulty of a
// materialized block.
func (s *Storage) TotalDifficultyByHash(hash types.Hash) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %v", ErrUnknownBlock, hash)
	}
	return new(big.Int).Set(s.blocks[number].totalDifficulty), nil
}

// ReceiptByTxHash returns the receipt of the transaction with the given
// hash, or nil if the transaction is not stored.
func (s *Storage) ReceiptByTxHash(txHash types.Hash) *types.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.byTxHash[txHash]
	if !ok {
		return nil
	}
	e := s.blocks[loc.blockNumber]
	if loc.txIndex >= len(e.receipts) {
		return nil
	}
	return e.receipts[loc.txIndex]
}

// BlockByTxHash returns the materialized block containing the transaction,
// or nil.
func (s *Storage) BlockByTxHash(txHash types.Hash) *types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.byTxHash[txHash]
	if !ok {
		return nil
	}
	return s.blocks[loc.blockNumber].block
}

// ReceiptsByNumber returns the receipts of a materialized block. Reserved
// blocks have none.
func (s *Storage) ReceiptsByNumber(number uint64) []*types.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.blocks[number]; ok {
		return e.receipts
	}
	return nil
}

// StateDiffsUpTo merges the state diffs of all materialized blocks up to and
// including the given number, in block order.
func (s *Storage) StateDiffsUpTo(number uint64) StateDiff {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(StateDiff)
	for n := s.anchor.Number + 1; n <= number && n <= s.tip.number; n++ {
		e, ok := s.blocks[n]
		if !ok {
			continue
		}
		for addr, override := range e.stateDiff {
			merged[addr] = override
		}
	}
	return merged
}

// ReserveBlocks appends count virtual empty blocks after the current tip,
// each interval seconds apart.
func (s *Storage) ReserveBlocks(count, interval uint64) {
	if count == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := reservation{
		first:    s.tip.number + 1,
		last:     s.tip.number + count,
		interval: interval,
		parent:   s.tip,
	}
	s.reservations = append(s.reservations, r)

	s.tip.number = r.last
	s.tip.timestamp = r.parent.timestamp + count*interval
	s.tip.hash = types.Hash{} // unknown until materialized
}

// RevertToBlock discards every materialized block and reservation after the
// given number. Returns false if the number is not a stored block or the
// anchor.
func (s *Storage) RevertToBlock(number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number > s.tip.number || number < s.anchor.Number {
		return false
	}

	// A reserved target is materialized so the new tip has a hash.
	if number > s.anchor.Number {
		if _, ok := s.blocks[number]; !ok {
			if _, err := s.blockByNumberLocked(number); err != nil {
				return false
			}
		}
	}

	for n, e := range s.blocks {
		if n <= number {
			continue
		}
		delete(s.byHash, e.block.Hash())
		for _, tx := range e.block.Transactions() {
			delete(s.byTxHash, tx.Hash())
		}
		delete(s.blocks, n)
	}

	kept := s.reservations[:0]
	for _, r := range s.reservations {
		switch {
		case r.last <= number:
			kept = append(kept, r)
		case r.first <= number:
			r.last = number
			kept = append(kept, r)
		}
	}
	s.reservations = kept

	if number == s.anchor.Number {
		s.tip = tipInfo{
			number:          s.anchor.Number,
			hash:            s.anchor.Hash,
			timestamp:       s.anchor.Timestamp,
			stateRoot:       s.anchor.StateRoot,
			baseFee:         s.anchor.BaseFee,
			gasLimit:        s.anchor.GasLimit,
			totalDifficulty: s.anchor.TotalDifficulty,
		}
	} else {
		e := s.blocks[number]
		s.setTipFromEntryLocked(e)
	}
	return true
}

// Logs returns all logs of materialized blocks within the filter's block
// range that match its address and topic constraints. Reserved blocks carry
// no transactions and contribute nothing.
func (s *Storage) Logs(filter *types.LogFilter) []*types.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Log
	for n := filter.FromBlock; n <= filter.ToBlock && n <= s.tip.number; n++ {
		e, ok := s.blocks[n]
		if !ok {
			continue
		}
		for _, receipt := range e.receipts {
			for _, l := range receipt.Logs {
				if filter.Matches(l) {
					out = append(out, l)
				}
			}
		}
	}
	return out
}

// blockByNumberLocked materializes reserved ancestors as needed so that the
// returned block has a resolvable parent hash chain.
func (s *Storage) blockByNumberLocked(number uint64) (*types.Block, error) {
	if number < s.anchor.Number || number > s.tip.number {
		return nil, fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
	}
	if e, ok := s.blocks[number]; ok {
		return e.block, nil
	}
	if number == s.anchor.Number {
		return nil, fmt.Errorf("%w: anchor block %d is not stored locally", ErrUnknownBlock, number)
	}

	idx := s.reservationIndexLocked(number)
	if idx < 0 {
		return nil, fmt.Errorf("%w: number %d", ErrUnknownBlock, number)
	}
	r := s.reservations[idx]

	// Materialize the reserved prefix in order; each block needs its
	// parent's hash. The remainder of the run stays reserved.
	parentHash := r.parent.hash
	if prev, ok := s.blocks[r.first-1]; ok {
		parentHash = prev.block.Hash()
	} else if r.first-1 > s.anchor.Number {
		// The run starts on top of an earlier, still-reserved run.
		prevBlock, err := s.blockByNumberLocked(r.first - 1)
		if err != nil {
			return nil, err
		}
		parentHash = prevBlock.Hash()
		idx = s.reservationIndexLocked(number)
		r = s.reservations[idx]
	}
	var block *types.Block
	for n := r.first; n <= number; n++ {
		b, err := s.synthesizeLocked(r, n, parentHash)
		if err != nil {
			return nil, err
		}
		td := new(big.Int).Set(r.parent.totalDifficulty)
		s.blocks[n] = &entry{block: b, totalDifficulty: td}
		s.byHash[b.Hash()] = n
		parentHash = b.Hash()
		block = b
	}

	if number == r.last {
		s.reservations = append(s.reservations[:idx], s.reservations[idx+1:]...)
	} else {
		s.reservations[idx].first = number + 1
	}
	return block, nil
}

// synthesizeLocked builds the empty block at position n of a reservation.
func (s *Storage) synthesizeLocked(r reservation, n uint64, parentHash types.Hash) (*types.Block, error) {
	timestamp := r.parent.timestamp + (n-r.parent.number)*r.interval
	overrides := &core.HeaderOverrides{
		ParentHash: &parentHash,
		Number:     &n,
		Timestamp:  &timestamp,
		StateRoot:  &r.parent.stateRoot,
		GasLimit:   &r.parent.gasLimit,
	}
	if r.parent.baseFee != nil {
		overrides.BaseFee = r.parent.baseFee
	}

	partial, err := core.NewPartialHeader(s.config, overrides, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	header := partial.Finalize(types.EmptyRootHash)
	var body *types.Body
	if s.config.Hardfork.AtLeast(core.Shanghai) {
		body = &types.Body{Withdrawals: []*types.Withdrawal{}}
	}
	return types.NewBlock(header, body), nil
}

func (s *Storage) reservationIndexLocked(number uint64) int {
	for i, r := range s.reservations {
		if number >= r.first && number <= r.last {
			return i
		}
	}
	return -1
}

// tipHashLocked resolves the hash of the tip block, materializing it when the
// tip is reserved.
func (s *Storage) tipHashLocked() (types.Hash, error) {
	if s.tip.number == s.anchor.Number {
		return s.anchor.Hash, nil
	}
	if e, ok := s.blocks[s.tip.number]; ok {
		return e.block.Hash(), nil
	}
	block, err := s.blockByNumberLocked(s.tip.number)
	if err != nil {
		return types.Hash{}, err
	}
	return block.Hash(), nil
}

func (s *Storage) storeLocked(block *types.Block, receipts []*types.Receipt, diff StateDiff, totalDifficulty *big.Int) {
	number := block.NumberU64()
	e := &entry{
		block:           block,
		receipts:        receipts,
		stateDiff:       diff,
		totalDifficulty: totalDifficulty,
	}
	s.blocks[number] = e
	s.byHash[block.Hash()] = number
	for i, tx := range block.Transactions() {
		s.byTxHash[tx.Hash()] = txLocation{blockNumber: number, txIndex: i}
	}
	s.setTipFromEntryLocked(e)
}

func (s *Storage) setTipFromEntryLocked(e *entry) {
	header := e.block.HeaderNoCopy()
	s.tip = tipInfo{
		number:          header.NumberU64(),
		hash:            e.block.Hash(),
		timestamp:       header.Time,
		stateRoot:       header.Root,
		baseFee:         header.BaseFee,
		gasLimit:        header.GasLimit,
		totalDifficulty: e.totalDifficulty,
	}
}
