// Package txpool holds transactions pending inclusion in locally mined
// blocks. Transactions are kept per sender in nonce order; the pool hands the
// miner a flat candidate list under one of two ordering strategies.
package txpool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// Pool limits.
const (
	// PriceBump is the minimum fee bump percentage for replace-by-fee.
	PriceBump = 10

	// MaxPoolSize is the maximum number of transactions the pool holds.
	MaxPoolSize = 4096

	// MaxNonceGap bounds how far ahead of the sender's state nonce a queued
	// transaction may sit.
	MaxNonceGap = 64
)

// Validation errors.
var (
	ErrAlreadyKnown           = errors.New("txpool: already known")
	ErrNonceTooLow            = errors.New("txpool: nonce too low")
	ErrNonceTooHigh           = errors.New("txpool: nonce too high")
	ErrGasLimit               = errors.New("txpool: exceeds block gas limit")
	ErrInsufficientFunds      = errors.New("txpool: insufficient funds for gas * price + value")
	ErrIntrinsicGas           = errors.New("txpool: intrinsic gas too low")
	ErrPoolFull               = errors.New("txpool: transaction pool is full")
	ErrFeeCapBelowTip         = errors.New("txpool: max fee per gas less than max priority fee per gas")
	ErrReplacementUnderpriced = errors.New("txpool: replacement transaction underpriced")
)

// Ordering selects the candidate order handed to the miner.
type Ordering int

const (
	// OrderPriorityFee sorts candidates by effective miner tip, highest
	// first, preserving per-sender nonce order.
	OrderPriorityFee Ordering = iota

	// OrderFIFO hands candidates out in arrival order, preserving
	// per-sender nonce order.
	OrderFIFO
)

// StateReader supplies the account state transactions are validated against.
// state.StateDB satisfies it.
type StateReader interface {
	Nonce(addr types.Address) (uint64, error)
	Balance(addr types.Address) (*big.Int, error)
}

// Config holds pool limits.
type Config struct {
	MaxSize       int
	BlockGasLimit uint64
}

// DefaultConfig returns the limits a development node runs with.
func DefaultConfig() Config {
	return Config{
		MaxSize:       MaxPoolSize,
		BlockGasLimit: 30_000_000,
	}
}

// pooledTx pairs a transaction with its arrival sequence number.
type pooledTx struct {
	tx  *types.Transaction
	seq uint64
}

// senderTxs is a sender's transactions in ascending nonce order.
type senderTxs struct {
	items []pooledTx
}

func (l *senderTxs) insert(ptx pooledTx) (replaced *types.Transaction) {
	i := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].tx.Nonce >= ptx.tx.Nonce
	})
	if i < len(l.items) && l.items[i].tx.Nonce == ptx.tx.Nonce {
		replaced = l.items[i].tx
		l.items[i] = ptx
		return replaced
	}
	l.items = append(l.items, pooledTx{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = ptx
	return nil
}

func (l *senderTxs) removeBelow(nonce uint64) []*types.Transaction {
	var dropped []*types.Transaction
	keep := l.items[:0]
	for _, ptx := range l.items {
		if ptx.tx.Nonce < nonce {
			dropped = append(dropped, ptx.tx)
		} else {
			keep = append(keep, ptx)
		}
	}
	l.items = keep
	return dropped
}

// Pool is the pending-transaction pool.
type Pool struct {
	mu sync.RWMutex

	config  Config
	state   StateReader
	baseFee *big.Int

	bySender map[types.Address]*senderTxs
	byHash   map[types.Hash]*types.Transaction
	count    int
	nextSeq  uint64
}

// New creates a pool validating against the given state.
func New(config Config, state StateReader) *Pool {
	return &Pool{
		config:   config,
		state:    state,
		bySender: make(map[types.Address]*senderTxs),
		byHash:   make(map[types.Hash]*types.Transaction),
	}
}

// SetBaseFee updates the base fee used for candidate ordering.
func (p *Pool) SetBaseFee(baseFee *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseFee = baseFee
}

// SetBlockGasLimit updates the per-transaction gas ceiling.
func (p *Pool) SetBlockGasLimit(limit uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.BlockGasLimit = limit
}

// Add validates and inserts a transaction. A transaction with a nonce already
// pooled for the same sender replaces the old one if it bumps the fee by at
// least PriceBump percent.
func (p *Pool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, ok := p.byHash[hash]; ok {
		return ErrAlreadyKnown
	}
	if err := p.validateLocked(tx); err != nil {
		return err
	}

	list, ok := p.bySender[tx.From]
	if !ok {
		list = &senderTxs{}
		p.bySender[tx.From] = list
	}

	if existing := p.findNonceLocked(list, tx.Nonce); existing != nil {
		if !sufficientBump(existing, tx) {
			return ErrReplacementUnderpriced
		}
	} else if p.count >= p.config.MaxSize {
		return ErrPoolFull
	}

	if replaced := list.insert(pooledTx{tx: tx, seq: p.nextSeq}); replaced != nil {
		delete(p.byHash, replaced.Hash())
		p.count--
	}
	p.nextSeq++
	p.byHash[hash] = tx
	p.count++
	return nil
}

func (p *Pool) validateLocked(tx *types.Transaction) error {
	if tx.Gas > p.config.BlockGasLimit {
		return fmt.Errorf("%w: gas %d, limit %d", ErrGasLimit, tx.Gas, p.config.BlockGasLimit)
	}
	if tx.Gas < intrinsicGas(tx.Data, tx.IsCreate()) {
		return ErrIntrinsicGas
	}
	if tx.GasFeeCap != nil && tx.GasTipCap != nil && tx.GasFeeCap.Cmp(tx.GasTipCap) < 0 {
		return ErrFeeCapBelowTip
	}

	nonce, err := p.state.Nonce(tx.From)
	if err != nil {
		return err
	}
	if tx.Nonce < nonce {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooLow, tx.Nonce, nonce)
	}
	if tx.Nonce > nonce+MaxNonceGap {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooHigh, tx.Nonce, nonce)
	}

	balance, err := p.state.Balance(tx.From)
	if err != nil {
		return err
	}
	cost := new(big.Int).Mul(tx.EffectiveGasPrice(nil), new(big.Int).SetUint64(tx.Gas))
	cost.Add(cost, tx.ValueOrZero())
	if balance.Cmp(cost) < 0 {
		return fmt.Errorf("%w: cost %v, balance %v", ErrInsufficientFunds, cost, balance)
	}
	return nil
}

func (p *Pool) findNonceLocked(list *senderTxs, nonce uint64) *types.Transaction {
	for _, ptx := range list.items {
		if ptx.tx.Nonce == nonce {
			return ptx.tx
		}
	}
	return nil
}

// sufficientBump checks the replace-by-fee bump on both the fee cap and the
// tip.
func sufficientBump(oldTx, newTx *types.Transaction) bool {
	bump := func(old, next *big.Int) bool {
		if old == nil {
			return true
		}
		if next == nil {
			return false
		}
		threshold := new(big.Int).Mul(old, big.NewInt(100+PriceBump))
		threshold.Div(threshold, big.NewInt(100))
		return next.Cmp(threshold) >= 0
	}
	return bump(oldTx.EffectiveGasPrice(nil), newTx.EffectiveGasPrice(nil)) &&
		bump(oldTx.EffectiveGasTip(nil), newTx.EffectiveGasTip(nil))
}

// Get returns the pooled transaction with the given hash, or nil.
func (p *Pool) Get(hash types.Hash) *types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byHash[hash]
}

// All returns every pooled transaction in arrival order, including gapped
// tails the miner would not see.
func (p *Pool) All() []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make([]pooledTx, 0, p.count)
	for _, list := range p.bySender {
		all = append(all, list.items...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]*types.Transaction, len(all))
	for i, ptx := range all {
		out[i] = ptx.tx
	}
	return out
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Remove drops a transaction by hash.
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	p.count--

	list := p.bySender[tx.From]
	for i, ptx := range list.items {
		if ptx.tx.Hash() == hash {
			list.items = append(list.items[:i], list.items[i+1:]...)
			break
		}
	}
	if len(list.items) == 0 {
		delete(p.bySender, tx.From)
	}
}

// Prune drops every transaction whose nonce the state has already passed,
// after a block was mined or the state was swapped.
func (p *Pool) Prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for from, list := range p.bySender {
		nonce, err := p.state.Nonce(from)
		if err != nil {
			continue
		}
		for _, tx := range list.removeBelow(nonce) {
			delete(p.byHash, tx.Hash())
			p.count--
		}
		if len(list.items) == 0 {
			delete(p.bySender, from)
		}
	}
}

// Reset swaps the state the pool validates against and prunes stale entries.
func (p *Pool) Reset(state StateReader) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	p.Prune()
}

// Candidates returns the pooled transactions in the given order. Only
// transactions whose nonce chain starts at the sender's state nonce are
// included; gapped tails stay pooled but are not handed out.
func (p *Pool) Candidates(order Ordering) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type head struct {
		items []pooledTx
	}
	ready := make([]*head, 0, len(p.bySender))
	for from, list := range p.bySender {
		nonce, err := p.state.Nonce(from)
		if err != nil || len(list.items) == 0 {
			continue
		}
		// Contiguous run starting at the state nonce.
		start := -1
		for i, ptx := range list.items {
			if ptx.tx.Nonce == nonce {
				start = i
				break
			}
		}
		if start < 0 {
			continue
		}
		run := []pooledTx{list.items[start]}
		for i := start + 1; i < len(list.items); i++ {
			if list.items[i].tx.Nonce != run[len(run)-1].tx.Nonce+1 {
				break
			}
			run = append(run, list.items[i])
		}
		ready = append(ready, &head{items: run})
	}

	// Merge the per-sender runs by repeatedly taking the best head, which
	// keeps each sender's nonce order intact under either strategy.
	better := func(a, b pooledTx) bool {
		if order == OrderFIFO {
			return a.seq < b.seq
		}
		tipA := a.tx.EffectiveGasTip(p.baseFee)
		tipB := b.tx.EffectiveGasTip(p.baseFee)
		if c := tipA.Cmp(tipB); c != 0 {
			return c > 0
		}
		return a.seq < b.seq
	}

	var out []*types.Transaction
	for {
		best := -1
		for i, h := range ready {
			if len(h.items) == 0 {
				continue
			}
			if best < 0 || better(h.items[0], ready[best].items[0]) {
				best = i
			}
		}
		if best < 0 {
			return out
		}
		out = append(out, ready[best].items[0].tx)
		ready[best].items = ready[best].items[1:]
	}
}

// Intrinsic gas constants (EIP-2028).
const (
	txGas                 = 21000
	txGasContractCreation = 53000
	txDataZeroGas         = 4
	txDataNonZeroGas      = 16
)

func intrinsicGas(data []byte, isCreate bool) uint64 {
	gas := uint64(txGas)
	if isCreate {
		gas = txGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}
