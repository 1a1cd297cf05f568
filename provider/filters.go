package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/miner"
)

// filterTimeout is how long an unpolled filter survives before eviction.
const filterTimeout = 5 * time.Minute

type filterKind int

const (
	logFilterKind filterKind = iota
	blockFilterKind
	pendingTxFilterKind
)

// installedFilter is one eth_newFilter / eth_newBlockFilter /
// eth_newPendingTransactionFilter registration with its pending cursor.
type installedFilter struct {
	kind     filterKind
	criteria *types.LogFilter
	lastPoll time.Time

	pendingLogs   []*types.Log
	pendingHashes []types.Hash

	// matched accumulates every log the filter ever saw, for eth_getFilterLogs.
	matched []*types.Log
}

// filterManager tracks installed filters. Ids are monotonically increasing
// hex quantities; a filter not polled within the timeout is evicted.
type filterManager struct {
	mu      sync.Mutex
	timeout time.Duration
	nextID  uint64
	filters map[string]*installedFilter
	now     func() time.Time
}

func newFilterManager(timeout time.Duration) *filterManager {
	return &filterManager{
		timeout: timeout,
		filters: make(map[string]*installedFilter),
		now:     time.Now,
	}
}

func (m *filterManager) install(kind filterKind, criteria *types.LogFilter) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked()
	m.nextID++
	id := fmt.Sprintf("0x%x", m.nextID)
	m.filters[id] = &installedFilter{
		kind:     kind,
		criteria: criteria,
		lastPoll: m.now(),
	}
	return id
}

func (m *filterManager) uninstall(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.filters[id]
	delete(m.filters, id)
	return ok
}

// changes drains the filter's cursor. Log filters return logs; block and
// pending-transaction filters return hashes.
func (m *filterManager) changes(id string) (logs []*types.Log, hashes []types.Hash, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked()
	f, ok := m.filters[id]
	if !ok {
		return nil, nil, false
	}
	f.lastPoll = m.now()
	logs, f.pendingLogs = f.pendingLogs, nil
	hashes, f.pendingHashes = f.pendingHashes, nil
	return logs, hashes, true
}

// logs returns everything a log filter has matched since installation.
func (m *filterManager) logs(id string) ([]*types.Log, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.filters[id]
	if !ok || f.kind != logFilterKind {
		return nil, false
	}
	f.lastPoll = m.now()
	return append([]*types.Log(nil), f.matched...), true
}

// notifyBlock feeds a freshly mined block into the block and log filters.
func (m *filterManager) notifyBlock(result *miner.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.filters {
		switch f.kind {
		case blockFilterKind:
			f.pendingHashes = append(f.pendingHashes, result.Block.Hash)
		case logFilterKind:
			for _, receipt := range result.Receipts {
				for _, l := range receipt.Logs {
					if f.criteria == nil || f.criteria.Matches(l) {
						f.pendingLogs = append(f.pendingLogs, l)
						f.matched = append(f.matched, l)
					}
				}
			}
		}
	}
}

// notifyPending feeds a newly pooled transaction hash into the
// pending-transaction filters.
func (m *filterManager) notifyPending(txHash types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.filters {
		if f.kind == pendingTxFilterKind {
			f.pendingHashes = append(f.pendingHashes, txHash)
		}
	}
}

func (m *filterManager) evictLocked() {
	deadline := m.now().Add(-m.timeout)
	for id, f := range m.filters {
		if f.lastPoll.Before(deadline) {
			delete(m.filters, id)
		}
	}
}
