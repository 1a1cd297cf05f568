package miner

import (
	"context"
	"sync"
	"time"

	"github.com/NomicFoundation/edr-sub001/log"
)

// IntervalMiner mines a block every fixed wall-clock interval. Consecutive
// empty blocks are coalesced into a single logged range so an idle node does
// not flood the log; the range is flushed as soon as a non-empty block is
// mined or the miner stops.
type IntervalMiner struct {
	miner    *Miner
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool

	// Open empty-block range, valid while rangeOpen.
	rangeOpen  bool
	rangeStart uint64
	rangeEnd   uint64
}

// NewIntervalMiner creates an interval miner; Start begins mining.
func NewIntervalMiner(m *Miner, interval time.Duration, logger *log.Logger) *IntervalMiner {
	if logger == nil {
		logger = log.Discard()
	}
	return &IntervalMiner{
		miner:    m,
		interval: interval,
		logger:   logger.Module("miner"),
	}
}

// Start launches the mining loop. Starting a running miner is a no-op.
func (im *IntervalMiner) Start() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.running {
		return
	}
	im.running = true
	im.stop = make(chan struct{})
	im.done = make(chan struct{})
	go im.loop(im.stop, im.done)
}

// Stop halts the loop and flushes any open empty-block range. Stopping a
// stopped miner is a no-op.
func (im *IntervalMiner) Stop() {
	im.mu.Lock()
	if !im.running {
		im.mu.Unlock()
		return
	}
	im.running = false
	stop, done := im.stop, im.done
	im.mu.Unlock()

	close(stop)
	<-done
	im.flushRange()
}

// Running reports whether the loop is active.
func (im *IntervalMiner) Running() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.running
}

// Interval returns the configured mining period.
func (im *IntervalMiner) Interval() time.Duration { return im.interval }

func (im *IntervalMiner) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(im.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			im.mineOnce()
		}
	}
}

func (im *IntervalMiner) mineOnce() {
	result, err := im.miner.MineBlock(context.Background(), nil)
	if err != nil {
		im.flushRange()
		im.logger.Error("interval mining failed", "err", err)
		return
	}

	number := result.Block.NumberU64()
	if result.Empty() {
		im.mu.Lock()
		if im.rangeOpen {
			im.rangeEnd = number
		} else {
			im.rangeOpen = true
			im.rangeStart = number
			im.rangeEnd = number
		}
		im.mu.Unlock()
		return
	}

	im.flushRange()
	im.logger.Info("mined block", "number", number, "txs", len(result.Receipts), "gas", result.Block.GasUsed())
}

// flushRange logs and closes the open empty-block range, if any.
func (im *IntervalMiner) flushRange() {
	im.mu.Lock()
	open, start, end := im.rangeOpen, im.rangeStart, im.rangeEnd
	im.rangeOpen = false
	im.mu.Unlock()

	if !open {
		return
	}
	if start == end {
		im.logger.Info("mined empty block", "number", start)
	} else {
		im.logger.Info("mined empty block range", "from", start, "to", end)
	}
}
