package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/NomicFoundation/edr-sub001/miner"
)

// IncreaseTime shifts the clock used for block timestamps forward and
// returns the total accumulated offset in seconds.
func (p *Provider) IncreaseTime(seconds int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeOffset += seconds
	return p.timeOffset
}

// SetNextBlockTimestamp pins the timestamp of the next mined block. It must
// land strictly after the current tip.
func (p *Provider) SetNextBlockTimestamp(ctx context.Context, timestamp uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tip, err := p.chain.BlockByNumber(ctx, p.chain.LastBlockNumber())
	if err != nil {
		return err
	}
	if timestamp <= tip.Time() {
		return fmt.Errorf("provider: timestamp %d is not after the current block time %d", timestamp, tip.Time())
	}
	p.nextTimestamp = timestamp
	return nil
}

// Mine mines one block immediately. A non-nil timestamp overrides the block
// time.
func (p *Provider) Mine(ctx context.Context, timestamp *uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.mineBlockLocked(ctx, timestamp)
	return err
}

// Snapshot records the current chain, state, time and pool for a later
// Revert.
func (p *Provider) Snapshot() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Revert restores the snapshot with the given id. It reports false when the
// id is unknown or already consumed.
func (p *Provider) Revert(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revertLocked(id)
}

// SetAutomine toggles mining a block per submitted transaction. Turning it
// on mines any pooled transactions immediately.
func (p *Provider) SetAutomine(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.automine = enabled
	if enabled && p.pool.Count() > 0 {
		_, err := p.mineBlockLocked(ctx, nil)
		return err
	}
	return nil
}

// SetBlockGasLimit pins the gas limit of all future blocks.
func (p *Provider) SetBlockGasLimit(limit uint64) error {
	if limit == 0 {
		return fmt.Errorf("provider: block gas limit must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gasLimit = limit
	p.chain.PinGasLimit(limit)
	p.pool.SetBlockGasLimit(limit)
	return nil
}

// SetIntervalMining reconfigures the timer-driven miner. Zero disables it.
func (p *Provider) SetIntervalMining(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval != nil {
		p.interval.Stop()
		p.interval = nil
	}
	if interval > 0 {
		p.interval = miner.NewIntervalMiner(p.miner, interval, p.logger)
		p.interval.Start()
	}
}
