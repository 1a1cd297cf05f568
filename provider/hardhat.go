package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/version"
)

// MineBlocks mines count blocks at once, interval seconds apart. The first
// block is assembled from the pool; the rest are installed as block-store
// reservations and materialize lazily on access.
func (p *Provider) MineBlocks(ctx context.Context, count, interval uint64) error {
	if count == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.mineBlockLocked(ctx, nil); err != nil {
		return err
	}
	if count > 1 {
		p.miner.MineReservedBlocks(count-1, interval)
	}
	return nil
}

// Reset discards all chain and provider state and rebuilds from the given
// fork settings. An empty URL resets to a fresh local chain.
func (p *Provider) Reset(ctx context.Context, forkURL string, forkBlockNumber *uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg.ForkURL = forkURL
	p.cfg.ForkBlockNumber = forkBlockNumber

	if err := p.initChain(ctx); err != nil {
		return err
	}
	p.snapshots = nil
	p.nextTimestamp = 0
	p.nextBaseFee = nil
	p.prevRandao = nil
	p.timeOffset = 0
	p.filters = newFilterManager(filterTimeout)
	return nil
}

// SetBalance overwrites an account balance.
func (p *Provider) SetBalance(addr types.Address, balance *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exec.StateDB().SetBalance(addr, balance)
}

// SetCode overwrites an account's code.
func (p *Provider) SetCode(addr types.Address, code []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exec.StateDB().SetCode(addr, code)
}

// SetNonce overwrites an account nonce. Nonces never decrease: pooled
// transactions and replay protection depend on monotonicity.
func (p *Provider) SetNonce(addr types.Address, nonce uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.exec.StateDB().Nonce(addr)
	if err != nil {
		return err
	}
	if nonce < current {
		return fmt.Errorf("provider: cannot lower the nonce of %s from %d to %d", addr, current, nonce)
	}
	p.exec.StateDB().SetNonce(addr, nonce)
	return nil
}

// SetStorageAt overwrites one storage slot.
func (p *Provider) SetStorageAt(addr types.Address, slot, value types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exec.StateDB().SetStorage(addr, slot, value)
}

// SetCoinbase changes the beneficiary of future blocks.
func (p *Provider) SetCoinbase(addr types.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Coinbase = addr
	p.miner.SetBeneficiary(addr)
}

// SetMinGasPrice sets the floor for legacy gas prices. Only meaningful
// before the fee market; afterwards the base fee governs inclusion.
func (p *Provider) SetMinGasPrice(price *big.Int) error {
	if p.cfg.Hardfork.AtLeast(core.London) {
		return fmt.Errorf("%w: hardhat_setMinGasPrice after the london hardfork", ErrUnsupportedOperation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minGasPrice = price
	return nil
}

// SetNextBlockBaseFeePerGas pins the base fee of the next mined block.
func (p *Provider) SetNextBlockBaseFeePerGas(fee *big.Int) error {
	if !p.cfg.Hardfork.AtLeast(core.London) {
		return fmt.Errorf("%w: base fees require the london hardfork", ErrUnsupportedOperation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextBaseFee = new(big.Int).Set(fee)
	return nil
}

// SetPrevRandao pins the prevRandao (mixHash) of the next mined block.
func (p *Provider) SetPrevRandao(value types.Hash) error {
	if !p.cfg.Hardfork.AtLeast(core.Merge) {
		return fmt.Errorf("%w: prevRandao requires the merge hardfork", ErrUnsupportedOperation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prevRandao = &value
	return nil
}

// ImpersonateAccount lets transactions be sent from an address whose key the
// node does not hold.
func (p *Provider) ImpersonateAccount(addr types.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.impersonated[addr] = struct{}{}
}

// StopImpersonatingAccount reverses ImpersonateAccount. It reports whether
// the address was impersonated.
func (p *Provider) StopImpersonatingAccount(addr types.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.impersonated[addr]
	delete(p.impersonated, addr)
	return ok
}

// DropTransaction removes a pooled transaction. Mined transactions cannot be
// dropped.
func (p *Provider) DropTransaction(ctx context.Context, hash types.Hash) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool.Get(hash) != nil {
		p.pool.Remove(hash)
		return true, nil
	}
	if _, err := p.chain.ReceiptByTxHash(ctx, hash); err == nil {
		return false, fmt.Errorf("provider: transaction %s was already mined", hash)
	}
	return false, nil
}

// GetAutomine reports whether a block is mined per submitted transaction.
func (p *Provider) GetAutomine() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.automine
}

// SetLoggingEnabled toggles mined-block and console logging.
func (p *Provider) SetLoggingEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggingEnabled = enabled
}

// Metadata is the hardhat_metadata result.
type Metadata struct {
	ClientVersion     string         `json:"clientVersion"`
	ChainID           hexutil.Uint64 `json:"chainId"`
	InstanceID        types.Hash     `json:"instanceId"`
	LatestBlockNumber hexutil.Uint64 `json:"latestBlockNumber"`
	LatestBlockHash   types.Hash     `json:"latestBlockHash"`
	ForkedNetwork     *ForkMetadata  `json:"forkedNetwork,omitempty"`
}

// ForkMetadata describes the remote chain a forked node is anchored to.
type ForkMetadata struct {
	ChainID         hexutil.Uint64 `json:"chainId"`
	ForkBlockNumber hexutil.Uint64 `json:"forkBlockNumber"`
	ForkBlockHash   types.Hash     `json:"forkBlockHash"`
}

// Metadata describes this node instance.
func (p *Provider) Metadata(ctx context.Context) (*Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tip, err := p.chain.BlockByNumber(ctx, p.chain.LastBlockNumber())
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		ClientVersion:     version.ClientVersion(),
		ChainID:           hexutil.Uint64(p.cfg.ChainID),
		InstanceID:        p.instanceID,
		LatestBlockNumber: hexutil.Uint64(tip.NumberU64()),
		LatestBlockHash:   tip.Hash,
	}
	if p.chain.IsForked() {
		forkBlock, err := p.chain.BlockByNumber(ctx, p.chain.ForkBlockNumber())
		if err != nil {
			return nil, err
		}
		md.ForkedNetwork = &ForkMetadata{
			ChainID:         hexutil.Uint64(p.chain.ChainID()),
			ForkBlockNumber: hexutil.Uint64(p.chain.ForkBlockNumber()),
			ForkBlockHash:   forkBlock.Hash,
		}
	}
	return md, nil
}

// AddCompilationResult records compiler output so stack traces can resolve
// contract names. The payload is kept verbatim.
func (p *Provider) AddCompilationResult(solcVersion string, input, output json.RawMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compilations = append(p.compilations, compilationResult{
		solcVersion: solcVersion,
		input:       input,
		output:      output,
	})
	return true
}

// compilationResult is one hardhat_addCompilationResult payload.
type compilationResult struct {
	solcVersion string
	input       json.RawMessage
	output      json.RawMessage
}
