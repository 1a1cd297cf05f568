package core

import (
	"math/big"
)

// Chain ids with well-known behaviour.
const (
	MainnetChainID = 1
	DevChainID     = 31337
)

// BaseFeeParams are the EIP-1559 market constants of a chain.
type BaseFeeParams struct {
	// MaxChangeDenominator bounds the per-block base fee delta.
	MaxChangeDenominator uint64
	// ElasticityMultiplier relates the gas target to the gas limit.
	ElasticityMultiplier uint64
}

// DefaultBaseFeeParams returns the mainnet EIP-1559 constants.
func DefaultBaseFeeParams() BaseFeeParams {
	return BaseFeeParams{
		MaxChangeDenominator: 8,
		ElasticityMultiplier: 2,
	}
}

// InitialBaseFee is the network initial base fee (EIP-1559).
var InitialBaseFee = big.NewInt(1_000_000_000)

// BlockConfig carries everything the header builder needs to know about the
// chain: market constants, the active hardfork, the pre-merge difficulty
// floor and the optional EIP-7892 blob parameter schedule.
type BlockConfig struct {
	BaseFeeParams       BaseFeeParams
	Hardfork            Hardfork
	MinEthashDifficulty *big.Int
	ScheduledBlobParams []ScheduledBlobParams
}

// DefaultBlockConfig returns a config for a local chain at the given fork.
func DefaultBlockConfig(fork Hardfork) *BlockConfig {
	return &BlockConfig{
		BaseFeeParams:       DefaultBaseFeeParams(),
		Hardfork:            fork,
		MinEthashDifficulty: big.NewInt(131072),
	}
}

// ChainConfig identifies a chain and its fork schedule for the executor and
// fork layer.
type ChainConfig struct {
	ChainID  uint64
	Hardfork Hardfork
	History  *HardforkHistory
}

// ForkAt returns the fork active at the given block, preferring the recorded
// activation history and falling back to the configured fork.
func (c *ChainConfig) ForkAt(blockNumber, timestamp uint64) Hardfork {
	if c.History != nil {
		return c.History.ForkAt(blockNumber, timestamp)
	}
	return c.Hardfork
}
