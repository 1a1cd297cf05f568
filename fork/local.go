package fork

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/blockstore"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/log"
)

// LocalConfig parameterises a chain started from a fresh genesis block
// instead of a remote fork point.
type LocalConfig struct {
	ChainID  uint64
	Hardfork core.Hardfork

	// Genesis overrides the computed genesis header fields (timestamp, gas
	// limit, base fee, beneficiary, extra data). Nil uses the defaults.
	Genesis *core.HeaderOverrides

	// BlockConfig parameterises locally built headers. Nil uses the default
	// config at Hardfork.
	BlockConfig *core.BlockConfig
}

// NewLocalBlockchain builds a genesis block and anchors local storage on it.
// The result is a Blockchain with no remote side: every read below the
// genesis fails, and the splice rules collapse to local-only dispatch.
func NewLocalBlockchain(config LocalConfig, logger *log.Logger) (*Blockchain, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.Module("chain")

	blockConfig := config.BlockConfig
	if blockConfig == nil {
		blockConfig = core.DefaultBlockConfig(config.Hardfork)
	}

	overrides := config.Genesis
	if overrides == nil {
		overrides = &core.HeaderOverrides{}
	}
	var withdrawals []*types.Withdrawal
	if config.Hardfork.AtLeast(core.Shanghai) {
		withdrawals = []*types.Withdrawal{}
	}
	partial, err := core.NewPartialHeader(blockConfig, overrides, nil, nil, withdrawals)
	if err != nil {
		return nil, err
	}
	partial.ReceiptsRoot = types.EmptyRootHash
	header := partial.Finalize(types.EmptyRootHash)
	genesisBlock := types.NewBlock(header, &types.Body{Withdrawals: withdrawals})

	td := new(big.Int)
	if header.Difficulty != nil {
		td.Set(header.Difficulty)
	}
	genesis := &Block{Block: genesisBlock, Hash: genesisBlock.Hash(), TotalDifficulty: td}

	local := blockstore.New(blockConfig, blockstore.Anchor{
		Number:          header.NumberU64(),
		Hash:            genesis.Hash,
		Timestamp:       header.Time,
		StateRoot:       header.Root,
		BaseFee:         header.BaseFee,
		GasLimit:        header.GasLimit,
		TotalDifficulty: td,
	})

	b := &Blockchain{
		local:           local,
		logger:          logger,
		genesis:         genesis,
		forkBlockNumber: header.NumberU64(),
		remoteChainID:   config.ChainID,
		chainID:         config.ChainID,
		hardfork:        config.Hardfork,
		remoteFork:      config.Hardfork,
		blockConfig:     blockConfig,
	}
	logger.Info("local chain initialized", "chain_id", config.ChainID, "genesis", genesis.Hash, "hardfork", config.Hardfork.String())
	return b, nil
}
