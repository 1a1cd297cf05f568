package remote

import (
	"context"
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// Block is a remote block together with the hash reported by the upstream
// node and its cached total difficulty. The reported hash is authoritative:
// remote headers may carry fields the local model does not rehash.
type Block struct {
	*types.Block
	Hash            types.Hash
	TotalDifficulty *big.Int
}

const blockCacheSize = 512

// Blockchain memoizes remote block lookups by number and by hash. For any
// given key at most one fetch is in flight; concurrent callers share the
// result.
type Blockchain struct {
	client *Client

	group    singleflight.Group
	byNumber *lru.Cache[uint64, *Block]
	byHash   *lru.Cache[types.Hash, *Block]
}

// NewBlockchain creates a memoizing view over the given client.
func NewBlockchain(client *Client) (*Blockchain, error) {
	byNumber, err := lru.New[uint64, *Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	byHash, err := lru.New[types.Hash, *Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	return &Blockchain{
		client:   client,
		byNumber: byNumber,
		byHash:   byHash,
	}, nil
}

// Client exposes the underlying RPC client for non-block queries.
func (b *Blockchain) Client() *Client { return b.client }

// ChainID returns the remote chain id.
func (b *Blockchain) ChainID(ctx context.Context) (uint64, error) {
	return b.client.ChainID(ctx)
}

// LatestBlockNumber returns the current remote tip; never memoized.
func (b *Blockchain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return b.client.LatestBlockNumber(ctx)
}

// BlockByNumber returns the remote block with the given number.
func (b *Blockchain) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	if block, ok := b.byNumber.Get(number); ok {
		return block, nil
	}

	key := fmt.Sprintf("number:%d", number)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		if block, ok := b.byNumber.Get(number); ok {
			return block, nil
		}
		block, err := b.client.BlockByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		b.store(block)
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Block), nil
}

// BlockByHash returns the remote block with the given hash.
func (b *Blockchain) BlockByHash(ctx context.Context, hash types.Hash) (*Block, error) {
	if block, ok := b.byHash.Get(hash); ok {
		return block, nil
	}

	key := "hash:" + hash.Hex()
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		if block, ok := b.byHash.Get(hash); ok {
			return block, nil
		}
		block, err := b.client.BlockByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		b.store(block)
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Block), nil
}

// ReceiptByTxHash returns the remote receipt for the given transaction.
func (b *Blockchain) ReceiptByTxHash(ctx context.Context, txHash types.Hash) (*types.Receipt, error) {
	key := "receipt:" + txHash.Hex()
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.client.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Receipt), nil
}

// TotalDifficultyByHash returns the cached total difficulty of a remote
// block.
func (b *Blockchain) TotalDifficultyByHash(ctx context.Context, hash types.Hash) (*big.Int, error) {
	block, err := b.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if block.TotalDifficulty == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(block.TotalDifficulty), nil
}

// Logs forwards a log query to the remote.
func (b *Blockchain) Logs(ctx context.Context, filter *types.LogFilter) ([]*types.Log, error) {
	return b.client.Logs(ctx, filter)
}

func (b *Blockchain) store(block *Block) {
	b.byNumber.Add(block.NumberU64(), block)
	b.byHash.Add(block.Hash, block)
}
