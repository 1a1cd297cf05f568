// Package remote fetches chain data from an upstream JSON-RPC node, with
// retries, an on-disk response cache and an in-memory memoization layer that
// guarantees a single in-flight fetch per key.
package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/log"
)

// ErrNotFound is returned when the remote has no data for the request.
var ErrNotFound = errors.New("remote: not found")

// Transport abstracts the JSON-RPC connection; *rpc.Client satisfies it.
type Transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Client is a retrying JSON-RPC client with an optional on-disk cache for
// immutable responses.
type Client struct {
	transport Transport
	cacheDir  string
	logger    *log.Logger

	maxElapsed time.Duration

	chainIDOnce sync.Once
	chainID     uint64
	chainIDErr  error
}

// Dial connects to the given JSON-RPC endpoint. cacheDir may be empty to
// disable the on-disk cache.
func Dial(ctx context.Context, url, cacheDir string, logger *log.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("remote: dialing %s: %w", url, err)
	}
	return NewClient(rpcClient, cacheDir, logger), nil
}

// NewClient wraps an existing transport.
func NewClient(transport Transport, cacheDir string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		transport:  transport,
		cacheDir:   cacheDir,
		logger:     logger.Module("remote"),
		maxElapsed: 30 * time.Second,
	}
}

// call performs a JSON-RPC call with exponential backoff on transport
// failures. Errors reported by the remote method itself are not retried.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed

	return backoff.Retry(func() error {
		err := c.transport.CallContext(ctx, result, method, args...)
		if err == nil {
			return nil
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("retrying remote call", "method", method, "err", err)
		return err
	}, backoff.WithContext(policy, ctx))
}

// callCached performs a call whose response is immutable (keyed by concrete
// block number or hash) and may be served from the on-disk cache.
func (c *Client) callCached(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.cacheDir == "" {
		return c.call(ctx, result, method, args...)
	}

	path, err := c.cachePath(ctx, method, args)
	if err != nil {
		// Cache unavailable; fall through to the network.
		return c.call(ctx, result, method, args...)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, result); err == nil {
			return nil
		}
		// Corrupt entry; refetch.
		_ = os.Remove(path)
	}

	var raw json.RawMessage
	if err := c.call(ctx, &raw, method, args...); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &DecodeError{Method: method, Err: err}
	}
	// Null responses (missing data) are not cached.
	if string(raw) != "null" {
		c.writeCacheEntry(path, raw)
	}
	return nil
}

// cachePath is <dir>/<chain_id>/<method>/<args_hash>.json.
func (c *Client) cachePath(ctx context.Context, method string, args []interface{}) (string, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	dir := filepath.Join(c.cacheDir, fmt.Sprintf("%d", chainID), method)
	return filepath.Join(dir, hex.EncodeToString(sum[:])+".json"), nil
}

// writeCacheEntry stores a response atomically: write to a temp file, then
// rename into place.
func (c *Client) writeCacheEntry(path string, data []byte) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Debug("cache dir creation failed", "dir", dir, "err", err)
		return
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(name)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
	}
}

// ChainID returns the remote chain id, fetched once.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	c.chainIDOnce.Do(func() {
		var id hexutil.Big
		if err := c.call(ctx, &id, "eth_chainId"); err != nil {
			c.chainIDErr = err
			return
		}
		c.chainID = (*big.Int)(&id).Uint64()
	})
	return c.chainID, c.chainIDErr
}

// LatestBlockNumber fetches the current remote tip. Never cached.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number hexutil.Uint64
	if err := c.call(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(number), nil
}

// BlockByNumber fetches a block with full transaction objects.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var j *jsonHeader
	arg := hexutil.EncodeUint64(number)
	if err := c.callCached(ctx, &j, "eth_getBlockByNumber", arg, true); err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: block %d", ErrNotFound, number)
	}
	return j.toBlock("eth_getBlockByNumber")
}

// BlockByHash fetches a block with full transaction objects.
func (c *Client) BlockByHash(ctx context.Context, hash types.Hash) (*Block, error) {
	var j *jsonHeader
	if err := c.callCached(ctx, &j, "eth_getBlockByHash", hash, true); err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: block %v", ErrNotFound, hash)
	}
	return j.toBlock("eth_getBlockByHash")
}

// TransactionReceipt fetches the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash types.Hash) (*types.Receipt, error) {
	var j *jsonReceipt
	if err := c.callCached(ctx, &j, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: receipt %v", ErrNotFound, txHash)
	}
	return j.toReceipt(), nil
}

// Logs runs eth_getLogs over a concrete block range.
func (c *Client) Logs(ctx context.Context, filter *types.LogFilter) ([]*types.Log, error) {
	arg := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(filter.FromBlock),
		"toBlock":   hexutil.EncodeUint64(filter.ToBlock),
	}
	if len(filter.Addresses) > 0 {
		arg["address"] = filter.Addresses
	}
	if len(filter.Topics) > 0 {
		arg["topics"] = filter.Topics
	}

	var jlogs []jsonLog
	if err := c.callCached(ctx, &jlogs, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	logs := make([]*types.Log, len(jlogs))
	for i := range jlogs {
		logs[i] = jlogs[i].toLog()
	}
	return logs, nil
}

// Balance fetches an account balance at a pinned block number.
func (c *Client) Balance(ctx context.Context, addr types.Address, blockNumber uint64) (*big.Int, error) {
	var balance hexutil.Big
	arg := hexutil.EncodeUint64(blockNumber)
	if err := c.callCached(ctx, &balance, "eth_getBalance", addr, arg); err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

// Nonce fetches an account nonce at a pinned block number.
func (c *Client) Nonce(ctx context.Context, addr types.Address, blockNumber uint64) (uint64, error) {
	var nonce hexutil.Uint64
	arg := hexutil.EncodeUint64(blockNumber)
	if err := c.callCached(ctx, &nonce, "eth_getTransactionCount", addr, arg); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// Code fetches contract code at a pinned block number.
func (c *Client) Code(ctx context.Context, addr types.Address, blockNumber uint64) ([]byte, error) {
	var code hexutil.Bytes
	arg := hexutil.EncodeUint64(blockNumber)
	if err := c.callCached(ctx, &code, "eth_getCode", addr, arg); err != nil {
		return nil, err
	}
	return code, nil
}

// StorageAt fetches a storage slot at a pinned block number.
func (c *Client) StorageAt(ctx context.Context, addr types.Address, slot types.Hash, blockNumber uint64) (types.Hash, error) {
	var value types.Hash
	arg := hexutil.EncodeUint64(blockNumber)
	if err := c.callCached(ctx, &value, "eth_getStorageAt", addr, slot, arg); err != nil {
		return types.Hash{}, err
	}
	return value, nil
}

// RawCall forwards an arbitrary method to the remote and returns the raw
// JSON result. Used by the vm.rpc cheat-code.
func (c *Client) RawCall(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, method, args...); err != nil {
		return nil, err
	}
	return raw, nil
}
