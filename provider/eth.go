package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// suggestedTip is the priority fee the node recommends and defaults to.
var suggestedTip = big.NewInt(1_000_000_000)

// RevertError carries the revert reason and raw return data of a failed
// eth_call or eth_estimateGas.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// Accounts returns the unlocked development account addresses.
func (p *Provider) Accounts() []types.Address {
	out := make([]types.Address, len(p.accounts))
	for i, acct := range p.accounts {
		out[i] = acct.address
	}
	return out
}

// BlockNumber returns the current tip number.
func (p *Provider) BlockNumber() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain.LastBlockNumber()
}

// Call executes a read-only call against the state at the tag and returns
// the output. Reverts surface as a RevertError.
func (p *Provider) Call(ctx context.Context, req *CallRequest, tag BlockTag) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.requireStateAt(p.resolveBlockNumber(tag)); err != nil {
		return nil, err
	}
	raw, err := p.exec.Call(p.callEnv(req))
	if err != nil {
		return nil, err
	}
	if raw.Reverted {
		return nil, &RevertError{Reason: abi.DecodeRevertReason(raw.Output), Data: raw.Output}
	}
	return raw.Output, nil
}

// EstimateGas binary-searches the smallest gas limit under which the call
// succeeds: lower bound intrinsic gas, upper bound the block gas limit.
func (p *Provider) EstimateGas(ctx context.Context, req *CallRequest) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	env := p.callEnv(req)
	lo := callIntrinsicGas(env.Data, env.To == nil)
	hi := p.gasLimit
	if req.Gas != nil && uint64(*req.Gas) < hi {
		hi = uint64(*req.Gas)
	}
	if hi < lo {
		return 0, fmt.Errorf("provider: gas cap %d below intrinsic gas %d", hi, lo)
	}

	probe := func(gas uint64) (*RevertError, bool, error) {
		env.GasLimit = gas
		raw, err := p.exec.Call(env)
		if err != nil {
			return nil, false, err
		}
		if raw.Reverted {
			return &RevertError{Reason: abi.DecodeRevertReason(raw.Output), Data: raw.Output}, false, nil
		}
		return nil, raw.ExitReason == "success", nil
	}

	revert, ok, err := probe(hi)
	if err != nil {
		return 0, err
	}
	if revert != nil {
		return 0, revert
	}
	if !ok {
		return 0, fmt.Errorf("provider: gas required exceeds allowance (%d)", hi)
	}

	for lo < hi {
		mid := (lo + hi) / 2
		_, ok, err := probe(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return hi, nil
}

// FeeHistory is the eth_feeHistory result.
type FeeHistory struct {
	OldestBlock   hexutil.Uint64   `json:"oldestBlock"`
	BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
	GasUsedRatio  []float64        `json:"gasUsedRatio"`
	Reward        [][]*hexutil.Big `json:"reward,omitempty"`
}

// FeeHistoryResult computes base fees, gas-used ratios and optional reward
// percentiles over the requested stored block range. The base fee array
// carries one extra entry: the next block's fee.
func (p *Provider) FeeHistoryResult(ctx context.Context, blockCount uint64, newest BlockTag, percentiles []float64) (*FeeHistory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const maxFeeHistoryBlocks = 1024
	if blockCount == 0 {
		blockCount = 1
	}
	if blockCount > maxFeeHistoryBlocks {
		blockCount = maxFeeHistoryBlocks
	}

	newestNumber := p.resolveBlockNumber(newest)
	if newestNumber > p.chain.LastBlockNumber() {
		return nil, fmt.Errorf("provider: block %d is beyond the tip", newestNumber)
	}
	oldest := uint64(0)
	if newestNumber+1 > blockCount {
		oldest = newestNumber + 1 - blockCount
	}

	result := &FeeHistory{OldestBlock: hexutil.Uint64(oldest)}
	var newestHeader *types.Header
	for n := oldest; n <= newestNumber; n++ {
		block, err := p.chain.BlockByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		header := block.HeaderNoCopy()
		newestHeader = header
		result.BaseFeePerGas = append(result.BaseFeePerGas, (*hexutil.Big)(bigOrZero(header.BaseFee)))
		ratio := 0.0
		if header.GasLimit > 0 {
			ratio = float64(header.GasUsed) / float64(header.GasLimit)
		}
		result.GasUsedRatio = append(result.GasUsedRatio, ratio)
		if len(percentiles) > 0 {
			result.Reward = append(result.Reward, p.rewardPercentiles(header, percentiles))
		}
	}

	next := new(big.Int)
	if newestHeader != nil && newestHeader.BaseFee != nil {
		next = core.CalcBaseFee(newestHeader, p.chain.BlockConfig().BaseFeeParams)
	}
	result.BaseFeePerGas = append(result.BaseFeePerGas, (*hexutil.Big)(next))
	return result, nil
}

// rewardPercentiles derives per-percentile effective tips from a block's
// receipts, weighting by gas used. Blocks without stored receipts (remote or
// empty) report zero.
func (p *Provider) rewardPercentiles(header *types.Header, percentiles []float64) []*hexutil.Big {
	out := make([]*hexutil.Big, len(percentiles))
	for i := range out {
		out[i] = (*hexutil.Big)(new(big.Int))
	}
	receipts := p.chain.ReceiptsByNumber(header.NumberU64())
	if len(receipts) == 0 || header.GasUsed == 0 {
		return out
	}

	type tipShare struct {
		tip *big.Int
		gas uint64
	}
	shares := make([]tipShare, 0, len(receipts))
	for _, receipt := range receipts {
		tip := new(big.Int)
		if receipt.EffectiveGasPrice != nil {
			tip.Set(receipt.EffectiveGasPrice)
			if header.BaseFee != nil {
				tip.Sub(tip, header.BaseFee)
			}
		}
		shares = append(shares, tipShare{tip: tip, gas: receipt.GasUsed})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].tip.Cmp(shares[j].tip) < 0 })

	for i, pct := range percentiles {
		threshold := uint64(float64(header.GasUsed) * pct / 100)
		var cum uint64
		for _, share := range shares {
			cum += share.gas
			if cum >= threshold {
				out[i] = (*hexutil.Big)(share.tip)
				break
			}
		}
	}
	return out
}

// GasPrice suggests the next base fee plus the standard tip.
func (p *Provider) GasPrice(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := new(big.Int).Set(suggestedTip)
	baseFee, err := p.chain.NextBaseFee(ctx)
	if err != nil {
		return nil, err
	}
	if baseFee != nil {
		price.Add(price, baseFee)
	}
	return price, nil
}

// MaxPriorityFeePerGas suggests the standard tip.
func (p *Provider) MaxPriorityFeePerGas() *big.Int {
	return new(big.Int).Set(suggestedTip)
}

// BlobBaseFee returns the blob base fee of the pending block.
func (p *Provider) BlobBaseFee() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	env := p.exec.BlockEnv()
	if env.BlobBaseFee == nil {
		return new(big.Int)
	}
	return env.BlobBaseFee.ToBig()
}

// GetBalance returns the account balance at the tag.
func (p *Provider) GetBalance(ctx context.Context, addr types.Address, tag BlockTag) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	number := p.resolveBlockNumber(tag)
	remoteRead, err := p.requireStateAt(number)
	if err != nil {
		return nil, err
	}
	if remoteRead {
		return p.chain.Client().Balance(ctx, addr, number)
	}
	return p.exec.StateDB().Balance(addr)
}

// GetCode returns the account code at the tag.
func (p *Provider) GetCode(ctx context.Context, addr types.Address, tag BlockTag) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	number := p.resolveBlockNumber(tag)
	remoteRead, err := p.requireStateAt(number)
	if err != nil {
		return nil, err
	}
	if remoteRead {
		return p.chain.Client().Code(ctx, addr, number)
	}
	return p.exec.StateDB().Code(addr)
}

// GetStorageAt returns one storage slot at the tag.
func (p *Provider) GetStorageAt(ctx context.Context, addr types.Address, slot types.Hash, tag BlockTag) (types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	number := p.resolveBlockNumber(tag)
	remoteRead, err := p.requireStateAt(number)
	if err != nil {
		return types.Hash{}, err
	}
	if remoteRead {
		return p.chain.Client().StorageAt(ctx, addr, slot, number)
	}
	return p.exec.StateDB().Storage(addr, slot)
}

// GetTransactionCount returns the account nonce; the pending tag includes
// pooled transactions.
func (p *Provider) GetTransactionCount(ctx context.Context, addr types.Address, tag BlockTag) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tag.Tag == TagPending {
		return p.pendingNonce(addr)
	}
	number := p.resolveBlockNumber(tag)
	remoteRead, err := p.requireStateAt(number)
	if err != nil {
		return 0, err
	}
	if remoteRead {
		return p.chain.Client().Nonce(ctx, addr, number)
	}
	return p.exec.StateDB().Nonce(addr)
}

// GetBlockByNumber returns a block, or nil when the number is unknown.
func (p *Provider) GetBlockByNumber(ctx context.Context, tag BlockTag, fullTxs bool) (*rpcBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.chain.BlockByNumber(ctx, p.resolveBlockNumber(tag))
	if err != nil {
		return nil, nil
	}
	return toRPCBlock(block, fullTxs), nil
}

// GetBlockByHash returns a block, or nil when the hash is unknown.
func (p *Provider) GetBlockByHash(ctx context.Context, hash types.Hash, fullTxs bool) (*rpcBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.chain.BlockByHash(ctx, hash)
	if err != nil {
		return nil, nil
	}
	return toRPCBlock(block, fullTxs), nil
}

// GetLogs collects logs matching the filter criteria across the chain.
func (p *Provider) GetLogs(ctx context.Context, req *LogFilterRequest) ([]*rpcLog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	filter, err := p.toLogFilter(ctx, req)
	if err != nil {
		return nil, err
	}
	logs, err := p.chain.Logs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*rpcLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, toRPCLog(l))
	}
	return out, nil
}

// GetTransactionByHash looks up a transaction in the pool and the chain, or
// returns nil when unknown.
func (p *Provider) GetTransactionByHash(ctx context.Context, hash types.Hash) (*rpcTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tx := p.pool.Get(hash); tx != nil {
		return toRPCTransaction(tx, nil, nil, nil), nil
	}
	block, err := p.chain.BlockByTxHash(ctx, hash)
	if err != nil {
		return nil, nil
	}
	for i, tx := range block.Transactions() {
		if tx.Hash() == hash {
			blockHash := block.Hash
			number := block.NumberU64()
			index := uint(i)
			return toRPCTransaction(tx, &blockHash, &number, &index), nil
		}
	}
	return nil, nil
}

// GetTransactionReceipt returns a mined transaction's receipt, or nil when
// the transaction is unknown or still pending.
func (p *Provider) GetTransactionReceipt(ctx context.Context, hash types.Hash) (*rpcReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	receipt, err := p.chain.ReceiptByTxHash(ctx, hash)
	if err != nil {
		return nil, nil
	}
	var tx *types.Transaction
	if block, err := p.chain.BlockByTxHash(ctx, hash); err == nil {
		for _, candidate := range block.Transactions() {
			if candidate.Hash() == hash {
				tx = candidate
				break
			}
		}
	}
	return toRPCReceipt(receipt, tx), nil
}

// SendRawTransaction decodes a signed transaction, recovers its sender and
// submits it to the pool.
func (p *Provider) SendRawTransaction(ctx context.Context, raw []byte) (types.Hash, error) {
	tx, err := decodeRawTransaction(raw, p.cfg.ChainID)
	if err != nil {
		return types.Hash{}, err
	}
	// Blob transactions must arrive in the pooled wrapper and carry proofs
	// that verify against their versioned hashes (EIP-4844).
	if tx.Type == types.BlobTxType {
		if tx.Sidecar == nil {
			return types.Hash{}, fmt.Errorf("provider: blob transaction without sidecar")
		}
		if err := tx.Sidecar.Verify(tx.BlobHashes); err != nil {
			return types.Hash{}, fmt.Errorf("provider: %w", err)
		}
	}
	return p.submit(ctx, tx)
}

// SendTransaction builds a transaction for an unlocked or impersonated
// sender and submits it to the pool.
func (p *Provider) SendTransaction(ctx context.Context, req *CallRequest) (types.Hash, error) {
	p.mu.Lock()
	from := req.from()
	if !p.canSendFrom(from) {
		p.mu.Unlock()
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	tx, err := p.buildTransactionLocked(ctx, req)
	p.mu.Unlock()
	if err != nil {
		return types.Hash{}, err
	}
	return p.submit(ctx, tx)
}

// buildTransactionLocked fills nonce, gas and fee defaults for a provider
// transaction. The signature stays zero: the node executes by the explicit
// sender.
func (p *Provider) buildTransactionLocked(ctx context.Context, req *CallRequest) (*types.Transaction, error) {
	tx := &types.Transaction{
		From: req.from(),
		To:   req.To,
		Data: req.data(),
		Gas:  p.gasLimit,
	}
	if req.Value != nil {
		tx.Value = (*big.Int)(req.Value)
	}
	if req.Gas != nil {
		tx.Gas = uint64(*req.Gas)
	}
	if req.Nonce != nil {
		tx.Nonce = uint64(*req.Nonce)
	} else {
		nonce, err := p.pendingNonce(req.from())
		if err != nil {
			return nil, err
		}
		tx.Nonce = nonce
	}

	if !p.cfg.Hardfork.AtLeast(core.London) || req.GasPrice != nil {
		tx.Type = types.LegacyTxType
		if req.GasPrice != nil {
			tx.GasPrice = (*big.Int)(req.GasPrice)
		} else {
			price, err := p.chain.NextBaseFee(ctx)
			if err != nil || price == nil {
				price = new(big.Int)
			}
			tx.GasPrice = price.Add(price, suggestedTip)
		}
		if !p.cfg.Hardfork.AtLeast(core.London) && p.minGasPrice != nil && tx.GasPrice.Cmp(p.minGasPrice) < 0 {
			return nil, fmt.Errorf("provider: gas price %v below the configured minimum %v", tx.GasPrice, p.minGasPrice)
		}
		return tx, nil
	}

	tx.Type = types.DynamicFeeTxType
	tx.ChainID = new(big.Int).SetUint64(p.cfg.ChainID)
	if req.MaxPriorityFeePerGas != nil {
		tx.GasTipCap = (*big.Int)(req.MaxPriorityFeePerGas)
	} else {
		tx.GasTipCap = new(big.Int).Set(suggestedTip)
	}
	if req.MaxFeePerGas != nil {
		tx.GasFeeCap = (*big.Int)(req.MaxFeePerGas)
	} else {
		baseFee, err := p.chain.NextBaseFee(ctx)
		if err != nil || baseFee == nil {
			baseFee = new(big.Int)
		}
		tx.GasFeeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
		tx.GasFeeCap.Add(tx.GasFeeCap, tx.GasTipCap)
	}
	return tx, nil
}

// submit adds a transaction to the pool, notifies the pending filters and
// automines.
func (p *Provider) submit(ctx context.Context, tx *types.Transaction) (types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pool.Add(tx); err != nil {
		return types.Hash{}, err
	}
	hash := tx.Hash()
	p.filters.notifyPending(hash)
	if p.loggingEnabled {
		p.logger.Info("transaction submitted", "tx", hash, "from", tx.From, "nonce", tx.Nonce)
	}
	if err := p.maybeAutomineLocked(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

// Sign signs arbitrary data under the personal-message scheme with an
// unlocked account's key.
func (p *Provider) Sign(addr types.Address, data []byte) ([]byte, error) {
	return p.signPersonal(addr, data)
}

// SignTypedData signs an EIP-712 payload with an unlocked account's key.
func (p *Provider) SignTypedData(addr types.Address, payload json.RawMessage) ([]byte, error) {
	return p.signTypedData(addr, payload)
}

// AccountProof is the eth_getProof result. The development node does not
// maintain a full Merkle-Patricia trie, so the proof node lists are empty;
// the account fields are authoritative.
type AccountProof struct {
	Address      types.Address   `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     types.Hash      `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  types.Hash      `json:"storageHash"`
	StorageProof []StorageProof  `json:"storageProof"`
}

// StorageProof is one storage slot entry of an AccountProof.
type StorageProof struct {
	Key   types.Hash      `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// GetProof returns the account state with empty proof lists on a local
// chain; over a forked baseline the operation is unsupported.
func (p *Provider) GetProof(ctx context.Context, addr types.Address, slots []types.Hash, tag BlockTag) (*AccountProof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chain.IsForked() {
		return nil, fmt.Errorf("%w: eth_getProof over a forked baseline", ErrUnsupportedOperation)
	}
	if _, err := p.requireStateAt(p.resolveBlockNumber(tag)); err != nil {
		return nil, err
	}

	db := p.exec.StateDB()
	balance, err := db.Balance(addr)
	if err != nil {
		return nil, err
	}
	nonce, err := db.Nonce(addr)
	if err != nil {
		return nil, err
	}
	codeHash, err := db.CodeHash(addr)
	if err != nil {
		return nil, err
	}
	root, err := db.StateRoot()
	if err != nil {
		return nil, err
	}

	proof := &AccountProof{
		Address:      addr,
		AccountProof: []hexutil.Bytes{},
		Balance:      (*hexutil.Big)(balance),
		CodeHash:     codeHash,
		Nonce:        hexutil.Uint64(nonce),
		StorageHash:  root,
		StorageProof: []StorageProof{},
	}
	for _, slot := range slots {
		value, err := db.Storage(addr, slot)
		if err != nil {
			return nil, err
		}
		proof.StorageProof = append(proof.StorageProof, StorageProof{
			Key:   slot,
			Value: (*hexutil.Big)(value.Big()),
			Proof: []hexutil.Bytes{},
		})
	}
	return proof, nil
}

// PendingTransactions returns the pooled transactions in arrival order.
func (p *Provider) PendingTransactions() []*rpcTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*rpcTransaction, 0, p.pool.Count())
	for _, tx := range p.pool.All() {
		out = append(out, toRPCTransaction(tx, nil, nil, nil))
	}
	return out
}

// Mining reports false: the node has no proof-of-work loop.
func (p *Provider) Mining() bool { return false }

// Syncing reports false: the node is always at its own tip.
func (p *Provider) Syncing() bool { return false }

// callIntrinsicGas mirrors the interpreter's intrinsic gas charge, used as
// the estimation lower bound.
func callIntrinsicGas(data []byte, isCreate bool) uint64 {
	gas := uint64(21000)
	if isCreate {
		gas = 53000
	}
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}
