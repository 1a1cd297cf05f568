package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/fork"
)

// CallRequest is the transaction object of eth_call, eth_estimateGas and
// eth_sendTransaction.
type CallRequest struct {
	From                 *types.Address  `json:"from"`
	To                   *types.Address  `json:"to"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                *hexutil.Uint64 `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data"`
	Input                hexutil.Bytes   `json:"input"`
}

func (r *CallRequest) from() types.Address {
	if r.From == nil {
		return types.Address{}
	}
	return *r.From
}

// data prefers the canonical input field over the legacy data alias.
func (r *CallRequest) data() []byte {
	if len(r.Input) > 0 {
		return r.Input
	}
	return r.Data
}

// BlockTag is a JSON-RPC block designator: a hex quantity or one of the
// named tags.
type BlockTag struct {
	Number *uint64
	Tag    string
}

// Named block tags.
const (
	TagLatest    = "latest"
	TagPending   = "pending"
	TagEarliest  = "earliest"
	TagSafe      = "safe"
	TagFinalized = "finalized"
)

// LatestTag returns the "latest" designator.
func LatestTag() BlockTag { return BlockTag{Tag: TagLatest} }

func (t *BlockTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("provider: block tag: %w", err)
	}
	switch s {
	case TagLatest, TagPending, TagEarliest, TagSafe, TagFinalized:
		t.Tag = s
		return nil
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return fmt.Errorf("provider: block tag %q: %w", s, err)
	}
	t.Number = &n
	return nil
}

func (t BlockTag) MarshalJSON() ([]byte, error) {
	if t.Number != nil {
		return json.Marshal(hexutil.Uint64(*t.Number))
	}
	tag := t.Tag
	if tag == "" {
		tag = TagLatest
	}
	return json.Marshal(tag)
}

// resolveBlockNumber maps a block tag onto a concrete block number.
func (p *Provider) resolveBlockNumber(tag BlockTag) uint64 {
	if tag.Number != nil {
		return *tag.Number
	}
	switch tag.Tag {
	case TagEarliest:
		// The anchor block: the fork point, or genesis on a local chain.
		return p.chain.ForkBlockNumber()
	case TagPending:
		return p.chain.LastBlockNumber()
	default:
		return p.chain.LastBlockNumber()
	}
}

// rpcBlock is the JSON-RPC block object.
type rpcBlock struct {
	Hash                  types.Hash      `json:"hash"`
	ParentHash            types.Hash      `json:"parentHash"`
	Sha3Uncles            types.Hash      `json:"sha3Uncles"`
	Miner                 types.Address   `json:"miner"`
	StateRoot             types.Hash      `json:"stateRoot"`
	TransactionsRoot      types.Hash      `json:"transactionsRoot"`
	ReceiptsRoot          types.Hash      `json:"receiptsRoot"`
	LogsBloom             hexutil.Bytes   `json:"logsBloom"`
	Difficulty            *hexutil.Big    `json:"difficulty"`
	TotalDifficulty       *hexutil.Big    `json:"totalDifficulty"`
	Number                hexutil.Uint64  `json:"number"`
	GasLimit              hexutil.Uint64  `json:"gasLimit"`
	GasUsed               hexutil.Uint64  `json:"gasUsed"`
	Timestamp             hexutil.Uint64  `json:"timestamp"`
	ExtraData             hexutil.Bytes   `json:"extraData"`
	MixHash               types.Hash      `json:"mixHash"`
	Nonce                 hexutil.Bytes   `json:"nonce"`
	BaseFeePerGas         *hexutil.Big    `json:"baseFeePerGas,omitempty"`
	WithdrawalsRoot       *types.Hash     `json:"withdrawalsRoot,omitempty"`
	BlobGasUsed           *hexutil.Uint64 `json:"blobGasUsed,omitempty"`
	ExcessBlobGas         *hexutil.Uint64 `json:"excessBlobGas,omitempty"`
	ParentBeaconBlockRoot *types.Hash     `json:"parentBeaconBlockRoot,omitempty"`
	Size                  hexutil.Uint64  `json:"size"`
	Uncles                []types.Hash    `json:"uncles"`
	Transactions          []interface{}   `json:"transactions"`
}

// toRPCBlock renders a block with transaction hashes or full objects.
func toRPCBlock(b *fork.Block, fullTxs bool) *rpcBlock {
	header := b.HeaderNoCopy()
	out := &rpcBlock{
		Hash:             b.Hash,
		ParentHash:       header.ParentHash,
		Sha3Uncles:       header.UncleHash,
		Miner:            header.Coinbase,
		StateRoot:        header.Root,
		TransactionsRoot: header.TxHash,
		ReceiptsRoot:     header.ReceiptHash,
		LogsBloom:        header.Bloom[:],
		Difficulty:       (*hexutil.Big)(header.Difficulty),
		Number:           hexutil.Uint64(header.NumberU64()),
		GasLimit:         hexutil.Uint64(header.GasLimit),
		GasUsed:          hexutil.Uint64(header.GasUsed),
		Timestamp:        hexutil.Uint64(header.Time),
		ExtraData:        header.Extra,
		MixHash:          header.MixDigest,
		Nonce:            header.Nonce[:],
		BaseFeePerGas:    (*hexutil.Big)(header.BaseFee),
		WithdrawalsRoot:  header.WithdrawalsHash,
		Uncles:           []types.Hash{},
		Transactions:     []interface{}{},
	}
	if b.TotalDifficulty != nil {
		out.TotalDifficulty = (*hexutil.Big)(b.TotalDifficulty)
	}
	if header.BlobGasUsed != nil {
		used := hexutil.Uint64(*header.BlobGasUsed)
		out.BlobGasUsed = &used
	}
	if header.ExcessBlobGas != nil {
		excess := hexutil.Uint64(*header.ExcessBlobGas)
		out.ExcessBlobGas = &excess
	}
	out.ParentBeaconBlockRoot = header.ParentBeaconRoot

	blockHash := b.Hash
	number := header.NumberU64()
	for i, tx := range b.Transactions() {
		if fullTxs {
			index := uint(i)
			out.Transactions = append(out.Transactions, toRPCTransaction(tx, &blockHash, &number, &index))
		} else {
			out.Transactions = append(out.Transactions, tx.Hash())
		}
	}
	return out
}

// rpcTransaction is the JSON-RPC transaction object.
type rpcTransaction struct {
	Hash                 types.Hash       `json:"hash"`
	Type                 hexutil.Uint64   `json:"type"`
	ChainID              *hexutil.Big     `json:"chainId,omitempty"`
	Nonce                hexutil.Uint64   `json:"nonce"`
	From                 types.Address    `json:"from"`
	To                   *types.Address   `json:"to"`
	Gas                  hexutil.Uint64   `json:"gas"`
	GasPrice             *hexutil.Big     `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big     `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big     `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerBlobGas     *hexutil.Big     `json:"maxFeePerBlobGas,omitempty"`
	Value                *hexutil.Big     `json:"value"`
	Input                hexutil.Bytes    `json:"input"`
	AccessList           []rpcAccessTuple `json:"accessList,omitempty"`
	BlobVersionedHashes  []types.Hash     `json:"blobVersionedHashes,omitempty"`
	V                    *hexutil.Big     `json:"v"`
	R                    *hexutil.Big     `json:"r"`
	S                    *hexutil.Big     `json:"s"`
	BlockHash            *types.Hash      `json:"blockHash"`
	BlockNumber          *hexutil.Uint64  `json:"blockNumber"`
	TransactionIndex     *hexutil.Uint64  `json:"transactionIndex"`
}

type rpcAccessTuple struct {
	Address     types.Address `json:"address"`
	StorageKeys []types.Hash  `json:"storageKeys"`
}

// toRPCTransaction renders a transaction; nil block fields mean pending.
func toRPCTransaction(tx *types.Transaction, blockHash *types.Hash, blockNumber *uint64, index *uint) *rpcTransaction {
	out := &rpcTransaction{
		Hash:      tx.Hash(),
		Type:      hexutil.Uint64(tx.Type),
		ChainID:   (*hexutil.Big)(tx.ChainID),
		Nonce:     hexutil.Uint64(tx.Nonce),
		From:      tx.From,
		To:        tx.To,
		Gas:       hexutil.Uint64(tx.Gas),
		Value:     (*hexutil.Big)(tx.ValueOrZero()),
		Input:     tx.Data,
		V:         (*hexutil.Big)(bigOrZero(tx.V)),
		R:         (*hexutil.Big)(bigOrZero(tx.R)),
		S:         (*hexutil.Big)(bigOrZero(tx.S)),
		BlockHash: blockHash,
	}
	if tx.Type < types.DynamicFeeTxType {
		out.GasPrice = (*hexutil.Big)(tx.GasPrice)
	} else {
		out.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap)
		out.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap)
	}
	if tx.Type == types.BlobTxType {
		out.MaxFeePerBlobGas = (*hexutil.Big)(tx.BlobFeeCap)
		out.BlobVersionedHashes = tx.BlobHashes
	}
	for _, tuple := range tx.AccessList {
		out.AccessList = append(out.AccessList, rpcAccessTuple{
			Address:     tuple.Address,
			StorageKeys: tuple.StorageKeys,
		})
	}
	if blockNumber != nil {
		n := hexutil.Uint64(*blockNumber)
		out.BlockNumber = &n
	}
	if index != nil {
		i := hexutil.Uint64(*index)
		out.TransactionIndex = &i
	}
	return out
}

// rpcReceipt is the JSON-RPC transaction receipt.
type rpcReceipt struct {
	Type              hexutil.Uint64  `json:"type"`
	Status            hexutil.Uint64  `json:"status"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	LogsBloom         hexutil.Bytes   `json:"logsBloom"`
	Logs              []*rpcLog       `json:"logs"`
	TransactionHash   types.Hash      `json:"transactionHash"`
	ContractAddress   *types.Address  `json:"contractAddress"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	BlobGasUsed       *hexutil.Uint64 `json:"blobGasUsed,omitempty"`
	BlobGasPrice      *hexutil.Big    `json:"blobGasPrice,omitempty"`
	BlockHash         types.Hash      `json:"blockHash"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	From              types.Address   `json:"from"`
	To                *types.Address  `json:"to"`
}

func toRPCReceipt(receipt *types.Receipt, tx *types.Transaction) *rpcReceipt {
	out := &rpcReceipt{
		Type:              hexutil.Uint64(receipt.Type),
		Status:            hexutil.Uint64(receipt.Status),
		CumulativeGasUsed: hexutil.Uint64(receipt.CumulativeGasUsed),
		LogsBloom:         receipt.Bloom[:],
		Logs:              []*rpcLog{},
		TransactionHash:   receipt.TxHash,
		GasUsed:           hexutil.Uint64(receipt.GasUsed),
		EffectiveGasPrice: (*hexutil.Big)(receipt.EffectiveGasPrice),
		BlockHash:         receipt.BlockHash,
		BlockNumber:       hexutil.Uint64(receipt.BlockNumber),
		TransactionIndex:  hexutil.Uint64(receipt.TransactionIndex),
	}
	if receipt.ContractAddress != (types.Address{}) {
		addr := receipt.ContractAddress
		out.ContractAddress = &addr
	}
	if receipt.BlobGasUsed > 0 {
		used := hexutil.Uint64(receipt.BlobGasUsed)
		out.BlobGasUsed = &used
		out.BlobGasPrice = (*hexutil.Big)(receipt.BlobGasPrice)
	}
	if tx != nil {
		out.From = tx.From
		out.To = tx.To
	}
	for _, l := range receipt.Logs {
		out.Logs = append(out.Logs, toRPCLog(l))
	}
	return out
}

// rpcLog is the JSON-RPC log object.
type rpcLog struct {
	Address          types.Address  `json:"address"`
	Topics           []types.Hash   `json:"topics"`
	Data             hexutil.Bytes  `json:"data"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	BlockHash        types.Hash     `json:"blockHash"`
	TransactionHash  types.Hash     `json:"transactionHash"`
	TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
	LogIndex         hexutil.Uint64 `json:"logIndex"`
	Removed          bool           `json:"removed"`
}

func toRPCLog(l *types.Log) *rpcLog {
	topics := l.Topics
	if topics == nil {
		topics = []types.Hash{}
	}
	return &rpcLog{
		Address:          l.Address,
		Topics:           topics,
		Data:             l.Data,
		BlockNumber:      hexutil.Uint64(l.BlockNumber),
		BlockHash:        l.BlockHash,
		TransactionHash:  l.TxHash,
		TransactionIndex: hexutil.Uint64(l.TxIndex),
		LogIndex:         hexutil.Uint64(l.Index),
		Removed:          l.Removed,
	}
}

// LogFilterRequest is the eth_getLogs / eth_newFilter criteria object.
// Address accepts a single address or an array; each topic position accepts
// null, a single hash or an array of alternatives.
type LogFilterRequest struct {
	FromBlock *BlockTag         `json:"fromBlock"`
	ToBlock   *BlockTag         `json:"toBlock"`
	BlockHash *types.Hash       `json:"blockHash"`
	Address   json.RawMessage   `json:"address"`
	Topics    []json.RawMessage `json:"topics"`
}

// toLogFilter resolves the request's tags against the chain.
func (p *Provider) toLogFilter(ctx context.Context, req *LogFilterRequest) (*types.LogFilter, error) {
	filter := &types.LogFilter{
		FromBlock: p.chain.LastBlockNumber(),
		ToBlock:   p.chain.LastBlockNumber(),
	}
	if req.BlockHash != nil {
		block, err := p.chain.BlockByHash(ctx, *req.BlockHash)
		if err != nil {
			return nil, err
		}
		filter.FromBlock = block.NumberU64()
		filter.ToBlock = block.NumberU64()
	} else {
		if req.FromBlock != nil {
			filter.FromBlock = p.resolveBlockNumber(*req.FromBlock)
		}
		if req.ToBlock != nil {
			filter.ToBlock = p.resolveBlockNumber(*req.ToBlock)
		}
	}

	if len(req.Address) > 0 {
		var single types.Address
		if err := json.Unmarshal(req.Address, &single); err == nil {
			filter.Addresses = []types.Address{single}
		} else if err := json.Unmarshal(req.Address, &filter.Addresses); err != nil {
			return nil, fmt.Errorf("provider: filter address: %w", err)
		}
	}
	for _, raw := range req.Topics {
		if len(raw) == 0 || string(raw) == "null" {
			filter.Topics = append(filter.Topics, nil)
			continue
		}
		var single types.Hash
		if err := json.Unmarshal(raw, &single); err == nil {
			filter.Topics = append(filter.Topics, []types.Hash{single})
			continue
		}
		var many []types.Hash
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, fmt.Errorf("provider: filter topics: %w", err)
		}
		filter.Topics = append(filter.Topics, many)
	}
	return filter, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
