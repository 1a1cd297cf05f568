package remote

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// DecodeError reports a remote response that could not be converted into the
// local data model.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("remote: decoding %s response: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// jsonHeader mirrors the JSON-RPC block object. Quantities are hex-encoded
// per the Ethereum wire format.
type jsonHeader struct {
	Hash                  types.Hash       `json:"hash"`
	ParentHash            types.Hash       `json:"parentHash"`
	Sha3Uncles            types.Hash       `json:"sha3Uncles"`
	Miner                 types.Address    `json:"miner"`
	StateRoot             types.Hash       `json:"stateRoot"`
	TransactionsRoot      types.Hash       `json:"transactionsRoot"`
	ReceiptsRoot          types.Hash       `json:"receiptsRoot"`
	LogsBloom             hexutil.Bytes    `json:"logsBloom"`
	Difficulty            *hexutil.Big     `json:"difficulty"`
	Number                *hexutil.Big     `json:"number"`
	GasLimit              hexutil.Uint64   `json:"gasLimit"`
	GasUsed               hexutil.Uint64   `json:"gasUsed"`
	Timestamp             hexutil.Uint64   `json:"timestamp"`
	ExtraData             hexutil.Bytes    `json:"extraData"`
	MixHash               types.Hash       `json:"mixHash"`
	Nonce                 hexutil.Bytes    `json:"nonce"`
	BaseFeePerGas         *hexutil.Big     `json:"baseFeePerGas"`
	WithdrawalsRoot       *types.Hash      `json:"withdrawalsRoot"`
	BlobGasUsed           *hexutil.Uint64  `json:"blobGasUsed"`
	ExcessBlobGas         *hexutil.Uint64  `json:"excessBlobGas"`
	ParentBeaconBlockRoot *types.Hash      `json:"parentBeaconBlockRoot"`
	RequestsHash          *types.Hash      `json:"requestsHash"`
	TotalDifficulty       *hexutil.Big     `json:"totalDifficulty"`
	Transactions          []jsonTx         `json:"transactions"`
	Withdrawals           []jsonWithdrawal `json:"withdrawals"`
}

type jsonTx struct {
	Hash                 types.Hash       `json:"hash"`
	Type                 hexutil.Uint64   `json:"type"`
	ChainID              *hexutil.Big     `json:"chainId"`
	Nonce                hexutil.Uint64   `json:"nonce"`
	From                 types.Address    `json:"from"`
	To                   *types.Address   `json:"to"`
	Gas                  hexutil.Uint64   `json:"gas"`
	GasPrice             *hexutil.Big     `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big     `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big     `json:"maxPriorityFeePerGas"`
	MaxFeePerBlobGas     *hexutil.Big     `json:"maxFeePerBlobGas"`
	Value                *hexutil.Big     `json:"value"`
	Input                hexutil.Bytes    `json:"input"`
	AccessList           []jsonAccessItem `json:"accessList"`
	BlobVersionedHashes  []types.Hash     `json:"blobVersionedHashes"`
	V                    *hexutil.Big     `json:"v"`
	R                    *hexutil.Big     `json:"r"`
	S                    *hexutil.Big     `json:"s"`
}

type jsonAccessItem struct {
	Address     types.Address `json:"address"`
	StorageKeys []types.Hash  `json:"storageKeys"`
}

type jsonWithdrawal struct {
	Index          hexutil.Uint64 `json:"index"`
	ValidatorIndex hexutil.Uint64 `json:"validatorIndex"`
	Address        types.Address  `json:"address"`
	Amount         hexutil.Uint64 `json:"amount"`
}

type jsonReceipt struct {
	Type              hexutil.Uint64  `json:"type"`
	Status            *hexutil.Uint64 `json:"status"`
	Root              hexutil.Bytes   `json:"root"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	LogsBloom         hexutil.Bytes   `json:"logsBloom"`
	Logs              []jsonLog       `json:"logs"`
	TransactionHash   types.Hash      `json:"transactionHash"`
	ContractAddress   *types.Address  `json:"contractAddress"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	BlobGasUsed       *hexutil.Uint64 `json:"blobGasUsed"`
	BlobGasPrice      *hexutil.Big    `json:"blobGasPrice"`
	BlockHash         types.Hash      `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
}

type jsonLog struct {
	Address     types.Address  `json:"address"`
	Topics      []types.Hash   `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	BlockHash   types.Hash     `json:"blockHash"`
	TxHash      types.Hash     `json:"transactionHash"`
	TxIndex     hexutil.Uint64 `json:"transactionIndex"`
	Index       hexutil.Uint64 `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

// toBlock converts a wire block into the local model, returning the header
// hash reported by the remote and the cached total difficulty.
func (j *jsonHeader) toBlock(method string) (*Block, error) {
	if j.Number == nil {
		return nil, &DecodeError{Method: method, Err: fmt.Errorf("block has no number")}
	}

	header := &types.Header{
		ParentHash:  j.ParentHash,
		UncleHash:   j.Sha3Uncles,
		Coinbase:    j.Miner,
		Root:        j.StateRoot,
		TxHash:      j.TransactionsRoot,
		ReceiptHash: j.ReceiptsRoot,
		Number:      (*big.Int)(j.Number),
		GasLimit:    uint64(j.GasLimit),
		GasUsed:     uint64(j.GasUsed),
		Time:        uint64(j.Timestamp),
		Extra:       j.ExtraData,
		MixDigest:   j.MixHash,
	}
	if j.Difficulty != nil {
		header.Difficulty = (*big.Int)(j.Difficulty)
	} else {
		header.Difficulty = new(big.Int)
	}
	if len(j.LogsBloom) == types.BloomLength {
		copy(header.Bloom[:], j.LogsBloom)
	}
	if len(j.Nonce) == 8 {
		copy(header.Nonce[:], j.Nonce)
	}
	if j.BaseFeePerGas != nil {
		header.BaseFee = (*big.Int)(j.BaseFeePerGas)
	}
	header.WithdrawalsHash = j.WithdrawalsRoot
	if j.BlobGasUsed != nil {
		used := uint64(*j.BlobGasUsed)
		header.BlobGasUsed = &used
	}
	if j.ExcessBlobGas != nil {
		excess := uint64(*j.ExcessBlobGas)
		header.ExcessBlobGas = &excess
	}
	header.ParentBeaconRoot = j.ParentBeaconBlockRoot
	header.RequestsHash = j.RequestsHash

	body := &types.Body{}
	for _, jt := range j.Transactions {
		tx, err := jt.toTransaction()
		if err != nil {
			return nil, &DecodeError{Method: method, Err: err}
		}
		body.Transactions = append(body.Transactions, tx)
	}
	for _, w := range j.Withdrawals {
		body.Withdrawals = append(body.Withdrawals, &types.Withdrawal{
			Index:          uint64(w.Index),
			ValidatorIndex: uint64(w.ValidatorIndex),
			Address:        w.Address,
			Amount:         uint64(w.Amount),
		})
	}

	block := &Block{
		Block: types.NewBlock(header, body),
		Hash:  j.Hash,
	}
	if j.TotalDifficulty != nil {
		block.TotalDifficulty = (*big.Int)(j.TotalDifficulty)
	}
	return block, nil
}

func (j *jsonTx) toTransaction() (*types.Transaction, error) {
	tx := &types.Transaction{
		Type:       uint8(j.Type),
		Nonce:      uint64(j.Nonce),
		From:       j.From,
		To:         j.To,
		Gas:        uint64(j.Gas),
		Data:       j.Input,
		BlobHashes: j.BlobVersionedHashes,
	}
	tx.ChainID = (*big.Int)(j.ChainID)
	tx.GasPrice = (*big.Int)(j.GasPrice)
	tx.GasFeeCap = (*big.Int)(j.MaxFeePerGas)
	tx.GasTipCap = (*big.Int)(j.MaxPriorityFeePerGas)
	tx.BlobFeeCap = (*big.Int)(j.MaxFeePerBlobGas)
	tx.Value = (*big.Int)(j.Value)
	tx.V = (*big.Int)(j.V)
	tx.R = (*big.Int)(j.R)
	tx.S = (*big.Int)(j.S)
	for _, item := range j.AccessList {
		tx.AccessList = append(tx.AccessList, types.AccessTuple{
			Address:     item.Address,
			StorageKeys: item.StorageKeys,
		})
	}
	return tx, nil
}

func (j *jsonReceipt) toReceipt() *types.Receipt {
	r := &types.Receipt{
		Type:              uint8(j.Type),
		PostState:         j.Root,
		CumulativeGasUsed: uint64(j.CumulativeGasUsed),
		TxHash:            j.TransactionHash,
		GasUsed:           uint64(j.GasUsed),
		BlockHash:         j.BlockHash,
		TransactionIndex:  uint(j.TransactionIndex),
	}
	if j.Status != nil {
		r.Status = uint64(*j.Status)
	}
	if len(j.LogsBloom) == types.BloomLength {
		copy(r.Bloom[:], j.LogsBloom)
	}
	if j.ContractAddress != nil {
		r.ContractAddress = *j.ContractAddress
	}
	if j.EffectiveGasPrice != nil {
		r.EffectiveGasPrice = (*big.Int)(j.EffectiveGasPrice)
	}
	if j.BlobGasUsed != nil {
		r.BlobGasUsed = uint64(*j.BlobGasUsed)
	}
	if j.BlobGasPrice != nil {
		r.BlobGasPrice = (*big.Int)(j.BlobGasPrice)
	}
	if j.BlockNumber != nil {
		r.BlockNumber = (*big.Int)(j.BlockNumber).Uint64()
	}
	for _, jl := range j.Logs {
		r.Logs = append(r.Logs, jl.toLog())
	}
	return r
}

func (j *jsonLog) toLog() *types.Log {
	return &types.Log{
		Address:     j.Address,
		Topics:      j.Topics,
		Data:        j.Data,
		BlockNumber: uint64(j.BlockNumber),
		BlockHash:   j.BlockHash,
		TxHash:      j.TxHash,
		TxIndex:     uint(j.TxIndex),
		Index:       uint(j.Index),
		Removed:     j.Removed,
	}
}
