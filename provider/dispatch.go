package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/crypto"
	"github.com/NomicFoundation/edr-sub001/version"
)

// ErrMethodNotFound is returned for methods the provider does not implement.
type ErrMethodNotFound struct{ Method string }

func (e *ErrMethodNotFound) Error() string {
	return fmt.Sprintf("provider: method %s not found", e.Method)
}

// flexQuantity accepts a JSON number or a hex-quantity string. Tooling sends
// both for time- and id-like arguments.
type flexQuantity uint64

func (q *flexQuantity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := hexutil.DecodeUint64(s)
		if err != nil {
			// Decimal strings also appear in the wild.
			v, err = strconv.ParseUint(s, 10, 64)
			if err != nil {
				return err
			}
		}
		*q = flexQuantity(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = flexQuantity(v)
	return nil
}

// decodeParams unpacks a positional JSON-RPC parameter array into the given
// targets. Targets beyond the sent parameters keep their zero value; min is
// the number of required parameters.
func decodeParams(raw json.RawMessage, min int, targets ...interface{}) error {
	list := []json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("provider: invalid params: %w", err)
		}
	}
	if len(list) < min {
		return fmt.Errorf("provider: expected at least %d params, got %d", min, len(list))
	}
	if len(list) > len(targets) {
		return fmt.Errorf("provider: too many params: expected at most %d, got %d", len(targets), len(list))
	}
	for i, item := range list {
		if string(item) == "null" {
			continue
		}
		if err := json.Unmarshal(item, targets[i]); err != nil {
			return fmt.Errorf("provider: param %d: %w", i, err)
		}
	}
	return nil
}

// Handle dispatches one JSON-RPC request to the matching provider method and
// returns the JSON-encodable result.
func (p *Provider) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_accounts":
		return p.Accounts(), nil

	case "eth_blockNumber":
		return hexutil.Uint64(p.BlockNumber()), nil

	case "eth_call":
		var req CallRequest
		tag := LatestTag()
		if err := decodeParams(params, 1, &req, &tag); err != nil {
			return nil, err
		}
		out, err := p.Call(ctx, &req, tag)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(out), nil

	case "eth_chainId":
		return hexutil.Uint64(p.ChainID()), nil

	case "eth_coinbase":
		return p.cfg.Coinbase, nil

	case "eth_estimateGas":
		var req CallRequest
		tag := LatestTag()
		if err := decodeParams(params, 1, &req, &tag); err != nil {
			return nil, err
		}
		gas, err := p.EstimateGas(ctx, &req)
		if err != nil {
			return nil, err
		}
		return hexutil.Uint64(gas), nil

	case "eth_feeHistory":
		var (
			count       flexQuantity
			newest      = LatestTag()
			percentiles []float64
		)
		if err := decodeParams(params, 2, &count, &newest, &percentiles); err != nil {
			return nil, err
		}
		return p.FeeHistoryResult(ctx, uint64(count), newest, percentiles)

	case "eth_gasPrice":
		price, err := p.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return (*hexutil.Big)(price), nil

	case "eth_getBalance":
		var addr types.Address
		tag := LatestTag()
		if err := decodeParams(params, 1, &addr, &tag); err != nil {
			return nil, err
		}
		balance, err := p.GetBalance(ctx, addr, tag)
		if err != nil {
			return nil, err
		}
		return (*hexutil.Big)(balance), nil

	case "eth_getBlockByHash":
		var (
			hash types.Hash
			full bool
		)
		if err := decodeParams(params, 1, &hash, &full); err != nil {
			return nil, err
		}
		return p.GetBlockByHash(ctx, hash, full)

	case "eth_getBlockByNumber":
		var full bool
		tag := LatestTag()
		if err := decodeParams(params, 1, &tag, &full); err != nil {
			return nil, err
		}
		return p.GetBlockByNumber(ctx, tag, full)

	case "eth_getBlockTransactionCountByHash":
		var hash types.Hash
		if err := decodeParams(params, 1, &hash); err != nil {
			return nil, err
		}
		block, err := p.GetBlockByHash(ctx, hash, false)
		if err != nil || block == nil {
			return nil, err
		}
		return hexutil.Uint64(len(block.Transactions)), nil

	case "eth_getBlockTransactionCountByNumber":
		tag := LatestTag()
		if err := decodeParams(params, 1, &tag); err != nil {
			return nil, err
		}
		block, err := p.GetBlockByNumber(ctx, tag, false)
		if err != nil || block == nil {
			return nil, err
		}
		return hexutil.Uint64(len(block.Transactions)), nil

	case "eth_getCode":
		var addr types.Address
		tag := LatestTag()
		if err := decodeParams(params, 1, &addr, &tag); err != nil {
			return nil, err
		}
		code, err := p.GetCode(ctx, addr, tag)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(code), nil

	case "eth_getFilterChanges":
		var id string
		if err := decodeParams(params, 1, &id); err != nil {
			return nil, err
		}
		logs, hashes, ok := p.filters.changes(id)
		if !ok {
			return nil, fmt.Errorf("provider: filter %s not found", id)
		}
		out := make([]interface{}, 0, len(logs)+len(hashes))
		for _, l := range logs {
			out = append(out, toRPCLog(l))
		}
		for _, h := range hashes {
			out = append(out, h)
		}
		return out, nil

	case "eth_getFilterLogs":
		var id string
		if err := decodeParams(params, 1, &id); err != nil {
			return nil, err
		}
		logs, ok := p.filters.logs(id)
		if !ok {
			return nil, fmt.Errorf("provider: filter %s not found", id)
		}
		out := make([]*rpcLog, 0, len(logs))
		for _, l := range logs {
			out = append(out, toRPCLog(l))
		}
		return out, nil

	case "eth_getLogs":
		var req LogFilterRequest
		if err := decodeParams(params, 1, &req); err != nil {
			return nil, err
		}
		return p.GetLogs(ctx, &req)

	case "eth_getProof":
		var (
			addr  types.Address
			slots []types.Hash
		)
		tag := LatestTag()
		if err := decodeParams(params, 2, &addr, &slots, &tag); err != nil {
			return nil, err
		}
		return p.GetProof(ctx, addr, slots, tag)

	case "eth_getStorageAt":
		var (
			addr types.Address
			slot types.Hash
		)
		tag := LatestTag()
		if err := decodeParams(params, 2, &addr, &slot, &tag); err != nil {
			return nil, err
		}
		value, err := p.GetStorageAt(ctx, addr, slot, tag)
		if err != nil {
			return nil, err
		}
		return value, nil

	case "eth_getTransactionByHash":
		var hash types.Hash
		if err := decodeParams(params, 1, &hash); err != nil {
			return nil, err
		}
		return p.GetTransactionByHash(ctx, hash)

	case "eth_getTransactionCount":
		var addr types.Address
		tag := LatestTag()
		if err := decodeParams(params, 1, &addr, &tag); err != nil {
			return nil, err
		}
		nonce, err := p.GetTransactionCount(ctx, addr, tag)
		if err != nil {
			return nil, err
		}
		return hexutil.Uint64(nonce), nil

	case "eth_getTransactionReceipt":
		var hash types.Hash
		if err := decodeParams(params, 1, &hash); err != nil {
			return nil, err
		}
		return p.GetTransactionReceipt(ctx, hash)

	case "eth_blobBaseFee":
		return (*hexutil.Big)(p.BlobBaseFee()), nil

	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(p.MaxPriorityFeePerGas()), nil

	case "eth_mining":
		return p.Mining(), nil

	case "eth_newBlockFilter":
		return p.filters.install(blockFilterKind, nil), nil

	case "eth_newFilter":
		var req LogFilterRequest
		if err := decodeParams(params, 1, &req); err != nil {
			return nil, err
		}
		p.mu.Lock()
		criteria, err := p.toLogFilter(ctx, &req)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return p.filters.install(logFilterKind, criteria), nil

	case "eth_newPendingTransactionFilter":
		return p.filters.install(pendingTxFilterKind, nil), nil

	case "eth_pendingTransactions":
		return p.PendingTransactions(), nil

	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := decodeParams(params, 1, &raw); err != nil {
			return nil, err
		}
		return p.SendRawTransaction(ctx, raw)

	case "eth_sendTransaction":
		var req CallRequest
		if err := decodeParams(params, 1, &req); err != nil {
			return nil, err
		}
		return p.SendTransaction(ctx, &req)

	case "eth_sign":
		var (
			addr types.Address
			data hexutil.Bytes
		)
		if err := decodeParams(params, 2, &addr, &data); err != nil {
			return nil, err
		}
		sig, err := p.Sign(addr, data)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(sig), nil

	case "eth_signTypedData_v4":
		var (
			addr    types.Address
			payload json.RawMessage
		)
		if err := decodeParams(params, 2, &addr, &payload); err != nil {
			return nil, err
		}
		sig, err := p.SignTypedData(addr, payload)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(sig), nil

	case "eth_subscribe", "eth_unsubscribe":
		// Notifications need a push transport; HTTP polls via filters.
		return nil, fmt.Errorf("%w: %s over HTTP, use filters", ErrUnsupportedOperation, method)

	case "eth_syncing":
		return p.Syncing(), nil

	case "eth_uninstallFilter":
		var id string
		if err := decodeParams(params, 1, &id); err != nil {
			return nil, err
		}
		return p.filters.uninstall(id), nil

	case "evm_increaseTime":
		var seconds flexQuantity
		if err := decodeParams(params, 1, &seconds); err != nil {
			return nil, err
		}
		return strconv.FormatInt(p.IncreaseTime(int64(seconds)), 10), nil

	case "evm_mine":
		var ts flexQuantity
		var timestamp *uint64
		if err := decodeParams(params, 0, &ts); err != nil {
			return nil, err
		}
		if ts != 0 {
			v := uint64(ts)
			timestamp = &v
		}
		if err := p.Mine(ctx, timestamp); err != nil {
			return nil, err
		}
		return "0x0", nil

	case "evm_revert":
		var id flexQuantity
		if err := decodeParams(params, 1, &id); err != nil {
			return nil, err
		}
		return p.Revert(uint64(id)), nil

	case "evm_setAutomine":
		var enabled bool
		if err := decodeParams(params, 1, &enabled); err != nil {
			return nil, err
		}
		return true, p.SetAutomine(ctx, enabled)

	case "evm_setBlockGasLimit":
		var limit flexQuantity
		if err := decodeParams(params, 1, &limit); err != nil {
			return nil, err
		}
		return true, p.SetBlockGasLimit(uint64(limit))

	case "evm_setIntervalMining":
		var ms flexQuantity
		if err := decodeParams(params, 1, &ms); err != nil {
			return nil, err
		}
		p.SetIntervalMining(time.Duration(ms) * time.Millisecond)
		return true, nil

	case "evm_setNextBlockTimestamp":
		var ts flexQuantity
		if err := decodeParams(params, 1, &ts); err != nil {
			return nil, err
		}
		return true, p.SetNextBlockTimestamp(ctx, uint64(ts))

	case "evm_snapshot":
		return hexutil.Uint64(p.Snapshot()), nil

	case "hardhat_addCompilationResult":
		var (
			solcVersion   string
			input, output json.RawMessage
		)
		if err := decodeParams(params, 3, &solcVersion, &input, &output); err != nil {
			return nil, err
		}
		return p.AddCompilationResult(solcVersion, input, output), nil

	case "hardhat_dropTransaction":
		var hash types.Hash
		if err := decodeParams(params, 1, &hash); err != nil {
			return nil, err
		}
		return p.DropTransaction(ctx, hash)

	case "hardhat_getAutomine":
		return p.GetAutomine(), nil

	case "hardhat_impersonateAccount":
		var addr types.Address
		if err := decodeParams(params, 1, &addr); err != nil {
			return nil, err
		}
		p.ImpersonateAccount(addr)
		return true, nil

	case "hardhat_intervalMine":
		if err := p.Mine(ctx, nil); err != nil {
			return nil, err
		}
		return true, nil

	case "hardhat_metadata":
		return p.Metadata(ctx)

	case "hardhat_mine":
		count := flexQuantity(1)
		var interval flexQuantity
		if err := decodeParams(params, 0, &count, &interval); err != nil {
			return nil, err
		}
		return true, p.MineBlocks(ctx, uint64(count), uint64(interval))

	case "hardhat_reset":
		var args struct {
			Forking *struct {
				JSONRPCURL  string  `json:"jsonRpcUrl"`
				BlockNumber *uint64 `json:"blockNumber"`
			} `json:"forking"`
		}
		if err := decodeParams(params, 0, &args); err != nil {
			return nil, err
		}
		forkURL := ""
		var forkBlock *uint64
		if args.Forking != nil {
			forkURL = args.Forking.JSONRPCURL
			forkBlock = args.Forking.BlockNumber
		}
		return true, p.Reset(ctx, forkURL, forkBlock)

	case "hardhat_setBalance":
		var (
			addr    types.Address
			balance hexutil.Big
		)
		if err := decodeParams(params, 2, &addr, &balance); err != nil {
			return nil, err
		}
		p.SetBalance(addr, balance.ToInt())
		return true, nil

	case "hardhat_setCode":
		var (
			addr types.Address
			code hexutil.Bytes
		)
		if err := decodeParams(params, 2, &addr, &code); err != nil {
			return nil, err
		}
		p.SetCode(addr, code)
		return true, nil

	case "hardhat_setCoinbase":
		var addr types.Address
		if err := decodeParams(params, 1, &addr); err != nil {
			return nil, err
		}
		p.SetCoinbase(addr)
		return true, nil

	case "hardhat_setLoggingEnabled":
		var enabled bool
		if err := decodeParams(params, 1, &enabled); err != nil {
			return nil, err
		}
		p.SetLoggingEnabled(enabled)
		return true, nil

	case "hardhat_setMinGasPrice":
		var price hexutil.Big
		if err := decodeParams(params, 1, &price); err != nil {
			return nil, err
		}
		return true, p.SetMinGasPrice(price.ToInt())

	case "hardhat_setNextBlockBaseFeePerGas":
		var fee hexutil.Big
		if err := decodeParams(params, 1, &fee); err != nil {
			return nil, err
		}
		return true, p.SetNextBlockBaseFeePerGas(fee.ToInt())

	case "hardhat_setNonce":
		var (
			addr  types.Address
			nonce flexQuantity
		)
		if err := decodeParams(params, 2, &addr, &nonce); err != nil {
			return nil, err
		}
		return true, p.SetNonce(addr, uint64(nonce))

	case "hardhat_setPrevRandao":
		var value types.Hash
		if err := decodeParams(params, 1, &value); err != nil {
			return nil, err
		}
		return true, p.SetPrevRandao(value)

	case "hardhat_setStorageAt":
		var (
			addr        types.Address
			slot, value types.Hash
		)
		if err := decodeParams(params, 3, &addr, &slot, &value); err != nil {
			return nil, err
		}
		p.SetStorageAt(addr, slot, value)
		return true, nil

	case "hardhat_stopImpersonatingAccount":
		var addr types.Address
		if err := decodeParams(params, 1, &addr); err != nil {
			return nil, err
		}
		return p.StopImpersonatingAccount(addr), nil

	case "debug_traceCall":
		var req CallRequest
		tag := LatestTag()
		var opts json.RawMessage
		if err := decodeParams(params, 1, &req, &tag, &opts); err != nil {
			return nil, err
		}
		return p.TraceCall(ctx, &req)

	case "debug_traceTransaction":
		var hash types.Hash
		var opts json.RawMessage
		if err := decodeParams(params, 1, &hash, &opts); err != nil {
			return nil, err
		}
		return p.TraceTransaction(ctx, hash)

	case "net_listening":
		return true, nil

	case "net_version":
		return strconv.FormatUint(p.ChainID(), 10), nil

	case "web3_clientVersion":
		return version.ClientVersion(), nil

	case "web3_sha3":
		var data hexutil.Bytes
		if err := decodeParams(params, 1, &data); err != nil {
			return nil, err
		}
		return crypto.Keccak256Hash(data), nil
	}

	return nil, &ErrMethodNotFound{Method: method}
}
