package provider

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// TraceResult is one node of a call-tracer tree.
type TraceResult struct {
	Type    string         `json:"type"`
	From    types.Address  `json:"from"`
	To      *types.Address `json:"to,omitempty"`
	Value   *hexutil.Big   `json:"value,omitempty"`
	Gas     hexutil.Uint64 `json:"gas"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Input   hexutil.Bytes  `json:"input"`
	Output  hexutil.Bytes  `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Calls   []*TraceResult `json:"calls,omitempty"`
}

// TraceCall executes a call against the latest state and returns its call
// tree without committing anything.
func (p *Provider) TraceCall(ctx context.Context, req *CallRequest) (*TraceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	env := p.callEnv(req)
	raw, err := p.exec.Call(env)
	if err != nil {
		return nil, err
	}
	return buildTraceTree(env, raw), nil
}

// TraceTransaction re-executes the block containing the transaction on a
// reconstructed pre-block state and returns the transaction's call tree.
func (p *Provider) TraceTransaction(ctx context.Context, hash types.Hash) (*TraceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.chain.BlockByTxHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("provider: transaction %s not found", hash)
	}
	number := block.NumberU64()
	if p.chain.IsForked() && number <= p.chain.ForkBlockNumber() {
		return nil, fmt.Errorf("%w: tracing transactions mined before the fork point", ErrUnsupportedOperation)
	}

	// Rebuild the state the block executed on: genesis funding plus every
	// diff up to the parent block.
	var db *state.StateDB
	if p.chain.IsForked() {
		db = state.New(state.NewForkedReader(ctx, p.chain.Client(), p.chain.ForkBlockNumber()))
	} else {
		db = state.New(nil)
	}
	db.ApplyDiff(p.genesisDiff)
	if number > 0 {
		db.ApplyDiff(p.chain.StateDiffsUpTo(number - 1))
	}

	header := block.HeaderNoCopy()
	blockEnv := vm.NewBlockEnv(header, p.cfg.Hardfork)
	exec := executor.New(p.exec.ChainConfig(), p.interp, db, blockEnv, p.logger)

	for _, tx := range block.Transactions() {
		env := vm.TxEnvFromTransaction(tx, header.BaseFee)
		raw, err := exec.Transact(env)
		if err != nil {
			return nil, fmt.Errorf("provider: replaying %s: %w", tx.Hash(), err)
		}
		if tx.Hash() == hash {
			return buildTraceTree(env, raw), nil
		}
	}
	return nil, fmt.Errorf("provider: transaction %s not in its block", hash)
}

// buildTraceTree folds the flat depth-ordered call records into a tree. The
// root frame's totals come from the transaction result.
func buildTraceTree(env vm.TxEnv, raw *executor.RawCallResult) *TraceResult {
	root := &TraceResult{
		Type:    callType(env.To == nil),
		From:    env.From,
		To:      env.To,
		Gas:     hexutil.Uint64(env.GasLimit),
		GasUsed: hexutil.Uint64(raw.GasUsed),
		Input:   hexutil.Bytes(env.Data),
		Output:  hexutil.Bytes(raw.Output),
	}
	if env.Value != nil && !env.Value.IsZero() {
		root.Value = (*hexutil.Big)(env.Value.ToBig())
	}
	if raw.Reverted {
		root.Error = "execution reverted"
	} else if raw.ExitReason != "success" {
		root.Error = raw.ExitReason
	}

	if len(raw.Traces) == 0 {
		return root
	}

	// The first record is the outer frame the root already covers; nest the
	// rest by depth.
	type frame struct {
		node  *TraceResult
		depth int
	}
	stack := []frame{{root, raw.Traces[0].Depth}}
	for _, trace := range raw.Traces[1:] {
		callee := trace.Callee
		node := &TraceResult{
			Type:    callType(trace.IsCreate),
			From:    trace.Caller,
			To:      &callee,
			GasUsed: hexutil.Uint64(trace.GasUsed),
			Input:   hexutil.Bytes(trace.Input),
			Output:  hexutil.Bytes(trace.Output),
		}
		if trace.Value != nil && !trace.Value.IsZero() {
			node.Value = (*hexutil.Big)(trace.Value.ToBig())
		}
		if trace.Reverted {
			node.Error = "execution reverted"
		}

		for len(stack) > 1 && stack[len(stack)-1].depth >= trace.Depth {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node
		parent.Calls = append(parent.Calls, node)
		stack = append(stack, frame{node, trace.Depth})
	}
	return root
}

func callType(isCreate bool) string {
	if isCreate {
		return "CREATE"
	}
	return "CALL"
}
