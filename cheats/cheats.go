// Package cheats implements the cheat-code inspector: a call-site interceptor
// that dispatches calls to the well-known cheat-code address into in-process
// handlers manipulating state, environment, forks, snapshots and test
// expectations. Every cheat-code carries a purity tag; impure codes are
// reported as indeterminism reasons so failing tests are only re-executed for
// stack traces when a replay is guaranteed to be identical.
package cheats

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// cheat is one dispatch-table entry.
type cheat struct {
	name    string
	inputs  []abi.Parameter
	pure    bool
	handler func(c *Inspector, frame *vm.CallFrame, args []interface{}) ([]byte, error)
}

// prankState is a pending msg.sender substitution.
type prankState struct {
	caller types.Address
	origin *types.Address
	// repeat keeps the prank active until stopPrank.
	repeat bool
}

// Inspector is the cheat-code dispatcher. It implements vm.Inspector and the
// executor's RevertExpecter and IndeterminismSource seams.
type Inspector struct {
	mu sync.Mutex

	exec   *executor.Executor
	forks  *ForkManager
	ctx    context.Context
	logger *log.Logger

	prank *prankState

	expectedRevert *revertExpectation
	expectedEmits  []*emitExpectation
	expectedCalls  map[callKey]*callExpectation
	safeMemory     []memoryRange

	indeterminism []string
}

// New creates an inspector bound to an executor. forks may be nil when fork
// cheat-codes are not available (no RPC endpoints configured).
func New(exec *executor.Executor, forks *ForkManager, logger *log.Logger) *Inspector {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Inspector{
		exec:          exec,
		forks:         forks,
		ctx:           context.Background(),
		logger:        logger.Module("cheats"),
		expectedCalls: make(map[callKey]*callExpectation),
	}
	exec.SetRevertExpecter(c)
	exec.SetIndeterminismSource(c)
	return c
}

// WithContext sets the context network-touching cheat-codes run under.
func (c *Inspector) WithContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

// Reset clears per-test state: pranks, expectations and impurity records.
func (c *Inspector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prank = nil
	c.expectedRevert = nil
	c.expectedEmits = nil
	c.expectedCalls = make(map[callKey]*callExpectation)
	c.safeMemory = nil
	c.indeterminism = nil
}

// EnterCall intercepts cheat-code calls and applies pranks and expected-call
// accounting to everything else.
func (c *Inspector) EnterCall(frame *vm.CallFrame) (*vm.InterceptResult, error) {
	if frame.Callee == executor.CheatcodeAddress {
		return c.dispatch(frame), nil
	}

	c.mu.Lock()
	if c.prank != nil {
		frame.Caller = c.prank.caller
		if c.prank.origin != nil {
			frame.Origin = *c.prank.origin
		}
		if !c.prank.repeat {
			c.prank = nil
		}
	}
	c.observeCallLocked(frame)
	c.mu.Unlock()
	return nil, nil
}

// ExitCall is part of vm.Inspector.
func (c *Inspector) ExitCall(*vm.CallFrame, *vm.Result) {}

// EmitLog matches emissions against the expected-emit queue in declaration
// order.
func (c *Inspector) EmitLog(l *types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLogLocked(l)
}

// dispatch decodes and runs one cheat-code call.
func (c *Inspector) dispatch(frame *vm.CallFrame) *vm.InterceptResult {
	if len(frame.Input) < 4 {
		return revertResult("cheatcode call without selector")
	}
	var sel [4]byte
	copy(sel[:], frame.Input[:4])
	entry, ok := cheatTable[sel]
	if !ok {
		return revertResult(fmt.Sprintf("unknown cheatcode selector 0x%x", sel))
	}

	args, err := abi.DecodeArgs(entry.inputs, frame.Input[4:])
	if err != nil {
		return revertResult(fmt.Sprintf("%s: %v", entry.name, err))
	}

	if !entry.pure {
		c.mu.Lock()
		c.indeterminism = append(c.indeterminism, entry.name)
		c.mu.Unlock()
	}

	output, err := entry.handler(c, frame, args)
	if errors.Is(err, errAssumeRejected) {
		return &vm.InterceptResult{Reverted: true, Output: AssumeRejection}
	}
	if err != nil {
		return revertResult(fmt.Sprintf("%s: %v", entry.name, err))
	}
	return &vm.InterceptResult{Output: output}
}

// AssumeRejection is the raw revert payload produced by assume(false). The
// fuzz runner treats a call reverting with it as a rejected input rather
// than a test failure.
var AssumeRejection = []byte("vm.assume: rejected input")

var errAssumeRejected = errors.New("rejected input")

// IsAssumeRejection reports whether a revert output is an assume rejection.
func IsAssumeRejection(output []byte) bool {
	return bytes.Equal(output, AssumeRejection)
}

func revertResult(reason string) *vm.InterceptResult {
	return &vm.InterceptResult{Reverted: true, Output: abi.EncodeRevertReason(reason)}
}

// PendingExpectRevert implements executor.RevertExpecter.
func (c *Inspector) PendingExpectRevert() (reason []byte, wildcard bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expectedRevert == nil {
		return nil, false, false
	}
	return c.expectedRevert.reason, c.expectedRevert.wildcard, true
}

// ClearExpectRevert implements executor.RevertExpecter.
func (c *Inspector) ClearExpectRevert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectedRevert = nil
}

// DrainIndeterminismReasons implements executor.IndeterminismSource.
func (c *Inspector) DrainIndeterminismReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.indeterminism
	c.indeterminism = nil
	return out
}

// cheatTable maps selectors to handlers; built once at package init.
var cheatTable = map[[4]byte]*cheat{}

func register(signature string, pure bool, handler func(c *Inspector, frame *vm.CallFrame, args []interface{}) ([]byte, error)) {
	name, inputs := parseSignature(signature)
	entry := &cheat{name: name, inputs: inputs, pure: pure, handler: handler}
	sel := abi.Selector(signature)
	if _, dup := cheatTable[sel]; dup {
		panic("cheats: duplicate selector for " + signature)
	}
	cheatTable[sel] = entry
}

func parseSignature(signature string) (string, []abi.Parameter) {
	open := strings.IndexByte(signature, '(')
	name := signature[:open]
	inner := strings.TrimSuffix(signature[open+1:], ")")
	if inner == "" {
		return name, nil
	}
	parts := strings.Split(inner, ",")
	inputs := make([]abi.Parameter, len(parts))
	for i, p := range parts {
		inputs[i] = abi.Parameter{Type: abi.MustType(p)}
	}
	return name, inputs
}

func init() {
	// Environment mutation. These write through the executor's block env or
	// state directly; none of them open a journal frame.
	register("warp(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		ts, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		c.exec.BlockEnv().Timestamp = ts
		return nil, nil
	})
	register("roll(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		n, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		c.exec.BlockEnv().Number = n
		return nil, nil
	})
	register("fee(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		fee, overflow := uint256.FromBig(args[0].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("base fee overflows 256 bits")
		}
		c.exec.BlockEnv().BaseFee = fee
		return nil, nil
	})
	register("prevrandao(bytes32)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.BlockEnv().PrevRandao = args[0].(types.Hash)
		return nil, nil
	})
	register("chainId(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		id, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		c.exec.ChainConfig().ChainID = id
		return nil, nil
	})
	register("coinbase(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.BlockEnv().Beneficiary = args[0].(types.Address)
		return nil, nil
	})
	register("blobBaseFee(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		fee, overflow := uint256.FromBig(args[0].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("blob base fee overflows 256 bits")
		}
		c.exec.BlockEnv().BlobBaseFee = fee
		return nil, nil
	})
	register("txGasPrice(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		price, overflow := uint256.FromBig(args[0].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("gas price overflows 256 bits")
		}
		c.exec.SetGasPriceOverride(price)
		return nil, nil
	})

	register("setBalance(address,uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.StateDB().SetBalance(args[0].(types.Address), args[1].(*big.Int))
		return nil, nil
	})
	register("setNonce(address,uint64)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		addr := args[0].(types.Address)
		want, err := toUint64(args[1])
		if err != nil {
			return nil, err
		}
		have, err := c.exec.StateDB().Nonce(addr)
		if err != nil {
			return nil, err
		}
		if want < have {
			return nil, fmt.Errorf("new nonce %d below current %d", want, have)
		}
		c.exec.StateDB().SetNonce(addr, want)
		return nil, nil
	})
	register("getNonce(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		nonce, err := c.exec.StateDB().Nonce(args[0].(types.Address))
		if err != nil {
			return nil, err
		}
		return encodeOne("uint64", new(big.Int).SetUint64(nonce))
	})
	register("setCode(address,bytes)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.StateDB().SetCode(args[0].(types.Address), args[1].([]byte))
		return nil, nil
	})
	register("setStorage(address,bytes32,bytes32)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.StateDB().SetStorage(args[0].(types.Address), args[1].(types.Hash), args[2].(types.Hash))
		return nil, nil
	})
	register("load(address,bytes32)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := c.exec.StateDB().Storage(args[0].(types.Address), args[1].(types.Hash))
		if err != nil {
			return nil, err
		}
		return encodeOne("bytes32", v)
	})
	register("label(address,string)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.Label(args[0].(types.Address), args[1].(string))
		return nil, nil
	})
	register("assume(bool)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if !args[0].(bool) {
			return nil, errAssumeRejected
		}
		return nil, nil
	})

	// Impersonation.
	register("prank(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		return nil, c.setPrank(args[0].(types.Address), nil, false)
	})
	register("prank(address,address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		origin := args[1].(types.Address)
		return nil, c.setPrank(args[0].(types.Address), &origin, false)
	})
	register("startPrank(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		return nil, c.setPrank(args[0].(types.Address), nil, true)
	})
	register("startPrank(address,address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		origin := args[1].(types.Address)
		return nil, c.setPrank(args[0].(types.Address), &origin, true)
	})
	register("stopPrank()", true, func(c *Inspector, _ *vm.CallFrame, _ []interface{}) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.prank = nil
		return nil, nil
	})

	// Persistent accounts.
	register("makePersistent(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.StateDB().AddPersistentAccount(args[0].(types.Address))
		return nil, nil
	})
	register("revokePersistent(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.exec.StateDB().RemovePersistentAccount(args[0].(types.Address))
		return nil, nil
	})
	register("isPersistent(address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		return encodeOne("bool", c.exec.StateDB().IsPersistent(args[0].(types.Address)))
	})

	// Snapshots.
	register("snapshot()", true, func(c *Inspector, _ *vm.CallFrame, _ []interface{}) ([]byte, error) {
		id := c.exec.Snapshot()
		return encodeOne("uint256", new(big.Int).SetUint64(id))
	})
	register("revertTo(uint256)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		id, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		return encodeOne("bool", c.exec.RevertToSnapshot(id))
	})

	registerExpectations()
	registerEnvProbes()
	registerForkCheats()
}

func (c *Inspector) setPrank(caller types.Address, origin *types.Address, repeat bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prank != nil && c.prank.repeat {
		return fmt.Errorf("prank already active; call stopPrank first")
	}
	c.prank = &prankState{caller: caller, origin: origin, repeat: repeat}
	return nil
}

// registerEnvProbes installs the process-environment cheat-codes. All of them
// are impure: their results depend on the host environment, so replaying a
// call that used them may diverge.
func registerEnvProbes() {
	register("setEnv(string,string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		key := args[0].(string)
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return nil, fmt.Errorf("invalid environment variable name %q", key)
		}
		return nil, os.Setenv(key, args[1].(string))
	})
	register("envExists(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		_, ok := os.LookupEnv(args[0].(string))
		return encodeOne("bool", ok)
	})
	register("envBool(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		b, err := parseEnvBool(v)
		if err != nil {
			return nil, err
		}
		return encodeOne("bool", b)
	})
	register("envUint(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		n, ok := parseEnvBig(v)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("cannot parse %q as uint", v)
		}
		return encodeOne("uint256", n)
	})
	register("envInt(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		n, ok := parseEnvBig(v)
		if !ok {
			return nil, fmt.Errorf("cannot parse %q as int", v)
		}
		return encodeOne("int256", n)
	})
	register("envAddress(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(v, "0x") || len(v) != 42 {
			return nil, fmt.Errorf("cannot parse %q as address", v)
		}
		return encodeOne("address", types.HexToAddress(v))
	})
	register("envBytes32(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(v, "0x") || len(v) != 66 {
			return nil, fmt.Errorf("cannot parse %q as bytes32", v)
		}
		return encodeOne("bytes32", types.HexToHash(v))
	})
	register("envString(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		return encodeOne("string", v)
	})
	register("envBytes(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		v, err := lookupEnv(args[0].(string))
		if err != nil {
			return nil, err
		}
		data := []byte(v)
		if strings.HasPrefix(v, "0x") {
			if decoded, ok := decodeHex(v); ok {
				data = decoded
			}
		}
		return encodeOne("bytes", data)
	})
	register("envOr(string,string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if v, ok := os.LookupEnv(args[0].(string)); ok {
			return encodeOne("string", v)
		}
		return encodeOne("string", args[1].(string))
	})
	register("envOr(string,uint256)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if v, ok := os.LookupEnv(args[0].(string)); ok {
			if n, parsed := parseEnvBig(v); parsed && n.Sign() >= 0 {
				return encodeOne("uint256", n)
			}
		}
		return encodeOne("uint256", args[1].(*big.Int))
	})
	register("envOr(string,bool)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		if v, ok := os.LookupEnv(args[0].(string)); ok {
			if b, err := parseEnvBool(v); err == nil {
				return encodeOne("bool", b)
			}
		}
		return encodeOne("bool", args[1].(bool))
	})
	register("isContext(string)", false, func(_ *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		return encodeOne("bool", args[0].(string) == "test")
	})

	// RPC pass-through to the active fork's upstream endpoint.
	register("rpc(string,string)", false, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		client := c.activeClient()
		if client == nil {
			return nil, fmt.Errorf("no active fork to forward to")
		}
		var params []interface{}
		raw := args[1].(string)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return nil, fmt.Errorf("params must be a JSON array: %v", err)
			}
		}
		result, err := client.RawCall(c.ctx, args[0].(string), params...)
		if err != nil {
			return nil, err
		}
		return encodeOne("bytes", []byte(result))
	})
}

func lookupEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q not found", key)
	}
	return v, nil
}

func parseEnvBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("cannot parse %q as bool", v)
}

func parseEnvBig(v string) (*big.Int, bool) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "0x") {
		return new(big.Int).SetString(v[2:], 16)
	}
	return new(big.Int).SetString(v, 10)
}

func decodeHex(v string) ([]byte, bool) {
	out, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
	if err != nil {
		return nil, false
	}
	return out, true
}

// encodeOne abi-encodes a single return value.
func encodeOne(typeName string, v interface{}) ([]byte, error) {
	return abi.EncodeArgs([]abi.Parameter{{Type: abi.MustType(typeName)}}, []interface{}{v})
}

func toUint64(v interface{}) (uint64, error) {
	n := v.(*big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("value %v does not fit in 64 bits", n)
	}
	return n.Uint64(), nil
}
