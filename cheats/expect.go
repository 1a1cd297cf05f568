package cheats

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/vm"
)

// revertExpectation is a pending expectRevert: the next non-cheatcode call
// must revert with the given reason.
type revertExpectation struct {
	reason   []byte
	wildcard bool
	// depth is the call depth the expectation was declared at.
	depth int
}

// emitExpectation is one entry of the expected-emit queue. The first log
// emitted after the declaration becomes the template; subsequent emissions
// are matched against filled templates in declaration order.
type emitExpectation struct {
	// checkTopics[i] requires topic i+1 to match; topic 0 always must.
	checkTopics [3]bool
	checkData   bool
	emitter     *types.Address

	template *types.Log
	matched  bool
}

// callKey identifies an expected-call registration.
type callKey struct {
	target types.Address
	data   string // calldata prefix
}

// callExpectation tracks how often a call matching the key was observed.
type callExpectation struct {
	value  *uint256.Int
	gas    *uint64
	minGas *uint64

	// exact requires observed == count; otherwise observed >= count.
	exact    bool
	count    uint64
	observed uint64
}

// memoryRange is one expectSafeMemory window.
type memoryRange struct {
	min, max uint64
}

func registerExpectations() {
	register("expectRevert()", true, func(c *Inspector, frame *vm.CallFrame, _ []interface{}) ([]byte, error) {
		return nil, c.setExpectRevert(nil, true, frame.Depth)
	})
	register("expectRevert(bytes)", true, func(c *Inspector, frame *vm.CallFrame, args []interface{}) ([]byte, error) {
		return nil, c.setExpectRevert(args[0].([]byte), false, frame.Depth)
	})
	register("expectRevert(string)", true, func(c *Inspector, frame *vm.CallFrame, args []interface{}) ([]byte, error) {
		// require(..., "reason") reverts with the Error(string) payload, so
		// the stored expectation is the encoded form, not the bare string.
		return nil, c.setExpectRevert(abi.EncodeRevertReason(args[0].(string)), false, frame.Depth)
	})

	register("expectEmit()", true, func(c *Inspector, _ *vm.CallFrame, _ []interface{}) ([]byte, error) {
		c.addExpectEmit([3]bool{true, true, true}, true, nil)
		return nil, nil
	})
	register("expectEmit(bool,bool,bool,bool)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		c.addExpectEmit(
			[3]bool{args[0].(bool), args[1].(bool), args[2].(bool)},
			args[3].(bool), nil)
		return nil, nil
	})
	register("expectEmit(bool,bool,bool,bool,address)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		emitter := args[4].(types.Address)
		c.addExpectEmit(
			[3]bool{args[0].(bool), args[1].(bool), args[2].(bool)},
			args[3].(bool), &emitter)
		return nil, nil
	})

	register("expectCall(address,bytes)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		return nil, c.addExpectCall(args[0].(types.Address), args[1].([]byte), nil, nil, nil, false, 1)
	})
	register("expectCall(address,bytes,uint64)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		count, err := toUint64(args[2])
		if err != nil {
			return nil, err
		}
		return nil, c.addExpectCall(args[0].(types.Address), args[1].([]byte), nil, nil, nil, true, count)
	})
	register("expectCall(address,uint256,bytes)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		value, overflow := uint256.FromBig(args[1].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("value overflows 256 bits")
		}
		return nil, c.addExpectCall(args[0].(types.Address), args[2].([]byte), value, nil, nil, false, 1)
	})
	register("expectCall(address,uint256,bytes,uint64)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		value, overflow := uint256.FromBig(args[1].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("value overflows 256 bits")
		}
		count, err := toUint64(args[3])
		if err != nil {
			return nil, err
		}
		return nil, c.addExpectCall(args[0].(types.Address), args[2].([]byte), value, nil, nil, true, count)
	})
	register("expectCall(address,uint256,uint64,bytes)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		value, overflow := uint256.FromBig(args[1].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("value overflows 256 bits")
		}
		gas, err := toUint64(args[2])
		if err != nil {
			return nil, err
		}
		return nil, c.addExpectCall(args[0].(types.Address), args[3].([]byte), value, &gas, nil, false, 1)
	})
	register("expectCallMinGas(address,uint256,uint64,bytes)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		value, overflow := uint256.FromBig(args[1].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("value overflows 256 bits")
		}
		minGas, err := toUint64(args[2])
		if err != nil {
			return nil, err
		}
		return nil, c.addExpectCall(args[0].(types.Address), args[3].([]byte), value, nil, &minGas, false, 1)
	})

	register("expectSafeMemory(uint64,uint64)", true, func(c *Inspector, _ *vm.CallFrame, args []interface{}) ([]byte, error) {
		lo, err := toUint64(args[0])
		if err != nil {
			return nil, err
		}
		hi, err := toUint64(args[1])
		if err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, fmt.Errorf("invalid memory range [%d, %d)", lo, hi)
		}
		c.mu.Lock()
		c.safeMemory = append(c.safeMemory, memoryRange{min: lo, max: hi})
		c.mu.Unlock()
		return nil, nil
	})
	register("stopExpectSafeMemory()", true, func(c *Inspector, _ *vm.CallFrame, _ []interface{}) ([]byte, error) {
		c.mu.Lock()
		c.safeMemory = nil
		c.mu.Unlock()
		return nil, nil
	})
}

func (c *Inspector) setExpectRevert(reason []byte, wildcard bool, depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expectedRevert != nil {
		return fmt.Errorf("expectRevert already pending")
	}
	c.expectedRevert = &revertExpectation{reason: reason, wildcard: wildcard, depth: depth}
	return nil
}

func (c *Inspector) addExpectEmit(checkTopics [3]bool, checkData bool, emitter *types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectedEmits = append(c.expectedEmits, &emitExpectation{
		checkTopics: checkTopics,
		checkData:   checkData,
		emitter:     emitter,
	})
}

func (c *Inspector) addExpectCall(target types.Address, data []byte, value *uint256.Int, gas, minGas *uint64, exact bool, count uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := callKey{target: target, data: string(data)}
	existing, ok := c.expectedCalls[key]
	if !ok {
		c.expectedCalls[key] = &callExpectation{
			value: value, gas: gas, minGas: minGas,
			exact: exact, count: count,
		}
		return nil
	}
	if existing.exact || exact {
		// The count form pins an exact total; re-registering either form for
		// the same call is ambiguous.
		return fmt.Errorf("cannot mix exact-count and at-least expectations for the same call")
	}
	existing.count++
	return nil
}

// observeCallLocked counts calls against the expected-call table.
func (c *Inspector) observeCallLocked(frame *vm.CallFrame) {
	for key, exp := range c.expectedCalls {
		if frame.Callee != key.target || !bytes.HasPrefix(frame.Input, []byte(key.data)) {
			continue
		}
		if exp.value != nil && (frame.Value == nil || !frame.Value.Eq(exp.value)) {
			continue
		}
		if exp.gas != nil && frame.Gas != *exp.gas {
			continue
		}
		if exp.minGas != nil && frame.Gas < *exp.minGas {
			continue
		}
		exp.observed++
	}
}

// observeLogLocked advances the expected-emit queue: the first unfilled
// expectation captures the log as its template, otherwise the log is matched
// against the earliest unmatched template. Out-of-order emissions do not
// satisfy later entries.
func (c *Inspector) observeLogLocked(l *types.Log) {
	for _, exp := range c.expectedEmits {
		if exp.template == nil {
			exp.template = types.CopyLog(l)
			return
		}
	}
	for _, exp := range c.expectedEmits {
		if exp.matched {
			continue
		}
		if exp.matchesLocked(l) {
			exp.matched = true
		}
		// Whether it matched or not, only the head of the unmatched queue is
		// eligible; later entries wait for their turn.
		return
	}
}

func (e *emitExpectation) matchesLocked(l *types.Log) bool {
	if e.emitter != nil && *e.emitter != l.Address {
		return false
	}
	t := e.template
	if len(t.Topics) == 0 || len(l.Topics) == 0 || t.Topics[0] != l.Topics[0] {
		return false
	}
	for i := 0; i < 3; i++ {
		if !e.checkTopics[i] {
			continue
		}
		if len(t.Topics) <= i+1 {
			continue
		}
		if len(l.Topics) <= i+1 || t.Topics[i+1] != l.Topics[i+1] {
			return false
		}
	}
	if e.checkData && !bytes.Equal(t.Data, l.Data) {
		return false
	}
	return true
}

// VerifyExpectations checks every outstanding expectation after a test call.
// A pending expectRevert, an unsatisfied emit or a call-count mismatch fails
// the test.
func (c *Inspector) VerifyExpectations() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expectedRevert != nil {
		c.expectedRevert = nil
		return fmt.Errorf("expected revert did not occur")
	}
	for i, exp := range c.expectedEmits {
		if exp.template == nil {
			return fmt.Errorf("expected emit %d was never declared with a log", i)
		}
		if !exp.matched {
			return fmt.Errorf("expected emit %d (%s) never seen in order", i, describeLog(exp.template))
		}
	}
	for key, exp := range c.expectedCalls {
		if exp.exact {
			if exp.observed != exp.count {
				return fmt.Errorf("expected call to %s with data 0x%x to be called %d time(s), observed %d",
					key.target, []byte(key.data), exp.count, exp.observed)
			}
			continue
		}
		if exp.observed < exp.count {
			return fmt.Errorf("expected call to %s with data 0x%x to be called at least %d time(s), observed %d",
				key.target, []byte(key.data), exp.count, exp.observed)
		}
	}
	return nil
}

func describeLog(l *types.Log) string {
	if len(l.Topics) == 0 {
		return fmt.Sprintf("anonymous log from %s", l.Address)
	}
	return fmt.Sprintf("topic0 %s from %s", l.Topics[0], l.Address)
}

// compile-time checks against the executor seams.
var (
	_ executor.RevertExpecter      = (*Inspector)(nil)
	_ executor.IndeterminismSource = (*Inspector)(nil)
	_ vm.Inspector                 = (*Inspector)(nil)
)
