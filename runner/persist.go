package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// persistedCall is the on-disk form of one counter-example call.
type persistedCall struct {
	Sender    string        `json:"sender"`
	Target    string        `json:"target"`
	Signature string        `json:"signature"`
	Calldata  hexutil.Bytes `json:"calldata"`
	Display   string        `json:"display,omitempty"`
}

// persistedFailure is the on-disk counter-example file, keyed to the test
// contract build through the bytecode hash.
type persistedFailure struct {
	BytecodeHash string          `json:"bytecode_hash"`
	Calls        []persistedCall `json:"calls"`
}

// counterExamplePath is <dir>/<contract>/<test>.json.
func (r *Runner) counterExamplePath(contract, test string) string {
	dir := r.cfg.Invariant.FailurePersistDir
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, contract, test+".json")
}

// loadCounterExample reads a persisted counter-example, or nil when none
// exists or the file is unreadable.
func (r *Runner) loadCounterExample(contract, test string) *CounterExample {
	path := r.counterExamplePath(contract, test)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pf persistedFailure
	if err := json.Unmarshal(data, &pf); err != nil {
		r.logger.Warn("unreadable counter-example file", "path", path, "err", err)
		return nil
	}
	ce := &CounterExample{BytecodeHash: types.HexToHash(pf.BytecodeHash)}
	for _, pc := range pf.Calls {
		ce.Calls = append(ce.Calls, CounterExampleCall{
			Sender:    types.HexToAddress(pc.Sender),
			Target:    types.HexToAddress(pc.Target),
			Signature: pc.Signature,
			Calldata:  pc.Calldata,
			Display:   pc.Display,
		})
	}
	return ce
}

// saveCounterExample writes the counter-example atomically (write to a temp
// file, then rename).
func (r *Runner) saveCounterExample(contract, test string, ce *CounterExample) error {
	path := r.counterExamplePath(contract, test)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	pf := persistedFailure{BytecodeHash: ce.BytecodeHash.Hex()}
	for _, call := range ce.Calls {
		pf.Calls = append(pf.Calls, persistedCall{
			Sender:    call.Sender.Hex(),
			Target:    call.Target.Hex(),
			Signature: call.Signature,
			Calldata:  call.Calldata,
			Display:   call.Display,
		})
	}
	data, err := json.MarshalIndent(&pf, "", "  ")
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

// removeCounterExample deletes a stale counter-example file.
func (r *Runner) removeCounterExample(contract, test string) {
	path := r.counterExamplePath(contract, test)
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("removing counter-example file failed", "path", path, "err", err)
	}
}
