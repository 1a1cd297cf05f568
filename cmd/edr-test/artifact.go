package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/runner"
)

// artifactFile is the compiler output shape: the Hardhat artifact layout,
// which solc standard-output converters also produce.
type artifactFile struct {
	ContractName string     `json:"contractName"`
	ABI          []abiEntry `json:"abi"`
	Bytecode     string     `json:"bytecode"`
}

type abiEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	StateMutability string     `json:"stateMutability"`
	Inputs          []abiInput `json:"inputs"`
}

type abiInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// loadArtifact parses one artifact JSON into a runnable test contract.
func loadArtifact(path string) (*runner.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("not an artifact: %w", err)
	}
	if len(file.ABI) == 0 || file.Bytecode == "" {
		return nil, fmt.Errorf("artifact has no abi or bytecode")
	}
	if strings.Contains(file.Bytecode, "__$") {
		return nil, fmt.Errorf("bytecode has unlinked library placeholders")
	}

	bytecode, err := hex.DecodeString(strings.TrimPrefix(file.Bytecode, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}

	name := file.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	contract := &abi.Contract{Name: name}
	for _, entry := range file.ABI {
		if entry.Type != "function" {
			continue
		}
		fn := abi.Function{Name: entry.Name, StateMutability: entry.StateMutability}
		supported := true
		for _, in := range entry.Inputs {
			t, err := abi.ParseType(in.Type)
			if err != nil {
				// Tuples and arrays are outside the fuzzable surface;
				// functions taking them are not runnable and stay out.
				supported = false
				break
			}
			fn.Inputs = append(fn.Inputs, abi.Parameter{Name: in.Name, Type: t})
		}
		if supported {
			contract.Functions = append(contract.Functions, fn)
		}
	}

	return &runner.Artifact{
		Name:     name,
		ABI:      contract,
		Bytecode: bytecode,
	}, nil
}
