package main

import (
	"os"
	"path/filepath"
	"testing"
)

const counterArtifact = `{
	"contractName": "CounterTest",
	"abi": [
		{"type": "function", "name": "setUp", "stateMutability": "nonpayable", "inputs": []},
		{"type": "function", "name": "testIncrement", "stateMutability": "nonpayable", "inputs": []},
		{"type": "function", "name": "testFuzz_Add", "stateMutability": "nonpayable",
		 "inputs": [{"name": "x", "type": "uint256"}]},
		{"type": "event", "name": "Done", "inputs": []}
	],
	"bytecode": "0x6080604052"
}`

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadArtifact(t *testing.T) {
	artifact, err := loadArtifact(writeArtifact(t, "CounterTest.json", counterArtifact))
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Name != "CounterTest" {
		t.Fatalf("name = %q", artifact.Name)
	}
	if len(artifact.Bytecode) != 5 {
		t.Fatalf("bytecode length = %d", len(artifact.Bytecode))
	}
	// Events are dropped, functions survive with typed inputs.
	if got := len(artifact.ABI.Functions); got != 3 {
		t.Fatalf("functions = %d", got)
	}
	var fuzz bool
	for _, fn := range artifact.ABI.Functions {
		if fn.Name == "testFuzz_Add" && len(fn.Inputs) == 1 {
			fuzz = true
		}
	}
	if !fuzz {
		t.Fatal("testFuzz_Add input missing")
	}
}

func TestLoadArtifactNameFallsBackToFilename(t *testing.T) {
	content := `{"abi": [{"type": "function", "name": "testA", "inputs": []}], "bytecode": "0x00"}`
	artifact, err := loadArtifact(writeArtifact(t, "Unnamed.json", content))
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Name != "Unnamed" {
		t.Fatalf("name = %q", artifact.Name)
	}
}

func TestLoadArtifactRejectsUnlinkedBytecode(t *testing.T) {
	content := `{"abi": [{"type": "function", "name": "testA", "inputs": []}],
	             "bytecode": "0x60__$f00$__80"}`
	if _, err := loadArtifact(writeArtifact(t, "Linked.json", content)); err == nil {
		t.Fatal("unlinked placeholder accepted")
	}
}

func TestLoadArtifactRejectsMetadataJSON(t *testing.T) {
	if _, err := loadArtifact(writeArtifact(t, "build-info.json", `{"solcVersion": "0.8.24"}`)); err == nil {
		t.Fatal("metadata JSON accepted as artifact")
	}
}

func TestCollectArtifactsWalksDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "CounterTest.json"), []byte(counterArtifact), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{"k": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	artifacts, err := collectArtifacts([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "CounterTest" {
		t.Fatalf("artifacts = %v", artifacts)
	}
}
