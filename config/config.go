// Package config holds the configuration structs the CLI hands to the test
// runner and the provider. The core treats them as plain data; there is no
// file parsing here.
package config

import (
	"math/big"
	"time"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// Well-known addresses of the Foundry/DSTest conventions.
var (
	// DefaultSender is the address test contracts are deployed from and
	// tests are called from.
	DefaultSender = types.HexToAddress("0x1804c8AB1F12E6bbf3894d4083f33e07309d1f38")

	// DefaultLibraryDeployer deploys linked libraries during setup.
	DefaultLibraryDeployer = types.HexToAddress("0x1F95D37F27EA0dEA9C252FC09D5A6eaA97647353")

	// DefaultCoinbase collects tips on locally mined blocks.
	DefaultCoinbase = types.HexToAddress("0xc014ba5ec014ba5ec014ba5ec014ba5ec014ba5e")
)

// DefaultChainID is the development chain id both Hardhat and Anvil use.
const DefaultChainID = 31337

// FuzzConfig controls the property-test runner for parameterised tests.
type FuzzConfig struct {
	// Runs is the number of generated input tuples per test.
	Runs int
	// MaxRejects bounds discarded inputs before the test errors out.
	MaxRejects int
	// Seed makes input generation reproducible. Zero seeds from the test
	// name alone.
	Seed int64
	// DictionaryWeight is the percentage (0..100) of inputs drawn from
	// collected fixtures instead of random generation.
	DictionaryWeight int
	// Timeout bounds one test function; zero means no budget.
	Timeout time.Duration
}

// DefaultFuzzConfig mirrors the conventional defaults.
func DefaultFuzzConfig() FuzzConfig {
	return FuzzConfig{
		Runs:             256,
		MaxRejects:       65536,
		DictionaryWeight: 40,
	}
}

// InvariantConfig controls invariant test execution.
type InvariantConfig struct {
	// Runs is the number of generated call sequences.
	Runs int
	// Depth is the maximum number of calls per sequence.
	Depth int
	// FailOnRevert makes any reverting sequence call a failure.
	FailOnRevert bool
	// ShrinkLimit bounds counter-example shrinking iterations.
	ShrinkLimit int
	// Timeout bounds one test function; zero means no budget.
	Timeout time.Duration
	// FailurePersistDir stores counter-examples keyed by contract and
	// function. Empty disables persistence.
	FailurePersistDir string
}

// DefaultInvariantConfig mirrors the conventional defaults.
func DefaultInvariantConfig() InvariantConfig {
	return InvariantConfig{
		Runs:        256,
		Depth:       500,
		ShrinkLimit: 5000,
	}
}

// TraceMode selects which traces test results carry.
type TraceMode int

const (
	// TracesOnFailure includes traces only for failing tests.
	TracesOnFailure TraceMode = iota
	// TracesAll includes traces for every test.
	TracesAll
	// TracesNone drops traces entirely.
	TracesNone
)

// RunnerConfig is the test runner's configuration.
type RunnerConfig struct {
	ProjectRoot string

	// Filter restricts test function names; empty runs everything.
	Filter string

	// Sender calls setUp and the test functions; TxOrigin is the transaction
	// origin reported to the EVM.
	Sender   types.Address
	TxOrigin types.Address

	// InitialBalance funds the sender and the test contract.
	InitialBalance *big.Int

	ChainID     uint64
	Hardfork    core.Hardfork
	BlockNumber uint64
	GasLimit    uint64
	GasPrice    *big.Int
	BaseFee     *big.Int
	Coinbase    types.Address
	Timestamp   uint64
	Difficulty  *big.Int

	BlobExcessGas *uint64

	// TestFail enables the inverted testFail… prefix convention.
	TestFail bool

	// FFI permits the ffi cheat-code; off by default.
	FFI bool

	// Isolate runs each top-level call in its own journal frame.
	Isolate bool

	// Labels pre-seeds the address label table.
	Labels map[types.Address]string

	// ForkURL forks the runner state off a live endpoint; ForkBlockNumber
	// pins the fork point.
	ForkURL         string
	ForkBlockNumber *uint64

	// RPCEndpoints maps aliases usable in createFork to URLs.
	RPCEndpoints map[string]string

	// RPCCachePath is the on-disk RPC response cache directory.
	RPCCachePath string

	Fuzz      FuzzConfig
	Invariant InvariantConfig

	Traces TraceMode
}

// DefaultRunnerConfig returns the runner defaults for a local, non-forked
// test session.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Sender:         DefaultSender,
		TxOrigin:       DefaultSender,
		InitialBalance: new(big.Int).Lsh(big.NewInt(1), 96), // 2^96 wei, the ds-test convention
		ChainID:        DefaultChainID,
		Hardfork:       core.Cancun,
		GasLimit:       core.DefaultBlockGasLimit,
		GasPrice:       big.NewInt(0),
		BaseFee:        big.NewInt(0),
		Coinbase:       DefaultCoinbase,
		Timestamp:      1,
		Difficulty:     big.NewInt(0),
		Fuzz:           DefaultFuzzConfig(),
		Invariant:      DefaultInvariantConfig(),
	}
}

// AccountConfig is one pre-funded development account.
type AccountConfig struct {
	// PrivateKey is the hex-encoded secp256k1 secret; the address is derived
	// from it.
	PrivateKey string
	Balance    *big.Int
}

// ProviderConfig is the JSON-RPC provider's configuration.
type ProviderConfig struct {
	ChainID   uint64
	NetworkID uint64
	Hardfork  core.Hardfork

	GasLimit   uint64
	BaseFee    *big.Int
	Coinbase   types.Address
	Timestamp  uint64
	Difficulty *big.Int

	// Automine mines a block per submitted transaction.
	Automine bool
	// IntervalMining mines on a timer; zero disables it.
	IntervalMining time.Duration

	// MinGasPrice rejects underpriced transactions pre-London.
	MinGasPrice *big.Int

	// Accounts are the unlocked development accounts.
	Accounts []AccountConfig

	// ForkURL switches the provider into forked mode; ForkBlockNumber pins
	// the fork point.
	ForkURL         string
	ForkBlockNumber *uint64

	// CacheDir is the on-disk RPC response cache; empty disables it.
	CacheDir string
}

// DefaultAccountKeys are the well-known insecure development keys, funded at
// startup. They match the Hardhat/Anvil default mnemonic accounts.
var DefaultAccountKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a",
	"8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba",
	"92db14e403b83dfe3df233f83dfa3a0d7096f21ca9b0d6d6b8d88b2b4ec1564e",
	"4bbbf85ce3377467afe5d46f804f221813b2bb87f24d81f60f1fcdbf7cbf4356",
	"dbda1821b80551c9d65939329250298aa3472ba22feea921c0cf5d620ea67b97",
	"2a871d0798f97d79848a013d4936a73bf4cc922c825d33c1cf7073dff6d409c6",
}

// DefaultProviderConfig returns a local provider at chain id 31337 with the
// well-known development accounts funded with 10000 ether each.
func DefaultProviderConfig() *ProviderConfig {
	tenThousandEther := new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18))
	accounts := make([]AccountConfig, len(DefaultAccountKeys))
	for i, key := range DefaultAccountKeys {
		accounts[i] = AccountConfig{PrivateKey: key, Balance: new(big.Int).Set(tenThousandEther)}
	}
	return &ProviderConfig{
		ChainID:    DefaultChainID,
		NetworkID:  DefaultChainID,
		Hardfork:   core.Cancun,
		GasLimit:   core.DefaultBlockGasLimit,
		BaseFee:    big.NewInt(1_000_000_000),
		Coinbase:   DefaultCoinbase,
		Difficulty: big.NewInt(0),
		Automine:   true,
		Accounts:   accounts,
	}
}
