// Command edr-node runs an in-memory Ethereum development node: a JSON-RPC
// server backed by an instantly-mining chain with funded test accounts,
// optionally forked off a live network.
//
// Usage:
//
//	edr-node [flags]
//
// Flags:
//
//	--http.addr      HTTP-RPC listen address (default: 127.0.0.1:8545)
//	--chainid        Chain id of locally produced blocks (default: 31337)
//	--hardfork       Hardfork name, e.g. cancun (default: cancun)
//	--gaslimit       Block gas limit (default: 30000000)
//	--basefee        Genesis base fee in wei (default: 1000000000)
//	--automine       Mine a block per transaction (default: true)
//	--interval       Interval mining period, 0 disables (default: 0)
//	--fork.url       JSON-RPC URL to fork from (default: none)
//	--fork.block     Block number to fork at (default: remote tip minus safety depth)
//	--cachedir       On-disk RPC response cache directory (default: none)
//	--verbosity      Log level 0-5 (default: 3)
//	--version        Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/provider"
	"github.com/NomicFoundation/edr-sub001/rpc"
	"github.com/NomicFoundation/edr-sub001/version"
	"github.com/NomicFoundation/edr-sub001/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point: parses args, builds the provider and
// serves until a termination signal.
func run(args []string) int {
	fs := flag.NewFlagSet("edr-node", flag.ContinueOnError)
	var (
		httpAddr    = fs.String("http.addr", "127.0.0.1:8545", "HTTP-RPC listen address")
		chainID     = fs.Uint64("chainid", config.DefaultChainID, "chain id of locally produced blocks")
		hardfork    = fs.String("hardfork", "cancun", "hardfork name")
		gasLimit    = fs.Uint64("gaslimit", core.DefaultBlockGasLimit, "block gas limit")
		baseFee     = fs.Int64("basefee", 1_000_000_000, "genesis base fee in wei")
		automine    = fs.Bool("automine", true, "mine a block per transaction")
		interval    = fs.Duration("interval", 0, "interval mining period, 0 disables")
		forkURL     = fs.String("fork.url", "", "JSON-RPC URL to fork from")
		forkBlock   = fs.Uint64("fork.block", 0, "block number to fork at")
		cacheDir    = fs.String("cachedir", "", "on-disk RPC response cache directory")
		verbosity   = fs.Int("verbosity", 3, "log level 0-5")
		showVersion = fs.Bool("version", false, "print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println(version.ClientVersion())
		return 0
	}

	logger := log.New(levelFromVerbosity(*verbosity))

	fork, err := core.ParseHardfork(*hardfork)
	if err != nil {
		logger.Error("invalid hardfork", "name", *hardfork, "err", err)
		return 1
	}

	cfg := config.DefaultProviderConfig()
	cfg.ChainID = *chainID
	cfg.NetworkID = *chainID
	cfg.Hardfork = fork
	cfg.GasLimit = *gasLimit
	cfg.BaseFee = big.NewInt(*baseFee)
	cfg.Automine = *automine
	cfg.IntervalMining = *interval
	cfg.ForkURL = *forkURL
	cfg.CacheDir = *cacheDir
	if *forkBlock != 0 {
		n := *forkBlock
		cfg.ForkBlockNumber = &n
	}

	ctx := context.Background()
	p, err := provider.New(ctx, cfg, vm.NewNativeInterpreter(), logger)
	if err != nil {
		logger.Error("provider startup failed", "err", err)
		return 1
	}
	defer p.Close()

	logger.Info("node ready",
		"version", version.ClientVersion(),
		"chainid", cfg.ChainID,
		"hardfork", cfg.Hardfork,
		"automine", cfg.Automine,
		"forked", cfg.ForkURL != "")
	for i, addr := range p.Accounts() {
		logger.Info("funded account", "index", i, "address", addr)
	}

	server := rpc.NewServer(p, rpc.DefaultServerConfig(), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(*httpAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "err", err)
			return 1
		}
		return 0
	}

	if err := server.Stop(); err != nil {
		logger.Error("shutdown error", "err", err)
		return 1
	}
	// Give interval mining a moment to settle before the provider closes.
	time.Sleep(10 * time.Millisecond)
	return 0
}

// levelFromVerbosity maps the geth-style 0-5 scale onto slog levels.
func levelFromVerbosity(v int) slog.Level {
	switch {
	case v >= 4:
		return slog.LevelDebug
	case v == 3:
		return slog.LevelInfo
	case v == 2:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
