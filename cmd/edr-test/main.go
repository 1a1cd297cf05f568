// Command edr-test runs Solidity test contracts against the in-process EVM:
// unit tests, fuzz tests and invariant tests following the ds-test
// conventions. It consumes compiled contract artifacts (JSON files with abi
// and bytecode members) and prints per-test results.
//
// Usage:
//
//	edr-test [flags] <artifact.json|dir>...
//
// Flags:
//
//	--match            Regex filter on test function names
//	--fuzz.runs        Generated inputs per fuzz test (default: 256)
//	--invariant.runs   Generated sequences per invariant test (default: 256)
//	--invariant.depth  Calls per generated sequence (default: 500)
//	--ffi              Permit the ffi cheat-code (default: false)
//	--fork.url         Fork test state off a JSON-RPC endpoint
//	--fork.block       Block number to fork at
//	--cachedir         On-disk RPC response cache directory
//	--persist          Directory for invariant counter-example persistence
//	--verbosity        Log level 0-5 (default: 2)
//	--version          Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/executor"
	"github.com/NomicFoundation/edr-sub001/log"
	"github.com/NomicFoundation/edr-sub001/runner"
	"github.com/NomicFoundation/edr-sub001/state"
	"github.com/NomicFoundation/edr-sub001/version"
	"github.com/NomicFoundation/edr-sub001/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("edr-test", flag.ContinueOnError)
	var (
		match       = fs.String("match", "", "regex filter on test function names")
		fuzzRuns    = fs.Int("fuzz.runs", 256, "generated inputs per fuzz test")
		invRuns     = fs.Int("invariant.runs", 256, "generated sequences per invariant test")
		invDepth    = fs.Int("invariant.depth", 500, "calls per generated sequence")
		ffi         = fs.Bool("ffi", false, "permit the ffi cheat-code")
		forkURL     = fs.String("fork.url", "", "fork test state off a JSON-RPC endpoint")
		forkBlock   = fs.Uint64("fork.block", 0, "block number to fork at")
		cacheDir    = fs.String("cachedir", "", "on-disk RPC response cache directory")
		persistDir  = fs.String("persist", "", "invariant counter-example persistence directory")
		verbosity   = fs.Int("verbosity", 2, "log level 0-5")
		showVersion = fs.Bool("version", false, "print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println(version.ClientVersion())
		return 0
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "edr-test: no artifacts given")
		return 2
	}

	logger := log.New(levelFromVerbosity(*verbosity))

	cfg := config.DefaultRunnerConfig()
	cfg.Filter = *match
	cfg.Fuzz.Runs = *fuzzRuns
	cfg.Invariant.Runs = *invRuns
	cfg.Invariant.Depth = *invDepth
	cfg.Invariant.FailurePersistDir = *persistDir
	cfg.FFI = *ffi
	cfg.ForkURL = *forkURL
	cfg.RPCCachePath = *cacheDir
	if *forkBlock != 0 {
		n := *forkBlock
		cfg.ForkBlockNumber = &n
	}

	artifacts, err := collectArtifacts(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-test: %v\n", err)
		return 2
	}
	if len(artifacts) == 0 {
		fmt.Fprintln(os.Stderr, "edr-test: no test artifacts found")
		return 2
	}

	ctx := context.Background()
	interp := vm.NewNativeInterpreter()
	template, err := buildExecutor(ctx, cfg, interp, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-test: %v\n", err)
		return 1
	}

	r, err := runner.New(cfg, template, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-test: %v\n", err)
		return 1
	}

	failed := false
	var total, passed int
	for _, artifact := range artifacts {
		suite, err := r.RunSuite(ctx, artifact)
		if err != nil {
			fmt.Fprintf(os.Stderr, "edr-test: %s: %v\n", artifact.Name, err)
			return 1
		}
		printSuite(suite)
		for i := range suite.Results {
			total++
			if suite.Results[i].Status == runner.StatusPass {
				passed++
			}
		}
		if suite.Failed() {
			failed = true
		}
	}

	fmt.Printf("\n%d tests, %d passed, %d failed\n", total, passed, total-passed)
	if failed {
		return 1
	}
	return 0
}

// buildExecutor prepares the template executor the runner clones per test:
// forked off a live endpoint when configured, a fresh state otherwise.
func buildExecutor(ctx context.Context, cfg *config.RunnerConfig, interp vm.Interpreter, logger *log.Logger) (*executor.Executor, error) {
	if cfg.ForkURL != "" {
		return runner.NewForkedExecutor(ctx, cfg, interp, logger)
	}
	return runner.NewExecutor(cfg, interp, state.New(nil), logger), nil
}

func printSuite(suite *runner.SuiteResult) {
	fmt.Printf("\n%s (%s)\n", suite.Contract, suite.Duration.Round(1e6))
	for i := range suite.Results {
		res := &suite.Results[i]
		marker := "PASS"
		if res.Status == runner.StatusFail {
			marker = "FAIL"
		} else if res.Status == runner.StatusSkip {
			marker = "SKIP"
		}
		fmt.Printf("  [%s] %s (gas: %d)\n", marker, res.Signature, res.GasUsed)
		if res.Reason != "" {
			fmt.Printf("         reason: %s\n", res.Reason)
		}
		if res.CounterExample != nil {
			fmt.Printf("         counterexample: %s\n", res.CounterExample)
		}
		for _, frame := range res.StackTrace {
			fmt.Printf("         %s\n", frame)
		}
	}
}

// collectArtifacts loads every artifact JSON under the given paths. Files
// without test functions still load; discovery skips them.
func collectArtifacts(paths []string) ([]*runner.Artifact, error) {
	var artifacts []*runner.Artifact
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			artifact, err := loadArtifact(path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			artifacts = append(artifacts, artifact)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(p, ".json") {
				return err
			}
			artifact, loadErr := loadArtifact(p)
			if loadErr != nil {
				// Non-artifact JSON (build metadata etc.) is skipped.
				return nil
			}
			artifacts = append(artifacts, artifact)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return artifacts, nil
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
