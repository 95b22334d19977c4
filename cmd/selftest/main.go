// Package main mines the known test blocks with the CPU backend and exits
// non-zero when any of them is not found.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/gominer/internal/blockmining"
	"github.com/bardlex/gominer/internal/cpuminer"
	"github.com/bardlex/gominer/internal/hal"
	"github.com/bardlex/gominer/internal/testutil"
	"github.com/bardlex/gominer/pkg/log"
)

type options struct {
	chains     int
	asicBoost  bool
	nonceRange uint64
	timeout    time.Duration
	logLevel   string
	logFormat  string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("selftest", flag.ContinueOnError)
	fs.IntVar(&opts.chains, "chains", 2, "number of CPU chains")
	fs.BoolVar(&opts.asicBoost, "asic-boost", true, "solve four midstates per assignment")
	fs.Uint64Var(&opts.nonceRange, "nonce-range", 1<<16, "nonces scanned per midstate; blocks with a larger nonce are skipped")
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "how long to wait for all solutions")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	fs.StringVar(&opts.logFormat, "log-format", "text", "log format, text or json")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.nonceRange == 0 || opts.nonceRange > 1<<32 {
		return options{}, fmt.Errorf("nonce range must be between 1 and 2^32")
	}
	return opts, nil
}

// reachableBlocks returns the test blocks whose nonce lies inside the scanned range.
func reachableBlocks(nonceRange uint64) []testutil.TestBlock {
	var out []testutil.TestBlock
	for _, b := range testutil.TestBlocks() {
		if uint64(b.Nonce) < nonceRange {
			out = append(out, b)
		}
	}
	return out
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	logger := log.New("selftest", "dev", opts.logLevel, opts.logFormat)

	blocks := reachableBlocks(opts.nonceRange)
	if len(blocks) == 0 {
		logger.Error("no test block is reachable with this nonce range", "nonce_range", opts.nonceRange)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := cpuminer.New(cpuminer.Settings{Chains: opts.chains, NonceRange: opts.nonceRange}, logger)
	report, err := blockmining.Run(ctx, b, blockmining.Config{
		MidstateCount: hal.MidstateCount(opts.asicBoost),
		Blocks:        blocks,
		Timeout:       opts.timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("self-test failed to run")
		os.Exit(1)
	}
	if !report.OK() {
		logger.Error("self-test failed", "missing", len(report.Missing), "problems", report.Problems)
		os.Exit(1)
	}
	logger.Info("self-test passed", "problems", report.Problems, "elapsed", report.Elapsed.String())
}
