// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// tabsync is the operator CLI for the synchronization engine. It
// opens the same tiers the daemon uses and inspects or mutates them
// directly: status and document dumps, direct document writes, manual
// reconciliation, and tier clearing.
//
// The durable and sync tiers are LevelDB directories locked by a
// single process; while tabsyncd is running, commands that open them
// fail and the working file is the edit surface instead.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/li88iioo/tabsync/lib/config"
	"github.com/li88iioo/tabsync/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "status":
		return runStatus(os.Args[2:])
	case "show":
		return runShow(os.Args[2:])
	case "set":
		return runSet(os.Args[2:])
	case "reconcile":
		return runReconcile(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "state":
		return runState(os.Args[2:])
	case "version":
		fmt.Printf("tabsync %s\n", version.Full())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: tabsync <subcommand> [flags]

Subcommands:
  status      Show per-tier document presence, timestamps, and chunking
  show        Print the document from one tier
  set         Write a document to every tier (from file or stdin)
  reconcile   Run a reconciliation pass across all tiers
  clear       Remove the document from every tier and reset bookkeeping
  state       Dump the sync bookkeeping (fingerprints, counters, guard)
  version     Print version information

Run 'tabsync <subcommand> --help' for subcommand flags.
`)
}

// commonOptions are the flags every subcommand shares.
type commonOptions struct {
	configPath string
	verbose    bool
}

func (o *commonOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "", "config file path (default: $TABSYNC_CONFIG)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
}

// setup loads and validates configuration and builds the CLI logger.
func (o *commonOptions) setup() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	return cfg, logger, nil
}

// parseFlags parses args against flags, turning --help into a clean
// no-op exit.
func parseFlags(flags *pflag.FlagSet, args []string) (help bool, err error) {
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
