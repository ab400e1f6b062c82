// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// tabsyncd is the long-running synchronization daemon. It owns the
// storage tiers: on startup it reconciles them to a single
// authoritative document, then mirrors that document into the
// human-editable working file and watches the file for edits. Each
// edit is validated, written to the fast local tiers, and handed to
// the debounced scheduler for replication into the size-constrained
// tier.
//
// Configuration comes from the file named by --config or the
// TABSYNC_CONFIG environment variable. Logs are JSON on stderr.
// SIGINT/SIGTERM drain pending writes before exit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

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
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	flags := pflag.NewFlagSet("tabsyncd", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "config file path (default: $TABSYNC_CONFIG)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flags.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}

	if showVersion {
		fmt.Printf("tabsyncd %s\n", version.Info())
		return nil
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	return d.run(ctx)
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (use debug, info, warn, or error)", name)
	}
}
