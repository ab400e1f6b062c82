// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/li88iioo/tabsync/lib/launcher"
	"github.com/li88iioo/tabsync/lib/reconcile"
	"github.com/li88iioo/tabsync/lib/syncsched"
)

func runSet(args []string) error {
	var common commonOptions
	flags := pflag.NewFlagSet("tabsync set", pflag.ContinueOnError)
	common.addFlags(flags)
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: tabsync set <file.json | ->")
	}

	raw, err := readDocument(flags.Arg(0))
	if err != nil {
		return err
	}
	groups, err := launcher.Decode(raw)
	if err != nil {
		return err
	}
	minted := launcher.Normalize(groups)
	document, err := launcher.Encode(groups)
	if err != nil {
		return err
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	now := e.now()
	// The session tier lives inside the daemon process; writing to a
	// fresh cache here would vanish with this command.
	for _, source := range []reconcile.Source{e.durableSource, e.chunkedSource, e.workingSource} {
		if err := source.Write(ctx, document, now); err != nil {
			return fmt.Errorf("writing %s tier: %w", source.Name(), err)
		}
	}
	if _, err := e.state.RecordPersist(e.baseKey, syncsched.Fingerprint(document)); err != nil {
		return fmt.Errorf("recording persist: %w", err)
	}

	groupCount, itemCount := launcher.Summarize(document)
	fmt.Printf("Stored %d groups, %d items", groupCount, itemCount)
	if minted > 0 {
		fmt.Printf(" (%d IDs minted)", minted)
	}
	fmt.Printf("\n")
	return nil
}

func readDocument(path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func runReconcile(args []string) error {
	var common commonOptions
	var force bool
	flags := pflag.NewFlagSet("tabsync reconcile", pflag.ContinueOnError)
	common.addFlags(flags)
	flags.BoolVar(&force, "force", false, "run even if a reconcile completed recently")
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	throttle := cfg.ThrottleInterval()
	if force {
		throttle = -1
	}
	rec, err := e.reconciler(throttle)
	if err != nil {
		return err
	}

	ctx := context.Background()
	result, err := rec.Run(ctx)
	if err != nil {
		return err
	}
	rec.Wait()

	if result.Throttled {
		fmt.Printf("Throttled: served the durable copy (rerun with --force for a full pass)\n")
	} else {
		if err := e.workingSource.Write(ctx, result.Document, result.Timestamp); err != nil {
			return fmt.Errorf("writing working file: %w", err)
		}
	}

	groupCount, itemCount := launcher.Summarize(result.Document)
	fmt.Printf("Source:     %s\n", result.Source)
	fmt.Printf("Document:   %d groups, %d items\n", groupCount, itemCount)
	fmt.Printf("Timestamp:  %s\n", result.Timestamp.UTC().Format(time.RFC3339))
	return nil
}

func runClear(args []string) error {
	var common commonOptions
	var force bool
	flags := pflag.NewFlagSet("tabsync clear", pflag.ContinueOnError)
	common.addFlags(flags)
	flags.BoolVar(&force, "force", false, "actually delete; without it the command refuses")
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	if !force {
		return fmt.Errorf("clear deletes the document from every tier; pass --force to confirm")
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if err := e.store.Clear(ctx, e.baseKey); err != nil {
		return fmt.Errorf("clearing chunked tier: %w", err)
	}
	for _, key := range []string{e.baseKey, e.baseKey + reconcile.TimestampSuffix} {
		if err := e.durableDB.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing durable tier: %w", err)
		}
		if err := e.syncDB.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing sync tier: %w", err)
		}
		if err := e.working.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing working file: %w", err)
		}
	}
	if err := e.state.Reset(); err != nil {
		return fmt.Errorf("resetting sync state: %w", err)
	}

	// The legacy file stays: it predates this tool and may be the
	// only copy an old installation still has.
	fmt.Printf("Cleared all tiers and reset sync state\n")
	return nil
}
