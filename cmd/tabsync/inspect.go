// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/li88iioo/tabsync/lib/chunk"
	"github.com/li88iioo/tabsync/lib/launcher"
	"github.com/li88iioo/tabsync/lib/reconcile"
)

func runStatus(args []string) error {
	var common commonOptions
	flags := pflag.NewFlagSet("tabsync status", pflag.ContinueOnError)
	common.addFlags(flags)
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

	ctx := context.Background()

	fmt.Printf("Environment:  %s\n", cfg.Environment)
	fmt.Printf("Root:         %s\n", cfg.Paths.Root)
	fmt.Printf("Base key:     %s\n", e.baseKey)
	fmt.Printf("Compression:  %s\n", cfg.Storage.Compression)
	fmt.Printf("\n")

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TIER\tDOCUMENT\tTIMESTAMP\tDETAIL\n")
	writeSourceRow(ctx, tw, e.durableSource, "")
	writeSourceRow(ctx, tw, e.chunkedSource, e.chunkDetail(ctx))
	writeSourceRow(ctx, tw, e.sessionSource, "per-process tier, empty outside the daemon")
	writeSourceRow(ctx, tw, e.workingSource, cfg.Paths.WorkingFile)
	writeLegacyRow(ctx, tw, reconcile.NewFileLegacy(cfg.Paths.LegacyFile))
	if err := tw.Flush(); err != nil {
		return err
	}

	snapshot := e.state.Snapshot()
	fmt.Printf("\nPersists:        %d\n", snapshot.Persists)
	if last, ok := e.state.LastReconcile(); ok {
		fmt.Printf("Last reconcile:  %s\n", last.UTC().Format(time.RFC3339))
	} else {
		fmt.Printf("Last reconcile:  never\n")
	}
	fmt.Printf("Fingerprints:    %d\n", len(snapshot.Fingerprints))
	return nil
}

func writeSourceRow(ctx context.Context, tw *tabwriter.Writer, source reconcile.Source, detail string) {
	record, err := source.Read(ctx)
	if err != nil {
		fmt.Fprintf(tw, "%s\terror\t-\t%v\n", source.Name(), err)
		return
	}
	if len(record.Document) == 0 {
		fmt.Fprintf(tw, "%s\tno\t-\t%s\n", source.Name(), detail)
		return
	}
	timestamp := "-"
	if !record.Timestamp.IsZero() {
		timestamp = record.Timestamp.UTC().Format(time.RFC3339)
	}
	if detail == "" {
		groups, items := launcher.Summarize(record.Document)
		detail = fmt.Sprintf("%d groups, %d items", groups, items)
	}
	fmt.Fprintf(tw, "%s\tyes\t%s\t%s\n", source.Name(), timestamp, detail)
}

func writeLegacyRow(ctx context.Context, tw *tabwriter.Writer, legacy reconcile.LegacyReader) {
	raw, err := legacy.Read(ctx)
	if err != nil {
		fmt.Fprintf(tw, "%s\terror\t-\t%v\n", legacy.Name(), err)
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		fmt.Fprintf(tw, "%s\tno\t-\t\n", legacy.Name())
		return
	}
	detail := "current format"
	if launcher.DetectLegacy(raw) {
		detail = "flat list, pending migration"
	}
	fmt.Fprintf(tw, "%s\tyes\t-\t%s\n", legacy.Name(), detail)
}

// chunkDetail describes how the sync tier holds the document: inline,
// chunked (with count, revision, and algorithm), or a raw value from
// before the meta format.
func (e *engine) chunkDetail(ctx context.Context) string {
	raw, found, err := e.syncDB.Get(ctx, e.baseKey)
	if err != nil || !found {
		return ""
	}
	meta, err := chunk.DecodeMeta(raw)
	if err != nil {
		return fmt.Sprintf("unreadable meta: %v", err)
	}
	switch m := meta.(type) {
	case chunk.InlineMeta:
		if m.Compressed {
			return fmt.Sprintf("inline, %s", m.Algorithm)
		}
		return "inline, uncompressed"
	case chunk.ChunkedMeta:
		revision := m.Revision
		if revision == "" {
			revision = "unrevisioned"
		}
		compression := "uncompressed"
		if m.Compressed {
			compression = m.Algorithm.String()
		}
		return fmt.Sprintf("%d chunks, rev %s, %s", m.ChunkCount, revision, compression)
	case chunk.LegacyMeta:
		return "raw value, no meta"
	default:
		return ""
	}
}

func runShow(args []string) error {
	var common commonOptions
	var sourceName string
	var raw bool
	flags := pflag.NewFlagSet("tabsync show", pflag.ContinueOnError)
	common.addFlags(flags)
	flags.StringVar(&sourceName, "source", "durable", "tier to read: durable, chunked, working, legacy")
	flags.BoolVar(&raw, "raw", false, "print the stored bytes without re-indenting")
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

	ctx := context.Background()
	document, err := e.readFrom(ctx, sourceName)
	if err != nil {
		return err
	}
	if len(document) == 0 {
		return fmt.Errorf("%s tier holds no document", sourceName)
	}

	if raw {
		fmt.Printf("%s\n", document)
		return nil
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, document, "", "  "); err != nil {
		return fmt.Errorf("stored document is not valid JSON: %w", err)
	}
	fmt.Printf("%s\n", indented.Bytes())
	return nil
}

func (e *engine) readFrom(ctx context.Context, sourceName string) (json.RawMessage, error) {
	var source reconcile.Source
	switch sourceName {
	case "durable":
		source = e.durableSource
	case "chunked":
		source = e.chunkedSource
	case "working":
		source = e.workingSource
	case "legacy":
		return reconcile.NewFileLegacy(e.cfg.Paths.LegacyFile).Read(ctx)
	default:
		return nil, fmt.Errorf("unknown source %q (use durable, chunked, working, or legacy)", sourceName)
	}
	record, err := source.Read(ctx)
	if err != nil {
		return nil, err
	}
	return record.Document, nil
}

func runState(args []string) error {
	var common commonOptions
	flags := pflag.NewFlagSet("tabsync state", pflag.ContinueOnError)
	common.addFlags(flags)
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

	snapshot := e.state.Snapshot()
	fmt.Printf("State file:      %s\n", cfg.StateFile())
	fmt.Printf("Persists:        %d\n", snapshot.Persists)
	if last, ok := e.state.LastReconcile(); ok {
		fmt.Printf("Last reconcile:  %s\n", last.UTC().Format(time.RFC3339))
	} else {
		fmt.Printf("Last reconcile:  never\n")
	}

	if len(snapshot.Fingerprints) == 0 {
		fmt.Printf("Fingerprints:    none\n")
		return nil
	}
	keys := make([]string, 0, len(snapshot.Fingerprints))
	for key := range snapshot.Fingerprints {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Printf("Fingerprints:\n")
	for _, key := range keys {
		fmt.Printf("  %s  %s\n", key, snapshot.Fingerprints[key])
	}
	return nil
}
