// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile selects the authoritative document among the
// storage tiers and propagates it back to all of them.
//
// Every tier holds a full copy of the document plus a last-write
// timestamp. A run reads all tiers in parallel, picks the copy with
// the strictly greatest timestamp (ties keep the higher-priority
// tier, favoring stability), migrates the legacy flat format when it
// is the only data anywhere, and falls back to the built-in default
// document on a cold start. The winner is written back synchronously
// to the primary tier and asynchronously to the replicas.
//
// A full run is throttled through the persisted guard in
// lib/syncstate so rapid restarts reuse the primary tier's copy
// instead of fanning out again.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/launcher"
	"github.com/li88iioo/tabsync/lib/syncstate"
)

// DefaultThrottle bounds how often a full reconciliation may run,
// enforced across restarts through the persisted guard.
const DefaultThrottle = 30 * time.Second

// syntheticAge ranks an un-timestamped copy: recent enough to beat
// the legacy format, never ahead of an explicitly timestamped write
// from the last hour.
const syntheticAge = time.Hour

// Options configures a Reconciler.
type Options struct {
	// Sources are the replicated tiers in priority order. The first
	// is the primary: it is written synchronously and its failure is
	// the run's failure. Required, at least one.
	Sources []Source

	// Legacy optionally surfaces an old installation's flat-list
	// document. It can only win when every Source is empty.
	Legacy LegacyReader

	// State persists the throttle guard. Required.
	State *syncstate.Store

	// Clock provides the current time. If nil, defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Throttle is the minimum gap between full runs. Zero uses
	// DefaultThrottle; negative disables throttling.
	Throttle time.Duration
}

// Reconciler selects and propagates the authoritative document. A
// Reconciler holds no document state between runs.
type Reconciler struct {
	sources  []Source
	legacy   LegacyReader
	state    *syncstate.Store
	clk      clock.Clock
	log      *slog.Logger
	throttle time.Duration

	writes sync.WaitGroup
}

// Result is the outcome of a run.
type Result struct {
	// Document is the authoritative copy.
	Document json.RawMessage

	// Timestamp is the document's propagated last-write time.
	Timestamp time.Time

	// Source names where the winner came from: a tier name, "legacy"
	// after a migration, or "default" on a cold start.
	Source string

	// Throttled is true when the guard suppressed the fan-out and the
	// primary tier's copy was returned as-is.
	Throttled bool
}

// New returns a Reconciler.
func New(options Options) (*Reconciler, error) {
	if len(options.Sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	if options.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Throttle == 0 {
		options.Throttle = DefaultThrottle
	}

	return &Reconciler{
		sources:  options.Sources,
		legacy:   options.Legacy,
		state:    options.State,
		clk:      options.Clock,
		log:      options.Logger,
		throttle: options.Throttle,
	}, nil
}

// Run reconciles the tiers and returns the authoritative document.
// Replica writes continue in the background after Run returns; the
// caller must keep ctx alive until Wait returns, or pass a context
// that outlives the run.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	// Timestamps travel as Unix milliseconds; normalize now so a
	// written-then-reread value compares equal.
	now := time.UnixMilli(r.clk.Now().UnixMilli())

	if !r.state.ReconcileAllowed(now, r.throttle) {
		record, err := r.sources[0].Read(ctx)
		if err == nil && present(record.Document) {
			r.log.Debug("reconciliation throttled, serving primary copy",
				"source", r.sources[0].Name())
			return Result{
				Document:  record.Document,
				Timestamp: record.Timestamp,
				Source:    r.sources[0].Name(),
				Throttled: true,
			}, nil
		}
		// Nothing usable in the primary tier; a full run is the only
		// way to produce a document, throttle or not.
	}

	records, legacyRaw := r.readAll(ctx)

	winner, timestamp, sourceName := r.selectWinner(records, legacyRaw, now)

	if err := r.writeBack(ctx, records, winner, timestamp); err != nil {
		return Result{}, err
	}

	if err := r.state.MarkReconciled(now); err != nil {
		r.log.Warn("recording reconcile time", "error", err)
	}

	r.log.Info("reconciliation complete",
		"winner", sourceName, "timestamp", timestamp.UnixMilli())

	return Result{
		Document:  winner,
		Timestamp: timestamp,
		Source:    sourceName,
	}, nil
}

// Wait blocks until all background replica writes have finished.
func (r *Reconciler) Wait() {
	r.writes.Wait()
}

// readAll fans out one read per source, plus the legacy location.
// A failed read logs and contributes an empty record; one slow or
// broken tier must not sink the others.
func (r *Reconciler) readAll(ctx context.Context) ([]Record, json.RawMessage) {
	records := make([]Record, len(r.sources))
	var legacyRaw json.RawMessage

	var wg sync.WaitGroup
	for i, source := range r.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := source.Read(ctx)
			if err != nil {
				r.log.Warn("tier read failed, treating as empty",
					"source", source.Name(), "error", err)
				return
			}
			records[i] = record
		}()
	}
	if r.legacy != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := r.legacy.Read(ctx)
			if err != nil {
				r.log.Warn("legacy read failed, treating as empty",
					"source", r.legacy.Name(), "error", err)
				return
			}
			legacyRaw = raw
		}()
	}
	wg.Wait()

	return records, legacyRaw
}

// selectWinner picks the authoritative document. Sources compete by
// timestamp, strictly greater wins, ties keep the earlier source.
// The legacy document competes only when every source is empty, and
// the built-in default covers a fully cold start.
func (r *Reconciler) selectWinner(records []Record, legacyRaw json.RawMessage, now time.Time) (json.RawMessage, time.Time, string) {
	bestIndex := -1
	var bestTime time.Time
	for i, record := range records {
		if !present(record.Document) {
			continue
		}
		effective := record.Timestamp
		if effective.IsZero() {
			effective = now.Add(-syntheticAge)
		}
		if bestIndex == -1 || effective.After(bestTime) {
			bestIndex = i
			bestTime = effective
		}
	}
	if bestIndex >= 0 {
		return records[bestIndex].Document, bestTime, r.sources[bestIndex].Name()
	}

	if present(legacyRaw) {
		if document, ok := r.migrateLegacy(legacyRaw); ok {
			return document, now, "legacy"
		}
	}

	document, err := launcher.DefaultDocument()
	if err != nil {
		// The embedded asset failing to parse is a build defect; an
		// empty document at least keeps the engine running.
		r.log.Error("built-in default document unusable", "error", err)
		document = json.RawMessage("[]")
	}
	return document, now, "default"
}

// migrateLegacy turns the legacy location's content into a
// current-format document. Flat lists are wrapped into a synthetic
// group; content already in the current shape passes through. Returns
// false when the content is unusable.
func (r *Reconciler) migrateLegacy(raw json.RawMessage) (json.RawMessage, bool) {
	if launcher.DetectLegacy(raw) {
		migrated, err := launcher.MigrateLegacy(raw)
		if err != nil {
			r.log.Warn("legacy document unusable, ignoring", "error", err)
			return nil, false
		}
		groups, items := launcher.Summarize(migrated)
		r.log.Info("migrated legacy flat list", "groups", groups, "items", items)
		return migrated, true
	}

	if _, err := launcher.Decode(raw); err != nil {
		r.log.Warn("legacy document unusable, ignoring", "error", err)
		return nil, false
	}
	return raw, true
}

// writeBack propagates the winner. The primary source is written
// synchronously and its failure surfaces; replicas are written on
// background goroutines with failures logged. Sources already
// holding the winner bytes and timestamp are skipped, so a run that
// changes nothing writes nothing.
func (r *Reconciler) writeBack(ctx context.Context, records []Record, winner json.RawMessage, timestamp time.Time) error {
	if r.needsWrite(records[0], winner, timestamp) {
		if err := r.sources[0].Write(ctx, winner, timestamp); err != nil {
			return fmt.Errorf("writing %s tier: %w", r.sources[0].Name(), err)
		}
	}

	for i := 1; i < len(r.sources); i++ {
		if !r.needsWrite(records[i], winner, timestamp) {
			continue
		}
		source := r.sources[i]
		r.writes.Add(1)
		go func() {
			defer r.writes.Done()
			if err := source.Write(ctx, winner, timestamp); err != nil {
				r.log.Warn("replica write failed",
					"source", source.Name(), "error", err)
			}
		}()
	}
	return nil
}

// needsWrite reports whether a source's current record differs from
// the winner. Sources that do not persist timestamps always report
// zero and are rewritten; that only refreshes the ephemeral copy.
func (r *Reconciler) needsWrite(record Record, winner json.RawMessage, timestamp time.Time) bool {
	return !bytes.Equal(record.Document, winner) || !record.Timestamp.Equal(timestamp)
}

// present reports whether a read produced a usable document. JSON
// null marks a deliberately cleared slot.
func present(document json.RawMessage) bool {
	trimmed := bytes.TrimSpace(document)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
