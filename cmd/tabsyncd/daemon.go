// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/li88iioo/tabsync/lib/chunk"
	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/config"
	"github.com/li88iioo/tabsync/lib/launcher"
	"github.com/li88iioo/tabsync/lib/reconcile"
	"github.com/li88iioo/tabsync/lib/syncsched"
	"github.com/li88iioo/tabsync/lib/syncstate"
	"github.com/li88iioo/tabsync/lib/tier"
)

// drainTimeout bounds the shutdown flush of pending scheduler writes.
const drainTimeout = 10 * time.Second

// daemon holds the wired engine: tiers, chunked store, bookkeeping,
// reconciler, and scheduler.
type daemon struct {
	cfg *config.Config
	log *slog.Logger
	clk clock.Clock

	durableDB *tier.Level
	syncDB    *tier.Level
	session   *tier.Session
	working   *tier.File

	state      *syncstate.Store
	store      *chunk.Store
	reconciler *reconcile.Reconciler
	scheduler  *syncsched.Scheduler

	// durableSource and sessionSource receive every local mutation
	// synchronously; workingSource mirrors the reconciled winner into
	// the editable file.
	durableSource *reconcile.KVSource
	sessionSource *reconcile.SessionSource
	workingSource *reconcile.KVSource

	baseKey  string
	compress bool

	// seenMu guards seenFingerprint: the fingerprint of the working
	// file content this daemon last wrote or processed. Watch events
	// matching it are the daemon's own mirror writes (or duplicate
	// notifications) and are skipped.
	seenMu          sync.Mutex
	seenFingerprint string
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	algorithm, err := chunk.ParseAlgorithm(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		cfg:      cfg,
		log:      logger,
		clk:      clock.Real(),
		baseKey:  cfg.Storage.BaseKey,
		compress: algorithm != chunk.AlgorithmNone,
	}

	d.durableDB, err = tier.OpenLevel(cfg.Paths.DurableDB, tier.Quota{})
	if err != nil {
		return nil, fmt.Errorf("opening durable tier: %w", err)
	}
	d.syncDB, err = tier.OpenLevel(cfg.Paths.SyncDB, tier.Quota{
		MaxItemBytes: cfg.Storage.MaxItemBytes,
		SafetyMargin: cfg.Storage.SafetyMargin,
	})
	if err != nil {
		d.durableDB.Close()
		return nil, fmt.Errorf("opening sync tier: %w", err)
	}
	d.session = tier.NewSession(cfg.SessionTTL())
	d.working = tier.NewFile(cfg.Paths.WorkingFile)

	d.state, err = syncstate.Open(cfg.StateFile(), logger)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("opening sync state: %w", err)
	}

	codec := chunk.NewCodec(algorithm, logger)
	d.store = chunk.NewStore(d.syncDB, codec, d.clk, logger)

	d.durableSource = reconcile.NewKVSource("durable", d.durableDB, d.baseKey)
	chunkedSource := reconcile.NewStoreSource("chunked", d.store, d.syncDB, d.baseKey, d.compress)
	d.sessionSource = reconcile.NewSessionSource("session", d.session, d.baseKey)
	d.workingSource = reconcile.NewKVSource("working", d.working, d.baseKey)

	d.reconciler, err = reconcile.New(reconcile.Options{
		Sources:  []reconcile.Source{d.durableSource, chunkedSource, d.sessionSource},
		Legacy:   reconcile.NewFileLegacy(cfg.Paths.LegacyFile),
		State:    d.state,
		Clock:    d.clk,
		Logger:   logger,
		Throttle: cfg.ThrottleInterval(),
	})
	if err != nil {
		d.close()
		return nil, err
	}

	d.scheduler, err = syncsched.New(syncsched.Options{
		Persister: &tierPersister{
			sources: map[string]reconcile.Source{d.baseKey: chunkedSource},
			clk:     d.clk,
		},
		State:    d.state,
		Clock:    d.clk,
		Logger:   logger,
		Debounce: cfg.DebounceInterval(),
	})
	if err != nil {
		d.close()
		return nil, err
	}

	return d, nil
}

// run reconciles the tiers, adopts or rewrites the working file, then
// watches it until ctx is cancelled.
func (d *daemon) run(ctx context.Context) error {
	d.log.Info("tabsyncd starting",
		"environment", string(d.cfg.Environment),
		"root", d.cfg.Paths.Root,
		"base_key", d.baseKey,
		"compression", d.cfg.Storage.Compression,
	)

	result, err := d.reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	groups, items := launcher.Summarize(result.Document)
	d.log.Info("startup reconciliation done",
		"source", result.Source,
		"throttled", result.Throttled,
		"groups", groups,
		"items", items,
	)

	d.adoptWorkingFile(ctx, result.Document, result.Timestamp)

	if d.cfg.Sync.WatchWorkingFile {
		if err := d.watchWorkingFile(ctx); err != nil {
			return err
		}
	} else {
		d.log.Info("working file watch disabled")
	}

	<-ctx.Done()
	d.log.Info("shutting down")
	return d.shutdown()
}

// adoptWorkingFile resolves the working file against the reconciled
// winner. An edit made while the daemon was down is the user's latest
// intent and flows through the normal mutation path; otherwise the
// winner is mirrored into the file.
func (d *daemon) adoptWorkingFile(ctx context.Context, winner json.RawMessage, timestamp time.Time) {
	record, err := d.workingSource.Read(ctx)
	if err != nil {
		// Likely a half-finished manual edit. Leave the file alone;
		// the next valid edit comes through the watcher.
		d.log.Warn("working file unreadable, leaving it untouched", "error", err)
		return
	}

	if len(record.Document) > 0 && !bytes.Equal(record.Document, winner) {
		if _, err := launcher.Decode(record.Document); err != nil {
			d.log.Warn("working file content invalid, rewriting from winner", "error", err)
		} else {
			d.log.Info("adopting offline working file edit")
			d.mutate(ctx, record.Document)
			return
		}
	}

	if err := d.workingSource.Write(ctx, winner, timestamp); err != nil {
		d.log.Error("mirroring winner to working file", "error", err)
		return
	}
	d.setSeen(syncsched.Fingerprint(winner))
}

// mutate is the single local-edit path: validate, write the fast
// tiers synchronously, then hand the document to the scheduler for
// debounced replication.
func (d *daemon) mutate(ctx context.Context, document json.RawMessage) {
	if _, err := launcher.Decode(document); err != nil {
		d.log.Warn("ignoring invalid document", "error", err)
		return
	}
	d.setSeen(syncsched.Fingerprint(document))

	now := time.UnixMilli(d.clk.Now().UnixMilli())
	if err := d.durableSource.Write(ctx, document, now); err != nil {
		d.log.Error("writing durable tier", "error", err)
	}
	if err := d.sessionSource.Write(ctx, document, now); err != nil {
		d.log.Warn("writing session tier", "error", err)
	}
	d.scheduler.Notify(d.baseKey, document)
}

func (d *daemon) setSeen(fingerprint string) {
	d.seenMu.Lock()
	d.seenFingerprint = fingerprint
	d.seenMu.Unlock()
}

func (d *daemon) seen(fingerprint string) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	return d.seenFingerprint == fingerprint
}

// shutdown drains pending scheduler writes under a fresh deadline
// (the signal context is already cancelled) and stops the scheduler.
func (d *daemon) shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := d.scheduler.Flush(drainCtx); err != nil {
		d.log.Error("flushing pending writes", "error", err)
	}
	d.scheduler.Close()
	d.reconciler.Wait()
	d.log.Info("tabsyncd stopped")
	return nil
}

// close releases resources in reverse construction order. Safe to
// call on a partially constructed daemon.
func (d *daemon) close() {
	if d.scheduler != nil {
		d.scheduler.Close()
	}
	if d.reconciler != nil {
		d.reconciler.Wait()
	}
	if d.syncDB != nil {
		if err := d.syncDB.Close(); err != nil {
			d.log.Warn("closing sync tier", "error", err)
		}
	}
	if d.durableDB != nil {
		if err := d.durableDB.Close(); err != nil {
			d.log.Warn("closing durable tier", "error", err)
		}
	}
}
