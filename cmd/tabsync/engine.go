// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/li88iioo/tabsync/lib/chunk"
	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/config"
	"github.com/li88iioo/tabsync/lib/reconcile"
	"github.com/li88iioo/tabsync/lib/syncstate"
	"github.com/li88iioo/tabsync/lib/tier"
)

// engine is the CLI's view of the storage stack: every tier opened,
// plus the chunked store and bookkeeping over them. Commands open it,
// do their work, and close it; nothing is cached between invocations.
type engine struct {
	cfg *config.Config
	log *slog.Logger
	clk clock.Clock

	durableDB *tier.Level
	syncDB    *tier.Level
	session   *tier.Session
	working   *tier.File

	state *syncstate.Store
	store *chunk.Store

	durableSource *reconcile.KVSource
	chunkedSource *reconcile.StoreSource
	sessionSource *reconcile.SessionSource
	workingSource *reconcile.KVSource

	baseKey  string
	compress bool
}

func openEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	algorithm, err := chunk.ParseAlgorithm(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		log:      logger,
		clk:      clock.Real(),
		baseKey:  cfg.Storage.BaseKey,
		compress: algorithm != chunk.AlgorithmNone,
	}

	e.durableDB, err = tier.OpenLevel(cfg.Paths.DurableDB, tier.Quota{})
	if err != nil {
		return nil, fmt.Errorf("opening durable tier (is tabsyncd running?): %w", err)
	}
	e.syncDB, err = tier.OpenLevel(cfg.Paths.SyncDB, tier.Quota{
		MaxItemBytes: cfg.Storage.MaxItemBytes,
		SafetyMargin: cfg.Storage.SafetyMargin,
	})
	if err != nil {
		e.durableDB.Close()
		return nil, fmt.Errorf("opening sync tier (is tabsyncd running?): %w", err)
	}
	e.session = tier.NewSession(cfg.SessionTTL())
	e.working = tier.NewFile(cfg.Paths.WorkingFile)

	e.state, err = syncstate.Open(cfg.StateFile(), logger)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("opening sync state: %w", err)
	}

	e.store = chunk.NewStore(e.syncDB, chunk.NewCodec(algorithm, logger), e.clk, logger)

	e.durableSource = reconcile.NewKVSource("durable", e.durableDB, e.baseKey)
	e.chunkedSource = reconcile.NewStoreSource("chunked", e.store, e.syncDB, e.baseKey, e.compress)
	e.sessionSource = reconcile.NewSessionSource("session", e.session, e.baseKey)
	e.workingSource = reconcile.NewKVSource("working", e.working, e.baseKey)

	return e, nil
}

// reconciler builds a Reconciler over the engine's tiers. A negative
// throttle disables the guard for forced runs.
func (e *engine) reconciler(throttle time.Duration) (*reconcile.Reconciler, error) {
	return reconcile.New(reconcile.Options{
		Sources:  []reconcile.Source{e.durableSource, e.chunkedSource, e.sessionSource},
		Legacy:   reconcile.NewFileLegacy(e.cfg.Paths.LegacyFile),
		State:    e.state,
		Clock:    e.clk,
		Logger:   e.log,
		Throttle: throttle,
	})
}

// now returns the current time truncated to the millisecond precision
// timestamps travel at.
func (e *engine) now() time.Time {
	return time.UnixMilli(e.clk.Now().UnixMilli())
}

func (e *engine) close() {
	if e.syncDB != nil {
		if err := e.syncDB.Close(); err != nil {
			e.log.Warn("closing sync tier", "error", err)
		}
	}
	if e.durableDB != nil {
		if err := e.durableDB.Close(); err != nil {
			e.log.Warn("closing durable tier", "error", err)
		}
	}
}
