// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncsched debounces document mutations into persist
// operations. Each logical key runs an idle/debouncing/persisting
// state machine: a mutation arms a quiet-period timer, further
// mutations restart it, and when it finally fires the last queued
// document is written once, off the caller's path. Content
// fingerprints drop mutations that change nothing, and a per-key
// revision counter lets superseded persist tasks detect that they are
// stale and skip silently.
package syncsched

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/syncstate"
)

// DefaultDebounce is the quiet period a key must hold before its
// pending document is persisted.
const DefaultDebounce = 2 * time.Second

// Persister writes a document durably under a key. chunk.Store
// satisfies it through a thin adapter that fixes the compression
// choice.
type Persister interface {
	Write(ctx context.Context, key string, document json.RawMessage) error
}

// Options configures a Scheduler.
type Options struct {
	// Persister receives the debounced writes. Required.
	Persister Persister

	// State records persisted fingerprints so unchanged documents are
	// never rewritten. Required.
	State *syncstate.Store

	// Clock drives the debounce timers. If nil, defaults to
	// clock.Real().
	Clock clock.Clock

	// Idle runs persist tasks off the caller's path. If nil, defaults
	// to RealIdle().
	Idle Idle

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Debounce is the quiet period before a persist. Zero uses
	// DefaultDebounce.
	Debounce time.Duration
}

// Scheduler coalesces mutations per key and persists the latest
// document after a quiet period. Safe for concurrent use; writes for
// one key never interleave.
type Scheduler struct {
	persister Persister
	state     *syncstate.Store
	clk       clock.Clock
	idle      Idle
	log       *slog.Logger
	debounce  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

// keyState is one key's position in the state machine. A nil queued
// document means idle; a non-nil one means a persist is pending
// (debouncing or waiting for idle time).
type keyState struct {
	revision    uint64
	queued      json.RawMessage
	fingerprint string
	timer       *clock.Timer
	cancelIdle  func()
}

// New returns a Scheduler. Call Close when done; pending documents
// are dropped on Close, so daemons flush first.
func New(options Options) (*Scheduler, error) {
	if options.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if options.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Idle == nil {
		options.Idle = RealIdle()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		persister: options.Persister,
		state:     options.State,
		clk:       options.Clock,
		idle:      options.Idle,
		log:       options.Logger,
		debounce:  options.Debounce,
		ctx:       ctx,
		cancel:    cancel,
		keys:      make(map[string]*keyState),
	}, nil
}

// Notify records a mutation of the document stored under key. The
// document is persisted once the key has been quiet for the debounce
// interval. A document whose fingerprint matches the last persisted
// one cancels any pending write instead of scheduling a redundant
// one.
func (s *Scheduler) Notify(key string, document json.RawMessage) {
	fingerprint := Fingerprint(document)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	ks := s.keys[key]
	if ks == nil {
		ks = &keyState{}
		s.keys[key] = ks
	}

	if persisted, ok := s.state.Fingerprint(key); ok && fingerprint == persisted {
		// The document is back to its persisted content. Anything
		// still pending would write the same bytes.
		ks.revision++
		s.disarmLocked(ks)
		ks.queued = nil
		ks.fingerprint = ""
		s.log.Debug("mutation matches persisted content, nothing to sync", "key", key)
		return
	}

	ks.revision++
	ks.queued = bytes.Clone(document)
	ks.fingerprint = fingerprint
	s.disarmLocked(ks)

	revision := ks.revision
	ks.timer = s.clk.AfterFunc(s.debounce, func() {
		s.debounceFired(key, revision)
	})
	s.log.Debug("sync scheduled", "key", key, "revision", revision)
}

// debounceFired moves a key from debouncing to waiting-for-idle,
// unless a newer mutation superseded the timer.
func (s *Scheduler) debounceFired(key string, revision uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks := s.keys[key]
	if ks == nil || s.closed || ks.revision != revision {
		return
	}
	ks.timer = nil
	ks.cancelIdle = s.idle.Request(func() {
		s.persist(key, revision)
	})
}

// persist writes the queued document for key. A revision mismatch
// means a newer mutation or a flush superseded this task; it skips
// without writing.
func (s *Scheduler) persist(key string, revision uint64) {
	s.mu.Lock()
	ks := s.keys[key]
	if ks == nil || s.closed || ks.revision != revision || ks.queued == nil {
		s.mu.Unlock()
		return
	}
	ks.cancelIdle = nil
	document := ks.queued
	fingerprint := ks.fingerprint
	s.mu.Unlock()

	if err := s.persister.Write(s.ctx, key, document); err != nil {
		// Leave the queued document in place: the next mutation
		// restarts the cycle. No retry timer.
		s.log.Error("persist failed", "key", key, "revision", revision, "error", err)
		return
	}

	if _, err := s.state.RecordPersist(key, fingerprint); err != nil {
		s.log.Warn("persisted but failed to record fingerprint",
			"key", key, "error", err)
	}

	s.mu.Lock()
	if ks.revision == revision {
		ks.queued = nil
		ks.fingerprint = ""
	}
	s.mu.Unlock()

	s.log.Info("document persisted",
		"key", key, "revision", revision, "bytes", len(document))
}

// Flush persists every pending document immediately, bypassing the
// debounce delay and the idle port. Daemons call it on shutdown so a
// mutation inside the quiet window is not lost.
func (s *Scheduler) Flush(ctx context.Context) error {
	type pendingWrite struct {
		key         string
		revision    uint64
		document    json.RawMessage
		fingerprint string
	}

	s.mu.Lock()
	var work []pendingWrite
	for key, ks := range s.keys {
		if ks.queued == nil {
			continue
		}
		s.disarmLocked(ks)
		work = append(work, pendingWrite{key, ks.revision, ks.queued, ks.fingerprint})
	}
	s.mu.Unlock()

	slices.SortFunc(work, func(a, b pendingWrite) int {
		return strings.Compare(a.key, b.key)
	})

	var errs []error
	for _, w := range work {
		if err := s.persister.Write(ctx, w.key, w.document); err != nil {
			errs = append(errs, fmt.Errorf("flushing %q: %w", w.key, err))
			continue
		}
		if _, err := s.state.RecordPersist(w.key, w.fingerprint); err != nil {
			errs = append(errs, fmt.Errorf("recording fingerprint for %q: %w", w.key, err))
		}

		s.mu.Lock()
		if ks := s.keys[w.key]; ks != nil && ks.revision == w.revision {
			ks.queued = nil
			ks.fingerprint = ""
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Close cancels every pending timer and idle task. Queued documents
// are dropped; in-flight writes see their context cancelled. Safe to
// call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ks := range s.keys {
		s.disarmLocked(ks)
		ks.queued = nil
		ks.fingerprint = ""
	}
	s.mu.Unlock()
	s.cancel()
}

// disarmLocked stops the key's timer and idle task, if any. Must be
// called with s.mu held.
func (s *Scheduler) disarmLocked(ks *keyState) {
	if ks.timer != nil {
		ks.timer.Stop()
		ks.timer = nil
	}
	if ks.cancelIdle != nil {
		ks.cancelIdle()
		ks.cancelIdle = nil
	}
}
