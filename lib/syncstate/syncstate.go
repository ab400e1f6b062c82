// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncstate persists the sync engine's private bookkeeping: the
// fingerprint of the last payload persisted per storage key, a counter
// of completed persists, and the timestamp of the last full reconcile.
// None of this is document data: losing the file costs at most one
// redundant sync and one early reconcile, never user content.
//
// The file is CBOR (see lib/codec) and is rewritten atomically on every
// mutation: marshal, write to a temporary file in the same directory,
// fsync, rename. Readers never observe a partial state. A corrupt file
// is logged and discarded on Open rather than reported as an error, so
// damaged bookkeeping can never prevent the engine from starting.
package syncstate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/li88iioo/tabsync/lib/codec"
)

// State is the wire shape of the bookkeeping file.
type State struct {
	// Fingerprints maps a storage key to the fingerprint of the last
	// payload successfully persisted under it.
	Fingerprints map[string]string `cbor:"fingerprints,omitempty"`

	// Persists counts completed persist operations across restarts.
	Persists uint64 `cbor:"persists,omitempty"`

	// LastReconcile is when a full reconcile last completed, in Unix
	// seconds. Zero means never.
	LastReconcile int64 `cbor:"last_reconcile,omitempty"`
}

// Store wraps a bookkeeping file with an in-memory copy and atomic
// writes. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	log   *slog.Logger
	state State
}

// Open loads the bookkeeping file at path, creating a fresh empty state
// when the file does not exist. A file that exists but cannot be parsed
// is logged and replaced with a fresh state; any other read error is
// returned.
func Open(path string, log *slog.Logger) (*Store, error) {
	store := &Store{
		path: path,
		log:  log,
		state: State{
			Fingerprints: make(map[string]string),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("reading sync state %s: %w", path, err)
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		log.Warn("discarding corrupt sync state file",
			"path", path, "error", err)
		return store, nil
	}

	if state.Fingerprints == nil {
		state.Fingerprints = make(map[string]string)
	}
	store.state = state
	return store, nil
}

// Path returns the location of the bookkeeping file.
func (s *Store) Path() string {
	return s.path
}

// Fingerprint returns the recorded fingerprint for key, if any.
func (s *Store) Fingerprint(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fingerprint, found := s.state.Fingerprints[key]
	return fingerprint, found
}

// Fingerprints returns a copy of all recorded fingerprints.
func (s *Store) Fingerprints() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.state.Fingerprints))
	for key, fingerprint := range s.state.Fingerprints {
		out[key] = fingerprint
	}
	return out
}

// RecordPersist records that a payload with the given fingerprint was
// persisted under key, increments the persist counter, and writes the
// file. Returns the new counter value.
func (s *Store) RecordPersist(key, fingerprint string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Fingerprints[key] = fingerprint
	s.state.Persists++
	if err := s.save(); err != nil {
		return 0, err
	}
	return s.state.Persists, nil
}

// Persists returns the number of completed persist operations.
func (s *Store) Persists() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Persists
}

// LastReconcile returns when a full reconcile last completed. The
// second return is false when no reconcile has been recorded.
func (s *Store) LastReconcile() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LastReconcile == 0 {
		return time.Time{}, false
	}
	return time.Unix(s.state.LastReconcile, 0), true
}

// ReconcileAllowed reports whether a full reconcile may run at now
// given the throttle interval. A reconcile is allowed when none has
// ever run, when the interval is not positive, or when at least
// interval has passed since the last one. The guard also opens when
// the recorded timestamp is in the future, which happens after a
// clock step backwards.
func (s *Store) ReconcileAllowed(now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LastReconcile == 0 || interval <= 0 {
		return true
	}
	last := time.Unix(s.state.LastReconcile, 0)
	if last.After(now) {
		return true
	}
	return now.Sub(last) >= interval
}

// MarkReconciled records now as the last reconcile time and writes the
// file.
func (s *Store) MarkReconciled(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastReconcile = now.Unix()
	return s.save()
}

// Snapshot returns a copy of the full state for diagnostics.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := State{
		Fingerprints:  make(map[string]string, len(s.state.Fingerprints)),
		Persists:      s.state.Persists,
		LastReconcile: s.state.LastReconcile,
	}
	for key, fingerprint := range s.state.Fingerprints {
		snapshot.Fingerprints[key] = fingerprint
	}
	return snapshot
}

// Reset discards all bookkeeping and removes the file. Idempotent.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{Fingerprints: make(map[string]string)}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sync state file: %w", err)
	}
	return nil
}

// save writes the current state atomically. Must be called with s.mu
// held.
func (s *Store) save() error {
	data, err := codec.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshaling sync state: %w", err)
	}

	temporaryPath := s.path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary sync state file: %w", err)
	}

	// Write, sync, close, rename. If any step fails, remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary sync state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary sync state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary sync state file: %w", err)
	}

	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming sync state file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	parentDirectory, err := os.Open(filepath.Dir(s.path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}
