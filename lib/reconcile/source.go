// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/li88iioo/tabsync/lib/chunk"
	"github.com/li88iioo/tabsync/lib/tier"
)

// TimestampSuffix names the sibling key carrying a document's
// last-write time in Unix milliseconds.
const TimestampSuffix = "_updated_at"

// Record is what one source reports: the stored document and its
// last-write time. A nil Document means the source is empty; a zero
// Timestamp means the source holds no usable one.
type Record struct {
	Document  json.RawMessage
	Timestamp time.Time
}

// Source is one replicated location of the document.
type Source interface {
	Name() string
	Read(ctx context.Context) (Record, error)
	Write(ctx context.Context, document json.RawMessage, timestamp time.Time) error
}

// KVSource stores the document directly in a KV tier, with the
// timestamp under the sibling key. The durable and working-file
// tiers use it.
type KVSource struct {
	name string
	kv   tier.KV
	key  string
}

// NewKVSource returns a Source over kv storing the document at key.
func NewKVSource(name string, kv tier.KV, key string) *KVSource {
	return &KVSource{name: name, kv: kv, key: key}
}

func (s *KVSource) Name() string { return s.name }

func (s *KVSource) Read(ctx context.Context) (Record, error) {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return Record{}, fmt.Errorf("reading %q: %w", s.key, err)
	}
	if !found {
		return Record{}, nil
	}
	return Record{
		Document:  raw,
		Timestamp: readTimestamp(ctx, s.kv, s.key),
	}, nil
}

func (s *KVSource) Write(ctx context.Context, document json.RawMessage, timestamp time.Time) error {
	if err := s.kv.Set(ctx, s.key, document); err != nil {
		return fmt.Errorf("writing %q: %w", s.key, err)
	}
	return writeTimestamp(ctx, s.kv, s.key, timestamp)
}

// StoreSource stores the document through the chunked store, so it
// honors the backing tier's per-item quota. The timestamp lives as a
// plain sibling record on the same tier; it is far below any quota.
type StoreSource struct {
	name     string
	store    *chunk.Store
	kv       tier.KV
	key      string
	compress bool
}

// NewStoreSource returns a Source writing through store, with the
// timestamp sibling on kv (the store's own backing tier).
func NewStoreSource(name string, store *chunk.Store, kv tier.KV, key string, compress bool) *StoreSource {
	return &StoreSource{name: name, store: store, kv: kv, key: key, compress: compress}
}

func (s *StoreSource) Name() string { return s.name }

func (s *StoreSource) Read(ctx context.Context) (Record, error) {
	document, err := s.store.Read(ctx, s.key)
	if err != nil {
		return Record{}, err
	}
	if len(document) == 0 {
		return Record{}, nil
	}
	return Record{
		Document:  document,
		Timestamp: readTimestamp(ctx, s.kv, s.key),
	}, nil
}

func (s *StoreSource) Write(ctx context.Context, document json.RawMessage, timestamp time.Time) error {
	if err := s.store.Write(ctx, s.key, document, s.compress); err != nil {
		return err
	}
	return writeTimestamp(ctx, s.kv, s.key, timestamp)
}

// SessionSource stores the document in the ephemeral tier. It never
// reports a timestamp: the session tier's clock is not trusted, so
// the reconciler ranks its copy with a synthetic one.
type SessionSource struct {
	name string
	kv   tier.KV
	key  string
}

// NewSessionSource returns a Source over the ephemeral tier.
func NewSessionSource(name string, kv tier.KV, key string) *SessionSource {
	return &SessionSource{name: name, kv: kv, key: key}
}

func (s *SessionSource) Name() string { return s.name }

func (s *SessionSource) Read(ctx context.Context) (Record, error) {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return Record{}, fmt.Errorf("reading %q: %w", s.key, err)
	}
	if !found {
		return Record{}, nil
	}
	return Record{Document: raw}, nil
}

func (s *SessionSource) Write(ctx context.Context, document json.RawMessage, _ time.Time) error {
	if err := s.kv.Set(ctx, s.key, document); err != nil {
		return fmt.Errorf("writing %q: %w", s.key, err)
	}
	return nil
}

// LegacyReader surfaces the pre-grouping document written by old
// installations. Read-only: reconciliation never writes the legacy
// location, it just stops losing to real tiers once they hold data.
type LegacyReader interface {
	Name() string
	Read(ctx context.Context) (json.RawMessage, error)
}

// FileLegacy reads the flat-list file an old installation left
// behind. A missing file is an empty document, not an error.
type FileLegacy struct {
	path string
}

// NewFileLegacy returns a LegacyReader for the file at path.
func NewFileLegacy(path string) *FileLegacy {
	return &FileLegacy{path: path}
}

func (f *FileLegacy) Name() string { return "legacy" }

func (f *FileLegacy) Read(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading legacy file %s: %w", f.path, err)
	}
	return data, nil
}

// readTimestamp loads the sibling timestamp for key. Absent or
// malformed values read as zero; the reconciler substitutes its
// synthetic ranking time.
func readTimestamp(ctx context.Context, kv tier.KV, key string) time.Time {
	raw, found, err := kv.Get(ctx, key+TimestampSuffix)
	if err != nil || !found {
		return time.Time{}
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil || millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// writeTimestamp stores the sibling timestamp for key in Unix
// milliseconds.
func writeTimestamp(ctx context.Context, kv tier.KV, key string, timestamp time.Time) error {
	value, err := json.Marshal(timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("encoding timestamp for %q: %w", key, err)
	}
	if err := kv.Set(ctx, key+TimestampSuffix, value); err != nil {
		return fmt.Errorf("writing %q: %w", key+TimestampSuffix, err)
	}
	return nil
}
