// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/li88iioo/tabsync/lib/chunk"
	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/tier"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestKVSourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{})
	source := NewKVSource("durable", kv, "tabsync_groups")

	if source.Name() != "durable" {
		t.Fatalf("Name() = %q, want durable", source.Name())
	}

	document := json.RawMessage(`[{"id":"g1","name":"Work","items":[]}]`)
	if err := source.Write(ctx, document, testTime); err != nil {
		t.Fatalf("Write: %v", err)
	}

	record, err := source.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(record.Document, document) {
		t.Fatalf("document = %s, want %s", record.Document, document)
	}
	if !record.Timestamp.Equal(testTime) {
		t.Fatalf("timestamp = %v, want %v", record.Timestamp, testTime)
	}
}

func TestKVSourceTimestampSiblingKey(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{})
	source := NewKVSource("durable", kv, "tabsync_groups")

	if err := source.Write(ctx, json.RawMessage(`[]`), testTime); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, found, err := kv.Get(ctx, "tabsync_groups"+TimestampSuffix)
	if err != nil || !found {
		t.Fatalf("sibling key missing: found=%v err=%v", found, err)
	}
	want := []byte("1773480413000")
	if !bytes.Equal(raw, want) {
		t.Fatalf("sibling value = %s, want %s", raw, want)
	}
}

func TestKVSourceAbsent(t *testing.T) {
	source := NewKVSource("durable", tier.NewMemory(tier.Quota{}), "tabsync_groups")

	record, err := source.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Document != nil {
		t.Fatalf("document = %s, want nil", record.Document)
	}
	if !record.Timestamp.IsZero() {
		t.Fatalf("timestamp = %v, want zero", record.Timestamp)
	}
}

func TestKVSourceMissingTimestampReadsZero(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{})
	if err := kv.Set(ctx, "tabsync_groups", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	record, err := NewKVSource("durable", kv, "tabsync_groups").Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Document == nil {
		t.Fatal("document missing")
	}
	if !record.Timestamp.IsZero() {
		t.Fatalf("timestamp = %v, want zero", record.Timestamp)
	}
}

func TestKVSourceMalformedTimestampReadsZero(t *testing.T) {
	ctx := context.Background()

	for _, value := range []string{`"not a number"`, `-5`, `0`, `{`, `12.75`} {
		kv := tier.NewMemory(tier.Quota{})
		if err := kv.Set(ctx, "k", json.RawMessage(`[]`)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := kv.Set(ctx, "k"+TimestampSuffix, json.RawMessage(value)); err != nil {
			t.Fatalf("Set sibling: %v", err)
		}

		record, err := NewKVSource("durable", kv, "k").Read(ctx)
		if err != nil {
			t.Fatalf("Read with sibling %s: %v", value, err)
		}
		if !record.Timestamp.IsZero() {
			t.Fatalf("sibling %s: timestamp = %v, want zero", value, record.Timestamp)
		}
	}
}

func TestKVSourceReadErrorSurfaces(t *testing.T) {
	boom := errors.New("disk on fire")
	kv := tier.NewMemory(tier.Quota{})
	kv.GetErr = func(key string) error {
		if key == "tabsync_groups" {
			return boom
		}
		return nil
	}

	_, err := NewKVSource("durable", kv, "tabsync_groups").Read(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Read error = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "tabsync_groups") {
		t.Fatalf("error %q does not name the key", err)
	}
}

func TestStoreSourceRoundTripThroughChunks(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{MaxItemBytes: 768})
	codec := chunk.NewCodec(chunk.AlgorithmZstd, testLogger())
	store := chunk.NewStore(kv, codec, clock.Fake(testTime), testLogger())
	source := NewStoreSource("chunked", store, kv, "tabsync_groups", false)

	var groups []map[string]any
	for i := 0; i < 40; i++ {
		groups = append(groups, map[string]any{
			"id":    "g" + string(rune('a'+i%26)),
			"name":  strings.Repeat("workspace", 4),
			"items": []any{},
		})
	}
	document, err := json.Marshal(groups)
	if err != nil {
		t.Fatalf("building document: %v", err)
	}

	if err := source.Write(ctx, document, testTime); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if kv.Len() < 3 {
		t.Fatalf("expected meta, chunks, and timestamp records, tier has %d keys: %v", kv.Len(), kv.Keys())
	}

	record, err := source.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(record.Document, document) {
		t.Fatal("document did not survive the chunked round trip")
	}
	if !record.Timestamp.Equal(testTime) {
		t.Fatalf("timestamp = %v, want %v", record.Timestamp, testTime)
	}
}

func TestStoreSourceCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{})
	store := chunk.NewStore(kv, chunk.NewCodec(chunk.AlgorithmZstd, testLogger()), clock.Fake(testTime), testLogger())
	source := NewStoreSource("chunked", store, kv, "tabsync_groups", true)

	document := json.RawMessage(`[{"id":"g1","name":"Work","items":[{"id":"i1","name":"Mail","url":"https://mail.example.com"}]}]`)
	if err := source.Write(ctx, document, testTime); err != nil {
		t.Fatalf("Write: %v", err)
	}

	record, err := source.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(record.Document, document) {
		t.Fatalf("document = %s, want %s", record.Document, document)
	}
	if !record.Timestamp.Equal(testTime) {
		t.Fatalf("timestamp = %v, want %v", record.Timestamp, testTime)
	}
}

func TestStoreSourceAbsent(t *testing.T) {
	kv := tier.NewMemory(tier.Quota{})
	store := chunk.NewStore(kv, chunk.NewCodec(chunk.AlgorithmZstd, testLogger()), clock.Fake(testTime), testLogger())

	record, err := NewStoreSource("chunked", store, kv, "tabsync_groups", true).Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Document != nil || !record.Timestamp.IsZero() {
		t.Fatalf("record = %+v, want empty", record)
	}
}

func TestSessionSourceDropsTimestamp(t *testing.T) {
	ctx := context.Background()
	kv := tier.NewMemory(tier.Quota{})
	source := NewSessionSource("session", kv, "tabsync_groups")

	document := json.RawMessage(`[{"id":"g1","name":"Play","items":[]}]`)
	if err := source.Write(ctx, document, testTime); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if keys := kv.Keys(); len(keys) != 1 || keys[0] != "tabsync_groups" {
		t.Fatalf("tier keys = %v, want only the document key", keys)
	}

	record, err := source.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(record.Document, document) {
		t.Fatalf("document = %s, want %s", record.Document, document)
	}
	if !record.Timestamp.IsZero() {
		t.Fatalf("timestamp = %v, want zero", record.Timestamp)
	}
}

func TestFileLegacyReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.json")
	content := []byte(`[{"name":"GitHub","url":"https://github.com"}]`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	legacy := NewFileLegacy(path)
	if legacy.Name() != "legacy" {
		t.Fatalf("Name() = %q, want legacy", legacy.Name())
	}

	raw, err := legacy.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(raw, content) {
		t.Fatalf("content = %s, want %s", raw, content)
	}
}

func TestFileLegacyMissingFile(t *testing.T) {
	legacy := NewFileLegacy(filepath.Join(t.TempDir(), "absent.json"))

	raw, err := legacy.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if raw != nil {
		t.Fatalf("content = %s, want nil", raw)
	}
}

func TestFileLegacyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileLegacy(filepath.Join(t.TempDir(), "groups.json")).Read(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Read error = %v, want context.Canceled", err)
	}
}
