// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestWorkingFileEventFeedsMutation(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t)

	edited := json.RawMessage(`[{"id":"g1","name":"Edited","items":[]}]`)
	if err := d.working.Set(ctx, d.baseKey, edited); err != nil {
		t.Fatalf("seeding working file: %v", err)
	}

	d.handleWorkingFileEvent(ctx)

	durable, err := d.durableSource.Read(ctx)
	if err != nil {
		t.Fatalf("reading durable tier: %v", err)
	}
	if !bytes.Equal(durable.Document, edited) {
		t.Fatalf("durable tier holds %s, want the edit", durable.Document)
	}
	if err := d.scheduler.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	chunked, err := d.store.Read(ctx, d.baseKey)
	if err != nil {
		t.Fatalf("reading chunked store: %v", err)
	}
	if !bytes.Equal(chunked, edited) {
		t.Fatal("chunked tier missed the edit")
	}
}

func TestWorkingFileEventDropsSeenContent(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t)

	mirrored := json.RawMessage(`[{"id":"g1","name":"Mirrored","items":[]}]`)
	d.mutate(ctx, mirrored)
	if err := d.working.Set(ctx, d.baseKey, mirrored); err != nil {
		t.Fatalf("writing mirror copy: %v", err)
	}

	// A sentinel in the durable tier shows whether the event re-enters
	// the mutation path: a dropped event leaves it alone.
	sentinel := json.RawMessage(`[{"id":"g2","name":"Sentinel","items":[]}]`)
	if err := d.durableSource.Write(ctx, sentinel, time.Now()); err != nil {
		t.Fatalf("writing sentinel: %v", err)
	}

	d.handleWorkingFileEvent(ctx)

	durable, err := d.durableSource.Read(ctx)
	if err != nil {
		t.Fatalf("reading durable tier: %v", err)
	}
	if !bytes.Equal(durable.Document, sentinel) {
		t.Fatal("already-seen content re-entered the mutation path")
	}
}

func TestWorkingFileEventIgnoresMissingDocument(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t)

	d.handleWorkingFileEvent(ctx)

	if _, found, err := d.durableDB.Get(ctx, d.baseKey); err != nil || found {
		t.Fatalf("event against an empty working file wrote data: found=%v err=%v", found, err)
	}
}

func TestWorkingFileEventSkipsHalfWrittenFile(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t)

	if err := os.WriteFile(d.cfg.Paths.WorkingFile, []byte(`{"tabsync_groups": [`), 0o600); err != nil {
		t.Fatalf("writing truncated file: %v", err)
	}

	d.handleWorkingFileEvent(ctx)

	if _, found, err := d.durableDB.Get(ctx, d.baseKey); err != nil || found {
		t.Fatalf("event against a truncated file wrote data: found=%v err=%v", found, err)
	}
}
