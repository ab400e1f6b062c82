// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/li88iioo/tabsync/lib/config"
	"github.com/li88iioo/tabsync/lib/launcher"
)

// writeConfigFile serializes cfg so commands can load it through the
// same --config path users take.
func writeConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tabsync.yaml")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func writeDocumentFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groups.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing document: %v", err)
	}
	return path
}

func TestSetStoresAcrossTiers(t *testing.T) {
	cfg := testCLIConfig(t)
	cfgPath := writeConfigFile(t, cfg)
	docPath := writeDocumentFile(t, `[{"name":"Work","items":[{"name":"Mail","url":"https://mail.example.com"}]}]`)

	if err := runSet([]string{"--config", cfgPath, docPath}); err != nil {
		t.Fatalf("set: %v", err)
	}

	e := openTestEngine(t, cfg)
	ctx := context.Background()
	for _, name := range []string{"durable", "chunked", "working"} {
		raw, err := e.readFrom(ctx, name)
		if err != nil {
			t.Fatalf("readFrom(%s): %v", name, err)
		}
		groups, err := launcher.Decode(raw)
		if err != nil {
			t.Fatalf("decoding %s copy: %v", name, err)
		}
		if len(groups) != 1 || len(groups[0].Items) != 1 {
			t.Fatalf("%s copy shape = %d groups", name, len(groups))
		}
		if groups[0].ID == "" || groups[0].Items[0].ID == "" {
			t.Fatalf("%s copy left IDs unminted: %+v", name, groups[0])
		}
	}
	if got := e.state.Persists(); got != 1 {
		t.Fatalf("Persists = %d, want 1", got)
	}
	if _, found := e.state.Fingerprint(e.baseKey); !found {
		t.Fatal("set did not record a fingerprint")
	}
}

func TestSetRejectsInvalidDocument(t *testing.T) {
	docPath := writeDocumentFile(t, `{"not":"a group list"}`)
	if err := runSet([]string{docPath}); err == nil {
		t.Fatal("set accepted a non-list document")
	}
}

func TestSetRequiresDocumentArgument(t *testing.T) {
	err := runSet([]string{})
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestClearRequiresForce(t *testing.T) {
	err := runClear([]string{})
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("err = %v, want refusal pointing at --force", err)
	}
}

func TestClearRemovesAllTiers(t *testing.T) {
	cfg := testCLIConfig(t)
	cfgPath := writeConfigFile(t, cfg)
	docPath := writeDocumentFile(t, `[{"id":"g1","name":"Home","items":[]}]`)

	if err := runSet([]string{"--config", cfgPath, docPath}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := runClear([]string{"--config", cfgPath, "--force"}); err != nil {
		t.Fatalf("clear: %v", err)
	}

	e := openTestEngine(t, cfg)
	ctx := context.Background()
	for _, name := range []string{"durable", "chunked", "working"} {
		raw, err := e.readFrom(ctx, name)
		if err != nil {
			t.Fatalf("readFrom(%s): %v", name, err)
		}
		if len(raw) != 0 {
			t.Fatalf("%s tier still holds %s", name, raw)
		}
	}
	if got := e.state.Persists(); got != 0 {
		t.Fatalf("Persists = %d after reset", got)
	}
	if len(e.state.Fingerprints()) != 0 {
		t.Fatal("fingerprints survived reset")
	}
}

func TestReconcileForceSeedsDefault(t *testing.T) {
	cfg := testCLIConfig(t)
	cfgPath := writeConfigFile(t, cfg)

	if err := runReconcile([]string{"--config", cfgPath, "--force"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	e := openTestEngine(t, cfg)
	ctx := context.Background()
	for _, name := range []string{"durable", "chunked", "working"} {
		raw, err := e.readFrom(ctx, name)
		if err != nil {
			t.Fatalf("readFrom(%s): %v", name, err)
		}
		if len(raw) == 0 {
			t.Fatalf("%s tier empty after forced reconcile", name)
		}
		if _, err := launcher.Decode(raw); err != nil {
			t.Fatalf("%s copy does not decode: %v", name, err)
		}
	}
	if _, ok := e.state.LastReconcile(); !ok {
		t.Fatal("reconcile did not record completion")
	}
}

func TestShowUnknownSource(t *testing.T) {
	cfg := testCLIConfig(t)
	cfgPath := writeConfigFile(t, cfg)
	err := runShow([]string{"--config", cfgPath, "--source", "archive"})
	if err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("err = %v, want unknown source", err)
	}
}

func TestShowEmptyTier(t *testing.T) {
	cfg := testCLIConfig(t)
	cfgPath := writeConfigFile(t, cfg)
	err := runShow([]string{"--config", cfgPath})
	if err == nil || !strings.Contains(err.Error(), "no document") {
		t.Fatalf("err = %v, want empty-tier error", err)
	}
}
