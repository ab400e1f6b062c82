// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	groups := []Group{
		{
			ID:   "g1",
			Name: "Favorites",
			Items: []Item{
				{ID: "i1", Name: "Search", URL: "https://example.com", Color: "#fff"},
				{ID: "i2", Name: "新标签页", URL: "https://example.cn"},
			},
		},
		{ID: "g2", Name: "Empty", Items: []Item{}},
	}

	raw, err := Encode(groups)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Decode returned %d groups, want 2", len(decoded))
	}
	if decoded[0].Items[1].Name != "新标签页" {
		t.Errorf("unicode name corrupted: %q", decoded[0].Items[1].Name)
	}
	if decoded[1].Items == nil || len(decoded[1].Items) != 0 {
		t.Errorf("empty item list not preserved: %#v", decoded[1].Items)
	}
}

func TestNormalizeMintsMissingIDs(t *testing.T) {
	groups := []Group{
		{Name: "no id", Items: []Item{{Name: "also no id"}, {ID: "have", Name: "kept"}}},
		{ID: "g", Name: "has id", Items: nil},
	}

	minted := Normalize(groups)
	if minted != 2 {
		t.Fatalf("Normalize minted %d IDs, want 2", minted)
	}
	if groups[0].ID == "" || groups[0].Items[0].ID == "" {
		t.Error("Normalize left empty IDs")
	}
	if groups[0].Items[1].ID != "have" {
		t.Errorf("Normalize replaced existing ID: %q", groups[0].Items[1].ID)
	}
	if groups[1].Items == nil {
		t.Error("Normalize left nil item list")
	}
	if groups[0].ID == groups[0].Items[0].ID {
		t.Error("minted IDs collide")
	}
}

func TestDetectLegacy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"flat item list", `[{"name":"a","url":"https://a"},{"name":"b","url":"https://b"}]`, true},
		{"group document", `[{"id":"g","name":"G","items":[]}]`, false},
		{"empty array", `[]`, false},
		{"not an array", `{"name":"a"}`, false},
		{"scalar", `42`, false},
		{"garbage", `{not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLegacy(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("DetectLegacy(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMigrateLegacy(t *testing.T) {
	legacy := json.RawMessage(
		`[{"name":"Search","url":"https://example.com","pinned":true},` +
			`{"id":"keep-me","name":"Docs","url":"https://docs.example.com"}]`)

	migrated, err := MigrateLegacy(legacy)
	if err != nil {
		t.Fatalf("MigrateLegacy: %v", err)
	}

	groups, err := Decode(migrated)
	if err != nil {
		t.Fatalf("Decode migrated: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("migrated into %d groups, want 1", len(groups))
	}
	if groups[0].Name != LegacyGroupName {
		t.Errorf("synthetic group name = %q, want %q", groups[0].Name, LegacyGroupName)
	}
	if groups[0].ID == "" {
		t.Error("synthetic group has no ID")
	}
	if len(groups[0].Items) != 2 {
		t.Fatalf("migrated %d items, want 2", len(groups[0].Items))
	}
	if groups[0].Items[1].ID != "keep-me" {
		t.Errorf("existing item ID not preserved: %q", groups[0].Items[1].ID)
	}
	if groups[0].Items[0].ID == "" {
		t.Error("missing item ID not minted")
	}

	// Fields beyond the typed model survive migration byte-for-byte.
	if !strings.Contains(string(migrated), `"pinned":true`) {
		t.Errorf("extra item field dropped: %s", migrated)
	}
}

func TestMigrateLegacyRejectsGarbage(t *testing.T) {
	if _, err := MigrateLegacy(json.RawMessage(`{"not":"a list"}`)); err == nil {
		t.Fatal("MigrateLegacy accepted a non-list")
	}
}

func TestDefaultDocument(t *testing.T) {
	raw, err := DefaultDocument()
	if err != nil {
		t.Fatalf("DefaultDocument: %v", err)
	}
	groups, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(groups) == 0 {
		t.Fatal("default document has no groups")
	}
	for _, group := range groups {
		if group.ID == "" {
			t.Errorf("group %q has no ID", group.Name)
		}
		if len(group.Items) == 0 {
			t.Errorf("group %q has no items", group.Name)
		}
		for _, item := range group.Items {
			if item.ID == "" {
				t.Errorf("item %q has no ID", item.Name)
			}
			if item.URL == "" {
				t.Errorf("item %q has no URL", item.Name)
			}
		}
	}

	// Each call mints fresh IDs.
	again, err := DefaultDocument()
	if err != nil {
		t.Fatalf("DefaultDocument again: %v", err)
	}
	first, _ := Decode(raw)
	second, _ := Decode(again)
	if first[0].ID == second[0].ID {
		t.Error("DefaultDocument reused IDs across calls")
	}
}

func TestSummarize(t *testing.T) {
	raw := json.RawMessage(`[{"id":"g","name":"G","items":[{"id":"a","name":"A","url":"u"},{"id":"b","name":"B","url":"u"}]}]`)
	groups, items := Summarize(raw)
	if groups != 1 || items != 2 {
		t.Errorf("Summarize = (%d, %d), want (1, 2)", groups, items)
	}

	groups, items = Summarize(json.RawMessage(`{broken`))
	if groups != 0 || items != 0 {
		t.Errorf("Summarize on garbage = (%d, %d), want (0, 0)", groups, items)
	}
}
