// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher defines the launcher groups document: the one JSON
// value the sync engine replicates. A document is an ordered list of
// groups, each holding an ordered list of items (links on the new-tab
// page).
//
// The engine itself treats the document as opaque bytes; this package
// is where the daemon and CLI give it shape: decoding, validation,
// ID minting, migration of the legacy flat-list format, and the
// built-in default document for cold starts.
package launcher

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Item is one launcher entry: a link tile on the new-tab page.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Group is an ordered collection of items under one heading.
type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// NewID mints a stable identifier for a group or item.
func NewID() string { return uuid.NewString() }

// Decode parses a groups document. It accepts only the current
// group-list shape; use DetectLegacy/Migrate for old flat lists.
func Decode(raw json.RawMessage) ([]Group, error) {
	var groups []Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("parsing groups document: %w", err)
	}
	return groups, nil
}

// Encode serializes a groups document.
func Encode(groups []Group) (json.RawMessage, error) {
	raw, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("encoding groups document: %w", err)
	}
	return raw, nil
}

// Normalize mints IDs for any group or item that lacks one and drops
// nil item lists in favor of empty ones, so every stored document is
// fully addressable. Returns the number of IDs minted.
func Normalize(groups []Group) int {
	minted := 0
	for i := range groups {
		if groups[i].ID == "" {
			groups[i].ID = NewID()
			minted++
		}
		if groups[i].Items == nil {
			groups[i].Items = []Item{}
		}
		for j := range groups[i].Items {
			if groups[i].Items[j].ID == "" {
				groups[i].Items[j].ID = NewID()
				minted++
			}
		}
	}
	return minted
}

// Summarize returns group and item counts for logging and status
// output.
func Summarize(raw json.RawMessage) (groups, items int) {
	parsed, err := Decode(raw)
	if err != nil {
		return 0, 0
	}
	for _, g := range parsed {
		items += len(g.Items)
	}
	return len(parsed), items
}
