// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"encoding/json"
	"fmt"
)

// LegacyGroupName is the heading given to the synthetic group that
// wraps a migrated flat item list.
const LegacyGroupName = "Default"

// DetectLegacy reports whether raw holds the pre-grouping flat item
// list: a JSON array whose elements are objects without an "items"
// field. An empty array is not legacy; it is an empty current-format
// document.
func DetectLegacy(raw json.RawMessage) bool {
	var elements []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return false
	}
	if len(elements) == 0 {
		return false
	}
	_, hasItems := elements[0]["items"]
	return !hasItems
}

// MigrateLegacy wraps a flat item list into a single synthetic group,
// preserving every item field (including ones outside the typed
// model) and minting IDs for items that lack one. The result is a
// current-format document.
func MigrateLegacy(raw json.RawMessage) (json.RawMessage, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parsing legacy item list: %w", err)
	}

	for _, item := range items {
		if _, ok := item["id"]; !ok {
			id, err := json.Marshal(NewID())
			if err != nil {
				return nil, fmt.Errorf("encoding item id: %w", err)
			}
			item["id"] = id
		}
	}

	document := []map[string]any{{
		"id":    NewID(),
		"name":  LegacyGroupName,
		"items": items,
	}}
	migrated, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encoding migrated document: %w", err)
	}
	return migrated, nil
}
