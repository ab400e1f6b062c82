// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

//go:embed default-groups.jsonc
var defaultGroupsSource []byte

// DefaultDocument materializes the built-in document used on cold
// start, with fresh IDs minted for every group and item. Returns an
// error only if the embedded asset is malformed, which is a build bug,
// not a runtime condition.
func DefaultDocument() (json.RawMessage, error) {
	stripped := jsonc.ToJSON(defaultGroupsSource)

	var groups []Group
	if err := json.Unmarshal(stripped, &groups); err != nil {
		return nil, fmt.Errorf("parsing embedded default document: %w", err)
	}
	Normalize(groups)
	return Encode(groups)
}
