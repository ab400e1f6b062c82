// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package tier defines the narrow key-value contract the sync engine
// stores documents through, and provides the backends used in
// production and tests.
//
// A tier is one storage backend with its own durability, latency, and
// quota characteristics: a fast in-process cache, a durable local
// database, a size-constrained replicated store. The engine never
// talks to a backend through anything wider than the KV interface;
// everything tier-specific (TTLs, batch semantics, quota enforcement)
// stays behind it.
package tier

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrItemTooLarge is returned by Set when a single item exceeds the
// tier's per-item quota. Constrained tiers enforce this server-side;
// the backends here mirror that so quota bugs surface in local runs
// and tests instead of only against the real backend.
var ErrItemTooLarge = errors.New("tier: item exceeds per-item quota")

// Quota describes a tier's per-item size limits in encoded bytes.
type Quota struct {
	// MaxItemBytes is the hard per-item limit the tier enforces.
	// 0 means unconstrained.
	MaxItemBytes int

	// SafetyMargin is headroom subtracted from MaxItemBytes when
	// budgeting writes, absorbing envelope overhead the tier adds
	// beyond the raw key and value bytes.
	SafetyMargin int
}

// budgetAlignment keeps large write budgets on 256-byte boundaries.
// Replicated backends account quota in coarse units; aligning the
// budget downward keeps a chunk that measures exactly at budget from
// landing on the wrong side of the backend's own rounding.
const budgetAlignment = 256

// Budget returns the usable per-item byte budget for writers, or 0 if
// the tier is unconstrained. Budgets of at least one alignment unit
// are rounded down to a multiple of 256; an 8 KiB item limit with a
// 384-byte margin yields 7680, not 7808.
func (q Quota) Budget() int {
	if q.MaxItemBytes <= 0 {
		return 0
	}
	budget := q.MaxItemBytes - q.SafetyMargin
	if budget < 0 {
		return 0
	}
	if budget >= budgetAlignment {
		budget -= budget % budgetAlignment
	}
	return budget
}

// Constrained reports whether the tier enforces a per-item limit.
func (q Quota) Constrained() bool { return q.MaxItemBytes > 0 }

// KV is the contract every storage tier implements. Values are JSON;
// a tier stores and returns them byte-for-byte.
//
// Get reports found=false for a key that was never written, with a
// nil error. Remove is best-effort for callers: failures are real
// errors but callers are expected to log rather than abort, since a
// leftover key is harmless garbage, not corruption.
type KV interface {
	Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	Quota() Quota
}
