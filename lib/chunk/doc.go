// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk stores one JSON document under one logical key of a
// size-constrained tier by serializing, optionally compressing, and
// splitting it into quota-sized string chunks.
//
// A stored document is a chunk set: a meta record under the base key
// and zero or more chunk records under derived keys. Every write
// replaces the whole set under a fresh revision token (chunks first,
// then the meta publish, then best-effort deletion of the superseded
// revision's chunks) so a reader always sees a complete set, never a
// mix of generations.
//
// Splitting respects two hard rules: every chunk's billed size (key
// bytes plus JSON string-literal encoding of the value) stays within
// the tier's per-item budget, and no chunk boundary falls inside a
// multi-byte code point. Reads of a set with missing or undecodable
// pieces report "no data" rather than failing, so reconciliation can
// fall through to another tier.
package chunk
