// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides TabSync's standard CBOR encoding configuration.
//
// TabSync uses two serialization formats with a clear boundary:
//
//   - JSON for the document and everything tiers store: launcher
//     groups, chunk sets, meta records, timestamp siblings, CLI
//     output. The document's wire format is fixed by cross-session
//     compatibility and is always JSON.
//   - CBOR for the sync bookkeeping file: per-key fingerprints,
//     persist counters, and the reconciliation throttle guard. This
//     file is private to one installation and never crosses a tier.
//
// This package provides the shared CBOR modes so that state written by
// any part of the engine decodes identically everywhere. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. Same logical
// state always produces identical bytes, so an unchanged state
// rewrites to an identical file.
//
// For buffer-oriented operations (tokens, tests):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the state file):
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// Types persisted through this package use `cbor` struct tags; they
// never participate in JSON serialization, and the tag choice
// documents that.
package codec
