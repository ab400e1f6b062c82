// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package bytebudget measures the encoded-byte cost of key-value items
// as a storage tier bills them.
//
// Quotas on constrained tiers are enforced server-side in encoded
// bytes, not character counts. A client that estimates in characters
// undercounts multi-byte text by 2-3x and intermittently fails large
// non-ASCII payloads. All estimates here are exact for UTF-8 input and
// include the JSON envelope overhead a tier adds when it persists a
// string value.
package bytebudget

import "unicode/utf8"

// ByteLength returns the UTF-8 encoded length of s. Go strings are
// UTF-8 byte sequences, so this is exact, never an estimate.
func ByteLength(s string) int { return len(s) }

// RuneBytes returns the encoded cost of one code point inside a JSON
// string literal: escape sequences for the characters JSON requires
// escaped, raw UTF-8 bytes for everything else. This matches the
// minimal escaping produced by the tiers' native JSON serializers.
func RuneBytes(r rune) int {
	switch r {
	case '"', '\\', '\b', '\f', '\n', '\r', '\t':
		return 2
	}
	if r < 0x20 {
		return 6 // \u00XX
	}
	return utf8.RuneLen(r)
}

// StringBytes returns the encoded length of s as a JSON string
// literal, including the surrounding quotes.
func StringBytes(s string) int {
	n := 2
	for _, r := range s {
		n += RuneBytes(r)
	}
	return n
}

// EstimateItemBytes approximates what a tier bills for one stored
// item whose value is the plain string value: the key's bytes plus the
// value's JSON string-literal encoding. This is the budget check used
// for every chunk the splitter produces.
func EstimateItemBytes(key, value string) int {
	return ByteLength(key) + StringBytes(value)
}

// EstimateEncodedItemBytes approximates the billed size of an item
// whose value has already been JSON-encoded (an object record rather
// than a bare string).
func EstimateEncodedItemBytes(key string, encoded []byte) int {
	return ByteLength(key) + len(encoded)
}
