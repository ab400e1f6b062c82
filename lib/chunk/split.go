// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/li88iioo/tabsync/lib/bytebudget"
)

// Chunk is one quota-sized piece of a payload, paired with the
// derived key it is stored under.
type Chunk struct {
	Key   string
	Value string
}

// Split cuts payload at code-point boundaries so that every produced
// (key, value) pair's billed size stays within maxItemBytes. keyFor
// derives the storage key for a chunk index; its length counts
// against that chunk's budget.
//
// The cut points are found with an exponential probe followed by a
// binary search over precomputed per-code-point costs, keeping the
// whole split near O(n log n) where a grow-by-one scan would be
// O(n²) on documents in the tens-of-kilobytes range.
func (c *Codec) Split(payload string, maxItemBytes int, keyFor func(index int) string) ([]Chunk, error) {
	if payload == "" {
		return nil, nil
	}

	// boundaries[i] is the byte offset of the i-th code point;
	// costPrefix[i] is the billed cost of the first i code points
	// encoded as JSON string content.
	runeCount := 0
	for range payload {
		runeCount++
	}
	boundaries := make([]int, runeCount+1)
	costPrefix := make([]int, runeCount+1)
	index := 0
	for offset, r := range payload {
		boundaries[index] = offset
		costPrefix[index+1] = costPrefix[index] + bytebudget.RuneBytes(r)
		index++
	}
	boundaries[runeCount] = len(payload)

	var chunks []Chunk
	start := 0
	for start < runeCount {
		key := keyFor(len(chunks))
		// Two bytes for the value's surrounding quotes.
		budget := maxItemBytes - bytebudget.ByteLength(key) - 2
		fits := func(end int) bool {
			return costPrefix[end]-costPrefix[start] <= budget
		}

		if budget <= 0 || !fits(start+1) {
			return nil, fmt.Errorf("%w: code point at byte %d plus key %q exceeds %d bytes",
				ErrQuotaViolation, boundaries[start], key, maxItemBytes)
		}

		// Exponential probe for the bracket containing the farthest
		// fitting boundary.
		step := 1
		for start+step <= runeCount && fits(start+step) {
			step *= 2
		}
		low := start + step/2 // known to fit
		high := start + step  // known not to fit, or past the end
		if high > runeCount {
			high = runeCount
			if fits(high) {
				low = high
			}
		}

		// Largest end in (low, high] that still fits.
		end := low + sort.Search(high-low, func(k int) bool {
			return !fits(low + 1 + k)
		})

		chunks = append(chunks, Chunk{
			Key:   key,
			Value: payload[boundaries[start]:boundaries[end]],
		})
		start = end
	}

	for _, produced := range chunks {
		if bytebudget.EstimateItemBytes(produced.Key, produced.Value) > maxItemBytes {
			c.logger.Warn("byte-aware split produced an oversized chunk, using fixed-length fallback",
				"key", produced.Key,
				"max_item_bytes", maxItemBytes)
			return c.fallbackSplit(payload, boundaries, maxItemBytes, keyFor), nil
		}
	}
	return chunks, nil
}

// fallbackSplit slices the payload into fixed code-point counts. It
// trades exact budget enforcement for guaranteed progress; six bytes
// is the largest billed cost of a single code point, so the count is
// conservative for any realistic key length.
func (c *Codec) fallbackSplit(payload string, boundaries []int, maxItemBytes int, keyFor func(index int) string) []Chunk {
	runeCount := len(boundaries) - 1
	perChunk := maxItemBytes / 6
	if perChunk < 1 {
		perChunk = 1
	}

	var chunks []Chunk
	for start := 0; start < runeCount; start += perChunk {
		end := start + perChunk
		if end > runeCount {
			end = runeCount
		}
		chunks = append(chunks, Chunk{
			Key:   keyFor(len(chunks)),
			Value: payload[boundaries[start]:boundaries[end]],
		})
	}
	return chunks
}

// Join reassembles chunk values in index order. The inverse of Split:
// Join of a split payload is byte-identical to the original.
func Join(values []string) string {
	return strings.Join(values, "")
}
