// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Meta describes what a tier holds under a logical key: the document
// inline, a reference to a chunk set, or a raw legacy value predating
// the meta format. Exactly one of InlineMeta, ChunkedMeta, and
// LegacyMeta implements it; decode once at the tier boundary via
// DecodeMeta and type-switch at use.
type Meta interface {
	isMeta()
}

// InlineMeta holds the whole payload in the meta record itself, used
// whenever the document fits the tier's per-item budget.
type InlineMeta struct {
	Data       string
	Compressed bool
	Algorithm  Algorithm
}

// ChunkedMeta references a chunk set: ChunkCount chunks stored under
// keys derived from the base key and Revision. An empty Revision
// means the set predates revision tokens and uses the unrevisioned
// key form.
type ChunkedMeta struct {
	ChunkCount int
	Revision   string
	Compressed bool
	Algorithm  Algorithm
}

// LegacyMeta is a value written before the meta format existed: raw
// document JSON stored directly under the key. Returned to readers
// as-is.
type LegacyMeta struct {
	Raw json.RawMessage
}

func (InlineMeta) isMeta()  {}
func (ChunkedMeta) isMeta() {}
func (LegacyMeta) isMeta()  {}

// metaWire is the stored shape of meta records. The __chunked and
// __compressed markers double as the format discriminator: a value
// without either key is legacy raw data. Field names are wire
// constants shared across sessions and implementations.
type metaWire struct {
	Chunked    *bool   `json:"__chunked,omitempty"`
	Compressed *bool   `json:"__compressed,omitempty"`
	ChunkCount *int    `json:"__chunkCount,omitempty"`
	Revision   *string `json:"__rev,omitempty"`
	Algorithm  *string `json:"__algo,omitempty"`
	Data       *string `json:"data,omitempty"`
}

// DecodeMeta classifies a stored value. Values that do not carry the
// meta markers (arrays, scalars, foreign objects) decode as
// LegacyMeta. Marked values with an impossible shape (chunked with no
// count, inline with no data) are errors: the marker says the format
// is ours, so a missing field is corruption, not another format.
func DecodeMeta(raw json.RawMessage) (Meta, error) {
	var wire metaWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return LegacyMeta{Raw: raw}, nil
	}
	if wire.Chunked == nil && wire.Compressed == nil {
		return LegacyMeta{Raw: raw}, nil
	}

	compressed := wire.Compressed != nil && *wire.Compressed
	algorithm := AlgorithmNone
	if compressed {
		algorithm = AlgorithmZstd
		if wire.Algorithm != nil {
			parsed, err := ParseAlgorithm(*wire.Algorithm)
			if err != nil {
				return nil, fmt.Errorf("meta record: %w", err)
			}
			algorithm = parsed
		}
	}

	if wire.Chunked == nil || !*wire.Chunked {
		if wire.Data == nil {
			return nil, fmt.Errorf("meta record: inline form carries no data field")
		}
		return InlineMeta{
			Data:       *wire.Data,
			Compressed: compressed,
			Algorithm:  algorithm,
		}, nil
	}

	if wire.ChunkCount == nil || *wire.ChunkCount < 0 {
		return nil, fmt.Errorf("meta record: chunked form carries no usable chunk count")
	}
	revision := ""
	if wire.Revision != nil {
		revision = *wire.Revision
	}
	return ChunkedMeta{
		ChunkCount: *wire.ChunkCount,
		Revision:   revision,
		Compressed: compressed,
		Algorithm:  algorithm,
	}, nil
}

// EncodeMeta serializes a meta record into its stored shape. The
// algorithm name is written only when it differs from the implied
// default (zstd when compressed), keeping records readable by
// implementations that predate the field.
func EncodeMeta(meta Meta) (json.RawMessage, error) {
	boolPtr := func(b bool) *bool { return &b }

	switch m := meta.(type) {
	case InlineMeta:
		wire := metaWire{
			Chunked:    boolPtr(false),
			Compressed: boolPtr(m.Compressed),
			Data:       &m.Data,
		}
		if m.Compressed && m.Algorithm != AlgorithmZstd {
			name := m.Algorithm.String()
			wire.Algorithm = &name
		}
		return marshalNoEscape(wire)

	case ChunkedMeta:
		wire := metaWire{
			Chunked:    boolPtr(true),
			Compressed: boolPtr(m.Compressed),
			ChunkCount: &m.ChunkCount,
		}
		if m.Revision != "" {
			wire.Revision = &m.Revision
		}
		if m.Compressed && m.Algorithm != AlgorithmZstd {
			name := m.Algorithm.String()
			wire.Algorithm = &name
		}
		return marshalNoEscape(wire)

	case LegacyMeta:
		return m.Raw, nil

	default:
		return nil, fmt.Errorf("unknown meta type %T", meta)
	}
}

// ChunkKey derives the storage key for one chunk of the set under
// baseKey. Revisioned sets use "{base}_chunk_{revision}_{index}";
// sets written before revision tokens use "{base}_chunk_{index}".
// Both forms must stay readable for cross-session compatibility.
func ChunkKey(baseKey, revision string, index int) string {
	if revision == "" {
		return baseKey + "_chunk_" + strconv.Itoa(index)
	}
	return baseKey + "_chunk_" + revision + "_" + strconv.Itoa(index)
}
