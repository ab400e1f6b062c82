// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// payloadEncoding wraps compressed bytes into the character space a
// JSON string value can carry: no NUL, no control bytes, transport
// safe on every tier.
var payloadEncoding = base64.StdEncoding

// Codec turns a document into a transport payload and back: JSON
// bytes, optional compression, base64 wrapping for the compressed
// form. It also performs quota-aware splitting (split.go).
//
// The configured algorithm applies when a write requests compression;
// reads honor whatever algorithm the meta record names, so a config
// change never strands previously written sets.
type Codec struct {
	algorithm Algorithm
	logger    *slog.Logger
}

// NewCodec returns a codec compressing with the given algorithm.
// AlgorithmNone disables compression regardless of what writes
// request.
func NewCodec(algorithm Algorithm, logger *slog.Logger) *Codec {
	return &Codec{algorithm: algorithm, logger: logger}
}

// Encoded is the transport form of one document.
type Encoded struct {
	// Payload is the string stored on the tier, inline or split
	// into chunks.
	Payload string

	// Compressed reports whether Payload is base64-wrapped
	// compressed bytes rather than raw JSON text. May be false even
	// when compression was requested: payloads that do not shrink
	// are stored raw.
	Compressed bool

	// Algorithm is the compression applied when Compressed is true.
	Algorithm Algorithm
}

// Encode serializes document into its transport payload. When
// compress is true and the codec has an algorithm configured, the
// payload is compressed unless the wrapped form would be no smaller
// than the raw JSON text.
func (c *Codec) Encode(document json.RawMessage, compress bool) (Encoded, error) {
	if !json.Valid(document) {
		return Encoded{}, fmt.Errorf("%w: document is not valid JSON", ErrDecodeFailure)
	}
	raw := string(document)

	if !compress || c.algorithm == AlgorithmNone {
		return Encoded{Payload: raw}, nil
	}

	payload, err := c.compressPayload(document)
	if errors.Is(err, errIncompressible) {
		return Encoded{Payload: raw}, nil
	}
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Payload: payload, Compressed: true, Algorithm: c.algorithm}, nil
}

// compressPayload compresses and base64-wraps document bytes,
// reporting errIncompressible when the wrapped form saves nothing.
func (c *Codec) compressPayload(document []byte) (string, error) {
	packed, err := compress(document, c.algorithm)
	if err != nil {
		return "", fmt.Errorf("compressing payload: %w", err)
	}
	if payloadEncoding.EncodedLen(len(packed)) >= len(document) {
		return "", errIncompressible
	}
	return payloadEncoding.EncodeToString(packed), nil
}

// Decode reverses Encode. The compressed flag and algorithm come from
// the meta record of the set being read. Failures wrap
// ErrDecodeFailure so callers can treat the tier as holding no usable
// data.
func Decode(payload string, compressed bool, algorithm Algorithm) (json.RawMessage, error) {
	if !compressed {
		document := json.RawMessage(payload)
		if !json.Valid(document) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrDecodeFailure)
		}
		return document, nil
	}

	packed, err := payloadEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecodeFailure, err)
	}
	document, err := decompress(packed, algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if !json.Valid(document) {
		return nil, fmt.Errorf("%w: decompressed payload is not valid JSON", ErrDecodeFailure)
	}
	return document, nil
}

// marshalNoEscape marshals v with minimal string escaping.
// encoding/json's default HTML-safe escaping would inflate '<', '>',
// and '&' to six bytes each and break the byte-budget estimate, so
// the HTML escaper is switched off; what is written is exactly what
// the estimator priced.
func marshalNoEscape(v any) (json.RawMessage, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return json.RawMessage(bytes.TrimSuffix(buffer.Bytes(), []byte("\n"))), nil
}

// encodeJSONString renders s as a JSON string value.
func encodeJSONString(s string) (json.RawMessage, error) {
	return marshalNoEscape(s)
}

// decodeJSONString parses a JSON string value.
func decodeJSONString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: chunk value is not a JSON string: %v", ErrDecodeFailure, err)
	}
	return s, nil
}
