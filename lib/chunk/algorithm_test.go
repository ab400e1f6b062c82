// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"groups":[]}`),
		[]byte(strings.Repeat(`{"name":"tile","url":"https://example.com"},`, 500)),
		bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 1000),
		[]byte("新标签页 🚀 mixed unicode content"),
	}
	for _, algorithm := range []Algorithm{AlgorithmZstd, AlgorithmLZ4} {
		t.Run(algorithm.String(), func(t *testing.T) {
			for _, payload := range payloads {
				packed, err := compress(payload, algorithm)
				if err != nil {
					t.Fatalf("compress: %v", err)
				}
				unpacked, err := decompress(packed, algorithm)
				if err != nil {
					t.Fatalf("decompress: %v", err)
				}
				if !bytes.Equal(unpacked, payload) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(unpacked), len(payload))
				}
			}
		})
	}
}

func TestCompressShrinksRepetitiveJSON(t *testing.T) {
	payload := []byte(strings.Repeat(`{"id":"x","name":"tile","url":"https://example.com/page"},`, 200))
	for _, algorithm := range []Algorithm{AlgorithmZstd, AlgorithmLZ4} {
		packed, err := compress(payload, algorithm)
		if err != nil {
			t.Fatalf("%s: %v", algorithm, err)
		}
		if len(packed) >= len(payload) {
			t.Errorf("%s did not shrink %d-byte repetitive payload (got %d)",
				algorithm, len(payload), len(packed))
		}
	}
}

func TestCompressRejectsNone(t *testing.T) {
	if _, err := compress([]byte("x"), AlgorithmNone); err == nil {
		t.Error("compress(AlgorithmNone) should fail, callers skip compression instead")
	}
	if _, err := decompress([]byte("x"), Algorithm(99)); err == nil {
		t.Error("decompress of unknown algorithm should fail")
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmZstd, AlgorithmLZ4} {
		if _, err := decompress([]byte("definitely not a frame"), algorithm); err == nil {
			t.Errorf("%s accepted garbage input", algorithm)
		}
	}
}

func TestAlgorithmNames(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		name      string
	}{
		{AlgorithmNone, "none"},
		{AlgorithmZstd, "zstd"},
		{AlgorithmLZ4, "lz4"},
	}
	for _, tt := range tests {
		if got := tt.algorithm.String(); got != tt.name {
			t.Errorf("%d.String() = %q, want %q", tt.algorithm, got, tt.name)
		}
		parsed, err := ParseAlgorithm(tt.name)
		if err != nil || parsed != tt.algorithm {
			t.Errorf("ParseAlgorithm(%q) = %v, %v, want %v", tt.name, parsed, err, tt.algorithm)
		}
	}

	if Algorithm(99).String() != "unknown(99)" {
		t.Errorf("unknown algorithm String() = %q", Algorithm(99).String())
	}
	if _, err := ParseAlgorithm("brotli"); err == nil {
		t.Error("ParseAlgorithm accepted an unknown name")
	}
}
