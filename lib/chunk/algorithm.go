// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies the compression applied to a payload before
// transport encoding. The zero value means no compression. Wire names
// are stored in meta records; changing them breaks cross-session
// compatibility.
type Algorithm uint8

const (
	// AlgorithmNone stores the serialized document as-is.
	AlgorithmNone Algorithm = 0

	// AlgorithmZstd compresses with zstd at the default level.
	// Best ratio for JSON text; the default for compressed sets.
	AlgorithmZstd Algorithm = 1

	// AlgorithmLZ4 compresses with LZ4 frames. Lower ratio than
	// zstd but cheaper on write-heavy paths.
	AlgorithmLZ4 Algorithm = 2
)

// String returns the wire name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses a wire name back into an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return AlgorithmNone, nil
	case "zstd":
		return AlgorithmZstd, nil
	case "lz4":
		return AlgorithmLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("chunk: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunk: zstd decoder initialization failed: " + err.Error())
	}
}

// compress runs data through the algorithm. The output is
// self-describing (frame formats), so decompression needs no recorded
// size.
func compress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmZstd:
		return zstdEncoder.EncodeAll(data, nil), nil

	case AlgorithmLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}
}

// decompress reverses compress.
func decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmZstd:
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return result, nil

	case AlgorithmLZ4:
		reader := lz4.NewReader(bytes.NewReader(data))
		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}
}

// errIncompressible is returned internally when the transport-encoded
// compressed form is not smaller than the raw serialized document.
// The encoder falls back to storing uncompressed.
var errIncompressible = errors.New("chunk: payload is incompressible")
