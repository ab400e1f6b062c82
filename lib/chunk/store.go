// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/li88iioo/tabsync/lib/bytebudget"
	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/tier"
)

// Store reads and writes whole documents through one tier's key-value
// contract, chunking them when the tier's per-item budget demands it.
//
// Writes never corrupt previously readable state: a new chunk set
// becomes reachable only through the meta publish, and the superseded
// set is deleted only afterward. Reads surface corruption as "no
// data" so reconciliation can fall through to another tier.
type Store struct {
	kv     tier.KV
	codec  *Codec
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore returns a store over kv. The codec's algorithm applies to
// writes that request compression.
func NewStore(kv tier.KV, codec *Codec, clk clock.Clock, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		codec:  codec,
		clock:  clk,
		logger: logger,
	}
}

// Write stores document under key, replacing whatever chunk set or
// inline record is there. The previous generation stays fully
// readable until the new meta record is published; on any chunk-write
// failure the new generation is rolled back and the previous one is
// untouched.
func (s *Store) Write(ctx context.Context, key string, document json.RawMessage, compress bool) error {
	previous := s.readMetaForCleanup(ctx, key)

	encoded, err := s.codec.Encode(document, compress)
	if err != nil {
		return fmt.Errorf("encoding document for %q: %w", key, err)
	}

	budget := s.kv.Quota().Budget()

	inlineRaw, err := EncodeMeta(InlineMeta{
		Data:       encoded.Payload,
		Compressed: encoded.Compressed,
		Algorithm:  encoded.Algorithm,
	})
	if err != nil {
		return fmt.Errorf("encoding inline record for %q: %w", key, err)
	}
	if budget == 0 || bytebudget.EstimateEncodedItemBytes(key, inlineRaw) <= budget {
		if err := s.kv.Set(ctx, key, inlineRaw); err != nil {
			return fmt.Errorf("publishing inline record for %q: %w", key, err)
		}
		s.deleteChunks(ctx, key, previous)
		return nil
	}

	revision, err := s.newRevision()
	if err != nil {
		return fmt.Errorf("minting revision for %q: %w", key, err)
	}
	chunks, err := s.codec.Split(encoded.Payload, budget, func(index int) string {
		return ChunkKey(key, revision, index)
	})
	if err != nil {
		return fmt.Errorf("splitting document for %q: %w", key, err)
	}

	if err := s.writeChunks(ctx, chunks); err != nil {
		s.rollbackChunks(ctx, chunks)
		return fmt.Errorf("writing chunk set for %q: %w", key, err)
	}

	metaRaw, err := EncodeMeta(ChunkedMeta{
		ChunkCount: len(chunks),
		Revision:   revision,
		Compressed: encoded.Compressed,
		Algorithm:  encoded.Algorithm,
	})
	if err != nil {
		s.rollbackChunks(ctx, chunks)
		return fmt.Errorf("encoding meta record for %q: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, metaRaw); err != nil {
		// The unpublished chunks are orphaned but unreachable; the
		// previous generation is still the one readers see.
		return fmt.Errorf("publishing meta record for %q: %w", key, err)
	}

	s.deleteChunks(ctx, key, previous)
	return nil
}

// Read returns the document stored under key, or (nil, nil) when the
// key was never written or its data is unusable. Missing chunks,
// decode failures, and tier read errors all count as unusable, with
// the detail logged. The error return is reserved for caller-side
// context cancellation.
func (s *Store) Read(ctx context.Context, key string) (json.RawMessage, error) {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("meta read failed, treating tier as empty",
			"key", key, "error", err)
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	meta, err := DecodeMeta(raw)
	if err != nil {
		s.logger.Warn("meta record unusable, treating tier as empty",
			"key", key, "error", err)
		return nil, nil
	}

	switch m := meta.(type) {
	case LegacyMeta:
		return m.Raw, nil

	case InlineMeta:
		document, err := Decode(m.Data, m.Compressed, m.Algorithm)
		if err != nil {
			s.logger.Warn("inline payload unusable, treating tier as empty",
				"key", key, "error", err)
			return nil, nil
		}
		return document, nil

	case ChunkedMeta:
		payload, err := s.readChunks(ctx, key, m)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("chunk set unusable, treating tier as empty",
				"key", key, "revision", m.Revision, "chunks", m.ChunkCount,
				"error", err)
			return nil, nil
		}
		document, err := Decode(payload, m.Compressed, m.Algorithm)
		if err != nil {
			s.logger.Warn("chunk payload unusable, treating tier as empty",
				"key", key, "revision", m.Revision, "error", err)
			return nil, nil
		}
		return document, nil

	default:
		return nil, nil
	}
}

// Clear removes the chunk set and meta record under key. Chunks go
// first, then the meta; a reader racing a clear sees a corrupt set,
// which it already treats as empty.
func (s *Store) Clear(ctx context.Context, key string) error {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading meta record for %q: %w", key, err)
	}
	if !found {
		return nil
	}

	var failures []error
	if meta, err := DecodeMeta(raw); err == nil {
		if m, ok := meta.(ChunkedMeta); ok {
			for index := 0; index < m.ChunkCount; index++ {
				chunkKey := ChunkKey(key, m.Revision, index)
				if err := s.kv.Remove(ctx, chunkKey); err != nil {
					failures = append(failures, fmt.Errorf("removing %q: %w", chunkKey, err))
				}
			}
		}
	}
	if err := s.kv.Remove(ctx, key); err != nil {
		failures = append(failures, fmt.Errorf("removing %q: %w", key, err))
	}
	return errors.Join(failures...)
}

// writeChunks stores all chunks concurrently. Chunks are inert until
// the meta publish references them, so order does not matter; the
// first error aborts the write.
func (s *Store) writeChunks(ctx context.Context, chunks []Chunk) error {
	var wg sync.WaitGroup
	failures := make([]error, len(chunks))
	for index, chunk := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := encodeJSONString(chunk.Value)
			if err != nil {
				failures[index] = err
				return
			}
			if err := s.kv.Set(ctx, chunk.Key, value); err != nil {
				failures[index] = fmt.Errorf("writing %q: %w", chunk.Key, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(failures...)
}

// readChunks fetches and reassembles a chunk set. Any missing or
// undecodable chunk fails the whole read; partial reassembly would
// silently corrupt the document.
func (s *Store) readChunks(ctx context.Context, key string, meta ChunkedMeta) (string, error) {
	values := make([]string, meta.ChunkCount)
	failures := make([]error, meta.ChunkCount)

	var wg sync.WaitGroup
	for index := 0; index < meta.ChunkCount; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunkKey := ChunkKey(key, meta.Revision, index)
			raw, found, err := s.kv.Get(ctx, chunkKey)
			if err != nil {
				failures[index] = fmt.Errorf("reading %q: %w", chunkKey, err)
				return
			}
			if !found {
				failures[index] = fmt.Errorf("%w: %q absent", ErrCorruptChunkSet, chunkKey)
				return
			}
			value, err := decodeJSONString(raw)
			if err != nil {
				failures[index] = fmt.Errorf("%w: %q: %v", ErrCorruptChunkSet, chunkKey, err)
				return
			}
			values[index] = value
		}()
	}
	wg.Wait()

	if err := errors.Join(failures...); err != nil {
		return "", err
	}
	return Join(values), nil
}

// rollbackChunks best-effort deletes chunks of a generation that will
// never be published.
func (s *Store) rollbackChunks(ctx context.Context, chunks []Chunk) {
	for _, chunk := range chunks {
		if err := s.kv.Remove(ctx, chunk.Key); err != nil {
			s.logger.Warn("rollback of unpublished chunk failed",
				"key", chunk.Key, "error", err)
		}
	}
}

// deleteChunks best-effort deletes the chunks referenced by a
// superseded meta record. Failures leave orphans, which are harmless:
// nothing references them and a later write sweeps what it can.
func (s *Store) deleteChunks(ctx context.Context, key string, meta Meta) {
	chunked, ok := meta.(ChunkedMeta)
	if !ok {
		return
	}
	for index := 0; index < chunked.ChunkCount; index++ {
		chunkKey := ChunkKey(key, chunked.Revision, index)
		if err := s.kv.Remove(ctx, chunkKey); err != nil {
			s.logger.Warn("superseded chunk not removed",
				"key", chunkKey, "error", err)
		}
	}
}

// readMetaForCleanup fetches the current meta record so a successful
// write can delete the generation it replaces. Any failure here just
// means less cleanup.
func (s *Store) readMetaForCleanup(ctx context.Context, key string) Meta {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil || !found {
		return nil
	}
	meta, err := DecodeMeta(raw)
	if err != nil {
		return nil
	}
	return meta
}

// newRevision mints an opaque revision token: wall-clock millis in
// base 36 plus a random suffix. Uniqueness across writers is all that
// matters; the time base just makes tokens sort usefully in debug
// output.
func (s *Store) newRevision() (string, error) {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	return strconv.FormatInt(s.clock.Now().UnixMilli(), 36) +
		hex.EncodeToString(suffix[:]), nil
}
