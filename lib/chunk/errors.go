// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import "errors"

// ErrQuotaViolation reports that a chunk cannot be made to fit the
// tier's per-item budget: a single code point plus key overhead
// exceeds it. This is a configuration error (quota too small or key
// too long), fatal for the write; no tier state is modified.
var ErrQuotaViolation = errors.New("chunk: item cannot fit per-item byte budget")

// ErrCorruptChunkSet reports a chunk set whose meta references chunks
// that are missing or unreadable. Read does not return it (corruption
// surfaces as "no data") but logged errors wrap it so operators can
// classify failures.
var ErrCorruptChunkSet = errors.New("chunk: chunk set is missing referenced chunks")

// ErrDecodeFailure reports a payload that failed decompression or
// JSON validation. Treated exactly like ErrCorruptChunkSet by
// readers.
var ErrDecodeFailure = errors.New("chunk: payload decode failed")
