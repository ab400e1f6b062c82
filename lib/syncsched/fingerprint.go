// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package syncsched

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// fingerprintKey is the 32-byte key for BLAKE3 keyed fingerprints.
// Domain separation keeps document fingerprints from colliding with
// any other hash of the same bytes. The value is the ASCII domain
// name zero-padded to 32 bytes, so it reads cleanly in hex dumps.
// Changing it invalidates every recorded fingerprint.
var fingerprintKey = [32]byte{
	't', 'a', 'b', 's', 'y', 'n', 'c', '.',
	'd', 'o', 'c', 'u', 'm', 'e', 'n', 't', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
	0, 0, 0, 0,
}

// Fingerprint returns the hex-encoded BLAKE3 keyed hash of a
// document's canonical bytes. Two documents have equal fingerprints
// exactly when their serialized bytes are equal; the scheduler uses
// this to drop mutations that change nothing.
func Fingerprint(document []byte) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		// NewKeyed fails only for a key that is not 32 bytes, which
		// the array type rules out.
		panic("syncsched: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(document)
	return hex.EncodeToString(hasher.Sum(nil))
}
