// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest provides content addressing for ARX archives. Every
// chunk of archive content is identified by a 32-byte BLAKE3 keyed
// hash of its uncompressed bytes; equal digests mean equal content
// within an archive's deduplication domain.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the byte length of all ARX digests.
const Size = 32

// Digest is a 32-byte BLAKE3 keyed hash. All content addresses in an
// archive (chunk digests, integrity checksums) are this size.
type Digest [Size]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different digests in
// different contexts, so a chunk digest can never collide with a
// checksum computed over the same bytes.
type domainKey [32]byte

// Domain separation keys. These are format constants — changing them
// invalidates every digest in that domain. The byte values are the
// ASCII encoding of the domain name, zero-padded to 32 bytes, which
// keeps the keys inspectable in hex dumps without weakening BLAKE3's
// keyed mode (the key is an opaque 32-byte value either way).
var (
	chunkDomainKey = domainKey{
		'a', 'r', 'x', '.', 'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	checksumDomainKey = domainKey{
		'a', 'r', 'x', '.', 'c', 'h', 'e', 'c', 'k', 's', 'u', 'm', 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Chunk computes the chunk-domain digest of the given data. This is
// the digest stored in chunk tables and used for deduplication. Chunk
// digests are always computed on uncompressed bytes so dedup works
// across codec changes.
func Chunk(data []byte) Digest {
	return keyedHash(chunkDomainKey, data)
}

// Checksum computes the checksum-domain digest of the given data.
// Used for the plaintext integrity fields of the superblock and tail
// summary, which must be verifiable before any key material is
// available.
func Checksum(data []byte) Digest {
	return keyedHash(checksumDomainKey, data)
}

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Digest {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed fails only for keys that are not 32 bytes, which
		// the domainKey type rules out.
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)

	var result Digest
	copy(result[:], hasher.Sum(nil))
	return result
}

// String returns the digest as 64 lowercase hex characters.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters of the digest, for log
// lines and error messages where the full digest is noise.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}

// IsZero reports whether the digest is all zero bytes. The zero digest
// is never a valid content address (BLAKE3 output is never controlled
// to be zero) and is used as a "no digest" marker in a few places.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a 64-hex-character string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", Size*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest hex: %w", err)
	}
	copy(d[:], raw)
	return d, nil
}
