// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal encrypts and authenticates archive regions. Every
// manifest, chunk table, and data segment is one sealed region:
// XChaCha20-Poly1305 under a key derived for exactly that region, with
// the region's identity bound into the additional authenticated data.
// Moving, truncating, or re-labeling a region therefore fails
// authentication, not just decryption.
//
// Nonces are derived deterministically from the region context and a
// sequence counter, keyed by a per-archive nonce salt. No two regions
// share a key (the context tuple is part of key derivation), and no
// two plaintexts under one key share a nonce (the sequence counter is
// part of nonce derivation), so determinism costs nothing — and it is
// what makes deterministic-mode archives byte-reproducible.
//
// Uniqueness rests on the nonce salt being unique per archive. Normal
// archives draw it from the system randomness source; deterministic
// archives derive it from the vault key, so every deterministic
// archive under one vault key shares the same salt and the same region
// keys. Two deterministic archives with DIFFERENT content under one
// vault key would therefore seal different plaintexts under repeated
// (key, nonce) pairs, voiding the AEAD's guarantees. Deterministic
// mode is safe for one archive lineage per vault key; separate
// deterministic archives belong in separate tenants.
package seal

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/arx-format/arx/lib/secret"
)

// KeySize is the size of all symmetric keys in the hierarchy: vault
// keys and derived region keys.
const KeySize = 32

// Overhead is the ciphertext expansion per sealed region: the
// Poly1305 tag. The nonce is derived, not stored.
const Overhead = chacha20poly1305.Overhead

// contextVersion is bound into both key derivation and the AAD.
// Bumping it invalidates every existing region seal.
var contextVersion = []byte("arx.region.v1")

// RegionKind labels what a sealed region holds. The kind participates
// in key derivation and authentication, so a chunk table can never be
// opened as a manifest even under the same generation and index.
type RegionKind uint8

const (
	KindManifest   RegionKind = 1
	KindChunkTable RegionKind = 2
	KindData       RegionKind = 3
)

// String returns the kind's name for error messages.
func (k RegionKind) String() string {
	switch k {
	case KindManifest:
		return "manifest"
	case KindChunkTable:
		return "chunktable"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// RegionContext is the tuple that uniquely identifies one sealed
// region within one archive. It is the derivation context for the
// region key and part of the AAD, and it can always be reconstructed
// from the surrounding format (tail summary and region headers), so
// keys never need to be persisted.
type RegionContext struct {
	ArchiveID  [16]byte
	Kind       RegionKind
	Generation uint64
	Index      uint32
}

// Encode returns the fixed 29-byte encoding of the context:
// archiveID(16) || kind(1) || generation(8 LE) || index(4 LE).
func (c RegionContext) Encode() []byte {
	buf := make([]byte, 0, 29)
	buf = append(buf, c.ArchiveID[:]...)
	buf = append(buf, byte(c.Kind))
	buf = appendUint64(buf, c.Generation)
	buf = appendUint32(buf, c.Index)
	return buf
}

// String formats the context for error messages and logs.
func (c RegionContext) String() string {
	return fmt.Sprintf("%s/gen%d/%d", c.Kind, c.Generation, c.Index)
}

// AuthError reports an AEAD authentication failure on open: the
// region was tampered with, corrupted, or the key material is wrong.
// There is no partial or best-effort decryption — a failed tag means
// the bytes must not be trusted for further parsing.
type AuthError struct {
	Region RegionContext
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for region %s (tampered, corrupted, or wrong key)", e.Region)
}

// KeyProvider supplies the key for a region. The archive engine never
// sees the vault key itself — it asks the provider for region keys as
// it seals and opens regions. Implementations must be deterministic:
// the same context always yields the same key.
//
// The returned buffer is owned by the caller and closed after use.
type KeyProvider interface {
	RegionKey(ctx RegionContext) (*secret.Buffer, error)
}

// Sealer seals and opens regions using keys from a provider and
// nonces derived from the archive's nonce salt.
type Sealer struct {
	keys      KeyProvider
	nonceSalt [32]byte
}

// New creates a sealer. The nonce salt is a per-archive value stored
// in the superblock; it keys nonce derivation so that two archives
// sharing a vault key still never reuse a (key, nonce) pair.
func New(keys KeyProvider, nonceSalt [32]byte) *Sealer {
	return &Sealer{keys: keys, nonceSalt: nonceSalt}
}

// Seal encrypts plaintext as the region identified by ctx. The
// sequence counter distinguishes multiple seals within one region
// context; single-shot regions pass 0. Output is ciphertext||tag,
// exactly len(plaintext)+Overhead bytes.
func (s *Sealer) Seal(ctx RegionContext, sequence uint64, plaintext []byte) ([]byte, error) {
	aead, key, err := s.cipher(ctx)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	nonce := s.deriveNonce(ctx, sequence)
	return aead.Seal(nil, nonce[:], plaintext, s.aad(ctx, sequence)), nil
}

// Open authenticates and decrypts a region sealed by Seal with the
// same context and sequence. Returns *AuthError on tag mismatch.
func (s *Sealer) Open(ctx RegionContext, sequence uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, &AuthError{Region: ctx}
	}

	aead, key, err := s.cipher(ctx)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	nonce := s.deriveNonce(ctx, sequence)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, s.aad(ctx, sequence))
	if err != nil {
		return nil, &AuthError{Region: ctx}
	}
	return plaintext, nil
}

// cipher fetches the region key and constructs the AEAD. The caller
// must close the returned key buffer.
func (s *Sealer) cipher(ctx RegionContext) (cipher.AEAD, *secret.Buffer, error) {
	key, err := s.keys.RegionKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving key for region %s: %w", ctx, err)
	}
	if key.Len() != KeySize {
		key.Close()
		return nil, nil, fmt.Errorf("region key for %s is %d bytes, want %d", ctx, key.Len(), KeySize)
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		key.Close()
		return nil, nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, key, nil
}

// deriveNonce computes the 24-byte XChaCha20 nonce for (context,
// sequence): BLAKE3 keyed by the nonce salt over the context encoding
// and the sequence counter, truncated to nonce size.
func (s *Sealer) deriveNonce(ctx RegionContext, sequence uint64) [chacha20poly1305.NonceSizeX]byte {
	hasher, err := blake3.NewKeyed(s.nonceSalt[:])
	if err != nil {
		panic("seal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(contextVersion)
	hasher.Write(ctx.Encode())
	hasher.Write(appendUint64(nil, sequence))

	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:], hasher.Sum(nil))
	return nonce
}

// aad builds the additional authenticated data: format version, the
// region context, and the sequence counter. Binding the full context
// means a ciphertext relocated to a different region, generation, or
// slot fails authentication.
func (s *Sealer) aad(ctx RegionContext, sequence uint64) []byte {
	aad := make([]byte, 0, len(contextVersion)+29+8)
	aad = append(aad, contextVersion...)
	aad = append(aad, ctx.Encode()...)
	aad = appendUint64(aad, sequence)
	return aad
}

func appendUint64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func appendUint32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}
