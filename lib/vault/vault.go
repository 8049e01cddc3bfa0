// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the ARX key hierarchy. A tenant root key
// (external, typically loaded from an age-sealed key file) derives a
// vault key, and the vault key derives one region key per sealed
// region. Every derivation is a one-way HKDF keyed by an explicit
// context, so keys are recomputable from their context and never
// persisted; compromise of a region key exposes exactly one region.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/arx-format/arx/lib/seal"
	"github.com/arx-format/arx/lib/secret"
)

// KeySize is the byte length of root, vault, and region keys.
const KeySize = 32

// HKDF info prefixes. Domain separation between derivation paths;
// changing any of these invalidates all archives keyed through it.
var (
	hkdfInfoVault  = []byte("arx.vault.v1")
	hkdfInfoRegion = []byte("arx.region.v1")
	hkdfInfoPublic = []byte("arx.public.v1")
)

// GenerateRootKey creates a fresh random tenant root key in guarded
// memory.
func GenerateRootKey() (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating root key: %w", err)
	}
	// NewFromBytes zeros the heap slice.
	return secret.NewFromBytes(key)
}

// Vault holds one vault key and answers region-key derivation
// requests. It implements seal.KeyProvider.
//
// Vault does not cache derived keys: HKDF-SHA256 runs in about a
// microsecond, negligible next to the AEAD and I/O work that follows
// every derivation.
type Vault struct {
	key *secret.Buffer
}

// Derive derives the vault key for a tenant from the root key and
// wraps it in a Vault. The root key is borrowed, not closed. The
// returned Vault owns its key; call Close when done.
func Derive(rootKey *secret.Buffer, tenant string) (*Vault, error) {
	if rootKey.Len() != KeySize {
		return nil, fmt.Errorf("root key must be %d bytes, got %d", KeySize, rootKey.Len())
	}

	info := make([]byte, 0, len(hkdfInfoVault)+len(tenant))
	info = append(info, hkdfInfoVault...)
	info = append(info, tenant...)

	key, err := deriveKey(rootKey.Bytes(), info)
	if err != nil {
		return nil, fmt.Errorf("deriving vault key for tenant %q: %w", tenant, err)
	}
	return &Vault{key: key}, nil
}

// New wraps an already-derived vault key. The buffer is owned by the
// Vault afterward; the caller must not use or close it.
func New(vaultKey *secret.Buffer) (*Vault, error) {
	if vaultKey.Len() != KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", KeySize, vaultKey.Len())
	}
	return &Vault{key: vaultKey}, nil
}

// RegionKey derives the key for one sealed region from the vault key
// and the region context tuple. Deterministic: the same context always
// yields the same key. The returned buffer must be closed by the
// caller.
func (v *Vault) RegionKey(ctx seal.RegionContext) (*secret.Buffer, error) {
	encoded := ctx.Encode()
	info := make([]byte, 0, len(hkdfInfoRegion)+len(encoded))
	info = append(info, hkdfInfoRegion...)
	info = append(info, encoded...)
	return deriveKey(v.key.Bytes(), info)
}

// PublicBytes derives non-secret, archive-visible values from the
// vault key: the deterministic-mode archive ID and nonce salt. The
// output is safe to store in plaintext (it is one-way from the vault
// key) but stable for a given (vault key, purpose) pair, which is what
// makes deterministic mode reproducible.
func (v *Vault) PublicBytes(purpose string, size int) ([]byte, error) {
	info := make([]byte, 0, len(hkdfInfoPublic)+len(purpose))
	info = append(info, hkdfInfoPublic...)
	info = append(info, purpose...)

	reader := hkdf.New(sha256.New, v.key.Bytes(), nil, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("HKDF derivation for %q failed: %w", purpose, err)
	}
	return out, nil
}

// Close zeros and releases the vault key. After Close, derivation
// methods panic via the buffer's closed check. Idempotent.
func (v *Vault) Close() error {
	return v.key.Close()
}

// deriveKey is the shared HKDF-SHA256 step. Salt is nil: the input
// key material is already uniformly random, so the extract phase with
// a zero salt is appropriate per RFC 5869.
func deriveKey(inputKeyMaterial, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}
