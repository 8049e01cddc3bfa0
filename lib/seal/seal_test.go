// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/arx-format/arx/lib/secret"
)

// testProvider derives region keys by XORing a fixed base key with the
// context encoding. Deterministic and distinct per context, which is
// all the sealer requires.
type testProvider struct{}

func (testProvider) RegionKey(ctx RegionContext) (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(0x42 + i)
	}
	for i, b := range ctx.Encode() {
		key[i%KeySize] ^= b
	}
	return secret.NewFromBytes(key)
}

func testContext() RegionContext {
	var id [16]byte
	copy(id[:], "test-archive-id!")
	return RegionContext{
		ArchiveID:  id,
		Kind:       KindData,
		Generation: 3,
		Index:      7,
	}
}

func testSealer() *Sealer {
	var salt [32]byte
	copy(salt[:], "nonce salt for sealer tests.....")
	return New(testProvider{}, salt)
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	sealed, err := sealer.Seal(ctx, 0, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(plaintext)+Overhead {
		t.Errorf("sealed length = %d, want %d", len(sealed), len(plaintext)+Overhead)
	}

	opened, err := sealer.Open(ctx, 0, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("opened plaintext does not match original")
	}
}

func TestSealIsDeterministic(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()
	plaintext := []byte("reproducible region contents")

	first, err := sealer.Seal(ctx, 5, plaintext)
	if err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	second, err := sealer.Seal(ctx, 5, plaintext)
	if err != nil {
		t.Fatalf("second Seal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same context, sequence, and plaintext produced different ciphertexts")
	}
}

func TestSequenceChangesCiphertext(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()
	plaintext := []byte("same bytes, different slot")

	seq0, err := sealer.Seal(ctx, 0, plaintext)
	if err != nil {
		t.Fatalf("Seal seq 0: %v", err)
	}
	seq1, err := sealer.Seal(ctx, 1, plaintext)
	if err != nil {
		t.Fatalf("Seal seq 1: %v", err)
	}
	if bytes.Equal(seq0, seq1) {
		t.Error("different sequences produced identical ciphertexts")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()

	sealed, err := sealer.Seal(ctx, 0, []byte("integrity matters"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip one bit in the middle of the ciphertext.
	tampered := bytes.Clone(sealed)
	tampered[len(tampered)/2] ^= 0x01

	_, err = sealer.Open(ctx, 0, tampered)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Open of tampered region returned %v, want *AuthError", err)
	}
	if authErr.Region != ctx {
		t.Errorf("AuthError region = %v, want %v", authErr.Region, ctx)
	}
}

func TestOpenRejectsWrongContext(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()

	sealed, err := sealer.Seal(ctx, 0, []byte("bound to one region"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RegionContext)
	}{
		{"kind", func(c *RegionContext) { c.Kind = KindManifest }},
		{"generation", func(c *RegionContext) { c.Generation++ }},
		{"index", func(c *RegionContext) { c.Index++ }},
		{"archive", func(c *RegionContext) { c.ArchiveID[0] ^= 0xFF }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrong := ctx
			tc.mutate(&wrong)
			_, err := sealer.Open(wrong, 0, sealed)
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Errorf("Open with mutated %s returned %v, want *AuthError", tc.name, err)
			}
		})
	}
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()

	sealed, err := sealer.Seal(ctx, 2, []byte("slot two"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := sealer.Open(ctx, 3, sealed); err == nil {
		t.Error("Open with wrong sequence succeeded")
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	sealer := testSealer()
	_, err := sealer.Open(testContext(), 0, make([]byte, Overhead-1))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("Open of short ciphertext returned %v, want *AuthError", err)
	}
}

func TestNonceSaltChangesCiphertext(t *testing.T) {
	ctx := testContext()
	plaintext := []byte("salted differently")

	var saltA, saltB [32]byte
	saltA[0] = 1
	saltB[0] = 2

	sealedA, err := New(testProvider{}, saltA).Seal(ctx, 0, plaintext)
	if err != nil {
		t.Fatalf("Seal with salt A: %v", err)
	}
	sealedB, err := New(testProvider{}, saltB).Seal(ctx, 0, plaintext)
	if err != nil {
		t.Fatalf("Seal with salt B: %v", err)
	}
	if bytes.Equal(sealedA, sealedB) {
		t.Error("different nonce salts produced identical ciphertexts")
	}
}

func TestRegionContextEncode(t *testing.T) {
	ctx := testContext()
	encoded := ctx.Encode()
	if len(encoded) != 29 {
		t.Fatalf("encoded length = %d, want 29", len(encoded))
	}
	if !bytes.Equal(encoded[:16], ctx.ArchiveID[:]) {
		t.Error("archive ID not at encoding start")
	}
	if encoded[16] != byte(KindData) {
		t.Errorf("kind byte = %d, want %d", encoded[16], KindData)
	}
}

func TestSealEmptyPlaintext(t *testing.T) {
	sealer := testSealer()
	ctx := testContext()

	sealed, err := sealer.Seal(ctx, 0, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != Overhead {
		t.Errorf("sealed empty region length = %d, want %d", len(sealed), Overhead)
	}
	opened, err := sealer.Open(ctx, 0, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(opened) != 0 {
		t.Errorf("opened length = %d, want 0", len(opened))
	}
}
