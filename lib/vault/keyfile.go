// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/arx-format/arx/lib/secret"
)

// Root key files are age ciphertexts sealed to a passphrase (scrypt
// recipient). The file holds exactly KeySize bytes of plaintext; age
// handles the KDF parameters, framing, and authentication.

// SaveRootKey writes the root key to path, sealed to the passphrase.
// The file is created with 0600 permissions and written atomically
// (temp file + rename). The root key and passphrase are borrowed, not
// closed.
func SaveRootKey(path string, rootKey *secret.Buffer, passphrase *secret.Buffer) error {
	if rootKey.Len() != KeySize {
		return fmt.Errorf("root key must be %d bytes, got %d", KeySize, rootKey.Len())
	}

	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return fmt.Errorf("preparing passphrase recipient: %w", err)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(rootKey.Bytes()); err != nil {
		return fmt.Errorf("sealing root key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing root key seal: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "arx-key-*")
	if err != nil {
		return fmt.Errorf("creating temp key file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("restricting key file permissions: %w", err)
	}
	if _, err := tmpFile.Write(sealed.Bytes()); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming key file to %s: %w", path, err)
	}

	success = true
	return nil
}

// LoadRootKey opens an age-sealed root key file with the passphrase.
// The passphrase is borrowed, not closed. The returned buffer must be
// closed by the caller.
func LoadRootKey(path string, passphrase *secret.Buffer) (*secret.Buffer, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("preparing passphrase identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing key file %s (wrong passphrase or corrupted file): %w", path, err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed root key: %w", err)
	}
	if len(plaintext) != KeySize {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(plaintext), KeySize)
	}

	// NewFromBytes zeros the heap copy.
	return secret.NewFromBytes(plaintext)
}
