// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/archive"
	"github.com/arx-format/arx/lib/config"
	"github.com/arx-format/arx/lib/secret"
	"github.com/arx-format/arx/lib/vault"
)

// session carries the configuration and logger shared by command
// implementations.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
}

// newSession loads configuration from the --config path, the
// ARX_CONFIG environment variable, or defaults, in that order.
func newSession(configPath string) (*session, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: cli.NewLogger()}, nil
}

// openVault loads the root key file and derives the tenant's vault.
// The caller must Close the vault.
func (s *session) openVault() (*vault.Vault, error) {
	passphrase, err := readPassphrase("Passphrase for "+s.cfg.KeyFile+": ", false)
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()

	rootKey, err := vault.LoadRootKey(s.cfg.KeyFile, passphrase)
	if err != nil {
		return nil, err
	}
	defer rootKey.Close()

	return vault.Derive(rootKey, s.cfg.Tenant)
}

// options maps the configuration to archive options.
func (s *session) options() archive.Options {
	return archive.Options{
		Chunker:       s.cfg.ChunkParams(),
		Codec:         s.cfg.Codec.Primary,
		MinGain:       s.cfg.Codec.MinGain,
		SegmentTarget: s.cfg.Writer.SegmentTarget,
		Workers:       s.cfg.Writer.Workers,
		Deterministic: s.cfg.Writer.Deterministic,
		Policy:        s.cfg.Policy,
		Logger:        s.logger,
	}
}

// openForUpdate opens an existing archive for mutation with the
// session's vault. The returned cleanup closes the writer and the
// vault, in that order.
func openForUpdate(path, configPath string) (*archive.Writer, func(), error) {
	session, err := newSession(configPath)
	if err != nil {
		return nil, nil, err
	}
	keys, err := session.openVault()
	if err != nil {
		return nil, nil, err
	}

	writer, err := archive.OpenWriter(path, keys, session.options())
	if err != nil {
		keys.Close()
		return nil, nil, err
	}
	cleanup := func() {
		writer.Close()
		keys.Close()
	}
	return writer, cleanup, nil
}

// readPassphrase obtains a passphrase: from the ARX_PASSPHRASE
// environment variable for scripted use, otherwise interactively with
// echo disabled. With confirm set, the passphrase is entered twice and
// must match.
func readPassphrase(prompt string, confirm bool) (*secret.Buffer, error) {
	if env := os.Getenv("ARX_PASSPHRASE"); env != "" {
		return secret.NewFromBytes([]byte(env))
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("stdin is not a terminal; set ARX_PASSPHRASE for non-interactive use")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
		}
		match := bytes.Equal(first, second)
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return secret.NewFromBytes(first)
}
