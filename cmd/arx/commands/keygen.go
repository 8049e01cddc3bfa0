// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/vault"
)

func keygenCommand() *cli.Command {
	var params struct {
		config string
		force  bool
	}

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a new root key file",
		Description: `Generate a random root key and save it encrypted under a passphrase.
All archive keys for a tenant are derived from the root key; losing
the key file or the passphrase makes every archive unreadable.`,
		Usage: "arx keygen [flags]",
		Examples: []cli.Example{
			{Description: "Generate the default key file", Command: "arx keygen"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			fs.BoolVar(&params.force, "force", false, "overwrite an existing key file")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no arguments")
			}
			session, err := newSession(params.config)
			if err != nil {
				return err
			}

			keyFile := session.cfg.KeyFile
			if !params.force {
				if _, err := os.Stat(keyFile); err == nil {
					return fmt.Errorf("key file %s already exists (use --force to overwrite)", keyFile)
				}
			}

			passphrase, err := readPassphrase("New passphrase: ", true)
			if err != nil {
				return err
			}
			defer passphrase.Close()

			rootKey, err := vault.GenerateRootKey()
			if err != nil {
				return err
			}
			defer rootKey.Close()

			if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			if err := vault.SaveRootKey(keyFile, rootKey, passphrase); err != nil {
				return err
			}

			fmt.Printf("root key written to %s\n", keyFile)
			return nil
		},
	}
}
