// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/archive"
	"github.com/arx-format/arx/lib/seal"
)

func packCommand() *cli.Command {
	var params struct {
		config        string
		create        bool
		deterministic bool
		prefix        string
	}

	return &cli.Command{
		Name:    "pack",
		Summary: "Add files and directories to an archive",
		Description: `Add files and directories to an archive as a new generation.
Directories are walked recursively; content shared with earlier
generations is deduplicated and stored once.`,
		Usage: "arx pack [flags] ARCHIVE SOURCE...",
		Examples: []cli.Example{
			{Description: "Create a new archive from a directory", Command: "arx pack --create backup.arx ~/projects"},
			{Description: "Append files under a prefix", Command: "arx pack --prefix docs backup.arx README.md CHANGELOG.md"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			fs.BoolVar(&params.create, "create", false, "create the archive; fail if it exists")
			fs.BoolVar(&params.deterministic, "deterministic", false, "create in deterministic mode (implies --create)")
			fs.StringVar(&params.prefix, "prefix", "", "archive path prefix for the added entries")
			return fs
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: arx pack [flags] ARCHIVE SOURCE...")
			}
			archivePath, sources := args[0], args[1:]

			session, err := newSession(params.config)
			if err != nil {
				return err
			}
			keys, err := session.openVault()
			if err != nil {
				return err
			}
			defer keys.Close()

			opts := session.options()
			if params.deterministic {
				opts.Deterministic = true
				params.create = true
			}

			writer, err := openForWrite(archivePath, keys, opts, params.create)
			if err != nil {
				return err
			}
			defer writer.Close()

			inputs := make([]archive.InputSpec, 0, len(sources))
			for _, source := range sources {
				inputs = append(inputs, archive.InputSpec{
					Path:   params.prefix,
					Source: source,
				})
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := writer.Pack(ctx, inputs); err != nil {
				return err
			}
			return writer.Close()
		},
	}
}

// openForWrite creates the archive when asked to, and otherwise opens
// an existing one, creating it only if it does not exist yet.
func openForWrite(path string, keys seal.KeyProvider, opts archive.Options, create bool) (*archive.Writer, error) {
	if create {
		return archive.Create(path, keys, opts)
	}
	writer, err := archive.OpenWriter(path, keys, opts)
	if errors.Is(err, os.ErrNotExist) {
		return archive.Create(path, keys, opts)
	}
	return writer, err
}
