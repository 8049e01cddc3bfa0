// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
)

func renameCommand() *cli.Command {
	var params struct {
		config string
	}

	return &cli.Command{
		Name:    "rename",
		Summary: "Rename an entry within an archive",
		Description: `Rename a single entry. The content is not rewritten: the new
generation records a tombstone for the old path and an entry at the
new path referencing the same chunks.`,
		Usage: "arx rename [flags] ARCHIVE FROM TO",
		Examples: []cli.Example{
			{Description: "Move a file", Command: "arx rename backup.arx notes.txt docs/notes.txt"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("rename", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("usage: arx rename [flags] ARCHIVE FROM TO")
			}
			writer, cleanup, err := openForUpdate(args[0], params.config)
			if err != nil {
				return err
			}
			defer cleanup()

			return writer.Rename(context.Background(), args[1], args[2])
		},
	}
}
