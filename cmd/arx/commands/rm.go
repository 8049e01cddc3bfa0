// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/archive"
)

func rmCommand() *cli.Command {
	var params struct {
		config    string
		recursive bool
	}

	return &cli.Command{
		Name:    "rm",
		Summary: "Remove entries from an archive",
		Description: `Remove entries by writing tombstones in a new generation. The data
stays in the file until the archive is compacted; rm changes what is
visible, not what is stored.`,
		Usage: "arx rm [flags] ARCHIVE PATH...",
		Examples: []cli.Example{
			{Description: "Remove a single file", Command: "arx rm backup.arx docs/draft.md"},
			{Description: "Remove a directory tree", Command: "arx rm --recursive backup.arx projects/old"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("rm", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			fs.BoolVarP(&params.recursive, "recursive", "r", false, "remove everything under each path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: arx rm [flags] ARCHIVE PATH...")
			}
			writer, cleanup, err := openForUpdate(args[0], params.config)
			if err != nil {
				return err
			}
			defer cleanup()

			mode := archive.DeleteExact
			if params.recursive {
				mode = archive.DeleteRecursive
			}
			return writer.Remove(context.Background(), args[1:], mode)
		},
	}
}
