// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/archive"
)

func extractCommand() *cli.Command {
	var params struct {
		config     string
		dest       string
		bestEffort bool
	}

	return &cli.Command{
		Name:    "extract",
		Summary: "Extract entries from an archive",
		Description: `Extract entries to a destination directory, recreating file modes
and modification times. Paths name exact entries or prefixes; with no
paths, the whole archive is extracted.`,
		Usage: "arx extract [flags] ARCHIVE [PATH...]",
		Examples: []cli.Example{
			{Description: "Extract everything into the current directory", Command: "arx extract backup.arx"},
			{Description: "Extract one subtree", Command: "arx extract --dest /tmp/restore backup.arx projects/site"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			fs.StringVarP(&params.dest, "dest", "d", ".", "destination directory")
			fs.BoolVar(&params.bestEffort, "best-effort", false, "extract what verifies; report failures at the end")
			return fs
		},
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: arx extract [flags] ARCHIVE [PATH...]")
			}
			reader, cleanup, err := openForRead(args[0], params.config)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return reader.Extract(ctx, archive.ExtractSpec{
				Paths:      args[1:],
				Dest:       params.dest,
				BestEffort: params.bestEffort,
			})
		},
	}
}
