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

func compactCommand() *cli.Command {
	var params struct {
		config string
	}

	return &cli.Command{
		Name:    "compact",
		Summary: "Rewrite an archive without dead data",
		Description: `Rewrite an archive into a new file containing only the live entries
of the latest generation: no tombstones, no superseded entries, no
unreferenced chunks. The source archive is not modified.`,
		Usage: "arx compact [flags] ARCHIVE DEST",
		Examples: []cli.Example{
			{Description: "Compact into a fresh file", Command: "arx compact backup.arx backup-compact.arx"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("compact", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: arx compact [flags] ARCHIVE DEST")
			}
			srcPath, dstPath := args[0], args[1]

			session, err := newSession(params.config)
			if err != nil {
				return err
			}
			keys, err := session.openVault()
			if err != nil {
				return err
			}
			defer keys.Close()

			src, err := archive.OpenReader(srcPath, keys, session.options())
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := archive.Compact(ctx, src, dstPath, keys, session.options()); err != nil {
				return err
			}

			before := src.Stats().FileSize
			after := int64(0)
			if info, err := os.Stat(dstPath); err == nil {
				after = info.Size()
			}
			session.logger.Info("archive compacted",
				"source", srcPath, "dest", dstPath,
				"before_bytes", before, "after_bytes", after)
			return nil
		},
	}
}
