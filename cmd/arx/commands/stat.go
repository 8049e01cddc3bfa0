// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
)

func statCommand() *cli.Command {
	var params struct {
		config string
	}

	return &cli.Command{
		Name:    "stat",
		Summary: "Show archive or entry statistics",
		Description: `Without a path, show archive-wide statistics: generations, entries,
unique chunks, and logical versus stored sizes. With a path, show the
metadata of a single entry.`,
		Usage: "arx stat [flags] ARCHIVE [PATH]",
		Examples: []cli.Example{
			{Description: "Archive statistics", Command: "arx stat backup.arx"},
			{Description: "One entry", Command: "arx stat backup.arx docs/notes.txt"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("stat", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			return fs
		},
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: arx stat [flags] ARCHIVE [PATH]")
			}
			reader, cleanup, err := openForRead(args[0], params.config)
			if err != nil {
				return err
			}
			defer cleanup()

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 2 {
				entry, err := reader.Stat(args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "path\t%s\n", entry.Path)
				fmt.Fprintf(tw, "mode\t%s\n", entry.Mode)
				fmt.Fprintf(tw, "size\t%d\n", entry.Size)
				if !entry.ModTime.IsZero() && entry.ModTime.Unix() != 0 {
					fmt.Fprintf(tw, "mtime\t%s\n", entry.ModTime.UTC().Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintf(tw, "generation\t%d\n", entry.Generation)
				fmt.Fprintf(tw, "chunks\t%d\n", len(entry.Chunks))
				return nil
			}

			stats := reader.Stats()
			fmt.Fprintf(tw, "generations\t%d\n", stats.Generations)
			fmt.Fprintf(tw, "live entries\t%d\n", stats.LiveEntries)
			fmt.Fprintf(tw, "tombstones\t%d\n", stats.Tombstones)
			fmt.Fprintf(tw, "unique chunks\t%d\n", stats.UniqueChunks)
			fmt.Fprintf(tw, "logical bytes\t%d\n", stats.LogicalBytes)
			fmt.Fprintf(tw, "chunk raw bytes\t%d\n", stats.ChunkRawBytes)
			fmt.Fprintf(tw, "chunk stored bytes\t%d\n", stats.ChunkStoredBytes)
			fmt.Fprintf(tw, "file size\t%d\n", stats.FileSize)
			fmt.Fprintf(tw, "deterministic\t%t\n", reader.Deterministic())
			if partial := reader.Partial(); partial != nil {
				fmt.Fprintf(tw, "partial generation\tat offset %d\n", partial.Offset)
			}
			return nil
		},
	}
}
