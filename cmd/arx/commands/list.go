// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/arx-format/arx/cmd/arx/cli"
	"github.com/arx-format/arx/lib/archive"
)

func listCommand() *cli.Command {
	var params struct {
		config string
		long   bool
	}

	return &cli.Command{
		Name:    "list",
		Summary: "List the live entries of an archive",
		Usage:   "arx list [flags] ARCHIVE",
		Examples: []cli.Example{
			{Description: "List entries with metadata", Command: "arx list --long backup.arx"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
			fs.StringVar(&params.config, "config", "", "path to the configuration file")
			fs.BoolVarP(&params.long, "long", "l", false, "show mode, size, mtime, and generation")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: arx list [flags] ARCHIVE")
			}
			reader, cleanup, err := openForRead(args[0], params.config)
			if err != nil {
				return err
			}
			defer cleanup()

			entries := reader.List()
			if !params.long {
				for _, entry := range entries {
					fmt.Println(entry.Path)
				}
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MODE\tSIZE\tMTIME\tGEN\tPATH")
			for _, entry := range entries {
				mtime := "-"
				if !entry.ModTime.IsZero() && entry.ModTime.Unix() != 0 {
					mtime = entry.ModTime.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
					entry.Mode, entry.Size, mtime, entry.Generation, entry.Path)
			}
			return tw.Flush()
		},
	}
}

// openForRead opens an archive read-only with the session's vault.
// The vault must outlive the reader: region keys are derived lazily as
// regions are opened. The returned cleanup closes both.
func openForRead(path, configPath string) (*archive.Reader, func(), error) {
	session, err := newSession(configPath)
	if err != nil {
		return nil, nil, err
	}
	keys, err := session.openVault()
	if err != nil {
		return nil, nil, err
	}

	reader, err := archive.OpenReader(path, keys, session.options())
	if err != nil {
		keys.Close()
		return nil, nil, err
	}
	cleanup := func() {
		reader.Close()
		keys.Close()
	}
	return reader, cleanup, nil
}
