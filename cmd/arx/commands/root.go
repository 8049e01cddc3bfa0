// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the arx command tree.
package commands

import (
	"github.com/arx-format/arx/cmd/arx/cli"
)

// Root returns the top-level arx command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "arx",
		Summary: "Encrypted, deduplicating, append-only archives",
		Description: `arx manages single-file archives with content-defined deduplication,
per-chunk compression, and authenticated encryption. Archives are
append-only: every mutation adds a generation, and a crash at any
point leaves the previous generation intact.`,
		Subcommands: []*cli.Command{
			keygenCommand(),
			packCommand(),
			listCommand(),
			extractCommand(),
			rmCommand(),
			renameCommand(),
			compactCommand(),
			statCommand(),
		},
	}
}
