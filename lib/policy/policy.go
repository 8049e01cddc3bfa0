// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy enforces archive resource caps. The writer consults
// the policy after planning a generation and before appending any
// bytes, so a violation aborts the operation cleanly with no partial
// generation on disk.
package policy

import "fmt"

// Policy caps what one archive may hold. Zero values mean unlimited;
// the zero Policy permits everything except symlinks.
type Policy struct {
	// MaxEntries caps live manifest entries across the whole archive
	// after the planned generation commits.
	MaxEntries uint64 `yaml:"max-entries"`

	// MaxUncompressed caps the total uncompressed bytes of live
	// content after the planned generation commits.
	MaxUncompressed uint64 `yaml:"max-uncompressed"`

	// MaxGenerationBytes caps the uncompressed bytes a single pack or
	// delete operation may add.
	MaxGenerationBytes uint64 `yaml:"max-generation-bytes"`

	// MinCompressionRatio rejects generations that compress worse than
	// this ratio (uncompressed / stored). 1.05 requires at least 5%
	// savings. Zero disables the check. Dedup savings count: a fully
	// deduplicated generation stores almost nothing and trivially
	// passes.
	MinCompressionRatio float64 `yaml:"min-compression-ratio"`

	// AllowSymlinks permits packing symbolic links. Off by default:
	// links are the classic extraction escape vector, so packing them
	// is opt-in.
	AllowSymlinks bool `yaml:"allow-symlinks"`
}

// Violation reports a policy cap exceeded. The operation that raised
// it has not appended any bytes.
type Violation struct {
	Cap      string
	Limit    uint64
	Observed uint64
}

func (e *Violation) Error() string {
	return fmt.Sprintf("policy violation: %s limit %d exceeded (observed %d)", e.Cap, e.Limit, e.Observed)
}

// Caps describes one planned generation for CheckCaps: totals as they
// would stand after the generation commits, plus what the generation
// itself adds.
type Caps struct {
	TotalEntries     uint64
	TotalBytes       uint64
	GenerationBytes  uint64
	GenerationStored uint64
}

// CheckCaps verifies a planned generation against the policy. Returns
// a *Violation naming the first exceeded cap, or nil.
func (p Policy) CheckCaps(caps Caps) error {
	if p.MaxEntries > 0 && caps.TotalEntries > p.MaxEntries {
		return &Violation{Cap: "max-entries", Limit: p.MaxEntries, Observed: caps.TotalEntries}
	}
	if p.MaxUncompressed > 0 && caps.TotalBytes > p.MaxUncompressed {
		return &Violation{Cap: "max-uncompressed", Limit: p.MaxUncompressed, Observed: caps.TotalBytes}
	}
	if p.MaxGenerationBytes > 0 && caps.GenerationBytes > p.MaxGenerationBytes {
		return &Violation{Cap: "max-generation-bytes", Limit: p.MaxGenerationBytes, Observed: caps.GenerationBytes}
	}
	if p.MinCompressionRatio > 0 && caps.GenerationStored > 0 {
		ratio := float64(caps.GenerationBytes) / float64(caps.GenerationStored)
		if ratio < p.MinCompressionRatio {
			// Scale by 100 so the integers in the error carry two
			// decimal places of the ratio.
			return &Violation{
				Cap:      "min-compression-ratio",
				Limit:    uint64(p.MinCompressionRatio * 100),
				Observed: uint64(ratio * 100),
			}
		}
	}
	return nil
}
