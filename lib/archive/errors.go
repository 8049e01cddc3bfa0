// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"

	"github.com/arx-format/arx/lib/digest"
)

// ErrNotFound reports a path with no live entry in the archive's
// current state. Returned by Stat, ReadFile, Extract of named paths,
// Remove, and Rename.
var ErrNotFound = errors.New("entry not found")

// FormatError reports structurally invalid archive bytes: a bad
// superblock, an unparseable region header, a pointer outside the
// file. Fatal for the operation; the engine never guesses past a
// malformed structure.
type FormatError struct {
	// Offset is the file offset of the invalid bytes.
	Offset int64
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("archive format error at offset %d: %s", e.Offset, e.Detail)
}

// DedupError reports a content-addressing integrity fault: two
// different byte sequences claiming the same digest, or stored chunk
// bytes that no longer hash to their recorded digest. Fatal: the
// archive's deduplication index can no longer be trusted.
type DedupError struct {
	Digest digest.Digest
	Detail string
}

func (e *DedupError) Error() string {
	return fmt.Sprintf("dedup inconsistency for chunk %s: %s", e.Digest.Short(), e.Detail)
}

// PartialGeneration reports an incompletely committed generation found
// after the last valid tail summary, typically from a crash mid-pack.
// Non-fatal: the archive is valid at the last committed generation,
// and opening proceeds there. A writer truncates the partial bytes
// before appending.
type PartialGeneration struct {
	// Offset is where the partial bytes begin (one past the last
	// committed generation's tail summary).
	Offset int64
}

func (e *PartialGeneration) Error() string {
	return fmt.Sprintf("partial generation detected at offset %d (archive valid at last committed generation)", e.Offset)
}
