// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/sanitize"
	"github.com/arx-format/arx/lib/seal"
)

// generationInfo is one committed generation, fully parsed.
type generationInfo struct {
	gen      uint64
	tailOff  int64
	segments []uint64
	manifest []manifestRecord
	table    *chunkTableEnvelope
}

// archiveState is the parsed view of an archive file: the committed
// generation chain plus the resolved current state (shadowing and
// tombstones applied). Both Reader and Writer load one at open;
// Writer keeps it current as it commits.
type archiveState struct {
	super superblock

	// size is the committed end of file: one past the newest tail
	// summary. A writer appends here; bytes beyond it are either
	// absent or a partial generation to be truncated.
	size int64

	// lastTail is the file offset of the newest tail summary, or -1
	// for an archive with no generations.
	lastTail int64

	nextGen uint64

	// generations are the committed generations, oldest first.
	generations []generationInfo

	// entries is the resolved current state: live entries only, by
	// canonical path.
	entries map[string]Entry

	// chunks maps content digests to physical placement, newest
	// placement winning.
	chunks map[digest.Digest]chunkLocation

	// partial is set when trailing bytes after the newest valid tail
	// were found at open.
	partial *PartialGeneration
}

// loadState parses an archive file into memory: superblock, tail
// discovery, the generation chain, and the resolved current view.
// Partial trailing generations are reported through the logger and in
// the returned state, never as an error.
func loadState(file *os.File, sealer *seal.Sealer, super superblock, logger *slog.Logger) (*archiveState, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	fileSize := info.Size()

	state := &archiveState{
		super:    super,
		size:     superblockSize,
		lastTail: -1,
		nextGen:  1,
		entries:  make(map[string]Entry),
		chunks:   make(map[digest.Digest]chunkLocation),
	}

	tailOff, tail, found := discoverTail(file, fileSize, super)
	if !found {
		if fileSize > superblockSize {
			state.partial = &PartialGeneration{Offset: superblockSize}
		}
	} else {
		state.lastTail = tailOff
		state.size = tailOff + tailSize
		if state.size < fileSize {
			state.partial = &PartialGeneration{Offset: state.size}
		}
	}
	if state.partial != nil {
		logger.Warn("partial generation detected, using last committed state",
			"offset", state.partial.Offset,
			"file_size", fileSize,
		)
	}
	if !found {
		return state, nil
	}

	// Walk the tail chain newest to oldest. Offsets must strictly
	// decrease toward the superblock or the chain is corrupt.
	var tails []struct {
		off  int64
		tail tailSummary
	}
	for {
		tails = append(tails, struct {
			off  int64
			tail tailSummary
		}{tailOff, tail})

		if tail.prevTail == noPrevTail {
			break
		}
		prevOff := int64(tail.prevTail)
		if prevOff < superblockSize || prevOff >= tailOff {
			return nil, &FormatError{Offset: tailOff, Detail: fmt.Sprintf("tail chain pointer %d out of order", prevOff)}
		}
		tailOff = prevOff
		if tail, err = readTailAt(file, tailOff); err != nil {
			return nil, err
		}
	}

	// Parse generations oldest first.
	for i := len(tails) - 1; i >= 0; i-- {
		gen, err := loadGeneration(file, fileSize, sealer, super.archiveID, tails[i].off, tails[i].tail)
		if err != nil {
			return nil, err
		}
		if err := state.apply(gen); err != nil {
			return nil, err
		}
	}
	state.nextGen = state.generations[len(state.generations)-1].gen + 1
	return state, nil
}

// discoverTail finds the newest valid tail summary: first the bytes at
// end of file, then the superblock hint, then a backward scan.
func discoverTail(file *os.File, fileSize int64, super superblock) (int64, tailSummary, bool) {
	if fileSize < superblockSize+tailSize {
		return 0, tailSummary{}, false
	}

	off := fileSize - tailSize
	if tail, err := readTailAt(file, off); err == nil {
		return off, tail, true
	}

	if hint := int64(super.tailHint); hint >= superblockSize && hint+tailSize <= fileSize {
		if tail, err := readTailAt(file, hint); err == nil {
			return hint, tail, true
		}
	}

	if off, tail := scanBackwardForTail(file, fileSize); off >= 0 {
		return off, tail, true
	}
	return 0, tailSummary{}, false
}

// loadGeneration reads and opens one generation's chunk table and
// manifest regions.
func loadGeneration(file *os.File, fileSize int64, sealer *seal.Sealer, archiveID [16]byte, tailOff int64, tail tailSummary) (generationInfo, error) {
	tableCtx := seal.RegionContext{ArchiveID: archiveID, Kind: seal.KindChunkTable, Generation: tail.gen}
	tablePlain, err := readRegion(file, int64(tail.chunkTabOff), fileSize, sealer, tableCtx)
	if err != nil {
		return generationInfo{}, fmt.Errorf("generation %d chunk table: %w", tail.gen, err)
	}
	table, err := decodeChunkTable(tablePlain, tail.gen, int64(tail.chunkTabOff))
	if err != nil {
		return generationInfo{}, err
	}
	if uint32(len(table.Segments)) != tail.segments {
		return generationInfo{}, &FormatError{
			Offset: tailOff,
			Detail: fmt.Sprintf("tail summary counts %d segments, chunk table lists %d", tail.segments, len(table.Segments)),
		}
	}

	manifestCtx := seal.RegionContext{ArchiveID: archiveID, Kind: seal.KindManifest, Generation: tail.gen}
	manifestPlain, err := readRegion(file, int64(tail.manifestOff), fileSize, sealer, manifestCtx)
	if err != nil {
		return generationInfo{}, fmt.Errorf("generation %d manifest: %w", tail.gen, err)
	}
	manifest, err := decodeManifest(manifestPlain, int64(tail.manifestOff))
	if err != nil {
		return generationInfo{}, err
	}

	return generationInfo{
		gen:      tail.gen,
		tailOff:  tailOff,
		segments: table.Segments,
		manifest: manifest,
		table:    table,
	}, nil
}

// apply folds one generation (oldest-first order) into the resolved
// view: chunk placements are indexed, live entries shadow older ones,
// tombstones delete.
func (s *archiveState) apply(gen generationInfo) error {
	for _, rec := range gen.table.Entries {
		var d digest.Digest
		copy(d[:], rec.Digest)
		loc := gen.table.location(rec)
		if existing, ok := s.chunks[d]; ok && existing.rawLen != loc.rawLen {
			return &DedupError{
				Digest: d,
				Detail: fmt.Sprintf("recorded as %d bytes in generation %d and %d bytes in generation %d",
					existing.rawLen, existing.gen, loc.rawLen, loc.gen),
			}
		}
		s.chunks[d] = loc
	}

	for _, rec := range gen.manifest {
		if rec.tombstone() {
			delete(s.entries, rec.Path)
			continue
		}
		entry, err := rec.entry(gen.gen)
		if err != nil {
			return &FormatError{Offset: gen.tailOff, Detail: err.Error()}
		}
		s.entries[rec.Path] = entry
	}

	s.generations = append(s.generations, gen)
	return nil
}

// sortedEntries returns the resolved live entries ordered by path.
func (s *archiveState) sortedEntries() []Entry {
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// livePathsUnder returns the live paths equal to or under prefix,
// sorted.
func (s *archiveState) livePathsUnder(prefix string) []string {
	var paths []string
	for path := range s.entries {
		if sanitize.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// logicalBytes sums the sizes of all live entries.
func (s *archiveState) logicalBytes() uint64 {
	var total uint64
	for _, entry := range s.entries {
		total += entry.Size
	}
	return total
}
