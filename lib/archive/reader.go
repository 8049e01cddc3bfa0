// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/arx-format/arx/lib/codec"
	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/sanitize"
	"github.com/arx-format/arx/lib/seal"
)

// Reader provides random access to an archive's committed state.
// Readers are safe for concurrent use and can coexist with one active
// writer on the same file: they only ever see generations whose tail
// summary was committed before the reader opened.
type Reader struct {
	file   *os.File
	sealer *seal.Sealer
	state  *archiveState
	logger *slog.Logger

	// Segment plaintexts are cached so consecutive chunk reads from
	// the same segment decrypt it once.
	cacheMu sync.Mutex
	cache   map[segmentKey][]byte
}

type segmentKey struct {
	gen     uint64
	segment uint32
}

// segmentCacheSize bounds the decrypted-segment cache. Extraction
// touches segments mostly in order, so a handful of slots is enough.
const segmentCacheSize = 8

// OpenReader opens an archive for reading. A partial trailing
// generation is logged and skipped; opening proceeds at the last
// committed generation, retrievable via Partial.
func OpenReader(path string, keys seal.KeyProvider, opts Options) (*Reader, error) {
	opts = opts.withDefaults()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	super, sealer, err := openSuperblock(file, keys)
	if err != nil {
		file.Close()
		return nil, err
	}
	state, err := loadState(file, sealer, super, opts.Logger)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Reader{
		file:   file,
		sealer: sealer,
		state:  state,
		logger: opts.Logger,
		cache:  make(map[segmentKey][]byte),
	}, nil
}

// Close releases the archive file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Partial reports the partial trailing generation found at open, or
// nil if the file ended exactly at a committed tail summary.
func (r *Reader) Partial() *PartialGeneration {
	return r.state.partial
}

// Deterministic reports whether the archive was created in
// deterministic mode.
func (r *Reader) Deterministic() bool {
	return r.state.super.deterministic()
}

// List returns the archive's current logical state: all live entries,
// sorted by path. Tombstoned and shadowed entries are absent. No data
// segments are touched.
func (r *Reader) List() []Entry {
	return r.state.sortedEntries()
}

// Stat returns the live entry for a path, or ErrNotFound.
func (r *Reader) Stat(path string) (Entry, error) {
	canonical, err := sanitize.Path(path)
	if err != nil {
		return Entry{}, err
	}
	entry, ok := r.state.entries[canonical]
	if !ok {
		return Entry{}, fmt.Errorf("stat %q: %w", canonical, ErrNotFound)
	}
	return entry, nil
}

// ReadFile returns the full content of one entry, reassembled in
// chunk order. Only the data segments the entry references are
// decrypted.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	entry, err := r.Stat(path)
	if err != nil {
		return nil, err
	}
	if entry.Mode.IsDir() {
		return nil, fmt.Errorf("read %q: entry is a directory", entry.Path)
	}

	content := make([]byte, 0, entry.Size)
	for _, ref := range entry.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.readChunk(ref.Digest)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", entry.Path, err)
		}
		content = append(content, raw...)
	}
	if uint64(len(content)) != entry.Size {
		return nil, &FormatError{
			Offset: r.state.lastTail,
			Detail: fmt.Sprintf("entry %q reassembled to %d bytes, manifest says %d", entry.Path, len(content), entry.Size),
		}
	}
	return content, nil
}

// Extract materializes entries into spec.Dest, recreating modes and
// modification times. With spec.Paths set, exactly those entries are
// extracted (a named path may also be a directory prefix covering
// multiple entries). BestEffort logs and collects per-entry failures
// instead of stopping at the first.
func (r *Reader) Extract(ctx context.Context, spec ExtractSpec) error {
	if spec.Dest == "" {
		return fmt.Errorf("extract requires a destination directory")
	}

	var entries []Entry
	if len(spec.Paths) == 0 {
		entries = r.List()
	} else {
		seen := make(map[string]struct{})
		for _, raw := range spec.Paths {
			path, err := sanitize.Path(raw)
			if err != nil {
				return err
			}
			matches := r.state.livePathsUnder(path)
			if len(matches) == 0 {
				return fmt.Errorf("extract %q: %w", path, ErrNotFound)
			}
			for _, match := range matches {
				if _, dup := seen[match]; dup {
					continue
				}
				seen[match] = struct{}{}
				entries = append(entries, r.state.entries[match])
			}
		}
	}

	if err := os.MkdirAll(spec.Dest, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	var failures []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.extractEntry(ctx, spec.Dest, entry); err != nil {
			if !spec.BestEffort {
				return err
			}
			r.logger.Warn("extract failed for entry, continuing",
				"path", entry.Path,
				"error", err,
			)
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

func (r *Reader) extractEntry(ctx context.Context, dest string, entry Entry) error {
	target, err := sanitize.ExtractTarget(dest, entry.Path)
	if err != nil {
		return err
	}

	if entry.Mode.IsDir() {
		if err := os.MkdirAll(target, entry.Mode.Perm()|0o100); err != nil {
			return fmt.Errorf("extracting directory %q: %w", entry.Path, err)
		}
		return restoreMetadata(target, entry)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("extracting %q: %w", entry.Path, err)
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode.Perm()|0o200)
	if err != nil {
		return fmt.Errorf("extracting %q: %w", entry.Path, err)
	}
	for _, ref := range entry.Chunks {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		raw, readErr := r.readChunk(ref.Digest)
		if readErr != nil {
			out.Close()
			return fmt.Errorf("extracting %q: %w", entry.Path, readErr)
		}
		if _, err := out.Write(raw); err != nil {
			out.Close()
			return fmt.Errorf("extracting %q: %w", entry.Path, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("extracting %q: %w", entry.Path, err)
	}
	return restoreMetadata(target, entry)
}

// restoreMetadata applies the recorded mode and, when present, the
// modification time. Deterministic archives record no mtime and the
// extracted file keeps its creation time.
func restoreMetadata(target string, entry Entry) error {
	if err := os.Chmod(target, entry.Mode.Perm()); err != nil {
		return fmt.Errorf("restoring mode of %q: %w", entry.Path, err)
	}
	if !entry.ModTime.IsZero() {
		if err := os.Chtimes(target, entry.ModTime, entry.ModTime); err != nil {
			return fmt.Errorf("restoring mtime of %q: %w", entry.Path, err)
		}
	}
	return nil
}

// readChunk fetches one chunk by digest: locate, decrypt its segment,
// decompress, and verify the content digest. A digest mismatch after
// decompression means the stored bytes are not the bytes the table
// promised, which is a dedup integrity fault.
func (r *Reader) readChunk(d digest.Digest) ([]byte, error) {
	loc, ok := r.state.chunks[d]
	if !ok {
		return nil, &DedupError{Digest: d, Detail: "referenced by a manifest entry but absent from every chunk table"}
	}

	segment, err := r.segmentPlaintext(loc)
	if err != nil {
		return nil, err
	}
	if loc.offset+loc.storedLen > uint64(len(segment)) {
		return nil, &FormatError{
			Offset: int64(loc.segmentOff),
			Detail: fmt.Sprintf("chunk %s extends past its segment", d.Short()),
		}
	}

	raw, err := codec.Decompress(segment[loc.offset:loc.offset+loc.storedLen], loc.codec, int(loc.rawLen))
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", d.Short(), err)
	}
	if digest.Chunk(raw) != d {
		return nil, &DedupError{Digest: d, Detail: "stored bytes do not hash to the recorded digest"}
	}
	return raw, nil
}

// segmentPlaintext returns a segment's decrypted bytes, consulting the
// cache first.
func (r *Reader) segmentPlaintext(loc chunkLocation) ([]byte, error) {
	key := segmentKey{gen: loc.gen, segment: loc.segment}

	r.cacheMu.Lock()
	if plaintext, ok := r.cache[key]; ok {
		r.cacheMu.Unlock()
		return plaintext, nil
	}
	r.cacheMu.Unlock()

	info, err := r.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	ctx := seal.RegionContext{
		ArchiveID:  r.state.super.archiveID,
		Kind:       seal.KindData,
		Generation: loc.gen,
		Index:      loc.segment,
	}
	plaintext, err := readRegion(r.file, int64(loc.segmentOff), info.Size(), r.sealer, ctx)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	if len(r.cache) >= segmentCacheSize {
		for evict := range r.cache {
			delete(r.cache, evict)
			break
		}
	}
	r.cache[key] = plaintext
	r.cacheMu.Unlock()
	return plaintext, nil
}

// Stats summarizes the archive: generation and entry counts, unique
// chunk totals, and the logical size of the live state.
func (r *Reader) Stats() Stats {
	stats := Stats{
		Generations:  len(r.state.generations),
		LiveEntries:  len(r.state.entries),
		UniqueChunks: len(r.state.chunks),
		LogicalBytes: r.state.logicalBytes(),
	}
	for _, gen := range r.state.generations {
		for _, rec := range gen.manifest {
			if rec.tombstone() {
				stats.Tombstones++
			}
		}
	}
	for _, loc := range r.state.chunks {
		stats.ChunkRawBytes += loc.rawLen
		stats.ChunkStoredBytes += loc.storedLen
	}
	if info, err := r.file.Stat(); err == nil {
		stats.FileSize = info.Size()
	}
	return stats
}

