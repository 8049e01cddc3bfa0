// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the ARX single-file archive engine:
// content-defined chunking with cross-file deduplication, per-chunk
// compression, per-region authenticated encryption, and append-only
// generations with crash-consistent commits.
//
// An archive file is a superblock followed by a chain of generations.
// Each generation appends sealed data segments, a sealed chunk table,
// a sealed manifest, and finally a plaintext tail summary whose
// checksum is the commit point: a generation exists once its tail
// summary is durably on disk, and never before. Readers discover the
// newest valid tail and walk the chain backward, so a crash mid-write
// leaves the archive exactly as it was at the previous commit.
//
// Exactly one Writer may mutate an archive at a time; cross-process
// exclusion is the caller's responsibility. Readers are concurrent
// with each other and with an in-progress writer, because an
// uncommitted generation has no tail summary and is therefore
// invisible.
package archive

import (
	"io/fs"
	"log/slog"
	"runtime"
	"time"

	"github.com/arx-format/arx/lib/chunk"
	"github.com/arx-format/arx/lib/codec"
	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/policy"
)

// ChunkRef is one chunk of an entry's content, in content order.
type ChunkRef struct {
	Digest digest.Digest
	Length uint32
}

// Entry is one live path in the archive's current logical state.
type Entry struct {
	// Path is the canonical archive path.
	Path string

	// Mode carries the file type and permission bits. Directory
	// entries have fs.ModeDir set and no chunks.
	Mode fs.FileMode

	// ModTime is the recorded modification time. Zero in archives
	// packed in deterministic mode.
	ModTime time.Time

	// Size is the uncompressed content length in bytes.
	Size uint64

	// Chunks reference the entry's content in order.
	Chunks []ChunkRef

	// Generation is the generation that wrote this version of the
	// entry.
	Generation uint64
}

// InputSpec names one input to Pack: an archive path plus a content
// source. Exactly one of Source and Data supplies content, except for
// directory entries (Mode with fs.ModeDir), which have neither.
type InputSpec struct {
	// Path is the archive path for this input. For Data inputs it is
	// the exact entry path. For filesystem sources it is a prefix: a
	// regular file is stored at Path/<base name>, and a directory's
	// contents are walked in under Path. Empty means the file's base
	// name, or the archive root for a directory.
	Path string

	// Source is a filesystem path. A regular file becomes one entry;
	// a directory is walked recursively.
	Source string

	// Data is literal content, used when Source is empty.
	Data []byte

	// Mode overrides the entry mode. Zero means: the source file's
	// mode, or 0644 for Data inputs.
	Mode fs.FileMode

	// ModTime overrides the entry modification time. Zero means the
	// source file's mtime, or the zero time for Data inputs.
	// Deterministic archives ignore it and record the zero time.
	ModTime time.Time
}

// DeleteMode selects how Remove matches paths.
type DeleteMode int

const (
	// DeleteExact tombstones exactly the named paths. A path with no
	// live entry is an error.
	DeleteExact DeleteMode = iota

	// DeleteRecursive tombstones each named path and everything under
	// it. A prefix matching nothing is an error.
	DeleteRecursive
)

// ExtractSpec selects what Extract materializes and where.
type ExtractSpec struct {
	// Paths restricts extraction to the named entries. Nil or empty
	// extracts everything.
	Paths []string

	// Dest is the destination directory. Created if missing.
	Dest string

	// BestEffort continues past per-entry failures, logging each and
	// returning them joined, instead of aborting on the first.
	BestEffort bool
}

// Stats summarizes an archive's physical and logical state.
type Stats struct {
	Generations  int
	LiveEntries  int
	Tombstones   int
	UniqueChunks int

	// LogicalBytes is the total uncompressed size of live entries,
	// counting shared content once per reference.
	LogicalBytes uint64

	// ChunkRawBytes and ChunkStoredBytes are the uncompressed and
	// stored (post-codec, pre-seal) sizes of unique chunks.
	ChunkRawBytes    uint64
	ChunkStoredBytes uint64

	// FileSize is the archive file size in bytes.
	FileSize int64
}

// Options configures archive creation and access. The zero value is
// usable: every field has a working default.
type Options struct {
	// Chunker sets content-defined chunking parameters. Zero value
	// uses chunk.DefaultParams. Changing parameters between packs is
	// safe but reduces deduplication across the boundary.
	Chunker chunk.Params

	// Codec is the primary compression codec by name: "store",
	// "zstd", or "lz4". Empty means "zstd".
	Codec string

	// MinGain is the minimum compression gain before falling back to
	// Store. Zero uses codec.DefaultMinGain.
	MinGain float64

	// SegmentTarget is the data segment size the writer fills before
	// sealing and starting the next segment. Default: 4 MiB.
	SegmentTarget int

	// Workers is the compression concurrency. Zero means one worker
	// per CPU.
	Workers int

	// Deterministic, at Create time, makes the archive reproducible:
	// identity and nonce salt are derived from the key provider,
	// inputs are sorted, and modification times are zeroed. Ignored
	// by OpenWriter, which follows the flag recorded in the
	// superblock.
	//
	// Because the nonce salt is derived rather than random, all
	// deterministic archives under one vault key share their sealing
	// keys and nonces. Creating deterministic archives with different
	// content under the same key reuses (key, nonce) pairs across
	// differing plaintexts, which defeats the encryption. Keep one
	// deterministic archive lineage per tenant.
	Deterministic bool

	// Policy caps archive contents. The zero policy permits
	// everything except symlinks.
	Policy policy.Policy

	// Logger receives non-fatal reports (partial generation found at
	// open, best-effort extract failures). Nil means slog.Default().
	Logger *slog.Logger
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Chunker == (chunk.Params{}) {
		o.Chunker = chunk.DefaultParams()
	}
	if o.Codec == "" {
		o.Codec = "zstd"
	}
	if o.MinGain <= 0 {
		o.MinGain = codec.DefaultMinGain
	}
	if o.SegmentTarget <= 0 {
		o.SegmentTarget = 4 << 20
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
