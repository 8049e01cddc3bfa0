// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/encoding"
)

// Manifest region plaintext: a CBOR envelope of the generation's
// entries, sorted by path. An entry is either live (carries metadata
// and chunk references) or a tombstone (shadows every older entry for
// the path). Within one generation a path appears at most once; across
// generations the newest entry wins.

const manifestVersion = 1

const (
	entryKindLive      = 0
	entryKindTombstone = 1
)

type manifestEnvelope struct {
	Version int              `cbor:"version"`
	Entries []manifestRecord `cbor:"entries"`
}

type manifestRecord struct {
	Path   string        `cbor:"path"`
	Kind   int           `cbor:"kind"`
	Mode   uint32        `cbor:"mode,omitempty"`
	Mtime  int64         `cbor:"mtime,omitempty"`
	Size   uint64        `cbor:"size,omitempty"`
	Chunks []chunkRefRec `cbor:"chunks,omitempty"`
}

type chunkRefRec struct {
	Digest []byte `cbor:"digest"`
	Length uint32 `cbor:"length"`
}

func (rec manifestRecord) tombstone() bool {
	return rec.Kind == entryKindTombstone
}

// entry converts a live record to the public Entry form.
func (rec manifestRecord) entry(gen uint64) (Entry, error) {
	e := Entry{
		Path:       rec.Path,
		Mode:       fs.FileMode(rec.Mode),
		Size:       rec.Size,
		Generation: gen,
	}
	if rec.Mtime != 0 {
		e.ModTime = time.Unix(rec.Mtime, 0).UTC()
	}
	for _, ref := range rec.Chunks {
		if len(ref.Digest) != digest.Size {
			return Entry{}, fmt.Errorf("entry %q has a %d-byte chunk digest, want %d", rec.Path, len(ref.Digest), digest.Size)
		}
		var d digest.Digest
		copy(d[:], ref.Digest)
		e.Chunks = append(e.Chunks, ChunkRef{Digest: d, Length: ref.Length})
	}
	return e, nil
}

// encodeManifest serializes a generation's records, sorted by path.
func encodeManifest(records []manifestRecord) ([]byte, error) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return encoding.Marshal(manifestEnvelope{Version: manifestVersion, Entries: records})
}

// decodeManifest parses a manifest region's plaintext. off is the
// region's file offset, for error context.
func decodeManifest(plaintext []byte, off int64) ([]manifestRecord, error) {
	var env manifestEnvelope
	if err := encoding.Unmarshal(plaintext, &env); err != nil {
		return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("undecodable manifest: %v", err)}
	}
	if env.Version != manifestVersion {
		return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("unsupported manifest version %d", env.Version)}
	}
	for _, rec := range env.Entries {
		if rec.Path == "" {
			return nil, &FormatError{Offset: off, Detail: "manifest entry with empty path"}
		}
		for _, ref := range rec.Chunks {
			if len(ref.Digest) != digest.Size {
				return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("entry %q has a %d-byte chunk digest", rec.Path, len(ref.Digest))}
			}
		}
	}
	return env.Entries, nil
}
