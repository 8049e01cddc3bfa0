// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/arx-format/arx/lib/codec"
	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/encoding"
)

// Chunk table region plaintext: a CBOR envelope mapping content
// digests to physical placement within this generation's data
// segments. Tables are immutable once committed; lookups consult the
// newest generation first and fall back through ancestors. The
// envelope also records the file offsets of the generation's segment
// frames, which is what makes a chunk reachable by random access
// without scanning the file.

const chunkTableVersion = 1

type chunkTableEnvelope struct {
	Version int `cbor:"version"`

	// Segments are the file offsets of this generation's data segment
	// frames, indexed by segment number.
	Segments []uint64 `cbor:"segments"`

	Entries []chunkTableRecord `cbor:"entries"`
}

type chunkTableRecord struct {
	Digest    []byte `cbor:"digest"`
	Gen       uint64 `cbor:"gen"`
	Segment   uint32 `cbor:"segment"`
	Offset    uint64 `cbor:"offset"`
	StoredLen uint64 `cbor:"stored"`
	RawLen    uint64 `cbor:"raw"`
	Codec     uint8  `cbor:"codec"`
}

// chunkLocation is the in-memory resolved placement of one chunk.
type chunkLocation struct {
	gen        uint64
	segment    uint32
	offset     uint64
	storedLen  uint64
	rawLen     uint64
	codec      codec.ID
	segmentOff uint64 // file offset of the segment frame
}

// encodeChunkTable serializes a generation's table, entries sorted by
// digest bytes.
func encodeChunkTable(segments []uint64, records []chunkTableRecord) ([]byte, error) {
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Digest, records[j].Digest) < 0
	})
	if segments == nil {
		segments = []uint64{}
	}
	return encoding.Marshal(chunkTableEnvelope{
		Version:  chunkTableVersion,
		Segments: segments,
		Entries:  records,
	})
}

// decodeChunkTable parses a chunk table region's plaintext, validating
// that every record belongs to the stated generation and points inside
// a known segment. off is the region's file offset, for error context.
func decodeChunkTable(plaintext []byte, gen uint64, off int64) (*chunkTableEnvelope, error) {
	var env chunkTableEnvelope
	if err := encoding.Unmarshal(plaintext, &env); err != nil {
		return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("undecodable chunk table: %v", err)}
	}
	if env.Version != chunkTableVersion {
		return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("unsupported chunk table version %d", env.Version)}
	}
	for _, rec := range env.Entries {
		if len(rec.Digest) != digest.Size {
			return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("chunk table digest is %d bytes, want %d", len(rec.Digest), digest.Size)}
		}
		if rec.Gen != gen {
			return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("chunk table record claims generation %d inside generation %d", rec.Gen, gen)}
		}
		if int(rec.Segment) >= len(env.Segments) {
			return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("chunk table record references segment %d of %d", rec.Segment, len(env.Segments))}
		}
		if !codec.ID(rec.Codec).Valid() {
			// Surfaced here rather than at chunk read time: an archive
			// written by a newer implementation should fail loudly at
			// open, not when a particular file is touched.
			return nil, &codec.UnknownCodecError{ID: codec.ID(rec.Codec)}
		}
	}
	return &env, nil
}

// location resolves a record against the envelope's segment offsets.
func (env *chunkTableEnvelope) location(rec chunkTableRecord) chunkLocation {
	return chunkLocation{
		gen:        rec.Gen,
		segment:    rec.Segment,
		offset:     rec.Offset,
		storedLen:  rec.StoredLen,
		rawLen:     rec.RawLen,
		codec:      codec.ID(rec.Codec),
		segmentOff: env.Segments[rec.Segment],
	}
}
