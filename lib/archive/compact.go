// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arx-format/arx/lib/seal"
)

// Compact rewrites the source archive's live state into a fresh,
// single-generation archive at dstPath. Tombstoned paths and chunks
// with no live reference are dropped; live entries keep their metadata
// and round-trip identically. The destination inherits the source's
// deterministic flag, so repeated compaction of an unchanged
// deterministic archive is byte-for-byte idempotent.
//
// A chunk referenced by a live entry but missing from every chunk
// table is fatal: compaction never produces an archive with dangling
// references, and never silently drops reachable content.
func Compact(ctx context.Context, src *Reader, dstPath string, keys seal.KeyProvider, opts Options) error {
	opts = opts.withDefaults()
	opts.Deterministic = src.Deterministic()

	entries := src.List()

	// Verify reachability before writing anything: a missing chunk
	// must fail the whole compaction, not strand a half-written
	// destination.
	for _, entry := range entries {
		for _, ref := range entry.Chunks {
			if _, ok := src.state.chunks[ref.Digest]; !ok {
				return &DedupError{
					Digest: ref.Digest,
					Detail: fmt.Sprintf("referenced by %q but absent from every chunk table", entry.Path),
				}
			}
		}
	}

	dst, err := Create(dstPath, keys, opts)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		dst.Close()
		os.Remove(dstPath)
		return err
	}

	if len(entries) > 0 {
		files := make([]packFile, 0, len(entries))
		for _, entry := range entries {
			f := packFile{
				path:  entry.Path,
				mode:  entry.Mode,
				mtime: entry.ModTime,
			}
			if entry.Mode.IsDir() {
				f.dir = true
			} else {
				f.reader = &entryReader{reader: src, entry: entry}
			}
			files = append(files, f)
		}
		if err := dst.packFiles(ctx, files); err != nil {
			return fail(fmt.Errorf("compacting into %s: %w", dstPath, err))
		}
	}

	// Compaction is a full rewrite, so the superblock hint may point
	// at the (single) tail.
	if err := dst.setTailHint(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		return fail(err)
	}
	return nil
}

// entryReader streams one entry's content chunk by chunk from a source
// reader, so compaction never buffers more than one chunk per entry.
type entryReader struct {
	reader *Reader
	entry  Entry
	next   int
	buf    []byte
}

func (er *entryReader) Read(p []byte) (int, error) {
	for len(er.buf) == 0 {
		if er.next >= len(er.entry.Chunks) {
			return 0, io.EOF
		}
		raw, err := er.reader.readChunk(er.entry.Chunks[er.next].Digest)
		if err != nil {
			return 0, fmt.Errorf("reading %q: %w", er.entry.Path, err)
		}
		er.next++
		er.buf = raw
	}
	n := copy(p, er.buf)
	er.buf = er.buf[n:]
	return n, nil
}
