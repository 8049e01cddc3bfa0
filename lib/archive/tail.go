// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arx-format/arx/lib/digest"
)

// Tail summary layout (112 bytes, plaintext):
//
//	magic        8   "ARXTAIL" + 0
//	gen          8   generation id, first generation = 1
//	manifestOff  8   file offset of the manifest region frame
//	manifestLen  8   frame length (header + ciphertext)
//	chunkTabOff  8   file offset of the chunk table region frame
//	chunkTabLen  8
//	prevTail     8   file offset of the previous tail; ^0 = none
//	segments     4   data segment count in this generation
//	flags        4
//	reserved    16
//	checksum    32   BLAKE3 over the preceding 80 bytes
//
// The tail summary is the commit point of a generation: it is written
// and fsynced after every other byte of the generation, so a verified
// tail guarantees the structures it points to were fully written.
// It is plaintext (the checksum is keyed only by the format's checksum
// domain) so recovery can find commits without key material; the
// regions it points to remain sealed.

const (
	tailSize          = 112
	tailChecksumStart = 80
	noPrevTail        = ^uint64(0)
)

var tailMagic = [8]byte{'A', 'R', 'X', 'T', 'A', 'I', 'L', 0}

type tailSummary struct {
	gen         uint64
	manifestOff uint64
	manifestLen uint64
	chunkTabOff uint64
	chunkTabLen uint64
	prevTail    uint64
	segments    uint32
	flags       uint32
}

func (t tailSummary) encode() []byte {
	buf := make([]byte, tailSize)
	copy(buf[0:8], tailMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], t.gen)
	binary.LittleEndian.PutUint64(buf[16:24], t.manifestOff)
	binary.LittleEndian.PutUint64(buf[24:32], t.manifestLen)
	binary.LittleEndian.PutUint64(buf[32:40], t.chunkTabOff)
	binary.LittleEndian.PutUint64(buf[40:48], t.chunkTabLen)
	binary.LittleEndian.PutUint64(buf[48:56], t.prevTail)
	binary.LittleEndian.PutUint32(buf[56:60], t.segments)
	binary.LittleEndian.PutUint32(buf[60:64], t.flags)

	sum := digest.Checksum(buf[:tailChecksumStart])
	copy(buf[tailChecksumStart:], sum[:])
	return buf
}

// parseTail decodes and verifies a tail summary. fileOff is only for
// error context.
func parseTail(buf []byte, fileOff int64) (tailSummary, error) {
	var t tailSummary
	if len(buf) < tailSize {
		return t, &FormatError{Offset: fileOff, Detail: fmt.Sprintf("tail summary is %d bytes, need %d", len(buf), tailSize)}
	}
	if !bytes.Equal(buf[0:8], tailMagic[:]) {
		return t, &FormatError{Offset: fileOff, Detail: "bad tail summary magic"}
	}

	sum := digest.Checksum(buf[:tailChecksumStart])
	if !bytes.Equal(buf[tailChecksumStart:tailSize], sum[:]) {
		return t, &FormatError{Offset: fileOff, Detail: "tail summary checksum mismatch"}
	}

	t.gen = binary.LittleEndian.Uint64(buf[8:16])
	t.manifestOff = binary.LittleEndian.Uint64(buf[16:24])
	t.manifestLen = binary.LittleEndian.Uint64(buf[24:32])
	t.chunkTabOff = binary.LittleEndian.Uint64(buf[32:40])
	t.chunkTabLen = binary.LittleEndian.Uint64(buf[40:48])
	t.prevTail = binary.LittleEndian.Uint64(buf[48:56])
	t.segments = binary.LittleEndian.Uint32(buf[56:60])
	t.flags = binary.LittleEndian.Uint32(buf[60:64])
	return t, nil
}

// readTailAt reads and verifies the tail summary at the given offset.
func readTailAt(r io.ReaderAt, off int64) (tailSummary, error) {
	buf := make([]byte, tailSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		return tailSummary{}, fmt.Errorf("reading tail summary at %d: %w", off, err)
	}
	return parseTail(buf, off)
}

// scanBackwardForTail searches the file backward from limit for the
// newest offset holding a verifiable tail summary. Returns the offset,
// or -1 if none exists. Used when the bytes at end-of-file are not a
// valid tail (crash mid-append): the scan finds the last commit that
// actually completed.
func scanBackwardForTail(r io.ReaderAt, limit int64) (int64, tailSummary) {
	const window = 1 << 20

	// Candidate tails start at or before limit-tailSize and after the
	// superblock.
	high := limit - tailSize
	for high >= superblockSize {
		low := high - window
		if low < superblockSize {
			low = superblockSize
		}
		// Overlap past high by the magic length so a magic string
		// straddling the window boundary is still found.
		buf := make([]byte, high-low+int64(len(tailMagic)))
		n, _ := r.ReadAt(buf, low)
		buf = buf[:n]

		for search := buf; ; {
			i := bytes.LastIndex(search, tailMagic[:])
			if i < 0 {
				break
			}
			off := low + int64(i)
			if off+tailSize <= limit {
				if tail, err := readTailAt(r, off); err == nil {
					return off, tail
				}
			}
			search = search[:i]
		}

		if low == superblockSize {
			break
		}
		high = low
	}
	return -1, tailSummary{}
}
