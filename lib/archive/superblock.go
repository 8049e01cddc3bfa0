// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/arx-format/arx/lib/digest"
)

// Superblock layout (96 bytes at offset 0):
//
//	magic      8   "ARXARC" + format version + 0
//	flags      4
//	reserved   4
//	archiveID 16
//	nonceSalt 32
//	tailHint   8   offset of the newest tail at last full rewrite; 0 = none
//	checksum  24   truncated BLAKE3 over bytes [0, 72)
//
// The superblock is written at Create and rewritten only by full
// rewrites (compaction sets the tail hint). Ordinary packs never touch
// it: everything before the last committed tail stays byte-stable.
// The hint is an optimization for crash recovery; the tail chain is
// authoritative.

const (
	superblockSize     = 96
	superChecksumSize  = 24
	superChecksumStart = 72
)

var superMagic = [8]byte{'A', 'R', 'X', 'A', 'R', 'C', 1, 0}

// flagDeterministic marks archives whose identity, nonce salt, entry
// ordering, and timestamps are reproducible from content and key.
const flagDeterministic uint32 = 1 << 0

type superblock struct {
	flags     uint32
	archiveID [16]byte
	nonceSalt [32]byte
	tailHint  uint64
}

func (sb superblock) deterministic() bool {
	return sb.flags&flagDeterministic != 0
}

func (sb superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:8], superMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], sb.flags)
	copy(buf[16:32], sb.archiveID[:])
	copy(buf[32:64], sb.nonceSalt[:])
	binary.LittleEndian.PutUint64(buf[64:72], sb.tailHint)

	sum := digest.Checksum(buf[:superChecksumStart])
	copy(buf[superChecksumStart:], sum[:superChecksumSize])
	return buf
}

func parseSuperblock(buf []byte) (superblock, error) {
	var sb superblock
	if len(buf) < superblockSize {
		return sb, &FormatError{Offset: 0, Detail: fmt.Sprintf("superblock is %d bytes, need %d", len(buf), superblockSize)}
	}
	if !bytes.Equal(buf[0:8], superMagic[:]) {
		return sb, &FormatError{Offset: 0, Detail: fmt.Sprintf("bad magic %x (not an ARX archive, or unsupported version)", buf[0:8])}
	}

	sum := digest.Checksum(buf[:superChecksumStart])
	if !bytes.Equal(buf[superChecksumStart:superblockSize], sum[:superChecksumSize]) {
		return sb, &FormatError{Offset: 0, Detail: "superblock checksum mismatch"}
	}

	sb.flags = binary.LittleEndian.Uint32(buf[8:12])
	copy(sb.archiveID[:], buf[16:32])
	copy(sb.nonceSalt[:], buf[32:64])
	sb.tailHint = binary.LittleEndian.Uint64(buf[64:72])
	return sb, nil
}
