// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arx-format/arx/lib/seal"
)

// Sealed region framing:
//
//	kind    1   1=manifest 2=chunktable 3=data
//	gen     8   generation id
//	index   4   region index within the generation
//	length  8   ciphertext length, including the AEAD tag
//	ciphertext…
//
// The header repeats the region's identity in plaintext so structures
// can be located and cross-checked before decryption; the same tuple
// is bound into the seal (key derivation and AAD), so a header edit or
// a relocated ciphertext fails authentication rather than decrypting
// under the wrong identity.

const regionHeaderSize = 1 + 8 + 4 + 8

// maxRegionLength bounds a single region frame. Regions are at most a
// few times the segment target; anything larger in a header is
// corruption, and refusing it keeps a bad length field from driving a
// giant allocation.
const maxRegionLength = 1 << 32

func encodeRegionHeader(ctx seal.RegionContext, ciphertextLen uint64) []byte {
	buf := make([]byte, regionHeaderSize)
	buf[0] = byte(ctx.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], ctx.Generation)
	binary.LittleEndian.PutUint32(buf[9:13], ctx.Index)
	binary.LittleEndian.PutUint64(buf[13:21], ciphertextLen)
	return buf
}

// sealRegion encrypts plaintext as the region identified by ctx and
// returns the complete frame (header plus ciphertext).
func sealRegion(sealer *seal.Sealer, ctx seal.RegionContext, plaintext []byte) ([]byte, error) {
	ciphertext, err := sealer.Seal(ctx, 0, plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing region %s: %w", ctx, err)
	}
	frame := encodeRegionHeader(ctx, uint64(len(ciphertext)))
	return append(frame, ciphertext...), nil
}

// readRegion reads, validates, and opens the region frame at off. The
// caller states the expected identity; a frame whose header disagrees
// is a FormatError, and a frame whose seal disagrees is a
// seal.AuthError.
func readRegion(r io.ReaderAt, off int64, fileSize int64, sealer *seal.Sealer, ctx seal.RegionContext) ([]byte, error) {
	if off < superblockSize || off+regionHeaderSize > fileSize {
		return nil, &FormatError{Offset: off, Detail: "region header outside file bounds"}
	}

	header := make([]byte, regionHeaderSize)
	if _, err := r.ReadAt(header, off); err != nil {
		return nil, fmt.Errorf("reading region header at %d: %w", off, err)
	}

	kind := seal.RegionKind(header[0])
	gen := binary.LittleEndian.Uint64(header[1:9])
	index := binary.LittleEndian.Uint32(header[9:13])
	length := binary.LittleEndian.Uint64(header[13:21])

	if kind != ctx.Kind || gen != ctx.Generation || index != ctx.Index {
		return nil, &FormatError{
			Offset: off,
			Detail: fmt.Sprintf("region header is %s/gen%d/%d, expected %s", kind, gen, index, ctx),
		}
	}
	if length < seal.Overhead || length > maxRegionLength {
		return nil, &FormatError{Offset: off, Detail: fmt.Sprintf("implausible region length %d", length)}
	}
	if off+regionHeaderSize+int64(length) > fileSize {
		return nil, &FormatError{Offset: off, Detail: "region extends past end of file"}
	}

	ciphertext := make([]byte, length)
	if _, err := r.ReadAt(ciphertext, off+regionHeaderSize); err != nil {
		return nil, fmt.Errorf("reading region ciphertext at %d: %w", off+regionHeaderSize, err)
	}

	plaintext, err := sealer.Open(ctx, 0, ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
