// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the closed set of per-chunk compression
// codecs. Each chunk records the codec that compressed it, so chunks
// decompress independently of their siblings. The set is closed by
// construction: an unrecognized codec ID on read is a hard error,
// never a silent pass-through.
package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ID identifies a compression codec. IDs are stored in chunk table
// entries (1 byte each) and are format constants — reassigning them
// breaks every existing archive.
type ID uint8

const (
	// Store is the identity codec: chunk bytes stored as-is. Used for
	// already-dense data (media, ciphertext-like input) where
	// compression costs CPU without saving space.
	Store ID = 0

	// Zstd is zstandard at the default level. The primary codec:
	// good ratios on text, logs, and structured data at high decode
	// speed.
	Zstd ID = 1

	// LZ4 is LZ4 block compression. Faster than zstd with weaker
	// ratios; selectable for throughput-bound workloads.
	LZ4 ID = 2
)

// DefaultMinGain is the default compression margin: a codec's output
// is kept only if it is at least this fraction smaller than the input,
// otherwise the chunk falls back to Store. Guards against paying
// decompression cost for near-incompressible data.
const DefaultMinGain = 0.05

// UnknownCodecError reports a codec ID that this implementation does
// not recognize. It is fatal for the chunk being read: guessing at an
// unknown transform would return garbage as file content.
type UnknownCodecError struct {
	ID ID
}

func (e *UnknownCodecError) Error() string {
	return fmt.Sprintf("unknown codec id %d", uint8(e.ID))
}

// errIncompressible is returned internally when a codec's output is
// not smaller than its input by the required margin.
var errIncompressible = errors.New("data is incompressible")

// String returns the codec's human-readable name.
func (id ID) String() string {
	switch id {
	case Store:
		return "store"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Parse resolves a codec name to its ID.
func Parse(name string) (ID, error) {
	switch name {
	case "store":
		return Store, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec name %q", name)
	}
}

// Valid reports whether the ID names a codec this implementation can
// decode.
func (id ID) Valid() bool {
	return id == Store || id == Zstd || id == LZ4
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use, which matters because chunk sealing runs on a
// worker pool.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the requested primary codec, falling
// back to Store when the output is not at least minGain smaller than
// the input (minGain <= 0 uses DefaultMinGain). Returns the stored
// bytes and the codec that actually applies to them. For Store the
// input slice is returned unchanged, without a copy.
func Compress(data []byte, primary ID, minGain float64) ([]byte, ID, error) {
	if minGain <= 0 {
		minGain = DefaultMinGain
	}

	var compressed []byte
	var err error

	switch primary {
	case Store:
		return data, Store, nil
	case Zstd:
		compressed, err = compressZstd(data, minGain)
	case LZ4:
		compressed, err = compressLZ4(data, minGain)
	default:
		return nil, 0, &UnknownCodecError{ID: primary}
	}

	if err != nil {
		if errors.Is(err, errIncompressible) {
			return data, Store, nil
		}
		return nil, 0, err
	}
	return compressed, primary, nil
}

// Decompress reverses Compress for a single chunk. rawLen must be the
// chunk's original length exactly; a mismatch is corruption and
// returns an error. An unrecognized codec ID returns an
// *UnknownCodecError.
func Decompress(stored []byte, id ID, rawLen int) ([]byte, error) {
	switch id {
	case Store:
		if len(stored) != rawLen {
			return nil, fmt.Errorf("stored chunk is %d bytes, expected %d", len(stored), rawLen)
		}
		return stored, nil
	case Zstd:
		return decompressZstd(stored, rawLen)
	case LZ4:
		return decompressLZ4(stored, rawLen)
	default:
		return nil, &UnknownCodecError{ID: id}
	}
}

// gained reports whether compressing rawLen bytes down to storedLen
// meets the minimum gain margin.
func gained(rawLen, storedLen int, minGain float64) bool {
	return float64(rawLen)-float64(storedLen) >= float64(rawLen)*minGain
}

func compressZstd(data []byte, minGain float64) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if !gained(len(data), len(compressed), minGain) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(stored []byte, rawLen int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != rawLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLen)
	}
	return result, nil
}

func compressLZ4(data []byte, minGain float64) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when it determines the data is
	// incompressible.
	if written == 0 || !gained(len(data), written, minGain) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(stored []byte, rawLen int) ([]byte, error) {
	destination := make([]byte, rawLen)
	read, err := lz4.UncompressBlock(stored, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != rawLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLen)
	}
	return destination, nil
}
