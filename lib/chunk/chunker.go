// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk splits byte streams into content-defined chunks using
// a GearHash rolling hash (FastCDC-style). Chunk boundaries depend
// only on the content and the chunking parameters, never on buffer
// sizes or read patterns, so identical content always produces
// identical cut points — the property archive deduplication and
// deterministic mode both rely on.
package chunk

import (
	"bytes"
	"fmt"
	"io"
	"math/bits"
)

// Default chunking parameters. These are format constants for archives
// written with the default configuration — changing them changes every
// cut point and therefore defeats deduplication against existing
// archives.
const (
	// DefaultMinSize is the minimum chunk size. No boundary can occur
	// before this many bytes, which prevents pathological tiny chunks
	// from repetitive input.
	DefaultMinSize = 64 * 1024

	// DefaultTargetSize is the expected average chunk size. The
	// boundary mask is calibrated so that boundary probability per
	// byte is approximately 1/DefaultTargetSize.
	DefaultTargetSize = 256 * 1024

	// DefaultMaxSize is the maximum chunk size. A forced boundary
	// occurs at this size regardless of the hash state, bounding the
	// worst case for any input pattern.
	DefaultMaxSize = 1024 * 1024
)

// gearWindow is the effective window of the GearHash: after this many
// bytes, earlier input has fully shifted out of the 64-bit hash state.
const gearWindow = 64

// Params holds the chunk size bounds for a Chunker. The zero value is
// not valid; use DefaultParams or construct explicitly and Validate.
type Params struct {
	// MinSize is the smallest chunk the chunker will emit, except for
	// a final short chunk at end of stream.
	MinSize int

	// TargetSize is the expected average chunk size. Must be a power
	// of two so the boundary mask is exact.
	TargetSize int

	// MaxSize is the forced-cut limit.
	MaxSize int
}

// DefaultParams returns the default chunk size bounds.
func DefaultParams() Params {
	return Params{
		MinSize:    DefaultMinSize,
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Validate checks the parameter invariants: window ≤ min ≤ target ≤
// max, and target a power of two.
func (p Params) Validate() error {
	if p.MinSize < gearWindow {
		return fmt.Errorf("chunk min size %d is below the %d-byte hash window", p.MinSize, gearWindow)
	}
	if p.TargetSize < p.MinSize {
		return fmt.Errorf("chunk target size %d is below min size %d", p.TargetSize, p.MinSize)
	}
	if p.MaxSize < p.TargetSize {
		return fmt.Errorf("chunk max size %d is below target size %d", p.MaxSize, p.TargetSize)
	}
	if p.TargetSize&(p.TargetSize-1) != 0 {
		return fmt.Errorf("chunk target size %d is not a power of two", p.TargetSize)
	}
	return nil
}

// mask returns the GearHash boundary condition for the target size. A
// boundary is detected when (hash & mask) == 0. The mask has
// log2(target) one-bits in the high positions, so the probability of a
// boundary at any given byte is 1/target.
func (p Params) mask() uint64 {
	oneBits := bits.TrailingZeros(uint(p.TargetSize))
	return ^uint64(0) << (64 - oneBits)
}

// skipBytes returns the number of bytes at the start of each chunk
// that cannot contain a boundary: everything before MinSize minus the
// hash window. Skipping them produces identical boundaries to hashing
// every byte, because a boundary before MinSize is suppressed anyway
// and the hash state fully regenerates within the window.
func (p Params) skipBytes() int {
	return p.MinSize - gearWindow
}

// Chunker splits a stream into content-defined chunks. Create one with
// New and call Next repeatedly. The sequence is lazy, finite, and
// non-restartable: once Next returns io.EOF the chunker is exhausted.
type Chunker struct {
	reader io.Reader
	params Params
	mask   uint64

	// buf holds unconsumed stream bytes. buf[start:end] is valid data;
	// the buffer is compacted before each refill so a chunk is always
	// a contiguous slice.
	buf   []byte
	start int
	end   int

	readErr error
}

// New creates a chunker over r with the given parameters.
func New(r io.Reader, params Params) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		reader: r,
		params: params,
		mask:   params.mask(),
		// One max-sized chunk plus read headroom.
		buf: make([]byte, 2*params.MaxSize),
	}, nil
}

// Next returns the next chunk of the stream. The returned slice is
// valid only until the following call to Next. At end of stream, Next
// returns io.EOF; any other error is an upstream read error,
// propagated unchanged.
func (c *Chunker) Next() ([]byte, error) {
	if err := c.fill(); err != nil {
		return nil, err
	}

	window := c.buf[c.start:c.end]
	cut := c.findBoundary(window)
	chunk := window[:cut]
	c.start += cut
	return chunk, nil
}

// fill tops up the buffer until it holds at least one maximum-sized
// chunk or the stream ends. Returns io.EOF only when no bytes remain.
func (c *Chunker) fill() error {
	// Compact: move unconsumed bytes to the front so the next chunk
	// is contiguous.
	if c.start > 0 {
		copy(c.buf, c.buf[c.start:c.end])
		c.end -= c.start
		c.start = 0
	}

	for c.readErr == nil && c.end < c.params.MaxSize {
		n, err := c.reader.Read(c.buf[c.end:])
		c.end += n
		if err != nil {
			c.readErr = err
		}
	}

	// A real read error aborts chunking; the caller is abandoning the
	// whole operation, so buffered bytes are not worth salvaging.
	if c.readErr != nil && c.readErr != io.EOF {
		return c.readErr
	}
	if c.end == c.start {
		return io.EOF
	}
	return nil
}

// findBoundary scans data from the beginning and returns the length of
// the first chunk. If no natural boundary occurs before MaxSize, the
// chunk is force-cut at MaxSize; if the data ends first, the remainder
// is one final chunk.
func (c *Chunker) findBoundary(data []byte) int {
	length := len(data)
	if length <= c.params.MinSize {
		return length
	}

	limit := length
	if limit > c.params.MaxSize {
		limit = c.params.MaxSize
	}

	var hash uint64
	position := c.params.skipBytes()

	for position < limit {
		hash = (hash << 1) + gearTable[data[position]]
		position++

		if position >= c.params.MinSize && hash&c.mask == 0 {
			return position
		}
	}

	return limit
}

// Split chunks an in-memory byte slice and returns the chunk lengths.
// Convenience for tests and for callers that already hold the full
// input; the cut points are identical to streaming the same bytes.
func Split(data []byte, params Params) ([]int, error) {
	chunker, err := New(bytes.NewReader(data), params)
	if err != nil {
		return nil, err
	}

	var lengths []int
	for {
		chunk, err := chunker.Next()
		if err == io.EOF {
			return lengths, nil
		}
		if err != nil {
			return nil, err
		}
		lengths = append(lengths, len(chunk))
	}
}
