// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewAndClose(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if buffer.Len() != 32 {
		t.Errorf("Len = %d, want 32", buffer.Len())
	}
	if len(buffer.Bytes()) != 32 {
		t.Errorf("Bytes length = %d, want 32", len(buffer.Bytes()))
	}

	if err := buffer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Idempotent.
	if err := buffer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded, want error", size)
		}
	}
}

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("super secret key material!!!")
	want := bytes.Clone(source)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Error("buffer contents do not match original source")
	}
	for i, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed", i)
		}
	}
}

func TestBytesPanicsAfterClose(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes on closed buffer did not panic")
		}
	}()
	buffer.Bytes()
}

func TestEqual(t *testing.T) {
	buffer, err := NewFromBytes([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("0123456789abcdef")) {
		t.Error("Equal = false for identical contents")
	}
	if buffer.Equal([]byte("0123456789abcdeX")) {
		t.Error("Equal = true for differing contents")
	}
	if buffer.Equal([]byte("short")) {
		t.Error("Equal = true for different length")
	}
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3}
	Zero(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d after Zero", i, b)
		}
	}
}
