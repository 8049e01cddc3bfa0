// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCompact(t *testing.T) {
	keys := testVault(t, "compact")
	shared := pseudoRandom(30, 8192)
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "keep.txt", Data: []byte("keep me"), Mode: 0o640, ModTime: testMtime},
		{Path: "shared/a.bin", Data: shared},
		{Path: "shared/b.bin", Data: shared},
		{Path: "doomed.bin", Data: pseudoRandom(31, 8192)},
		{Path: "hollow", Mode: os.ModeDir | 0o755},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Remove(context.Background(), []string{"doomed.bin"}, DeleteExact); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := writer.Rename(context.Background(), "keep.txt", "kept.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	writer.Close()

	src, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer src.Close()
	srcStats := src.Stats()

	dstPath := filepath.Join(t.TempDir(), "compacted.arx")
	if err := Compact(context.Background(), src, dstPath, keys, testOptions()); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	dst, err := OpenReader(dstPath, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader dst: %v", err)
	}
	defer dst.Close()

	stats := dst.Stats()
	if stats.Generations != 1 {
		t.Errorf("Generations = %d, want 1", stats.Generations)
	}
	if stats.Tombstones != 0 {
		t.Errorf("Tombstones = %d, want 0", stats.Tombstones)
	}
	if stats.LiveEntries != srcStats.LiveEntries {
		t.Errorf("LiveEntries = %d, want %d", stats.LiveEntries, srcStats.LiveEntries)
	}
	if stats.UniqueChunks >= srcStats.UniqueChunks {
		t.Errorf("UniqueChunks = %d, want below %d (doomed.bin chunks must be dropped)",
			stats.UniqueChunks, srcStats.UniqueChunks)
	}
	if stats.FileSize >= srcStats.FileSize {
		t.Errorf("FileSize = %d, want below %d", stats.FileSize, srcStats.FileSize)
	}

	// Live entries round-trip with content and metadata.
	entry, err := dst.Stat("kept.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if entry.Mode.Perm() != 0o640 || !entry.ModTime.Equal(testMtime) {
		t.Errorf("metadata changed across compaction: mode %v mtime %v", entry.Mode, entry.ModTime)
	}
	got, err := dst.ReadFile(context.Background(), "kept.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "keep me" {
		t.Errorf("content = %q", got)
	}
	for _, name := range []string{"shared/a.bin", "shared/b.bin"} {
		got, err := dst.ReadFile(context.Background(), name)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", name, err)
		}
		if !bytes.Equal(got, shared) {
			t.Errorf("%s content mismatch after compaction", name)
		}
	}
	hollow, err := dst.Stat("hollow")
	if err != nil {
		t.Fatalf("Stat hollow: %v", err)
	}
	if !hollow.Mode.IsDir() {
		t.Errorf("directory entry lost its type across compaction: %v", hollow.Mode)
	}
	if _, err := dst.Stat("doomed.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tombstoned entry resurfaced: %v", err)
	}
}

func TestCompactDeterministicIdempotence(t *testing.T) {
	keys := testVault(t, "compact-det")
	opts := testOptions()
	opts.Deterministic = true
	path := newTestArchive(t, keys, opts, []InputSpec{
		{Path: "a.txt", Data: []byte("alpha")},
		{Path: "b.bin", Data: pseudoRandom(32, 8192)},
	})

	src, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer src.Close()

	first := filepath.Join(t.TempDir(), "c1.arx")
	second := filepath.Join(t.TempDir(), "c2.arx")
	if err := Compact(context.Background(), src, first, keys, testOptions()); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := Compact(context.Background(), src, second, keys, testOptions()); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	firstBytes, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	secondBytes, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("compacting the same deterministic archive twice produced different bytes")
	}

	dst, err := OpenReader(first, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer dst.Close()
	if !dst.Deterministic() {
		t.Error("compaction dropped the deterministic flag")
	}
}

func TestCompactFullyEmptiedArchive(t *testing.T) {
	keys := testVault(t, "compact-empty")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "gone.txt", Data: []byte("gone")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Remove(context.Background(), []string{"gone.txt"}, DeleteExact); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	writer.Close()

	src, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer src.Close()

	dstPath := filepath.Join(t.TempDir(), "empty.arx")
	if err := Compact(context.Background(), src, dstPath, keys, testOptions()); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	dst, err := OpenReader(dstPath, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer dst.Close()
	if entries := dst.List(); len(entries) != 0 {
		t.Errorf("List = %d entries, want 0", len(entries))
	}
}

func TestCompactLeavesSourceUntouched(t *testing.T) {
	keys := testVault(t, "compact-source")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "file.bin", Data: pseudoRandom(33, 4096)},
	})

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	src, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer src.Close()

	dstPath := filepath.Join(t.TempDir(), "out.arx")
	if err := Compact(context.Background(), src, dstPath, keys, testOptions()); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("compaction modified the source archive")
	}
}
