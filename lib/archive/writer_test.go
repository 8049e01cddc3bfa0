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

	"github.com/arx-format/arx/lib/policy"
)

func TestRemoveExact(t *testing.T) {
	keys := testVault(t, "rm-exact")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "keep.txt", Data: []byte("keep")},
		{Path: "drop.txt", Data: []byte("drop")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Remove(context.Background(), []string{"drop.txt"}, DeleteExact); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	writer.Close()

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	entries := reader.List()
	if len(entries) != 1 || entries[0].Path != "keep.txt" {
		t.Fatalf("List after remove = %+v, want only keep.txt", entries)
	}
	if _, err := reader.ReadFile(context.Background(), "drop.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile removed entry = %v, want ErrNotFound", err)
	}

	// Removal is logical: the tombstone shadows the entry but the
	// chunk bytes stay until compaction.
	stats := reader.Stats()
	if stats.Tombstones != 1 {
		t.Errorf("Tombstones = %d, want 1", stats.Tombstones)
	}
	if stats.UniqueChunks != 2 {
		t.Errorf("UniqueChunks = %d, want 2 (data must survive removal)", stats.UniqueChunks)
	}
	if stats.Generations != 2 {
		t.Errorf("Generations = %d, want 2", stats.Generations)
	}
}

func TestRemoveExactMissing(t *testing.T) {
	keys := testVault(t, "rm-missing")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "only.txt", Data: []byte("only")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()

	err = writer.Remove(context.Background(), []string{"absent.txt"}, DeleteExact)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove missing = %v, want ErrNotFound", err)
	}

	// A directory prefix is not an exact match.
	err = writer.Remove(context.Background(), []string{"only"}, DeleteExact)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove prefix with DeleteExact = %v, want ErrNotFound", err)
	}
}

func TestRemoveRecursive(t *testing.T) {
	keys := testVault(t, "rm-recursive")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "projects/site/index.html", Data: []byte("<html>")},
		{Path: "projects/site/style.css", Data: []byte("body{}")},
		{Path: "projects/siteplan.md", Data: []byte("plan")},
		{Path: "notes.txt", Data: []byte("notes")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Remove(context.Background(), []string{"projects/site"}, DeleteRecursive); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	writer.Close()

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	entries := reader.List()
	wantPaths := []string{"notes.txt", "projects/siteplan.md"}
	if len(entries) != len(wantPaths) {
		t.Fatalf("List = %+v, want %v", entries, wantPaths)
	}
	for i, want := range wantPaths {
		if entries[i].Path != want {
			t.Errorf("entry %d = %q, want %q (prefix match must be component-wise)", i, entries[i].Path, want)
		}
	}
}

func TestRemoveRecursiveNoMatch(t *testing.T) {
	keys := testVault(t, "rm-recursive-miss")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "a.txt", Data: []byte("a")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()

	err = writer.Remove(context.Background(), []string{"nothing"}, DeleteRecursive)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove unmatched prefix = %v, want ErrNotFound", err)
	}
}

func TestRename(t *testing.T) {
	keys := testVault(t, "rename")
	content := pseudoRandom(10, 8192)
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "old/name.bin", Data: content, Mode: 0o640, ModTime: testMtime},
		{Path: "other.txt", Data: []byte("other")},
	})

	statsBefore := archiveStats(t, path, keys)

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Rename(context.Background(), "old/name.bin", "new/name.bin"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	writer.Close()

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Stat("old/name.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old path still visible: %v", err)
	}
	entry, err := reader.Stat("new/name.bin")
	if err != nil {
		t.Fatalf("Stat new path: %v", err)
	}
	if entry.Mode.Perm() != 0o640 {
		t.Errorf("mode = %v, want 640 (metadata must survive rename)", entry.Mode)
	}
	if !entry.ModTime.Equal(testMtime) {
		t.Errorf("mtime = %v, want %v", entry.ModTime, testMtime)
	}

	got, err := reader.ReadFile(context.Background(), "new/name.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content changed across rename")
	}

	// Rename re-references chunks; nothing new is stored.
	stats := reader.Stats()
	if stats.ChunkStoredBytes != statsBefore.ChunkStoredBytes {
		t.Errorf("stored bytes grew from %d to %d across a rename",
			statsBefore.ChunkStoredBytes, stats.ChunkStoredBytes)
	}
}

func TestRenameErrors(t *testing.T) {
	keys := testVault(t, "rename-errors")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "a.txt", Data: []byte("a")},
		{Path: "b.txt", Data: []byte("b")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()

	if err := writer.Rename(context.Background(), "missing.txt", "c.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename missing source = %v, want ErrNotFound", err)
	}
	if err := writer.Rename(context.Background(), "a.txt", "b.txt"); err == nil {
		t.Error("Rename onto an existing entry succeeded")
	}
}

func TestPolicyMaxEntries(t *testing.T) {
	keys := testVault(t, "policy-entries")
	opts := testOptions()
	opts.Policy = policy.Policy{MaxEntries: 1}

	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	err = writer.Pack(context.Background(), []InputSpec{
		{Path: "one.txt", Data: []byte("one")},
		{Path: "two.txt", Data: []byte("two")},
	})
	var violation *policy.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("Pack over cap = %v, want policy.Violation", err)
	}
	if violation.Cap != "max-entries" {
		t.Errorf("violated cap = %q, want max-entries", violation.Cap)
	}
	writer.Close()

	// A rejected pack must leave no trace.
	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	if entries := reader.List(); len(entries) != 0 {
		t.Errorf("rejected pack left %d entries", len(entries))
	}
}

func TestPolicyGenerationBytes(t *testing.T) {
	keys := testVault(t, "policy-genbytes")
	opts := testOptions()
	opts.Policy = policy.Policy{MaxGenerationBytes: 1024}

	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	err = writer.Pack(context.Background(), []InputSpec{
		{Path: "big.bin", Data: pseudoRandom(11, 4096)},
	})
	var violation *policy.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("Pack over cap = %v, want policy.Violation", err)
	}

	if err := writer.Pack(context.Background(), []InputSpec{
		{Path: "small.bin", Data: pseudoRandom(12, 512)},
	}); err != nil {
		t.Fatalf("Pack under cap: %v", err)
	}
}

func TestPolicyCompressionRatioSkipsDedup(t *testing.T) {
	keys := testVault(t, "policy-ratio")
	opts := testOptions()
	opts.Policy = policy.Policy{MinCompressionRatio: 1.5}

	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	// Incompressible content falls below the required ratio.
	content := pseudoRandom(13, 8192)
	err = writer.Pack(context.Background(), []InputSpec{
		{Path: "random.bin", Data: content},
	})
	var violation *policy.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("Pack incompressible = %v, want policy.Violation", err)
	}

	// Highly compressible content passes.
	if err := writer.Pack(context.Background(), []InputSpec{
		{Path: "zeros.bin", Data: make([]byte, 8192)},
	}); err != nil {
		t.Fatalf("Pack compressible: %v", err)
	}

	// A generation that stores nothing new (full dedup) is exempt from
	// the ratio check regardless of its content.
	if err := writer.Pack(context.Background(), []InputSpec{
		{Path: "zeros-again.bin", Data: make([]byte, 8192)},
	}); err != nil {
		t.Fatalf("Pack deduplicated: %v", err)
	}
}

func TestPackFilesUnderPrefix(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("readme"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "CHANGELOG.md"), []byte("changelog"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Several file sources sharing one prefix, the way the CLI builds
	// inputs for `pack --prefix docs ARCHIVE FILE...`. Each file keeps
	// its base name under the prefix.
	keys := testVault(t, "file-prefix")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "docs", Source: filepath.Join(src, "README.md")},
		{Path: "docs", Source: filepath.Join(src, "CHANGELOG.md")},
	})

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	entries := reader.List()
	wantPaths := []string{"docs/CHANGELOG.md", "docs/README.md"}
	if len(entries) != len(wantPaths) {
		t.Fatalf("List = %+v, want %v", entries, wantPaths)
	}
	for i, want := range wantPaths {
		if entries[i].Path != want {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Path, want)
		}
	}
	got, err := reader.ReadFile(context.Background(), "docs/README.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "readme" {
		t.Errorf("content = %q, want %q", got, "readme")
	}
}

func TestPackFileWithoutPrefix(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "solo.txt"), []byte("solo"), 0o644); err != nil {
		t.Fatal(err)
	}

	keys := testVault(t, "file-no-prefix")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Source: filepath.Join(src, "solo.txt")},
	})

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Stat("solo.txt"); err != nil {
		t.Errorf("file without prefix must land at its base name: %v", err)
	}
}

func TestPackRejectsDuplicatePaths(t *testing.T) {
	keys := testVault(t, "dup-paths")
	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, testOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	err = writer.Pack(context.Background(), []InputSpec{
		{Path: "same.txt", Data: []byte("one")},
		{Path: "same.txt", Data: []byte("two")},
	})
	if err == nil {
		t.Fatal("Pack accepted the same path twice in one call")
	}
}

func TestPackOverwriteAcrossGenerations(t *testing.T) {
	keys := testVault(t, "overwrite")
	path := newTestArchive(t, keys, testOptions(), []InputSpec{
		{Path: "file.txt", Data: []byte("version one")},
	})

	writer, err := OpenWriter(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := writer.Pack(context.Background(), []InputSpec{
		{Path: "file.txt", Data: []byte("version two")},
	}); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	writer.Close()

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadFile(context.Background(), "file.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "version two" {
		t.Errorf("content = %q, want the newer version", got)
	}
	if entries := reader.List(); len(entries) != 1 {
		t.Errorf("List = %d entries, want 1 (newer entry shadows older)", len(entries))
	}
}

func TestPackRejectsSymlinksByDefault(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "real.txt"), []byte("real"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	keys := testVault(t, "symlinks")
	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, testOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	if err := writer.Pack(context.Background(), []InputSpec{{Path: "tree", Source: src}}); err == nil {
		t.Fatal("Pack followed a symlink without policy permission")
	}
}

func TestPackFollowsSymlinksWhenAllowed(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "real.txt"), []byte("real"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	keys := testVault(t, "symlinks-allowed")
	opts := testOptions()
	opts.Policy.AllowSymlinks = true

	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writer.Pack(context.Background(), []InputSpec{{Path: "tree", Source: src}}); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	writer.Close()

	reader, err := OpenReader(path, keys, testOptions())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadFile(context.Background(), "tree/link.txt")
	if err != nil {
		t.Fatalf("ReadFile via symlink: %v", err)
	}
	if string(got) != "real" {
		t.Errorf("content = %q, want target content", got)
	}
}

func TestPackCancellation(t *testing.T) {
	keys := testVault(t, "cancel")
	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, testOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = writer.Pack(ctx, []InputSpec{
		{Path: "file.bin", Data: pseudoRandom(14, 16384)},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pack with cancelled context = %v, want context.Canceled", err)
	}

	// The aborted pack must leave the archive empty and usable.
	if err := writer.Pack(context.Background(), []InputSpec{
		{Path: "file.bin", Data: []byte("ok")},
	}); err != nil {
		t.Fatalf("Pack after cancellation: %v", err)
	}
}

func TestPackRejectsTraversalPaths(t *testing.T) {
	keys := testVault(t, "traversal")
	path := filepath.Join(t.TempDir(), "test.arx")
	writer, err := Create(path, keys, testOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer writer.Close()

	for _, bad := range []string{"../escape", "/absolute", "a/../../b", "nul\x00byte"} {
		if err := writer.Pack(context.Background(), []InputSpec{{Path: bad, Data: []byte("x")}}); err == nil {
			t.Errorf("Pack accepted path %q", bad)
		}
	}
}
