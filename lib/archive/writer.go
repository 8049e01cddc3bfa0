// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arx-format/arx/lib/chunk"
	"github.com/arx-format/arx/lib/codec"
	"github.com/arx-format/arx/lib/digest"
	"github.com/arx-format/arx/lib/policy"
	"github.com/arx-format/arx/lib/sanitize"
	"github.com/arx-format/arx/lib/seal"
)

// PublicDeriver derives stable, non-secret archive parameters from key
// material. Deterministic-mode Create requires its key provider to
// implement it (vault.Vault does), so the archive identity and nonce
// salt are reproducible rather than random.
type PublicDeriver interface {
	PublicBytes(purpose string, size int) ([]byte, error)
}

// Writer appends generations to one archive file. At most one Writer
// may exist per archive at a time; enforcing that across processes is
// the caller's concern (a lock file or lease). Every mutation either
// commits a complete generation or leaves the file byte-identical at
// the previous commit.
type Writer struct {
	file    *os.File
	path    string
	sealer  *seal.Sealer
	opts    Options
	primary codec.ID
	logger  *slog.Logger

	mu    sync.Mutex
	state *archiveState
}

// Create creates a new archive file at path. Fails if the file already
// exists. In deterministic mode the archive identity and nonce salt
// are derived from the key provider; otherwise they are random.
func Create(path string, keys seal.KeyProvider, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	primary, err := codec.Parse(opts.Codec)
	if err != nil {
		return nil, err
	}

	var sb superblock
	if opts.Deterministic {
		deriver, ok := keys.(PublicDeriver)
		if !ok {
			return nil, fmt.Errorf("deterministic mode requires a key provider that can derive public parameters")
		}
		id, err := deriver.PublicBytes("archive-id", len(sb.archiveID))
		if err != nil {
			return nil, fmt.Errorf("deriving archive identity: %w", err)
		}
		salt, err := deriver.PublicBytes("nonce-salt", len(sb.nonceSalt))
		if err != nil {
			return nil, fmt.Errorf("deriving nonce salt: %w", err)
		}
		copy(sb.archiveID[:], id)
		copy(sb.nonceSalt[:], salt)
		sb.flags |= flagDeterministic
	} else {
		if _, err := rand.Read(sb.archiveID[:]); err != nil {
			return nil, fmt.Errorf("generating archive identity: %w", err)
		}
		if _, err := rand.Read(sb.nonceSalt[:]); err != nil {
			return nil, fmt.Errorf("generating nonce salt: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	if _, err := file.WriteAt(sb.encode(), 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing superblock: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("syncing superblock: %w", err)
	}

	return &Writer{
		file:    file,
		path:    path,
		sealer:  seal.New(keys, sb.nonceSalt),
		opts:    opts,
		primary: primary,
		logger:  opts.Logger,
		state: &archiveState{
			super:    sb,
			size:     superblockSize,
			lastTail: -1,
			nextGen:  1,
			entries:  make(map[string]Entry),
			chunks:   make(map[digest.Digest]chunkLocation),
		},
	}, nil
}

// OpenWriter opens an existing archive for appending. A partial
// trailing generation (crash residue) is logged and truncated away;
// the committed generations are untouched. Deterministic behavior
// follows the flag recorded in the superblock, not opts.
func OpenWriter(path string, keys seal.KeyProvider, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	primary, err := codec.Parse(opts.Codec)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	super, sealer, err := openSuperblock(file, keys)
	if err != nil {
		file.Close()
		return nil, err
	}
	state, err := loadState(file, sealer, super, opts.Logger)
	if err != nil {
		file.Close()
		return nil, err
	}

	if state.partial != nil {
		if err := file.Truncate(state.size); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncating partial generation: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("syncing truncation: %w", err)
		}
	}

	return &Writer{
		file:    file,
		path:    path,
		sealer:  sealer,
		opts:    opts,
		primary: primary,
		logger:  opts.Logger,
		state:   state,
	}, nil
}

// openSuperblock reads and parses the superblock and constructs the
// sealer from its nonce salt.
func openSuperblock(file *os.File, keys seal.KeyProvider) (superblock, *seal.Sealer, error) {
	buf := make([]byte, superblockSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return superblock{}, nil, &FormatError{Offset: 0, Detail: fmt.Sprintf("unreadable superblock: %v", err)}
	}
	super, err := parseSuperblock(buf)
	if err != nil {
		return superblock{}, nil, err
	}
	return super, seal.New(keys, super.nonceSalt), nil
}

// Deterministic reports whether the archive was created in
// deterministic mode.
func (w *Writer) Deterministic() bool {
	return w.state.super.deterministic()
}

// Close closes the archive file. Commits are durable independently of
// Close; it releases the descriptor only.
func (w *Writer) Close() error {
	return w.file.Close()
}

// packFile is one expanded, validated input: a single archive entry to
// write. Content comes from exactly one of source (a filesystem path),
// reader (a stream, used by compaction), or data.
type packFile struct {
	path   string
	source string
	reader io.Reader
	data   []byte
	mode   fs.FileMode
	mtime  time.Time
	dir    bool
}

// Pack appends one generation covering all inputs. Directory sources
// are walked recursively. Content already present in the archive (by
// chunk digest) is referenced, not re-stored. On any error, including
// cancellation, the archive remains valid at its previous generation.
func (w *Writer) Pack(ctx context.Context, inputs []InputSpec) error {
	if len(inputs) == 0 {
		return fmt.Errorf("pack requires at least one input")
	}
	files, err := expandInputs(inputs, w.opts.Policy.AllowSymlinks)
	if err != nil {
		return err
	}
	return w.packFiles(ctx, files)
}

// packFiles appends one generation of already-expanded inputs.
func (w *Writer) packFiles(ctx context.Context, files []packFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Deterministic() {
		sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
		for i := range files {
			files[i].mtime = time.Time{}
		}
	}

	// A path may appear at most once per generation. Silent overwrite
	// within one pack call almost always means a caller bug.
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.path]; dup {
			return fmt.Errorf("duplicate path %q in one pack call", f.path)
		}
		seen[f.path] = struct{}{}
	}

	plan, err := w.buildPlan(ctx, files)
	if err != nil {
		return err
	}

	if err := w.checkPolicy(plan); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.commit(plan)
}

// Remove appends one generation of tombstones for the given paths.
// DeleteExact requires each path to have a live entry; DeleteRecursive
// tombstones each path and everything under it, and requires each
// prefix to match at least one live entry. Chunk bytes stay physically
// present until compaction.
func (w *Writer) Remove(ctx context.Context, paths []string, mode DeleteMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(paths) == 0 {
		return fmt.Errorf("remove requires at least one path")
	}

	doomed := make(map[string]struct{})
	for _, raw := range paths {
		path, err := sanitize.Path(raw)
		if err != nil {
			return err
		}
		switch mode {
		case DeleteExact:
			if _, ok := w.state.entries[path]; !ok {
				return fmt.Errorf("remove %q: %w", path, ErrNotFound)
			}
			doomed[path] = struct{}{}
		case DeleteRecursive:
			matches := w.state.livePathsUnder(path)
			if len(matches) == 0 {
				return fmt.Errorf("remove %q: %w", path, ErrNotFound)
			}
			for _, match := range matches {
				doomed[match] = struct{}{}
			}
		default:
			return fmt.Errorf("unknown delete mode %d", mode)
		}
	}

	records := make([]manifestRecord, 0, len(doomed))
	for path := range doomed {
		records = append(records, manifestRecord{Path: path, Kind: entryKindTombstone})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return w.commit(&packPlan{gen: w.state.nextGen, manifest: records})
}

// Rename appends one generation that moves a live entry: a tombstone
// for the old path and a live entry at the new path referencing the
// same chunks. No content is read or re-stored.
func (w *Writer) Rename(ctx context.Context, from, to string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fromPath, err := sanitize.Path(from)
	if err != nil {
		return err
	}
	toPath, err := sanitize.Path(to)
	if err != nil {
		return err
	}

	entry, ok := w.state.entries[fromPath]
	if !ok {
		return fmt.Errorf("rename %q: %w", fromPath, ErrNotFound)
	}
	if _, exists := w.state.entries[toPath]; exists {
		return fmt.Errorf("rename destination %q already exists", toPath)
	}

	moved := recordFromEntry(entry)
	moved.Path = toPath

	if err := ctx.Err(); err != nil {
		return err
	}
	return w.commit(&packPlan{
		gen:      w.state.nextGen,
		manifest: []manifestRecord{{Path: fromPath, Kind: entryKindTombstone}, moved},
	})
}

// recordFromEntry converts a resolved entry back to its manifest
// record form.
func recordFromEntry(e Entry) manifestRecord {
	rec := manifestRecord{
		Path: e.Path,
		Kind: entryKindLive,
		Mode: uint32(e.Mode),
		Size: e.Size,
	}
	if !e.ModTime.IsZero() {
		rec.Mtime = e.ModTime.Unix()
	}
	for _, ref := range e.Chunks {
		rec.Chunks = append(rec.Chunks, chunkRefRec{Digest: ref.Digest[:], Length: ref.Length})
	}
	return rec
}

// expandInputs validates paths and walks directory sources into
// per-entry inputs. Symbolic links are rejected unless allowed by
// policy; allowed links are followed to regular files.
func expandInputs(inputs []InputSpec, allowSymlinks bool) ([]packFile, error) {
	var files []packFile
	for _, spec := range inputs {
		expanded, err := expandInput(spec, allowSymlinks)
		if err != nil {
			return nil, err
		}
		files = append(files, expanded...)
	}
	return files, nil
}

func expandInput(spec InputSpec, allowSymlinks bool) ([]packFile, error) {
	if spec.Source == "" {
		path, err := sanitize.Path(spec.Path)
		if err != nil {
			return nil, err
		}
		if spec.Mode.IsDir() {
			return []packFile{{path: path, mode: spec.Mode, mtime: spec.ModTime, dir: true}}, nil
		}
		mode := spec.Mode
		if mode == 0 {
			mode = 0o644
		}
		return []packFile{{path: path, data: spec.Data, mode: mode, mtime: spec.ModTime}}, nil
	}

	info, err := os.Lstat(spec.Source)
	if err != nil {
		return nil, fmt.Errorf("reading input %s: %w", spec.Source, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		if !allowSymlinks {
			return nil, &sanitize.PathError{Path: spec.Source, Reason: "symbolic link (set policy allow-symlinks to follow links)"}
		}
		if info, err = os.Stat(spec.Source); err != nil {
			return nil, fmt.Errorf("following symlink %s: %w", spec.Source, err)
		}
	}

	if !info.IsDir() {
		// For file sources, Path is a prefix: the entry keeps the
		// file's base name under it, mirroring how directory walks
		// place their contents.
		archivePath := filepath.Base(spec.Source)
		if spec.Path != "" {
			archivePath = spec.Path + "/" + archivePath
		}
		path, err := sanitize.Path(archivePath)
		if err != nil {
			return nil, err
		}
		file := packFile{path: path, source: spec.Source, mode: info.Mode(), mtime: info.ModTime()}
		if spec.Mode != 0 {
			file.mode = spec.Mode
		}
		if !spec.ModTime.IsZero() {
			file.mtime = spec.ModTime
		}
		return []packFile{file}, nil
	}

	return walkDirInput(spec, allowSymlinks)
}

// walkDirInput expands a directory source: every regular file under it
// becomes an entry, and empty directories become zero-chunk directory
// entries so their existence and mode bits survive the round trip.
// Non-empty directories are implied by the paths of their contents.
func walkDirInput(spec InputSpec, allowSymlinks bool) ([]packFile, error) {
	var files []packFile
	err := filepath.WalkDir(spec.Source, func(fsPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(spec.Source, fsPath)
		if err != nil {
			return err
		}
		archivePath := filepath.ToSlash(relative)
		if spec.Path != "" {
			if archivePath == "." {
				archivePath = spec.Path
			} else {
				archivePath = spec.Path + "/" + archivePath
			}
		}

		if d.IsDir() {
			children, err := os.ReadDir(fsPath)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return nil
			}
			path, err := sanitize.Path(archivePath)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, packFile{path: path, mode: info.Mode(), mtime: info.ModTime(), dir: true})
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !allowSymlinks {
				return &sanitize.PathError{Path: fsPath, Reason: "symbolic link (set policy allow-symlinks to follow links)"}
			}
			info, err := os.Stat(fsPath)
			if err != nil {
				return fmt.Errorf("following symlink %s: %w", fsPath, err)
			}
			if info.IsDir() {
				return fmt.Errorf("symlink %s targets a directory; pack the target directly", fsPath)
			}
			path, err := sanitize.Path(archivePath)
			if err != nil {
				return err
			}
			files = append(files, packFile{path: path, source: fsPath, mode: info.Mode(), mtime: info.ModTime()})
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("unsupported file type %s for %s", d.Type(), fsPath)
		}

		path, err := sanitize.Path(archivePath)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, packFile{path: path, source: fsPath, mode: info.Mode(), mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// packPlan is one fully prepared generation, ready to append. Nothing
// in the plan has touched the file yet.
type packPlan struct {
	gen      uint64
	manifest []manifestRecord
	segments [][]byte
	table    []chunkTableRecord

	// rawBytes and storedBytes describe the new content for policy
	// checks.
	rawBytes    uint64
	storedBytes uint64
}

// compressJob and compressResult flow through the sealing worker pool.
// seq preserves submission order: placement is assigned in seq order
// at the serialization barrier, so parallelism never changes the
// archive bytes.
type compressJob struct {
	seq int
	raw []byte
}

type compressResult struct {
	seq    int
	stored []byte
	codec  codec.ID
	err    error
}

// pendingChunk tracks a chunk first seen in this pack call, before its
// compression result is in.
type pendingChunk struct {
	seq    int
	rawLen int
}

// buildPlan chunks and compresses all inputs into a packPlan. Chunk
// compression runs on a worker pool; everything else is serial.
func (w *Writer) buildPlan(ctx context.Context, files []packFile) (*packPlan, error) {
	plan := &packPlan{gen: w.state.nextGen}

	jobs := make(chan compressJob)
	results := make(chan compressResult)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				stored, id, err := codec.Compress(job.raw, w.primary, w.opts.MinGain)
				results <- compressResult{seq: job.seq, stored: stored, codec: id, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make(map[int]compressResult)
	collectDone := make(chan error, 1)
	go func() {
		var firstErr error
		for res := range results {
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
			collected[res.seq] = res
		}
		collectDone <- firstErr
	}()

	pending := make(map[digest.Digest]pendingChunk)
	newDigests := make([]digest.Digest, 0)

	produceErr := func() error {
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f.dir {
				plan.manifest = append(plan.manifest, manifestRecord{
					Path:  f.path,
					Kind:  entryKindLive,
					Mode:  uint32(f.mode),
					Mtime: unixOrZero(f.mtime),
				})
				continue
			}

			record, size, err := w.chunkFile(ctx, f, jobs, pending, &newDigests)
			if err != nil {
				return err
			}
			plan.rawBytes += size
			plan.manifest = append(plan.manifest, record)
		}
		return nil
	}()
	close(jobs)
	if err := <-collectDone; err != nil && produceErr == nil {
		produceErr = err
	}
	if produceErr != nil {
		return nil, produceErr
	}

	// Serialization barrier: all compression results are in. Assign
	// segment placement in submission order.
	var segment []byte
	flush := func() {
		if len(segment) > 0 {
			plan.segments = append(plan.segments, segment)
			segment = nil
		}
	}
	for _, d := range newDigests {
		res := collected[pending[d].seq]
		if len(segment) > 0 && len(segment)+len(res.stored) > w.opts.SegmentTarget {
			flush()
		}
		plan.table = append(plan.table, chunkTableRecord{
			Digest:    d[:],
			Gen:       plan.gen,
			Segment:   uint32(len(plan.segments)),
			Offset:    uint64(len(segment)),
			StoredLen: uint64(len(res.stored)),
			RawLen:    uint64(pending[d].rawLen),
			Codec:     uint8(res.codec),
		})
		segment = append(segment, res.stored...)
		plan.storedBytes += uint64(len(res.stored))
	}
	flush()

	return plan, nil
}

// chunkFile streams one input through the chunker, reusing existing
// chunks by digest and submitting genuinely new ones for compression.
func (w *Writer) chunkFile(ctx context.Context, f packFile, jobs chan<- compressJob, pending map[digest.Digest]pendingChunk, newDigests *[]digest.Digest) (manifestRecord, uint64, error) {
	var reader io.Reader
	switch {
	case f.source != "":
		file, err := os.Open(f.source)
		if err != nil {
			return manifestRecord{}, 0, fmt.Errorf("opening %s: %w", f.source, err)
		}
		defer file.Close()
		reader = file
	case f.reader != nil:
		reader = f.reader
	default:
		reader = bytes.NewReader(f.data)
	}

	record := manifestRecord{
		Path:  f.path,
		Kind:  entryKindLive,
		Mode:  uint32(f.mode),
		Mtime: unixOrZero(f.mtime),
	}

	chunker, err := chunk.New(reader, w.opts.Chunker)
	if err != nil {
		return manifestRecord{}, 0, err
	}

	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			return manifestRecord{}, 0, err
		}

		raw, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return manifestRecord{}, 0, fmt.Errorf("chunking %s: %w", f.path, err)
		}

		d := digest.Chunk(raw)
		total += uint64(len(raw))
		record.Chunks = append(record.Chunks, chunkRefRec{Digest: d[:], Length: uint32(len(raw))})

		// Dedup is a read-before-write short circuit: a digest already
		// placed, or already pending in this generation, is referenced
		// without storing anything.
		if loc, ok := w.state.chunks[d]; ok {
			if loc.rawLen != uint64(len(raw)) {
				return manifestRecord{}, 0, &DedupError{
					Digest: d,
					Detail: fmt.Sprintf("stored as %d bytes, new content is %d bytes", loc.rawLen, len(raw)),
				}
			}
			continue
		}
		if p, ok := pending[d]; ok {
			if p.rawLen != len(raw) {
				return manifestRecord{}, 0, &DedupError{
					Digest: d,
					Detail: fmt.Sprintf("pending as %d bytes, new content is %d bytes", p.rawLen, len(raw)),
				}
			}
			continue
		}

		// The chunker reuses its buffer; the job needs its own copy.
		owned := bytes.Clone(raw)
		seq := len(*newDigests)
		pending[d] = pendingChunk{seq: seq, rawLen: len(raw)}
		*newDigests = append(*newDigests, d)

		select {
		case jobs <- compressJob{seq: seq, raw: owned}:
		case <-ctx.Done():
			return manifestRecord{}, 0, ctx.Err()
		}
	}

	record.Size = total
	return record, total, nil
}

// checkPolicy verifies the planned generation against the configured
// caps, using the totals as they would stand after commit.
func (w *Writer) checkPolicy(plan *packPlan) error {
	entriesAfter := uint64(len(w.state.entries))
	bytesAfter := w.state.logicalBytes()
	for _, rec := range plan.manifest {
		if rec.tombstone() {
			continue
		}
		if existing, ok := w.state.entries[rec.Path]; ok {
			bytesAfter -= existing.Size
		} else {
			entriesAfter++
		}
		bytesAfter += rec.Size
	}

	return w.opts.Policy.CheckCaps(policy.Caps{
		TotalEntries:     entriesAfter,
		TotalBytes:       bytesAfter,
		GenerationBytes:  plan.rawBytes,
		GenerationStored: plan.storedBytes,
	})
}

// commit appends the planned generation: data segments, chunk table,
// manifest, then the tail summary, fsyncing before and after the tail
// so the commit point is durable only after everything it points to
// is. Any failure truncates back to the previous commit.
func (w *Writer) commit(plan *packPlan) error {
	committedSize := w.state.size
	abort := func(err error) error {
		w.file.Truncate(committedSize)
		return err
	}

	off := committedSize
	archiveID := w.state.super.archiveID

	segmentOffsets := make([]uint64, 0, len(plan.segments))
	for i, plaintext := range plan.segments {
		ctx := seal.RegionContext{ArchiveID: archiveID, Kind: seal.KindData, Generation: plan.gen, Index: uint32(i)}
		frame, err := sealRegion(w.sealer, ctx, plaintext)
		if err != nil {
			return abort(err)
		}
		if _, err := w.file.WriteAt(frame, off); err != nil {
			return abort(fmt.Errorf("writing data segment: %w", err))
		}
		segmentOffsets = append(segmentOffsets, uint64(off))
		off += int64(len(frame))
	}

	tablePlain, err := encodeChunkTable(segmentOffsets, plan.table)
	if err != nil {
		return abort(fmt.Errorf("encoding chunk table: %w", err))
	}
	tableCtx := seal.RegionContext{ArchiveID: archiveID, Kind: seal.KindChunkTable, Generation: plan.gen}
	tableFrame, err := sealRegion(w.sealer, tableCtx, tablePlain)
	if err != nil {
		return abort(err)
	}
	chunkTabOff := off
	if _, err := w.file.WriteAt(tableFrame, off); err != nil {
		return abort(fmt.Errorf("writing chunk table: %w", err))
	}
	off += int64(len(tableFrame))

	manifestPlain, err := encodeManifest(plan.manifest)
	if err != nil {
		return abort(fmt.Errorf("encoding manifest: %w", err))
	}
	manifestCtx := seal.RegionContext{ArchiveID: archiveID, Kind: seal.KindManifest, Generation: plan.gen}
	manifestFrame, err := sealRegion(w.sealer, manifestCtx, manifestPlain)
	if err != nil {
		return abort(err)
	}
	manifestOff := off
	if _, err := w.file.WriteAt(manifestFrame, off); err != nil {
		return abort(fmt.Errorf("writing manifest: %w", err))
	}
	off += int64(len(manifestFrame))

	// Everything the tail will point to must be durable before the
	// tail itself is written.
	if err := w.file.Sync(); err != nil {
		return abort(fmt.Errorf("syncing generation %d: %w", plan.gen, err))
	}

	tail := tailSummary{
		gen:         plan.gen,
		manifestOff: uint64(manifestOff),
		manifestLen: uint64(len(manifestFrame)),
		chunkTabOff: uint64(chunkTabOff),
		chunkTabLen: uint64(len(tableFrame)),
		prevTail:    noPrevTail,
		segments:    uint32(len(plan.segments)),
	}
	if w.state.lastTail >= 0 {
		tail.prevTail = uint64(w.state.lastTail)
	}
	tailOff := off
	if _, err := w.file.WriteAt(tail.encode(), tailOff); err != nil {
		return abort(fmt.Errorf("writing tail summary: %w", err))
	}
	if err := w.file.Sync(); err != nil {
		return abort(fmt.Errorf("syncing tail summary: %w", err))
	}

	// The generation exists. Fold it into the in-memory view.
	info := generationInfo{
		gen:      plan.gen,
		tailOff:  tailOff,
		segments: segmentOffsets,
		manifest: plan.manifest,
		table: &chunkTableEnvelope{
			Version:  chunkTableVersion,
			Segments: segmentOffsets,
			Entries:  plan.table,
		},
	}
	if err := w.state.apply(info); err != nil {
		return err
	}
	w.state.lastTail = tailOff
	w.state.size = tailOff + tailSize
	w.state.nextGen = plan.gen + 1

	w.logger.Debug("generation committed",
		"generation", plan.gen,
		"entries", len(plan.manifest),
		"new_chunks", len(plan.table),
		"segments", len(plan.segments),
		"stored_bytes", plan.storedBytes,
	)
	return nil
}

// setTailHint rewrites the superblock with a pointer to the newest
// tail. Only full-rewrite operations (compaction) call this; ordinary
// packs never modify committed bytes.
func (w *Writer) setTailHint() error {
	if w.state.lastTail < 0 {
		return nil
	}
	w.state.super.tailHint = uint64(w.state.lastTail)
	if _, err := w.file.WriteAt(w.state.super.encode(), 0); err != nil {
		return fmt.Errorf("writing superblock tail hint: %w", err)
	}
	return w.file.Sync()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
