// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package sanitize validates and normalizes archive entry paths.
//
// Every path that enters an archive (pack, rename) and every path that
// leaves one (extract) passes through here. Archive paths are
// slash-separated and relative; they never name an absolute location,
// never traverse upward, and never contain segments the filesystem
// would reinterpret. Extraction additionally verifies containment
// under the destination root, so a hostile archive cannot write
// outside it.
package sanitize

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxPathLength bounds archive entry paths. Matches common filesystem
// PATH_MAX so any valid entry can be extracted verbatim.
const MaxPathLength = 4096

// PathError reports a rejected archive path.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid archive path %q: %s", e.Path, e.Reason)
}

// Path validates and normalizes an archive entry path. It returns the
// canonical form: forward slashes, no leading "./", no duplicate or
// trailing separators. All lookups and manifest entries use the
// canonical form, so two spellings of the same path always collide.
//
// Rules enforced:
//   - Non-empty, at most MaxPathLength bytes
//   - No NUL bytes, no backslashes
//   - Relative (no leading "/")
//   - No "." or ".." segments, no empty segments
func Path(path string) (string, error) {
	if path == "" {
		return "", &PathError{Path: path, Reason: "path is empty"}
	}
	if len(path) > MaxPathLength {
		return "", &PathError{Path: path, Reason: fmt.Sprintf("path is %d bytes, maximum is %d", len(path), MaxPathLength)}
	}
	if strings.ContainsRune(path, 0) {
		return "", &PathError{Path: path, Reason: "path contains NUL byte"}
	}
	if strings.ContainsRune(path, '\\') {
		return "", &PathError{Path: path, Reason: "path contains backslash (archive paths use forward slashes)"}
	}
	if path[0] == '/' {
		return "", &PathError{Path: path, Reason: "path is absolute"}
	}

	segments := strings.Split(path, "/")
	normalized := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch segment {
		case "":
			// Collapse duplicate and trailing slashes.
			continue
		case ".":
			continue
		case "..":
			return "", &PathError{Path: path, Reason: "path contains '..' segment (traversal)"}
		}
		normalized = append(normalized, segment)
	}
	if len(normalized) == 0 {
		return "", &PathError{Path: path, Reason: "path has no segments"}
	}

	return strings.Join(normalized, "/"), nil
}

// ExtractTarget resolves an archive path to a filesystem destination
// under root and verifies containment. The archive path must already
// be canonical (from Path); this is a second line of defense against
// manifest entries that were crafted rather than packed.
func ExtractTarget(root, archivePath string) (string, error) {
	canonical, err := Path(archivePath)
	if err != nil {
		return "", err
	}

	target := filepath.Join(root, filepath.FromSlash(canonical))
	relative, err := filepath.Rel(root, target)
	if err != nil {
		return "", &PathError{Path: archivePath, Reason: fmt.Sprintf("cannot resolve under %s: %v", root, err)}
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: archivePath, Reason: "path escapes extraction root"}
	}
	return target, nil
}

// HasPrefix reports whether path is prefix itself or lives under the
// prefix directory. Both must be canonical. Used by recursive delete
// and prefix listing, where "ab" must not match "abc/file".
func HasPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
