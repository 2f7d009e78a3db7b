// Package walker traverses a repository honoring layered ignore patterns
// and include globs, filtering binary/oversized files, and computing
// content hashes for delta-sync comparison.
package walker

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file the walker will yield; larger files are
// silently skipped (a file exactly at the limit is included).
const MaxFileSize = 1_000_000

var defaultIgnorePatterns = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, ".venv": true, "venv": true, "env": true,
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true, ".ruff_cache": true,
	"dist": true, "build": true, "out": true, ".next": true, ".nuxt": true, "target": true,
	".idea": true, ".vscode": true,
	".cache": true, "coverage": true, ".coverage": true, ".tox": true, ".eggs": true,
}

var binaryExtensions = map[string]bool{
	".exe": true, ".bin": true, ".so": true, ".dylib": true, ".dll": true, ".o": true, ".a": true, ".lib": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".svg": true, ".webp": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true, ".webm": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true, ".rar": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
}

// Options controls traversal filtering.
type Options struct {
	Extensions     map[string]bool // allow-list; nil means all non-binary extensions
	IgnorePatterns map[string]bool // merged with defaults; nil uses defaults only
	IncludeGlobs   []string        // relative to root; nil means include everything not ignored
}

// Walk traverses root and calls fn for every eligible file's absolute path.
// Directory pruning, hidden-file skipping, binary/size filtering, and
// extension/include-glob filters are applied in that order, matching the
// ingest engine's expectations about what "walker-eligible" means.
func Walk(root string, opts Options, fn func(path string) error) error {
	ignore := mergeIgnore(opts.IgnorePatterns)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		name := info.Name()

		if info.IsDir() {
			if path == root {
				return nil
			}
			if shouldPruneDir(name, ignore) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if binaryExtensions[ext] {
			return nil
		}
		if info.Size() > MaxFileSize {
			return nil
		}
		if opts.Extensions != nil && !opts.Extensions[ext] {
			return nil
		}
		if len(opts.IncludeGlobs) > 0 {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil || !matchesAnyGlob(rel, opts.IncludeGlobs) {
				return nil
			}
		}

		return fn(path)
	})
}

func shouldPruneDir(name string, ignore map[string]bool) bool {
	if ignore[name] {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, ".egg-info") {
		return true
	}
	return false
}

func mergeIgnore(extra map[string]bool) map[string]bool {
	merged := make(map[string]bool, len(defaultIgnorePatterns)+len(extra))
	for k := range defaultIgnorePatterns {
		merged[k] = true
	}
	for k, v := range extra {
		if v {
			merged[k] = true
		}
	}
	return merged
}

func matchesAnyGlob(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// ComputeFileHash returns the MD5 hex digest of a file's content, for
// delta-sync comparison against a prior run's stored hash.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChangedFiles filters paths to those whose current content hash differs
// from priorHashes[path]. Unreadable files are silently skipped (not
// reported as changed), matching the best-effort discipline elsewhere in
// the ingest path.
func ChangedFiles(paths []string, priorHashes map[string]string) []string {
	var changed []string
	for _, p := range paths {
		hash, err := ComputeFileHash(p)
		if err != nil {
			continue
		}
		if priorHashes[p] != hash {
			changed = append(changed, p)
		}
	}
	return changed
}
