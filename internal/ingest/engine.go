// Package ingest walks a codebase, chunks and embeds changed files, and
// keeps the Store's code/skeleton/file_metadata/dependency documents in
// sync with what's on disk — using git-diff delta sync when available,
// falling back to content-hash delta sync otherwise.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cortexmemory/cortex/internal/chunker"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/delta"
	"github.com/cortexmemory/cortex/internal/embedding"
	"github.com/cortexmemory/cortex/internal/secrets"
	"github.com/cortexmemory/cortex/internal/store"
	"github.com/cortexmemory/cortex/internal/vcs"
	"github.com/cortexmemory/cortex/internal/walker"
)

var log = cortexlog.Named("ingest")

// Options controls one ingest run.
type Options struct {
	Repository       string
	ForceFull        bool
	IncludeGlobs     []string
	UseCortexignore  bool
	GlobalIgnorePath string
	HeaderProvider   HeaderProvider
	ChunkSize        int
	ChunkOverlap     int
}

// FileError records a per-file failure without aborting the whole run.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Stats is the result of one Ingest call.
type Stats struct {
	Repository    string
	Branch        string
	DeltaMode     string // full, git, hash
	FilesScanned  int
	FilesProcessed int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	ChunksDeleted int
	Skeleton      TreeStats
	Errors        []FileError
}

// Engine ties the walker, VC adapter, delta state, chunker, and embedder
// into the Store.
type Engine struct {
	db       *store.DB
	embedder embedding.Provider
}

// New constructs an Engine. stateFilePath is the delta-state JSON path for
// the repository being ingested (config.StateFilePath resolves this).
func New(db *store.DB, embedder embedding.Provider) *Engine {
	return &Engine{db: db, embedder: embedder}
}

// Ingest runs one delta-sync pass over root and returns stats describing
// what changed. stateFilePath is where delta state for this repository is
// persisted between runs.
func (e *Engine) Ingest(root, stateFilePath string, opts Options) (Stats, error) {
	start := time.Now()
	root = filepath.Clean(root)
	repository := opts.Repository
	if repository == "" {
		repository = filepath.Base(root)
	}
	branch := vcs.Branch(root)
	if branch == "" {
		branch = "main"
	}

	if opts.HeaderProvider == nil {
		opts.HeaderProvider = noneHeaderProvider{}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.ChunkOverlap == 0 {
		opts.ChunkOverlap = chunker.DefaultChunkOverlap
	}

	stats := Stats{Repository: repository, Branch: branch}
	log.Info("ingest starting: root=%s repository=%s branch=%s", root, repository, branch)

	ignore := walker.LoadIgnorePatterns(root, opts.GlobalIgnorePath, opts.UseCortexignore)
	walkOpts := walker.Options{IgnorePatterns: ignore, IncludeGlobs: opts.IncludeGlobs}

	st := delta.State{}
	if !opts.ForceFull {
		loaded, err := delta.Load(stateFilePath)
		if err != nil {
			return stats, fmt.Errorf("load delta state: %w", err)
		}
		st = loaded
	}

	useGit := vcs.IsRepo(root) && !opts.ForceFull
	var currentCommit string
	if useGit {
		currentCommit = vcs.HeadCommit(root)
	}

	var filesToProcess []string
	var deletedFiles []string
	var renamedFrom []string

	switch {
	case opts.ForceFull:
		stats.DeltaMode = "full"
		all, err := walkAll(root, walkOpts)
		if err != nil {
			return stats, err
		}
		filesToProcess = all
		stats.FilesScanned = len(all)

	case useGit && st.IndexedCommit != "" && currentCommit != "":
		stats.DeltaMode = "git"
		modified, deleted, renamed := vcs.ChangedSince(root, st.IndexedCommit)
		untracked := vcs.Untracked(root)
		deletedFiles = deleted
		for _, r := range renamed {
			renamedFrom = append(renamedFrom, r.Old)
		}

		all, err := walkAll(root, walkOpts)
		if err != nil {
			return stats, err
		}
		validAbs := make(map[string]bool, len(all))
		for _, p := range all {
			validAbs[p] = true
		}

		candidates := map[string]bool{}
		for _, p := range modified {
			candidates[p] = true
		}
		for _, p := range untracked {
			candidates[p] = true
		}
		for _, r := range renamed {
			candidates[r.New] = true
		}
		for rel := range candidates {
			abs := filepath.Join(root, rel)
			if validAbs[abs] {
				filesToProcess = append(filesToProcess, abs)
			}
		}
		sort.Strings(filesToProcess)
		stats.FilesScanned = len(filesToProcess)

	default:
		stats.DeltaMode = "hash"
		all, err := walkAll(root, walkOpts)
		if err != nil {
			return stats, err
		}
		stats.FilesScanned = len(all)
		// FileHashes persists keyed by repo-relative path (gc and delta.State
		// both use that convention), so compare on the relative key even
		// though hashing itself needs the absolute path to open the file.
		for _, abs := range all {
			rel := relPath(root, abs)
			hash, err := walker.ComputeFileHash(abs)
			if err != nil {
				continue
			}
			if st.FileHashes[rel] != hash {
				filesToProcess = append(filesToProcess, abs)
			}
		}
	}

	if st.FileHashes == nil {
		st.FileHashes = map[string]string{}
	}

	// Garbage collect deleted and old-side-of-renamed paths. vcs reports
	// these already repo-relative, matching the keys FileHashes is indexed by.
	relPaths := append(append([]string{}, deletedFiles...), renamedFrom...)
	if len(relPaths) > 0 {
		n, err := DeleteFileChunks(e.db, relPaths, repository)
		if err != nil {
			log.Warn("gc delete failed: %v", err)
		}
		stats.ChunksDeleted += int(n)
		stats.FilesDeleted = len(deletedFiles)
		for _, p := range relPaths {
			delete(st.FileHashes, p)
		}
	}

	for _, abs := range filesToProcess {
		relP := relPath(root, abs)
		docIDs, err := e.ingestFile(abs, relP, repository, branch, opts)
		if err != nil {
			stats.Errors = append(stats.Errors, FileError{File: relP, Error: err.Error()})
			stats.FilesSkipped++
			continue
		}
		if len(docIDs) == 0 {
			stats.FilesSkipped++
			continue
		}
		stats.FilesProcessed++
		stats.ChunksCreated += len(docIDs)

		hash, err := walker.ComputeFileHash(abs)
		if err == nil {
			st.FileHashes[relP] = hash
		}
	}

	st.Repository = repository
	st.Branch = branch
	st.IndexedCommit = currentCommit
	if err := delta.Save(stateFilePath, st); err != nil {
		log.Warn("save delta state failed: %v", err)
	}

	tree, treeStats := GenerateTree(root, ignore, 10)
	stats.Skeleton = treeStats
	skeletonID := store.SkeletonID(repository, branch)
	if err := e.db.Upsert(store.Document{
		ID:   skeletonID,
		Text: tree,
		Metadata: map[string]any{
			"type":            store.KindSkeleton,
			"repository":      repository,
			"branch":          branch,
			"created_at":      time.Now().UTC().Format(time.RFC3339),
			"updated_at":      time.Now().UTC().Format(time.RFC3339),
			"total_files":     treeStats.TotalFiles,
			"total_dirs":      treeStats.TotalDirs,
			"indexed_commit":  currentCommit,
		},
	}); err != nil {
		log.Warn("skeleton upsert failed: %v", err)
	}

	log.Info("ingest complete (%s): %d files, %d chunks, %d deleted in %s",
		stats.DeltaMode, stats.FilesProcessed, stats.ChunksCreated, stats.ChunksDeleted, time.Since(start))

	return stats, nil
}

func walkAll(root string, opts walker.Options) ([]string, error) {
	var files []string
	err := walker.Walk(root, opts, func(path string) error {
		files = append(files, path)
		return nil
	})
	return files, err
}

func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// ingestFile chunks a single file, embeds and upserts each chunk, and
// returns the document ids created. A return of (nil, nil) means the file
// was skipped (empty content), not an error.
func (e *Engine) ingestFile(absPath, relP, repository, branch string, opts Options) ([]string, error) {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	content := string(raw)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lang := chunker.DetectLanguage(relP, firstN(content, 200))
	content = secrets.Scrub(content)

	chunks := chunker.Chunk(content, lang, opts.ChunkSize, opts.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, nil
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	docIDs := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		header := opts.HeaderProvider.Header(chunk, relP, lang)
		scope := chunker.ExtractScope(chunk, lang)
		fullText := header + "\n\n---\n\n" + chunk

		vec, err := e.embedder.GetDocumentEmbedding(fullText)
		if err != nil {
			return docIDs, fmt.Errorf("embed chunk %d: %w", i, err)
		}

		meta := map[string]any{
			"type":         store.KindCode,
			"repository":   repository,
			"branch":       branch,
			"file_path":    relP,
			"chunk_index":  i,
			"total_chunks": len(chunks),
			"language":     string(lang),
			"indexed_at":   indexedAt,
			"created_at":   indexedAt,
			"updated_at":   indexedAt,
		}
		if scope.FunctionName != "" {
			meta["function_name"] = scope.FunctionName
		}
		if scope.ClassName != "" {
			meta["class_name"] = scope.ClassName
		}
		if scope.Scope != "" {
			meta["scope"] = scope.Scope
		}

		id := store.CodeChunkID(repository, relP, i)
		if err := e.db.Upsert(store.Document{ID: id, Text: fullText, Metadata: meta, Embedding: vec}); err != nil {
			return docIDs, fmt.Errorf("upsert chunk %d: %w", i, err)
		}
		docIDs = append(docIDs, id)
	}

	return docIDs, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
