// Package memory implements the save_memory family of tools: notes,
// insights, session summaries, and insight re-validation. All three
// document kinds are free-text understanding anchored to a repository (and
// optionally an initiative); insights additionally anchor to specific
// files via content hashes the staleness assessor later diffs against.
package memory

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/embedding"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/secrets"
	"github.com/cortexmemory/cortex/internal/store"
	"github.com/cortexmemory/cortex/internal/vcs"
	"github.com/cortexmemory/cortex/internal/walker"
)

var log = cortexlog.Named("memory")

// Reindexer is the subset of internal/search's Engine this package needs:
// every write invalidates the cached BM25 index.
type Reindexer interface {
	MarkDirty()
}

// Engine ties the store, embedder, and initiative resolver together for
// every memory-writing tool.
type Engine struct {
	db         *store.DB
	embedder   embedding.Provider
	initiative *initiative.Engine
	search     Reindexer
}

// New constructs a memory Engine. search may be nil in tests that don't
// care about BM25 invalidation.
func New(db *store.DB, embedder embedding.Provider, initiatives *initiative.Engine, search Reindexer) *Engine {
	return &Engine{db: db, embedder: embedder, initiative: initiatives, search: search}
}

// Initiative is the (id, name) pair a saved document may be tagged with.
type Initiative struct {
	ID   string
	Name string
}

// NoteRequest is save_note's input.
type NoteRequest struct {
	Content    string
	Title      string
	Tags       []string
	Repository string
	Initiative string
}

// InsightRequest is save_insight's input.
type InsightRequest struct {
	Content    string
	Files      []string
	Title      string
	Tags       []string
	Repository string
	Initiative string
}

// SessionSummaryRequest is conclude_session's input.
type SessionSummaryRequest struct {
	Summary      string
	ChangedFiles []string
	Repository   string
	Initiative   string
}

// SaveResult is the outcome of saving a note, insight, or session summary.
type SaveResult struct {
	ID         string
	Repository string
	Initiative *Initiative
}

// SessionSummaryResult additionally reports whether the summary text itself
// looks like it's announcing the initiative is done.
type SessionSummaryResult struct {
	SaveResult
	CompletionSignalDetected bool
}

// ValidationRequest is validate_insight's input.
type ValidationRequest struct {
	InsightID          string
	Result             string // still_valid, partially_valid, no_longer_valid
	Notes              string
	Deprecate          bool
	ReplacementInsight string
	Repository         string
}

// ValidationResult reports what validate_insight changed.
type ValidationResult struct {
	InsightID            string
	Result               string
	VerifiedAt           string
	Deprecated           bool
	ReplacementInsightID string
	FileHashesRefreshed  bool
}

// SaveMemory is the thin kind-dispatcher save_memory presents to callers:
// "note" and "insight" share one entry point, differing only in that
// insight requires a non-empty files list.
func (e *Engine) SaveMemory(kind string, content, title string, tags []string, repository, initiativeArg string, files []string) (SaveResult, error) {
	switch kind {
	case "note":
		return e.SaveNote(NoteRequest{Content: content, Title: title, Tags: tags, Repository: repository, Initiative: initiativeArg})
	case "insight":
		if len(files) == 0 {
			return SaveResult{}, fmt.Errorf("memory: files is required when kind=insight")
		}
		return e.SaveInsight(InsightRequest{Content: content, Files: files, Title: title, Tags: tags, Repository: repository, Initiative: initiativeArg})
	default:
		return SaveResult{}, fmt.Errorf("memory: unknown kind %q, valid kinds are \"note\", \"insight\"", kind)
	}
}

// SaveNote saves a decision, documentation snippet, or learning.
func (e *Engine) SaveNote(req NoteRequest) (SaveResult, error) {
	repo := e.resolveRepository(req.Repository)
	repoPath := repoPathFor(repo)
	branch := branchFor(repoPath)
	now := nowRFC3339()

	initID, initName := e.resolveInitiativeTag(repo, req.Initiative)

	var text strings.Builder
	if req.Title != "" {
		text.WriteString(req.Title)
		text.WriteString("\n\n")
	}
	text.WriteString(secrets.Scrub(req.Content))

	id := "note:" + shortID()
	meta := map[string]any{
		"type":        store.KindNote,
		"title":       req.Title,
		"tags":        encodeTags(req.Tags),
		"repository":  repo,
		"branch":      branch,
		"created_at":  now,
		"updated_at":  now,
		"verified_at": now,
		"status":      "active",
	}
	if commit := headCommit(repoPath); commit != "" {
		meta["created_commit"] = commit
	}
	if initID != "" {
		meta["initiative_id"] = initID
		meta["initiative_name"] = initName
	}

	if err := e.upsertDocument(id, text.String(), meta); err != nil {
		return SaveResult{}, fmt.Errorf("memory: save note: %w", err)
	}
	log.Info("note saved: %s (repository=%s)", id, repo)

	return SaveResult{ID: id, Repository: repo, Initiative: initiativeOrNil(initID, initName)}, nil
}

// SaveInsight saves understanding anchored to specific files. Files must be
// non-empty; a file that doesn't currently exist under the repository path
// is simply omitted from the stored hashes, not rejected outright.
func (e *Engine) SaveInsight(req InsightRequest) (SaveResult, error) {
	if len(req.Files) == 0 {
		return SaveResult{}, fmt.Errorf("memory: files is required and must be a non-empty list")
	}

	repo := e.resolveRepository(req.Repository)
	repoPath := repoPathFor(repo)
	branch := branchFor(repoPath)
	now := nowRFC3339()

	initID, initName := e.resolveInitiativeTag(repo, req.Initiative)

	var text strings.Builder
	if req.Title != "" {
		text.WriteString(req.Title)
		text.WriteString("\n\n")
	}
	text.WriteString(secrets.Scrub(req.Content))
	fmt.Fprintf(&text, "\n\nLinked files: %s", strings.Join(req.Files, ", "))

	id := "insight:" + shortID()
	meta := map[string]any{
		"type":        store.KindInsight,
		"title":       req.Title,
		"files":       encodeStringSlice(req.Files),
		"tags":        encodeTags(req.Tags),
		"repository":  repo,
		"branch":      branch,
		"created_at":  now,
		"updated_at":  now,
		"verified_at": now,
		"status":      "active",
		"file_hashes": encodeStringMap(hashFiles(repoPath, req.Files)),
	}
	if commit := headCommit(repoPath); commit != "" {
		meta["created_commit"] = commit
	}
	if initID != "" {
		meta["initiative_id"] = initID
		meta["initiative_name"] = initName
		e.touchInitiative(initID, now)
	}

	if err := e.upsertDocument(id, text.String(), meta); err != nil {
		return SaveResult{}, fmt.Errorf("memory: save insight: %w", err)
	}
	log.Info("insight saved: %s (repository=%s, files=%d)", id, repo, len(req.Files))

	return SaveResult{ID: id, Repository: repo, Initiative: initiativeOrNil(initID, initName)}, nil
}

// ConcludeSession saves an end-of-session summary and reports whether the
// summary text itself contains a completion signal, so the caller can
// prompt to mark the tagged initiative complete.
func (e *Engine) ConcludeSession(req SessionSummaryRequest) (SessionSummaryResult, error) {
	repo := e.resolveRepository(req.Repository)
	repoPath := repoPathFor(repo)
	branch := branchFor(repoPath)
	now := nowRFC3339()

	initID, initName := e.resolveInitiativeTag(repo, req.Initiative)

	text := fmt.Sprintf("Session Summary:\n\n%s\n\nChanged files: %s",
		secrets.Scrub(req.Summary), strings.Join(req.ChangedFiles, ", "))

	id := "session_summary:" + shortID()
	meta := map[string]any{
		"type":       store.KindSessionSummary,
		"repository": repo,
		"branch":     branch,
		"files":      encodeStringSlice(req.ChangedFiles),
		"created_at": now,
		"updated_at": now,
		"status":     "active",
	}
	if commit := headCommit(repoPath); commit != "" {
		meta["created_commit"] = commit
	}
	if initID != "" {
		meta["initiative_id"] = initID
		meta["initiative_name"] = initName
		e.touchInitiative(initID, now)
	}

	if err := e.upsertDocument(id, text, meta); err != nil {
		return SessionSummaryResult{}, fmt.Errorf("memory: conclude session: %w", err)
	}
	log.Info("session summary saved: %s (repository=%s, files=%d)", id, repo, len(req.ChangedFiles))

	result := SessionSummaryResult{
		SaveResult: SaveResult{ID: id, Repository: repo, Initiative: initiativeOrNil(initID, initName)},
	}
	if initID != "" {
		result.CompletionSignalDetected = initiative.DetectCompletionSignals(req.Summary)
	}
	return result, nil
}

// ValidateInsight records a fresh assessment of a stored insight, and
// handles the deprecate-and-replace flow when the assessment says the
// insight is no longer accurate.
func (e *Engine) ValidateInsight(req ValidationRequest) (ValidationResult, error) {
	res, err := e.db.Get([]string{req.InsightID}, nil, store.Include{Text: true, Metadata: true})
	if err != nil {
		return ValidationResult{}, fmt.Errorf("memory: validate insight: %w", err)
	}
	if len(res.IDs) == 0 {
		return ValidationResult{}, fmt.Errorf("memory: insight not found: %s", req.InsightID)
	}
	meta := res.Metadatas[0]
	doc := res.Texts[0]

	if t, _ := meta["type"].(string); t != store.KindInsight {
		return ValidationResult{}, fmt.Errorf("memory: document %s is not an insight (type=%v)", req.InsightID, meta["type"])
	}

	now := nowRFC3339()
	meta["verified_at"] = now
	meta["updated_at"] = now
	meta["last_validation_result"] = req.Result
	if s, _ := meta["created_at"].(string); s == "" {
		meta["created_at"] = now
	}
	if req.Notes != "" {
		meta["validation_notes"] = req.Notes
	}

	out := ValidationResult{InsightID: req.InsightID, Result: req.Result, VerifiedAt: now}

	repoPath := repoPathFor(e.resolveRepository(req.Repository))

	switch {
	case req.Result == "no_longer_valid" && req.Deprecate:
		meta["status"] = "deprecated"
		meta["deprecated_at"] = now
		reason := req.Notes
		if reason == "" {
			reason = "Marked invalid during validation"
		}
		meta["deprecation_reason"] = reason
		out.Deprecated = true
		log.Info("insight deprecated: %s", req.InsightID)

		if req.ReplacementInsight != "" {
			linkedFiles := decodeStringSlice(meta["files"])
			tags := decodeStringSlice(meta["tags"])
			title, _ := meta["title"].(string)
			if title != "" {
				title += " (Updated)"
			}
			repo, _ := meta["repository"].(string)
			if repo == "" {
				repo = req.Repository
			}
			replacement, err := e.SaveInsight(InsightRequest{
				Content: req.ReplacementInsight, Files: linkedFiles, Title: title, Tags: tags, Repository: repo,
			})
			if err == nil {
				meta["superseded_by"] = replacement.ID
				out.ReplacementInsightID = replacement.ID
				log.Info("replacement insight created: %s", replacement.ID)
			}
		}

	case req.Result == "still_valid":
		linkedFiles := decodeStringSlice(meta["files"])
		if len(linkedFiles) > 0 && repoPath != "" {
			meta["file_hashes"] = encodeStringMap(hashFiles(repoPath, linkedFiles))
			out.FileHashesRefreshed = true
		}
		if commit := headCommit(repoPath); commit != "" {
			meta["created_commit"] = commit
		}
		log.Info("insight validated as still valid: %s", req.InsightID)
	}

	if err := e.upsertDocument(req.InsightID, doc, meta); err != nil {
		return ValidationResult{}, fmt.Errorf("memory: validate insight: %w", err)
	}
	return out, nil
}

// resolveRepository implements the repository-resolution order: explicit
// argument, then the cwd if it's a VC repository, then the repository of
// any existing focus document, finally the "global" fallback.
func (e *Engine) resolveRepository(repository string) string {
	if repository != "" {
		return repository
	}
	if repoPath := repoPathFor(""); repoPath != "" {
		return filepath.Base(strings.TrimRight(repoPath, "/"))
	}
	if e.initiative != nil {
		if repo := e.initiative.AnyFocusedRepository(); repo != "" {
			return repo
		}
	}
	return "global"
}

// resolveInitiativeTag resolves the initiative-tagging argument: explicit
// id/name wins, otherwise the repository's currently focused initiative.
func (e *Engine) resolveInitiativeTag(repository, initiativeArg string) (id, name string) {
	if e.initiative == nil {
		return "", ""
	}
	return e.initiative.Resolve(repository, initiativeArg)
}

func (e *Engine) touchInitiative(initiativeID, timestamp string) {
	if e.initiative == nil {
		return
	}
	e.initiative.TouchUpdatedAt(initiativeID, timestamp)
}

func (e *Engine) upsertDocument(id, text string, meta map[string]any) error {
	vec, err := e.embedder.GetDocumentEmbedding(text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if err := e.db.Upsert(store.Document{ID: id, Text: text, Metadata: meta, Embedding: vec}); err != nil {
		return err
	}
	if e.search != nil {
		e.search.MarkDirty()
	}
	return nil
}

func initiativeOrNil(id, name string) *Initiative {
	if id == "" {
		return nil
	}
	return &Initiative{ID: id, Name: name}
}

// repoPathFor returns the git root of the current working directory, or ""
// if the process isn't running inside a git working tree. The repository
// argument is accepted for symmetry with callers that resolved a name but
// currently unused: hashing and commit/branch lookups always operate
// against cwd, matching the tool's single-repository-per-session model.
func repoPathFor(_ string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if !vcs.IsRepo(cwd) {
		return ""
	}
	return vcs.Root(cwd)
}

func branchFor(repoPath string) string {
	if repoPath == "" {
		return "unknown"
	}
	if b := vcs.Branch(repoPath); b != "" {
		return b
	}
	return "unknown"
}

func headCommit(repoPath string) string {
	if repoPath == "" {
		return ""
	}
	return vcs.HeadCommit(repoPath)
}

func hashFiles(repoPath string, files []string) map[string]string {
	hashes := make(map[string]string)
	if repoPath == "" {
		return hashes
	}
	for _, f := range files {
		full := f
		if !filepath.IsAbs(full) {
			full = filepath.Join(repoPath, f)
		}
		hash, err := walker.ComputeFileHash(full)
		if err != nil {
			continue
		}
		hashes[f] = hash
	}
	return hashes
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func shortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("15040501")))
	}
	return hex.EncodeToString(b)
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	return encodeStringSlice(tags)
}

func encodeStringSlice(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStringSlice(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
