// Package search implements Cortex's hybrid retrieval pipeline: branch-aware
// filter construction, concurrent vector + BM25 retrieval, reciprocal-rank
// fusion, cross-encoder reranking, layered score boosting, and per-result
// staleness annotation.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexmemory/cortex/internal/bm25"
	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/embedding"
	"github.com/cortexmemory/cortex/internal/rerank"
	"github.com/cortexmemory/cortex/internal/staleness"
	"github.com/cortexmemory/cortex/internal/store"
	"github.com/cortexmemory/cortex/internal/vcs"
)

var log = cortexlog.Named("search")

const rrfK = 60

// recencyBoostedTypes are the document kinds recency boosting applies to.
// Old code is not less relevant, so code chunks are excluded.
var recencyBoostedTypes = map[string]bool{
	store.KindNote:           true,
	store.KindSessionSummary: true,
}

// metadataOnlyTypes belong to the whole repository rather than any one
// initiative, so an initiative filter keeps them even when untagged.
var metadataOnlyTypes = map[string]bool{
	store.KindFileMetadata: true,
	store.KindSkeleton:     true,
	store.KindTechStack:    true,
	store.KindDependency:   true,
	store.KindDataContract: true,
	store.KindEntryPoint:   true,
}

const initiativeBoostFactor = 1.3

// Request is one search call's parameters.
type Request struct {
	Query            string
	Repository       string
	Branch           string
	Initiative       string
	Types            []string
	Preset           string
	MinScore         *float64
	IncludeCompleted bool
}

// Result is one ranked, shaped search hit.
type Result struct {
	Content             string
	FilePath            string
	Repository          string
	Branch              string
	Language            string
	Score               float64
	CreatedAt           string
	InitiativeID        string
	InitiativeName      string
	Staleness           *staleness.Result
	VerificationWarning string

	// Verbose-mode boost breakdown; nil unless config.RuntimeCfg.Verbose.
	TypeBoost       *float64
	RecencyBoost    *float64
	InitiativeBoost *float64
}

// StalenessSummary rolls up how many returned results need verification.
type StalenessSummary struct {
	VerificationRequiredCount int
	Message                   string
}

// SkeletonInfo is the repository tree attached to a response, if indexed.
type SkeletonInfo struct {
	Repository string
	Branch     string
	TotalFiles int
	TotalDirs  int
	Tree       string
}

// TechStackInfo is the tech_stack document content, if present.
type TechStackInfo struct {
	Content   string
	UpdatedAt string
}

// InitiativeSummary is the focused initiative's display info.
type InitiativeSummary struct {
	Name      string
	Status    string
	UpdatedAt string
}

// RepositoryContext bundles the ambient tech-stack and focus info a
// response includes alongside results.
type RepositoryContext struct {
	Repository string
	TechStack  *TechStackInfo
	Initiative *InitiativeSummary
}

// Response is the full shaped search result.
type Response struct {
	Query              string
	Results            []Result
	TotalCandidates    int
	Returned           int
	Message            string
	StalenessSummary   *StalenessSummary
	RepositorySkeleton *SkeletonInfo
	RepositoryContext  *RepositoryContext
}

// Engine holds the store, embedder, and reranker the pipeline is built
// from, plus a lazily-rebuilt BM25 index.
type Engine struct {
	db       *store.DB
	embedder embedding.Provider
	reranker rerank.Provider

	mu      sync.Mutex
	bm25Idx *bm25.Index
	dirty   bool
}

// New constructs a search Engine.
func New(db *store.DB, embedder embedding.Provider, reranker rerank.Provider) *Engine {
	return &Engine{db: db, embedder: embedder, reranker: reranker, dirty: true}
}

// MarkDirty flags the BM25 index for rebuild on the next search. Callers
// that write to the store (ingest, memory ops) call this after a commit.
func (e *Engine) MarkDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// fusedDoc is one document after RRF fusion, carrying text/meta forward
// through rerank and boosting.
type fusedDoc struct {
	id    string
	text  string
	meta  map[string]any
	score float64

	typeBoost       float64
	recencyBoost    float64
	initiativeBoost float64
}

// Search runs the full pipeline for req against repoPath (used for branch
// detection and insight file-staleness checks; may be empty for a
// non-git-backed or cross-repository query).
func (e *Engine) Search(ctx context.Context, req Request, cfg config.RuntimeCfg, repoPath string) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, fmt.Errorf("search: query must not be empty")
	}

	types := resolveTypes(req.Types, req.Preset)

	currentBranch := "unknown"
	if repoPath != "" {
		if b := vcs.Branch(repoPath); b != "" {
			currentBranch = b
		}
	}
	effectiveBranch := req.Branch
	if effectiveBranch == "" {
		effectiveBranch = currentBranch
	}
	branches := []string{effectiveBranch}
	if effectiveBranch != "main" && effectiveBranch != "master" && effectiveBranch != "unknown" {
		branches = append(branches, "main")
	}

	var initiativeID string
	var focusedInitiativeID string
	if req.Initiative != "" {
		id, _ := e.resolveInitiative(req.Repository, req.Initiative)
		initiativeID = id
	}
	if initiativeID == "" && req.Repository != "" {
		focusedInitiativeID = e.focusedInitiativeID(req.Repository)
	}

	where := buildFilter(req.Repository, types, branches)

	topKRetrieve := cfg.TopKRetrieve
	if topKRetrieve <= 0 {
		topKRetrieve = 50
	}

	candidates, err := e.retrieve(ctx, req.Query, where, topKRetrieve)
	if err != nil {
		return Response{}, err
	}
	totalCandidates := len(candidates)
	if totalCandidates == 0 {
		return Response{Query: req.Query, Message: "No results found. Try ingesting code first."}, nil
	}

	topKRerank := cfg.TopKRerank
	if topKRerank <= 0 {
		topKRerank = 20
	}
	ranked := e.rerankFused(req.Query, candidates, topKRerank)

	if cfg.TypeBoost {
		multipliers := cfg.TypeMultipliers
		if multipliers == nil {
			multipliers = config.DefaultTypeMultipliers()
		}
		applyTypeBoost(ranked, multipliers)
	}

	halfLife := cfg.RecencyHalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}
	if cfg.RecencyBoost {
		applyRecencyBoost(ranked, halfLife, 0.5)
	}

	if initiativeID != "" {
		ranked = filterByInitiative(ranked, initiativeID)
	} else if focusedInitiativeID != "" {
		applyInitiativeBoost(ranked, focusedInitiativeID)
	}

	threshold := cfg.MinScore
	if req.MinScore != nil {
		threshold = *req.MinScore
	}
	ranked = thresholdFilter(ranked, threshold)

	staleLimit := cfg.StalenessCheckLimit
	if staleLimit <= 0 {
		staleLimit = 10
	}
	results, verificationCount := e.shapeResults(ranked, repoPath, cfg.StalenessCheckEnabled, staleLimit, cfg.Verbose)

	resp := Response{
		Query:           req.Query,
		Results:         results,
		TotalCandidates: totalCandidates,
		Returned:        len(results),
	}
	if verificationCount > 0 {
		resp.StalenessSummary = &StalenessSummary{
			VerificationRequiredCount: verificationCount,
			Message: fmt.Sprintf("%d result(s) may be stale and require verification before trusting.",
				verificationCount),
		}
	}

	detectedRepo := req.Repository
	if detectedRepo == "" && len(results) > 0 {
		detectedRepo = results[0].Repository
	}
	if detectedRepo != "" && detectedRepo != "unknown" {
		resp.RepositorySkeleton = e.fetchSkeleton(detectedRepo, branches)
		resp.RepositoryContext = e.fetchContext(detectedRepo)
	}

	return resp, nil
}

// retrieve runs vector and BM25 retrieval concurrently and fuses them by
// reciprocal rank.
func (e *Engine) retrieve(ctx context.Context, query string, where store.Filter, topK int) ([]fusedDoc, error) {
	var vectorDocs, bm25Docs []rankedCandidate

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		qvec, err := e.embedder.GetQueryEmbedding(query)
		if err != nil {
			return fmt.Errorf("query embedding: %w", err)
		}
		res, err := e.db.Query(qvec, topK, where, store.Include{Text: true, Metadata: true})
		if err != nil {
			return fmt.Errorf("vector query: %w", err)
		}
		vectorDocs = make([]rankedCandidate, len(res.IDs))
		for i, id := range res.IDs {
			vectorDocs[i] = rankedCandidate{id: id, text: res.Texts[i], meta: res.Metadatas[i]}
		}
		return nil
	})
	g.Go(func() error {
		idx, err := e.bm25Index(where)
		if err != nil {
			return fmt.Errorf("bm25 index: %w", err)
		}
		// Over-fetch: bm25Index is built unfiltered (see its doc comment),
		// so hits are re-checked against where before counting toward topK.
		hits := idx.Search(query, topK*5)
		bm25Docs = make([]rankedCandidate, 0, topK)
		for _, h := range hits {
			if !matchesFilter(h.Meta, where) {
				continue
			}
			bm25Docs = append(bm25Docs, rankedCandidate{id: h.ID, text: h.Text, meta: h.Meta})
			if len(bm25Docs) >= topK {
				break
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := rrfFuse(rrfK, vectorDocs, bm25Docs)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	log.Debug("hybrid retrieve: vector=%d bm25=%d fused=%d", len(vectorDocs), len(bm25Docs), len(fused))
	return fused, nil
}

// bm25Index returns the cached index, rebuilding it first if a write has
// happened since the last rebuild. Built over the full collection rather
// than the per-query where filter: the hybrid searcher this is ported from
// only rebuilds lazily on first use or when explicitly told to, so its BM25
// side effectively never sees a caller's where_filter after the first
// build either. retrieve re-checks every BM25 hit against the caller's
// where filter (matchesFilter) before it can enter the fused candidate
// set, so an unfiltered index only widens the pool searched, never the
// scoping a result can escape.
func (e *Engine) bm25Index(_ store.Filter) (*bm25.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bm25Idx != nil && !e.dirty {
		return e.bm25Idx, nil
	}
	idx, err := bm25.BuildFromStore(e.db, store.Filter{})
	if err != nil {
		return nil, err
	}
	e.bm25Idx = idx
	e.dirty = false
	return idx, nil
}

func (e *Engine) rerankFused(query string, fused []fusedDoc, topK int) []fusedDoc {
	docs := make([]rerank.Doc, len(fused))
	for i, f := range fused {
		docs[i] = rerank.Doc{ID: f.id, Text: f.text, Meta: f.meta, Score: f.score}
	}
	reranked, err := e.reranker.Rerank(query, docs, topK)
	if err != nil {
		log.Warn("rerank failed, using fused order: %v", err)
		reranked, _ = rerank.NoneProvider{}.Rerank(query, docs, topK)
	}
	out := make([]fusedDoc, len(reranked))
	for i, d := range reranked {
		out[i] = fusedDoc{id: d.ID, text: d.Text, meta: d.Meta, score: d.RerankScore,
			typeBoost: 1, recencyBoost: 1, initiativeBoost: 1}
	}
	return out
}

func applyTypeBoost(docs []fusedDoc, multipliers map[string]float64) {
	for i := range docs {
		docType, _ := docs[i].meta["type"].(string)
		mult, ok := multipliers[docType]
		if !ok {
			mult = 1.0
		}
		docs[i].typeBoost = mult
		docs[i].score *= mult
	}
	resortDesc(docs)
}

func applyRecencyBoost(docs []fusedDoc, halfLifeDays, minBoost float64) {
	now := time.Now().UTC()
	for i := range docs {
		docType, _ := docs[i].meta["type"].(string)
		if !recencyBoostedTypes[docType] {
			continue
		}
		ts, _ := docs[i].meta["created_at"].(string)
		if ts == "" {
			ts, _ = docs[i].meta["indexed_at"].(string)
		}
		if ts == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		ageDays := now.Sub(t).Hours() / 24
		boost := math.Max(minBoost, math.Exp(-ageDays/halfLifeDays))
		docs[i].recencyBoost = boost
		docs[i].score *= boost
	}
	resortDesc(docs)
}

func filterByInitiative(docs []fusedDoc, initiativeID string) []fusedDoc {
	out := make([]fusedDoc, 0, len(docs))
	for _, d := range docs {
		tagged, _ := d.meta["initiative_id"].(string)
		docType, _ := d.meta["type"].(string)
		if tagged == initiativeID {
			out = append(out, d)
		} else if tagged == "" && metadataOnlyTypes[docType] {
			out = append(out, d)
		}
	}
	return out
}

func applyInitiativeBoost(docs []fusedDoc, focusedInitiativeID string) {
	for i := range docs {
		tagged, _ := docs[i].meta["initiative_id"].(string)
		if tagged == focusedInitiativeID {
			docs[i].initiativeBoost = initiativeBoostFactor
			docs[i].score *= initiativeBoostFactor
		}
	}
	resortDesc(docs)
}

func thresholdFilter(docs []fusedDoc, minScore float64) []fusedDoc {
	out := make([]fusedDoc, 0, len(docs))
	for _, d := range docs {
		if d.score >= minScore {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) shapeResults(docs []fusedDoc, repoPath string, staleEnabled bool, staleLimit int, verbose bool) ([]Result, int) {
	results := make([]Result, 0, len(docs))
	verificationCount := 0

	for i, d := range docs {
		docType, _ := d.meta["type"].(string)
		content := d.text
		if len(content) > 2000 {
			content = content[:2000]
		}
		r := Result{
			Content:    content,
			FilePath:   metaStringOr(d.meta, "file_path", "unknown"),
			Repository: metaStringOr(d.meta, "repository", "unknown"),
			Branch:     metaStringOr(d.meta, "branch", "unknown"),
			Language:   metaStringOr(d.meta, "language", "unknown"),
			Score:      round4(d.score),
			CreatedAt:  metaStringOr(d.meta, "created_at", ""),
		}

		if staleEnabled && i < staleLimit {
			var st *staleness.Result
			switch docType {
			case store.KindInsight:
				res := staleness.CheckInsight(d.meta, repoPath, staleness.Thresholds{})
				st = &res
			case store.KindNote, store.KindSessionSummary:
				res := staleness.CheckNote(d.meta, staleness.Thresholds{})
				st = &res
			}
			if st != nil && (st.VerificationReq || st.Level != staleness.LevelFresh) {
				r.Staleness = st
				if w := staleness.FormatWarning(*st, d.meta); w != "" {
					r.VerificationWarning = w
				}
				if st.VerificationReq {
					verificationCount++
				}
			}
		}

		if initID, _ := d.meta["initiative_id"].(string); initID != "" {
			r.InitiativeID = initID
			r.InitiativeName, _ = d.meta["initiative_name"].(string)
		}

		if verbose {
			r.TypeBoost = &d.typeBoost
			r.RecencyBoost = &d.recencyBoost
			r.InitiativeBoost = &d.initiativeBoost
		}

		results = append(results, r)
	}

	return results, verificationCount
}

func (e *Engine) fetchSkeleton(repository string, branches []string) *SkeletonInfo {
	res, err := e.db.Get(nil, store.Filter{"$and": []store.Filter{
		{"type": store.KindSkeleton},
		{"repository": repository},
		{"branch": map[string]any{"$in": toAnySlice(branches)}},
	}}, store.Include{Text: true, Metadata: true})
	if err != nil || len(res.IDs) == 0 {
		res, err = e.db.Get(nil, store.Filter{"$and": []store.Filter{
			{"type": store.KindSkeleton}, {"repository": repository},
		}}, store.Include{Text: true, Metadata: true})
		if err != nil || len(res.IDs) == 0 {
			return nil
		}
	}
	meta := res.Metadatas[0]
	return &SkeletonInfo{
		Repository: repository,
		Branch:     metaStringOr(meta, "branch", "unknown"),
		TotalFiles: metaIntOr(meta, "total_files"),
		TotalDirs:  metaIntOr(meta, "total_dirs"),
		Tree:       res.Texts[0],
	}
}

func (e *Engine) fetchContext(repository string) *RepositoryContext {
	out := &RepositoryContext{Repository: repository}

	techRes, err := e.db.Get([]string{store.TechStackID(repository)}, nil, store.Include{Text: true, Metadata: true})
	if err == nil && len(techRes.IDs) > 0 {
		out.TechStack = &TechStackInfo{
			Content:   techRes.Texts[0],
			UpdatedAt: metaStringOr(techRes.Metadatas[0], "updated_at", "unknown"),
		}
	}

	if focusedID := e.focusedInitiativeID(repository); focusedID != "" {
		initRes, err := e.db.Get([]string{focusedID}, nil, store.Include{Metadata: true})
		if err == nil && len(initRes.IDs) > 0 {
			meta := initRes.Metadatas[0]
			out.Initiative = &InitiativeSummary{
				Name:      metaStringOr(meta, "name", ""),
				Status:    metaStringOr(meta, "status", ""),
				UpdatedAt: metaStringOr(meta, "updated_at", "unknown"),
			}
		}
	}

	if out.TechStack == nil && out.Initiative == nil {
		return nil
	}
	return out
}

func resortDesc(docs []fusedDoc) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].score > docs[j].score })
}

func metaStringOr(meta map[string]any, key, fallback string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func metaIntOr(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
