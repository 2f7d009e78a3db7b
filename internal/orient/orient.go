// Package orient answers "what is this repository's current state" in one
// call: whether it's indexed, whether it needs a reindex, its current
// skeleton/tech stack, the focused initiative (with a staleness prompt),
// and a short window of recent work. It exists so an assistant starting a
// session doesn't have to make five separate tool calls to reconstruct
// context.
package orient

import (
	"fmt"
	"time"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/delta"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/store"
	"github.com/cortexmemory/cortex/internal/vcs"
	"github.com/cortexmemory/cortex/internal/walker"
)

var log = cortexlog.Named("orient")

// recentWorkWindow bounds how far back recent_work looks (§4.O).
const recentWorkWindow = 7 * 24 * time.Hour

// maxRecentWork is the highlight cap named in §4.O.
const maxRecentWork = 5

// staleFileCountDelta is how far tracked-file counts may drift from the
// delta-state record before a reindex is recommended.
const staleFileCountDelta = 5

// Engine answers Orient calls against the Store and initiative engine.
type Engine struct {
	db          *store.DB
	initiatives *initiative.Engine
}

// New constructs an Engine.
func New(db *store.DB, initiatives *initiative.Engine) *Engine {
	return &Engine{db: db, initiatives: initiatives}
}

// Skeleton is the subset of the skeleton document surfaced by Orient.
type Skeleton struct {
	Tree string `json:"tree"`
}

// TechStack is the subset of the tech_stack document surfaced by Orient.
type TechStack struct {
	Languages    []string `json:"languages,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// FocusedInitiative reports the repository's current focus, if any, plus a
// staleness prompt when it's gone quiet.
type FocusedInitiative struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Goal            string `json:"goal,omitempty"`
	Stale           bool   `json:"stale"`
	DaysInactive    int    `json:"days_inactive,omitempty"`
	StalenessPrompt string `json:"staleness_prompt,omitempty"`
}

// RecentWorkItem is one highlight in the recent_work list.
type RecentWorkItem struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Result is the full Orient response (§4.O).
type Result struct {
	Repository        string              `json:"repository"`
	Branch            string              `json:"branch"`
	Indexed           bool                `json:"indexed"`
	LastIndexed       string              `json:"last_indexed,omitempty"`
	FileCount         int                 `json:"file_count"`
	NeedsReindex      bool                `json:"needs_reindex"`
	ReindexReasons    []string            `json:"reindex_reasons,omitempty"`
	Skeleton          *Skeleton           `json:"skeleton,omitempty"`
	TechStack         *TechStack          `json:"tech_stack,omitempty"`
	FocusedInitiative *FocusedInitiative  `json:"focused_initiative,omitempty"`
	ActiveInitiatives []initiative.ListedInitiative `json:"active_initiatives,omitempty"`
	RecentWork        []RecentWorkItem    `json:"recent_work,omitempty"`
	Error             string              `json:"error,omitempty"`
}

// degraded is the total-failure shape named in §4.O.
func degraded(err error) Result {
	return Result{Error: err.Error(), Indexed: false, NeedsReindex: false}
}

// Orient answers the orient_session tool call for repoPath.
func (e *Engine) Orient(repoPath string) Result {
	if repoPath == "" {
		return degraded(fmt.Errorf("repo_path is required"))
	}
	if !vcs.IsRepo(repoPath) {
		// Not every project is a VC repository; "global" memory still orients.
		return e.orientRepository("global", "", repoPath)
	}
	root := vcs.Root(repoPath)
	branch := vcs.Branch(root)
	return e.orientRepository(root, branch, repoPath)
}

func (e *Engine) orientRepository(repository, branch, repoPath string) Result {
	res := Result{Repository: repository, Branch: branch}

	st, err := delta.Load(config.StateFilePath(repository))
	if err != nil {
		log.Warn("orient %s: load delta state: %v", repository, err)
	} else if st.IndexedCommit != "" || len(st.FileHashes) > 0 {
		res.Indexed = true
		res.LastIndexed = st.IndexedAt
		res.FileCount = len(st.FileHashes)
		res.NeedsReindex, res.ReindexReasons = needsReindex(st, branch, repoPath)
	}

	res.Skeleton = e.fetchSkeleton(repository, branch)
	res.TechStack = e.fetchTechStack(repository)

	if e.initiatives != nil {
		if focus, err := e.initiatives.GetFocus(repository); err == nil && focus != nil {
			res.FocusedInitiative = e.describeFocus(repository, *focus)
		}
		if list, _, err := e.initiatives.List(repository, "active"); err == nil {
			res.ActiveInitiatives = list
		}
	}

	res.RecentWork = e.fetchRecentWork(repository)
	return res
}

func needsReindex(st delta.State, currentBranch, repoPath string) (bool, []string) {
	var reasons []string
	if st.Branch != "" && currentBranch != "" && st.Branch != currentBranch {
		reasons = append(reasons, fmt.Sprintf("branch changed from %q to %q", st.Branch, currentBranch))
	}
	if st.IndexedCommit != "" {
		modified, deleted, renamed := vcs.ChangedSince(repoPath, st.IndexedCommit)
		if n := len(modified) + len(deleted) + len(renamed); n > 0 {
			reasons = append(reasons, fmt.Sprintf("%d commit(s)/change(s) since last index", n))
		}
	}
	if current := countTrackedFiles(repoPath); current >= 0 {
		diff := current - len(st.FileHashes)
		if diff < 0 {
			diff = -diff
		}
		if diff > staleFileCountDelta {
			reasons = append(reasons, fmt.Sprintf("tracked file count drifted by %d", diff))
		}
	}
	return len(reasons) > 0, reasons
}

// countTrackedFiles returns how many files the walker currently considers
// eligible, or -1 if the walk itself fails (repoPath missing, etc).
func countTrackedFiles(repoPath string) int {
	if repoPath == "" {
		return -1
	}
	n := 0
	if err := walker.Walk(repoPath, walker.Options{}, func(string) error {
		n++
		return nil
	}); err != nil {
		return -1
	}
	return n
}

func (e *Engine) fetchSkeleton(repository, branch string) *Skeleton {
	res, err := e.db.Get([]string{store.SkeletonID(repository, branch)}, nil, store.Include{Text: true})
	if err != nil || len(res.IDs) == 0 {
		return nil
	}
	return &Skeleton{Tree: res.Texts[0]}
}

func (e *Engine) fetchTechStack(repository string) *TechStack {
	res, err := e.db.Get([]string{store.TechStackID(repository)}, nil, store.Include{Metadata: true, Text: true})
	if err != nil || len(res.IDs) == 0 {
		return nil
	}
	ts := &TechStack{Summary: res.Texts[0]}
	if langs, ok := res.Metadatas[0]["languages"].([]any); ok {
		for _, l := range langs {
			if s, ok := l.(string); ok {
				ts.Languages = append(ts.Languages, s)
			}
		}
	}
	if fw, ok := res.Metadatas[0]["frameworks"].([]any); ok {
		for _, f := range fw {
			if s, ok := f.(string); ok {
				ts.Frameworks = append(ts.Frameworks, s)
			}
		}
	}
	return ts
}

func (e *Engine) describeFocus(repository string, focus initiative.Focus) *FocusedInitiative {
	res, err := e.db.Get([]string{focus.InitiativeID}, nil, store.Include{Metadata: true})
	fi := &FocusedInitiative{ID: focus.InitiativeID, Name: focus.InitiativeName}
	if err == nil && len(res.IDs) > 0 {
		if goal, ok := res.Metadatas[0]["goal"].(string); ok {
			fi.Goal = goal
		}
		if updatedAt, ok := res.Metadatas[0]["updated_at"].(string); ok {
			fi.Stale, fi.DaysInactive = initiative.CheckStaleness(updatedAt)
		}
	}
	if fi.Stale {
		fi.StalenessPrompt = fmt.Sprintf(
			"%q hasn't been touched in %d days — still active, or ready to complete/abandon?",
			fi.Name, fi.DaysInactive,
		)
	}
	return fi
}

func (e *Engine) fetchRecentWork(repository string) []RecentWorkItem {
	where := store.Filter{"$and": []store.Filter{
		{"repository": repository},
		{"type": map[string]any{"$in": []any{store.KindNote, store.KindSessionSummary}}},
	}}
	res, err := e.db.Get(nil, where, store.Include{Metadata: true})
	if err != nil {
		return nil
	}

	cutoff := time.Now().UTC().Add(-recentWorkWindow)
	var items []RecentWorkItem
	for i, id := range res.IDs {
		meta := res.Metadatas[i]
		createdAt, _ := meta["created_at"].(string)
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		kind, _ := meta["type"].(string)
		title, _ := meta["title"].(string)
		items = append(items, RecentWorkItem{ID: id, Kind: kind, Title: title, CreatedAt: createdAt})
	}

	sortRecentWorkDesc(items)
	if len(items) > maxRecentWork {
		items = items[:maxRecentWork]
	}
	return items
}

func sortRecentWorkDesc(items []RecentWorkItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].CreatedAt > items[j-1].CreatedAt; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
