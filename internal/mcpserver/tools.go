package mcpserver

import (
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/ingest"
	"github.com/cortexmemory/cortex/internal/memory"
	"github.com/cortexmemory/cortex/internal/search"
	"github.com/cortexmemory/cortex/internal/store"
)

func boolPtr(b bool) *bool { return &b }

var (
	readOnly            = &mcp.ToolAnnotations{ReadOnlyHint: true}
	writeNonDestructive = &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: true}
	writeDestructive    = &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)}
)

func (r *Registry) registerAll() {
	register(r, &mcp.Tool{
		Name:        "orient_session",
		Description: "Orient to a repository's current state at the start of a session: whether it's indexed, whether a reindex is recommended, its skeleton and tech stack, the focused initiative (with a staleness prompt if it's gone quiet), and recent work from the last week.\n\nArgs:\n  repo_path: Absolute or relative path to the repository (defaults to the current working directory)\n\nReturns a single orientation snapshot instead of several separate tool calls.",
		Annotations: readOnly,
	}, r.handleOrientSession)

	register(r, &mcp.Tool{
		Name:        "search_cortex",
		Description: "Search stored memory: code chunks, notes, insights, session summaries, and repository metadata. Hybrid vector+BM25 retrieval with reranking, recency/type/initiative boosting, and staleness annotation.\n\nArgs:\n  query: Natural language search query\n  repository: Limit to one repository (default: current)\n  branch: Limit to one branch (default: current branch, falling back to main)\n  initiative: Limit to one initiative (id or name)\n  types: Document kinds to include (code, note, insight, session_summary, tech_stack, ...)\n  preset: A named type preset (e.g. 'understanding') instead of listing types\n  min_score: Override the configured minimum relevance score\n  include_completed: Include documents tagged to completed initiatives\n\nReturns ranked results plus repository skeleton/context when detectable.",
		Annotations: readOnly,
	}, r.handleSearchCortex)

	register(r, &mcp.Tool{
		Name:        "recall_recent_work",
		Description: "List notes and session summaries from a repository's recent history, newest first. Use this for a lighter-weight check than orient_session when you only need the activity feed.\n\nArgs:\n  repository: Repository to inspect (required)\n\nReturns up to 5 recent highlights from the last 7 days.",
		Annotations: readOnly,
	}, r.handleRecallRecentWork)

	register(r, &mcp.Tool{
		Name:        "get_skeleton",
		Description: "Fetch the stored directory-tree skeleton and tech stack summary for a repository/branch, without running a search.\n\nArgs:\n  repository: Repository name (required)\n  branch: Branch name (default: main)\n\nReturns the tree text, file/dir counts, and detected languages/frameworks if present.",
		Annotations: readOnly,
	}, r.handleGetSkeleton)

	register(r, &mcp.Tool{
		Name:        "manage_initiative",
		Description: "Create, list, focus, complete, or summarize a multi-session workstream.\n\nArgs:\n  action: One of create, list, focus, complete, summarize\n  repository: Repository the initiative belongs to (required)\n  name: Initiative name (required for create; id or name for focus/complete/summarize)\n  goal: Initiative goal (create only)\n  status: Filter for list (all, active, completed)\n  summary: Completion summary (complete only)\n  auto_focus: Whether create also focuses the new initiative (default true)\n\nReturns the initiative record and, for list/focus, the supporting context it carries.",
		Annotations: writeNonDestructive,
	}, r.handleManageInitiative)

	register(r, &mcp.Tool{
		Name:        "save_memory",
		Description: "Save a note or insight: understanding worth remembering across sessions. Insights anchor to specific files and are later checked for staleness against those files' content.\n\nArgs:\n  kind: note or insight\n  content: The text to save\n  title: Short title (optional)\n  tags: Tags to attach (optional)\n  files: Linked files (required when kind=insight)\n  repository: Repository to save under (default: current)\n  initiative: Initiative to tag (default: repository's focused initiative, if any)\n\nReturns the saved document id.",
		Annotations: writeNonDestructive,
	}, r.handleSaveMemory)

	register(r, &mcp.Tool{
		Name:        "conclude_session",
		Description: "Save an end-of-session summary: what changed, why, and what a future session needs to know. Also detects whether the summary text itself signals the tagged initiative is done.\n\nArgs:\n  summary: Session summary text (required)\n  changed_files: Files touched this session\n  repository: Repository to save under (default: current)\n  initiative: Initiative to tag (default: repository's focused initiative, if any)\n\nReturns the saved summary id and whether a completion signal was detected.",
		Annotations: writeNonDestructive,
	}, r.handleConcludeSession)

	register(r, &mcp.Tool{
		Name:        "ingest_codebase",
		Description: "Index (or re-index) a repository's code into memory: walks the tree, chunks changed files, embeds and stores them, and regenerates the skeleton.\n\nArgs:\n  repo_path: Path to the repository to ingest (required)\n  repository: Repository name to store under (default: directory name)\n  force_full: Re-embed every file regardless of what changed\n\nReturns per-run stats: files scanned/processed/deleted, chunks created/deleted, delta mode used.",
		Annotations: writeDestructive,
	}, r.handleIngestCodebase)

	register(r, &mcp.Tool{
		Name:        "validate_insight",
		Description: "Record a fresh assessment of a stored insight: still valid, partially valid, or no longer valid. No-longer-valid insights can be deprecated and optionally replaced.\n\nArgs:\n  insight_id: The insight document id (required)\n  result: still_valid, partially_valid, or no_longer_valid (required)\n  notes: Assessment notes (optional)\n  deprecate: Deprecate the insight if result=no_longer_valid\n  replacement_insight: Content for a replacement insight to save in its place\n  repository: Repository context for recomputing file hashes\n\nReturns the updated verification state.",
		Annotations: writeNonDestructive,
	}, r.handleValidateInsight)

	register(r, &mcp.Tool{
		Name:        "configure_cortex",
		Description: "Read or update the daemon's runtime configuration (autocapture thresholds, search tuning, LLM provider chain). Without any set_* argument, returns the current configuration.\n\nArgs:\n  set_primary_provider: Change the primary LLM provider\n  set_autocapture_enabled: Enable/disable session auto-capture\n  set_min_score: Change the minimum search relevance score\n\nReturns the configuration after any requested change.",
		Annotations: writeNonDestructive,
	}, r.handleConfigureCortex)

	register(r, &mcp.Tool{
		Name:        "cleanup_storage",
		Description: "Garbage-collect stale documents: file_metadata/dependencies orphaned by deleted files, insights whose linked files are all gone, old deprecated insights, or an arbitrary filtered purge.\n\nArgs:\n  action: orphaned_file_metadata, orphaned_dependencies, orphaned_insights, deprecated_insights, or purge\n  repository: Repository to scope the cleanup to\n  repo_path: Filesystem path backing repository (required for the orphaned_* actions)\n  branch: Purge filter (purge only)\n  type: Purge filter by document type (purge only)\n  before: Purge filter, RFC3339 (purge only)\n  after: Purge filter, RFC3339 (purge only)\n  max_age_days: Age threshold for deprecated_insights\n  dry_run: Report what would be deleted without deleting\n\nReturns counts of what matched and what was actually deleted.",
		Annotations: writeDestructive,
	}, r.handleCleanupStorage)

	register(r, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a single stored document by id. Use this for precise removal rather than a filtered cleanup_storage purge.\n\nArgs:\n  id: Document id (required)\n\nReturns whether a document was found and its type.",
		Annotations: writeDestructive,
	}, r.handleDeleteDocument)
}

// --- orient_session ---

type orientSessionInput struct {
	RepoPath string `json:"repo_path,omitempty" jsonschema:"Path to the repository (default: current working directory)"`
}

func (r *Registry) handleOrientSession(ctx context.Context, req *mcp.CallToolRequest, input orientSessionInput) (*mcp.CallToolResult, any, error) {
	repoPath := input.RepoPath
	if repoPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return errResult(fmt.Errorf("resolve working directory: %w", err))
		}
		repoPath = cwd
	}
	return jsonResult(r.deps.Orient.Orient(repoPath)), nil, nil
}

// --- search_cortex ---

type searchCortexInput struct {
	Query            string   `json:"query" jsonschema:"Natural language search query"`
	Repository       string   `json:"repository,omitempty" jsonschema:"Limit to one repository"`
	Branch           string   `json:"branch,omitempty" jsonschema:"Limit to one branch"`
	Initiative       string   `json:"initiative,omitempty" jsonschema:"Limit to one initiative (id or name)"`
	Types            []string `json:"types,omitempty" jsonschema:"Document kinds to include"`
	Preset           string   `json:"preset,omitempty" jsonschema:"A named type preset instead of listing types"`
	MinScore         *float64 `json:"min_score,omitempty" jsonschema:"Override the configured minimum relevance score"`
	IncludeCompleted bool     `json:"include_completed,omitempty" jsonschema:"Include documents tagged to completed initiatives"`
}

func (r *Registry) handleSearchCortex(ctx context.Context, req *mcp.CallToolRequest, input searchCortexInput) (*mcp.CallToolResult, any, error) {
	cfg := r.deps.ConfigStore.Get()
	repoPath, _ := os.Getwd()
	resp, err := r.deps.Search.Search(ctx, search.Request{
		Query: input.Query, Repository: input.Repository, Branch: input.Branch,
		Initiative: input.Initiative, Types: input.Types, Preset: input.Preset,
		MinScore: input.MinScore, IncludeCompleted: input.IncludeCompleted,
	}, cfg.Runtime, repoPath)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(resp), nil, nil
}

// --- recall_recent_work ---

type recallRecentWorkInput struct {
	Repository string `json:"repository" jsonschema:"Repository to inspect"`
}

func (r *Registry) handleRecallRecentWork(ctx context.Context, req *mcp.CallToolRequest, input recallRecentWorkInput) (*mcp.CallToolResult, any, error) {
	if input.Repository == "" {
		return errResult(fmt.Errorf("repository is required"))
	}
	res := r.deps.Orient.Orient(input.Repository)
	return jsonResult(res.RecentWork), nil, nil
}

// --- get_skeleton ---

type getSkeletonInput struct {
	Repository string `json:"repository" jsonschema:"Repository name"`
	Branch     string `json:"branch,omitempty" jsonschema:"Branch name (default: main)"`
}

func (r *Registry) handleGetSkeleton(ctx context.Context, req *mcp.CallToolRequest, input getSkeletonInput) (*mcp.CallToolResult, any, error) {
	if input.Repository == "" {
		return errResult(fmt.Errorf("repository is required"))
	}
	branch := input.Branch
	if branch == "" {
		branch = "main"
	}
	res, err := r.deps.DB.Get([]string{store.SkeletonID(input.Repository, branch)}, nil, store.Include{Text: true, Metadata: true})
	if err != nil {
		return errResult(err)
	}
	if len(res.IDs) == 0 {
		return textResult(fmt.Sprintf("no skeleton stored for %s@%s; run ingest_codebase first", input.Repository, branch)), nil, nil
	}
	return jsonResult(map[string]any{"tree": res.Texts[0], "metadata": res.Metadatas[0]}), nil, nil
}

// --- manage_initiative ---

type manageInitiativeInput struct {
	Action     string `json:"action" jsonschema:"create, list, focus, complete, or summarize"`
	Repository string `json:"repository" jsonschema:"Repository the initiative belongs to"`
	Name       string `json:"name,omitempty" jsonschema:"Initiative name (create) or id/name (focus, complete, summarize)"`
	Goal       string `json:"goal,omitempty" jsonschema:"Initiative goal (create only)"`
	Status     string `json:"status,omitempty" jsonschema:"Filter for list: all, active, completed"`
	Summary    string `json:"summary,omitempty" jsonschema:"Completion summary (complete only)"`
	AutoFocus  *bool  `json:"auto_focus,omitempty" jsonschema:"Whether create also focuses the new initiative (default true)"`
}

func (r *Registry) handleManageInitiative(ctx context.Context, req *mcp.CallToolRequest, input manageInitiativeInput) (*mcp.CallToolResult, any, error) {
	if input.Repository == "" {
		return errResult(fmt.Errorf("repository is required"))
	}
	switch input.Action {
	case "create":
		autoFocus := true
		if input.AutoFocus != nil {
			autoFocus = *input.AutoFocus
		}
		init, err := r.deps.Initiatives.Create(input.Repository, input.Name, input.Goal, autoFocus)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(init), nil, nil

	case "list":
		list, focus, err := r.deps.Initiatives.List(input.Repository, input.Status)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"initiatives": list, "focus": focus}), nil, nil

	case "focus":
		init, context, err := r.deps.Initiatives.Focus(input.Repository, input.Name)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"initiative": init, "context": context}), nil, nil

	case "complete":
		init, stats, err := r.deps.Initiatives.Complete(input.Name, input.Repository, input.Summary)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"initiative": init, "archive_stats": stats}), nil, nil

	case "summarize":
		init, stats, timeline, err := r.deps.Initiatives.Summarize(input.Repository, input.Name)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"initiative": init, "archive_stats": stats, "timeline": timeline}), nil, nil

	default:
		return errResult(fmt.Errorf("unknown action %q, expected create, list, focus, complete, or summarize", input.Action))
	}
}

// --- save_memory ---

type saveMemoryInput struct {
	Kind       string   `json:"kind" jsonschema:"note or insight"`
	Content    string   `json:"content" jsonschema:"The text to save"`
	Title      string   `json:"title,omitempty" jsonschema:"Short title"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Tags to attach"`
	Files      []string `json:"files,omitempty" jsonschema:"Linked files (required when kind=insight)"`
	Repository string   `json:"repository,omitempty" jsonschema:"Repository to save under (default: current)"`
	Initiative string   `json:"initiative,omitempty" jsonschema:"Initiative to tag"`
}

func (r *Registry) handleSaveMemory(ctx context.Context, req *mcp.CallToolRequest, input saveMemoryInput) (*mcp.CallToolResult, any, error) {
	res, err := r.deps.Memory.SaveMemory(input.Kind, input.Content, input.Title, input.Tags, input.Repository, input.Initiative, input.Files)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(res), nil, nil
}

// --- conclude_session ---

type concludeSessionInput struct {
	Summary      string   `json:"summary" jsonschema:"Session summary text"`
	ChangedFiles []string `json:"changed_files,omitempty" jsonschema:"Files touched this session"`
	Repository   string   `json:"repository,omitempty" jsonschema:"Repository to save under (default: current)"`
	Initiative   string   `json:"initiative,omitempty" jsonschema:"Initiative to tag"`
}

func (r *Registry) handleConcludeSession(ctx context.Context, req *mcp.CallToolRequest, input concludeSessionInput) (*mcp.CallToolResult, any, error) {
	res, err := r.deps.Memory.ConcludeSession(memory.SessionSummaryRequest{
		Summary: input.Summary, ChangedFiles: input.ChangedFiles,
		Repository: input.Repository, Initiative: input.Initiative,
	})
	if err != nil {
		return errResult(err)
	}
	return jsonResult(res), nil, nil
}

// --- ingest_codebase ---

type ingestCodebaseInput struct {
	RepoPath   string `json:"repo_path" jsonschema:"Path to the repository to ingest"`
	Repository string `json:"repository,omitempty" jsonschema:"Repository name to store under (default: directory name)"`
	ForceFull  bool   `json:"force_full,omitempty" jsonschema:"Re-embed every file regardless of what changed"`
}

func (r *Registry) handleIngestCodebase(ctx context.Context, req *mcp.CallToolRequest, input ingestCodebaseInput) (*mcp.CallToolResult, any, error) {
	if input.RepoPath == "" {
		return errResult(fmt.Errorf("repo_path is required"))
	}
	repository := input.Repository
	if repository == "" {
		repository = input.RepoPath
	}
	stats, err := r.deps.Ingest.Ingest(input.RepoPath, stateFilePathFor(repository), ingest.Options{
		Repository: repository, ForceFull: input.ForceFull,
	})
	if err != nil {
		return errResult(err)
	}
	if r.deps.Search != nil {
		r.deps.Search.MarkDirty()
	}
	return jsonResult(stats), nil, nil
}

// --- validate_insight ---

type validateInsightInput struct {
	InsightID          string `json:"insight_id" jsonschema:"The insight document id"`
	Result             string `json:"result" jsonschema:"still_valid, partially_valid, or no_longer_valid"`
	Notes              string `json:"notes,omitempty" jsonschema:"Assessment notes"`
	Deprecate          bool   `json:"deprecate,omitempty" jsonschema:"Deprecate the insight if result=no_longer_valid"`
	ReplacementInsight string `json:"replacement_insight,omitempty" jsonschema:"Content for a replacement insight"`
	Repository         string `json:"repository,omitempty" jsonschema:"Repository context for recomputing file hashes"`
}

func (r *Registry) handleValidateInsight(ctx context.Context, req *mcp.CallToolRequest, input validateInsightInput) (*mcp.CallToolResult, any, error) {
	res, err := r.deps.Memory.ValidateInsight(memory.ValidationRequest{
		InsightID: input.InsightID, Result: input.Result, Notes: input.Notes,
		Deprecate: input.Deprecate, ReplacementInsight: input.ReplacementInsight, Repository: input.Repository,
	})
	if err != nil {
		return errResult(err)
	}
	return jsonResult(res), nil, nil
}

// --- configure_cortex ---

type configureCortexInput struct {
	SetPrimaryProvider   string   `json:"set_primary_provider,omitempty" jsonschema:"Change the primary LLM provider"`
	SetAutocaptureEnabled *bool   `json:"set_autocapture_enabled,omitempty" jsonschema:"Enable/disable session auto-capture"`
	SetMinScore          *float64 `json:"set_min_score,omitempty" jsonschema:"Change the minimum search relevance score"`
}

func (r *Registry) handleConfigureCortex(ctx context.Context, req *mcp.CallToolRequest, input configureCortexInput) (*mcp.CallToolResult, any, error) {
	r.deps.ConfigStore.Update(func(cfg *config.Config) {
		if input.SetPrimaryProvider != "" {
			cfg.LLM.PrimaryProvider = input.SetPrimaryProvider
		}
		if input.SetAutocaptureEnabled != nil {
			cfg.Autocapture.Enabled = *input.SetAutocaptureEnabled
		}
		if input.SetMinScore != nil {
			cfg.Runtime.MinScore = *input.SetMinScore
		}
	})
	return jsonResult(r.deps.ConfigStore.Get()), nil, nil
}

// --- cleanup_storage ---

type cleanupStorageInput struct {
	Action     string `json:"action" jsonschema:"orphaned_file_metadata, orphaned_dependencies, orphaned_insights, deprecated_insights, or purge"`
	Repository string `json:"repository,omitempty" jsonschema:"Repository to scope the cleanup to"`
	RepoPath   string `json:"repo_path,omitempty" jsonschema:"Filesystem path backing repository (required for orphaned_* actions)"`
	Branch     string `json:"branch,omitempty" jsonschema:"Purge filter (purge only)"`
	Type       string `json:"type,omitempty" jsonschema:"Purge filter by document type (purge only)"`
	Before     string `json:"before,omitempty" jsonschema:"Purge filter, RFC3339 (purge only)"`
	After      string `json:"after,omitempty" jsonschema:"Purge filter, RFC3339 (purge only)"`
	MaxAgeDays int    `json:"max_age_days,omitempty" jsonschema:"Age threshold for deprecated_insights"`
	DryRun     bool   `json:"dry_run,omitempty" jsonschema:"Report what would be deleted without deleting"`
}

func (r *Registry) handleCleanupStorage(ctx context.Context, req *mcp.CallToolRequest, input cleanupStorageInput) (*mcp.CallToolResult, any, error) {
	switch input.Action {
	case "orphaned_file_metadata":
		rep, err := ingest.CleanupOrphanedFileMetadata(r.deps.DB, input.RepoPath, input.Repository, input.DryRun)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(rep), nil, nil

	case "orphaned_dependencies":
		rep, err := ingest.CleanupOrphanedDependencies(r.deps.DB, input.RepoPath, input.Repository, input.DryRun)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(rep), nil, nil

	case "orphaned_insights":
		rep, err := ingest.CleanupOrphanedInsights(r.deps.DB, input.RepoPath, input.Repository, input.DryRun)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(rep), nil, nil

	case "deprecated_insights":
		n, err := ingest.CleanupDeprecatedInsights(r.deps.DB, input.MaxAgeDays, input.Repository)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"deleted": n}), nil, nil

	case "purge":
		res, err := ingest.PurgeByFilters(r.deps.DB, ingest.PurgeFilters{
			Repository: input.Repository, Branch: input.Branch, Type: input.Type,
			Before: input.Before, After: input.After,
		}, input.DryRun)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(res), nil, nil

	default:
		return errResult(fmt.Errorf("unknown action %q", input.Action))
	}
}

// --- delete_document ---

type deleteDocumentInput struct {
	ID string `json:"id" jsonschema:"Document id"`
}

func (r *Registry) handleDeleteDocument(ctx context.Context, req *mcp.CallToolRequest, input deleteDocumentInput) (*mcp.CallToolResult, any, error) {
	if input.ID == "" {
		return errResult(fmt.Errorf("id is required"))
	}
	res, err := ingest.DeleteDocument(r.deps.DB, input.ID)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(res), nil, nil
}

func stateFilePathFor(repository string) string {
	return config.StateFilePath(repository)
}
