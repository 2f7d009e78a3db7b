// Package httpapi exposes the Cortex daemon over plain HTTP/JSON (§6): a
// browse surface for direct store inspection, task-queue status, the
// session-capture entry point, and a JSON-RPC-style bridge onto the same
// tool registry internal/mcpserver exposes over stdio.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cortexmemory/cortex/internal/capture"
	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/ingest"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/mcpserver"
	"github.com/cortexmemory/cortex/internal/queue"
	"github.com/cortexmemory/cortex/internal/store"
)

var log = cortexlog.Named("httpapi")

// Version is set by cmd/cortexd before Serve is called.
var Version = "dev"

// Server holds every dependency an HTTP handler can reach into.
type Server struct {
	db           *store.DB
	registry     *mcpserver.Registry
	ingestQueue  *queue.Queue
	captureQueue *queue.Queue
	captureEng   *capture.Engine
	captureExec  *capture.Executor
	initiatives  *initiative.Engine
	configStore  *mcpserver.ConfigStore
	startedAt    time.Time
}

// New builds a Server. Every field is required except captureEng/captureExec,
// which may be nil when autocapture is disabled.
func New(db *store.DB, registry *mcpserver.Registry, ingestQueue, captureQueue *queue.Queue,
	captureEng *capture.Engine, captureExec *capture.Executor, initiatives *initiative.Engine,
	configStore *mcpserver.ConfigStore) *Server {
	return &Server{
		db: db, registry: registry, ingestQueue: ingestQueue, captureQueue: captureQueue,
		captureEng: captureEng, captureExec: captureExec, initiatives: initiatives,
		configStore: configStore, startedAt: time.Now().UTC(),
	}
}

// Handler builds the full routed, middleware-wrapped HTTP handler, exposed
// separately from Serve so tests can drive it with httptest.NewServer
// without binding a real port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)

	mux.HandleFunc("/browse/stats", s.handleBrowseStats)
	mux.HandleFunc("/browse/list", s.handleBrowseList)
	mux.HandleFunc("/browse/get", s.handleBrowseGet)
	mux.HandleFunc("/browse/search", s.handleBrowseSearch)
	mux.HandleFunc("/browse/sample", s.handleBrowseSample)
	mux.HandleFunc("/browse/update", s.handleBrowseUpdate)
	mux.HandleFunc("/browse/delete", s.handleBrowseDelete)
	mux.HandleFunc("/browse/delete-by-type", s.handleBrowseDeleteByType)
	mux.HandleFunc("/browse/cleanup", s.handleBrowseCleanup)
	mux.HandleFunc("/browse/purge", s.handleBrowsePurge)

	mux.HandleFunc("/session-summary", s.handleSessionSummary)
	mux.HandleFunc("/process-queue", s.handleProcessQueue)
	mux.HandleFunc("/process-sync", s.handleProcessSync)
	mux.HandleFunc("/autocapture/status", s.handleAutocaptureStatus)
	mux.HandleFunc("/focused-initiative", s.handleFocusedInitiative)

	mux.HandleFunc("/ingest-status", s.handleIngestStatus)
	mux.HandleFunc("/ingest-status/", s.handleIngestStatusByID)

	mux.HandleFunc("/admin/backup", s.handleAdminBackup)
	mux.HandleFunc("/migrations/status", s.handleMigrationsStatus)

	mux.HandleFunc("/mcp/tools/list", s.handleMCPToolsList)
	mux.HandleFunc("/mcp/tools/call", s.handleMCPToolsCall)

	return localhostOnly(securityHeaders(mux))
}

// Serve binds addr and blocks serving the HTTP API until the listener fails.
func (s *Server) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info("http api listening on %s", listener.Addr())
	return http.Serve(listener, s.Handler())
}

// localhostOnly rejects any request whose Host isn't loopback — Cortex's
// HTTP surface is local-only by design (§5).
func localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		host = strings.Trim(host, "[]")

		if host == "localhost" || host == "" {
			next.ServeHTTP(w, r)
			return
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"started_at": s.startedAt.Format(time.RFC3339),
		"tools":      len(s.registry.List()),
	})
}

// --- browse ---

func (s *Server) handleBrowseStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.Get(nil, nil, store.Include{Metadata: true})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	byType := map[string]int{}
	for _, meta := range res.Metadatas {
		if t, _ := meta["type"].(string); t != "" {
			byType[t]++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(res.IDs), "by_type": byType})
}

func (s *Server) handleBrowseList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var where store.Filter
	var conditions []store.Filter
	if t := q.Get("type"); t != "" {
		conditions = append(conditions, store.Filter{"type": t})
	}
	if repo := q.Get("repository"); repo != "" {
		conditions = append(conditions, store.Filter{"repository": repo})
	}
	switch len(conditions) {
	case 0:
	case 1:
		where = conditions[0]
	default:
		where = store.Filter{"$and": conditions}
	}

	res, err := s.db.Get(nil, where, store.Include{Metadata: true})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	limit := queryInt(q, "limit", 50)
	ids := res.IDs
	metas := res.Metadatas
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
		metas = metas[:limit]
	}
	items := make([]map[string]any, len(ids))
	for i, id := range ids {
		items[i] = map[string]any{"id": id, "metadata": metas[i]}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(res.IDs)})
}

func (s *Server) handleBrowseGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	res, err := s.db.Get([]string{id}, nil, store.Include{Text: true, Metadata: true})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if len(res.IDs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": res.IDs[0], "text": res.Texts[0], "metadata": res.Metadatas[0]})
}

func (s *Server) handleBrowseSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	args, _ := json.Marshal(map[string]any{"query": query, "repository": r.URL.Query().Get("repository")})
	result, err := s.registry.Call(r.Context(), "search_cortex", args)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeToolResult(w, result)
}

func (s *Server) handleBrowseSample(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r.URL.Query(), "n", 5)
	res, err := s.db.Get(nil, nil, store.Include{Text: true, Metadata: true})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if n > len(res.IDs) {
		n = len(res.IDs)
	}
	items := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		items[i] = map[string]any{"id": res.IDs[i], "text": res.Texts[i], "metadata": res.Metadatas[i]}
	}
	writeJSON(w, http.StatusOK, items)
}

type browseUpdateBody struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleBrowseUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	var body browseUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if body.ID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	if err := s.db.Upsert(store.Document{ID: body.ID, Text: body.Text, Metadata: body.Metadata}); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": body.ID, "status": "updated"})
}

func (s *Server) handleBrowseDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	res, err := ingest.DeleteDocument(s.db, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBrowseDeleteByType(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docType := q.Get("type")
	if docType == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("type is required"))
		return
	}
	res, err := ingest.PurgeByFilters(s.db, ingest.PurgeFilters{Type: docType, Repository: q.Get("repository")}, q.Get("dry_run") == "true")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBrowseCleanup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	repoPath := q.Get("repo_path")
	repository := q.Get("repository")
	dryRun := q.Get("dry_run") == "true"

	var (
		report ingest.OrphanReport
		err    error
	)
	switch action {
	case "orphaned_file_metadata":
		report, err = ingest.CleanupOrphanedFileMetadata(s.db, repoPath, repository, dryRun)
	case "orphaned_dependencies":
		report, err = ingest.CleanupOrphanedDependencies(s.db, repoPath, repository, dryRun)
	case "orphaned_insights":
		report, err = ingest.CleanupOrphanedInsights(s.db, repoPath, repository, dryRun)
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", action))
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBrowsePurge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := ingest.PurgeByFilters(s.db, ingest.PurgeFilters{
		Repository: q.Get("repository"), Branch: q.Get("branch"), Type: q.Get("type"),
		Before: q.Get("before"), After: q.Get("after"),
	}, q.Get("dry_run") == "true")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- session capture ---

type sessionSummaryBody struct {
	SessionID   string   `json:"session_id"`
	Transcript  string   `json:"transcript"`
	FilesEdited []string `json:"files_edited"`
	ToolCalls   int      `json:"tool_calls"`
	TokenCount  int      `json:"token_count"`
	Repository  string   `json:"repository"`
	Initiative  string   `json:"initiative"`
	Sync        bool     `json:"sync"`
}

// handleSessionSummary is the hook entry point for §4.N: a finished session
// posts its transcript here and capture decides whether it's worth keeping.
func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	if s.captureEng == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("autocapture is disabled"))
		return
	}
	var body sessionSummaryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	session := capture.Session{
		SessionID: body.SessionID, Transcript: body.Transcript, FilesEdited: body.FilesEdited,
		ToolCalls: body.ToolCalls, TokenCount: body.TokenCount, Repository: body.Repository, Initiative: body.Initiative,
	}
	result, taskID, err := s.captureEng.RunSyncOrAsync(r.Context(), session, s.captureQueue, s.captureExec, body.Sync)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "task_id": taskID})
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	s.ingestQueue.Trigger()
	s.captureQueue.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) handleProcessSync(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("task_id is required"))
		return
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if t, ok := s.ingestQueue.Status(taskID); ok && (t.Status == queue.StatusComplete || t.Status == queue.StatusFailed) {
			writeJSON(w, http.StatusOK, t)
			return
		}
		if t, ok := s.captureQueue.Status(taskID); ok && (t.Status == queue.StatusComplete || t.Status == queue.StatusFailed) {
			writeJSON(w, http.StatusOK, t)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	writeJSON(w, http.StatusRequestTimeout, map[string]string{"status": "timed out waiting for completion"})
}

func (s *Server) handleAutocaptureStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.captureEng != nil})
}

func (s *Server) handleFocusedInitiative(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository")
	if repo == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("repository is required"))
		return
	}
	focus, err := s.initiatives.GetFocus(repo)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, focus)
}

// --- ingest status ---

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingestQueue.List(r.URL.Query().Get("repository")))
}

func (s *Server) handleIngestStatusByID(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/ingest-status/")
	task, ok := s.ingestQueue.Status(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- admin ---

func (s *Server) handleAdminBackup(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("dest")
	if dest == "" {
		dest = fmt.Sprintf("%s.backup-%d", config.DBPath(), time.Now().UTC().Unix())
	}
	if _, err := s.db.Conn().Exec(`VACUUM INTO ?`, dest); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"backup_path": dest})
}

func (s *Server) handleMigrationsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schema_version": s.db.SchemaVersion()})
}

// --- mcp bridge ---

func (s *Server) handleMCPToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type mcpToolsCallBody struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleMCPToolsCall(w http.ResponseWriter, r *http.Request) {
	var body mcpToolsCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.registry.Call(r.Context(), body.Name, body.Arguments)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeToolResult(w, result)
}

func writeToolResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
