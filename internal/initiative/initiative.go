// Package initiative manages multi-session workstreams: a cross-document
// tag ("epic", "migration", "feature") that notes, insights, and session
// summaries can be filed under, plus the per-repository "focused
// initiative" pointer that auto-tags new documents when no initiative is
// given explicitly.
package initiative

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/store"
)

var log = cortexlog.Named("initiative")

// StaleThresholdDays is how long an active initiative can go without an
// update before orient surfaces a stale prompt.
const StaleThresholdDays = 5

// completionSignals are whole words whose presence in free text suggests
// the author believes the tagged work is done.
var completionSignals = []string{
	"complete", "completed", "done", "finished", "final",
	"shipped", "merged", "released", "wrapped up", "closes",
}

var completionSignalRE = buildCompletionSignalRE()

func buildCompletionSignalRE() *regexp.Regexp {
	escaped := make([]string, len(completionSignals))
	for i, s := range completionSignals {
		escaped[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`\b(` + strings.Join(escaped, "|") + `)\b`)
}

// DetectCompletionSignals reports whether text contains a completion
// keyword as a whole word, case-insensitively.
func DetectCompletionSignals(text string) bool {
	return completionSignalRE.MatchString(strings.ToLower(text))
}

// Engine implements the initiative lifecycle: create, list, focus,
// complete, summarize, plus the focus pointer other packages resolve
// against.
type Engine struct {
	db *store.DB
}

// New constructs an initiative Engine over db.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// Initiative is the public view of an initiative document.
type Initiative struct {
	ID                string
	Name              string
	Goal              string
	Status            string
	Repository        string
	Branch            string
	CreatedAt         string
	UpdatedAt         string
	CompletedAt       string
	CompletionSummary string
}

// ListedInitiative adds the per-initiative derived counts list() reports.
type ListedInitiative struct {
	Initiative
	SessionSummaryCount int
	NoteCount           int
}

// Focus is the current focus pointer for a repository.
type Focus struct {
	InitiativeID   string
	InitiativeName string
}

// ContextItem is one entry in focus()'s "recent context" sample.
type ContextItem struct {
	ID        string
	Type      string
	CreatedAt string
	Preview   string
}

// ArchiveStats is complete()'s summary of what the initiative accumulated.
type ArchiveStats struct {
	SessionSummaryCount int
	NoteCount           int
	Duration            string
}

// Create makes a new initiative document and, unless disabled, focuses it.
func (e *Engine) Create(repository, name, goal string, autoFocus bool) (Initiative, error) {
	if repository == "" {
		return Initiative{}, fmt.Errorf("initiative: repository is required")
	}
	if name == "" {
		return Initiative{}, fmt.Errorf("initiative: name is required")
	}

	now := nowRFC3339()
	id := "initiative:" + shortID()

	content := name
	if goal != "" {
		content += "\n\nGoal: " + goal
	}

	meta := map[string]any{
		"type":               store.KindInitiative,
		"repository":         repository,
		"name":               name,
		"goal":               goal,
		"status":             "active",
		"completion_summary": "",
		"created_at":         now,
		"updated_at":         now,
		"completed_at":       "",
	}
	if err := e.db.Upsert(store.Document{ID: id, Text: content, Metadata: meta}); err != nil {
		return Initiative{}, fmt.Errorf("initiative: create: %w", err)
	}
	log.Info("initiative created: %s (%s)", id, name)

	init := Initiative{
		ID: id, Name: name, Goal: goal, Status: "active", Repository: repository,
		CreatedAt: now, UpdatedAt: now,
	}

	if autoFocus {
		if err := e.SetFocus(repository, id, name, now); err != nil {
			return init, fmt.Errorf("initiative: create succeeded but auto-focus failed: %w", err)
		}
	}
	return init, nil
}

// List returns repository's initiatives matching status ("all", "active",
// "completed"), sorted by updated_at descending, plus the current focus.
func (e *Engine) List(repository, status string) ([]ListedInitiative, *Focus, error) {
	if repository == "" {
		return nil, nil, fmt.Errorf("initiative: repository is required")
	}

	filter := store.Filter{"$and": []store.Filter{
		{"type": store.KindInitiative},
		{"repository": repository},
	}}
	if status == "active" || status == "completed" {
		and := filter["$and"].([]store.Filter)
		filter["$and"] = append(and, store.Filter{"status": status})
	}

	res, err := e.db.Get(nil, filter, store.Include{Text: true, Metadata: true})
	if err != nil {
		return nil, nil, fmt.Errorf("initiative: list: %w", err)
	}

	out := make([]ListedInitiative, 0, len(res.IDs))
	for i, id := range res.IDs {
		meta := res.Metadatas[i]
		sessionCount, noteCount := e.countTaggedItems(id)
		out = append(out, ListedInitiative{
			Initiative: Initiative{
				ID:                id,
				Name:              metaString(meta, "name"),
				Goal:              metaString(meta, "goal"),
				Status:            metaStringOr(meta, "status", "active"),
				Repository:        repository,
				CreatedAt:         metaString(meta, "created_at"),
				UpdatedAt:         metaString(meta, "updated_at"),
				CompletedAt:       metaString(meta, "completed_at"),
				CompletionSummary: metaString(meta, "completion_summary"),
			},
			SessionSummaryCount: sessionCount,
			NoteCount:           noteCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })

	focus, _ := e.GetFocus(repository)
	return out, focus, nil
}

// Focus sets the focused initiative for repository, rejecting completed
// initiatives, and returns a small recent-context sample.
func (e *Engine) Focus(repository, initiativeRef string) (Initiative, []ContextItem, error) {
	if repository == "" {
		return Initiative{}, nil, fmt.Errorf("initiative: repository is required")
	}
	if initiativeRef == "" {
		return Initiative{}, nil, fmt.Errorf("initiative: initiative id or name is required")
	}

	id, meta, err := e.find(repository, initiativeRef)
	if err != nil {
		return Initiative{}, nil, err
	}
	if meta == nil {
		return Initiative{}, nil, fmt.Errorf("initiative: %q not found in repository %q", initiativeRef, repository)
	}

	if metaString(meta, "status") == "completed" {
		return Initiative{}, nil, fmt.Errorf("initiative: cannot focus completed initiative %q", metaString(meta, "name"))
	}

	now := nowRFC3339()
	name := metaString(meta, "name")
	if err := e.SetFocus(repository, id, name, now); err != nil {
		return Initiative{}, nil, fmt.Errorf("initiative: focus: %w", err)
	}

	context := e.recentContext(id, 5)
	init := Initiative{
		ID: id, Name: name, Goal: metaString(meta, "goal"), Status: metaString(meta, "status"),
		Repository: repository, CreatedAt: metaString(meta, "created_at"), UpdatedAt: now,
	}
	return init, context, nil
}

// Complete marks an initiative completed, clears focus if it was focused,
// and returns archive stats.
func (e *Engine) Complete(initiativeRef, repository, summary string) (Initiative, ArchiveStats, error) {
	if initiativeRef == "" {
		return Initiative{}, ArchiveStats{}, fmt.Errorf("initiative: initiative id or name is required")
	}
	if summary == "" {
		return Initiative{}, ArchiveStats{}, fmt.Errorf("initiative: completion summary is required")
	}

	id, meta, err := e.find(repository, initiativeRef)
	if err != nil {
		return Initiative{}, ArchiveStats{}, err
	}
	if meta == nil {
		return Initiative{}, ArchiveStats{}, fmt.Errorf("initiative: %q not found", initiativeRef)
	}
	if metaString(meta, "status") == "completed" {
		return Initiative{}, ArchiveStats{}, fmt.Errorf("initiative: %q is already completed", metaString(meta, "name"))
	}

	repo := metaString(meta, "repository")
	if repo == "" {
		repo = repository
	}
	now := nowRFC3339()
	createdAt := metaString(meta, "created_at")

	content := fmt.Sprintf("%s\n\nGoal: %s\n\nCompletion Summary: %s",
		metaString(meta, "name"), metaString(meta, "goal"), summary)

	meta["status"] = "completed"
	meta["completion_summary"] = summary
	meta["updated_at"] = now
	meta["completed_at"] = now

	if err := e.db.Upsert(store.Document{ID: id, Text: content, Metadata: meta}); err != nil {
		return Initiative{}, ArchiveStats{}, fmt.Errorf("initiative: complete: %w", err)
	}
	log.Info("initiative completed: %s", id)

	if focus, _ := e.GetFocus(repo); focus != nil && focus.InitiativeID == id {
		e.ClearFocus(repo)
	}

	sessionCount, noteCount := e.countTaggedItems(id)
	duration := CalculateDuration(createdAt, now)

	init := Initiative{
		ID: id, Name: metaString(meta, "name"), Goal: metaString(meta, "goal"), Status: "completed",
		Repository: repo, CreatedAt: createdAt, UpdatedAt: now, CompletedAt: now, CompletionSummary: summary,
	}
	return init, ArchiveStats{SessionSummaryCount: sessionCount, NoteCount: noteCount, Duration: duration}, nil
}

// Summarize returns a narrative, counts, and an ordered timeline of
// documents tagged with initiativeRef.
func (e *Engine) Summarize(repository, initiativeRef string) (Initiative, ArchiveStats, []ContextItem, error) {
	id, meta, err := e.find(repository, initiativeRef)
	if err != nil {
		return Initiative{}, ArchiveStats{}, nil, err
	}
	if meta == nil {
		return Initiative{}, ArchiveStats{}, nil, fmt.Errorf("initiative: %q not found", initiativeRef)
	}
	sessionCount, noteCount := e.countTaggedItems(id)
	timeline := e.recentContext(id, 50)
	init := Initiative{
		ID: id, Name: metaString(meta, "name"), Goal: metaString(meta, "goal"),
		Status: metaString(meta, "status"), Repository: metaString(meta, "repository"),
		CreatedAt: metaString(meta, "created_at"), UpdatedAt: metaString(meta, "updated_at"),
		CompletedAt: metaString(meta, "completed_at"), CompletionSummary: metaString(meta, "completion_summary"),
	}
	return init, ArchiveStats{SessionSummaryCount: sessionCount, NoteCount: noteCount}, timeline, nil
}

// Resolve implements the three-way initiative-argument resolution: an
// explicit "initiative:"-prefixed id, an explicit name lookup, or the
// repository's currently focused initiative.
func (e *Engine) Resolve(repository, initiativeArg string) (id, name string) {
	if initiativeArg == "" {
		focus, _ := e.GetFocus(repository)
		if focus == nil {
			return "", ""
		}
		return focus.InitiativeID, focus.InitiativeName
	}
	foundID, meta, err := e.find(repository, initiativeArg)
	if err != nil || meta == nil {
		if strings.HasPrefix(initiativeArg, "initiative:") {
			return initiativeArg, ""
		}
		return "", ""
	}
	return foundID, metaString(meta, "name")
}

// find looks up an initiative by id (if prefixed "initiative:") or by
// name within repository, returning its metadata if found.
func (e *Engine) find(repository, initiativeRef string) (string, map[string]any, error) {
	if strings.HasPrefix(initiativeRef, "initiative:") {
		res, err := e.db.Get([]string{initiativeRef}, nil, store.Include{Metadata: true})
		if err != nil {
			return "", nil, fmt.Errorf("initiative: lookup: %w", err)
		}
		if len(res.IDs) > 0 {
			return res.IDs[0], res.Metadatas[0], nil
		}
	}

	and := []store.Filter{{"type": store.KindInitiative}, {"name": initiativeRef}}
	if repository != "" {
		and = append(and, store.Filter{"repository": repository})
	}
	res, err := e.db.Get(nil, store.Filter{"$and": and}, store.Include{Metadata: true})
	if err != nil {
		return "", nil, fmt.Errorf("initiative: lookup: %w", err)
	}
	if len(res.IDs) == 0 {
		return "", nil, nil
	}
	return res.IDs[0], res.Metadatas[0], nil
}

// countTaggedItems counts the session_summary and note documents tagged
// with initiativeID.
func (e *Engine) countTaggedItems(initiativeID string) (sessionCount, noteCount int) {
	sessionRes, err := e.db.Get(nil, store.Filter{"$and": []store.Filter{
		{"type": store.KindSessionSummary}, {"initiative_id": initiativeID},
	}}, store.Include{})
	if err == nil {
		sessionCount = len(sessionRes.IDs)
	}
	noteRes, err := e.db.Get(nil, store.Filter{"$and": []store.Filter{
		{"type": store.KindNote}, {"initiative_id": initiativeID},
	}}, store.Include{})
	if err == nil {
		noteCount = len(noteRes.IDs)
	}
	return sessionCount, noteCount
}

// recentContext returns up to limit note/session_summary documents tagged
// with initiativeID, newest first.
func (e *Engine) recentContext(initiativeID string, limit int) []ContextItem {
	res, err := e.db.Get(nil, store.Filter{"$and": []store.Filter{
		{"initiative_id": initiativeID},
		{"type": map[string]any{"$in": []any{store.KindSessionSummary, store.KindNote}}},
	}}, store.Include{Text: true, Metadata: true})
	if err != nil {
		return nil
	}

	items := make([]ContextItem, 0, len(res.IDs))
	for i, id := range res.IDs {
		meta := res.Metadatas[i]
		doc := res.Texts[i]
		preview := doc
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		items = append(items, ContextItem{
			ID: id, Type: metaString(meta, "type"), CreatedAt: metaString(meta, "created_at"), Preview: preview,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// TouchUpdatedAt bumps an initiative's updated_at, used whenever a new
// document is tagged with it so staleness tracking reflects real activity.
func (e *Engine) TouchUpdatedAt(initiativeID, timestamp string) {
	res, err := e.db.Get([]string{initiativeID}, nil, store.Include{Text: true, Metadata: true})
	if err != nil || len(res.IDs) == 0 {
		return
	}
	meta := res.Metadatas[0]
	meta["updated_at"] = timestamp
	_ = e.db.Upsert(store.Document{ID: initiativeID, Text: res.Texts[0], Metadata: meta})
}

// SetFocus points repository's focus document at an initiative.
func (e *Engine) SetFocus(repository, initiativeID, initiativeName, timestamp string) error {
	if timestamp == "" {
		timestamp = nowRFC3339()
	}
	meta := map[string]any{
		"type":            store.KindFocus,
		"repository":      repository,
		"initiative_id":   initiativeID,
		"initiative_name": initiativeName,
		"created_at":      timestamp,
		"updated_at":      timestamp,
	}
	return e.db.Upsert(store.Document{
		ID:       store.FocusID(repository),
		Text:     "Current focus: " + initiativeName,
		Metadata: meta,
	})
}

// GetFocus returns repository's current focus, or nil if none is set.
func (e *Engine) GetFocus(repository string) (*Focus, error) {
	res, err := e.db.Get([]string{store.FocusID(repository)}, nil, store.Include{Metadata: true})
	if err != nil {
		return nil, err
	}
	if len(res.IDs) == 0 {
		return nil, nil
	}
	meta := res.Metadatas[0]
	return &Focus{InitiativeID: metaString(meta, "initiative_id"), InitiativeName: metaString(meta, "initiative_name")}, nil
}

// ClearFocus removes repository's focus pointer.
func (e *Engine) ClearFocus(repository string) {
	if _, err := e.db.Delete([]string{store.FocusID(repository)}, nil); err != nil {
		log.Warn("clear focus failed for %s: %v", repository, err)
	}
}

// AnyFocusedRepository returns the repository named by any existing focus
// document, used to auto-detect a repository when the caller gave none and
// the cwd isn't a recognizable VCS repo.
func (e *Engine) AnyFocusedRepository() string {
	res, err := e.db.Get(nil, store.Filter{"type": store.KindFocus}, store.Include{Metadata: true})
	if err != nil || len(res.Metadatas) == 0 {
		return ""
	}
	return metaString(res.Metadatas[0], "repository")
}

// CheckStaleness reports whether an initiative last updated at updatedAt
// has gone quiet for at least StaleThresholdDays, and how many days.
func CheckStaleness(updatedAt string) (stale bool, daysInactive int) {
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return false, 0
	}
	days := int(time.Since(t).Hours() / 24)
	return days >= StaleThresholdDays, days
}

// CalculateDuration renders the elapsed time between two ISO timestamps
// using the project's fixed ladder: under a day in hours, "1 day", under a
// week in days, under a month in weeks, else months.
func CalculateDuration(startTimestamp, endTimestamp string) string {
	start, err := time.Parse(time.RFC3339, startTimestamp)
	if err != nil {
		return "unknown"
	}
	end, err := time.Parse(time.RFC3339, endTimestamp)
	if err != nil {
		return "unknown"
	}
	delta := end.Sub(start)
	days := int(delta.Hours() / 24)

	switch {
	case days == 0:
		hours := int(delta.Hours())
		if hours == 0 {
			return "less than 1 hour"
		}
		return pluralize(hours, "hour")
	case days == 1:
		return "1 day"
	case days < 7:
		return fmt.Sprintf("%d days", days)
	case days < 30:
		return pluralize(days/7, "week")
	default:
		return pluralize(days/30, "month")
	}
}

// CalculateDurationFromNow renders the elapsed time from startTimestamp to
// now using the same ladder as CalculateDuration.
func CalculateDurationFromNow(startTimestamp string) string {
	return CalculateDuration(startTimestamp, nowRFC3339())
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func shortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(nowRFC3339()))[:8]
	}
	return hex.EncodeToString(b)
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func metaStringOr(meta map[string]any, key, def string) string {
	if s := metaString(meta, key); s != "" {
		return s
	}
	return def
}
