package initiative

import (
	"testing"
	"time"

	"github.com/cortexmemory/cortex/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateRequiresRepositoryAndName(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Create("", "name", "", true); err == nil {
		t.Fatal("expected an error for an empty repository")
	}
	if _, err := e.Create("repoX", "", "", true); err == nil {
		t.Fatal("expected an error for an empty name")
	}
}

func TestCreateAutoFocusesByDefault(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Auth Migration", "migrate to OAuth", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	focus, err := e.GetFocus("repoX")
	if err != nil {
		t.Fatalf("GetFocus: %v", err)
	}
	if focus == nil || focus.InitiativeID != init.ID {
		t.Fatalf("expected repoX focused on %s, got %+v", init.ID, focus)
	}
}

func TestCreateWithoutAutoFocusLeavesNoFocus(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Create("repoX", "Background cleanup", "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	focus, _ := e.GetFocus("repoX")
	if focus != nil {
		t.Fatalf("expected no focus set, got %+v", focus)
	}
}

func TestListFiltersByStatusAndSortsByUpdatedAt(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.Create("repoX", "Initiative A", "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := e.Complete(a.ID, "repoX", "wrapped up"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := e.Create("repoX", "Initiative B", "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, _, err := e.List("repoX", "active")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Initiative B" {
		t.Fatalf("expected only Initiative B active, got %+v", active)
	}

	all, _, err := e.List("repoX", "all")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both initiatives listed, got %d", len(all))
	}
}

func TestFocusRejectsCompletedInitiative(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Old work", "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := e.Complete(init.ID, "repoX", "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, _, err := e.Focus("repoX", init.ID); err == nil {
		t.Fatal("expected focusing a completed initiative to fail")
	}
}

func TestCompleteClearsFocusWhenFocused(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Current work", "", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := e.Complete(init.ID, "repoX", "finished up"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	focus, _ := e.GetFocus("repoX")
	if focus != nil {
		t.Fatalf("expected focus cleared after completing the focused initiative, got %+v", focus)
	}
}

func TestCompleteRejectsAlreadyCompleted(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Work", "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := e.Complete(init.ID, "repoX", "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, _, err := e.Complete(init.ID, "repoX", "done again"); err == nil {
		t.Fatal("expected completing an already-completed initiative to fail")
	}
}

func TestResolveFallsBackToFocusedInitiative(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Focused work", "", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id, name := e.Resolve("repoX", "")
	if id != init.ID || name != init.Name {
		t.Fatalf("expected focused initiative resolved, got id=%q name=%q", id, name)
	}
}

func TestResolveByExplicitName(t *testing.T) {
	e := newTestEngine(t)
	init, err := e.Create("repoX", "Named work", "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id, name := e.Resolve("repoX", "Named work")
	if id != init.ID || name != init.Name {
		t.Fatalf("expected name lookup to resolve the initiative, got id=%q name=%q", id, name)
	}
}

func TestDetectCompletionSignalsMatchesWholeWordsOnly(t *testing.T) {
	if !DetectCompletionSignals("We shipped this today") {
		t.Fatal("expected 'shipped' to be detected")
	}
	if DetectCompletionSignals("completely unrelated text about bananas") {
		t.Fatal("did not expect 'completely' to match the whole-word 'complete' signal")
	}
}

func TestCalculateDurationLadder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		delta time.Duration
		want  string
	}{
		{30 * time.Minute, "less than 1 hour"},
		{3 * time.Hour, "3 hours"},
		{24 * time.Hour, "1 day"},
		{3 * 24 * time.Hour, "3 days"},
		{14 * 24 * time.Hour, "2 weeks"},
		{60 * 24 * time.Hour, "2 months"},
	}
	for _, c := range cases {
		start := base.Format(time.RFC3339)
		end := base.Add(c.delta).Format(time.RFC3339)
		got := CalculateDuration(start, end)
		if got != c.want {
			t.Errorf("CalculateDuration(delta=%v) = %q, want %q", c.delta, got, c.want)
		}
	}
}

func TestCheckStalenessThreshold(t *testing.T) {
	fresh := time.Now().UTC().Format(time.RFC3339)
	if stale, _ := CheckStaleness(fresh); stale {
		t.Fatal("expected a just-updated initiative to not be stale")
	}
	old := time.Now().UTC().Add(-6 * 24 * time.Hour).Format(time.RFC3339)
	stale, days := CheckStaleness(old)
	if !stale || days < StaleThresholdDays {
		t.Fatalf("expected a 6-day-old initiative to be stale, got stale=%v days=%d", stale, days)
	}
}

func TestCountTaggedItemsCountsNotesAndSessionSummaries(t *testing.T) {
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	e := New(db)
	init, err := e.Create("repoX", "Tagged work", "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = db.Upsert(store.Document{ID: "note:1", Text: "a note", Metadata: map[string]any{
		"type": store.KindNote, "repository": "repoX", "initiative_id": init.ID,
	}})
	_ = db.Upsert(store.Document{ID: "session_summary:1", Text: "a summary", Metadata: map[string]any{
		"type": store.KindSessionSummary, "repository": "repoX", "initiative_id": init.ID,
	}})

	listed, _, err := e.List("repoX", "all")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 initiative, got %d", len(listed))
	}
	if listed[0].NoteCount != 1 || listed[0].SessionSummaryCount != 1 {
		t.Fatalf("expected 1 note and 1 session summary counted, got %+v", listed[0])
	}
}
