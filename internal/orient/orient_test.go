package orient

import (
	"testing"
	"time"

	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *initiative.Engine, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	initEngine := initiative.New(db)
	return New(db, initEngine), initEngine, db
}

func TestOrientUnindexedRepositoryReportsNotIndexed(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := eng.orientRepository("global", "", "")
	if res.Indexed {
		t.Fatal("expected an unindexed repository to report indexed=false")
	}
	if res.NeedsReindex {
		t.Fatal("expected needs_reindex=false when there is no delta state to compare")
	}
}

func TestOrientSurfacesFocusedInitiativeWithStalenessPrompt(t *testing.T) {
	eng, initEngine, db := newTestEngine(t)
	created, err := initEngine.Create("global", "ship the thing", "finish it", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := time.Now().UTC().Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	res, err := db.Get([]string{created.ID}, nil, store.Include{Metadata: true})
	if err != nil || len(res.IDs) == 0 {
		t.Fatalf("expected initiative document to exist")
	}
	meta := res.Metadatas[0]
	meta["updated_at"] = stale
	if err := db.Upsert(store.Document{ID: created.ID, Text: "ship the thing", Metadata: meta}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out := eng.orientRepository("global", "", "")
	if out.FocusedInitiative == nil {
		t.Fatal("expected a focused initiative")
	}
	if !out.FocusedInitiative.Stale {
		t.Fatal("expected the focused initiative to be flagged stale")
	}
	if out.FocusedInitiative.StalenessPrompt == "" {
		t.Fatal("expected a staleness prompt")
	}
}

func TestOrientDegradesGracefullyOnTotalFailure(t *testing.T) {
	res := degraded(errStub{})
	if res.Indexed || res.NeedsReindex {
		t.Fatal("expected degraded result to report indexed=false, needs_reindex=false")
	}
	if res.Error == "" {
		t.Fatal("expected an error message")
	}
}

type errStub struct{}

func (errStub) Error() string { return "boom" }
