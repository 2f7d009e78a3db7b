package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexmemory/cortex/internal/store"
)

func newGCTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func upsertChunk(t *testing.T, db *store.DB, id, repository, filePath string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	err := db.Upsert(store.Document{
		ID:   id,
		Text: "chunk text",
		Metadata: map[string]any{
			"type":       store.KindCode,
			"repository": repository,
			"file_path":  filePath,
			"created_at": now,
			"updated_at": now,
		},
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestDeleteFileChunksRemovesMatchingPath(t *testing.T) {
	db := newGCTestDB(t)
	upsertChunk(t, db, "cortex:a.go:0", "cortex", "a.go")
	upsertChunk(t, db, "cortex:b.go:0", "cortex", "b.go")

	n, err := DeleteFileChunks(db, []string{"a.go"}, "cortex")
	if err != nil {
		t.Fatalf("DeleteFileChunks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	res, err := db.Get(nil, store.Filter{"repository": "cortex"}, store.Include{Metadata: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.IDs) != 1 || res.IDs[0] != "cortex:b.go:0" {
		t.Fatalf("expected only b.go chunk remaining, got %v", res.IDs)
	}
}

func TestCleanupOrphanedFileMetadataDetectsMissingFiles(t *testing.T) {
	db := newGCTestDB(t)
	repoPath := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoPath, "present.go"), []byte("package x"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range []string{"present.go", "missing.go"} {
		err := db.Upsert(store.Document{
			ID:   "filemeta:" + p,
			Text: "meta",
			Metadata: map[string]any{
				"type":       store.KindFileMetadata,
				"repository": "cortex",
				"file_path":  p,
				"created_at": now,
				"updated_at": now,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	report, err := CleanupOrphanedFileMetadata(db, repoPath, "cortex", true)
	if err != nil {
		t.Fatalf("CleanupOrphanedFileMetadata: %v", err)
	}
	if report.Count != 1 || report.OrphanedPaths[0] != "missing.go" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Deleted != 0 {
		t.Fatal("dry run must not delete")
	}

	report, err = CleanupOrphanedFileMetadata(db, repoPath, "cortex", false)
	if err != nil {
		t.Fatalf("CleanupOrphanedFileMetadata: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", report.Deleted)
	}
}

func TestCleanupOrphanedInsightsRequiresAllFilesMissing(t *testing.T) {
	db := newGCTestDB(t)
	repoPath := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoPath, "kept.go"), []byte("package x"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	mustUpsertInsight := func(id string, files []string) {
		filesJSON, err := json.Marshal(files)
		if err != nil {
			t.Fatal(err)
		}
		err = db.Upsert(store.Document{
			ID:   id,
			Text: "insight",
			Metadata: map[string]any{
				"type":       store.KindInsight,
				"repository": "cortex",
				"files":      string(filesJSON),
				"created_at": now,
				"updated_at": now,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	mustUpsertInsight("insight:partial", []string{"kept.go", "gone.go"})
	mustUpsertInsight("insight:fully-orphaned", []string{"gone1.go", "gone2.go"})

	report, err := CleanupOrphanedInsights(db, repoPath, "cortex", false)
	if err != nil {
		t.Fatalf("CleanupOrphanedInsights: %v", err)
	}
	if report.Count != 1 {
		t.Fatalf("expected 1 fully-orphaned insight, got %d (%v)", report.Count, report.OrphanedPaths)
	}

	res, err := db.Get([]string{"insight:partial"}, nil, store.Include{Metadata: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 1 {
		t.Fatal("expected insight with a surviving file to remain")
	}
}

func TestCleanupDeprecatedInsightsRespectsAgeCutoff(t *testing.T) {
	db := newGCTestDB(t)
	now := time.Now().UTC()
	old := now.Add(-200 * 24 * time.Hour).Format(time.RFC3339)
	recent := now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)

	for id, dep := range map[string]string{"insight:old": old, "insight:recent": recent} {
		err := db.Upsert(store.Document{
			ID:   id,
			Text: "insight",
			Metadata: map[string]any{
				"type":          store.KindInsight,
				"repository":    "cortex",
				"status":        "deprecated",
				"deprecated_at": dep,
				"created_at":    dep,
				"updated_at":    dep,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	n, err := CleanupDeprecatedInsights(db, 0, "cortex")
	if err != nil {
		t.Fatalf("CleanupDeprecatedInsights: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	res, err := db.Get([]string{"insight:recent"}, nil, store.Include{Metadata: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 1 {
		t.Fatal("expected recent deprecated insight to survive the cutoff")
	}
}

func TestPurgeByFiltersMatchesRepositoryAndType(t *testing.T) {
	db := newGCTestDB(t)
	upsertChunk(t, db, "cortex:a.go:0", "cortex", "a.go")
	upsertChunk(t, db, "other:b.go:0", "other", "b.go")

	result, err := PurgeByFilters(db, PurgeFilters{Repository: "cortex", Type: store.KindCode}, true)
	if err != nil {
		t.Fatalf("PurgeByFilters: %v", err)
	}
	if result.MatchedCount != 1 {
		t.Fatalf("expected 1 match, got %d", result.MatchedCount)
	}
	if result.DeletedCount != 0 {
		t.Fatal("dry run must not delete")
	}
}

func TestDeleteDocumentReportsFoundAndType(t *testing.T) {
	db := newGCTestDB(t)
	upsertChunk(t, db, "cortex:a.go:0", "cortex", "a.go")

	result, err := DeleteDocument(db, "cortex:a.go:0")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if !result.Found || result.Type != store.KindCode {
		t.Fatalf("unexpected result: %+v", result)
	}

	result, err = DeleteDocument(db, "cortex:a.go:0")
	if err != nil {
		t.Fatalf("DeleteDocument (second call): %v", err)
	}
	if result.Found {
		t.Fatal("expected not-found on second delete")
	}
}
