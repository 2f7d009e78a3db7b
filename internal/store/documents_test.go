package store

import (
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndGetByID(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)

	err := db.Upsert(Document{
		ID:   "note:aaaa1111",
		Text: "remember to rotate keys",
		Metadata: map[string]any{
			"type":       KindNote,
			"repository": "cortex",
			"created_at": now,
			"updated_at": now,
			"title":      "Key rotation",
		},
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := db.Get([]string{"note:aaaa1111"}, nil, Include{Text: true, Metadata: true, Embeddings: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.IDs) != 1 || res.IDs[0] != "note:aaaa1111" {
		t.Fatalf("IDs = %v", res.IDs)
	}
	if res.Texts[0] != "remember to rotate keys" {
		t.Errorf("Text = %q", res.Texts[0])
	}
	if res.Metadatas[0]["title"] != "Key rotation" {
		t.Errorf("Metadata = %v", res.Metadatas[0])
	}
	if len(res.Embeddings[0]) != 4 {
		t.Errorf("Embedding = %v", res.Embeddings[0])
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	doc := Document{
		ID:        "note:bbbb2222",
		Text:      "first version",
		Metadata:  map[string]any{"type": KindNote, "repository": "cortex", "created_at": now, "updated_at": now},
		Embedding: []float32{1, 0, 0, 0},
	}
	if err := db.Upsert(doc); err != nil {
		t.Fatal(err)
	}
	doc.Text = "second version"
	doc.Embedding = []float32{0, 1, 0, 0}
	if err := db.Upsert(doc); err != nil {
		t.Fatal(err)
	}

	n, err := db.Count(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1 (upsert must replace, not duplicate)", n)
	}

	res, err := db.Get([]string{"note:bbbb2222"}, nil, Include{Text: true, Embeddings: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Texts[0] != "second version" {
		t.Errorf("Text = %q, want replaced value", res.Texts[0])
	}
	if res.Embeddings[0][1] != 1 {
		t.Errorf("Embedding not replaced: %v", res.Embeddings[0])
	}
}

func TestGetByWhereFilter(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	for i, repo := range []string{"cortex", "cortex", "other"} {
		db.Upsert(Document{
			ID:       CodeChunkID(repo, "main.go", i),
			Text:     "package main",
			Metadata: map[string]any{"type": KindCode, "repository": repo, "branch": "main", "created_at": now, "updated_at": now},
		})
	}

	res, err := db.Get(nil, Filter{"repository": "cortex"}, Include{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 2 {
		t.Errorf("len(IDs) = %d, want 2", len(res.IDs))
	}
}

func TestDeleteByWhereFilter(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	db.Upsert(Document{ID: "cortex:a.go:0", Text: "a", Metadata: map[string]any{"type": KindCode, "repository": "cortex", "file_path": "a.go", "created_at": now, "updated_at": now}})
	db.Upsert(Document{ID: "cortex:b.go:0", Text: "b", Metadata: map[string]any{"type": KindCode, "repository": "cortex", "file_path": "b.go", "created_at": now, "updated_at": now}})

	n, err := db.Delete(nil, Filter{"file_path": "a.go"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Delete affected %d rows, want 1", n)
	}

	count, _ := db.Count(Filter{})
	if count != 1 {
		t.Errorf("Count after delete = %d, want 1", count)
	}
}

func TestQueryVectorNearestNeighbor(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	db.Upsert(Document{ID: "note:near", Text: "near", Metadata: map[string]any{"type": KindNote, "repository": "cortex", "created_at": now, "updated_at": now}, Embedding: []float32{1, 0, 0, 0}})
	db.Upsert(Document{ID: "note:far", Text: "far", Metadata: map[string]any{"type": KindNote, "repository": "cortex", "created_at": now, "updated_at": now}, Embedding: []float32{0, 0, 0, 1}})

	res, err := db.Query([]float32{1, 0, 0, 0}, 2, Filter{}, Include{Text: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.IDs) == 0 {
		t.Fatal("expected results")
	}
	if res.IDs[0] != "note:near" {
		t.Errorf("closest match = %s, want note:near", res.IDs[0])
	}
}

func TestQueryRespectsWhereFilter(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	db.Upsert(Document{ID: "note:mine", Text: "mine", Metadata: map[string]any{"type": KindNote, "repository": "cortex", "created_at": now, "updated_at": now}, Embedding: []float32{1, 0, 0, 0}})
	db.Upsert(Document{ID: "note:theirs", Text: "theirs", Metadata: map[string]any{"type": KindNote, "repository": "other", "created_at": now, "updated_at": now}, Embedding: []float32{1, 0, 0, 0}})

	res, err := db.Query([]float32{1, 0, 0, 0}, 10, Filter{"repository": "cortex"}, Include{})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range res.IDs {
		if id != "note:mine" {
			t.Errorf("leaked result outside filter: %s", id)
		}
	}
}

func TestCountAll(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < 3; i++ {
		db.Upsert(Document{ID: CodeChunkID("cortex", "f.go", i), Text: "x", Metadata: map[string]any{"type": KindCode, "repository": "cortex", "created_at": now, "updated_at": now}})
	}
	n, err := db.Count(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
