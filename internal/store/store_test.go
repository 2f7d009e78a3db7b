package store

import "testing"

func TestOpenMemoryMigratesSchema(t *testing.T) {
	db, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.SchemaVersion() != 1 {
		t.Errorf("SchemaVersion = %d, want 1", db.SchemaVersion())
	}
	if err := db.IntegrityCheck(); err != nil {
		t.Errorf("IntegrityCheck: %v", err)
	}
}

func TestEmbeddingMetaMismatch(t *testing.T) {
	db, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.SetEmbeddingMeta("ollama", "nomic-embed-text", 768); err != nil {
		t.Fatalf("SetEmbeddingMeta: %v", err)
	}
	if err := db.CheckEmbeddingMeta("ollama", "nomic-embed-text", 768); err != nil {
		t.Errorf("expected no mismatch, got %v", err)
	}
	if err := db.CheckEmbeddingMeta("ollama", "nomic-embed-text", 1536); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if err := db.CheckEmbeddingMeta("openai", "text-embedding-3-small", 768); err == nil {
		t.Error("expected provider/model mismatch error")
	}
}

func TestEmbeddingMetaFreshDBIsCompatible(t *testing.T) {
	db, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	if err := db.CheckEmbeddingMeta("ollama", "nomic-embed-text", 768); err != nil {
		t.Errorf("fresh db should be compatible with anything, got %v", err)
	}
}
