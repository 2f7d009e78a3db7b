package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexmemory/cortex/internal/store"
)

// fakeEmbedder returns a deterministic vector derived from text length, so
// tests don't depend on a running Ollama/OpenAI endpoint.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) GetEmbedding(text, purpose string) ([]float32, error) {
	f.calls++
	return []float32{float32(len(text)), 0, 0, 0}, nil
}
func (f *fakeEmbedder) GetDocumentEmbedding(text string) ([]float32, error) {
	return f.GetEmbedding(text, "document")
}
func (f *fakeEmbedder) GetQueryEmbedding(text string) ([]float32, error) {
	return f.GetEmbedding(text, "query")
}
func (f *fakeEmbedder) EmbedBatch(texts []string, purpose string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.GetEmbedding(t, purpose)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Model() string   { return "fake-model" }
func (f *fakeEmbedder) Dimensions() int { return 4 }

func newEngineTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestFullRunProcessesAllFiles(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")
	writeRepoFile(t, root, "lib/helper.go", "package lib\n\nfunc Help() int {\n\treturn 42\n}\n")

	db := newEngineTestDB(t)
	eng := New(db, &fakeEmbedder{})
	statePath := filepath.Join(root, ".cortex", "ingest_state.json")

	stats, err := eng.Ingest(root, statePath, Options{Repository: "testrepo", ForceFull: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.DeltaMode != "full" {
		t.Fatalf("expected full mode, got %s", stats.DeltaMode)
	}
	if stats.FilesProcessed != 2 {
		t.Fatalf("expected 2 files processed, got %d (%+v)", stats.FilesProcessed, stats)
	}
	if stats.ChunksCreated == 0 {
		t.Fatal("expected at least one chunk created")
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", stats.Errors)
	}

	res, err := db.Get(nil, store.Filter{"repository": "testrepo"}, store.Include{Metadata: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// One skeleton doc plus at least one chunk per file.
	if len(res.IDs) < 3 {
		t.Fatalf("expected skeleton + code chunks, got %d docs", len(res.IDs))
	}
}

func TestIngestHashModeSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	db := newEngineTestDB(t)
	embedder := &fakeEmbedder{}
	eng := New(db, embedder)
	statePath := filepath.Join(root, ".cortex", "ingest_state.json")

	if _, err := eng.Ingest(root, statePath, Options{Repository: "testrepo", ForceFull: true}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	callsAfterFirst := embedder.calls

	stats, err := eng.Ingest(root, statePath, Options{Repository: "testrepo"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if stats.DeltaMode != "hash" {
		t.Fatalf("expected hash mode, got %s", stats.DeltaMode)
	}
	if stats.FilesProcessed != 0 {
		t.Fatalf("expected no files reprocessed on unchanged tree, got %d", stats.FilesProcessed)
	}
	if embedder.calls != callsAfterFirst {
		t.Fatalf("expected no additional embed calls, got %d more", embedder.calls-callsAfterFirst)
	}
}

func TestIngestHashModeReprocessesModifiedFile(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	db := newEngineTestDB(t)
	eng := New(db, &fakeEmbedder{})
	statePath := filepath.Join(root, ".cortex", "ingest_state.json")

	if _, err := eng.Ingest(root, statePath, Options{Repository: "testrepo", ForceFull: true}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"changed\")\n}\n")
	stats, err := eng.Ingest(root, statePath, Options{Repository: "testrepo"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if stats.FilesProcessed != 1 {
		t.Fatalf("expected the modified file reprocessed, got %d", stats.FilesProcessed)
	}
}

func TestIngestToleratesPerFileErrorsWithoutAbortingRun(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "good.go", "package main\n\nfunc main() {}\n")
	writeRepoFile(t, root, "bad.go", "package main\n")

	db := newEngineTestDB(t)
	failing := &failingEmbedderAfterN{n: 1}
	eng := New(db, failing)
	statePath := filepath.Join(root, ".cortex", "ingest_state.json")

	stats, err := eng.Ingest(root, statePath, Options{Repository: "testrepo", ForceFull: true})
	if err != nil {
		t.Fatalf("Ingest returned a hard error instead of tolerating the per-file failure: %v", err)
	}
	if len(stats.Errors) == 0 {
		t.Fatal("expected at least one recorded file error")
	}
	if stats.FilesProcessed == 0 {
		t.Fatal("expected the non-failing file to still be processed")
	}
}

// failingEmbedderAfterN succeeds n times then fails every call after, to
// exercise per-file error tolerance without depending on a real network call.
type failingEmbedderAfterN struct {
	n     int
	calls int
}

func (f *failingEmbedderAfterN) GetEmbedding(text, purpose string) ([]float32, error) {
	f.calls++
	if f.calls > f.n {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	return []float32{1, 0, 0, 0}, nil
}
func (f *failingEmbedderAfterN) GetDocumentEmbedding(text string) ([]float32, error) {
	return f.GetEmbedding(text, "document")
}
func (f *failingEmbedderAfterN) GetQueryEmbedding(text string) ([]float32, error) {
	return f.GetEmbedding(text, "query")
}
func (f *failingEmbedderAfterN) EmbedBatch(texts []string, purpose string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.GetEmbedding(t, purpose)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *failingEmbedderAfterN) Name() string    { return "failing" }
func (f *failingEmbedderAfterN) Model() string   { return "failing-model" }
func (f *failingEmbedderAfterN) Dimensions() int { return 4 }
