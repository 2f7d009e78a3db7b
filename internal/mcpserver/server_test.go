package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/ingest"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/memory"
	"github.com/cortexmemory/cortex/internal/orient"
	"github.com/cortexmemory/cortex/internal/rerank"
	"github.com/cortexmemory/cortex/internal/search"
	"github.com/cortexmemory/cortex/internal/store"
)

type constEmbedder struct{ dim int }

func (c constEmbedder) vec() []float32 {
	v := make([]float32, c.dim)
	v[0] = 1
	return v
}
func (c constEmbedder) GetEmbedding(string, string) ([]float32, error) { return c.vec(), nil }
func (c constEmbedder) GetDocumentEmbedding(string) ([]float32, error) { return c.vec(), nil }
func (c constEmbedder) GetQueryEmbedding(string) ([]float32, error)    { return c.vec(), nil }
func (c constEmbedder) EmbedBatch(texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c.vec()
	}
	return out, nil
}
func (c constEmbedder) Name() string    { return "const" }
func (c constEmbedder) Model() string   { return "const-model" }
func (c constEmbedder) Dimensions() int { return c.dim }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.OpenMemory(4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	embedder := constEmbedder{dim: 4}
	initEngine := initiative.New(db)
	searchEngine := search.New(db, embedder, rerank.NoneProvider{})
	memEngine := memory.New(db, embedder, initEngine, searchEngine)
	orientEngine := orient.New(db, initEngine)
	ingestEngine := ingest.New(db, embedder)

	return New(Deps{
		DB:          db,
		Memory:      memEngine,
		Search:      searchEngine,
		Initiatives: initEngine,
		Ingest:      ingestEngine,
		Orient:      orientEngine,
		ConfigStore: NewConfigStore(config.Default()),
	})
}

func TestListReturnsAllTwelveTools(t *testing.T) {
	r := newTestRegistry(t)
	tools := r.List()
	if len(tools) != 12 {
		t.Fatalf("expected 12 registered tools, got %d", len(tools))
	}
}

func TestCallOrientSessionOnUnindexedRepository(t *testing.T) {
	r := newTestRegistry(t)
	args, _ := json.Marshal(orientSessionInput{RepoPath: t.TempDir()})
	result, err := r.Call(context.Background(), "orient_session", args)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected non-empty content")
	}
}

func TestCallSaveMemoryThenSearchCortex(t *testing.T) {
	r := newTestRegistry(t)
	saveArgs, _ := json.Marshal(saveMemoryInput{
		Kind: "note", Content: "remember to rotate the embedding model", Repository: "demo",
	})
	if _, err := r.Call(context.Background(), "save_memory", saveArgs); err != nil {
		t.Fatalf("save_memory: %v", err)
	}

	searchArgs, _ := json.Marshal(searchCortexInput{Query: "rotate embedding", Repository: "demo"})
	result, err := r.Call(context.Background(), "search_cortex", searchArgs)
	if err != nil {
		t.Fatalf("search_cortex: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected a non-empty search response")
	}
}

func TestCallManageInitiativeCreateThenList(t *testing.T) {
	r := newTestRegistry(t)
	createArgs, _ := json.Marshal(manageInitiativeInput{Action: "create", Repository: "demo", Name: "migrate-db"})
	if _, err := r.Call(context.Background(), "manage_initiative", createArgs); err != nil {
		t.Fatalf("create: %v", err)
	}

	listArgs, _ := json.Marshal(manageInitiativeInput{Action: "list", Repository: "demo", Status: "all"})
	result, err := r.Call(context.Background(), "manage_initiative", listArgs)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected non-empty content")
	}
}

func TestCallUnknownToolFails(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Call(context.Background(), "not_a_real_tool", nil); err == nil {
		t.Fatal("expected an error for an unregistered tool name")
	}
}

func TestCallDeleteDocumentReportsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	args, _ := json.Marshal(deleteDocumentInput{ID: "note:missing"})
	result, err := r.Call(context.Background(), "delete_document", args)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected non-empty content")
	}
}
