package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedBatchOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: make([]float32, 768)})
	}))
	defer server.Close()

	p, err := newOllamaProvider(ProviderConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vecs, err := p.EmbedBatch([]string{"one", "two", "three"}, "document")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 768 {
			t.Errorf("vector %d: expected 768 dims, got %d", i, len(v))
		}
	}
}

func TestEmbedBatchStopsOnFirstError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: make([]float32, 768)})
	}))
	defer server.Close()

	p, err := newOllamaProvider(ProviderConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.EmbedBatch([]string{"one", "two", "three"}, "document")
	if err == nil {
		t.Fatal("expected error from second item")
	}
}
