package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/ollama"
)

func TestProviderOrderDefaultsToFullChain(t *testing.T) {
	order := providerOrder(config.LLMConfig{})
	want := []string{"anthropic", "claude-cli", "ollama", "openrouter", "none"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestProviderOrderPrimaryFirst(t *testing.T) {
	order := providerOrder(config.LLMConfig{PrimaryProvider: "ollama"})
	if order[0] != "ollama" {
		t.Fatalf("expected ollama first, got %v", order)
	}
}

func TestBuildProviderSkipsAnthropicWithoutAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if c := buildProvider("anthropic", config.LLMConfig{}); c != nil {
		t.Fatal("expected nil client without an API key")
	}
}

func TestNoneClientAlwaysFails(t *testing.T) {
	_, err := (noneClient{}).Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected an error from the none provider")
	}
}

func TestChainFallsThroughOnEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"response": "   "})
	}))
	defer srv.Close()

	chain := &Chain{clients: []Client{
		&ollamaChatClient{client: ollama.NewClientWithURL(srv.URL), model: "test-model"},
		stubClient{provider: "stub", text: "real answer"},
	}}

	out, provider, err := chain.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if provider != "stub" || out != "real answer" {
		t.Fatalf("expected fallback to stub provider, got %q from %q", out, provider)
	}
}

func TestChainAggregatesErrorsWhenAllFail(t *testing.T) {
	chain := &Chain{clients: []Client{noneClient{}}}
	_, _, err := chain.Generate(context.Background(), "x")
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
}

type stubClient struct {
	provider string
	text     string
}

func (s stubClient) Provider() string { return s.provider }
func (s stubClient) Generate(context.Context, string) (string, error) {
	return s.text, nil
}
