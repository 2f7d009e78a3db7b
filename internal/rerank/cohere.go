package rerank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

const (
	cohereMaxRetries = 3
	cohereRetryBase  = 2 * time.Second
)

// cohereProvider talks to any server exposing the Cohere rerank wire format
// (Cohere's own API, or a self-hosted cross-encoder server like Infinity /
// text-embeddings-inference that mirrors it) — the same
// bring-your-own-endpoint shape the embedding package uses for
// openai-compatible servers.
type cohereProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func newCohereProvider(cfg ProviderConfig) *cohereProvider {
	model := cfg.Model
	if model == "" {
		model = "rerank-english-v3.0"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cohere.com"
	}
	return &cohereProvider{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
	}
}

func (p *cohereProvider) Name() string { return "cohere-compatible" }

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank degrades to passthrough on any transport or decode failure: a
// reachability problem with the rerank backend must never fail the whole
// search request.
func (p *cohereProvider) Rerank(query string, docs []Doc, topK int) ([]Doc, error) {
	if query == "" || len(docs) == 0 {
		return NoneProvider{}.Rerank(query, docs, topK)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	reqBody, err := json.Marshal(cohereRerankRequest{Model: p.model, Query: query, Documents: texts, TopN: len(docs)})
	if err != nil {
		return NoneProvider{}.Rerank(query, docs, topK)
	}

	var lastErr error
	for attempt := 0; attempt < cohereMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * cohereRetryBase)
		}
		result, err := p.doRerankRequest(reqBody)
		if err == nil {
			scored := make([]Doc, len(docs))
			copy(scored, docs)
			for _, r := range result.Results {
				if r.Index >= 0 && r.Index < len(scored) {
					scored[r.Index].RerankScore = r.RelevanceScore
				}
			}
			sort.Slice(scored, func(i, j int) bool { return scored[i].RerankScore > scored[j].RerankScore })
			return truncate(scored, topK), nil
		}
		lastErr = err
	}
	fmt.Fprintf(os.Stderr, "cortex: rerank request failed, falling back to fused order: %v\n", lastErr)
	return NoneProvider{}.Rerank(query, docs, topK)
}

func (p *cohereProvider) doRerankRequest(body []byte) (*cohereRerankResponse, error) {
	req, err := http.NewRequest("POST", p.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank server returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
