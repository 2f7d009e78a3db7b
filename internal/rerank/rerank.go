// Package rerank is the cross-encoder relevance stage of the hybrid search
// pipeline: given a query and a candidate set already ordered by fused
// retrieval, it reorders the top of that list by a query-aware score the
// fused retrieval scores can't express.
package rerank

// Doc is a single candidate passed to, and returned from, a reranker.
// Score carries the fused retrieval score in; RerankScore carries the
// cross-encoder score out. Input metadata is preserved unchanged.
type Doc struct {
	ID          string
	Text        string
	Meta        map[string]any
	Score       float64
	RerankScore float64
}

// Provider reorders docs by relevance to query and returns the top topK,
// descending by RerankScore. Empty input returns empty. A provider that
// cannot reach its backend degrades to passthrough rather than erroring
// the whole search request.
type Provider interface {
	Rerank(query string, docs []Doc, topK int) ([]Doc, error)
	Name() string
}

// ProviderConfig selects and configures a reranker.
type ProviderConfig struct {
	Provider string // "none" (default), "cohere-compatible"
	BaseURL  string
	APIKey   string
	Model    string
}

// NewProvider constructs a reranker from config. Unknown providers degrade
// to "none" rather than erroring, since reranking is a quality refinement,
// not a correctness requirement — the fused ranking remains valid without it.
func NewProvider(cfg ProviderConfig) Provider {
	switch cfg.Provider {
	case "cohere-compatible":
		return newCohereProvider(cfg)
	default:
		return NoneProvider{}
	}
}

// NoneProvider is the trivial reranker: it preserves fused order, copying
// Score into RerankScore so callers can sort on a single field either way.
type NoneProvider struct{}

func (NoneProvider) Name() string { return "none" }

func (NoneProvider) Rerank(_ string, docs []Doc, topK int) ([]Doc, error) {
	out := make([]Doc, len(docs))
	for i, d := range docs {
		d.RerankScore = d.Score
		out[i] = d
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func truncate(docs []Doc, topK int) []Doc {
	if topK > 0 && len(docs) > topK {
		return docs[:topK]
	}
	return docs
}
