// Package llm is the provider-agnostic chat/completion client used by
// session auto-capture to summarize a transcript. Providers are tried in
// order until one succeeds; "none" always fails, which is how the chain
// terminates in an explicit abort rather than a silent empty summary.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/ollama"
)

// Client generates text completions from a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
}

// DefaultProviderOrder is the fallback chain when config.yaml doesn't
// override it (§6: llm.fallback_chain).
var DefaultProviderOrder = []string{"anthropic", "claude-cli", "ollama", "openrouter", "none"}

// NewChain builds a Client for every provider named by cfg (primary first,
// then fallback_chain), skipping providers whose prerequisites aren't met
// (missing API key, missing CLI binary). The chain always ends with "none"
// so callers see an explicit error rather than running out of providers.
func NewChain(cfg config.LLMConfig) *Chain {
	order := providerOrder(cfg)
	chain := &Chain{}
	for _, name := range order {
		if c := buildProvider(name, cfg); c != nil {
			chain.clients = append(chain.clients, c)
		}
	}
	return chain
}

// Chain tries each configured provider in order and returns the first
// success. All providers failing (including the terminal "none") surfaces
// as a single aggregated error.
type Chain struct {
	clients []Client
}

// Generate tries every provider in the chain in order, returning the first
// non-empty result. An empty result from a provider is treated as failure,
// not success (§4.N: "Empty output → abort with explicit failure").
func (c *Chain) Generate(ctx context.Context, prompt string) (string, string, error) {
	var errs []string
	for _, client := range c.clients {
		out, err := client.Generate(ctx, prompt)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", client.Provider(), err))
			continue
		}
		out = strings.TrimSpace(out)
		if out == "" {
			errs = append(errs, fmt.Sprintf("%s: empty output", client.Provider()))
			continue
		}
		return out, client.Provider(), nil
	}
	return "", "", fmt.Errorf("no chat provider produced output: %s", strings.Join(errs, "; "))
}

func providerOrder(cfg config.LLMConfig) []string {
	var order []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		for _, existing := range order {
			if existing == name {
				return
			}
		}
		order = append(order, name)
	}
	add(cfg.PrimaryProvider)
	for _, p := range cfg.FallbackChain {
		add(p)
	}
	for _, p := range DefaultProviderOrder {
		add(p)
	}
	return order
}

func buildProvider(name string, cfg config.LLMConfig) Client {
	pc := cfg.Providers[name]
	switch name {
	case "anthropic":
		key := config.ProviderAPIKey("anthropic")
		if key == "" {
			return nil
		}
		model := pc.Model
		if model == "" {
			model = "claude-3-5-haiku-20241022"
		}
		return &anthropicClient{apiKey: key, model: model, httpClient: &http.Client{Timeout: 120 * time.Second}}
	case "claude-cli":
		path, err := exec.LookPath("claude")
		if err != nil {
			return nil
		}
		return &claudeCLIClient{binary: path}
	case "ollama":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL, _ = config.OllamaURL()
		}
		client := ollama.NewClientWithURL(baseURL)
		model := pc.Model
		return &ollamaChatClient{client: client, model: model}
	case "openrouter":
		key := config.ProviderAPIKey("openrouter")
		if key == "" {
			return nil
		}
		model := pc.Model
		if model == "" {
			model = "anthropic/claude-3.5-haiku"
		}
		return &openRouterClient{apiKey: key, model: model, httpClient: &http.Client{Timeout: 120 * time.Second}}
	case "none":
		return noneClient{}
	default:
		return nil
	}
}

// withRetry wraps an HTTP call with the header-provider retry discipline
// used elsewhere in ingest: up to 3 attempts, 1-60s exponential backoff.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	return backoff.Retry(fn, backoff.WithMaxRetries(backoff.WithContext(b, ctx), 2))
}

type anthropicClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func (c *anthropicClient) Provider() string { return "anthropic" }

func (c *anthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":      c.model,
		"max_tokens": 1024,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result string
	err = withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("anthropic returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, data))
		}

		var decoded struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		var sb strings.Builder
		for _, block := range decoded.Content {
			sb.WriteString(block.Text)
		}
		result = sb.String()
		return nil
	})
	return result, err
}

// claudeCLIClient shells out to a locally installed `claude` CLI, for users
// who authenticate the CLI instead of holding a standalone API key.
type claudeCLIClient struct {
	binary string
}

func (c *claudeCLIClient) Provider() string { return "claude-cli" }

func (c *claudeCLIClient) Generate(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "-p", prompt)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("claude-cli: %w: %s", err, stderr.String())
	}
	return out.String(), nil
}

type ollamaChatClient struct {
	client *ollama.Client
	model  string
}

func (c *ollamaChatClient) Provider() string { return "ollama" }

func (c *ollamaChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	model := c.model
	if model == "" {
		picked, err := c.client.PickBestModel(ctx)
		if err != nil {
			return "", fmt.Errorf("pick ollama model: %w", err)
		}
		if picked == "" {
			return "", fmt.Errorf("no ollama chat model available")
		}
		model = picked
	}
	return c.client.Generate(ctx, model, prompt)
}

type openRouterClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func (c *openRouterClient) Provider() string { return "openrouter" }

func (c *openRouterClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":    c.model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result string
	err = withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://openrouter.ai/api/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("openrouter returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, data))
		}

		var decoded struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if len(decoded.Choices) > 0 {
			result = decoded.Choices[0].Message.Content
		}
		return nil
	})
	return result, err
}

// noneClient is the terminal entry of every chain: it always fails, so a
// caller with no configured provider gets an explicit error instead of a
// nil Client.
type noneClient struct{}

func (noneClient) Provider() string { return "none" }

func (noneClient) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("no chat provider configured")
}
