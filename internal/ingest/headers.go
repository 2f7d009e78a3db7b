package ingest

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

	"github.com/cortexmemory/cortex/internal/chunker"
)

// HeaderProvider prepends a short contextual header to a raw chunk before
// it's embedded and indexed — one or two sentences describing what the
// chunk does, so retrieval surfaces something readable even when the chunk
// itself starts mid-function.
type HeaderProvider interface {
	Header(chunk, filePath string, lang chunker.Language) string
}

// NewHeaderProvider resolves "anthropic", "claude-cli", or "none" to a
// HeaderProvider. Any unrecognized value degrades to "none": a header
// provider that fails to initialize must never abort ingestion.
func NewHeaderProvider(kind, apiKey, model string) HeaderProvider {
	switch kind {
	case "anthropic":
		return &anthropicHeaderProvider{
			apiKey:     apiKey,
			model:      model,
			baseURL:    "https://api.anthropic.com",
			httpClient: &http.Client{Timeout: 20 * time.Second},
		}
	case "claude-cli":
		return claudeCLIHeaderProvider{}
	default:
		return noneHeaderProvider{}
	}
}

type noneHeaderProvider struct{}

func (noneHeaderProvider) Header(_, filePath string, lang chunker.Language) string {
	if lang != "" {
		return fmt.Sprintf("Code from %s (%s)", filePath, lang)
	}
	return fmt.Sprintf("Code from %s", filePath)
}

// claudeCLIHeaderProvider shells out to a locally installed `claude` CLI,
// the same local-subprocess pattern the header-provider contract uses for
// a fully offline, API-key-free summarizer.
type claudeCLIHeaderProvider struct{}

const claudeCLITimeout = 30 * time.Second

func (claudeCLIHeaderProvider) Header(chunk, filePath string, lang chunker.Language) string {
	ctx, cancel := context.WithTimeout(context.Background(), claudeCLITimeout)
	defer cancel()

	prompt := headerPrompt(chunk, filePath, lang)
	cmd := exec.CommandContext(ctx, "claude", "-p", prompt)
	out, err := cmd.Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return noneHeaderProvider{}.Header(chunk, filePath, lang)
	}
	return strings.TrimSpace(string(out))
}

// anthropicHeaderProvider calls the Anthropic Messages API directly.
// Retries on transport/5xx failures with exponential backoff (1-60s, 3
// attempts); any failure that survives the retry budget degrades to the
// trivial header rather than failing the file it was generating a header for.
type anthropicHeaderProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []anthropicMessage  `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (p *anthropicHeaderProvider) Header(chunk, filePath string, lang chunker.Language) string {
	model := p.model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	reqBody, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: 100,
		Messages:  []anthropicMessage{{Role: "user", Content: headerPrompt(chunk, filePath, lang)}},
	})
	if err != nil {
		return noneHeaderProvider{}.Header(chunk, filePath, lang)
	}

	var text string
	operation := func() error {
		baseURL := p.baseURL
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		req, err := http.NewRequest("POST", baseURL+"/v1/messages", bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", p.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err // retryable: network error
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("anthropic returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, string(body)))
		}

		var result anthropicResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(err)
		}
		if len(result.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("empty response"))
		}
		text = strings.TrimSpace(result.Content[0].Text)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	retry := backoff.WithMaxRetries(bo, 2) // 3 attempts total

	if err := backoff.Retry(operation, retry); err != nil || text == "" {
		return noneHeaderProvider{}.Header(chunk, filePath, lang)
	}
	return text
}

func headerPrompt(chunk, filePath string, lang chunker.Language) string {
	return fmt.Sprintf(
		"In one sentence, describe what this %s code from %s does. Be concise, no preamble.\n\n%s",
		lang, filePath, chunk,
	)
}
