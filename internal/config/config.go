// Package config loads Cortex daemon configuration.
//
// Priority: CLI flags > environment variables > config.yaml > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embedding dimensions are resolved by the embedding package per-provider;
// these constants are the defaults this package falls back to when config.yaml
// doesn't specify dimensions explicitly.
const (
	DefaultEmbeddingDim = 768
	DefaultDBName       = "db"
)

// Config holds the daemon's runtime settings: storage paths, ports, the
// LLM provider chain, autocapture gating, and search-pipeline tuning.
type Config struct {
	CodePaths    []string       `yaml:"code_paths"`
	DaemonPort   int            `yaml:"daemon_port"`
	HTTPPort     int            `yaml:"http_port"`
	Debug        bool           `yaml:"debug"`
	LLM          LLMConfig      `yaml:"llm"`
	Autocapture  AutocaptureCfg `yaml:"autocapture"`
	Runtime      RuntimeCfg     `yaml:"runtime"`
}

// LLMConfig selects the header/summarization provider chain.
type LLMConfig struct {
	PrimaryProvider string                    `yaml:"primary_provider"` // anthropic, claude-cli, ollama, openrouter, none
	FallbackChain   []string                  `yaml:"fallback_chain"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the per-provider model/base_url pair.
type ProviderConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AutocaptureCfg controls session auto-capture.
type AutocaptureCfg struct {
	Enabled         bool              `yaml:"enabled"`
	AutoCommitAsync bool              `yaml:"auto_commit_async"`
	SyncTimeout     int               `yaml:"sync_timeout"` // seconds
	Significance    SignificanceCfg   `yaml:"significance"`
}

// SignificanceCfg gates whether a session is worth capturing.
type SignificanceCfg struct {
	MinTokens     int `yaml:"min_tokens"`
	MinFileEdits  int `yaml:"min_file_edits"`
	MinToolCalls  int `yaml:"min_tool_calls"`
}

// RuntimeCfg controls search-pipeline tuning.
type RuntimeCfg struct {
	MinScore                        float64            `yaml:"min_score"`
	Verbose                         bool               `yaml:"verbose"`
	RecencyBoost                    bool               `yaml:"recency_boost"`
	RecencyHalfLifeDays             float64            `yaml:"recency_half_life_days"`
	TopKRetrieve                    int                `yaml:"top_k_retrieve"`
	TopKRerank                      int                `yaml:"top_k_rerank"`
	TypeBoost                       bool               `yaml:"type_boost"`
	TypeMultipliers                 map[string]float64 `yaml:"type_multipliers"`
	StalenessCheckEnabled           bool               `yaml:"staleness_check_enabled"`
	StalenessCheckLimit             int                `yaml:"staleness_check_limit"`
	StalenessTimeThresholdDays      int                `yaml:"staleness_time_threshold_days"`
	StalenessVeryStaleThresholdDays int                `yaml:"staleness_very_stale_threshold_days"`
}

// Default returns a Config with all built-in defaults.
func Default() *Config {
	return &Config{
		DaemonPort: 8991,
		HTTPPort:   8991,
		LLM: LLMConfig{
			PrimaryProvider: "none",
			FallbackChain:   []string{"anthropic", "claude-cli", "ollama", "openrouter", "none"},
			Providers:       map[string]ProviderConfig{},
		},
		Autocapture: AutocaptureCfg{
			Enabled:         true,
			AutoCommitAsync: true,
			SyncTimeout:     60,
			Significance: SignificanceCfg{
				MinTokens:    5000,
				MinFileEdits: 1,
				MinToolCalls: 3,
			},
		},
		Runtime: RuntimeCfg{
			MinScore:             0.0,
			RecencyBoost:         true,
			RecencyHalfLifeDays:  30,
			TopKRetrieve:         50,
			TopKRerank:           20,
			TypeBoost:            true,
			TypeMultipliers:      DefaultTypeMultipliers(),
			StalenessCheckEnabled:           true,
			StalenessCheckLimit:             10,
			StalenessTimeThresholdDays:      30,
			StalenessVeryStaleThresholdDays: 90,
		},
	}
}

// DefaultTypeMultipliers are the phase-6 defaults.
func DefaultTypeMultipliers() map[string]float64 {
	return map[string]float64{
		"insight":          2.0,
		"note":             1.5,
		"session_summary":  1.5,
		"entry_point":      1.4,
		"file_metadata":    1.3,
		"data_contract":    1.3,
		"tech_stack":       1.2,
	}
}

// Load merges defaults < config.yaml < environment variables.
func Load(dataDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dataDir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CORTEX_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
			cfg.DaemonPort = n
		}
	}
	if v := os.Getenv("CORTEX_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORTEX_LLM_PROVIDER"); v != "" {
		cfg.LLM.PrimaryProvider = v
	}
	if v := os.Getenv("CORTEX_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Runtime.MinScore = f
		}
	}
	if v := os.Getenv("CORTEX_VERBOSE"); v != "" {
		cfg.Runtime.Verbose = strings.EqualFold(v, "true") || v == "1"
	}
}

// DataDir resolves the Cortex data directory: CORTEX_DATA_PATH, else
// /app/cortex_data when that path exists and is writable, else ~/.cortex.
func DataDir() string {
	if v := os.Getenv("CORTEX_DATA_PATH"); v != "" {
		return v
	}
	const containerPath = "/app/cortex_data"
	if info, err := os.Stat(containerPath); err == nil && info.IsDir() && writable(containerPath) {
		return containerPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cortex")
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".cortex_write_test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// DBPath returns the Store's SQLite file path.
func DBPath() string {
	if v := os.Getenv("CORTEX_DB_PATH"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "db", "cortex.db")
}

// StateFilePath returns the delta-state file path for a repository slot.
// Cortex keeps one ingest_state.json per data directory for each repository; when multiple
// repositories are indexed from one daemon their state lives under per-repo
// subdirectories so delta tracking doesn't collide.
func StateFilePath(repository string) string {
	if v := os.Getenv("CORTEX_STATE_FILE"); v != "" {
		return v
	}
	if repository == "" {
		return filepath.Join(DataDir(), "ingest_state.json")
	}
	return filepath.Join(DataDir(), "repos", repository, "ingest_state.json")
}

// TaskQueuePath returns the persistence path for a named task queue
// ("ingestion" -> ingest_tasks.json, "capture" -> capture_queue.json).
func TaskQueuePath(queue string) string {
	name := map[string]string{
		"ingestion": "ingest_tasks.json",
		"capture":   "capture_queue.json",
	}[queue]
	if name == "" {
		name = queue + "_queue.json"
	}
	return filepath.Join(DataDir(), name)
}

// CortexignorePath returns the global ignore-pattern file path, creating it
// from the built-in template on first run.
func CortexignorePath() (string, error) {
	path := filepath.Join(DataDir(), "cortexignore")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(cortexignoreTemplate), 0o644); err != nil {
			return "", fmt.Errorf("write cortexignore template: %w", err)
		}
	}
	return path, nil
}

// LogFilePath returns the append-only daemon log path.
func LogFilePath() string {
	if v := os.Getenv("CORTEX_LOG_FILE"); v != "" {
		return v
	}
	return filepath.Join(DataDir(), "daemon.log")
}

const cortexignoreTemplate = `# Global Cortex ignore patterns (~/.cortex/cortexignore)
# One glob pattern per line; merged with built-in defaults and any
# <repo>/.cortexignore found at ingest time.
node_modules/
vendor/
dist/
build/
.venv/
__pycache__/
*.min.js
`

// GOOS/GOARCH are exposed for /info diagnostics.
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// OllamaURL returns the base URL for a local Ollama instance: OLLAMA_HOST
// if set, otherwise the standard local default.
func OllamaURL() (string, error) {
	if v := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); v != "" {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			v = "http://" + v
		}
		return v, nil
	}
	return "http://localhost:11434", nil
}

// ProviderAPIKey reads the standard environment variable for an LLM
// provider's API key (§6: "API keys read from standard env vars").
func ProviderAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	default:
		return ""
	}
}
