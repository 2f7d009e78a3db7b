// Package main is the entrypoint for the Cortex daemon and CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexmemory/cortex/internal/capture"
	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/embedding"
	"github.com/cortexmemory/cortex/internal/httpapi"
	"github.com/cortexmemory/cortex/internal/ingest"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/mcpserver"
	"github.com/cortexmemory/cortex/internal/memory"
	"github.com/cortexmemory/cortex/internal/orient"
	"github.com/cortexmemory/cortex/internal/queue"
	"github.com/cortexmemory/cortex/internal/rerank"
	"github.com/cortexmemory/cortex/internal/search"
	"github.com/cortexmemory/cortex/internal/store"
	"github.com/cortexmemory/cortex/internal/watch"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "cortexd",
		Short: "Local privacy-first semantic memory for coding assistants",
		Long: `cortexd indexes your codebase and session history into local memory and
serves it to coding assistants over MCP and a local HTTP API.

Quick Start:
  cortexd ingest .    Index the current repository
  cortexd serve       Run the daemon (MCP + HTTP)
  cortexd doctor       Check that storage, embeddings, and the LLM chain are reachable`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(orientCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cortexd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("cortexd %s\n", Version)
			return nil
		},
	}
}

// bootstrap opens every long-lived engine a command needs. repoPaths seeds
// the in-memory repository->path lookup the ingestion executor and watchers
// use to resolve a bare repository name back to a checkout.
type bootstrap struct {
	cfg          *config.Config
	db           *store.DB
	embedder     embedding.Provider
	reranker     rerank.Provider
	initiatives  *initiative.Engine
	search       *search.Engine
	memory       *memory.Engine
	orient       *orient.Engine
	ingest       *ingest.Engine
	captureEng   *capture.Engine
	captureExec  *capture.Executor
	ingestQueue  *queue.Queue
	captureQueue *queue.Queue
	configStore  *mcpserver.ConfigStore
	repoPaths    map[string]string
}

func newEmbeddingConfig() embedding.ProviderConfig {
	provider := envOr("CORTEX_EMBEDDING_PROVIDER", "ollama")
	model := envOr("CORTEX_EMBEDDING_MODEL", "")
	dims, _ := strconv.Atoi(envOr("CORTEX_EMBEDDING_DIM", "0"))

	cfg := embedding.ProviderConfig{Provider: provider, Model: model, Dimensions: dims}
	switch provider {
	case "ollama":
		if url, err := config.OllamaURL(); err == nil {
			cfg.BaseURL = url
		}
	case "openai", "openai-compatible":
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.BaseURL = os.Getenv("CORTEX_EMBEDDING_BASE_URL")
	}
	return cfg
}

func newRerankConfig() rerank.ProviderConfig {
	return rerank.ProviderConfig{
		Provider: envOr("CORTEX_RERANK_PROVIDER", "none"),
		BaseURL:  os.Getenv("CORTEX_RERANK_BASE_URL"),
		APIKey:   os.Getenv("CORTEX_RERANK_API_KEY"),
		Model:    os.Getenv("CORTEX_RERANK_MODEL"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func bootstrapAll() (*bootstrap, error) {
	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cortexlog.Init(config.LogFilePath(), cfg.Debug); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	embedCfg := newEmbeddingConfig()
	embedder, err := embedding.NewProvider(embedCfg)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	db, err := store.Open(embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.CheckEmbeddingMeta(embedder.Name(), embedder.Model(), embedder.Dimensions()); err != nil {
		return nil, err
	}
	if err := db.SetEmbeddingMeta(embedder.Name(), embedder.Model(), embedder.Dimensions()); err != nil {
		return nil, err
	}

	reranker := rerank.NewProvider(newRerankConfig())

	initiatives := initiative.New(db)
	searchEngine := search.New(db, embedder, reranker)
	memEngine := memory.New(db, embedder, initiatives, searchEngine)
	orientEngine := orient.New(db, initiatives)
	ingestEngine := ingest.New(db, embedder)

	captureEng := capture.New(memEngine, cfg.Autocapture, cfg.LLM)
	captureExec := capture.NewExecutor(captureEng)

	repoPaths := map[string]string{}
	for _, p := range cfg.CodePaths {
		repoPaths[filepath.Base(p)] = p
	}

	ingestQueue, err := queue.New("ingestion", config.TaskQueuePath("ingestion"),
		ingest.NewExecutor(ingestEngine, func(repo string) (string, bool) {
			p, ok := repoPaths[repo]
			if !ok {
				if info, statErr := os.Stat(repo); statErr == nil && info.IsDir() {
					return repo, true
				}
			}
			return p, ok
		}))
	if err != nil {
		return nil, fmt.Errorf("ingestion queue: %w", err)
	}

	captureQueue, err := queue.New("capture", config.TaskQueuePath("capture"), captureExec)
	if err != nil {
		return nil, fmt.Errorf("capture queue: %w", err)
	}

	return &bootstrap{
		cfg: cfg, db: db, embedder: embedder, reranker: reranker,
		initiatives: initiatives, search: searchEngine, memory: memEngine,
		orient: orientEngine, ingest: ingestEngine,
		captureEng: captureEng, captureExec: captureExec,
		ingestQueue: ingestQueue, captureQueue: captureQueue,
		configStore: mcpserver.NewConfigStore(cfg),
		repoPaths:   repoPaths,
	}, nil
}

func (b *bootstrap) close() {
	b.db.Close()
}

func serveCmd() *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Cortex daemon (HTTP API, and optionally MCP over stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bootstrapAll()
			if err != nil {
				return err
			}
			defer b.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			b.ingestQueue.Start(ctx)
			defer b.ingestQueue.Stop()
			b.captureQueue.Start(ctx)
			defer b.captureQueue.Stop()

			registry := mcpserver.New(mcpserver.Deps{
				DB: b.db, Memory: b.memory, Search: b.search, Initiatives: b.initiatives,
				Ingest: b.ingest, Orient: b.orient, ConfigStore: b.configStore,
			})

			var watchers []*watch.Watcher
			for name, path := range b.repoPaths {
				w, err := watch.New(path, name, b.ingestQueue)
				if err != nil {
					fmt.Fprintf(os.Stderr, "watch %s: %v\n", path, err)
					continue
				}
				watchers = append(watchers, w)
			}
			defer func() {
				for _, w := range watchers {
					w.Close()
				}
			}()

			if stdio {
				return registry.Serve(ctx)
			}

			server := httpapi.New(b.db, registry, b.ingestQueue, b.captureQueue,
				b.captureEng, b.captureExec, b.initiatives, b.configStore)

			addr := fmt.Sprintf("127.0.0.1:%d", b.cfg.HTTPPort)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Serve(addr) }()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve the MCP protocol over stdio instead of HTTP")
	return cmd
}

func ingestCmd() *cobra.Command {
	var repository string
	var forceFull bool
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Index a repository's code into memory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			repo := repository
			if repo == "" {
				repo = filepath.Base(abs)
			}

			b, err := bootstrapAll()
			if err != nil {
				return err
			}
			defer b.close()

			stats, err := b.ingest.Ingest(abs, config.StateFilePath(repo), ingest.Options{
				Repository: repo, ForceFull: forceFull,
			})
			if err != nil {
				return err
			}
			b.search.MarkDirty()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().StringVar(&repository, "repository", "", "Repository name to store under (default: directory name)")
	cmd.Flags().BoolVar(&forceFull, "force-full", false, "Re-embed every file regardless of what changed")
	return cmd
}

func orientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orient [path]",
		Short: "Print the orientation snapshot for a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}

			b, err := bootstrapAll()
			if err != nil {
				return err
			}
			defer b.close()

			res := b.orient.Orient(abs)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	return cmd
}

type doctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func doctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that storage, embeddings, and the LLM chain are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			var checks []doctorCheck

			dataDir := config.DataDir()
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				checks = append(checks, doctorCheck{"data_dir", "fail", err.Error()})
			} else {
				checks = append(checks, doctorCheck{"data_dir", "pass", dataDir})
			}

			embedCfg := newEmbeddingConfig()
			embedder, err := embedding.NewProvider(embedCfg)
			if err != nil {
				checks = append(checks, doctorCheck{"embedding_provider", "fail", err.Error()})
			} else {
				checks = append(checks, doctorCheck{"embedding_provider", "pass", embedder.Name() + "/" + embedder.Model()})

				db, err := store.Open(embedder.Dimensions())
				if err != nil {
					checks = append(checks, doctorCheck{"store", "fail", err.Error()})
				} else {
					if err := db.IntegrityCheck(); err != nil {
						checks = append(checks, doctorCheck{"store", "fail", err.Error()})
					} else {
						checks = append(checks, doctorCheck{"store", "pass", config.DBPath()})
					}
					db.Close()
				}
			}

			cfg, err := config.Load(dataDir)
			if err != nil {
				checks = append(checks, doctorCheck{"config", "fail", err.Error()})
			} else {
				checks = append(checks, doctorCheck{"llm_chain", "pass", cfg.LLM.PrimaryProvider + " -> " + fmt.Sprint(cfg.LLM.FallbackChain)})
			}

			failed := false
			for _, c := range checks {
				if c.Status == "fail" {
					failed = true
				}
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(checks); err != nil {
					return err
				}
			} else {
				for _, c := range checks {
					fmt.Printf("[%s] %s: %s\n", c.Status, c.Name, c.Message)
				}
			}
			if failed {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
