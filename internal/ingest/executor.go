package ingest

import (
	"context"
	"fmt"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/queue"
)

// Executor adapts Engine to run inside the async task queue: the ingestion
// worker pulls queued repository names and runs a delta sync for each. A
// queue.Task only carries a repository name, so Executor resolves it back
// to a filesystem path via resolvePath (normally a lookup over the
// configured code_paths).
type Executor struct {
	engine      *Engine
	resolvePath func(repository string) (string, bool)
}

// NewExecutor builds a queue.Executor backed by engine. resolvePath maps a
// repository name to the checkout path Ingest should walk.
func NewExecutor(engine *Engine, resolvePath func(repository string) (string, bool)) *Executor {
	return &Executor{engine: engine, resolvePath: resolvePath}
}

// Run implements queue.Executor.
func (x *Executor) Run(ctx context.Context, task queue.Task, progress queue.Progress) (string, error) {
	repoPath, ok := x.resolvePath(task.Repository)
	if !ok {
		return "", fmt.Errorf("ingest: no known path for repository %q", task.Repository)
	}

	stats, err := x.engine.Ingest(repoPath, config.StateFilePath(task.Repository), Options{
		Repository: task.Repository,
		ForceFull:  task.ForceFull,
	})
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(stats.FilesProcessed, stats.FilesScanned)
	}
	return fmt.Sprintf("scanned %d, processed %d, deleted %d (%s)",
		stats.FilesScanned, stats.FilesProcessed, stats.FilesDeleted, stats.DeltaMode), nil
}
