package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexmemory/cortex/internal/queue"
)

type fakeExecutor struct{}

func (fakeExecutor) Run(ctx context.Context, task queue.Task, progress queue.Progress) (string, error) {
	return "ok", nil
}

func TestWatchEnqueuesIngestionAfterDebounce(t *testing.T) {
	root := t.TempDir()
	qPath := filepath.Join(t.TempDir(), "ingest_tasks.json")
	q, err := queue.New("ingestion", qPath, fakeExecutor{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	w, err := New(root, "repoX", q)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.List("repoX")) > 0 {
			return
		}
		time.Sleep(debounceDelay / 4)
	}
	t.Fatal("expected an ingestion task to be enqueued after the debounce window")
}

func TestWalkDirsSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	dirs := walkDirs(root)
	for _, d := range dirs {
		if filepath.Base(d) == "pkg" {
			t.Fatalf("expected node_modules/pkg to be pruned, got %v", dirs)
		}
	}
}
