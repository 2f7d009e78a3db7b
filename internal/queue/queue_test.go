package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	progress func(progress Progress)
}

func (f *fakeExecutor) Run(ctx context.Context, task Task, progress Progress) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.progress != nil {
		f.progress(progress)
	}
	if f.fail {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestEnqueueAndCompleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	exec := &fakeExecutor{}
	q, err := New("test", path, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	id, err := q.Enqueue("ingestion", "repoX", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		task, ok := q.Status(id)
		return ok && task.Status == StatusComplete
	})

	task, _ := q.Status(id)
	if task.Result != "ok" {
		t.Fatalf("expected result 'ok', got %q", task.Result)
	}
}

func TestFailedTaskRecordsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	exec := &fakeExecutor{fail: true}
	q, err := New("test", path, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	id, err := q.Enqueue("capture", "repoX", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		task, ok := q.Status(id)
		return ok && task.Status == StatusFailed
	})
	task, _ := q.Status(id)
	if task.Error != "boom" {
		t.Fatalf("expected error 'boom', got %q", task.Error)
	}
}

func TestRunningTaskRecoveredToQueuedOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := save(path, []Task{{TaskID: "ingestion:stuck", Kind: "ingestion", Status: StatusRunning, CreatedAt: nowRFC3339(), StartedAt: nowRFC3339()}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	q, err := New("test", path, &fakeExecutor{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	task, ok := q.Status("ingestion:stuck")
	if !ok {
		t.Fatal("expected the recovered task to still be present")
	}
	if task.Status != StatusQueued {
		t.Fatalf("expected a running task to be recovered to queued, got %q", task.Status)
	}
	if task.StartedAt != "" {
		t.Fatal("expected started_at cleared on recovery")
	}
}

func TestListFiltersByRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	q, err := New("test", path, &fakeExecutor{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := q.Enqueue("ingestion", "repoX", false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue("ingestion", "repoY", false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	filtered := q.List("repoX")
	if len(filtered) != 1 || filtered[0].Repository != "repoX" {
		t.Fatalf("expected only repoX's task, got %+v", filtered)
	}
	all := q.List("")
	if len(all) != 2 {
		t.Fatalf("expected both tasks with no filter, got %d", len(all))
	}
}

func TestGCExpiredDropsOldTerminalTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	old := time.Now().UTC().Add(-25 * time.Hour).Format(time.RFC3339)
	if err := save(path, []Task{
		{TaskID: "ingestion:old", Status: StatusComplete, CreatedAt: old, CompletedAt: old},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	q, err := New("test", path, &fakeExecutor{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.gcExpired()
	if _, ok := q.Status("ingestion:old"); ok {
		t.Fatal("expected the stale terminal task to be garbage collected")
	}
}

func TestProgressCheckpointsDuringRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	exec := &fakeExecutor{progress: func(p Progress) { p(5, 20) }}
	q, err := New("test", path, exec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	id, err := q.Enqueue("ingestion", "repoX", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		task, ok := q.Status(id)
		return ok && task.Status == StatusComplete
	})
	task, _ := q.Status(id)
	if task.FilesTotal != 20 {
		t.Fatalf("expected files_total recorded from the last progress call, got %d", task.FilesTotal)
	}
}
