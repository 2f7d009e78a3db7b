// Package watch is the optional live re-ingest trigger named in §4.F: it
// watches a repository's code_paths for filesystem changes and debounces
// them into a single ingestion task on the async queue, rather than
// reindexing inline. Nothing in the daemon depends on it running — ingest
// and orient both work fine driven purely by explicit ingest_codebase
// calls — but wiring it gets near-real-time reindexing without polling.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/queue"
)

var log = cortexlog.Named("watch")

// debounceDelay bounds how long a burst of filesystem events is collapsed
// into a single trigger.
const debounceDelay = 2 * time.Second

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".venv": true, "venv": true,
	"__pycache__": true, "dist": true, "build": true, "target": true,
	".idea": true, ".vscode": true, ".cache": true,
}

// Watcher debounces filesystem change events for one repository into
// ingestion-queue triggers.
type Watcher struct {
	repository string
	queue      *queue.Queue
	fsw        *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching root (and its subdirectories, skipDirs pruned) for
// changes. Callers should call Close when done. q is the ingestion queue
// whose Enqueue this watcher calls once a burst of changes settles.
func New(root, repository string, q *queue.Queue) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	w := &Watcher{repository: repository, queue: q, fsw: fsw}

	dirs := walkDirs(root)
	added := 0
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			log.Warn("could not watch %s: %v", d, err)
			continue
		}
		added++
	}
	log.Info("watching %d director(ies) under %s for repository %s", added, root, repository)

	go w.loop()
	return w, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch error for %s: %v", w.repository, err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			name := filepath.Base(event.Name)
			if !skipDirs[name] {
				_ = w.fsw.Add(event.Name)
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.flush)
}

func (w *Watcher) flush() {
	log.Info("filesystem change settled for %s, triggering ingestion", w.repository)
	if _, err := w.queue.Enqueue("ingestion", w.repository, false); err != nil {
		log.Error("enqueue ingestion for %s: %v", w.repository, err)
	}
}

func walkDirs(root string) []string {
	var dirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != root && skipDirs[name] {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}
