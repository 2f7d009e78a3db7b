// Package capture turns a finished coding-assistant session into a stored
// session_summary without any explicit "save my work" step from the user.
// A hook outside this process supplies the raw transcript; capture decides
// whether the session was significant enough to summarize, calls an LLM
// provider chain to produce the summary, and commits it through
// internal/memory.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/llm"
	"github.com/cortexmemory/cortex/internal/memory"
	"github.com/cortexmemory/cortex/internal/queue"
)

var log = cortexlog.Named("capture")

// maxTranscriptChars is the hard truncation limit before summarization
// (§4.N step 2).
const maxTranscriptChars = 100_000

// summaryPromptTemplate frames the transcript for the configured LLM.
const summaryPromptTemplate = `Summarize the following coding session in 3-6 sentences. Focus on what changed, why, and anything a future session would need to know. Do not include preamble.

Transcript:
%s`

// Session is one out-of-process hook's report of a finished (or
// significant-so-far) session.
type Session struct {
	SessionID    string
	Transcript   string
	FilesEdited  []string
	ToolCalls    int
	TokenCount   int
	Repository   string
	Initiative   string
}

// Result is what a capture attempt produced.
type Result struct {
	Skipped    bool
	Reason     string
	SummaryID  string
	Provider   string
	Completion bool
}

// Engine runs the significance gate, summarization, and commit pipeline,
// and can enqueue itself for async execution.
type Engine struct {
	memory *memory.Engine
	chain  func(config.LLMConfig) *llm.Chain
	cfg    config.AutocaptureCfg
	llmCfg config.LLMConfig
}

// New constructs an Engine. cfg is the autocapture section of config.yaml;
// llmCfg is the llm section used to build the summarization provider chain.
func New(mem *memory.Engine, cfg config.AutocaptureCfg, llmCfg config.LLMConfig) *Engine {
	return &Engine{memory: mem, chain: llm.NewChain, cfg: cfg, llmCfg: llmCfg}
}

// Significant reports whether a session clears the significance gate
// (§4.N step 1): ANY of token count, files edited, or tool calls meeting
// its configured minimum.
func Significant(s Session, cfg config.SignificanceCfg) bool {
	if cfg.MinTokens > 0 && s.TokenCount >= cfg.MinTokens {
		return true
	}
	if cfg.MinFileEdits > 0 && len(s.FilesEdited) >= cfg.MinFileEdits {
		return true
	}
	if cfg.MinToolCalls > 0 && s.ToolCalls >= cfg.MinToolCalls {
		return true
	}
	return false
}

// Run executes steps 1-3 of §4.N synchronously: gate, summarize, commit.
func (e *Engine) Run(ctx context.Context, s Session) (Result, error) {
	if !Significant(s, e.cfg.Significance) {
		return Result{Skipped: true, Reason: "session did not clear the significance gate"}, nil
	}

	transcript := s.Transcript
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	chain := e.chain(e.llmCfg)
	summary, provider, err := chain.Generate(ctx, fmt.Sprintf(summaryPromptTemplate, transcript))
	if err != nil {
		return Result{}, fmt.Errorf("capture: summarize: %w", err)
	}

	res, err := e.memory.ConcludeSession(memory.SessionSummaryRequest{
		Summary:      summary,
		ChangedFiles: s.FilesEdited,
		Repository:   s.Repository,
		Initiative:   s.Initiative,
	})
	if err != nil {
		return Result{}, fmt.Errorf("capture: conclude session: %w", err)
	}

	log.Info("captured session %s via %s (%d file(s))", s.SessionID, provider, len(s.FilesEdited))
	return Result{
		SummaryID:  res.ID,
		Provider:   provider,
		Completion: res.CompletionSignalDetected,
	}, nil
}

// Executor adapts Engine to run inside the async task queue (§4.M): the
// capture worker pulls queued sessions and calls Run for each.
type Executor struct {
	engine   *Engine
	sessions map[string]Session
}

// NewExecutor builds a queue.Executor backed by engine. Sessions are
// registered with Enqueue before the corresponding task id is queued, since
// a queue.Task only carries scalar fields (kind, repository, force_full).
func NewExecutor(engine *Engine) *Executor {
	return &Executor{engine: engine, sessions: map[string]Session{}}
}

// Enqueue hands off a session for async capture: it registers the session
// payload, queues a "capture" task, and returns the task id for
// /ingest-status-style polling.
func (x *Executor) Enqueue(q *queue.Queue, s Session) (string, error) {
	taskID, err := q.Enqueue("capture", s.Repository, false)
	if err != nil {
		return "", err
	}
	x.sessions[taskID] = s
	return taskID, nil
}

// Run implements queue.Executor.
func (x *Executor) Run(ctx context.Context, task queue.Task, _ queue.Progress) (string, error) {
	s, ok := x.sessions[task.TaskID]
	if !ok {
		return "", fmt.Errorf("capture: no registered session for task %s", task.TaskID)
	}
	delete(x.sessions, task.TaskID)

	res, err := x.engine.Run(ctx, s)
	if err != nil {
		return "", err
	}
	if res.Skipped {
		return res.Reason, nil
	}
	return res.SummaryID, nil
}

// RunSyncOrAsync implements §4.N step 4's mode switch: in sync mode it
// blocks up to syncTimeout waiting for Run to finish, falling through to an
// async enqueue on timeout; in async mode (the default) it enqueues and
// returns immediately.
func (e *Engine) RunSyncOrAsync(ctx context.Context, s Session, q *queue.Queue, exec *Executor, sync bool) (Result, string, error) {
	if !sync {
		taskID, err := exec.Enqueue(q, s)
		return Result{Skipped: false, Reason: "enqueued async"}, taskID, err
	}

	timeout := time.Duration(e.cfg.SyncTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	syncCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := e.Run(syncCtx, s)
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	select {
	case out := <-done:
		return out.res, "", out.err
	case <-syncCtx.Done():
		taskID, err := exec.Enqueue(q, s)
		return Result{Skipped: false, Reason: "sync timed out, fell through to async"}, taskID, err
	}
}
