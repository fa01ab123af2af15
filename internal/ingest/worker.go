// Package ingest loads documents into the conversation in the background
// so callers can return before the index is built.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/retrieval"
	"github.com/kalambet/askdoc/internal/source"
)

// ErrQueueFull is returned by Submit when no more jobs can be queued.
var ErrQueueFull = errors.New("load queue is full")

// Loader installs a document. *conversation.Conversation implements it.
type Loader interface {
	LoadDocument(ctx context.Context, doc conversation.Document) (conversation.Status, error)
}

// FetchFunc resolves a document reference to text.
type FetchFunc func(ctx context.Context, ref string) (source.Text, error)

// JobState is the lifecycle of a load job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobRunning    JobState = "running"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobSuperseded JobState = "superseded"
)

// Request is what a caller submits: inline text, or a reference to fetch.
type Request struct {
	Title   string
	Content string
	Source  string
}

// Job reports the progress of one submitted request.
type Job struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type queued struct {
	id  string
	req Request
	doc conversation.Document
}

// Worker runs load jobs one at a time from a bounded queue.
type Worker struct {
	loader      Loader
	fetch       FetchFunc
	queue       chan queued
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	latest string
}

const keepJobs = 64

// Options tunes a Worker. Zero values take defaults.
type Options struct {
	QueueSize   int           // default 8
	MaxAttempts int           // default 3; only embedding provider failures are retried
	Backoff     time.Duration // default 1s, doubled per attempt
	Fetch       FetchFunc     // default source.Load with a 60s HTTP client
}

// NewWorker creates a Worker that feeds loader.
func NewWorker(loader Loader, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Fetch == nil {
		client := &http.Client{Timeout: 60 * time.Second}
		opts.Fetch = func(ctx context.Context, ref string) (source.Text, error) {
			return source.Load(ctx, ref, client)
		}
	}
	return &Worker{
		loader:      loader,
		fetch:       opts.Fetch,
		queue:       make(chan queued, opts.QueueSize),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      slog.Default(),
		jobs:        make(map[string]*Job),
	}
}

// Submit queues req and returns the pending job. The document version is
// assigned here so callers can refer to it before the load runs.
func (w *Worker) Submit(req Request) (Job, error) {
	req.Source = strings.TrimSpace(req.Source)
	if strings.TrimSpace(req.Content) == "" && req.Source == "" {
		return Job{}, fmt.Errorf("content or source is required: %w", conversation.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Version:   uuid.NewString(),
		State:     JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q := queued{
		id:  job.ID,
		req: req,
		doc: conversation.Document{Version: job.Version, Title: req.Title, Source: req.Source, Text: req.Content},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case w.queue <- q:
	default:
		return Job{}, ErrQueueFull
	}
	w.track(job)
	w.latest = job.ID
	return *job, nil
}

// track records job and forgets the oldest ones beyond keepJobs. Callers
// hold w.mu.
func (w *Worker) track(job *Job) {
	w.jobs[job.ID] = job
	w.order = append(w.order, job.ID)
	for len(w.order) > keepJobs {
		delete(w.jobs, w.order[0])
		w.order = w.order[1:]
	}
}

// Job returns the current view of a submitted job.
func (w *Worker) Job(id string) (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-w.queue:
			w.process(ctx, q)
		}
	}
}

// RunOnce processes one queued job if there is one and reports whether it did.
func (w *Worker) RunOnce(ctx context.Context) bool {
	select {
	case q := <-w.queue:
		w.process(ctx, q)
		return true
	default:
		return false
	}
}

func (w *Worker) process(ctx context.Context, q queued) {
	// A newer submission replaces this one before it even starts.
	if w.superseded(q.id) {
		w.update(q.id, JobSuperseded, 0, nil)
		return
	}

	for attempt := 1; ; attempt++ {
		w.update(q.id, JobRunning, attempt, nil)
		err := w.load(ctx, q)
		switch {
		case err == nil:
			w.update(q.id, JobCompleted, attempt, nil)
			return
		case errors.Is(err, conversation.ErrSuperseded):
			w.update(q.id, JobSuperseded, attempt, nil)
			return
		case attempt < w.maxAttempts && errors.Is(err, retrieval.ErrEmbeddingProvider) && ctx.Err() == nil && !w.superseded(q.id):
			delay := w.backoff << (attempt - 1)
			w.logger.Warn("document load failed, retrying", "job_id", q.id, "attempt", attempt, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				w.update(q.id, JobFailed, attempt, ctx.Err())
				return
			case <-time.After(delay):
			}
		default:
			w.logger.Warn("document load failed", "job_id", q.id, "attempt", attempt, "error", err)
			w.update(q.id, JobFailed, attempt, err)
			return
		}
	}
}

func (w *Worker) load(ctx context.Context, q queued) error {
	doc := q.doc
	if strings.TrimSpace(doc.Text) == "" {
		text, err := w.fetch(ctx, q.req.Source)
		if err != nil {
			return fmt.Errorf("fetching source: %w", err)
		}
		doc.Text = text.Content
		doc.Source = text.Source
		if doc.Title == "" {
			doc.Title = text.Title
		}
	}
	st, err := w.loader.LoadDocument(ctx, doc)
	if err != nil {
		return err
	}
	w.logger.Info("document loaded", "job_id", q.id, "version", doc.Version, "chunks", st.Chunks)
	return nil
}

func (w *Worker) superseded(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest != id
}

func (w *Worker) update(id string, state JobState, attempts int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j, ok := w.jobs[id]
	if !ok {
		return
	}
	j.State = state
	if attempts > 0 {
		j.Attempts = attempts
	}
	j.Error = ""
	if err != nil {
		j.Error = err.Error()
	}
	j.UpdatedAt = time.Now().UTC()
}
