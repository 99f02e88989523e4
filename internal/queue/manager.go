// Package queue is the in-process work-queue runtime behind the pipeline.
//
// Every stage runs as jobs on a named queue with its own worker count and
// rate limit. Jobs are deduplicated by ID while pending, so a slow poll
// cannot stack duplicate work for the same token. Failed jobs retry with
// exponential backoff up to three attempts, then land in a bounded failure
// ring for inspection.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Queue names. Stages enqueue onto the next stage's queue, never call each
// other directly.
const (
	QueueNormalize = "normalize"
	QueueFeatures  = "features"
	QueueScore     = "score"
	QueueStrategy  = "strategy"
	QueuePaper     = "paper"
	QueueExecute   = "execute"
	QueueRisk      = "risk"
	QueueAudit     = "audit"
	QueueAlerts    = "alerts"
)

const (
	maxAttempts        = 3
	defaultRetryBase   = time.Second
	queueBuffer        = 1024
	completedRetention = 100
	failedRetention    = 50
)

// Job is one unit of work. Payload is opaque to the runtime.
type Job struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Kind     string          `json:"kind"`
	TokenID  string          `json:"tokenId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Attempts int             `json:"attempts"`
}

// NewJob builds a job with a stable ID: token-scoped jobs get
// "{kind}:{token}" so the pending-dedupe collapses repeats, everything else
// gets a UUID.
func NewJob(queueName, kind, tokenID string, payload any) (Job, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Job{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = data
	}
	id := kind
	if tokenID != "" {
		id = kind + ":" + tokenID
	} else if kind == "" {
		id = uuid.NewString()
	}
	return Job{ID: id, Queue: queueName, Kind: kind, TokenID: tokenID, Payload: raw}, nil
}

// Handler processes one job. A returned error triggers a retry.
type Handler func(ctx context.Context, job Job) error

// Result is a finished job kept in the completed/failed rings.
type Result struct {
	Job        Job
	Err        string
	FinishedAt time.Time
}

// Stats is a point-in-time view of one queue.
type Stats struct {
	Pending   int
	Completed int64
	Failed    int64
}

type queueState struct {
	name      string
	ch        chan Job
	workers   int
	limiter   *rate.Limiter
	completed int64
	failed    int64
}

// Manager owns all queues and their workers.
type Manager struct {
	mu        sync.Mutex
	queues    map[string]*queueState
	handlers  map[string]Handler
	pending   map[string]struct{}
	completed []Result
	failed    []Result

	retryBase time.Duration
	logger    *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		queues:    make(map[string]*queueState),
		handlers:  make(map[string]Handler),
		pending:   make(map[string]struct{}),
		retryBase: defaultRetryBase,
		logger:    logger.With("component", "queue"),
	}
}

// AddQueue registers a named queue. ratePerSec <= 0 means unlimited.
func (m *Manager) AddQueue(name string, workers int, ratePerSec float64) {
	if workers < 1 {
		workers = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[name] = &queueState{
		name:    name,
		ch:      make(chan Job, queueBuffer),
		workers: workers,
		limiter: limiter,
	}
}

// Handle binds a job kind to its handler.
func (m *Manager) Handle(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

// Enqueue submits a job. Returns false when the job is a duplicate of one
// still pending, the queue is unknown, or the queue is full.
func (m *Manager) Enqueue(job Job) bool {
	m.mu.Lock()
	q, ok := m.queues[job.Queue]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("enqueue to unknown queue", "queue", job.Queue, "kind", job.Kind)
		return false
	}
	if _, dup := m.pending[job.ID]; dup {
		m.mu.Unlock()
		return false
	}
	m.pending[job.ID] = struct{}{}
	m.mu.Unlock()

	select {
	case q.ch <- job:
		return true
	default:
		m.clearPending(job.ID)
		m.logger.Warn("queue full, dropping job", "queue", job.Queue, "kind", job.Kind, "id", job.ID)
		return false
	}
}

// Run starts every queue's workers and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	m.mu.Lock()
	states := make([]*queueState, 0, len(m.queues))
	for _, q := range m.queues {
		states = append(states, q)
	}
	m.mu.Unlock()

	for _, q := range states {
		for i := 0; i < q.workers; i++ {
			g.Go(func() error {
				return m.worker(ctx, q)
			})
		}
	}
	m.logger.Info("queue runtime started", "queues", len(states))
	return g.Wait()
}

// Stats reports per-queue counters.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.queues))
	for name, q := range m.queues {
		out[name] = Stats{Pending: len(q.ch), Completed: q.completed, Failed: q.failed}
	}
	return out
}

// Failed returns a copy of the failure ring, newest last.
func (m *Manager) Failed() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.failed))
	copy(out, m.failed)
	return out
}

func (m *Manager) worker(ctx context.Context, q *queueState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-q.ch:
			if err := q.limiter.Wait(ctx); err != nil {
				return err
			}
			m.process(ctx, q, job)
		}
	}
}

func (m *Manager) process(ctx context.Context, q *queueState, job Job) {
	m.mu.Lock()
	handler, ok := m.handlers[job.Kind]
	m.mu.Unlock()
	if !ok {
		m.logger.Error("no handler for job kind", "kind", job.Kind, "queue", q.name)
		m.finish(q, job, fmt.Errorf("no handler for kind %q", job.Kind))
		return
	}

	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		m.finish(q, job, nil)
		return
	}
	if ctx.Err() != nil {
		m.clearPending(job.ID)
		return
	}

	if job.Attempts >= maxAttempts {
		m.logger.Warn("job failed permanently",
			"queue", q.name, "kind", job.Kind, "id", job.ID,
			"attempts", job.Attempts, "error", err)
		m.finish(q, job, err)
		return
	}

	backoff := m.retryBase << (job.Attempts - 1)
	m.logger.Debug("job retry scheduled",
		"queue", q.name, "kind", job.Kind, "id", job.ID,
		"attempt", job.Attempts, "backoff", backoff, "error", err)

	retry := job
	time.AfterFunc(backoff, func() {
		select {
		case q.ch <- retry:
		default:
			m.logger.Warn("queue full, dropping retry", "queue", q.name, "id", retry.ID)
			m.finish(q, retry, fmt.Errorf("retry dropped, queue full"))
		}
	})
}

// finish records the outcome and releases the dedupe slot.
func (m *Manager) finish(q *queueState, job Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, job.ID)

	res := Result{Job: job, FinishedAt: time.Now()}
	if err != nil {
		res.Err = err.Error()
		q.failed++
		m.failed = appendCapped(m.failed, res, failedRetention)
		return
	}
	q.completed++
	m.completed = appendCapped(m.completed, res, completedRetention)
}

func (m *Manager) clearPending(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

func appendCapped(ring []Result, r Result, limit int) []Result {
	ring = append(ring, r)
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return ring
}
