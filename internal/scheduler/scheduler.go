// Package scheduler orchestrates download jobs: it ranks search results
// into candidates, queues jobs by priority, runs them on a bounded
// worker pool behind a circuit breaker, and exposes the control surface
// (submit, status, pause/resume, cancel) to callers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/breaker"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/queue"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

var (
	// ErrNoCandidatesFound means the search ran but every result was
	// filtered out. A normal negative outcome, not a fault.
	ErrNoCandidatesFound = errors.New("no candidates found")

	// ErrUnknownJob is returned for job IDs the scheduler does not track.
	ErrUnknownJob = errors.New("unknown job")

	// ErrNotStarted is returned by Submit before Start has been called.
	ErrNotStarted = errors.New("scheduler is not started")
)

// SubmitRequest describes one track download request.
type SubmitRequest struct {
	TrackRef string               `json:"track_ref"`
	Query    string               `json:"query"`
	Filters  ranker.SearchFilters `json:"filters"`
	Priority int                  `json:"priority"`
	// MaxRetries overrides the scheduler default when positive.
	MaxRetries int `json:"max_retries,omitempty"`
}

// BatchResult is the per-request outcome of SubmitBatch.
type BatchResult struct {
	TrackRef string `json:"track_ref"`
	JobID    string `json:"job_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Scheduler is the public entry point of the download engine. Construct
// with New, call Start once, then use the control methods from any
// goroutine.
type Scheduler struct {
	cfg     Config
	logger  *zap.Logger
	ranker  *ranker.Ranker
	queue   *queue.PriorityQueue
	breaker *breaker.CircuitBreaker
	metrics *Metrics
	slots   *slots

	mu      sync.Mutex
	jobs    map[string]*queue.Job
	running map[string]context.CancelFunc
	ctx     context.Context
	started bool

	wg sync.WaitGroup
}

// New validates the configuration and builds a scheduler. Start must be
// called before jobs are processed.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Client == nil {
		return nil, errors.New("scheduler config needs a soulseek client")
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:     cfg,
		logger:  cfg.Logger,
		ranker:  ranker.New(cfg.Heuristics),
		queue:   queue.NewPriorityQueue(),
		breaker: breaker.New(cfg.FailureThreshold, cfg.RecoveryTimeout),
		metrics: NewMetrics(cfg.Registerer),
		slots:   newSlots(cfg.MaxConcurrent),
		jobs:    make(map[string]*queue.Job),
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Start launches the worker pool and the monitor. It returns
// immediately; cancel ctx and call Wait for a graceful stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Starting download scheduler",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent))

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(ctx, id)
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(ctx)
	}()
}

// Wait blocks until all workers have exited after the Start context was
// cancelled. Downloads in flight are interrupted by that cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.logger.Info("Download scheduler stopped")
}

// Submit searches the peer network, ranks the results and enqueues a
// job for the best candidates. It returns ErrNoCandidatesFound when
// ranking filters everything out.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return "", ErrNotStarted
	}

	var raw []ranker.RawResult
	err := s.breaker.Execute(func() error {
		var searchErr error
		raw, searchErr = s.cfg.Client.Search(ctx, req.Query)
		return searchErr
	})
	if err != nil {
		return "", fmt.Errorf("searching %q: %w", req.Query, err)
	}

	ranked := s.ranker.Rank(req.Query, raw, req.Filters)
	if len(ranked) == 0 {
		return "", fmt.Errorf("%w for %q", ErrNoCandidatesFound, req.Query)
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}
	job, err := queue.NewJob(req.TrackRef, req.Priority, ranked, maxRetries)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.jobs[job.ID()] = job
	s.mu.Unlock()

	// Pending -> Searching -> Queued; the search already happened but
	// the persisted trail keeps the full lifecycle visible.
	if err := job.MarkSearching(); err != nil {
		return "", err
	}
	s.persist(job)
	if err := job.MarkQueued(); err != nil {
		return "", err
	}
	s.queue.Enqueue(job)
	s.persist(job)

	s.metrics.JobsSubmitted.Inc()
	s.logger.Info("Job submitted",
		zap.String("job_id", job.ID()),
		zap.String("track_ref", req.TrackRef),
		zap.Int("priority", req.Priority),
		zap.Int("candidates", len(ranked)))
	return job.ID(), nil
}

// SubmitBatch submits every request independently; one failure never
// aborts its siblings.
func (s *Scheduler) SubmitBatch(ctx context.Context, reqs []SubmitRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		result := BatchResult{TrackRef: req.TrackRef}
		jobID, err := s.Submit(ctx, req)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.JobID = jobID
		}
		results = append(results, result)
	}
	return results
}

// Status returns a snapshot of the job.
func (s *Scheduler) Status(jobID string) (queue.Snapshot, error) {
	job, ok := s.lookup(jobID)
	if !ok {
		return queue.Snapshot{}, ErrUnknownJob
	}
	return job.Snapshot(), nil
}

// PauseJob pauses a single job. A download already in flight keeps
// running; the job just will not be dequeued again until resumed.
func (s *Scheduler) PauseJob(jobID string) error {
	job, ok := s.lookup(jobID)
	if !ok {
		return ErrUnknownJob
	}
	if err := job.Pause(); err != nil {
		return err
	}
	s.persist(job)
	return nil
}

// ResumeJob clears a job's pause flag. Resuming an unknown or
// non-paused job is a no-op: the engine may be told to resume jobs it
// never saw (e.g. restored elsewhere) and must tolerate it.
func (s *Scheduler) ResumeJob(jobID string) error {
	job, ok := s.lookup(jobID)
	if !ok {
		return nil
	}
	if err := job.Resume(); err != nil {
		return err
	}
	s.persist(job)
	s.queue.Notify()
	return nil
}

// PauseAll stops all dequeues without interrupting running downloads.
func (s *Scheduler) PauseAll() {
	s.queue.PauseAll()
	s.logger.Info("Scheduler globally paused")
}

// ResumeAll re-enables dequeues.
func (s *Scheduler) ResumeAll() {
	s.queue.ResumeAll()
	s.logger.Info("Scheduler globally resumed")
}

// Cancel terminally cancels a job. If its download is in flight the
// transfer is interrupted promptly and the concurrency slot freed.
func (s *Scheduler) Cancel(jobID string) error {
	job, ok := s.lookup(jobID)
	if !ok {
		return ErrUnknownJob
	}
	if err := job.Cancel(); err != nil {
		return err
	}

	s.mu.Lock()
	cancel := s.running[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.persist(job)
	s.logger.Info("Job cancelled", zap.String("job_id", jobID))
	return nil
}

// SetMaxConcurrent adjusts the global downloading ceiling at runtime.
func (s *Scheduler) SetMaxConcurrent(n int) {
	s.slots.SetMax(n)
	s.queue.Notify()
	s.logger.Info("Concurrency ceiling changed", zap.Int("max_concurrent", s.slots.Max()))
}

// MaxConcurrent returns the current ceiling.
func (s *Scheduler) MaxConcurrent() int { return s.slots.Max() }

// GloballyPaused reports the global pause flag.
func (s *Scheduler) GloballyPaused() bool { return s.queue.GloballyPaused() }

// QueueDepth returns the number of jobs waiting in the queue.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

func (s *Scheduler) lookup(jobID string) (*queue.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// persist writes the current snapshot through to the store. At-least-
// once: failures are logged and the in-memory state stays authoritative.
func (s *Scheduler) persist(job *queue.Job) {
	snapshot := job.Snapshot()
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.cfg.Store.SaveJob(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to persist job snapshot",
			zap.String("job_id", snapshot.ID),
			zap.String("status", string(snapshot.Status)),
			zap.Error(err))
	}
}

// monitor periodically refreshes the observability gauges.
func (s *Scheduler) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.QueueDepth.Set(float64(s.queue.Len()))
			s.metrics.ActiveDownloads.Set(float64(s.slots.Active()))
			s.metrics.BreakerOpen.Set(breakerGaugeValue(s.breaker.State()))

			s.logger.Debug("Scheduler status",
				zap.Int("queue_depth", s.queue.Len()),
				zap.Int("active_downloads", s.slots.Active()),
				zap.String("breaker", string(s.breaker.State())))
		}
	}
}

func breakerGaugeValue(state breaker.State) float64 {
	switch state {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
