package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/breaker"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/queue"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/soulseek"
)

// worker pulls runnable jobs off the queue and drives them through the
// download lifecycle. A concurrency slot is acquired before dequeueing
// and held for the whole attempt, so at most MaxConcurrent jobs are in
// Downloading state globally, however many workers run.
func (s *Scheduler) worker(ctx context.Context, id int) {
	logger := s.logger.With(zap.Int("worker_id", id))
	logger.Info("Starting worker")

	ticker := time.NewTicker(s.cfg.IdleInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			if !s.slots.TryAcquire() {
				break
			}
			job := s.queue.Dequeue()
			if job == nil {
				s.slots.Release()
				break
			}
			s.runJob(ctx, logger, job)
		}

		select {
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		case <-s.queue.Wake():
		case <-ticker.C:
		}
	}
}

// runJob executes one download attempt. It owns the acquired slot and
// releases it on return.
func (s *Scheduler) runJob(ctx context.Context, logger *zap.Logger, job *queue.Job) {
	defer s.slots.Release()

	if err := job.StartDownload(s.queue.GloballyPaused()); err != nil {
		switch {
		case errors.Is(err, queue.ErrJobPaused):
			// paused between dequeue and start; park it again
			s.queue.Enqueue(job)
		case job.Status().Terminal():
			// cancelled while waiting, nothing to do
			s.persist(job)
		default:
			logger.Error("Refusing to start download", zap.String("job_id", job.ID()), zap.Error(err))
		}
		return
	}
	s.persist(job)

	candidate := job.Candidate()
	logger.Debug("Starting download",
		zap.String("job_id", job.ID()),
		zap.String("peer", candidate.SourceID),
		zap.String("filename", candidate.Filename))

	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[job.ID()] = cancel
	s.mu.Unlock()

	start := time.Now()
	err := s.breaker.Execute(func() error {
		attemptCtx, attemptCancel := context.WithTimeout(jobCtx, s.cfg.DownloadTimeout)
		defer attemptCancel()
		return s.cfg.Client.Download(attemptCtx, candidate, nil)
	})
	s.metrics.DownloadDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	delete(s.running, job.ID())
	s.mu.Unlock()
	cancel()

	switch {
	case err == nil:
		if terr := job.MarkCompleted(); terr != nil {
			logger.Warn("Download finished but job no longer running",
				zap.String("job_id", job.ID()), zap.Error(terr))
		} else {
			s.metrics.DownloadsCompleted.Inc()
			logger.Info("Download completed",
				zap.String("job_id", job.ID()),
				zap.String("filename", candidate.Filename),
				zap.Duration("duration", time.Since(start)))
		}
		s.persist(job)

	case job.Status() == queue.StatusCancelled:
		// the error is the cancellation echo; the job is already terminal
		logger.Info("Download interrupted by cancellation", zap.String("job_id", job.ID()))
		s.persist(job)

	case soulseek.IsPermanent(err):
		logger.Warn("Permanent download failure, skipping retries",
			zap.String("job_id", job.ID()),
			zap.String("peer", candidate.SourceID),
			zap.Error(err))
		s.failOver(logger, job, err.Error())

	default:
		// transient class: network, timeout, rate limit, open breaker
		s.handleTransient(ctx, logger, job, err)
	}
}

// handleTransient consumes one unit of the job's retry budget and either
// schedules a backed-off re-enqueue or falls over to an alternative.
func (s *Scheduler) handleTransient(ctx context.Context, logger *zap.Logger, job *queue.Job, cause error) {
	if errors.Is(cause, breaker.ErrOpen) {
		logger.Debug("Download failed fast, circuit open", zap.String("job_id", job.ID()))
	}

	exhausted, err := job.MarkRetrying(cause.Error())
	if err != nil {
		// lost a race with cancel; the terminal state wins
		logger.Debug("Transient failure on finished job", zap.String("job_id", job.ID()), zap.Error(err))
		s.persist(job)
		return
	}

	if exhausted {
		s.failOver(logger, job, cause.Error())
		return
	}

	delay := job.Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax)
	s.metrics.RetriesTotal.Inc()
	s.persist(job)
	logger.Info("Retrying download",
		zap.String("job_id", job.ID()),
		zap.Int("attempt", job.Snapshot().AttemptCount),
		zap.Duration("delay", delay),
		zap.Error(cause))

	// the backoff sleep is scoped to this job; no worker blocks on it
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := job.MarkQueued(); err != nil {
			// cancelled during backoff
			return
		}
		s.queue.Enqueue(job)
		s.persist(job)
	}()
}

// failOver advances the job to its next alternative candidate, or fails
// it terminally when none remain.
func (s *Scheduler) failOver(logger *zap.Logger, job *queue.Job, lastError string) {
	ok, err := job.AdvanceToAlternative()
	if err != nil {
		logger.Debug("Fallback on finished job", zap.String("job_id", job.ID()), zap.Error(err))
		s.persist(job)
		return
	}

	if ok {
		s.metrics.FallbacksTotal.Inc()
		if err := job.MarkQueued(); err != nil {
			s.persist(job)
			return
		}
		s.queue.Enqueue(job)
		s.persist(job)
		logger.Info("Falling back to alternative candidate",
			zap.String("job_id", job.ID()),
			zap.String("peer", job.Candidate().SourceID),
			zap.Int("candidates_tried", job.Snapshot().CandidatesTried))
		return
	}

	if err := job.MarkFailed(lastError); err != nil {
		logger.Debug("Failing a finished job", zap.String("job_id", job.ID()), zap.Error(err))
	} else {
		s.metrics.DownloadsFailed.Inc()
		snapshot := job.Snapshot()
		logger.Warn("Job failed, candidates exhausted",
			zap.String("job_id", job.ID()),
			zap.Int("candidates_tried", snapshot.CandidatesTried),
			zap.String("last_error", snapshot.LastError))
	}
	s.persist(job)
}
