// Package queue holds the download job state machine and the priority
// queue feeding the worker pool. Jobs are owned by the scheduling
// subsystem; external callers only see snapshots and issue control
// commands through the scheduler.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSearching   Status = "searching"
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusRetrying    Status = "retrying"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Retry defaults
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 60 * time.Second
	DefaultBackoffMax  = 300 * time.Second
)

var (
	// ErrNoCandidates is returned when a job is created without any
	// download candidate.
	ErrNoCandidates = errors.New("job needs at least one candidate")

	// ErrInvalidTransition signals a state machine misuse. Seeing it
	// means a bug in the scheduling subsystem, not a domain failure.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrJobPaused is returned by StartDownload while the job or the
	// whole queue is paused.
	ErrJobPaused = errors.New("job is paused")
)

// Job is one managed download lifecycle for a single track request,
// including retries and alternative-candidate fallbacks. All fields are
// guarded by the mutex; mutation happens only through the transition
// methods below.
type Job struct {
	mu sync.Mutex

	id        string
	trackRef  string
	priority  int
	createdAt time.Time
	seq       uint64 // submission order tiebreak, assigned by the queue

	status          Status
	primary         ranker.ScoredCandidate
	alternatives    []ranker.ScoredCandidate
	attemptCount    int
	maxRetries      int
	lastError       string
	paused          bool
	candidatesTried int
}

// NewJob creates a job in Pending state. The first candidate becomes the
// primary; the rest are kept as fallbacks in the given order.
func NewJob(trackRef string, priority int, candidates []ranker.ScoredCandidate, maxRetries int) (*Job, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	alternatives := make([]ranker.ScoredCandidate, len(candidates)-1)
	copy(alternatives, candidates[1:])
	return &Job{
		id:              uuid.NewString(),
		trackRef:        trackRef,
		priority:        priority,
		createdAt:       time.Now().UTC(),
		status:          StatusPending,
		primary:         candidates[0],
		alternatives:    alternatives,
		maxRetries:      maxRetries,
		candidatesTried: 1,
	}, nil
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

func (j *Job) transition(from []Status, to Status) error {
	for _, s := range from {
		if j.status == s {
			j.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
}

// MarkSearching moves Pending -> Searching.
func (j *Job) MarkSearching() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transition([]Status{StatusPending}, StatusSearching)
}

// MarkQueued moves the job into Queued. Legal after the search phase,
// after a retry backoff and after an alternative-candidate fallback. A
// job paused mid-backoff lands in Paused instead, so its reported state
// matches a job paused while waiting in the queue.
func (j *Job) MarkQueued() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	to := StatusQueued
	if j.paused {
		to = StatusPaused
	}
	return j.transition([]Status{StatusSearching, StatusRetrying}, to)
}

// StartDownload moves Queued -> Downloading. It refuses while the job or
// the whole scheduler is paused so a racing pause cannot start work.
func (j *Job) StartDownload(globallyPaused bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if globallyPaused || j.paused {
		return ErrJobPaused
	}
	return j.transition([]Status{StatusQueued}, StatusDownloading)
}

// MarkCompleted moves Downloading -> Completed.
func (j *Job) MarkCompleted() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transition([]Status{StatusDownloading}, StatusCompleted)
}

// MarkRetrying records a transient failure. It increments the attempt
// counter and moves to Retrying. The returned flag is true once the
// retry budget for the current candidate is spent, in which case the
// caller must fall back to an alternative or fail the job; no backoff
// wait happens for an exhausted candidate.
func (j *Job) MarkRetrying(errMsg string) (exhausted bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition([]Status{StatusDownloading}, StatusRetrying); err != nil {
		return false, err
	}
	j.attemptCount++
	j.lastError = errMsg
	return j.attemptCount > j.maxRetries, nil
}

// AdvanceToAlternative swaps in the next fallback candidate and resets
// the attempt counter. It returns false when none remain. Legal from
// Downloading (permanent error, no retry) and Retrying (budget spent).
func (j *Job) AdvanceToAlternative() (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDownloading && j.status != StatusRetrying {
		return false, fmt.Errorf("%w: advance from %s", ErrInvalidTransition, j.status)
	}
	if len(j.alternatives) == 0 {
		return false, nil
	}
	j.primary = j.alternatives[0]
	j.alternatives = j.alternatives[1:]
	j.attemptCount = 0
	j.candidatesTried++
	j.status = StatusRetrying
	return true, nil
}

// MarkFailed terminally fails the job, recording the last error.
func (j *Job) MarkFailed(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, j.status)
	}
	if errMsg != "" {
		j.lastError = errMsg
	}
	j.status = StatusFailed
	return nil
}

// Pause sets the per-job pause flag. A Queued job shows up as Paused and
// is skipped by the queue; a Downloading job keeps its in-flight
// transfer and is only held back from future dequeues. Idempotent.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, j.status)
	}
	j.paused = true
	if j.status == StatusQueued {
		j.status = StatusPaused
	}
	return nil
}

// Resume clears the pause flag. Resuming a job that is not paused is a
// no-op and does not alter its queue position.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, j.status)
	}
	j.paused = false
	if j.status == StatusPaused {
		j.status = StatusQueued
	}
	return nil
}

// Cancel terminally cancels the job from any non-terminal state.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, j.status)
	}
	j.status = StatusCancelled
	return nil
}

// Backoff returns the delay before the next retry attempt:
// min(base * 2^(attempts-1), max), so the first retry waits the base
// delay.
func (j *Job) Backoff(base, max time.Duration) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	attempts := j.attemptCount
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Paused reports the per-job pause flag.
func (j *Job) Paused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.paused
}

// Candidate returns the candidate the next download attempt will use.
func (j *Job) Candidate() ranker.ScoredCandidate {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.primary
}

// Snapshot is an immutable copy of a job's externally visible state.
type Snapshot struct {
	ID                    string                 `json:"id"`
	TrackRef              string                 `json:"track_ref"`
	Priority              int                    `json:"priority"`
	CreatedAt             time.Time              `json:"created_at"`
	Status                Status                 `json:"status"`
	Paused                bool                   `json:"paused"`
	Candidate             ranker.ScoredCandidate `json:"candidate"`
	RemainingAlternatives int                    `json:"remaining_alternatives"`
	AttemptCount          int                    `json:"attempt_count"`
	MaxRetries            int                    `json:"max_retries"`
	CandidatesTried       int                    `json:"candidates_tried"`
	LastError             string                 `json:"last_error,omitempty"`
}

// Snapshot returns a copy of the job state for status queries and
// write-through persistence.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:                    j.id,
		TrackRef:              j.trackRef,
		Priority:              j.priority,
		CreatedAt:             j.createdAt,
		Status:                j.status,
		Paused:                j.paused,
		Candidate:             j.primary,
		RemainingAlternatives: len(j.alternatives),
		AttemptCount:          j.attemptCount,
		MaxRetries:            j.maxRetries,
		CandidatesTried:       j.candidatesTried,
		LastError:             j.lastError,
	}
}
