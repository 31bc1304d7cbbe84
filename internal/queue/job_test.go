package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

func candidates(n int) []ranker.ScoredCandidate {
	out := make([]ranker.ScoredCandidate, n)
	for i := range out {
		out[i] = ranker.ScoredCandidate{
			RawResult:  ranker.RawResult{SourceID: string(rune('a' + i)), Filename: "x - y.mp3"},
			MatchScore: float64(100 - i),
		}
	}
	return out
}

func TestNewJobRequiresCandidates(t *testing.T) {
	_, err := NewJob("track-1", 0, nil, DefaultMaxRetries)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestJobHappyPath(t *testing.T) {
	job, err := NewJob("track-1", 5, candidates(2), DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status())

	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.StartDownload(false))
	require.NoError(t, job.MarkCompleted())
	assert.True(t, job.Status().Terminal())

	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.CandidatesTried)
	assert.Equal(t, 1, snap.RemainingAlternatives)
}

func TestJobRejectsSkippingQueued(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), DefaultMaxRetries)

	assert.ErrorIs(t, job.StartDownload(false), ErrInvalidTransition)
	require.NoError(t, job.MarkSearching())
	assert.ErrorIs(t, job.StartDownload(false), ErrInvalidTransition)
	require.NoError(t, job.MarkQueued())
	assert.NoError(t, job.StartDownload(false))
}

func TestStartDownloadRespectsPause(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), DefaultMaxRetries)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())

	assert.ErrorIs(t, job.StartDownload(true), ErrJobPaused)

	require.NoError(t, job.Pause())
	assert.ErrorIs(t, job.StartDownload(false), ErrJobPaused)

	require.NoError(t, job.Resume())
	assert.NoError(t, job.StartDownload(false))
}

func TestRetryBudgetPerCandidate(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), 3)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())

	// maxRetries+1 attempts before the budget is spent
	for attempt := 1; attempt <= 4; attempt++ {
		require.NoError(t, job.StartDownload(false))
		exhausted, err := job.MarkRetrying("connection reset")
		require.NoError(t, err)
		if attempt < 4 {
			assert.False(t, exhausted, "attempt %d", attempt)
			require.NoError(t, job.MarkQueued())
		} else {
			assert.True(t, exhausted)
		}
	}
	assert.Equal(t, 4, job.Snapshot().AttemptCount)
}

func TestAdvanceToAlternativeResetsAttempts(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(2), 0)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.StartDownload(false))

	exhausted, err := job.MarkRetrying("timeout")
	require.NoError(t, err)
	require.True(t, exhausted)

	ok, err := job.AdvanceToAlternative()
	require.NoError(t, err)
	require.True(t, ok)

	snap := job.Snapshot()
	assert.Zero(t, snap.AttemptCount)
	assert.Equal(t, 2, snap.CandidatesTried)
	assert.Equal(t, "b", snap.Candidate.SourceID)
	assert.Zero(t, snap.RemainingAlternatives)

	// second advance has nothing left
	ok, err = job.AdvanceToAlternative()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, job.MarkFailed("peer gone"))
	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, "peer gone", job.Snapshot().LastError)
}

func TestResumeIsIdempotent(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), DefaultMaxRetries)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())

	require.NoError(t, job.Resume())
	assert.Equal(t, StatusQueued, job.Status())

	require.NoError(t, job.Pause())
	assert.Equal(t, StatusPaused, job.Status())
	require.NoError(t, job.Pause())

	require.NoError(t, job.Resume())
	assert.Equal(t, StatusQueued, job.Status())
	require.NoError(t, job.Resume())
	assert.Equal(t, StatusQueued, job.Status())
}

func TestPauseDuringBackoffReportsPaused(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), DefaultMaxRetries)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.StartDownload(false))

	_, err := job.MarkRetrying("timeout")
	require.NoError(t, err)

	// paused mid-backoff: the re-enqueue must land in Paused, same as a
	// job paused while waiting in the queue
	require.NoError(t, job.Pause())
	assert.Equal(t, StatusRetrying, job.Status())
	require.NoError(t, job.MarkQueued())
	assert.Equal(t, StatusPaused, job.Snapshot().Status)
	assert.ErrorIs(t, job.StartDownload(false), ErrJobPaused)

	require.NoError(t, job.Resume())
	assert.Equal(t, StatusQueued, job.Status())
	assert.NoError(t, job.StartDownload(false))
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	for _, setup := range []func(j *Job){
		func(j *Job) {},
		func(j *Job) { _ = j.MarkSearching() },
		func(j *Job) { _ = j.MarkSearching(); _ = j.MarkQueued() },
		func(j *Job) { _ = j.MarkSearching(); _ = j.MarkQueued(); _ = j.StartDownload(false) },
		func(j *Job) { _ = j.MarkSearching(); _ = j.MarkQueued(); _ = j.Pause() },
	} {
		job, _ := NewJob("track-1", 0, candidates(1), DefaultMaxRetries)
		setup(job)
		require.NoError(t, job.Cancel())
		assert.Equal(t, StatusCancelled, job.Status())
		assert.ErrorIs(t, job.Cancel(), ErrInvalidTransition)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	job, _ := NewJob("track-1", 0, candidates(1), 10)
	require.NoError(t, job.MarkSearching())
	require.NoError(t, job.MarkQueued())

	base, max := 60*time.Second, 300*time.Second
	expected := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second, 300 * time.Second}
	for _, want := range expected {
		require.NoError(t, job.StartDownload(false))
		_, err := job.MarkRetrying("timeout")
		require.NoError(t, err)
		assert.Equal(t, want, job.Backoff(base, max))
		require.NoError(t, job.MarkQueued())
	}
}
