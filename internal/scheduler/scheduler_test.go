package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/queue"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/soulseek"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/store"
)

// fakeClient is a scriptable soulseek.Client.
type fakeClient struct {
	mu         sync.Mutex
	results    []ranker.RawResult
	searchErr  error
	downloadFn func(ctx context.Context, c ranker.ScoredCandidate) error
}

func (f *fakeClient) Search(context.Context, string) ([]ranker.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]ranker.RawResult, len(f.results))
	copy(out, f.results)
	return out, nil
}

func (f *fakeClient) Download(ctx context.Context, c ranker.ScoredCandidate, _ func(int64)) error {
	f.mu.Lock()
	fn := f.downloadFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, c)
}

func goodResults(n int) []ranker.RawResult {
	out := make([]ranker.RawResult, n)
	for i := range out {
		out[i] = ranker.RawResult{
			SourceID:      fmt.Sprintf("peer-%d", i),
			Filename:      "Queen - Bohemian Rhapsody.flac",
			SizeBytes:     50_000_000,
			BitrateKbps:   1000 - i, // distinct quality so ordering is stable
			LengthSeconds: 354,
		}
	}
	return out
}

func testConfig(client soulseek.Client) Config {
	return Config{
		Workers:          4,
		MaxConcurrent:    2,
		IdleInterval:     2 * time.Millisecond,
		BackoffBase:      time.Millisecond,
		BackoffMax:       4 * time.Millisecond,
		DownloadTimeout:  time.Second,
		FailureThreshold: 1000, // breaker out of the way unless a test wants it
		RecoveryTimeout:  time.Hour,
		Client:           client,
		Registerer:       prometheus.NewRegistry(),
	}
}

func startScheduler(t *testing.T, cfg Config) (*Scheduler, context.CancelFunc) {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s, cancel
}

func submitReq(track string) SubmitRequest {
	return SubmitRequest{
		TrackRef: track,
		Query:    "Queen Bohemian Rhapsody",
		Filters:  ranker.DefaultFilters(),
	}
}

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want queue.Status) queue.Snapshot {
	t.Helper()
	var snapshot queue.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snapshot, err = s.Status(jobID)
		return err == nil && snapshot.Status == want
	}, 5*time.Second, 2*time.Millisecond, "job never reached %s (last: %+v)", want, snapshot)
	return snapshot
}

func TestSubmitRequiresStart(t *testing.T) {
	s, err := New(testConfig(&fakeClient{results: goodResults(1)}))
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), submitReq("t"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSubmitDownloadsAndPersists(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	mem := store.NewMemory()
	cfg := testConfig(client)
	cfg.Store = mem
	s, _ := startScheduler(t, cfg)

	jobID, err := s.Submit(context.Background(), submitReq("track-1"))
	require.NoError(t, err)

	snapshot := waitForStatus(t, s, jobID, queue.StatusCompleted)
	assert.Equal(t, "track-1", snapshot.TrackRef)
	assert.Zero(t, snapshot.AttemptCount)

	// write-through store saw the terminal state
	require.Eventually(t, func() bool {
		saved, ok := mem.Get(jobID)
		return ok && saved.Status == queue.StatusCompleted
	}, time.Second, 2*time.Millisecond)
}

func TestSubmitNoCandidatesFound(t *testing.T) {
	client := &fakeClient{results: []ranker.RawResult{
		{SourceID: "p", Filename: "Something Entirely Different (Live).mp3", BitrateKbps: 64},
	}}
	s, _ := startScheduler(t, testConfig(client))

	_, err := s.Submit(context.Background(), submitReq("track-1"))
	assert.ErrorIs(t, err, ErrNoCandidatesFound)
}

func TestSubmitBatchIsolatesFailures(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	s, _ := startScheduler(t, testConfig(client))

	reqs := []SubmitRequest{
		submitReq("ok-track"),
		{TrackRef: "bad-track", Query: "Totally Unfindable Song", Filters: ranker.DefaultFilters()},
	}
	results := s.SubmitBatch(context.Background(), reqs)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].JobID)
	assert.Empty(t, results[0].Error)
	assert.Empty(t, results[1].JobID)
	assert.Contains(t, results[1].Error, "no candidates found")
}

func TestConcurrencyCeilingHolds(t *testing.T) {
	var active, peak atomic.Int32
	client := &fakeClient{results: goodResults(1)}
	client.downloadFn = func(ctx context.Context, _ ranker.ScoredCandidate) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg := testConfig(client)
	cfg.Workers = 8
	cfg.MaxConcurrent = 2
	s, _ := startScheduler(t, cfg)

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := s.Submit(context.Background(), submitReq(fmt.Sprintf("track-%d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, s, id, queue.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency ceiling was exceeded")
}

func TestRetryBudgetThenFallbackThenFailed(t *testing.T) {
	var attempts atomic.Int32
	client := &fakeClient{results: goodResults(2)}
	client.downloadFn = func(context.Context, ranker.ScoredCandidate) error {
		attempts.Add(1)
		return soulseek.Transient(errors.New("peer disconnected"))
	}

	cfg := testConfig(client)
	s, _ := startScheduler(t, cfg)

	jobID, err := s.Submit(context.Background(), SubmitRequest{
		TrackRef:   "track-1",
		Query:      "Queen Bohemian Rhapsody",
		Filters:    ranker.DefaultFilters(),
		MaxRetries: 1,
	})
	require.NoError(t, err)

	snapshot := waitForStatus(t, s, jobID, queue.StatusFailed)
	// (maxRetries+1) attempts per candidate, two candidates
	assert.Equal(t, int32(4), attempts.Load())
	assert.Equal(t, 2, snapshot.CandidatesTried)
	assert.Contains(t, snapshot.LastError, "peer disconnected")
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	var attempts atomic.Int32
	client := &fakeClient{results: goodResults(1)}
	client.downloadFn = func(context.Context, ranker.ScoredCandidate) error {
		attempts.Add(1)
		return soulseek.Permanent(errors.New("file is no longer available"))
	}
	s, _ := startScheduler(t, testConfig(client))

	jobID, err := s.Submit(context.Background(), submitReq("track-1"))
	require.NoError(t, err)

	snapshot := waitForStatus(t, s, jobID, queue.StatusFailed)
	assert.Equal(t, int32(1), attempts.Load(), "permanent errors must not be retried")
	assert.Equal(t, 1, snapshot.CandidatesTried)
	assert.Contains(t, snapshot.LastError, "no longer available")
}

func TestCancelInterruptsInFlightDownload(t *testing.T) {
	started := make(chan struct{}, 1)
	client := &fakeClient{results: goodResults(1)}
	client.downloadFn = func(ctx context.Context, _ ranker.ScoredCandidate) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done() // blocks until cancelled
		return soulseek.Transient(ctx.Err())
	}
	s, _ := startScheduler(t, testConfig(client))

	jobID, err := s.Submit(context.Background(), submitReq("track-1"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("download never started")
	}

	require.NoError(t, s.Cancel(jobID))
	snapshot := waitForStatus(t, s, jobID, queue.StatusCancelled)
	assert.Equal(t, queue.StatusCancelled, snapshot.Status)

	// the slot was released: a fresh job still completes
	client.mu.Lock()
	client.downloadFn = nil
	client.mu.Unlock()
	nextID, err := s.Submit(context.Background(), submitReq("track-2"))
	require.NoError(t, err)
	waitForStatus(t, s, nextID, queue.StatusCompleted)
}

func TestGlobalPauseHoldsQueueButNotDownloads(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &fakeClient{results: goodResults(1)}
	client.downloadFn = func(ctx context.Context, _ ranker.ScoredCandidate) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s, _ := startScheduler(t, testConfig(client))

	runningID, err := s.Submit(context.Background(), submitReq("running"))
	require.NoError(t, err)
	<-started

	s.PauseAll()
	heldID, err := s.Submit(context.Background(), submitReq("held"))
	require.NoError(t, err)

	// the held job must not start while paused
	time.Sleep(30 * time.Millisecond)
	snapshot, err := s.Status(heldID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, snapshot.Status)

	// the in-flight download was not interrupted
	close(release)
	waitForStatus(t, s, runningID, queue.StatusCompleted)

	s.ResumeAll()
	waitForStatus(t, s, heldID, queue.StatusCompleted)
}

func TestPauseResumeSingleJob(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	s, _ := startScheduler(t, testConfig(client))

	s.PauseAll() // keep workers away while we stage the job
	jobID, err := s.Submit(context.Background(), submitReq("track-1"))
	require.NoError(t, err)

	require.NoError(t, s.PauseJob(jobID))
	s.ResumeAll()

	time.Sleep(30 * time.Millisecond)
	snapshot, err := s.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPaused, snapshot.Status)

	require.NoError(t, s.ResumeJob(jobID))
	waitForStatus(t, s, jobID, queue.StatusCompleted)
}

func TestResumeUnknownJobIsNoOp(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	s, _ := startScheduler(t, testConfig(client))

	assert.NoError(t, s.ResumeJob("no-such-job"))
	assert.ErrorIs(t, s.PauseJob("no-such-job"), ErrUnknownJob)
	_, err := s.Status("no-such-job")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestSetMaxConcurrentAtRuntime(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	s, _ := startScheduler(t, testConfig(client))

	s.SetMaxConcurrent(5)
	assert.Equal(t, 5, s.MaxConcurrent())
	s.SetMaxConcurrent(0) // clamps to a sane floor
	assert.Equal(t, 1, s.MaxConcurrent())
}

func TestOpenBreakerFailsSearchesFast(t *testing.T) {
	client := &fakeClient{results: goodResults(1)}
	client.searchErr = soulseek.Transient(errors.New("daemon unreachable"))

	cfg := testConfig(client)
	cfg.FailureThreshold = 2
	s, _ := startScheduler(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := s.Submit(context.Background(), submitReq("t"))
		require.ErrorContains(t, err, "daemon unreachable")
	}

	// breaker is open now: the client must not be invoked anymore
	client.mu.Lock()
	client.searchErr = nil
	client.mu.Unlock()
	_, err := s.Submit(context.Background(), submitReq("t"))
	assert.ErrorContains(t, err, "circuit breaker is open")
}
