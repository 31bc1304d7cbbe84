package soulseek

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

func testClient(url string) *SlskdClient {
	c := NewSlskdClient(url, "test-key")
	c.pollInterval = 2 * time.Millisecond
	c.searchTimeout = 250 * time.Millisecond
	return c
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsPermanent(Transient(base)))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base), "unclassified errors default to transient")
	assert.True(t, errors.Is(Transient(base), base))
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))
}

func TestSearchCollectsPeerFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/searches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/v0/searches/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isComplete": true,
			"fileCount":  2,
			"responses": []map[string]any{
				{
					"username": "peer-1",
					"files": []map[string]any{
						{"filename": "Queen - Bohemian Rhapsody.flac", "size": 50_000_000, "bitRate": 1000, "length": 354},
						{"filename": "Queen - Somebody To Love.mp3", "size": 12_000_000, "bitRate": 320, "length": 296},
					},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	results, err := testClient(srv.URL).Search(context.Background(), "queen")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ranker.RawResult{
		SourceID:      "peer-1",
		Filename:      "Queen - Bohemian Rhapsody.flac",
		SizeBytes:     50_000_000,
		BitrateKbps:   1000,
		LengthSeconds: 354,
	}, results[0])
}

func TestDownloadPollsToCompletion(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/transfers/downloads/peer-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/v0/transfers/downloads/peer-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		state := "InProgress"
		if polls >= 3 {
			state = "Completed, Succeeded"
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"filename": "a.flac", "state": state, "bytesTransferred": polls * 1000},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var lastProgress int64
	candidate := ranker.ScoredCandidate{RawResult: ranker.RawResult{SourceID: "peer-1", Filename: "a.flac", SizeBytes: 3000}}
	err := testClient(srv.URL).Download(context.Background(), candidate, func(n int64) { lastProgress = n })
	require.NoError(t, err)
	assert.Equal(t, int64(3000), lastProgress)
}

func TestDownloadFailureStatesAreClassified(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"gone peer", http.StatusNotFound, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			candidate := ranker.ScoredCandidate{RawResult: ranker.RawResult{SourceID: "peer-1", Filename: "a.flac"}}
			err := testClient(srv.URL).Download(context.Background(), candidate, nil)
			require.Error(t, err)
			assert.Equal(t, tc.permanent, IsPermanent(err))
		})
	}
}

func TestDownloadCancellationReturnsPromptly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/transfers/downloads/peer-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"filename": "a.flac", "state": "InProgress", "bytesTransferred": 1},
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	candidate := ranker.ScoredCandidate{RawResult: ranker.RawResult{SourceID: "peer-1", Filename: "a.flac"}}
	go func() {
		done <- testClient(srv.URL).Download(ctx, candidate, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.False(t, IsPermanent(err))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("download did not return after cancellation")
	}
}
