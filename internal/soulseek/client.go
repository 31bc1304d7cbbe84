package soulseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

// slskd client tunables
const (
	defaultRateLimit     = 100 // API requests per minute
	defaultSearchTimeout = 30 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	requestTimeout       = 15 * time.Second
)

// SlskdClient talks to a slskd daemon's REST API. All calls share one
// rate limiter so concurrent workers cannot hammer the daemon.
type SlskdClient struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	limiter       *rate.Limiter
	searchTimeout time.Duration
	pollInterval  time.Duration
}

// NewSlskdClient creates a client for the daemon at baseURL,
// authenticating with the X-API-Key header.
func NewSlskdClient(baseURL, apiKey string) *SlskdClient {
	return &SlskdClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: requestTimeout},
		limiter:       rate.NewLimiter(rate.Every(time.Minute/defaultRateLimit), defaultRateLimit),
		searchTimeout: defaultSearchTimeout,
		pollInterval:  defaultPollInterval,
	}
}

type searchRequest struct {
	ID         string `json:"id"`
	SearchText string `json:"searchText"`
}

type searchStateResponse struct {
	ID         string         `json:"id"`
	IsComplete bool           `json:"isComplete"`
	State      string         `json:"state"`
	FileCount  int            `json:"fileCount"`
	Responses  []peerResponse `json:"responses"`
}

type peerResponse struct {
	Username string     `json:"username"`
	Files    []peerFile `json:"files"`
}

type peerFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	BitRate  int    `json:"bitRate"`
	Length   int    `json:"length"`
}

// Search starts a network search and polls it until the daemon reports
// completion or the search timeout elapses; partial results gathered by
// then are returned rather than discarded.
func (c *SlskdClient) Search(ctx context.Context, query string) ([]ranker.RawResult, error) {
	searchID := uuid.NewString()
	body := searchRequest{ID: searchID, SearchText: query}
	if err := c.do(ctx, http.MethodPost, "/api/v0/searches", body, nil); err != nil {
		return nil, fmt.Errorf("starting search: %w", err)
	}

	deadline := time.Now().Add(c.searchTimeout)
	var state searchStateResponse
	for {
		select {
		case <-ctx.Done():
			return nil, Transient(ctx.Err())
		case <-time.After(c.pollInterval):
		}

		path := fmt.Sprintf("/api/v0/searches/%s?includeResponses=true", searchID)
		if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
			return nil, fmt.Errorf("polling search %s: %w", searchID, err)
		}
		if state.IsComplete || time.Now().After(deadline) {
			break
		}
	}

	results := make([]ranker.RawResult, 0, state.FileCount)
	for _, peer := range state.Responses {
		for _, file := range peer.Files {
			results = append(results, ranker.RawResult{
				SourceID:      peer.Username,
				Filename:      file.Filename,
				SizeBytes:     file.Size,
				BitrateKbps:   file.BitRate,
				LengthSeconds: file.Length,
			})
		}
	}
	logger.Debug("Search finished",
		zap.String("query", query),
		zap.String("search_id", searchID),
		zap.Int("results", len(results)))
	return results, nil
}

type downloadRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type transferState struct {
	Filename         string `json:"filename"`
	State            string `json:"state"`
	BytesTransferred int64  `json:"bytesTransferred"`
}

// Download enqueues the transfer on the peer identified by the
// candidate's SourceID and polls it to completion. Cancelling ctx
// removes the transfer from the daemon and returns promptly.
func (c *SlskdClient) Download(ctx context.Context, candidate ranker.ScoredCandidate, onProgress func(int64)) error {
	path := fmt.Sprintf("/api/v0/transfers/downloads/%s", candidate.SourceID)
	body := []downloadRequest{{Filename: candidate.Filename, Size: candidate.SizeBytes}}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("enqueueing download from %s: %w", candidate.SourceID, err)
	}

	for {
		select {
		case <-ctx.Done():
			c.abortTransfer(candidate)
			return Transient(ctx.Err())
		case <-time.After(c.pollInterval):
		}

		var transfers []transferState
		if err := c.do(ctx, http.MethodGet, path, nil, &transfers); err != nil {
			return fmt.Errorf("polling download from %s: %w", candidate.SourceID, err)
		}

		transfer, ok := findTransfer(transfers, candidate.Filename)
		if !ok {
			return Permanent(fmt.Errorf("transfer of %q vanished from peer %s", candidate.Filename, candidate.SourceID))
		}
		if onProgress != nil {
			onProgress(transfer.BytesTransferred)
		}

		switch {
		case strings.EqualFold(transfer.State, "Completed, Succeeded"):
			return nil
		case strings.HasPrefix(transfer.State, "Completed"):
			// Cancelled, TimedOut, Errored or Rejected by the peer
			return Transient(fmt.Errorf("transfer ended in state %q", transfer.State))
		}
	}
}

// abortTransfer tells the daemon to drop the in-flight transfer. Best
// effort with a short independent deadline since the caller's ctx is
// already cancelled.
func (c *SlskdClient) abortTransfer(candidate ranker.ScoredCandidate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path := fmt.Sprintf("/api/v0/transfers/downloads/%s?remove=true", candidate.SourceID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		logger.Warn("Failed to abort transfer",
			zap.String("peer", candidate.SourceID),
			zap.String("filename", candidate.Filename),
			zap.Error(err))
	}
}

func findTransfer(transfers []transferState, filename string) (transferState, bool) {
	for _, t := range transfers {
		if t.Filename == filename {
			return t, true
		}
	}
	return transferState{}, false
}

// do performs one rate-limited API call and decodes the response into
// out when out is non-nil. HTTP status codes map onto the error
// taxonomy: 404/410 are permanent, everything else transient.
func (c *SlskdClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return Transient(err)
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Permanent(fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Permanent(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return Transient(fmt.Errorf("%s %s: rate limited (Retry-After: %s)", method, path, retryAfter))
	default:
		return Transient(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Transient(fmt.Errorf("decoding response: %w", err))
		}
	}
	return nil
}
