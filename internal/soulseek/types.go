// Package soulseek is the boundary to the external peer-network
// search/download daemon. The engine only depends on the Client
// interface and the transient/permanent error split; the HTTP
// implementation targets a slskd instance.
package soulseek

import (
	"context"
	"errors"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
)

// Client is the external search/download collaborator.
type Client interface {
	// Search runs a network search and returns the raw hits. May fail
	// transiently (network, rate limit) or permanently.
	Search(ctx context.Context, query string) ([]ranker.RawResult, error)

	// Download fetches the candidate's file. It must honor ctx
	// cancellation promptly, mid-transfer included. onProgress, when
	// non-nil, receives the cumulative byte count.
	Download(ctx context.Context, candidate ranker.ScoredCandidate, onProgress func(int64)) error
}

// TransientError marks a failure worth retrying: network hiccups,
// timeouts, rate limits, disconnected peers.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix, typically a
// candidate that is no longer offered by its peer.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent. Anything else,
// unclassified errors included, is treated as transient so flaky
// failures get their retry budget.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
