package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/queue"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS download_jobs (
	id                     TEXT PRIMARY KEY,
	track_ref              TEXT NOT NULL,
	priority               INTEGER NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL,
	status                 TEXT NOT NULL,
	paused                 BOOLEAN NOT NULL,
	candidate_source       TEXT NOT NULL,
	candidate_filename     TEXT NOT NULL,
	remaining_alternatives INTEGER NOT NULL,
	attempt_count          INTEGER NOT NULL,
	max_retries            INTEGER NOT NULL,
	candidates_tried       INTEGER NOT NULL,
	last_error             TEXT NOT NULL DEFAULT '',
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertJobQuery = `
INSERT INTO download_jobs (
	id, track_ref, priority, created_at, status, paused,
	candidate_source, candidate_filename, remaining_alternatives,
	attempt_count, max_retries, candidates_tried, last_error, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	paused = EXCLUDED.paused,
	candidate_source = EXCLUDED.candidate_source,
	candidate_filename = EXCLUDED.candidate_filename,
	remaining_alternatives = EXCLUDED.remaining_alternatives,
	attempt_count = EXCLUDED.attempt_count,
	candidates_tried = EXCLUDED.candidates_tried,
	last_error = EXCLUDED.last_error,
	updated_at = now()`

// Postgres is a pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connString, ensures the jobs table exists and
// returns the store.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, createJobsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring jobs table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// SaveJob implements Store with an idempotent upsert.
func (p *Postgres) SaveJob(ctx context.Context, s queue.Snapshot) error {
	_, err := p.pool.Exec(ctx, upsertJobQuery,
		s.ID,
		s.TrackRef,
		s.Priority,
		s.CreatedAt,
		string(s.Status),
		s.Paused,
		s.Candidate.SourceID,
		s.Candidate.Filename,
		s.RemainingAlternatives,
		s.AttemptCount,
		s.MaxRetries,
		s.CandidatesTried,
		s.LastError,
	)
	if err != nil {
		return fmt.Errorf("error saving job %s: %w", s.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
