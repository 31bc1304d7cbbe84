// Package store persists job snapshots as a write-through side effect
// of every state transition. Persistence is at-least-once: failures are
// logged by the caller, never fatal, and replaying a snapshot is safe.
package store

import (
	"context"
	"sync"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/queue"
)

// Store receives a snapshot after every observed job transition.
type Store interface {
	SaveJob(ctx context.Context, snapshot queue.Snapshot) error
}

// Noop discards snapshots. Used when no database is configured.
type Noop struct{}

// SaveJob implements Store.
func (Noop) SaveJob(context.Context, queue.Snapshot) error { return nil }

// Memory keeps the latest snapshot per job in memory. Used in tests and
// as a cheap single-process deployment mode.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]queue.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]queue.Snapshot)}
}

// SaveJob implements Store.
func (m *Memory) SaveJob(_ context.Context, snapshot queue.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[snapshot.ID] = snapshot
	return nil
}

// Get returns the latest saved snapshot for id.
func (m *Memory) Get(id string) (queue.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.jobs[id]
	return snapshot, ok
}
