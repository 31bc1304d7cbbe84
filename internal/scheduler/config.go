package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/ranker"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/soulseek"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/store"
)

// Scheduler configuration defaults
const (
	DefaultWorkers       = 4
	DefaultMaxConcurrent = 2
	DefaultMaxRetries    = 3

	DefaultBackoffBase     = 60 * time.Second
	DefaultBackoffMax      = 300 * time.Second
	DefaultDownloadTimeout = 10 * time.Minute

	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second

	// Workers re-check the queue at this interval even without a wake
	// signal, covering backoff re-enqueues and concurrency changes.
	DefaultIdleInterval = 250 * time.Millisecond

	monitorInterval = 15 * time.Second
)

// Config holds all configuration for the download scheduler.
type Config struct {
	// Concurrency
	Workers       int
	MaxConcurrent int
	IdleInterval  time.Duration

	// Retry policy
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// External client resilience
	DownloadTimeout  time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Ranking
	Heuristics ranker.FilenameHeuristics

	// Collaborators
	Client     soulseek.Client
	Store      store.Store
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.Heuristics == (ranker.FilenameHeuristics{}) {
		c.Heuristics = ranker.DefaultFilenameHeuristics()
	}
	if c.Store == nil {
		c.Store = store.Noop{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
	return c
}
