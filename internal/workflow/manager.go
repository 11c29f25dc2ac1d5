// Package workflow coordinates the acquisition and transcode worker pools
// over the job queue. It owns claiming, heartbeats, retry scheduling, and
// cancellation of in-flight work.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediamill/internal/config"
	"mediamill/internal/logging"
	"mediamill/internal/notifications"
	"mediamill/internal/queue"
	"mediamill/internal/stage"
	"mediamill/internal/workspace"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Acquire   stage.Handler
	Transcode stage.Handler
}

// Manager runs the pipeline: it claims eligible jobs, drives them through
// their stage handlers, and applies the retry and cancellation policy.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	workspace    *workspace.Manager
	logger       *slog.Logger
	notifier     notifications.Service
	pollInterval time.Duration
	retryLimit   int
	retryBackoff time.Duration

	heartbeat *HeartbeatMonitor
	lanes     []*lane
	inflight  *cancelRegistry

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a pipeline manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, ws *workspace.Manager, stages StageSet, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, ws, stages, notifications.NewService(cfg), logger)
}

// NewManagerWithNotifier constructs a pipeline manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, ws *workspace.Manager, stages StageSet, notifier notifications.Service, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		workspace:    ws,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryLimit:   cfg.Pipeline.RetryLimit,
		retryBackoff: cfg.RetryBackoff(),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		inflight: newCancelRegistry(),
	}
	m.lanes = []*lane{
		{
			name:       "acquire",
			handler:    stages.Acquire,
			claimFrom:  queue.StatusPending,
			processing: queue.StatusAcquiring,
			done:       queue.StatusAcquired,
			workers:    cfg.Pipeline.AcquireWorkers,
			logger:     logging.NewComponentLogger(logger, "workflow-acquire"),
		},
		{
			name:       "transcode",
			handler:    stages.Transcode,
			claimFrom:  queue.StatusAcquired,
			processing: queue.StatusTranscoding,
			done:       queue.StatusCompleted,
			workers:    cfg.Pipeline.TranscodeWorkers,
			logger:     logging.NewComponentLogger(logger, "workflow-transcode"),
		},
	}
	return m
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the most recent processing error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Running reports whether the worker pools are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// StageHealth runs the health check of every configured stage handler.
func (m *Manager) StageHealth(ctx context.Context) []stage.Health {
	healths := make([]stage.Health, 0, len(m.lanes))
	for _, ln := range m.lanes {
		if ln.handler == nil {
			healths = append(healths, stage.Unhealthy(ln.name, "no handler configured"))
			continue
		}
		healths = append(healths, ln.handler.HealthCheck(ctx))
	}
	return healths
}
