package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/stage"
)

type lane struct {
	name       string
	handler    stage.Handler
	claimFrom  queue.Status
	processing queue.Status
	done       queue.Status
	workers    int
	logger     *slog.Logger
}

// Start launches the worker pools and the stale-job reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	for _, ln := range m.lanes {
		if ln.handler == nil {
			m.mu.Unlock()
			return fmt.Errorf("lane %s has no handler", ln.name)
		}
		if ln.workers <= 0 {
			m.mu.Unlock()
			return fmt.Errorf("lane %s has no workers", ln.name)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	total := 1 // reclaim loop
	for _, ln := range m.lanes {
		total += ln.workers
	}
	m.wg.Add(total)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.heartbeat.RunReclaimLoop(runCtx)
	}()
	for _, ln := range m.lanes {
		for i := 0; i < ln.workers; i++ {
			go m.runWorker(runCtx, ln, i)
		}
	}
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, ln *lane, index int) {
	defer m.wg.Done()
	logger := ln.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx, ln.claimFrom, ln.processing, m.cfg.AgingCeiling())
		if err != nil {
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, ln, job); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	if ctx.Err() != nil {
		return
	}
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"))
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
