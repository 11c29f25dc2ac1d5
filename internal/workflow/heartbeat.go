package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mediamill/internal/logging"
	"mediamill/internal/queue"
)

// HeartbeatMonitor keeps in-flight jobs fresh and reclaims the ones whose
// worker died without rolling them back.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "workflow-heartbeat"),
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStale rolls back in-flight jobs whose heartbeat expired so another
// worker can pick them up.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) error {
	if h.timeout <= 0 {
		return nil
	}
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, h.timeout)
	if err != nil {
		return err
	}
	for _, job := range reclaimed {
		h.logger.Warn("reclaimed stale job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)))
	}
	return nil
}

// RunReclaimLoop periodically reclaims stale jobs until the context ends.
func (h *HeartbeatMonitor) RunReclaimLoop(ctx context.Context) {
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.ReclaimStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"))
			}
		}
	}
}

// StartLoop updates a job's heartbeat until context cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				h.logger.Warn("heartbeat update failed",
					logging.Int64(logging.FieldJobID, jobID),
					logging.Error(err))
			}
		}
	}
}
