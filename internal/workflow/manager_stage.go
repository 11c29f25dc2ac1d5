package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
)

// maxRetryBackoff caps the exponential retry delay.
const maxRetryBackoff = 10 * time.Minute

func (m *Manager) processJob(ctx context.Context, ln *lane, job *queue.Job) error {
	requestID := uuid.NewString()
	stageCtx := services.WithRequestID(services.WithStage(services.WithJobID(ctx, job.ID), ln.name), requestID)

	jobCtx, cancelJob := context.WithCancel(stageCtx)
	defer cancelJob()
	m.inflight.add(job.ID, cancelJob)
	defer m.inflight.remove(job.ID)

	logger := logging.WithContext(stageCtx, ln.logger)
	stageStart := time.Now()
	logger.Info("stage started",
		logging.String("reference", job.Reference),
		logging.Int("attempt", job.Attempts+1))

	if err := ln.handler.Prepare(jobCtx, job); err != nil {
		return m.handleStageFailure(ctx, ln, logger, job, err)
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		logger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(jobCtx, ln, job)
	if execErr != nil {
		if ctx.Err() != nil {
			// Daemon shutdown; the job stays in its processing status and is
			// reclaimed on the next start.
			logger.Debug("stage interrupted by shutdown")
			return context.Canceled
		}
		return m.handleStageFailure(ctx, ln, logger, job, execErr)
	}

	if cancelled, err := m.finishIfCancelled(ctx, logger, job); err != nil {
		return err
	} else if cancelled {
		return nil
	}

	if err := m.store.MarkStageComplete(ctx, job, ln.done); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		logger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	logger.Info("stage completed",
		logging.String("next_status", string(job.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))

	if job.Status == queue.StatusCompleted {
		if err := m.notifier.NotifyJobCompleted(ctx, job); err != nil {
			logger.Warn("completion notification failed", logging.Error(err))
		}
	}
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, ln *lane, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := ln.handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// handleStageFailure applies the retry policy to a failed stage attempt. A
// pending cancellation request takes precedence over retry scheduling.
func (m *Manager) handleStageFailure(ctx context.Context, ln *lane, logger *slog.Logger, job *queue.Job, cause error) error {
	m.setLastError(cause)

	if cancelled, err := m.finishIfCancelled(ctx, logger, job); err != nil {
		return err
	} else if cancelled {
		return nil
	}

	if services.Retryable(cause) && job.Attempts+1 < m.retryLimit {
		delay := m.backoffDelay(job.Attempts)
		if err := m.store.MarkRetry(ctx, job, delay, cause); err != nil {
			logger.Error("failed to persist retry", logging.Error(err))
			return err
		}
		logger.Warn("stage failed, retry scheduled",
			logging.Error(cause),
			logging.Int("attempt", job.Attempts),
			logging.Duration("retry_in", delay))
		return cause
	}

	if err := m.store.MarkFailed(ctx, job, cause); err != nil {
		logger.Error("failed to persist failure", logging.Error(err))
		return err
	}
	if err := m.workspace.Release(ctx, job.ID); err != nil {
		logger.Warn("failed to release scratch space", logging.Error(err))
	}
	logger.Error("stage failed permanently",
		logging.Error(cause),
		logging.String("error_kind", job.ErrorKind))
	if err := m.notifier.NotifyJobFailed(ctx, job, job.ErrorMessage); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
	return cause
}

// finishIfCancelled checks for a cancellation request that landed while the
// stage was running and finalizes the job when one did.
func (m *Manager) finishIfCancelled(ctx context.Context, logger *slog.Logger, job *queue.Job) (bool, error) {
	fresh, err := m.store.GetByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if fresh == nil || !fresh.CancelRequested {
		return false, nil
	}

	if err := m.store.MarkCancelled(ctx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
		return false, err
	}
	if err := m.workspace.Release(ctx, job.ID); err != nil {
		logger.Warn("failed to release scratch space", logging.Error(err))
	}
	logger.Info("job cancelled")
	return true, nil
}

func (m *Manager) backoffDelay(attempts int) time.Duration {
	delay := m.retryBackoff
	for i := 0; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}

// CancelJob requests cancellation of a job. Jobs waiting between stages are
// cancelled immediately; in-flight jobs have their stage context cancelled
// and are finalized by the owning worker.
func (m *Manager) CancelJob(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := m.store.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == queue.StatusCancelled {
		if relErr := m.workspace.Release(ctx, job.ID); relErr != nil {
			m.logger.Warn("failed to release scratch space",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(relErr))
		}
		return job, nil
	}
	if job.CancelRequested {
		m.inflight.cancel(id)
	}
	return job, nil
}
