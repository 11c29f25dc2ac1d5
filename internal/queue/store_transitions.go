package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediamill/internal/services"
)

// ClaimNext atomically claims the next eligible job in the given status,
// moving it to the claimed status. Ordering is first-come-first-served by
// eligibility time, with jobs that waited longer than agingCeiling promoted
// ahead of the rest so retry backoff cannot starve them. Returns nil when no
// job is eligible.
func (s *Store) ClaimNext(ctx context.Context, from, to Status, agingCeiling time.Duration) (*Job, error) {
	if _, ok := statusSet[from]; !ok {
		return nil, fmt.Errorf("unknown status %q", from)
	}
	if _, ok := statusSet[to]; !ok {
		return nil, fmt.Errorf("unknown status %q", to)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	agedCutoff := now.Add(-agingCeiling).Format(time.RFC3339Nano)

	// A waiting job flagged for cancellation has no worker left to observe
	// the flag; finalize it here so it reaches a terminal state instead of
	// sitting unclaimable forever.
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, cancel_requested = 0, next_attempt_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND cancel_requested = 1`,
		StatusCancelled,
		nowStr,
		from,
	); err != nil {
		return nil, fmt.Errorf("finalize cancelled jobs: %w", err)
	}

	for {
		var id int64
		err := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM jobs
             WHERE status = ?
               AND cancel_requested = 0
               AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
             ORDER BY CASE WHEN created_at <= ? THEN 0 ELSE 1 END,
                      COALESCE(next_attempt_at, created_at),
                      id
             LIMIT 1`,
			from,
			nowStr,
			agedCutoff,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			to,
			nowStr,
			nowStr,
			id,
			from,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another worker; try the next candidate.
			continue
		}
		return s.GetByID(ctx, id)
	}
}

// MarkRetry records a transient failure and returns the job to the status
// preceding the failed stage, scheduling the next attempt after the backoff
// delay. The caller decides the delay; attempts are counted per stage.
func (s *Store) MarkRetry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	if job == nil {
		return errors.New("job is nil")
	}
	rollback, ok := stageRollbacks[job.Status]
	if !ok {
		return fmt.Errorf("job %d cannot retry from status %q", job.ID, job.Status)
	}

	next := time.Now().UTC().Add(delay)
	job.Status = rollback
	job.Attempts++
	job.NextAttemptAt = &next
	job.ErrorKind = string(services.Classify(cause))
	job.ErrorMessage = services.Reason(cause)
	job.LastHeartbeat = nil
	return s.Update(ctx, job)
}

// MarkStageComplete moves a job into the given status and resets the retry
// counter so the next stage starts with a fresh attempt budget.
func (s *Store) MarkStageComplete(ctx context.Context, job *Job, to Status) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.Status = to
	job.Attempts = 0
	job.NextAttemptAt = nil
	job.ErrorKind = ""
	job.ErrorMessage = ""
	job.LastHeartbeat = nil
	if to == StatusCompleted {
		now := time.Now().UTC()
		job.PublishedAt = &now
	}
	return s.Update(ctx, job)
}

// MarkFailed records a terminal failure with its classification.
func (s *Store) MarkFailed(ctx context.Context, job *Job, cause error) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.SetFailed(string(services.Classify(cause)), services.Reason(cause))
	return s.Update(ctx, job)
}

// RequestCancel flags a job for cancellation. Pending jobs are cancelled
// immediately; in-flight jobs are flagged and the running worker is expected
// to observe the flag and stop. Terminal jobs are left untouched.
func (s *Store) RequestCancel(ctx context.Context, id int64) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "cancel", fmt.Sprintf("job %d not found", id), nil)
	}
	if job.IsTerminal() {
		return job, nil
	}

	if job.Status == StatusPending || job.Status == StatusAcquired {
		return job, s.MarkCancelled(ctx, job)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		now,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	job.CancelRequested = true
	return job, nil
}

// MarkCancelled moves a job to the cancelled terminal state.
func (s *Store) MarkCancelled(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.Status = StatusCancelled
	job.CancelRequested = false
	job.NextAttemptAt = nil
	job.LastHeartbeat = nil
	job.SetProgress("Cancelled", "cancelled by request", 0)
	return s.Update(ctx, job)
}

// RetryFailed resets a failed job so the pipeline picks it up again from the
// start with a fresh attempt budget.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "retry", fmt.Sprintf("job %d not found", id), nil)
	}
	if job.Status != StatusFailed {
		return nil, services.Wrap(services.ErrPermanent, "queue", "retry",
			fmt.Sprintf("job %d is %s, only failed jobs can be retried", id, job.Status), nil)
	}

	job.Status = StatusPending
	job.Attempts = 0
	job.NextAttemptAt = nil
	job.ErrorKind = ""
	job.ErrorMessage = ""
	job.TempPath = ""
	job.BytesFetched = 0
	job.CancelRequested = false
	job.SetProgress("Queued", "waiting for a worker", 0)
	if err := s.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ReclaimStaleProcessing rolls back in-flight jobs whose heartbeat is older
// than the threshold, returning them to the status preceding their stage so
// another worker can pick them up. Jobs flagged for cancellation are
// finalized as cancelled instead: ClaimNext never hands out flagged jobs, so
// rolling one back would strand it. Returns the reclaimed jobs.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, threshold time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	jobs, err := s.List(ctx, StatusAcquiring, StatusTranscoding)
	if err != nil {
		return nil, err
	}

	var reclaimed []*Job
	for _, job := range jobs {
		heartbeat := job.UpdatedAt
		if job.LastHeartbeat != nil {
			heartbeat = *job.LastHeartbeat
		}
		if heartbeat.After(cutoff) {
			continue
		}
		if job.CancelRequested {
			if err := s.MarkCancelled(ctx, job); err != nil {
				return reclaimed, fmt.Errorf("cancel reclaimed job %d: %w", job.ID, err)
			}
			reclaimed = append(reclaimed, job)
			continue
		}
		rollback, ok := stageRollbacks[job.Status]
		if !ok {
			continue
		}
		res, execErr := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			rollback,
			time.Now().UTC().Format(time.RFC3339Nano),
			job.ID,
			job.Status,
		)
		if execErr != nil {
			return reclaimed, fmt.Errorf("reclaim job %d: %w", job.ID, execErr)
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return reclaimed, fmt.Errorf("rows affected: %w", raErr)
		}
		if affected == 0 {
			continue
		}
		job.Status = rollback
		job.LastHeartbeat = nil
		reclaimed = append(reclaimed, job)
	}
	return reclaimed, nil
}

// ResetStuckProcessing is the startup variant of reclamation: any job left in
// an in-flight status from a previous run is rolled back unconditionally.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int, error) {
	reclaimed, err := s.ReclaimStaleProcessing(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(reclaimed), nil
}
