// Package daemon ties the queue store, workspace, and workflow manager into
// a single-instance background service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"mediamill/internal/config"
	"mediamill/internal/deps"
	"mediamill/internal/logging"
	"mediamill/internal/notifications"
	"mediamill/internal/queue"
	"mediamill/internal/stage"
	"mediamill/internal/workflow"
	"mediamill/internal/workspace"
)

// staleScratchAge bounds how long an orphaned scratch directory may outlive
// its job before the janitor removes it.
const staleScratchAge = 24 * time.Hour

// Daemon coordinates background processing and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	workspace *workspace.Manager
	workflow  *workflow.Manager
	logPath   string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	QueueStats     map[queue.Status]int
	LastError      string
	StageHealth    []stage.Health
	Dependencies   []deps.Status
	QueueDBPath    string
	LockFilePath   string
	WorkspaceBytes int64
	FreeDiskBytes  uint64
	PID            int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, ws *workspace.Manager, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || ws == nil || wf == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, workspace, workflow manager, and logger")
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		workspace: ws,
		workflow:  wf,
		logPath:   filepath.Join(cfg.Paths.LogDir, "mediamill.log"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, rolls back jobs stranded by a previous
// run, and launches the worker pools and the janitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediamill daemon instance is already running")
	}

	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("rolled back jobs from previous run", logging.Int("count", reset))
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.wg.Add(1)
	go d.runJanitor(d.ctx)

	d.running.Store(true)
	d.logger.Info("mediamill daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("mediamill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// runJanitor periodically purges expired artifacts, stale scratch space, and
// old terminal queue rows, and keeps workspace usage under the quota even
// when no new submissions arrive to trigger eviction.
func (d *Daemon) runJanitor(ctx context.Context) {
	defer d.wg.Done()
	interval := time.Duration(d.cfg.Workflow.JanitorInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retention := time.Duration(d.cfg.Workspace.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := d.workspace.PurgeExpired(ctx, staleScratchAge); err != nil {
				d.logger.Warn("workspace purge failed", logging.Error(err))
			} else if removed > 0 {
				d.logger.Info("purged expired workspace entries", logging.Int("count", removed))
			}
			if err := d.workspace.EnforceQuota(ctx); err != nil {
				d.logger.Warn("workspace quota enforcement failed", logging.Error(err))
			}
			if retention <= 0 {
				continue
			}
			cutoff := time.Now().UTC().Add(-retention)
			if removed, err := d.store.DeleteTerminalBefore(ctx, cutoff); err != nil {
				d.logger.Warn("queue retention cleanup failed", logging.Error(err))
			} else if removed > 0 {
				d.logger.Info("pruned old terminal jobs", logging.Int64("count", removed))
			}
		}
	}
}

// Submit validates and enqueues a new job, enforcing the admission bound.
func (d *Daemon) Submit(ctx context.Context, reference, format string) (*queue.Job, error) {
	parsed, ok := queue.ParseFormat(format)
	if !ok {
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	job, err := d.store.Submit(ctx, reference, parsed, d.cfg.Pipeline.PendingLimit)
	if err != nil {
		return nil, err
	}
	d.logger.Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("reference", job.Reference),
		logging.String("format", string(job.OutputFormat)))
	return job, nil
}

// Cancel requests cancellation of a job.
func (d *Daemon) Cancel(ctx context.Context, id int64) (*queue.Job, error) {
	return d.workflow.CancelJob(ctx, id)
}

// GetJob fetches a single job by id.
func (d *Daemon) GetJob(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// ClearQueue removes all jobs.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed jobs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// RemoveJob deletes a single job.
func (d *Daemon) RemoveJob(ctx context.Context, id int64) (bool, error) {
	return d.store.Remove(ctx, id)
}

// ResetStuck rolls in-flight jobs back so they can be claimed again.
func (d *Daemon) ResetStuck(ctx context.Context) (int, error) {
	return d.store.ResetStuckProcessing(ctx)
}

// RetryFailed resets failed jobs (optionally a subset) back to pending.
// An empty id list retries every failed job.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		failed, err := d.store.List(ctx, queue.StatusFailed)
		if err != nil {
			return 0, err
		}
		for _, job := range failed {
			ids = append(ids, job.ID)
		}
	}
	var updated int64
	for _, id := range ids {
		if _, err := d.store.RetryFailed(ctx, id); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// TestNotification sends a test push using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		StageHealth:  d.workflow.StageHealth(ctx),
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
		PID:          os.Getpid(),
	}
	if err := d.workflow.LastError(); err != nil {
		status.LastError = err.Error()
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.QueueStats = stats
	}
	if used, err := d.workspace.Usage(); err == nil {
		status.WorkspaceBytes = used
	}
	if free, err := d.workspace.FreeDiskBytes(); err == nil {
		status.FreeDiskBytes = free
	}
	return status
}
