package acquiring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"mediamill/internal/config"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/stage"
	"mediamill/internal/workspace"
)

// Acquirer is the stage handler that downloads source media into the
// workspace.
type Acquirer struct {
	store     *queue.Store
	workspace *workspace.Manager
	fetcher   Fetcher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAcquirer wires the acquisition stage from configuration, selecting the
// fetcher implementation named by source.tool.
func NewAcquirer(cfg *config.Config, store *queue.Store, ws *workspace.Manager, logger *slog.Logger) *Acquirer {
	var fetcher Fetcher
	switch cfg.Source.Tool {
	case "command":
		fetcher = NewCommandFetcher(cfg.Source.FetchCommand, cfg.Source.FetchArgs, cfg.CancelGrace())
	default:
		fetcher = NewHTTPFetcher(cfg.Source.UserAgent, cfg.Source.AuthToken)
	}
	return &Acquirer{
		store:     store,
		workspace: ws,
		fetcher:   fetcher,
		timeout:   cfg.SourceTimeout(),
		logger:    logging.NewComponentLogger(logger, "acquire"),
	}
}

// Prepare reserves scratch space and records the temp path on the job.
func (a *Acquirer) Prepare(ctx context.Context, job *queue.Job) error {
	reservation, err := a.workspace.Reserve(ctx, job)
	if err != nil {
		return err
	}
	job.TempPath = reservation.TempPath
	job.SetProgress("Acquiring", "fetching source", 0)
	return nil
}

// Execute streams the reference into the reserved temp path. Progress flows
// through a dropping channel so a slow database write can never stall the
// transfer.
func (a *Acquirer) Execute(ctx context.Context, job *queue.Job) error {
	if job.TempPath == "" {
		return services.Wrap(services.ErrPermanent, "acquire", "execute", "job has no reserved temp path", nil)
	}

	fetchCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	updates := make(chan int64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for bytesFetched := range updates {
			job.BytesFetched = bytesFetched
			job.ProgressMessage = fmt.Sprintf("fetched %d bytes", bytesFetched)
			if err := a.store.UpdateProgress(context.Background(), job); err != nil {
				a.logger.Debug("progress update failed", logging.Error(err))
			}
		}
	}()
	report := func(bytesFetched int64) {
		select {
		case updates <- bytesFetched:
		default:
		}
	}

	err := a.fetcher.Fetch(fetchCtx, job, job.TempPath, report)
	close(updates)
	<-done
	if err != nil {
		return err
	}

	info, statErr := os.Stat(job.TempPath)
	if statErr != nil {
		return services.Wrap(services.ErrIO, "acquire", "execute", "stat fetched file", statErr)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrTransient, "acquire", "execute", "fetched file is empty", nil)
	}

	job.BytesFetched = info.Size()
	job.SetProgress("Acquired", "source ready for transcode", 100)
	a.logger.Info("acquired source",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64("bytes", info.Size()))
	return nil
}

// HealthCheck verifies the external fetch command exists when one is
// configured. The HTTP fetcher has no external dependencies.
func (a *Acquirer) HealthCheck(ctx context.Context) stage.Health {
	const name = "acquire"
	if cmd, ok := a.fetcher.(*CommandFetcher); ok {
		if _, err := exec.LookPath(cmd.Binary()); err != nil {
			return stage.Unhealthy(name, fmt.Sprintf("fetch command %q not found in PATH", cmd.Binary()))
		}
	}
	return stage.Healthy(name)
}
