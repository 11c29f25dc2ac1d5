package transcoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mediamill/internal/config"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/stage"
	"mediamill/internal/workspace"
)

// Transcoder is the stage handler that converts acquired media and publishes
// the finished artifact.
type Transcoder struct {
	store     *queue.Store
	workspace *workspace.Manager
	engine    *Engine
	logger    *slog.Logger
}

// NewTranscoder wires the transcode stage from configuration.
func NewTranscoder(cfg *config.Config, store *queue.Store, ws *workspace.Manager, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		store:     store,
		workspace: ws,
		engine:    NewEngine(cfg, logger),
		logger:    logging.NewComponentLogger(logger, "transcode"),
	}
}

// Prepare verifies the acquired source is still on disk.
func (t *Transcoder) Prepare(ctx context.Context, job *queue.Job) error {
	if job.TempPath == "" {
		return services.Wrap(services.ErrPermanent, "transcode", "prepare", "job has no acquired source", nil)
	}
	if _, err := os.Stat(job.TempPath); err != nil {
		// The scratch file disappeared between stages (crash or manual
		// cleanup). Retrying the transcode stage would only re-stat the
		// missing file, so fail terminally; the caller can resubmit to
		// re-acquire.
		return services.Wrap(services.ErrNotFound, "transcode", "prepare", "acquired source missing from workspace", err)
	}
	job.SetProgress("Transcoding", "converting media", 0)
	return nil
}

// Execute runs the engine against the acquired source and atomically
// publishes the result. The intermediate output keeps a .part suffix until
// the publish rename, so no reader ever sees an unfinished artifact.
func (t *Transcoder) Execute(ctx context.Context, job *queue.Job) (err error) {
	outputPath := filepath.Join(filepath.Dir(job.TempPath),
		fmt.Sprintf("%d-transcoded%s.part", job.ID, job.OutputFormat.Extension()))
	defer func() {
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	updates := make(chan float64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for percent := range updates {
			job.SetProgress("Transcoding", "converting media", percent)
			if updateErr := t.store.UpdateProgress(context.Background(), job); updateErr != nil {
				t.logger.Debug("progress update failed", logging.Error(updateErr))
			}
		}
	}()
	report := func(percent float64) {
		select {
		case updates <- percent:
		default:
		}
	}

	runErr := t.engine.Transcode(ctx, job.TempPath, outputPath, job.OutputFormat, report)
	close(updates)
	<-done
	if runErr != nil {
		return runErr
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return services.Wrap(services.ErrIO, "transcode", "execute", "stat transcoded file", statErr)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrPermanent, "transcode", "execute", "engine produced an empty artifact", nil)
	}

	finalPath, pubErr := t.workspace.Publish(ctx, job, outputPath)
	if pubErr != nil {
		return pubErr
	}
	if relErr := t.workspace.Release(ctx, job.ID); relErr != nil {
		t.logger.Warn("failed to release scratch space",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(relErr))
	}

	job.FinalPath = finalPath
	job.TempPath = ""
	job.SetProgress("Done", "artifact published", 100)
	t.logger.Info("published transcoded artifact",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("path", finalPath),
		logging.Int64("bytes", info.Size()))
	return nil
}

// HealthCheck verifies the engine binaries are present.
func (t *Transcoder) HealthCheck(ctx context.Context) stage.Health {
	const name = "transcode"
	var missing []string
	for _, binary := range t.engine.Binaries() {
		if _, err := exec.LookPath(binary); err != nil {
			missing = append(missing, binary)
		}
	}
	if len(missing) > 0 {
		return stage.Unhealthy(name, fmt.Sprintf("missing binaries: %s", strings.Join(missing, ", ")))
	}
	return stage.Healthy(name)
}
