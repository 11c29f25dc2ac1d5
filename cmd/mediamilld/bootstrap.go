package main

import (
	"log/slog"

	"mediamill/internal/acquiring"
	"mediamill/internal/config"
	"mediamill/internal/daemon"
	"mediamill/internal/queue"
	"mediamill/internal/transcoding"
	"mediamill/internal/workflow"
	"mediamill/internal/workspace"
)

// buildDaemon wires the workspace, stage handlers, and workflow manager into
// a daemon ready to start.
func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	ws := workspace.NewManager(cfg, logger)
	stages := workflow.StageSet{
		Acquire:   acquiring.NewAcquirer(cfg, store, ws, logger),
		Transcode: transcoding.NewTranscoder(cfg, store, ws, logger),
	}
	wf := workflow.NewManager(cfg, store, ws, stages, logger)
	return daemon.New(cfg, store, ws, wf, logger)
}
