package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	if c.Paths.WorkspaceDir == c.Paths.LibraryDir {
		return errors.New("paths.workspace_dir and paths.library_dir must differ")
	}
	return nil
}

func (c *Config) validateSource() error {
	switch c.Source.Tool {
	case "http":
	case "command":
		if c.Source.FetchCommand == "" {
			return errors.New("source.fetch_command must be set when source.tool is \"command\"")
		}
	default:
		return fmt.Errorf("source.tool must be \"http\" or \"command\", got %q", c.Source.Tool)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.acquire_workers":       c.Pipeline.AcquireWorkers,
		"pipeline.transcode_workers":     c.Pipeline.TranscodeWorkers,
		"pipeline.retry_backoff_seconds": c.Pipeline.RetryBackoffSeconds,
		"pipeline.aging_seconds":         c.Pipeline.AgingSeconds,
		"pipeline.cancel_grace_seconds":  c.Pipeline.CancelGraceSeconds,
		"source.timeout_seconds":         c.Source.TimeoutSeconds,
		"engine.timeout_seconds":         c.Engine.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Pipeline.PendingLimit < 0 {
		return errors.New("pipeline.pending_limit must be >= 0")
	}
	if c.Pipeline.RetryLimit < 0 {
		return errors.New("pipeline.retry_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval": c.Workflow.QueuePollInterval,
		"workflow.janitor_interval":    c.Workflow.JanitorInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
