package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.applyEnvOverrides()
	c.normalizeSource()
	c.normalizeEngine()
	c.normalizePipeline()
	c.normalizeWorkspace()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

// applyEnvOverrides lets deployments tune the operational knobs without
// editing the config file: pool sizes, admission bound, retry budget,
// retention window, and storage quota. Environment values win over the file;
// malformed or negative values are ignored.
func (c *Config) applyEnvOverrides() {
	envInt("MEDIAMILL_ACQUIRE_WORKERS", &c.Pipeline.AcquireWorkers)
	envInt("MEDIAMILL_TRANSCODE_WORKERS", &c.Pipeline.TranscodeWorkers)
	envInt("MEDIAMILL_PENDING_LIMIT", &c.Pipeline.PendingLimit)
	envInt("MEDIAMILL_RETRY_LIMIT", &c.Pipeline.RetryLimit)
	envInt("MEDIAMILL_RETENTION_DAYS", &c.Workspace.RetentionDays)
	envInt("MEDIAMILL_QUOTA_GIB", &c.Workspace.QuotaGiB)
}

func envInt(name string, target *int) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		return
	}
	*target = parsed
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.Tool = strings.ToLower(strings.TrimSpace(c.Source.Tool))
	if c.Source.Tool == "" {
		c.Source.Tool = defaultSourceTool
	}
	c.Source.FetchCommand = strings.TrimSpace(c.Source.FetchCommand)
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = defaultSourceTimeout
	}
	c.Source.AuthToken = strings.TrimSpace(c.Source.AuthToken)
	if c.Source.AuthToken == "" {
		if value, ok := os.LookupEnv("MEDIAMILL_SOURCE_TOKEN"); ok {
			c.Source.AuthToken = strings.TrimSpace(value)
		}
	}
	c.Source.UserAgent = strings.TrimSpace(c.Source.UserAgent)
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = defaultSourceUserAgent
	}
}

func (c *Config) normalizeEngine() {
	c.Engine.FFmpegBinary = strings.TrimSpace(c.Engine.FFmpegBinary)
	if c.Engine.FFmpegBinary == "" {
		c.Engine.FFmpegBinary = defaultFFmpegBinary
	}
	c.Engine.FFprobeBinary = strings.TrimSpace(c.Engine.FFprobeBinary)
	if c.Engine.FFprobeBinary == "" {
		c.Engine.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = defaultEngineTimeout
	}
	c.Engine.AudioBitrate = strings.TrimSpace(c.Engine.AudioBitrate)
	if c.Engine.AudioBitrate == "" {
		c.Engine.AudioBitrate = defaultAudioBitrate
	}
	c.Engine.VideoPreset = strings.TrimSpace(c.Engine.VideoPreset)
	if c.Engine.VideoPreset == "" {
		c.Engine.VideoPreset = defaultVideoPreset
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.AcquireWorkers <= 0 {
		c.Pipeline.AcquireWorkers = defaultAcquireWorkers
	}
	if c.Pipeline.TranscodeWorkers <= 0 {
		c.Pipeline.TranscodeWorkers = defaultTranscodeWorkers
	}
	if c.Pipeline.PendingLimit < 0 {
		c.Pipeline.PendingLimit = 0
	}
	if c.Pipeline.RetryLimit < 0 {
		c.Pipeline.RetryLimit = 0
	}
	if c.Pipeline.RetryBackoffSeconds <= 0 {
		c.Pipeline.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if c.Pipeline.AgingSeconds <= 0 {
		c.Pipeline.AgingSeconds = defaultAgingSeconds
	}
	if c.Pipeline.CancelGraceSeconds <= 0 {
		c.Pipeline.CancelGraceSeconds = defaultCancelGraceSeconds
	}
}

func (c *Config) normalizeWorkspace() {
	if c.Workspace.QuotaGiB < 0 {
		c.Workspace.QuotaGiB = 0
	}
	if c.Workspace.RetentionDays < 0 {
		c.Workspace.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("MEDIAMILL_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
