package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	LibraryDir   string `toml:"library_dir"`
	LogDir       string `toml:"log_dir"`
}

// Source contains configuration for media acquisition.
type Source struct {
	// Tool selects how references are fetched: "http" downloads the
	// reference directly, "command" shells out to the fetch command below.
	Tool           string   `toml:"tool"`
	FetchCommand   string   `toml:"fetch_command"`
	FetchArgs      []string `toml:"fetch_args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	AuthToken      string   `toml:"auth_token"`
	UserAgent      string   `toml:"user_agent"`
}

// Engine contains configuration for the transcode subprocess.
type Engine struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AudioBitrate   string `toml:"audio_bitrate"`
	VideoPreset    string `toml:"video_preset"`
}

// Pipeline contains configuration for scheduling and retry behavior.
type Pipeline struct {
	AcquireWorkers      int `toml:"acquire_workers"`
	TranscodeWorkers    int `toml:"transcode_workers"`
	PendingLimit        int `toml:"pending_limit"`
	RetryLimit          int `toml:"retry_limit"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	AgingSeconds        int `toml:"aging_seconds"`
	CancelGraceSeconds  int `toml:"cancel_grace_seconds"`
}

// Workspace contains configuration for scratch space management.
type Workspace struct {
	QuotaGiB      int `toml:"quota_gib"`
	RetentionDays int `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval int `toml:"queue_poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	JanitorInterval   int `toml:"janitor_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Mediamill.
//
// Configuration sections by subsystem:
//   - Paths: workspace, library, and log directories
//   - Source: acquisition tool and transfer settings
//   - Engine: ffmpeg/ffprobe binaries and transcode limits
//   - Pipeline: worker pool sizes, admission bound, retry policy
//   - Workspace: scratch quota and artifact retention
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon polling intervals and heartbeats
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Engine        Engine        `toml:"engine"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Workspace     Workspace     `toml:"workspace"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediamill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediamill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// SocketPath returns the unix socket location used by the daemon IPC server.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "mediamill.sock")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "mediamill.lock")
}

// SourceTimeout returns the acquisition transfer timeout.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// EngineTimeout returns the hard wall-clock limit for one transcode run.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the base delay between retry attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffSeconds) * time.Second
}

// AgingCeiling returns the wait after which a queued job is promoted ahead
// of newer work.
func (c *Config) AgingCeiling() time.Duration {
	return time.Duration(c.Pipeline.AgingSeconds) * time.Second
}

// CancelGrace returns how long a cancelled subprocess may run after the
// cooperative stop signal before it is killed.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Pipeline.CancelGraceSeconds) * time.Second
}

// WorkspaceQuotaBytes returns the scratch space quota in bytes. Zero means
// the quota is disabled.
func (c *Config) WorkspaceQuotaBytes() int64 {
	return int64(c.Workspace.QuotaGiB) * 1 << 30
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
