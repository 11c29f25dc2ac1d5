package config

const (
	defaultWorkspaceDir        = "~/.local/share/mediamill/workspace"
	defaultLibraryDir          = "~/media"
	defaultLogDir              = "~/.local/share/mediamill/logs"
	defaultLogRetentionDays    = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultSourceTool          = "http"
	defaultSourceTimeout       = 900
	defaultSourceUserAgent     = "Mediamill/dev"
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultEngineTimeout       = 1800
	defaultAudioBitrate        = "192k"
	defaultVideoPreset         = "veryfast"
	defaultAcquireWorkers      = 3
	defaultTranscodeWorkers    = 2
	defaultPendingLimit        = 50
	defaultRetryLimit          = 3
	defaultRetryBackoffSeconds = 10
	defaultAgingSeconds        = 300
	defaultCancelGraceSeconds  = 10
	defaultWorkspaceQuotaGiB   = 25
	defaultRetentionDays       = 7
	defaultQueuePollInterval   = 5
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultJanitorInterval     = 300
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			LibraryDir:   defaultLibraryDir,
			LogDir:       defaultLogDir,
		},
		Source: Source{
			Tool:           defaultSourceTool,
			TimeoutSeconds: defaultSourceTimeout,
			UserAgent:      defaultSourceUserAgent,
		},
		Engine: Engine{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultEngineTimeout,
			AudioBitrate:   defaultAudioBitrate,
			VideoPreset:    defaultVideoPreset,
		},
		Pipeline: Pipeline{
			AcquireWorkers:      defaultAcquireWorkers,
			TranscodeWorkers:    defaultTranscodeWorkers,
			PendingLimit:        defaultPendingLimit,
			RetryLimit:          defaultRetryLimit,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			AgingSeconds:        defaultAgingSeconds,
			CancelGraceSeconds:  defaultCancelGraceSeconds,
		},
		Workspace: Workspace{
			QuotaGiB:      defaultWorkspaceQuotaGiB,
			RetentionDays: defaultRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval: defaultQueuePollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			JanitorInterval:   defaultJanitorInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
