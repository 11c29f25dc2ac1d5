package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAcquiring   Status = "acquiring"
	StatusAcquired    Status = "acquired"
	StatusTranscoding Status = "transcoding"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusAcquiring,
	StatusAcquired,
	StatusTranscoding,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusAcquiring:   {},
	StatusTranscoding: {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// Rollback targets used when reclaiming jobs whose worker stopped
// heartbeating. A job never moves backwards past the last stage it finished.
var stageRollbacks = map[Status]Status{
	StatusAcquiring:   StatusPending,
	StatusTranscoding: StatusAcquired,
}

// Format is the requested output flavor of a job.
type Format string

const (
	// FormatAudio extracts the audio track only.
	FormatAudio Format = "audio"
	// FormatVideo keeps video and audio.
	FormatVideo Format = "video"
)

// ParseFormat converts a string into a known Format.
func ParseFormat(value string) (Format, bool) {
	normalized := Format(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case FormatAudio, FormatVideo:
		return normalized, true
	default:
		return "", false
	}
}

// Extension returns the artifact file extension for the format.
func (f Format) Extension() string {
	if f == FormatAudio {
		return ".mp3"
	}
	return ".mp4"
}

// Job represents a pipeline job persisted in SQLite.
type Job struct {
	ID              int64
	Reference       string
	OutputFormat    Format
	Status          Status
	Attempts        int
	NextAttemptAt   *time.Time
	ErrorMessage    string
	ErrorKind       string
	TempPath        string
	FinalPath       string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	BytesFetched    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PublishedAt     *time.Time
	LastHeartbeat   *time.Time
	CancelRequested bool
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (j Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsTerminal returns true once a job can no longer change state.
func (j Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// IsTerminalStatus reports whether a status is one of the terminal states.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// SetProgress updates the progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the classified error.
func (j *Job) SetFailed(kind, message string) {
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.ProgressStage = "Failed"
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.LastHeartbeat = nil
	j.NextAttemptAt = nil
}

// HealthSummary describes aggregated queue counts per key lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
