package ipc

import (
	"time"

	"mediamill/internal/queue"
)

// JobView is the wire representation of a queue job.
type JobView struct {
	ID              int64   `json:"id"`
	Reference       string  `json:"reference"`
	OutputFormat    string  `json:"output_format"`
	Status          string  `json:"status"`
	Attempts        int     `json:"attempts"`
	NextAttemptAt   string  `json:"next_attempt_at,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	FinalPath       string  `json:"final_path,omitempty"`
	ProgressStage   string  `json:"progress_stage,omitempty"`
	ProgressPercent float64 `json:"progress_percent"`
	ProgressMessage string  `json:"progress_message,omitempty"`
	BytesFetched    int64   `json:"bytes_fetched"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	PublishedAt     string  `json:"published_at,omitempty"`
	CancelRequested bool    `json:"cancel_requested,omitempty"`
}

// FromJob converts a queue job into its wire representation.
func FromJob(job *queue.Job) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		ID:              job.ID,
		Reference:       job.Reference,
		OutputFormat:    string(job.OutputFormat),
		Status:          string(job.Status),
		Attempts:        job.Attempts,
		ErrorKind:       job.ErrorKind,
		ErrorMessage:    job.ErrorMessage,
		FinalPath:       job.FinalPath,
		ProgressStage:   job.ProgressStage,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		BytesFetched:    job.BytesFetched,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
		CancelRequested: job.CancelRequested,
	}
	if job.NextAttemptAt != nil {
		view.NextAttemptAt = job.NextAttemptAt.Format(time.RFC3339)
	}
	if job.PublishedAt != nil {
		view.PublishedAt = job.PublishedAt.Format(time.RFC3339)
	}
	return view
}

// StageHealth describes readiness of a pipeline stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// SubmitRequest enqueues a new job.
type SubmitRequest struct {
	Reference string `json:"reference"`
	Format    string `json:"format"`
}

// SubmitResponse returns the enqueued job.
type SubmitResponse struct {
	Job JobView `json:"job"`
}

// StopRequest stops daemon processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon status information.
type StatusResponse struct {
	Running        bool               `json:"running"`
	QueueStats     map[string]int     `json:"queue_stats"`
	LastError      string             `json:"last_error,omitempty"`
	LockPath       string             `json:"lock_path"`
	QueueDBPath    string             `json:"queue_db_path"`
	StageHealth    []StageHealth      `json:"stage_health"`
	Dependencies   []DependencyStatus `json:"dependencies"`
	WorkspaceBytes int64              `json:"workspace_bytes"`
	FreeDiskBytes  uint64             `json:"free_disk_bytes"`
	PID            int                `json:"pid"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// QueueDescribeRequest fetches a single job by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains a single job.
type QueueDescribeResponse struct {
	Job JobView `json:"job"`
}

// CancelRequest requests cancellation of a job.
type CancelRequest struct {
	ID int64 `json:"id"`
}

// CancelResponse returns the job after the cancellation request.
type CancelResponse struct {
	Job JobView `json:"job"`
}

// QueueRetryRequest retries failed jobs. Empty list means all failed jobs.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports number of retried jobs.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueRemoveRequest removes a job by id.
type QueueRemoveRequest struct {
	ID int64 `json:"id"`
}

// QueueRemoveResponse reports whether the job was removed.
type QueueRemoveResponse struct {
	Removed bool `json:"removed"`
}

// QueueClearRequest removes all jobs.
type QueueClearRequest struct{}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearCompletedRequest removes completed jobs.
type QueueClearCompletedRequest struct{}

// QueueClearCompletedResponse reports number of removed entries.
type QueueClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearFailedRequest removes failed jobs.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed entries.
type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueResetRequest rolls in-flight jobs back to their previous stage.
type QueueResetRequest struct{}

// QueueResetResponse reports number of jobs reset.
type QueueResetResponse struct {
	Updated int `json:"updated"`
}

// QueueHealthRequest fetches aggregate diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse reports queue health information.
type QueueHealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
