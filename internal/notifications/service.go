// Package notifications pushes job lifecycle events to an ntfy topic when
// one is configured.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediamill/internal/config"
	"mediamill/internal/queue"
)

const userAgent = "Mediamill/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job *queue.Job) error
	NotifyJobFailed(ctx context.Context, job *queue.Job, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	endpoint := topic
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://ntfy.sh/" + endpoint
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	errors    bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job *queue.Job) error {
	if !n.completed || job == nil {
		return nil
	}
	message := fmt.Sprintf("Ready: %s", strings.TrimSpace(job.Reference))
	if job.FinalPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, job.FinalPath)
	}
	data := payload{
		title:   "Mediamill - Job Complete",
		message: message,
		tags:    []string{"mediamill", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *queue.Job, reason string) error {
	if !n.errors || job == nil {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown failure"
	}
	data := payload{
		title:    "Mediamill - Job Failed",
		message:  fmt.Sprintf("Failed: %s\n%s", strings.TrimSpace(job.Reference), reason),
		tags:     []string{"mediamill", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Mediamill - Test",
		message:  "Notification system test",
		tags:     []string{"mediamill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, *queue.Job) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, *queue.Job, string) error { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
