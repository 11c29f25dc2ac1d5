// Package acquiring fetches source media into workspace scratch space. It
// implements the first pipeline stage: streaming a reference to a temp file,
// classifying failures as transient or permanent, and cleaning up partial
// writes so retries start from a blank slate.
package acquiring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"mediamill/internal/queue"
	"mediamill/internal/services"
)

// ProgressFunc receives the running byte count of a transfer. Implementations
// must not block; slow consumers drop updates rather than stall the fetch.
type ProgressFunc func(bytesFetched int64)

// Fetcher streams the job's reference into dest.
type Fetcher interface {
	Fetch(ctx context.Context, job *queue.Job, dest string, progress ProgressFunc) error
}

// HTTPFetcher downloads references over HTTP(S).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	authToken string
}

// NewHTTPFetcher builds a fetcher with sane transport defaults. The overall
// transfer deadline comes from the caller's context; the client itself only
// bounds connection setup.
func NewHTTPFetcher(userAgent, authToken string) *HTTPFetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	return &HTTPFetcher{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
		authToken: authToken,
	}
}

// Fetch streams the reference URL to dest. On any failure the partial file
// is removed before the error is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, job *queue.Job, dest string, progress ProgressFunc) (err error) {
	defer func() {
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, job.Reference, nil)
	if reqErr != nil {
		return services.Wrap(services.ErrPermanent, "acquire", "fetch",
			fmt.Sprintf("invalid reference %q", job.Reference), reqErr)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.authToken)
	}

	resp, doErr := f.client.Do(req)
	if doErr != nil {
		return classifyTransportError(doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode)
	}

	out, createErr := os.Create(dest)
	if createErr != nil {
		return services.Wrap(services.ErrIO, "acquire", "fetch", "create temp file", createErr)
	}
	defer out.Close()

	counter := &countingWriter{w: out, progress: progress}
	if _, copyErr := io.Copy(counter, resp.Body); copyErr != nil {
		return classifyTransportError(copyErr)
	}
	if closeErr := out.Close(); closeErr != nil {
		return services.Wrap(services.ErrIO, "acquire", "fetch", "flush temp file", closeErr)
	}
	return nil
}

func classifyStatus(code int) error {
	detail := fmt.Sprintf("origin returned HTTP %d", code)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return services.Wrap(services.ErrNotFound, "acquire", "fetch", detail, nil)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrPermanent, "acquire", "fetch", detail, nil)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return services.Wrap(services.ErrTransient, "acquire", "fetch", detail, nil)
	default:
		return services.Wrap(services.ErrPermanent, "acquire", "fetch", detail, nil)
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "acquire", "fetch", "transfer deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrTransient, "acquire", "fetch", "transfer cancelled", err)
	}
	// Network-level failures (refused, reset, DNS) are worth retrying.
	return services.Wrap(services.ErrTransient, "acquire", "fetch", "transfer failed", err)
}

// countingWriter tallies bytes and pushes the running total to progress.
// Updates are throttled so a fast transfer does not hammer the consumer.
type countingWriter struct {
	w        io.Writer
	progress ProgressFunc
	total    int64
	lastPush time.Time
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.total += int64(n)
	if c.progress != nil && time.Since(c.lastPush) >= 500*time.Millisecond {
		c.lastPush = time.Now()
		c.progress(c.total)
	}
	return n, err
}
