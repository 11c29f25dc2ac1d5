package acquiring_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediamill/internal/acquiring"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/testsupport"
	"mediamill/internal/workspace"
)

func TestHTTPFetcherDownloadsAndReportsProgress(t *testing.T) {
	payload := strings.Repeat("abc123", 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "Mediamill/test" {
			t.Errorf("unexpected user agent %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	fetcher := acquiring.NewHTTPFetcher("Mediamill/test", "secret")
	dest := filepath.Join(t.TempDir(), "out.part")
	job := &queue.Job{ID: 1, Reference: server.URL, OutputFormat: queue.FormatAudio}

	err := fetcher.Fetch(context.Background(), job, dest, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("payload mismatch: got %d bytes", len(got))
	}
}

func TestHTTPFetcherClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusGone, services.ErrNotFound},
		{http.StatusForbidden, services.ErrPermanent},
		{http.StatusUnauthorized, services.ErrPermanent},
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusInternalServerError, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusTeapot, services.ErrPermanent},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		fetcher := acquiring.NewHTTPFetcher("", "")
		dest := filepath.Join(t.TempDir(), "out.part")
		job := &queue.Job{ID: 1, Reference: server.URL}

		err := fetcher.Fetch(context.Background(), job, dest, nil)
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected marker %v, got %v", tc.status, tc.marker, err)
		}
		if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
			t.Fatalf("status %d: partial file should be removed", tc.status)
		}
	}
}

func TestHTTPFetcherTimeoutCleansPartialWrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	fetcher := acquiring.NewHTTPFetcher("", "")
	dest := filepath.Join(t.TempDir(), "out.part")
	job := &queue.Job{ID: 1, Reference: server.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := fetcher.Fetch(ctx, job, dest, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("timeouts must be retryable")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("partial file should be removed after timeout")
	}
}

func TestCommandFetcherStreamsStdout(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fetch.sh")
	testsupport.WriteScript(t, script, `printf 'media-bytes-%s' "$1"`)

	fetcher := acquiring.NewCommandFetcher(script, nil, time.Second)
	dest := filepath.Join(dir, "out.part")
	job := &queue.Job{ID: 1, Reference: "ref-1"}

	if err := fetcher.Fetch(context.Background(), job, dest, nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != "media-bytes-ref-1" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCommandFetcherFailureIncludesStderrTail(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fetch.sh")
	testsupport.WriteScript(t, script, `echo "login required" >&2; exit 1`)

	fetcher := acquiring.NewCommandFetcher(script, nil, time.Second)
	dest := filepath.Join(dir, "out.part")
	job := &queue.Job{ID: 1, Reference: "ref"}

	err := fetcher.Fetch(context.Background(), job, dest, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "login required") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("partial file should be removed on failure")
	}
}

func TestAcquirerEndToEnd(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ws := workspace.NewManager(cfg, logging.NewNop())
	acquirer := acquiring.NewAcquirer(cfg, store, ws, logging.NewNop())
	ctx := context.Background()

	job := testsupport.NewJob(t, store, server.URL, queue.FormatAudio)

	if err := acquirer.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if job.TempPath == "" {
		t.Fatal("expected temp path after Prepare")
	}
	if err := acquirer.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if job.BytesFetched != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), job.BytesFetched)
	}
	info, err := os.Stat(job.TempPath)
	if err != nil {
		t.Fatalf("fetched file missing: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Fatalf("unexpected size %d", info.Size())
	}
}

func TestAcquirerHealthCheckDetectsMissingCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Source.Tool = "command"
	cfg.Source.FetchCommand = "definitely-not-installed-anywhere"
	store := testsupport.MustOpenStore(t, cfg)
	ws := workspace.NewManager(cfg, logging.NewNop())
	acquirer := acquiring.NewAcquirer(cfg, store, ws, logging.NewNop())

	health := acquirer.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy stage for missing command")
	}
	if !strings.Contains(health.Detail, "definitely-not-installed-anywhere") {
		t.Fatalf("expected command name in detail, got %q", health.Detail)
	}
}
