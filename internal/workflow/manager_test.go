package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediamill/internal/config"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/stage"
	"mediamill/internal/testsupport"
	"mediamill/internal/workflow"
	"mediamill/internal/workspace"
)

type stubStage struct {
	name    string
	health  stage.Health
	execute func(ctx context.Context, job *queue.Job) error

	mu         sync.Mutex
	executions int
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(context.Context, *queue.Job) error { return nil }

func (s *stubStage) Execute(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	s.executions++
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, job)
	}
	return nil
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubStage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []int64
	failed    []int64
}

func (n *recordingNotifier) NotifyJobCompleted(_ context.Context, job *queue.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, job.ID)
	return nil
}

func (n *recordingNotifier) NotifyJobFailed(_ context.Context, job *queue.Job, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job.ID)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

func newManager(t *testing.T, cfg *config.Config, stages workflow.StageSet) (*workflow.Manager, *queue.Store, *recordingNotifier) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	ws := workspace.NewManager(cfg, logging.NewNop())
	notifier := &recordingNotifier{}
	mgr := workflow.NewManagerWithNotifier(cfg, store, ws, stages, notifier, logging.NewNop())
	return mgr, store, notifier
}

func startManager(t *testing.T, mgr *workflow.Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status, timeout time.Duration) *queue.Job {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			job, _ := store.GetByID(context.Background(), id)
			if job != nil {
				t.Fatalf("timed out waiting for %s, job is %s (%s)", want, job.Status, job.ErrorMessage)
			}
			t.Fatalf("timed out waiting for %s", want)
		default:
		}
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestManagerProcessesJobThroughBothStages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	transcode := newStubStage("transcode")
	mgr, store, notifier := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/a.mp4", queue.FormatAudio)
	done := waitForStatus(t, store, job.ID, queue.StatusCompleted, 30*time.Second)

	if acquire.count() != 1 || transcode.count() != 1 {
		t.Fatalf("expected one execution per stage, got acquire=%d transcode=%d", acquire.count(), transcode.count())
	}
	if done.Attempts != 0 {
		t.Fatalf("completed job should carry no attempts, got %d", done.Attempts)
	}
	if done.PublishedAt == nil {
		t.Fatal("completed job should record a publish time")
	}
	if completed, failed := notifier.counts(); completed != 1 || failed != 0 {
		t.Fatalf("expected one completion notification, got completed=%d failed=%d", completed, failed)
	}
}

func TestManagerRetriesTransientFailureThenSucceeds(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	var mu sync.Mutex
	failures := 0
	acquire.execute = func(context.Context, *queue.Job) error {
		mu.Lock()
		defer mu.Unlock()
		if failures < 1 {
			failures++
			return services.Wrap(services.ErrTransient, "acquire", "fetch", "connection reset", nil)
		}
		return nil
	}
	transcode := newStubStage("transcode")
	mgr, store, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/flaky.mp4", queue.FormatAudio)
	done := waitForStatus(t, store, job.ID, queue.StatusCompleted, 30*time.Second)

	if acquire.count() != 2 {
		t.Fatalf("expected two acquire attempts, got %d", acquire.count())
	}
	if done.ErrorKind != "" || done.ErrorMessage != "" {
		t.Fatalf("completed job should carry no error, got %q %q", done.ErrorKind, done.ErrorMessage)
	}
}

func TestManagerFailsPermanentErrorWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	acquire.execute = func(context.Context, *queue.Job) error {
		return services.Wrap(services.ErrPermanent, "acquire", "fetch", "404 from origin", nil)
	}
	transcode := newStubStage("transcode")
	mgr, store, notifier := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/missing.mp4", queue.FormatAudio)
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed, 30*time.Second)

	if acquire.count() != 1 {
		t.Fatalf("permanent failures must not be retried, got %d attempts", acquire.count())
	}
	if transcode.count() != 0 {
		t.Fatal("failed job must never reach the transcode stage")
	}
	if failed.ErrorKind != string(services.KindPermanent) {
		t.Fatalf("expected permanent classification, got %q", failed.ErrorKind)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failed job should carry a human-readable reason")
	}
	if completed, failures := notifier.counts(); completed != 0 || failures != 1 {
		t.Fatalf("expected one failure notification, got completed=%d failed=%d", completed, failures)
	}
}

func TestManagerFailsResourceExhaustionWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	acquire.execute = func(context.Context, *queue.Job) error {
		return services.Wrap(services.ErrResourceExhausted, "acquire", "reserve", "workspace over budget", nil)
	}
	transcode := newStubStage("transcode")
	mgr, store, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/big.mp4", queue.FormatAudio)
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed, 30*time.Second)

	// Exhausted capacity does not clear on its own; burning the retry budget
	// against it only delays the terminal failure.
	if acquire.count() != 1 {
		t.Fatalf("exhausted capacity must fail on the first attempt, got %d executions", acquire.count())
	}
	if failed.ErrorKind != string(services.KindResourceExhausted) {
		t.Fatalf("expected resource_exhausted classification, got %q", failed.ErrorKind)
	}
}

func TestManagerExhaustsRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	cfg.Pipeline.RetryLimit = 2
	acquire := newStubStage("acquire")
	acquire.execute = func(context.Context, *queue.Job) error {
		return services.Wrap(services.ErrTransient, "acquire", "fetch", "still flapping", nil)
	}
	transcode := newStubStage("transcode")
	mgr, store, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/flap.mp4", queue.FormatAudio)
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed, 30*time.Second)

	if acquire.count() != 2 {
		t.Fatalf("expected the retry budget to allow two attempts, got %d", acquire.count())
	}
	if failed.ErrorKind != string(services.KindTransient) {
		t.Fatalf("expected transient classification, got %q", failed.ErrorKind)
	}
}

func TestManagerCancelsInFlightJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	started := make(chan struct{})
	var once sync.Once
	acquire.execute = func(ctx context.Context, _ *queue.Job) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return services.Wrap(services.ErrTransient, "acquire", "fetch", "interrupted", ctx.Err())
	}
	transcode := newStubStage("transcode")
	mgr, store, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})
	startManager(t, mgr)

	job := testsupport.NewJob(t, store, "https://example.com/slow.mp4", queue.FormatAudio)
	select {
	case <-started:
	case <-time.After(30 * time.Second):
		t.Fatal("acquire stage never started")
	}

	if _, err := mgr.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	cancelled := waitForStatus(t, store, job.ID, queue.StatusCancelled, 30*time.Second)
	if cancelled.CancelRequested {
		t.Fatal("finalized job should clear the cancel flag")
	}
	if transcode.count() != 0 {
		t.Fatal("cancelled job must never reach the transcode stage")
	}
}

func TestManagerCancelsWaitingJobImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	transcode := newStubStage("transcode")
	mgr, store, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})

	job := testsupport.NewJob(t, store, "https://example.com/waiting.mp4", queue.FormatAudio)
	cancelled, err := mgr.CancelJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled {
		t.Fatalf("pending jobs should cancel immediately, got %s", cancelled.Status)
	}
	if acquire.count() != 0 {
		t.Fatal("cancelled job must not be picked up")
	}
}

func TestManagerStartRequiresHandlersAndWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(0, 1))
	mgr, _, _ := newManager(t, cfg, workflow.StageSet{
		Acquire:   newStubStage("acquire"),
		Transcode: newStubStage("transcode"),
	})
	if err := mgr.Start(context.Background()); err == nil {
		mgr.Stop()
		t.Fatal("expected Start to reject a lane without workers")
	}

	cfg = testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	mgr, _, _ = newManager(t, cfg, workflow.StageSet{Acquire: newStubStage("acquire")})
	if err := mgr.Start(context.Background()); err == nil {
		mgr.Stop()
		t.Fatal("expected Start to reject a lane without a handler")
	}
}

func TestManagerStageHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	acquire := newStubStage("acquire")
	transcode := newStubStage("transcode")
	transcode.health = stage.Unhealthy("transcode", "ffmpeg missing")
	mgr, _, _ := newManager(t, cfg, workflow.StageSet{Acquire: acquire, Transcode: transcode})

	healths := mgr.StageHealth(context.Background())
	if len(healths) != 2 {
		t.Fatalf("expected two stage healths, got %d", len(healths))
	}
	if !healths[0].Ready || healths[1].Ready {
		t.Fatalf("unexpected readiness: %+v", healths)
	}
	if healths[1].Detail != "ffmpeg missing" {
		t.Fatalf("expected detail to surface, got %q", healths[1].Detail)
	}
}
