package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediamill/internal/daemon"
	"mediamill/internal/ipc"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/stage"
	"mediamill/internal/testsupport"
	"mediamill/internal/workflow"
	"mediamill/internal/workspace"
)

type noopStage struct{ name string }

func (n noopStage) Prepare(context.Context, *queue.Job) error { return nil }
func (n noopStage) Execute(context.Context, *queue.Job) error { return nil }
func (n noopStage) HealthCheck(context.Context) stage.Health  { return stage.Healthy(n.name) }

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	ws := workspace.NewManager(cfg, logger)
	stages := workflow.StageSet{Acquire: noopStage{"acquire"}, Transcode: noopStage{"transcode"}}
	mgr := workflow.NewManagerWithNotifier(cfg, store, ws, stages, nil, logger)
	d, err := daemon.New(cfg, store, ws, mgr, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.LogDir, "mediamill.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	submitResp, err := client.Submit("https://example.com/a.mp4", "audio")
	if err != nil {
		t.Fatalf("Submit RPC failed: %v", err)
	}
	if submitResp.Job.ID == 0 || submitResp.Job.Status != string(queue.StatusPending) {
		t.Fatalf("unexpected submitted job: %+v", submitResp.Job)
	}
	if _, err := client.Submit("https://example.com/a.mp4", "vinyl"); err == nil {
		t.Fatal("expected invalid format to be rejected over RPC")
	}

	describe, err := client.QueueDescribe(submitResp.Job.ID)
	if err != nil {
		t.Fatalf("QueueDescribe RPC failed: %v", err)
	}
	if describe.Job.Reference != "https://example.com/a.mp4" {
		t.Fatalf("unexpected described job: %+v", describe.Job)
	}

	failedJob := testsupport.NewJob(t, store, "https://example.com/b.mp4", queue.FormatVideo)
	failedJob.Status = queue.StatusAcquiring
	cause := services.Wrap(services.ErrPermanent, "acquire", "fetch", "gone", nil)
	if err := store.MarkFailed(ctx, failedJob, cause); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	list, err := client.QueueList([]string{string(queue.StatusFailed)})
	if err != nil {
		t.Fatalf("QueueList RPC failed: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != failedJob.ID {
		t.Fatalf("unexpected failed listing: %+v", list.Jobs)
	}
	if _, err := client.QueueList([]string{"nonsense"}); err == nil {
		t.Fatal("expected unknown status filter to be rejected")
	}

	retry, err := client.QueueRetry(nil)
	if err != nil {
		t.Fatalf("QueueRetry RPC failed: %v", err)
	}
	if retry.Updated != 1 {
		t.Fatalf("expected one retried job, got %d", retry.Updated)
	}

	cancelResp, err := client.Cancel(submitResp.Job.ID)
	if err != nil {
		t.Fatalf("Cancel RPC failed: %v", err)
	}
	if cancelResp.Job.Status != string(queue.StatusCancelled) {
		t.Fatalf("expected immediate cancellation for waiting job, got %s", cancelResp.Job.Status)
	}

	health, err := client.QueueHealth()
	if err != nil {
		t.Fatalf("QueueHealth RPC failed: %v", err)
	}
	if health.Total != 2 || health.Cancelled != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("daemon was never started, status should report not running")
	}
	if len(status.StageHealth) != 2 {
		t.Fatalf("expected two stage healths, got %+v", status.StageHealth)
	}

	cleared, err := client.QueueClear()
	if err != nil {
		t.Fatalf("QueueClear RPC failed: %v", err)
	}
	if cleared.Removed != 2 {
		t.Fatalf("expected two removed jobs, got %d", cleared.Removed)
	}
}
