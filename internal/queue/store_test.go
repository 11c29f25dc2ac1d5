package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediamill/internal/queue"
	"mediamill/internal/services"
	"mediamill/internal/testsupport"
)

func TestSubmitAndGet(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, err := store.Submit(ctx, "https://example.com/video.mp4", queue.FormatAudio, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job id to be assigned")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %q", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected job to exist")
	}
	if fetched.Reference != "https://example.com/video.mp4" {
		t.Fatalf("unexpected reference %q", fetched.Reference)
	}
	if fetched.OutputFormat != queue.FormatAudio {
		t.Fatalf("unexpected format %q", fetched.OutputFormat)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Submit(ctx, "  ", queue.FormatAudio, 0); err == nil {
		t.Fatal("expected error for empty reference")
	}
	if _, err := store.Submit(ctx, "ref", queue.Format("gif"), 0); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSubmitEnforcesPendingLimit(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Submit(ctx, "ref", queue.FormatVideo, 2); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	_, err := store.Submit(ctx, "ref", queue.FormatVideo, 2)
	if err == nil {
		t.Fatal("expected backpressure rejection")
	}
	if !errors.Is(err, services.ErrBackpressure) {
		t.Fatalf("expected backpressure marker, got %v", err)
	}

	count, err := store.CountByStatus(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("rejected submission must not create a job, got %d pending", count)
	}
}

func TestClaimNextIsFIFO(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "first", queue.FormatAudio)
	testsupport.NewJob(t, store, "second", queue.FormatAudio)

	claimed, err := store.ClaimNext(ctx, queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed job")
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest job %d, got %d", first.ID, claimed.ID)
	}
	if claimed.Status != queue.StatusAcquiring {
		t.Fatalf("expected acquiring status, got %q", claimed.Status)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("claim should record an initial heartbeat")
	}
}

func TestClaimNextReturnsNilWhenEmpty(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	claimed, err := store.ClaimNext(context.Background(), queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil, got job %d", claimed.ID)
	}
}

func TestMarkRetrySchedulesBackoffAndDefersClaim(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "flaky", queue.FormatAudio)
	claimed, err := store.ClaimNext(ctx, queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: job=%v err=%v", claimed, err)
	}

	cause := services.Wrap(services.ErrTransient, "acquire", "fetch", "connection reset", nil)
	if err := store.MarkRetry(ctx, claimed, time.Minute, cause); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}

	job, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected rollback to pending, got %q", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.NextAttemptAt == nil || !job.NextAttemptAt.After(time.Now().UTC()) {
		t.Fatalf("expected future next attempt, got %v", job.NextAttemptAt)
	}
	if job.ErrorKind != string(services.KindTransient) {
		t.Fatalf("unexpected error kind %q", job.ErrorKind)
	}

	deferred, err := store.ClaimNext(ctx, queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if deferred != nil {
		t.Fatalf("backoff should defer the claim, got job %d", deferred.ID)
	}
}

func TestMarkRetryRollsBackTranscodeToAcquired(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "ref", queue.FormatVideo)
	job.Status = queue.StatusTranscoding
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := store.MarkRetry(ctx, job, time.Millisecond, services.ErrTransient); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}
	refreshed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if refreshed.Status != queue.StatusAcquired {
		t.Fatalf("transcode retry must not redo acquisition, got %q", refreshed.Status)
	}
}

func TestMarkStageCompleteResetsAttempts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "ref", queue.FormatAudio)
	job.Status = queue.StatusAcquiring
	job.Attempts = 2
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := store.MarkStageComplete(ctx, job, queue.StatusAcquired); err != nil {
		t.Fatalf("MarkStageComplete failed: %v", err)
	}
	refreshed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if refreshed.Status != queue.StatusAcquired {
		t.Fatalf("unexpected status %q", refreshed.Status)
	}
	if refreshed.Attempts != 0 {
		t.Fatalf("attempts should reset between stages, got %d", refreshed.Attempts)
	}

	if err := store.MarkStageComplete(ctx, refreshed, queue.StatusCompleted); err != nil {
		t.Fatalf("MarkStageComplete failed: %v", err)
	}
	done, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if done.PublishedAt == nil {
		t.Fatal("completion should record publish time")
	}
}

func TestMarkFailedRecordsClassification(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "gone", queue.FormatAudio)
	cause := services.Wrap(services.ErrPermanent, "acquire", "fetch", "404 from origin", nil)
	if err := store.MarkFailed(ctx, job, cause); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	failed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Status != queue.StatusFailed {
		t.Fatalf("unexpected status %q", failed.Status)
	}
	if failed.ErrorKind != string(services.KindPermanent) {
		t.Fatalf("unexpected kind %q", failed.ErrorKind)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected a human-readable failure reason")
	}
}

func TestRequestCancelPendingIsImmediate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "ref", queue.FormatAudio)
	cancelled, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled {
		t.Fatalf("pending job should cancel immediately, got %q", cancelled.Status)
	}
}

func TestRequestCancelInFlightSetsFlag(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "ref", queue.FormatAudio)
	claimed, err := store.ClaimNext(ctx, queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: job=%v err=%v", claimed, err)
	}

	flagged, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if flagged.Status != queue.StatusAcquiring {
		t.Fatalf("in-flight job must stay in its stage, got %q", flagged.Status)
	}
	if !flagged.CancelRequested {
		t.Fatal("expected cancel_requested flag")
	}
}

func TestRequestCancelUnknownJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := store.RequestCancel(context.Background(), 9999)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found marker, got %v", err)
	}
}

func TestRetryFailedResetsJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "ref", queue.FormatVideo)
	if err := store.MarkFailed(ctx, job, services.ErrPermanent); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	retried, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried.Status != queue.StatusPending {
		t.Fatalf("unexpected status %q", retried.Status)
	}
	if retried.Attempts != 0 || retried.ErrorMessage != "" {
		t.Fatalf("expected clean slate, got attempts=%d err=%q", retried.Attempts, retried.ErrorMessage)
	}

	if _, err := store.RetryFailed(ctx, retried.ID); err == nil {
		t.Fatal("expected error retrying a non-failed job")
	}
}

func TestReclaimStaleProcessingRollsBack(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "ref", queue.FormatAudio)
	claimed, err := store.ClaimNext(ctx, queue.StatusPending, queue.StatusAcquiring, time.Hour)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: job=%v err=%v", claimed, err)
	}

	reclaimed, err := store.ReclaimStaleProcessing(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", len(reclaimed))
	}
	if reclaimed[0].Status != queue.StatusPending {
		t.Fatalf("expected rollback to pending, got %q", reclaimed[0].Status)
	}

	fresh, err := store.ReclaimStaleProcessing(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("healthy jobs must not be reclaimed, got %d", len(fresh))
	}
}

func TestClearCompletedLeavesOtherJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "done", queue.FormatAudio)
	if err := store.MarkStageComplete(ctx, done, queue.StatusCompleted); err != nil {
		t.Fatalf("MarkStageComplete failed: %v", err)
	}
	testsupport.NewJob(t, store, "waiting", queue.FormatAudio)

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Reference != "waiting" {
		t.Fatalf("unexpected remaining jobs: %v", jobs)
	}
}

func TestHealthAggregatesCounts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "a", queue.FormatAudio)
	done := testsupport.NewJob(t, store, "b", queue.FormatAudio)
	if err := store.MarkStageComplete(ctx, done, queue.StatusCompleted); err != nil {
		t.Fatalf("MarkStageComplete failed: %v", err)
	}
	failed := testsupport.NewJob(t, store, "c", queue.FormatVideo)
	if err := store.MarkFailed(ctx, failed, services.ErrPermanent); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 {
		t.Fatalf("expected 3 total, got %d", health.Total)
	}
	if health.Pending != 1 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", health)
	}
}

func TestUpdateProgressDoesNotTouchStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "ref", queue.FormatAudio)
	job.SetProgress("Acquiring", "fetching source", 42.5)
	job.BytesFetched = 1024
	if err := store.UpdateProgress(ctx, job); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	refreshed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if refreshed.Status != queue.StatusPending {
		t.Fatalf("progress update must not change status, got %q", refreshed.Status)
	}
	if refreshed.ProgressPercent != 42.5 || refreshed.BytesFetched != 1024 {
		t.Fatalf("unexpected progress: %+v", refreshed)
	}
}
