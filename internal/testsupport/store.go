package testsupport

import (
	"context"
	"testing"

	"mediamill/internal/config"
	"mediamill/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob submits a job for tests using the provided store. The admission
// bound is disabled so tests can fill the queue freely.
func NewJob(t testing.TB, store *queue.Store, reference string, format queue.Format) *queue.Job {
	t.Helper()

	job, err := store.Submit(context.Background(), reference, format, 0)
	if err != nil {
		t.Fatalf("store.Submit: %v", err)
	}
	return job
}
