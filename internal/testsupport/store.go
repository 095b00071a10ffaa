package testsupport

import (
	"context"
	"testing"

	"queuectl/internal/config"
	"queuectl/internal/queue"
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

// InsertJob stores a pending job with the given id and command, eligible at now.
func InsertJob(t testing.TB, store *queue.Store, id, command string, maxRetries int, now int64) *queue.Job {
	t.Helper()

	job, err := store.InsertJob(context.Background(), queue.NewJob{
		ID:         id,
		Command:    command,
		MaxRetries: maxRetries,
		RunAt:      now,
	}, now)
	if err != nil {
		t.Fatalf("store.InsertJob(%q): %v", id, err)
	}
	return job
}
