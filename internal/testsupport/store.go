package testsupport

import (
	"context"
	"testing"

	"podforge/internal/config"
	"podforge/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a job with the given chunk texts for tests.
func NewJob(t testing.TB, store *jobstore.Store, title string, chunkTexts ...string) *jobstore.Job {
	t.Helper()

	job, err := store.CreateJobWithChunks(context.Background(), title, 0, chunkTexts)
	if err != nil {
		t.Fatalf("store.CreateJobWithChunks: %v", err)
	}
	return job
}
