package blob_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"podforge/internal/blob"
	"podforge/internal/services"
)

func TestFSStorePutGetList(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "jobs/j1/chunk_0.mp3", []byte("aaa"), "audio/mpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "jobs/j1/chunk_1.mp3", []byte("bbb"), "audio/mpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := store.Get(ctx, "jobs/j1/chunk_0.mp3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(data, []byte("aaa")) {
		t.Fatalf("Get returned %q", data)
	}

	keys, err := store.List(ctx, "jobs/j1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "jobs/j1/chunk_0.mp3" || keys[1] != "jobs/j1/chunk_1.mp3" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestFSStoreGetMissingKey(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	_, err = store.Get(context.Background(), "nope.mp3")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if err := store.Put(context.Background(), "../escape", []byte("x"), ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// flakyStore fails the first putFailures Put calls and hides keys from
// List until listHides calls have happened.
type flakyStore struct {
	mu          sync.Mutex
	inner       blob.Store
	putFailures int
	listHides   int
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	fail := s.putFailures > 0
	if fail {
		s.putFailures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("upload interrupted")
	}
	return s.inner.Put(ctx, key, data, contentType)
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s *flakyStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	hide := s.listHides > 0
	if hide {
		s.listHides--
	}
	s.mu.Unlock()
	if hide {
		return nil, nil
	}
	return s.inner.List(ctx, prefix)
}

func TestPutVerifiedRetriesUntilVisible(t *testing.T) {
	inner, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	store := &flakyStore{inner: inner, putFailures: 1, listHides: 1}

	if err := blob.PutVerified(context.Background(), store, "a/b.mp3", []byte("audio"), "audio/mpeg"); err != nil {
		t.Fatalf("PutVerified: %v", err)
	}
	data, err := inner.Get(context.Background(), "a/b.mp3")
	if err != nil || !bytes.Equal(data, []byte("audio")) {
		t.Fatalf("expected stored object, got %q err %v", data, err)
	}
}

func TestPutVerifiedGivesUpAfterRetries(t *testing.T) {
	inner, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	store := &flakyStore{inner: inner, putFailures: 10}

	err = blob.PutVerified(context.Background(), store, "a/b.mp3", []byte("audio"), "audio/mpeg")
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
