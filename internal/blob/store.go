// Package blob abstracts the durable object store holding chunk and
// final podcast audio. The filesystem implementation mirrors the
// put/get/list surface of a bucket store; PutVerified layers the
// upload-then-confirm retry loop the engine relies on.
package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"podforge/internal/services"
)

// Store is a durable key-value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

const (
	putVerifyAttempts = 3
	putVerifyDelay    = 500 * time.Millisecond
)

// PutVerified uploads and then confirms the key is listable before
// trusting success, retrying the whole round when either step fails.
// The store is assumed to be only eventually consistent.
func PutVerified(ctx context.Context, store Store, key string, data []byte, contentType string) error {
	err := retry.Do(
		func() error {
			if err := store.Put(ctx, key, data, contentType); err != nil {
				return err
			}
			keys, err := store.List(ctx, key)
			if err != nil {
				return err
			}
			for _, candidate := range keys {
				if candidate == key {
					return nil
				}
			}
			return fmt.Errorf("key %q not visible after put", key)
		},
		retry.Context(ctx),
		retry.Attempts(putVerifyAttempts),
		retry.Delay(putVerifyDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "blob", "put", fmt.Sprintf("key %q", key), err)
	}
	return nil
}

// FSStore implements Store on a local directory tree. Keys map to file
// paths below the root; writes go through a temp file and rename so a
// partially written object is never visible.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", "audio directory is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "blob", "open", fmt.Sprintf("create root %q", root), err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", services.Wrap(services.ErrValidation, "blob", "key", fmt.Sprintf("invalid key %q", key), nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put writes data under key. The content type is accepted for interface
// parity and ignored by the filesystem backend.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrStorage, "blob", "put", key, err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return services.Wrap(services.ErrStorage, "blob", "put", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorage, "blob", "put", key, err)
	}
	return nil
}

// Get returns the object bytes for key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "blob", "get", key, nil)
		}
		return nil, services.Wrap(services.ErrStorage, "blob", "get", key, err)
	}
	return data, nil
}

// List returns all keys beginning with prefix, sorted.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "blob", "list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*FSStore)(nil)
