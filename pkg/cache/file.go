package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileBackend stores one JSON document per digest in a directory.
type FileBackend struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileBackend creates the cache directory if needed. A zero ttl keeps
// entries forever.
func NewFileBackend(dir string, ttl time.Duration) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileBackend{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (b *FileBackend) path(digest string) string {
	return filepath.Join(b.dir, digest+".json")
}

// Get loads an entry. Expired entries are removed and reported missing.
func (b *FileBackend) Get(ctx context.Context, digest string) (*Entry, error) {
	data, err := os.ReadFile(b.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if b.ttl > 0 && b.now().Sub(e.CreatedAt) > b.ttl {
		os.Remove(b.path(digest))
		return nil, ErrNotFound
	}
	return &e, nil
}

// Put writes the entry atomically via a temp file and rename.
func (b *FileBackend) Put(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, e.Digest+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), b.path(e.Digest))
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
