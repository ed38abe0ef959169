// Package memory stores blob content in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes int
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	s.writes++
	return fmt.Sprintf("memory://%s", path), nil
}

// ReadObject returns a copy of the stored content, or fs.ErrNotExist.
func (s *BlobStore) ReadObject(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("memory://%s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether path has been written.
func (s *BlobStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[path]
	return ok, nil
}

// Seed stores content without counting it as a write.
func (s *BlobStore) Seed(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
}

// Writes returns how many PutObject calls succeeded.
func (s *BlobStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
