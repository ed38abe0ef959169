// Package store owns the notification snapshot: loading it, diffing fetched
// records against it, and persisting the merged history.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// DefaultKey is the snapshot object name used when none is configured.
const DefaultKey = "data.json"

// Backend is the object storage holding the snapshot. ReadObject must wrap
// fs.ErrNotExist when the object is absent.
type Backend interface {
	ReadObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Store reads and writes one snapshot object.
type Store struct {
	backend Backend
	key     string
	logger  *zap.Logger
}

// New creates a Store for key inside backend.
func New(backend Backend, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, key: key, logger: logger}
}

// Load returns the persisted snapshot. A missing object, or one that is not a
// JSON array of objects, yields an empty snapshot; other read failures are
// returned.
func (s *Store) Load(ctx context.Context) (procurement.Snapshot, error) {
	data, err := s.backend.ReadObject(ctx, s.key)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no snapshot yet", zap.String("key", s.key))
		return procurement.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.key, err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		s.logger.Warn("snapshot unreadable, treating as empty", zap.String("key", s.key), zap.Error(err))
		return procurement.Snapshot{}, nil
	}
	return snapshot, nil
}

// Persist writes newRecords followed by snapshot when there is anything new.
// With nothing new it only creates an empty snapshot if none exists yet.
// It reports whether a write happened.
func (s *Store) Persist(ctx context.Context, newRecords []procurement.Record, snapshot procurement.Snapshot) (bool, error) {
	if len(newRecords) == 0 {
		exists, err := s.backend.Exists(ctx, s.key)
		if err != nil {
			return false, fmt.Errorf("check snapshot %s: %w", s.key, err)
		}
		if exists {
			return false, nil
		}
	}

	merged := make(procurement.Snapshot, 0, len(newRecords)+len(snapshot))
	merged = append(merged, newRecords...)
	merged = append(merged, snapshot...)

	data, err := encodeSnapshot(merged)
	if err != nil {
		return false, err
	}
	uri, err := s.backend.PutObject(ctx, s.key, "application/json", bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("write snapshot %s: %w", s.key, err)
	}
	s.logger.Info("snapshot written", zap.String("uri", uri), zap.Int("added", len(newRecords)), zap.Int("total", len(merged)))
	return true, nil
}

func decodeSnapshot(data []byte) (procurement.Snapshot, error) {
	var items []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snapshot := make(procurement.Snapshot, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("snapshot entry %d is %T, not an object", i, item)
		}
		snapshot = append(snapshot, procurement.Record(rec))
	}
	return snapshot, nil
}

// encodeSnapshot renders pretty-printed JSON with non-ASCII text left as is.
func encodeSnapshot(snapshot procurement.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
