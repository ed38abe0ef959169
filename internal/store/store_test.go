package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/storage/local"
	"github.com/JakeFAU/egp-watch/internal/storage/memory"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	s := New(memory.NewBlobStore(), "", zap.NewNop())
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestLoadCorruptIsEmpty(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"truncated": `[{"project_id": "1"`,
		"object":    `{"project_id":"1"}`,
		"scalars":   `[1, "two"]`,
	} {
		t.Run(name, func(t *testing.T) {
			backend := memory.NewBlobStore()
			backend.Seed(DefaultKey, []byte(content))
			snap, err := New(backend, DefaultKey, nil).Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, snap)
		})
	}
}

type brokenBackend struct{ memory.BlobStore }

func (*brokenBackend) ReadObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func TestLoadPropagatesIOErrors(t *testing.T) {
	t.Parallel()

	_, err := New(&brokenBackend{}, DefaultKey, nil).Load(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}

func TestPersistThenLoadPreservesOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(memory.NewBlobStore(), DefaultKey, nil)
	old := procurement.Snapshot{{"project_id": "1"}, {"project_id": "2"}}
	fresh := []procurement.Record{{"project_id": "4"}, {"project_id": "3"}}

	written, err := s.Persist(ctx, fresh, old)
	require.NoError(t, err)
	assert.True(t, written)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range loaded {
		ids = append(ids, r.ProjectID())
	}
	assert.Equal(t, []string{"4", "3", "1", "2"}, ids)
}

func TestPersistNothingNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := memory.NewBlobStore()
	s := New(backend, DefaultKey, nil)

	written, err := s.Persist(ctx, nil, procurement.Snapshot{})
	require.NoError(t, err)
	assert.True(t, written)
	data, err := backend.ReadObject(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))

	written, err = s.Persist(ctx, nil, procurement.Snapshot{})
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, backend.Writes())
}

func TestPersistWritesReadableThai(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	backend, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	s := New(backend, "data.json", nil)

	rec := procurement.Record{"project_id": "66019", "project_name": "ก่อสร้าง <ถนน> & ท่อ", "sum_price_agree": "1,200,000.00"}
	_, err = s.Persist(ctx, []procurement.Record{rec}, nil)
	require.NoError(t, err)

	data, err := backend.ReadObject(ctx, "data.json")
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "ก่อสร้าง <ถนน> & ท่อ")
	assert.Contains(t, text, "\n  {\n    \"project_id\": \"66019\"")
}

type countingBackend struct {
	*memory.BlobStore
	puts int
}

func (c *countingBackend) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	c.puts++
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return c.BlobStore.PutObject(ctx, path, contentType, bytes.NewReader(data))
}

func TestPersistSkipsWhenSnapshotExistsAndNothingNew(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{BlobStore: memory.NewBlobStore()}
	backend.Seed(DefaultKey, []byte(`[{"project_id":"1"}]`))
	s := New(backend, DefaultKey, nil)

	written, err := s.Persist(context.Background(), []procurement.Record{}, procurement.Snapshot{{"project_id": "1"}})
	require.NoError(t, err)
	assert.False(t, written)
	assert.Zero(t, backend.puts)
}
