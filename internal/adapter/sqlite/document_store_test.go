package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	s, err := NewDocumentStore(filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Record(ctx, domain.Document{OwnerID: "alice", Title: "handbook", Source: "/tmp/handbook.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.OwnerID)
	assert.Equal(t, "handbook", doc.Title)
	assert.Equal(t, domain.StatusProcessing, doc.Status)
	assert.False(t, doc.CreatedAt.IsZero())

	require.NoError(t, s.UpdateStatus(ctx, id, domain.StatusPartial, "cancelled", 2, 40))
	doc, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, doc.Status)
	assert.Equal(t, "cancelled", doc.StatusDetail)
	assert.Equal(t, 2, doc.ChunkCount)
}

func TestDocumentStore_OwnerConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Record(ctx, domain.Document{ID: "doc-1", OwnerID: "alice"})
	require.NoError(t, err)

	_, err = s.Record(ctx, domain.Document{ID: "doc-1", OwnerID: "bob"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	doc, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.OwnerID)

	_, err = s.Record(ctx, domain.Document{ID: "doc-1", OwnerID: "alice", Title: "renamed"})
	require.NoError(t, err)
	doc, _ = s.Get(ctx, "doc-1")
	assert.Equal(t, "renamed", doc.Title)
}

func TestDocumentStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"a1", "a2"} {
		_, err := s.Record(ctx, domain.Document{ID: id, OwnerID: "alice"})
		require.NoError(t, err)
	}
	_, err := s.Record(ctx, domain.Document{ID: "b1", OwnerID: "bob"})
	require.NoError(t, err)

	docs, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, s.Delete(ctx, "a1"))
	_, err = s.Get(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.UpdateStatus(ctx, "a1", domain.StatusFailed, "", 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.db")

	s, err := NewDocumentStore(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), domain.Document{ID: "keep", OwnerID: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "keep")
	assert.NoError(t, err)
}
