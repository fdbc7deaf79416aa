package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func TestDocumentStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()

	id, err := s.Record(ctx, domain.Document{OwnerID: "alice", Title: "notes"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, doc.Status)

	require.NoError(t, s.UpdateStatus(ctx, id, domain.StatusCompleted, "", 4, 1200))
	doc, _ = s.Get(ctx, id)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 4, doc.ChunkCount)

	_, err = s.Record(ctx, domain.Document{ID: id, OwnerID: "mallory"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	docs, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, id, domain.StatusFailed, "", 0, 0), domain.ErrNotFound)
}
