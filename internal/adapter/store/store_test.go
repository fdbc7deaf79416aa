package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/config"
	"docrag/internal/domain"
)

func openTestStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	return s
}

func entry(doc, owner string, idx int, vec ...float32) domain.IndexEntry {
	return domain.IndexEntry{
		Key:    domain.ChunkKey(doc, idx),
		Vector: vec,
		Text:   "text of " + domain.ChunkKey(doc, idx),
		Metadata: domain.ChunkMetadata{
			DocumentID: doc, OwnerID: owner, ChunkIndex: idx,
			StartChar: 0, EndChar: 5, Length: 5, ContentHash: "h", ModelID: "m1",
		},
	}
}

func TestBoltVectorIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s := openTestStore(t, path)
	idx, err := NewBoltVectorIndex(s.DB())
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []domain.IndexEntry{
		entry("d1", "alice", 0, 1, 0, 0),
		entry("d1", "alice", 1, 0, 1, 0),
		entry("d2", "bob", 0, 0, 0, 1),
	}))
	n, err := idx.DeleteByOwner(ctx, "d2", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()
	idx, err = NewBoltVectorIndex(s.DB())
	require.NoError(t, err)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{Entries: 2, Documents: 1, Owners: 1, Model: "m1", Dimension: 3}, stats)

	hits, err := idx.Search(ctx, domain.VectorQuery{
		Vector: []float32{0, 1, 0}, Model: "m1", TopK: 1,
		Filter: domain.SearchFilter{OwnerID: "alice"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1_1", hits[0].Key)
	assert.Equal(t, "text of d1_1", hits[0].Text)
	assert.Equal(t, 1, hits[0].Metadata.ChunkIndex)

	err = idx.Upsert(ctx, []domain.IndexEntry{entry("d3", "alice", 0, 1, 0)})
	assert.ErrorIs(t, err, domain.ErrModelMismatch, "model pin survives reopen")
}

func TestBoltVectorIndex_ReplaceDocumentPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s := openTestStore(t, path)
	idx, err := NewBoltVectorIndex(s.DB())
	require.NoError(t, err)

	var long []domain.IndexEntry
	for i := 0; i < 5; i++ {
		long = append(long, entry("d1", "alice", i, 1, 0, 0))
	}
	_, err = idx.ReplaceDocument(ctx, "d1", "alice", long)
	require.NoError(t, err)

	short := []domain.IndexEntry{entry("d1", "alice", 0, 0, 1, 0), entry("d1", "alice", 1, 0, 1, 0)}
	pruned, err := idx.ReplaceDocument(ctx, "d1", "alice", short)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()
	idx, err = NewBoltVectorIndex(s.DB())
	require.NoError(t, err)

	docs, err := idx.OwnerDocuments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].ChunkCount)
}

func TestBoltVectorIndex_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"))
	idx, err := NewBoltVectorIndex(s.DB())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = idx.Upsert(ctx, []domain.IndexEntry{entry("d1", "alice", 0, 1, 0)})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries, "failed write must not reach memory")
}

func TestBoltStore_Documents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"))
	defer s.Close()

	id, err := s.Record(ctx, domain.Document{OwnerID: "alice", Title: "report.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.UpdateStatus(ctx, id, domain.StatusCompleted, "", 3, 900))

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.OwnerID)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, 900, doc.TotalChars)

	_, err = s.Record(ctx, domain.Document{ID: id, OwnerID: "bob"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	docs, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	docs, err = s.ListByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBoltStore_Migrations(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"))
	defer s.Close()
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	require.NoError(t, s.Migrate(cfg))
	result, err = s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	changed := config.DefaultConfig()
	changed.Chunk.Size = 800
	rebuild, reason, err := s.NeedsRebuild(changed)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.NotEmpty(t, reason)
	assert.NotEqual(t, ComputeConfigHash(cfg), ComputeConfigHash(changed))
}

func TestBoltStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "index.db"))
	defer s.Close()

	idx, err := NewBoltVectorIndex(s.DB())
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []domain.IndexEntry{entry("d1", "alice", 0, 1, 0)}))
	_, err = s.Record(ctx, domain.Document{ID: "d1", OwnerID: "alice"})
	require.NoError(t, err)

	require.NoError(t, s.Clear())

	reloaded, err := NewBoltVectorIndex(s.DB())
	require.NoError(t, err)
	stats, err := reloaded.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{}, stats)

	_, err = s.Get(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
