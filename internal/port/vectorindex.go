package port

import (
	"context"

	"docrag/internal/domain"
)

// VectorIndex stores chunk embeddings and answers owner-scoped similarity
// searches. A batch upsert is visible to readers entirely or not at all.
type VectorIndex interface {
	// Upsert inserts or replaces entries by key.
	Upsert(ctx context.Context, entries []domain.IndexEntry) error

	// Search returns at most q.TopK hits matching q.Filter, ordered by score
	// descending and then by key ascending.
	Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error)

	// DeleteByOwner removes every entry of the document that belongs to the
	// owner and returns how many were removed.
	DeleteByOwner(ctx context.Context, documentID, ownerID string) (int, error)

	// PruneDocument removes the owner's entries of the document whose chunk
	// index is >= keep.
	PruneDocument(ctx context.Context, documentID, ownerID string, keep int) (int, error)

	// ReplaceDocument makes entries the complete set of the owner's chunks
	// for the document, removing entries with chunk index >= len(entries) in
	// the same atomic mutation. It returns how many stale entries it removed.
	ReplaceDocument(ctx context.Context, documentID, ownerID string, entries []domain.IndexEntry) (int, error)

	// Stats reports entry, document and owner counts.
	Stats(ctx context.Context) (domain.IndexStats, error)

	// OwnerDocuments summarizes the documents indexed for an owner.
	OwnerDocuments(ctx context.Context, ownerID string) ([]domain.OwnerDocumentSummary, error)

	Close() error
}
