package port

import (
	"context"

	"docrag/internal/domain"
)

// DocumentStore persists document records and their ingestion status.
type DocumentStore interface {
	// Record creates or replaces a document record. An empty ID is assigned.
	Record(ctx context.Context, doc domain.Document) (string, error)

	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, detail string, chunkCount, totalChars int) error

	Get(ctx context.Context, id string) (domain.Document, error)

	Delete(ctx context.Context, id string) error

	ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)

	Close() error
}
