package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// DocumentStore keeps document records in memory.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
	now  func() time.Time
}

var _ port.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string]domain.Document),
		now:  time.Now,
	}
}

func (s *DocumentStore) Record(ctx context.Context, doc domain.Document) (string, error) {
	if doc.OwnerID == "" {
		return "", domain.NewError(domain.ErrInvalidInput, "document owner_id is required", nil)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if old, ok := s.docs[doc.ID]; ok {
		if old.OwnerID != doc.OwnerID {
			return "", domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("document %s belongs to another owner", doc.ID), nil)
		}
		doc.CreatedAt = old.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusProcessing
	}
	s.docs[doc.ID] = doc
	return doc.ID, nil
}

func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, detail string, chunkCount, totalChars int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
	}
	doc.Status = status
	doc.StatusDetail = detail
	doc.ChunkCount = chunkCount
	doc.TotalChars = totalChars
	doc.UpdatedAt = s.now()
	s.docs[id] = doc
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
	}
	return doc, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *DocumentStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []domain.Document
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *DocumentStore) Close() error {
	return nil
}
