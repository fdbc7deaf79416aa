package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phuslu/log"

	"docrag/internal/adapter/cache"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// IndexUseCase handles document ingestion and removal.
type IndexUseCase struct {
	chunker  port.Chunker
	embedder port.Embedder
	index    port.VectorIndex
	docs     port.DocumentStore
	cache    *cache.QueryCache
	retry    RetryPolicy
	logger   *log.Logger

	locks documentLocks
}

// NewIndexUseCase creates a new index use case. docs and queryCache may be nil.
func NewIndexUseCase(
	chunker port.Chunker,
	embedder port.Embedder,
	index port.VectorIndex,
	docs port.DocumentStore,
	queryCache *cache.QueryCache,
	retry RetryPolicy,
	logger *log.Logger,
) *IndexUseCase {
	return &IndexUseCase{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		docs:     docs,
		cache:    queryCache,
		retry:    retry,
		logger:   logger,
	}
}

// IngestRequest carries one already-extracted document.
type IngestRequest struct {
	DocumentID string
	OwnerID    string
	Title      string
	Source     string
	Text       string
}

// Ingest chunks, embeds and stores a document, replacing any earlier version
// of it. Validation happens before anything is written. Ingestions and
// deletions of the same owner's document run one at a time.
func (u *IndexUseCase) Ingest(ctx context.Context, req IngestRequest) (*domain.IngestResult, error) {
	start := time.Now()

	if req.OwnerID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner_id is required", nil)
	}
	if req.DocumentID == "" && u.docs == nil {
		return nil, domain.NewError(domain.ErrInvalidInput, "document_id is required", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.NewError(domain.ErrEmptyDocument, req.DocumentID, nil)
	}

	segments, err := u.chunker.Chunk(req.Text)
	if err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	if len(segments) == 0 {
		return nil, domain.NewError(domain.ErrEmptyDocument, req.DocumentID, nil)
	}
	totalChars := utf8.RuneCountInString(req.Text)

	if req.DocumentID != "" {
		unlock := u.locks.lock(req.OwnerID, req.DocumentID)
		defer unlock()
	}

	docID, prev, err := u.record(ctx, req)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vectors, err := u.embedder.EmbedMany(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		err = fmt.Errorf("embedding: %w", err)
		u.failUnwritten(ctx, docID, prev, err, totalChars)
		return nil, err
	}

	model := u.embedder.ModelName()
	entries := make([]domain.IndexEntry, len(segments))
	keys := make([]string, len(segments))
	for i, s := range segments {
		chunk := domain.Chunk{
			DocumentID:  docID,
			OwnerID:     req.OwnerID,
			Index:       s.Index,
			Text:        s.Text,
			StartChar:   s.StartChar,
			EndChar:     s.EndChar,
			ContentHash: domain.ContentHash(s.Text),
			Embedding:   vectors[i],
		}
		keys[i] = chunk.Key()
		entries[i] = domain.IndexEntry{
			Key:    keys[i],
			Vector: chunk.Embedding,
			Text:   chunk.Text,
			Metadata: domain.ChunkMetadata{
				DocumentID:  docID,
				OwnerID:     req.OwnerID,
				ChunkIndex:  chunk.Index,
				StartChar:   chunk.StartChar,
				EndChar:     chunk.EndChar,
				Length:      s.Length,
				ContentHash: chunk.ContentHash,
				ModelID:     model,
			},
		}
	}

	if err := ctx.Err(); err != nil {
		u.failUnwritten(ctx, docID, prev, err, totalChars)
		return nil, err
	}

	var pruned int
	err = u.retry.do(ctx, u.logger, "replace", func() error {
		var rerr error
		pruned, rerr = u.index.ReplaceDocument(ctx, docID, req.OwnerID, entries)
		return rerr
	})
	if err != nil {
		err = fmt.Errorf("storing chunks: %w", err)
		u.failUnwritten(ctx, docID, prev, err, totalChars)
		return nil, err
	}
	u.invalidate()

	result := &domain.IngestResult{
		DocumentID:   docID,
		ChunkCount:   len(segments),
		TotalChars:   totalChars,
		Keys:         keys,
		PrunedChunks: pruned,
	}

	if err := ctx.Err(); err != nil {
		u.setStatus(ctx, docID, domain.StatusPartial, err, len(segments), totalChars)
		return result, err
	}

	if u.docs != nil {
		if err := u.docs.UpdateStatus(ctx, docID, domain.StatusCompleted, "", len(segments), totalChars); err != nil {
			return result, fmt.Errorf("updating document status: %w", err)
		}
	}

	u.logger.Info().
		Str("document_id", docID).
		Str("owner_id", req.OwnerID).
		Int("chunks", len(segments)).
		Int("pruned", pruned).
		Int("chars", totalChars).
		Dur("elapsed", time.Since(start)).
		Msg("document ingested")

	return result, nil
}

// record marks the document as processing. It also returns the record as it
// was before, if the store had one.
func (u *IndexUseCase) record(ctx context.Context, req IngestRequest) (string, *domain.Document, error) {
	if u.docs == nil {
		return req.DocumentID, nil, nil
	}

	var prev *domain.Document
	if req.DocumentID != "" {
		doc, err := u.docs.Get(ctx, req.DocumentID)
		switch {
		case err == nil:
			prev = &doc
		case !errors.Is(err, domain.ErrNotFound):
			return "", nil, fmt.Errorf("loading document record: %w", err)
		}
	}

	id, err := u.docs.Record(ctx, domain.Document{
		ID:      req.DocumentID,
		OwnerID: req.OwnerID,
		Title:   req.Title,
		Source:  req.Source,
		Status:  domain.StatusProcessing,
	})
	if err != nil {
		return "", nil, fmt.Errorf("recording document: %w", err)
	}
	return id, prev, nil
}

// failUnwritten records a failure that happened before any chunk was
// written. A document whose earlier version is still indexed keeps that
// version's status and counts; only the detail reports the failure.
func (u *IndexUseCase) failUnwritten(ctx context.Context, docID string, prev *domain.Document, cause error, totalChars int) {
	if prev != nil && prev.ChunkCount > 0 &&
		(prev.Status == domain.StatusCompleted || prev.Status == domain.StatusPartial) {
		u.setStatus(ctx, docID, prev.Status, fmt.Errorf("re-ingestion failed: %w", cause), prev.ChunkCount, prev.TotalChars)
		return
	}
	u.setStatus(ctx, docID, domain.StatusFailed, cause, 0, totalChars)
}

// setStatus records a terminal status after a failure. Its own errors are
// logged, since the ingestion error is what the caller needs.
func (u *IndexUseCase) setStatus(ctx context.Context, docID string, status domain.DocumentStatus, cause error, chunks, chars int) {
	u.logger.Warn().Err(cause).Str("document_id", docID).Str("status", string(status)).Msg("ingestion did not complete")
	if u.docs == nil {
		return
	}
	if err := u.docs.UpdateStatus(context.WithoutCancel(ctx), docID, status, cause.Error(), chunks, chars); err != nil {
		u.logger.Error().Err(err).Str("document_id", docID).Msg("failed to update document status")
	}
}

func (u *IndexUseCase) invalidate() {
	if u.cache != nil {
		u.cache.Invalidate()
	}
}

// Delete removes every chunk of the owner's document. It reports true only if
// something was removed. Deletion is never retried.
func (u *IndexUseCase) Delete(ctx context.Context, documentID, ownerID string) (bool, error) {
	if documentID == "" || ownerID == "" {
		return false, domain.NewError(domain.ErrInvalidInput, "document_id and owner_id are required", nil)
	}

	unlock := u.locks.lock(ownerID, documentID)
	defer unlock()

	removed, err := u.index.DeleteByOwner(ctx, documentID, ownerID)
	if removed > 0 {
		u.invalidate()
	}
	if err != nil {
		return false, fmt.Errorf("deleting chunks: %w", err)
	}

	if u.docs != nil {
		doc, err := u.docs.Get(ctx, documentID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return removed > 0, fmt.Errorf("loading document record: %w", err)
		case doc.OwnerID == ownerID:
			if err := u.docs.Delete(ctx, documentID); err != nil {
				return removed > 0, fmt.Errorf("deleting document record: %w", err)
			}
		}
	}

	u.logger.Info().Str("document_id", documentID).Str("owner_id", ownerID).Int("removed", removed).Msg("document deleted")
	return removed > 0, nil
}

// Stats reports index-wide counts.
func (u *IndexUseCase) Stats(ctx context.Context) (domain.IndexStats, error) {
	return u.index.Stats(ctx)
}

// OwnerDocuments summarizes what the index holds for an owner.
func (u *IndexUseCase) OwnerDocuments(ctx context.Context, ownerID string) ([]domain.OwnerDocumentSummary, error) {
	return u.index.OwnerDocuments(ctx, ownerID)
}

// Documents lists the owner's document records, newest first.
func (u *IndexUseCase) Documents(ctx context.Context, ownerID string) ([]domain.Document, error) {
	if u.docs == nil {
		return nil, domain.NewError(domain.ErrInvalidInput, "no document store configured", nil)
	}
	if ownerID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner_id is required", nil)
	}
	return u.docs.ListByOwner(ctx, ownerID)
}
