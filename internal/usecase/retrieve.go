package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"docrag/internal/adapter/cache"
	"docrag/internal/domain"
	"docrag/internal/port"
)

const contextSeparator = "\n\n"

// RetrieveOptions tunes context assembly.
type RetrieveOptions struct {
	SnippetLength     int
	MinScoreThreshold float64 // Drop hits below this score (0 = disabled)
}

// RetrieveUseCase handles search and context assembly.
type RetrieveUseCase struct {
	embedder port.Embedder
	index    port.VectorIndex
	cache    *cache.QueryCache
	retry    RetryPolicy
	opts     RetrieveOptions
	logger   *log.Logger
}

// NewRetrieveUseCase creates a new retrieve use case. queryCache may be nil.
func NewRetrieveUseCase(
	embedder port.Embedder,
	index port.VectorIndex,
	queryCache *cache.QueryCache,
	retry RetryPolicy,
	opts RetrieveOptions,
	logger *log.Logger,
) *RetrieveUseCase {
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = 200
	}
	return &RetrieveUseCase{
		embedder: embedder,
		index:    index,
		cache:    queryCache,
		retry:    retry,
		opts:     opts,
		logger:   logger,
	}
}

// RetrieveRequest is a question scoped to one owner.
type RetrieveRequest struct {
	Question    string
	OwnerID     string
	TopK        int
	DocumentIDs []string
}

// Retrieve embeds the question, searches the owner's chunks and assembles
// the context in descending score order.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, req RetrieveRequest) (*domain.RetrieveResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Question) == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "question is required", nil)
	}
	if req.OwnerID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner_id is required", nil)
	}
	if req.TopK <= 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("top_k must be positive, got %d", req.TopK), nil)
	}

	key := cache.Key{OwnerID: req.OwnerID, Question: req.Question, TopK: req.TopK, DocumentIDs: req.DocumentIDs}
	var gen uint64
	if u.cache != nil {
		if cached, ok := u.cache.Get(key); ok {
			u.logger.Debug().Str("owner_id", req.OwnerID).Msg("retrieval served from cache")
			return &cached, nil
		}
		gen = u.cache.Generation()
	}

	vector, err := u.embedder.EmbedOne(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	query := domain.VectorQuery{
		Vector: vector,
		Model:  u.embedder.ModelName(),
		TopK:   req.TopK,
		Filter: domain.SearchFilter{OwnerID: req.OwnerID, DocumentIDs: req.DocumentIDs},
	}
	var hits []domain.SearchHit
	err = u.retry.do(ctx, u.logger, "search", func() error {
		var serr error
		hits, serr = u.index.Search(ctx, query)
		return serr
	})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	if u.opts.MinScoreThreshold > 0 {
		hits = u.filterByThreshold(hits)
	}
	if len(hits) == 0 {
		return nil, domain.NewError(domain.ErrNoRelevantContent, "owner "+req.OwnerID, nil)
	}

	result := u.assemble(req.Question, hits, query.Model)
	if u.cache != nil {
		u.cache.Put(key, gen, *result)
	}

	u.logger.Info().
		Str("owner_id", req.OwnerID).
		Int("top_k", req.TopK).
		Int("hits", len(hits)).
		Float64("best_score", hits[0].Score).
		Dur("elapsed", time.Since(start)).
		Msg("retrieval complete")

	return result, nil
}

func (u *RetrieveUseCase) assemble(question string, hits []domain.SearchHit, model string) *domain.RetrieveResult {
	result := &domain.RetrieveResult{
		Question:       question,
		Chunks:         make([]domain.RetrievedChunk, len(hits)),
		Sources:        make([]domain.Source, len(hits)),
		EmbeddingModel: model,
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
		result.Chunks[i] = domain.RetrievedChunk{
			Key:        h.Key,
			DocumentID: h.Metadata.DocumentID,
			ChunkIndex: h.Metadata.ChunkIndex,
			Text:       h.Text,
			Score:      h.Score,
		}
		result.Sources[i] = domain.Source{
			ChunkKey:        h.Key,
			DocumentID:      h.Metadata.DocumentID,
			ChunkIndex:      h.Metadata.ChunkIndex,
			SimilarityScore: h.Score,
			TextSnippet:     Snippet(h.Text, u.opts.SnippetLength),
		}
	}
	result.Context = strings.Join(texts, contextSeparator)
	return result
}

// filterByThreshold removes hits below the minimum score threshold.
func (u *RetrieveUseCase) filterByThreshold(hits []domain.SearchHit) []domain.SearchHit {
	filtered := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= u.opts.MinScoreThreshold {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// Snippet truncates text to n runes, marking the cut with "...".
func Snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
