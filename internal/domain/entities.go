package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	// StatusPartial marks a document whose chunks were written but whose
	// ingestion did not finish (cancelled or pruning failed).
	StatusPartial DocumentStatus = "partial"
)

type Document struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Title        string         `json:"title,omitempty"`
	Source       string         `json:"source,omitempty"`
	Status       DocumentStatus `json:"status"`
	StatusDetail string         `json:"status_detail,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	TotalChars   int            `json:"total_chars"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Segment is one window of a document as produced by a chunker, before it is
// attributed to a document and owner.
type Segment struct {
	Index     int
	Text      string
	StartChar int
	EndChar   int
	Length    int
}

type Chunk struct {
	DocumentID  string
	OwnerID     string
	Index       int
	Text        string
	StartChar   int
	EndChar     int
	ContentHash string
	Embedding   []float32
}

// ChunkKey renders the index key of a document's chunk.
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// Key is the deterministic index key of the chunk.
func (c Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.Index)
}

// ContentHash returns the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkMetadata is stored with every index entry.
type ChunkMetadata struct {
	DocumentID  string `json:"document_id"`
	OwnerID     string `json:"owner_id"`
	ChunkIndex  int    `json:"chunk_index"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
	Length      int    `json:"length"`
	ContentHash string `json:"content_hash"`
	ModelID     string `json:"model_id"`
}

// Validate reports whether the metadata can be written to an index.
func (m ChunkMetadata) Validate() error {
	switch {
	case m.OwnerID == "":
		return NewError(ErrInvalidInput, "chunk metadata: owner_id is required", nil)
	case m.DocumentID == "":
		return NewError(ErrInvalidInput, "chunk metadata: document_id is required", nil)
	case m.ChunkIndex < 0:
		return NewError(ErrInvalidInput, fmt.Sprintf("chunk metadata: negative chunk_index %d", m.ChunkIndex), nil)
	case m.StartChar < 0 || m.StartChar >= m.EndChar:
		return NewError(ErrInvalidInput, fmt.Sprintf("chunk metadata: invalid span [%d,%d)", m.StartChar, m.EndChar), nil)
	case m.ModelID == "":
		return NewError(ErrInvalidInput, "chunk metadata: model_id is required", nil)
	}
	return nil
}

// IndexEntry is the unit stored in a vector index.
type IndexEntry struct {
	Key      string
	Vector   []float32
	Text     string
	Metadata ChunkMetadata
}

// SearchFilter scopes a search. All conditions must hold.
type SearchFilter struct {
	OwnerID     string
	DocumentIDs []string
}

func (f SearchFilter) Validate() error {
	if f.OwnerID == "" {
		return NewError(ErrInvalidInput, "search filter: owner_id is required", nil)
	}
	return nil
}

// Matches reports whether metadata passes the filter.
func (f SearchFilter) Matches(m ChunkMetadata) bool {
	if m.OwnerID != f.OwnerID {
		return false
	}
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == m.DocumentID {
			return true
		}
	}
	return false
}

type VectorQuery struct {
	Vector []float32
	Model  string
	TopK   int
	Filter SearchFilter
}

type SearchHit struct {
	Key      string
	Text     string
	Metadata ChunkMetadata
	Score    float64
}

type RetrievedChunk struct {
	Key        string  `json:"chunk_key"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type Source struct {
	ChunkKey        string  `json:"chunk_key"`
	DocumentID      string  `json:"document_id"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
	TextSnippet     string  `json:"text_snippet"`
}

type IngestResult struct {
	DocumentID   string   `json:"document_id"`
	ChunkCount   int      `json:"chunk_count"`
	TotalChars   int      `json:"total_chars"`
	Keys         []string `json:"keys"`
	PrunedChunks int      `json:"pruned_chunks,omitempty"`
}

type RetrieveResult struct {
	Question       string           `json:"question"`
	Chunks         []RetrievedChunk `json:"chunks"`
	Sources        []Source         `json:"sources"`
	Context        string           `json:"context"`
	EmbeddingModel string           `json:"embedding_model"`
}

type Answer struct {
	Question        string   `json:"question"`
	Text            string   `json:"answer"`
	Model           string   `json:"model,omitempty"`
	Sources         []Source `json:"sources"`
	Generated       bool     `json:"generated"`
	GenerationError string   `json:"generation_error,omitempty"`
}

type IndexStats struct {
	Entries   int    `json:"entries"`
	Documents int    `json:"documents"`
	Owners    int    `json:"owners"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// OwnerDocumentSummary describes one indexed document of an owner.
type OwnerDocumentSummary struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	ModelID    string `json:"model_id"`
}
