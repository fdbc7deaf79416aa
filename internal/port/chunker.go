package port

import "docrag/internal/domain"

// Chunker splits document text into overlapping segments.
type Chunker interface {
	Chunk(text string) ([]domain.Segment, error)
}
