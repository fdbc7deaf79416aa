package port

import "context"

// Embedder generates vector embeddings for text.
// Implementations must be safe for concurrent use, and EmbedMany must return
// the same vector for a text as EmbedOne.
type Embedder interface {
	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// EmbedMany embeds texts in order. Returns one vector per input text.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
