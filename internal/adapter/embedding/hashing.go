package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"docrag/internal/port"
)

const bigramWeight = 0.5

// HashingEmbedder maps text to a fixed-size vector by feature hashing its
// terms and adjacent term pairs. It needs no model files or network, is
// deterministic, and is safe for concurrent use.
type HashingEmbedder struct {
	name      string
	dimension int
	tokenizer port.Tokenizer
}

func NewHashingEmbedder(name string, dimension int, tokenizer port.Tokenizer) (*HashingEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("hashing embedder: dimension must be positive, got %d", dimension)
	}
	if name == "" {
		name = fmt.Sprintf("feature-hash-%d", dimension)
	}
	return &HashingEmbedder{name: name, dimension: dimension, tokenizer: tokenizer}, nil
}

func (e *HashingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *HashingEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	acc := make([]float64, e.dimension)
	terms := e.tokenizer.Tokenize(text)
	for i, term := range terms {
		e.add(acc, term, 1)
		if i > 0 {
			e.add(acc, terms[i-1]+" "+term, bigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *HashingEmbedder) add(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	acc[sum%uint64(e.dimension)] += weight
}

func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashingEmbedder) ModelName() string {
	return e.name
}
