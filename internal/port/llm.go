package port

import "context"

// Generator produces an answer from a question and retrieved context.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)

	// ModelName returns the name of the generation model.
	ModelName() string
}

type GenerateRequest struct {
	Question    string
	Context     string
	Temperature float64
	MaxTokens   int
}

type GenerateResult struct {
	Text  string
	Model string
}
