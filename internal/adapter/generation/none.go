package generation

import (
	"context"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// Disabled is the generator for retrieval-only deployments. Every call fails
// with ErrGenerationFailed.
type Disabled struct{}

var _ port.Generator = Disabled{}

func (Disabled) Generate(ctx context.Context, req port.GenerateRequest) (port.GenerateResult, error) {
	return port.GenerateResult{}, domain.NewError(domain.ErrGenerationFailed, "generation is disabled", nil)
}

func (Disabled) ModelName() string {
	return "none"
}
