package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// AnswerOptions are the generation defaults.
type AnswerOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AnswerUseCase composes retrieval with an answer backend.
type AnswerUseCase struct {
	retrieve  *RetrieveUseCase
	generator port.Generator
	opts      AnswerOptions
	logger    *log.Logger
}

func NewAnswerUseCase(retrieve *RetrieveUseCase, generator port.Generator, opts AnswerOptions, logger *log.Logger) *AnswerUseCase {
	return &AnswerUseCase{
		retrieve:  retrieve,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// AskRequest is a retrieval request plus generation overrides.
type AskRequest struct {
	RetrieveRequest

	// Temperature overrides the configured temperature when set.
	Temperature *float64
}

// Ask retrieves context for the question and generates an answer from it.
//
// When generation fails the returned Answer still carries the sources, and
// the error wraps ErrGenerationFailed.
func (u *AnswerUseCase) Ask(ctx context.Context, req AskRequest) (*domain.Answer, error) {
	retrieved, err := u.retrieve.Retrieve(ctx, req.RetrieveRequest)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Question: req.Question,
		Sources:  retrieved.Sources,
	}

	gctx := ctx
	if u.opts.Timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, u.opts.Timeout)
		defer cancel()
	}

	temperature := u.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	start := time.Now()
	out, err := u.generator.Generate(gctx, port.GenerateRequest{
		Question:    req.Question,
		Context:     retrieved.Context,
		Temperature: temperature,
		MaxTokens:   u.opts.MaxTokens,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationFailed) {
			err = domain.NewError(domain.ErrGenerationFailed, u.generator.ModelName(), err)
		}
		answer.GenerationError = err.Error()
		u.logger.Warn().Err(err).Str("owner_id", req.OwnerID).Msg("answer generation failed")
		return answer, err
	}

	answer.Text = out.Text
	answer.Model = out.Model
	answer.Generated = true

	u.logger.Info().
		Str("owner_id", req.OwnerID).
		Str("model", out.Model).
		Int("sources", len(answer.Sources)).
		Dur("elapsed", time.Since(start)).
		Msg("answer generated")

	return answer, nil
}
