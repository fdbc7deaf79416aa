package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"docrag/internal/domain"
)

const (
	defaultBatchSize  = 100
	defaultMaxRetries = 3
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. It is
// immutable after construction and safe for concurrent use.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	batchSize  int
	maxRetries int
	limiter    *rate.Limiter
	client     *http.Client
}

// Option configures an OpenAIEmbedder.
type Option func(*OpenAIEmbedder)

// WithDimension overrides the dimension inferred from the model name.
func WithDimension(d int) Option {
	return func(e *OpenAIEmbedder) {
		if d > 0 {
			e.dimension = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(e *OpenAIEmbedder) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRateLimit throttles outgoing requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *OpenAIEmbedder) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *OpenAIEmbedder) {
		if c != nil {
			e.client = c
		}
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(apiKeyEnv, model string, opts ...Option) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", opts...)
}

func NewJinaEmbedder(apiKeyEnv, model string, opts ...Option) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.jina.ai/v1", opts...)
}

// NewOllamaEmbedder talks to Ollama's OpenAI-compatible API, which needs no key.
func NewOllamaEmbedder(model, baseURL string, opts ...Option) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return newEmbedder("ollama", model, baseURL, 120*time.Second, opts...), nil
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, opts ...Option) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return newEmbedder(apiKey, model, baseURL, 60*time.Second, opts...), nil
}

func newEmbedder(apiKey, model, baseURL string, timeout time.Duration, opts ...Option) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		dimension:  knownDimension(model),
		batchSize:  defaultBatchSize,
		maxRetries: defaultMaxRetries,
		client:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func knownDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "jina-embeddings-v3", "mxbai-embed-large":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "all-minilm", "all-MiniLM-L6-v2":
		return 384
	}
	return 1536
}

func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany splits texts into batches and preserves input order.
func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var body []byte
	for attempt := 0; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var retryAfter time.Duration
		body, retryAfter, err = e.post(ctx, jsonData)
		if err == nil {
			break
		}
		if retryAfter < 0 || attempt >= e.maxRetries {
			return nil, err
		}
		if retryAfter == 0 {
			retryAfter = retryDelay(attempt)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryAfter):
		}
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", bodyPreview, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("API returned out of range index %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("API returned no embedding for input %d", i)
		}
		if len(v) != e.dimension {
			return nil, domain.NewError(domain.ErrModelMismatch,
				fmt.Sprintf("model %s returned dimension %d, expected %d", e.model, len(v), e.dimension), nil)
		}
	}

	return embeddings, nil
}

// post sends one request. A non-nil error comes with a retry hint: negative
// means permanent, zero means use the default backoff.
func (e *OpenAIEmbedder) post(ctx context.Context, payload []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, -1, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		var wait time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return nil, wait, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	default:
		return nil, -1, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
}

// retryDelay is exponential from 200ms, capped at 5s.
func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
