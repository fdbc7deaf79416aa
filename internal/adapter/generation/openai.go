package generation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"docrag/internal/port"
)

// OpenAIGenerator calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIGenerator struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

var _ port.Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator reads the API key from apiKeyEnv. An empty variable name
// sends no Authorization header, for self-hosted servers.
func NewOpenAIGenerator(baseURL, model, apiKeyEnv string, timeout time.Duration) (*OpenAIGenerator, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
		}
	}
	return &OpenAIGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.GenerateResult, error) {
	prompt, err := RenderPrompt(req.Question, req.Context)
	if err != nil {
		return port.GenerateResult{}, failed(g.model, err)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	headers := map[string]string{}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	var out chatResponse
	err = postJSON(ctx, g.client, g.baseURL+"/chat/completions", headers, chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}, &out)
	if err != nil {
		return port.GenerateResult{}, failed(g.model, err)
	}
	if out.Error != nil {
		return port.GenerateResult{}, failed(g.model, fmt.Errorf("API error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return port.GenerateResult{}, failed(g.model, fmt.Errorf("API returned no choices"))
	}

	model := out.Model
	if model == "" {
		model = g.model
	}
	return port.GenerateResult{Text: out.Choices[0].Message.Content, Model: model}, nil
}

func (g *OpenAIGenerator) ModelName() string {
	return g.model
}
