package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/port"
)

const defaultMaxTokens = 2000

// OllamaGenerator calls Ollama's /api/generate endpoint without streaming.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ port.Generator = (*OllamaGenerator)(nil)

func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.GenerateResult, error) {
	prompt, err := RenderPrompt(req.Question, req.Context)
	if err != nil {
		return port.GenerateResult{}, failed(g.model, err)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var out ollamaResponse
	err = postJSON(ctx, g.client, g.baseURL+"/api/generate", nil, ollamaRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{Temperature: req.Temperature, NumPredict: maxTokens},
	}, &out)
	if err != nil {
		return port.GenerateResult{}, failed(g.model, err)
	}
	if out.Error != "" {
		return port.GenerateResult{}, failed(g.model, fmt.Errorf("ollama: %s", out.Error))
	}

	model := out.Model
	if model == "" {
		model = g.model
	}
	return port.GenerateResult{Text: out.Response, Model: model}, nil
}

func (g *OllamaGenerator) ModelName() string {
	return g.model
}

// CheckModel reports whether the configured model is pulled on the server,
// along with every model the server has.
func (g *OllamaGenerator) CheckModel(ctx context.Context) (bool, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return false, nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var names []string
	found := false
	for _, m := range tags.Models {
		names = append(names, m.Name)
		if m.Name == g.model || strings.TrimSuffix(m.Name, ":latest") == g.model {
			found = true
		}
	}
	return found, names, nil
}

func failed(model string, err error) error {
	return domain.NewError(domain.ErrGenerationFailed, model, err)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
