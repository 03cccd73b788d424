package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434/api"

// OllamaConfig configures the native Ollama chat adapter.
type OllamaConfig struct {
	// BaseURL of the Ollama API, including the /api suffix.
	BaseURL string
	// Model is the local model name, e.g. "llama3".
	Model string
	// Temperature is passed through as a sampling option when non-zero.
	Temperature float32
	// Timeout for each HTTP request. Local generations can be slow; defaults
	// to five minutes.
	Timeout time.Duration
}

type ollamaProvider struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllama returns a Provider backed by a local Ollama server.
func NewOllama(cfg OllamaConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &ollamaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

// Generate calls POST /api/chat with streaming disabled.
func (p *ollamaProvider) Generate(ctx context.Context, messages []Message) (*Completion, error) {
	body := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
	}
	if p.cfg.Temperature != 0 {
		body.Options = &ollamaOptions{Temperature: p.cfg.Temperature}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(started)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response body: %w", err)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("llm: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("llm: ollama error: %s", out.Error)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("llm: unexpected HTTP status %d", resp.StatusCode)
	}
	if out.Message.Content == "" {
		return nil, ErrEmptyCompletion
	}

	return &Completion{
		Message:      Message{Role: RoleAssistant, Content: out.Message.Content},
		FinishReason: out.DoneReason,
		Usage: TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
			Model:            out.Model,
			LatencyMS:        latency.Milliseconds(),
		},
	}, nil
}
