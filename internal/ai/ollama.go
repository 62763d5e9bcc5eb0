package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// OllamaClient is a minimal HTTP client for a local Ollama runtime.
type OllamaClient struct {
	httpClient *http.Client
	host       string
	retry      backoff
}

// NewOllamaClient creates a new client targeting the given host (e.g., http://127.0.0.1:11434).
func NewOllamaClient(host string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *OllamaClient {
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: httpTimeout},
		host:       host,
		retry:      newBackoff(retryMax, baseDelay, maxDelay),
	}
}

// /api/chat, non-streaming
type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Generate sends a chat request to Ollama and maps the response to GenerateResponse.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	oreq := ollamaChatRequest{Model: req.Model, Messages: req.Messages, Options: map[string]any{}}
	if req.Temperature > 0 {
		oreq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		oreq.Options["num_predict"] = req.MaxTokens
	}
	payload, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var oresp ollamaChatResponse
	err = c.retry.run(ctx, func() error {
		_, err := postJSON(ctx, c.httpClient, c.host+"/api/chat", nil, payload, &oresp, decodeError)
		return err
	})
	if err != nil {
		var uerr *UnreachableError
		if errors.As(err, &uerr) {
			uerr.Host = c.host
		}
		return nil, err
	}
	return &GenerateResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: oresp.Message.Content}}},
		Usage: Usage{
			PromptTokens:     oresp.PromptEvalCount,
			CompletionTokens: oresp.EvalCount,
			TotalTokens:      oresp.PromptEvalCount + oresp.EvalCount,
		},
		RequestID: fmt.Sprintf("ollama_%d", time.Now().UnixNano()),
	}, nil
}
