package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to the OpenRouter chat completions API.
type OpenRouterClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	retry      backoff
}

// NewOpenRouterClient allows customizing HTTP timeout and retry/backoff behavior.
func NewOpenRouterClient(apiKey string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *OpenRouterClient {
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &OpenRouterClient{
		httpClient: &http.Client{Timeout: httpTimeout},
		apiKey:     apiKey,
		baseURL:    openRouterBaseURL,
		retry:      newBackoff(retryMax, baseDelay, maxDelay),
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func (c *OpenRouterClient) WithBaseURL(u string) *OpenRouterClient {
	if u != "" {
		c.baseURL = u
	}
	return c
}

func (c *OpenRouterClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"HTTP-Referer":  "https://github.com/KaramelBytes/forecastdesk",
		"X-Title":       "ForecastDesk",
	}
	var out GenerateResponse
	err = c.retry.run(ctx, func() error {
		out = GenerateResponse{}
		id, err := postJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", headers, payload, &out, decodeError)
		out.RequestID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
