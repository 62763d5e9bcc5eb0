package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiClient generates text with the Gemini API through the genai SDK.
// The SDK client is created on first use so a missing key surfaces per request.
type GeminiClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	retry   backoff

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiClient builds a Gemini runtime. baseURL is empty for the public endpoint.
func NewGeminiClient(apiKey, baseURL string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *GeminiClient {
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		timeout: httpTimeout,
		retry:   newBackoff(retryMax, baseDelay, maxDelay),
	}
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:     c.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: c.timeout},
		}
		if c.baseURL != "" {
			cfg.HTTPOptions.BaseURL = c.baseURL
		}
		c.client, c.initErr = genai.NewClient(ctx, cfg)
		if c.initErr != nil {
			c.initErr = fmt.Errorf("create genai client: %w", c.initErr)
		}
	})
	return c.client, c.initErr
}

func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	contents, system := geminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	var resp *genai.GenerateContentResponse
	err = c.retry.run(ctx, func() error {
		var err error
		resp, err = client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		return classifyGeminiError(err)
	})
	if err != nil {
		return nil, err
	}
	out := &GenerateResponse{
		ID:        resp.ResponseID,
		RequestID: resp.ResponseID,
		Choices:   []Choice{{Message: Message{Role: "assistant", Content: resp.Text()}}},
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// geminiContents splits system messages into a system instruction and maps the
// remaining roles onto user/model turns.
func geminiContents(msgs []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []string
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}

// classifyGeminiError maps SDK errors onto the package's typed errors.
func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var gerr genai.APIError
	var gptr *genai.APIError
	switch {
	case errors.As(err, &gerr):
	case errors.As(err, &gptr):
		gerr = *gptr
	default:
		var nerr interface{ Timeout() bool }
		if errors.As(err, &nerr) {
			return &retryable{err: &UnreachableError{Host: "generativelanguage.googleapis.com", Err: err}}
		}
		return err
	}
	apiErr := &APIError{StatusCode: gerr.Code, Code: gerr.Status, Message: gerr.Message}
	typed := classifyAPIError(apiErr, nil)
	if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
		return &retryable{err: typed}
	}
	return typed
}
