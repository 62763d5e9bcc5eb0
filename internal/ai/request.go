package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ErrMissingAPIKey is returned by hosted runtimes configured without a key.
var ErrMissingAPIKey = errors.New("ai: api key is missing")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Message Message `json:"message"`
}

type GenerateResponse struct {
	ID        string   `json:"id"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	RequestID string   `json:"-"`
}

// Text returns the first choice's content, trimmed.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

// APIError represents a structured API error response.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error: status=%d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " message=%s", e.Message)
	}
	return b.String()
}

// backoff holds the bounded retry policy shared by the runtimes.
type backoff struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff(attempts int, base, max time.Duration) backoff {
	if attempts <= 0 {
		attempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 4 * time.Second
	}
	return backoff{attempts: attempts, baseDelay: base, maxDelay: max}
}

// retryable marks an error worth another attempt. wait overrides the computed delay.
type retryable struct {
	err  error
	wait time.Duration
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// run calls fn until it succeeds, returns a non-retryable error, or attempts run out.
func (b backoff) run(ctx context.Context, fn func() error) error {
	delay := b.baseDelay
	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		var r *retryable
		if !errors.As(err, &r) {
			return err
		}
		lastErr = r.err
		if attempt == b.attempts {
			break
		}
		sleep := r.wait
		if sleep <= 0 {
			sleep = withJitter(delay)
			if sleep > b.maxDelay {
				sleep = b.maxDelay
			}
			delay *= 2
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// postJSON sends payload and decodes a 2xx body into out. Non-2xx responses are
// decoded by parseErr; 429 and 5xx come back wrapped as retryable.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, payload []byte, out any, parseErr func(*http.Response, []byte) *APIError) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := hc.Do(req)
	if err != nil {
		uerr := &UnreachableError{Host: req.URL.Host, Err: err}
		if isRetryableNetErr(err) && ctx.Err() == nil {
			return "", &retryable{err: uerr}
		}
		return "", uerr
	}
	defer resp.Body.Close()
	reqID := extractRequestID(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := parseErr(resp, body)
		apiErr.StatusCode = resp.StatusCode
		apiErr.RequestID = reqID
		typed := classifyAPIError(apiErr, resp)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			var wait time.Duration
			var rl *RateLimitError
			if errors.As(typed, &rl) {
				wait = rl.RetryAfter
			}
			return reqID, &retryable{err: typed, wait: wait}
		}
		return reqID, typed
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return reqID, fmt.Errorf("decode response: %w", err)
	}
	return reqID, nil
}

// decodeError reads {"error":{"message","code"}}, {"error":"..."} or {"message","code"}.
func decodeError(_ *http.Response, body []byte) *APIError {
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	e := &APIError{Raw: raw}
	src := raw
	switch v := raw["error"].(type) {
	case map[string]any:
		src = v
	case string:
		e.Message = v
	}
	if msg, ok := src["message"].(string); ok && e.Message == "" {
		e.Message = msg
	}
	if code, ok := src["code"].(string); ok {
		e.Code = code
	}
	return e
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

// parseRetryAfterSeconds tries to interpret Retry-After header value as seconds or HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// classifyAPIError maps generic APIError to typed errors.
func classifyAPIError(apiErr *APIError, resp *http.Response) error {
	sc := apiErr.StatusCode
	msg := apiErr.Message
	code := apiErr.Code
	switch {
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return &AuthError{APIError: apiErr}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if resp != nil {
			if v := resp.Header.Get("Retry-After"); v != "" {
				if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
					ra = time.Duration(secs) * time.Second
				}
			}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc == http.StatusNotFound:
		if code == "model_not_found" || containsAllFold(msg, "model", "not", "found") {
			return &ModelNotFoundError{APIError: apiErr}
		}
		return apiErr
	case sc == http.StatusBadRequest:
		return &BadRequestError{APIError: apiErr}
	case code == "quota_exceeded" || containsAnyFold(msg, "quota", "billing", "limit exceeded"):
		return &QuotaExceededError{APIError: apiErr}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

func containsAllFold(s string, subs ...string) bool {
	for _, sub := range subs {
		if !containsFold(s, sub) {
			return false
		}
	}
	return true
}

func containsAnyFold(s string, subs ...string) bool {
	for _, sub := range subs {
		if containsFold(s, sub) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	if s == "" || sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "OpenAI-Request-ID", "Openrouter-Request-ID", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}
