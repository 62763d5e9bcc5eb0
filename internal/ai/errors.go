package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure classes reported by Cause.
const (
	CauseAuth          = "auth"
	CauseRateLimit     = "rate_limit"
	CauseModelNotFound = "model_not_found"
	CauseBadRequest    = "bad_request"
	CauseQuota         = "quota"
	CauseServer        = "server"
	CauseUnreachable   = "unreachable"
	CauseTimeout       = "timeout"
	CauseCanceled      = "canceled"
	CauseConfig        = "config"
	CauseUnknown       = "unknown"
)

// AuthError indicates authentication/authorization failures (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string { return "authentication failed: " + e.APIError.Error() }

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.APIError.Error())
	}
	return "rate limited: " + e.APIError.Error()
}

// ModelNotFoundError indicates the configured model is not served by the provider.
type ModelNotFoundError struct{ *APIError }

func (e *ModelNotFoundError) Error() string { return "model not found: " + e.APIError.Error() }

// BadRequestError indicates a 4xx request problem, typically an oversized prompt.
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return "bad request: " + e.APIError.Error() }

// QuotaExceededError indicates billing/quota problems.
type QuotaExceededError struct{ *APIError }

func (e *QuotaExceededError) Error() string { return "quota exceeded: " + e.APIError.Error() }

// ServerError indicates 5xx errors from the provider.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return "provider error: " + e.APIError.Error() }

// UnreachableError reports a transport failure: the runtime never answered.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("endpoint unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Cause names the failure class of a runtime error for logs and metrics labels.
func Cause(err error) string {
	var (
		authErr   *AuthError
		rateErr   *RateLimitError
		modelErr  *ModelNotFoundError
		badErr    *BadRequestError
		quotaErr  *QuotaExceededError
		serverErr *ServerError
		unreach   *UnreachableError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, ErrMissingAPIKey):
		return CauseConfig
	case errors.As(err, &authErr):
		return CauseAuth
	case errors.As(err, &rateErr):
		return CauseRateLimit
	case errors.As(err, &modelErr):
		return CauseModelNotFound
	case errors.As(err, &badErr):
		return CauseBadRequest
	case errors.As(err, &quotaErr):
		return CauseQuota
	case errors.As(err, &serverErr):
		return CauseServer
	case errors.As(err, &unreach):
		return CauseUnreachable
	}
	return CauseUnknown
}
