package ai

import "context"

// Runtime is a minimal interface implemented by text generation backends
// such as Gemini, OpenRouter and local runtimes (e.g., Ollama).
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Provider identifiers used for selection in config and flags.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)
