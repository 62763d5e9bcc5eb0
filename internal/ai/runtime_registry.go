package ai

import (
	"sort"
	"time"
)

// RuntimeFactory builds a Runtime from the generic config below.
type RuntimeFactory func(RuntimeConfig) Runtime

// RuntimeConfig carries common knobs used by runtimes.
type RuntimeConfig struct {
	// Common
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Gemini, OpenRouter
	APIKey  string
	BaseURL string
	// Ollama
	Host string
}

var registry = map[string]RuntimeFactory{}

// RegisterRuntime registers a provider name with its factory.
func RegisterRuntime(name string, f RuntimeFactory) { registry[name] = f }

// GetRuntime creates a Runtime for the given provider if registered.
func GetRuntime(name string, cfg RuntimeConfig) (Runtime, bool) {
	if f, ok := registry[name]; ok {
		return f(cfg), true
	}
	return nil, false
}

// Providers lists registered provider names.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterRuntime(ProviderGemini, func(c RuntimeConfig) Runtime {
		return NewGeminiClient(c.APIKey, c.BaseURL, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
	RegisterRuntime(ProviderOpenRouter, func(c RuntimeConfig) Runtime {
		if c.RetryMax <= 0 {
			c.RetryMax = 3
		}
		return NewOpenRouterClient(c.APIKey, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay).WithBaseURL(c.BaseURL)
	})
	RegisterRuntime(ProviderOllama, func(c RuntimeConfig) Runtime {
		if c.RetryMax <= 0 {
			c.RetryMax = 2
		}
		return NewOllamaClient(c.Host, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
}
