package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/ai"
	"github.com/KaramelBytes/forecastdesk/internal/cache"
	cfgpkg "github.com/KaramelBytes/forecastdesk/internal/config"
	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/responder"
	"github.com/KaramelBytes/forecastdesk/internal/store"
)

// app bundles the long-lived handles shared by serve, ask and datasets.
type app struct {
	sources   *store.Fallback
	db        *store.SQL
	cache     *cache.Cache
	resolver  *dataset.Resolver
	agg       *dataset.Aggregator
	runtime   ai.Runtime
	provider  string
	responder *responder.Responder
}

func buildApp(ctx context.Context, c *cfgpkg.Global, l *zap.Logger) (*app, error) {
	sources, db := store.Open(store.Options{
		DatabaseURL: c.DatabaseURL,
		Driver:      c.DatabaseDriver,
		CSVBaseURL:  c.CSVBaseURL,
		HTTPTimeout: c.HTTPTimeout(),
	}, l.Named("store"))

	ch := cache.Open(ctx, c.CacheURL, l.Named("cache"))
	resolver := dataset.NewResolver(sources, c.RowLimit)
	agg := dataset.NewAggregator(resolver, ch, dataset.AggregatorConfig{
		Datasets: c.Datasets,
		CacheTTL: c.CacheTTL(),
	}, l.Named("aggregator"))

	rt, provider, err := buildRuntime(c)
	if err != nil {
		_ = ch.Close()
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	if rt == nil {
		l.Warn("no text-generation credentials; answers use the local summary", zap.String("provider", provider))
	}

	resp := responder.New(agg, sources, rt, responder.Config{
		Model:            c.LLMModel,
		MaxTokens:        c.MaxResponseTokens,
		Temperature:      c.Temperature,
		ChartSampleRows:  c.ChartSampleRows,
		PromptSampleRows: c.PromptSampleRows,
	}, l.Named("responder"))

	return &app{
		sources:   sources,
		db:        db,
		cache:     ch,
		resolver:  resolver,
		agg:       agg,
		runtime:   rt,
		provider:  provider,
		responder: resp,
	}, nil
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildRuntime returns the configured text-generation runtime. Hosted providers
// without an API key yield a nil runtime rather than an error.
func buildRuntime(c *cfgpkg.Global) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 1
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if c.HTTPTimeoutSec > 0 {
		httpTimeout = c.HTTPTimeout()
	}
	if c.RetryMaxAttempts > 0 {
		retryMax = c.RetryMaxAttempts
	}
	if c.RetryBaseDelayMs > 0 {
		baseDelay = time.Duration(c.RetryBaseDelayMs) * time.Millisecond
	}
	if c.RetryMaxDelayMs > 0 {
		maxDelay = time.Duration(c.RetryMaxDelayMs) * time.Millisecond
	}

	providerName := normalizeProvider(c.LLMProvider)
	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		APIKey:      strings.TrimSpace(c.LLMAPIKey),
	}
	if providerName == ai.ProviderOllama {
		rc.Host = strings.TrimSpace(c.OllamaHost)
	} else if rc.APIKey == "" {
		return nil, providerName, nil
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (use %s)", providerName, strings.Join(ai.Providers(), ", "))
	}
	return client, providerName, nil
}

func normalizeProvider(name string) string {
	switch p := strings.ToLower(strings.TrimSpace(name)); p {
	case "", "google", "gemini":
		return ai.ProviderGemini
	case "local", "ollama":
		return ai.ProviderOllama
	default:
		return p
	}
}
