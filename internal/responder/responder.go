// Package responder answers dashboard questions from the aggregated forecasts.
package responder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/ai"
	"github.com/KaramelBytes/forecastdesk/internal/analysis"
	"github.com/KaramelBytes/forecastdesk/internal/chart"
	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/utils"
)

const (
	// PromptMessage answers an empty question.
	PromptMessage = "Please ask a question."
	// NoDataMessage answers when no dataset holds rows.
	NoDataMessage = "No forecast data available."
	// NoResponse replaces an empty generation.
	NoResponse = "No response generated."
	// FallbackPrefix opens every local summary.
	FallbackPrefix = "AI temporarily unavailable; here's a local summary."

	promptMargin    = 256
	instructionText = "You are an analyst for an agricultural forecast dashboard. " +
		"Answer the question using only the forecast data below. " +
		"Each row is tagged with the dataset it came from. Be concise and cite dataset names."
)

// Loader supplies the aggregated snapshot.
type Loader interface {
	Load(ctx context.Context) (*dataset.Snapshot, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes sampling and generation.
type Config struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	ChartSampleRows  int
	PromptSampleRows int
}

// Answer is the result of one question. Chart is a PNG or nil.
type Answer struct {
	Text        string
	Chart       []byte
	NoData      bool
	DBConnected bool
	Rows        int
	Datasets    int
	// Generated is set when Text came from the text-generation runtime.
	Generated bool
}

// Responder turns a question plus the aggregated table into an Answer.
type Responder struct {
	data    Loader
	store   Pinger
	runtime ai.Runtime
	cfg     Config
	log     *zap.Logger
	render  func(*dataset.Table, chart.Options) ([]byte, error)
}

// New wires a Responder. A nil runtime always answers with the local summary.
func New(data Loader, store Pinger, runtime ai.Runtime, cfg Config, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChartSampleRows <= 0 {
		cfg.ChartSampleRows = 3
	}
	if cfg.PromptSampleRows <= 0 {
		cfg.PromptSampleRows = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Responder{data: data, store: store, runtime: runtime, cfg: cfg, log: log, render: chart.Render}
}

// HasRuntime reports whether a text-generation runtime is configured.
func (r *Responder) HasRuntime() bool { return r.runtime != nil }

// Ask answers question. Only a cancelled context or a failing Loader produce an error.
func (r *Responder) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return &Answer{Text: PromptMessage}, nil
	}

	snap, err := r.data.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load forecasts: %w", err)
	}
	if snap == nil || snap.Table == nil || snap.Table.Empty() {
		return &Answer{Text: NoDataMessage, NoData: true, DBConnected: r.ping(ctx)}, nil
	}
	t := snap.Table
	ans := &Answer{Rows: t.Len(), Datasets: len(t.Sources())}

	png, err := r.render(t.Head(r.cfg.ChartSampleRows), chart.Options{})
	if err != nil {
		r.log.Warn("chart omitted", zap.Error(err))
	} else {
		ans.Chart = png
	}

	if r.runtime == nil {
		ans.Text = LocalSummary(snap)
		return ans, nil
	}
	resp, err := r.runtime.Generate(ctx, ai.GenerateRequest{
		Model:       r.cfg.Model,
		Messages:    []ai.Message{{Role: "user", Content: r.Prompt(snap, question)}},
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("text generation failed; using local summary",
			zap.String("model", r.cfg.Model),
			zap.String("cause", ai.Cause(err)),
			zap.Error(err))
		ans.Text = LocalSummary(snap)
		return ans, nil
	}
	ans.Generated = true
	ans.Text = resp.Text()
	if ans.Text == "" {
		ans.Text = NoResponse
	}
	r.log.Debug("answer generated", zap.Int("prompt_tokens", resp.Usage.PromptTokens), zap.Int("completion_tokens", resp.Usage.CompletionTokens), zap.String("request_id", resp.RequestID))
	return ans, nil
}

func (r *Responder) ping(ctx context.Context) bool {
	if r.store == nil {
		return false
	}
	return r.store.Ping(ctx) == nil
}

// Prompt builds the text sent to the runtime: instructions, a profile of the table
// with the first rows of every dataset, then the question. The data part is cut to
// fit the model's context window.
func (r *Responder) Prompt(snap *dataset.Snapshot, question string) string {
	opt := analysis.DefaultOptions()
	opt.SampleRows = r.cfg.PromptSampleRows
	data := analysis.Profile("forecasts", snap.Table, opt).Markdown()

	head := instructionText + "\n\n"
	tail := "\n[QUESTION]\n" + question + "\n"
	budget := ai.ContextTokens(r.cfg.Model) - r.cfg.MaxTokens - promptMargin - utils.CountTokens(head+tail)
	if budget < 0 {
		budget = 0
	}
	return head + utils.TruncateToTokenLimit(data, budget) + tail
}

// LocalSummary describes the snapshot without a model: total rows and rows per dataset.
func LocalSummary(snap *dataset.Snapshot) string {
	t := snap.Table
	counts := t.CountBySource()
	sources := t.Sources()
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = fmt.Sprintf("%s (%d)", s, counts[s])
	}
	noun := "datasets"
	if len(sources) == 1 {
		noun = "dataset"
	}
	out := fmt.Sprintf("%s %d rows across %d %s: %s.", FallbackPrefix, t.Len(), len(sources), noun, strings.Join(parts, ", "))
	if len(snap.Missing) > 0 {
		out += " Not loaded: " + strings.Join(snap.Missing, ", ") + "."
	}
	return out
}
