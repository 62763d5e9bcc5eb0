package responder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/forecastdesk/internal/ai"
	"github.com/KaramelBytes/forecastdesk/internal/chart"
	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

type fakeLoader struct {
	snap  *dataset.Snapshot
	err   error
	calls int
}

func (f *fakeLoader) Load(context.Context) (*dataset.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRuntime struct {
	text string
	err  error
	last ai.GenerateRequest
}

func (f *fakeRuntime) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: f.text}}}}, nil
}

func populated() *dataset.Snapshot {
	yield := &dataset.Frame{Columns: []string{"month", "yield"}}
	for i := 0; i < 8; i++ {
		yield.Rows = append(yield.Rows, []any{"2025-0" + string(rune('1'+i)), float64(10 + i)})
	}
	vouchers := &dataset.Frame{
		Columns: []string{"month", "vouchers"},
		Rows:    [][]any{{"2025-01", 100.0}, {"2025-02", 120.0}, {"2025-03", 90.0}, {"2025-04", 130.0}},
	}
	return &dataset.Snapshot{
		Table: dataset.Concat([]dataset.Part{
			{Source: "Yield_Food_Security_Forecast", Frame: yield},
			{Source: "E_Voucher_Forecast", Frame: vouchers},
		}),
		Resolved: map[string]string{
			"Yield_Food_Security_Forecast": "yield_food_security_forecast",
			"E_Voucher_Forecast":           "E_Voucher_Forecast",
		},
		Missing: []string{"Tractor_Registry_forecast"},
	}
}

func TestAsk_EmptyQuestionSkipsStore(t *testing.T) {
	loader := &fakeLoader{snap: populated()}
	r := New(loader, fakePinger{}, &fakeRuntime{text: "x"}, Config{}, nil)

	for _, q := range []string{"", "   \n\t"} {
		ans, err := r.Ask(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, PromptMessage, ans.Text)
	}
	assert.Zero(t, loader.calls)
}

func TestAsk_NoData(t *testing.T) {
	empty := &dataset.Snapshot{Table: dataset.Concat(nil)}

	r := New(&fakeLoader{snap: empty}, fakePinger{}, nil, Config{}, nil)
	ans, err := r.Ask(context.Background(), "how are yields?")
	require.NoError(t, err)
	assert.Equal(t, NoDataMessage, ans.Text)
	assert.True(t, ans.NoData)
	assert.True(t, ans.DBConnected)

	r = New(&fakeLoader{snap: empty}, fakePinger{err: errors.New("down")}, nil, Config{}, nil)
	ans, err = r.Ask(context.Background(), "how are yields?")
	require.NoError(t, err)
	assert.False(t, ans.DBConnected)

	r = New(&fakeLoader{snap: empty}, nil, nil, Config{}, nil)
	ans, err = r.Ask(context.Background(), "how are yields?")
	require.NoError(t, err)
	assert.False(t, ans.DBConnected)
}

func TestAsk_RuntimeFailureFallsBackToLocalSummary(t *testing.T) {
	rt := &fakeRuntime{err: &ai.UnreachableError{Host: "example", Err: errors.New("refused")}}
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, rt, Config{Model: "gemini-2.0-flash"}, nil)

	ans, err := r.Ask(context.Background(), "which dataset grows fastest?")
	require.NoError(t, err)
	assert.False(t, ans.Generated)
	assert.True(t, strings.HasPrefix(ans.Text, FallbackPrefix), ans.Text)
	assert.Contains(t, ans.Text, "12 rows across 2 datasets")
	assert.Contains(t, ans.Text, "Yield_Food_Security_Forecast (8)")
	assert.Contains(t, ans.Text, "E_Voucher_Forecast (4)")
	assert.Contains(t, ans.Text, "Not loaded: Tractor_Registry_forecast.")
	assert.Equal(t, 12, ans.Rows)
	assert.Equal(t, 2, ans.Datasets)
	assert.NotEmpty(t, ans.Chart)
}

func TestAsk_NoRuntimeUsesLocalSummary(t *testing.T) {
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, nil, Config{}, nil)
	assert.False(t, r.HasRuntime())
	ans, err := r.Ask(context.Background(), "summary?")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "12 rows across 2 datasets")
}

func TestAsk_Generated(t *testing.T) {
	rt := &fakeRuntime{text: "  Yields climb steadily.  "}
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, rt, Config{Model: "gemini-2.0-flash", MaxTokens: 100, Temperature: 0.2}, nil)

	ans, err := r.Ask(context.Background(), "  what about yields? ")
	require.NoError(t, err)
	assert.True(t, ans.Generated)
	assert.Equal(t, "Yields climb steadily.", ans.Text)

	require.Len(t, rt.last.Messages, 1)
	prompt := rt.last.Messages[0].Content
	assert.Equal(t, "gemini-2.0-flash", rt.last.Model)
	assert.Equal(t, 100, rt.last.MaxTokens)
	assert.True(t, strings.HasSuffix(prompt, "[QUESTION]\nwhat about yields?\n"), prompt)
	assert.Contains(t, prompt, "[HEAD AND SAMPLE ROWS]")
	assert.Contains(t, prompt, "E_Voucher_Forecast")
}

func TestAsk_EmptyGenerationUsesPlaceholder(t *testing.T) {
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, &fakeRuntime{text: " "}, Config{}, nil)
	ans, err := r.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, NoResponse, ans.Text)
}

func TestAsk_ChartFailureIsOmitted(t *testing.T) {
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, &fakeRuntime{text: "ok"}, Config{}, nil)
	r.render = func(*dataset.Table, chart.Options) ([]byte, error) { return nil, errors.New("no fonts") }
	ans, err := r.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, ans.Chart)
	assert.Equal(t, "ok", ans.Text)
}

func TestAsk_ChartSamplesFirstRowsPerDataset(t *testing.T) {
	var sampled *dataset.Table
	r := New(&fakeLoader{snap: populated()}, fakePinger{}, nil, Config{ChartSampleRows: 3}, nil)
	r.render = func(t *dataset.Table, _ chart.Options) ([]byte, error) {
		sampled = t
		return []byte("png"), nil
	}
	_, err := r.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, sampled)
	assert.Equal(t, map[string]int{"Yield_Food_Security_Forecast": 3, "E_Voucher_Forecast": 3}, sampled.CountBySource())
}

func TestAsk_LoaderError(t *testing.T) {
	r := New(&fakeLoader{err: context.Canceled}, nil, nil, Config{}, nil)
	_, err := r.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrompt_KeepsQuestionWhenTruncated(t *testing.T) {
	r := New(nil, nil, nil, Config{Model: "phi3:mini-4k-instruct", MaxTokens: 3900}, nil)
	prompt := r.Prompt(populated(), "trend?")
	assert.True(t, strings.HasPrefix(prompt, instructionText))
	assert.True(t, strings.HasSuffix(prompt, "[QUESTION]\ntrend?\n"))
	assert.Less(t, len(prompt), 2000)
}
