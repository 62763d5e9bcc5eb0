package chart

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

func sample() *dataset.Table {
	return dataset.Concat([]dataset.Part{
		{Source: "A_Forecast", Frame: &dataset.Frame{
			Columns: []string{"month", "value"},
			Rows:    [][]any{{"2025-01", 1.0}, {"2025-02", 2.5}, {"2025-03", nil}},
		}},
		{Source: "B_Forecast", Frame: &dataset.Frame{
			Columns: []string{"month", "value", "note"},
			Rows:    [][]any{{"2025-01", 4.0, "x"}},
		}},
	})
}

func TestPlan(t *testing.T) {
	kind, col := Plan(sample())
	assert.Equal(t, KindLine, kind)
	assert.Equal(t, "value", col)

	text := dataset.Concat([]dataset.Part{{Source: "C", Frame: &dataset.Frame{
		Columns: []string{"name"},
		Rows:    [][]any{{"a"}, {"b"}},
	}}})
	kind, col = Plan(text)
	assert.Equal(t, KindBar, kind)
	assert.Empty(t, col)
}

func TestFirstNumericColumn_MixedIsNotNumeric(t *testing.T) {
	tbl := dataset.Concat([]dataset.Part{{Source: "A", Frame: &dataset.Frame{
		Columns: []string{"mixed", "n"},
		Rows:    [][]any{{1.0, 2.0}, {"x", 3.0}},
	}}})
	assert.Equal(t, 1, FirstNumericColumn(tbl))
}

func TestRender_LineAndBarProducePNG(t *testing.T) {
	for name, tbl := range map[string]*dataset.Table{
		"line": sample(),
		"bar": dataset.Concat([]dataset.Part{
			{Source: "A", Frame: &dataset.Frame{Columns: []string{"s"}, Rows: [][]any{{"x"}, {"y"}}}},
			{Source: "B", Frame: &dataset.Frame{Columns: []string{"s"}, Rows: [][]any{{"z"}}}},
		}),
	} {
		t.Run(name, func(t *testing.T) {
			img, err := Render(tbl, DefaultOptions())
			require.NoError(t, err)
			cfg, err := png.DecodeConfig(bytes.NewReader(img))
			require.NoError(t, err)
			assert.Greater(t, cfg.Width, 0)
		})
	}
}

func TestRender_Empty(t *testing.T) {
	_, err := Render(&dataset.Table{}, Options{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRender_OverflowingRangeFallsBackToBars(t *testing.T) {
	tbl := dataset.Concat([]dataset.Part{{Source: "Investment_KPIs_Forecast", Frame: &dataset.Frame{
		Columns: []string{"amount"},
		Rows:    [][]any{{1e308}, {-1e308}},
	}}})

	done := make(chan error, 1)
	var img []byte
	go func() {
		var err error
		img, err = Render(tbl, DefaultOptions())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
		_, err = png.DecodeConfig(bytes.NewReader(img))
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("render did not finish")
	}
}
