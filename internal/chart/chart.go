// Package chart renders the small PNG chart attached to answers.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// ErrNoData is returned when the sample holds nothing to plot.
var ErrNoData = errors.New("chart: no data")

// Options sizes the image.
type Options struct {
	Width  vg.Length
	Height vg.Length
	Title  string
}

// DefaultOptions returns an 8x4 inch chart.
func DefaultOptions() Options {
	return Options{Width: 8 * vg.Inch, Height: 4 * vg.Inch}
}

// Kind names the chart Render would draw for a sample.
type Kind string

const (
	KindLine Kind = "line"
	KindBar  Kind = "bar"
)

// Plan picks the chart for a sample: a line of the first numeric column over row
// position, one series per source, or a bar of row counts per source when no
// column is numeric. It returns the chosen column for line charts.
func Plan(sample *dataset.Table) (Kind, string) {
	if col := FirstNumericColumn(sample); col >= 0 {
		return KindLine, sample.Columns[col]
	}
	return KindBar, ""
}

// FirstNumericColumn returns the index of the first column whose non-nil cells are
// all numbers, or -1.
func FirstNumericColumn(t *dataset.Table) int {
	for j := range t.Columns {
		seen, numeric := false, true
		for _, r := range t.Records {
			if j >= len(r.Values) || r.Values[j] == nil {
				continue
			}
			seen = true
			if _, ok := r.Values[j].(float64); !ok {
				numeric = false
				break
			}
		}
		if seen && numeric {
			return j
		}
	}
	return -1
}

// Render draws sample as a PNG.
func Render(sample *dataset.Table, opt Options) ([]byte, error) {
	if sample.Empty() {
		return nil, ErrNoData
	}
	if opt.Width <= 0 || opt.Height <= 0 {
		d := DefaultOptions()
		opt.Width, opt.Height = d.Width, d.Height
	}
	p := plot.New()
	p.Title.Text = opt.Title
	p.Add(plotter.NewGrid())

	kind, col := Plan(sample)
	var err error
	if kind == KindLine {
		err = addLines(p, sample, sample.ColumnIndex(col))
		p.X.Label.Text = "row"
		p.Y.Label.Text = col
		if errors.Is(err, errRange) {
			p = plot.New()
			p.Title.Text = opt.Title
			p.Add(plotter.NewGrid())
			kind = KindBar
		}
	}
	if kind != KindLine {
		err = addBars(p, sample)
		p.Y.Label.Text = "count"
	}
	if err != nil {
		return nil, err
	}

	w, err := p.WriterTo(opt.Width, opt.Height, "png")
	if err != nil {
		return nil, fmt.Errorf("chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("chart: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// errRange marks values whose spread overflows float64; the axis ticker cannot
// terminate on such a range.
var errRange = errors.New("chart: value range not finite")

func addLines(p *plot.Plot, t *dataset.Table, col int) error {
	series := map[string]plotter.XYs{}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, r := range t.Records {
		y, ok := r.Values[col].(float64)
		if !ok {
			continue
		}
		lo, hi = math.Min(lo, y), math.Max(hi, y)
		series[r.Source] = append(series[r.Source], plotter.XY{X: float64(i), Y: y})
	}
	if len(series) == 0 {
		return ErrNoData
	}
	if span := hi - lo; math.IsInf(span, 0) || math.IsNaN(span) {
		return errRange
	}
	for i, src := range t.Sources() {
		xys, ok := series[src]
		if !ok {
			continue
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return fmt.Errorf("chart: series %s: %w", src, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(2)
		points.GlyphStyle.Color = plotutil.Color(i)
		p.Add(line, points)
		p.Legend.Add(src, line)
	}
	p.Legend.Top = true
	return nil
}

func addBars(p *plot.Plot, t *dataset.Table) error {
	sources := t.Sources()
	counts := t.CountBySource()
	values := make(plotter.Values, len(sources))
	for i, s := range sources {
		values[i] = float64(counts[s])
	}
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	bars.Color = plotutil.Color(0)
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(sources...)
	return nil
}
