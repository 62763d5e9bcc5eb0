// Package analysis profiles the aggregated forecast table into a compact
// Markdown report used in prompts and the datasets command.
package analysis

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// Options controls profiling behavior.
type Options struct {
	// SampleRows determines how many example rows per source to include in the report.
	SampleRows int
	// GroupBySource computes per-source summaries of numeric columns.
	GroupBySource bool
	// Outlier detection via robust Z-score (MAD). If Outliers is true, counts |z|>threshold.
	Outliers         bool
	OutlierThreshold float64
}

// DefaultOptions returns reasonable defaults for prompt-sized reports.
func DefaultOptions() Options {
	return Options{
		SampleRows:    5,
		GroupBySource: true,
		Outliers:      true,
	}
}

// Report is a markdown-friendly profile of a table.
type Report struct {
	Name     string
	Rows     int
	Sources  int
	Cols     []ColumnSummary
	Header   []string
	Samples  [][]string
	Warnings []string
	Groups   []GroupResult
}

// ColumnSummary captures inferred type and statistics per column.
type ColumnSummary struct {
	Name    string
	Kind    string // numeric|datetime|categorical|text|unknown
	Unit    string
	NonNull int
	Missing int
	Unique  int
	// Numeric stats
	Min  float64
	Max  float64
	Mean float64
	Std  float64
	// Outliers (robust Z via MAD)
	OutliersCount    int
	OutliersMaxAbsZ  float64
	OutlierThreshold float64
	// Categorical top values
	TopValues    []CategoryCount
	ExampleTexts []string
}

type CategoryCount struct {
	Value string
	Count int
}

// GroupResult captures aggregated metrics per source.
type GroupResult struct {
	Key     string
	Size    int
	Metrics map[string]NumSummary // by column name
}

type NumSummary struct {
	Count          int
	Min, Max, Mean float64
}

type colAcc struct {
	name   string
	unit   string
	nonNil int
	miss   int

	// numeric stats via Welford
	n      int
	mean   float64
	m2     float64
	min    float64
	max    float64
	numCnt int
	dtCnt  int
	txtCnt int
	vals   []float64
	cats   map[string]int
	exText []string
}

type gAcc struct {
	size int
	sum  map[int]float64
	cnt  map[int]int
	min  map[int]float64
	max  map[int]float64
}

// Profile summarizes t. Cells are classified per value: numbers (including numeric
// strings) feed Welford statistics, parseable timestamps count as datetime and
// everything else as text or category.
func Profile(name string, t *dataset.Table, opt Options) *Report {
	rep := &Report{Name: name}
	if t == nil || len(t.Columns) == 0 {
		return rep
	}
	rep.Rows = t.Len()
	rep.Sources = len(t.Sources())
	ncol := len(t.Columns)

	cols := make([]*colAcc, ncol)
	for i, h := range t.Columns {
		clean, unit := splitUnits(h)
		cols[i] = &colAcc{name: clean, unit: unit, min: math.Inf(1), max: math.Inf(-1), cats: map[string]int{}}
	}
	groups := map[string]*gAcc{}

	for _, rec := range t.Records {
		var ga *gAcc
		if opt.GroupBySource {
			ga = groups[rec.Source]
			if ga == nil {
				ga = &gAcc{sum: map[int]float64{}, cnt: map[int]int{}, min: map[int]float64{}, max: map[int]float64{}}
				groups[rec.Source] = ga
			}
			ga.size++
		}
		for j := 0; j < ncol; j++ {
			var v any
			if j < len(rec.Values) {
				v = rec.Values[j]
			}
			c := cols[j]
			if v == nil {
				c.miss++
				continue
			}
			c.nonNil++
			x, ok := numeric(v)
			if ok {
				c.numCnt++
				c.n++
				if x < c.min {
					c.min = x
				}
				if x > c.max {
					c.max = x
				}
				delta := x - c.mean
				c.mean += delta / float64(c.n)
				c.m2 += delta * (x - c.mean)
				c.vals = append(c.vals, x)
				if ga != nil {
					ga.sum[j] += x
					ga.cnt[j]++
					if _, ok := ga.min[j]; !ok || x < ga.min[j] {
						ga.min[j] = x
					}
					if _, ok := ga.max[j]; !ok || x > ga.max[j] {
						ga.max[j] = x
					}
				}
				continue
			}
			s := strings.TrimSpace(dataset.Format(v))
			if _, ok := parseTimeMaybe(s); ok {
				c.dtCnt++
				continue
			}
			c.txtCnt++
			if len(c.cats) <= 10000 && len(s) <= 64 {
				c.cats[s]++
			}
			if len(c.exText) < 3 {
				c.exText = append(c.exText, s)
			}
		}
	}

	numCols := []int{}
	rep.Cols = make([]ColumnSummary, 0, ncol)
	for idx, c := range cols {
		s := ColumnSummary{Name: c.name, Unit: c.unit, NonNull: c.nonNil, Missing: c.miss}
		kind := "unknown"
		switch {
		case c.numCnt >= c.dtCnt && c.numCnt >= c.txtCnt && c.numCnt > 0:
			kind = "numeric"
			s.Min, s.Max, s.Mean = c.min, c.max, c.mean
			if c.n > 1 {
				s.Std = math.Sqrt(c.m2 / float64(c.n-1))
			}
			numCols = append(numCols, idx)
			if opt.Outliers && len(c.vals) >= 8 {
				s.OutliersCount, s.OutliersMaxAbsZ, s.OutlierThreshold = outliers(c.vals, opt.OutlierThreshold)
			}
		case c.dtCnt >= c.txtCnt && c.dtCnt > 0:
			kind = "datetime"
		case len(c.cats) > 0 && len(c.cats) < c.txtCnt:
			kind = "categorical"
			s.TopValues = topValues(c.cats, 8)
			s.Unique = len(c.cats)
		case c.txtCnt > 0:
			kind = "text"
			s.ExampleTexts = c.exText
		}
		s.Kind = kind
		if c.nonNil == 0 && rep.Sources > 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("column %q has no values in any source", safeName(c.name)))
		}
		rep.Cols = append(rep.Cols, s)
	}

	if len(groups) > 0 {
		out := make([]GroupResult, 0, len(groups))
		for k, ga := range groups {
			gr := GroupResult{Key: k, Size: ga.size, Metrics: map[string]NumSummary{}}
			for _, idx := range numCols {
				if ga.cnt[idx] == 0 {
					continue
				}
				gr.Metrics[cols[idx].name] = NumSummary{Count: ga.cnt[idx], Min: ga.min[idx], Max: ga.max[idx], Mean: ga.sum[idx] / float64(ga.cnt[idx])}
			}
			out = append(out, gr)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Size == out[j].Size {
				return out[i].Key < out[j].Key
			}
			return out[i].Size > out[j].Size
		})
		rep.Groups = out
	}

	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = 5
	}
	rep.Header, rep.Samples = samples(t.Head(sampleRows), rep.Sources > 1)
	return rep
}

func samples(t *dataset.Table, withSource bool) ([]string, [][]string) {
	header := make([]string, 0, len(t.Columns)+1)
	if withSource {
		header = append(header, dataset.SourceColumn)
	}
	header = append(header, t.Columns...)
	rows := make([][]string, 0, len(t.Records))
	for _, r := range t.Records {
		row := make([]string, 0, len(header))
		if withSource {
			row = append(row, r.Source)
		}
		for i := range t.Columns {
			var v any
			if i < len(r.Values) {
				v = r.Values[i]
			}
			row = append(row, dataset.Format(v))
		}
		rows = append(rows, row)
	}
	return header, rows
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		return parseNumeric(x)
	}
	return 0, false
}

func topValues(cats map[string]int, n int) []CategoryCount {
	tops := make([]CategoryCount, 0, len(cats))
	for k, v := range cats {
		tops = append(tops, CategoryCount{Value: k, Count: v})
	}
	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count == tops[j].Count {
			return tops[i].Value < tops[j].Value
		}
		return tops[i].Count > tops[j].Count
	})
	if len(tops) > n {
		tops = tops[:n]
	}
	return tops
}

func outliers(vals []float64, thr float64) (count int, maxAbsZ, threshold float64) {
	if thr <= 0 {
		thr = 3.5
	}
	median, mad := medianMAD(vals)
	if mad > 0 {
		for _, v := range vals {
			az := math.Abs(0.6745 * (v - median) / mad)
			if az > thr {
				count++
			}
			if az > maxAbsZ {
				maxAbsZ = az
			}
		}
	}
	return count, maxAbsZ, thr
}

func parseTimeMaybe(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006", "2006-01",
		"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseNumeric accepts plain numbers, percentages and values with thousands
// separators in either the 1,234.5 or 1.234,5 convention.
func parseNumeric(s string) (float64, bool) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	raw = strings.TrimSuffix(raw, "%")
	if raw == "" {
		return 0, false
	}
	dec := '.'
	cpos := strings.LastIndex(raw, ",")
	dpos := strings.LastIndex(raw, ".")
	if cpos >= 0 && (dpos < 0 || cpos > dpos) && len(raw)-cpos-1 != 3 {
		dec = ','
	}
	for _, sep := range []rune{',', '.', ' '} {
		if sep != dec {
			raw = strings.ReplaceAll(raw, string(sep), "")
		}
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var unitPatterns = []struct {
	re   *regexp.Regexp
	pick int
}{
	{regexp.MustCompile(`^(.*)\s*\(([^)]+)\)\s*$`), 2},  // e.g., Yield (t/ha)
	{regexp.MustCompile(`^(.*)\s*\[([^\]]+)\]\s*$`), 2}, // e.g., Rainfall [mm]
	{regexp.MustCompile(`^(.*?)[_\s-]+(mm|kg|ha|tons|t/ha|USD|%)$`), 2},
}

func splitUnits(name string) (clean string, unit string) {
	s := strings.TrimSpace(name)
	for _, p := range unitPatterns {
		if m := p.re.FindStringSubmatch(s); len(m) >= 3 {
			base := strings.TrimSpace(m[1])
			u := strings.TrimSpace(m[p.pick])
			if base != "" && u != "" {
				return base, u
			}
		}
	}
	return s, ""
}

// medianMAD computes median and MAD (median absolute deviation) of values.
func medianMAD(vals []float64) (median, mad float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	cp := make([]float64, len(vals))
	copy(cp, vals)
	sort.Float64s(cp)
	median = quantile(cp, 0.5)
	dev := make([]float64, len(cp))
	for i, v := range cp {
		dev[i] = math.Abs(v - median)
	}
	sort.Float64s(dev)
	mad = quantile(dev, 0.5)
	return
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }

// Markdown renders a compact report suitable for prompts.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("Dataset: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	if r.Sources > 1 {
		b.WriteString(fmt.Sprintf("Sources: %d\n", r.Sources))
	}
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(r.Cols)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		name := safeName(c.Name)
		if c.Unit != "" {
			name = fmt.Sprintf("%s [%s]", name, c.Unit)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", name, c.Kind, c.NonNull, missPct))
		switch c.Kind {
		case "numeric":
			b.WriteString(fmt.Sprintf("; min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
			if c.OutlierThreshold > 0 && c.OutliersCount > 0 {
				b.WriteString(fmt.Sprintf("; outliers: %d above |z|>%.1f (max |z|≈%.2f)", c.OutliersCount, c.OutlierThreshold, c.OutliersMaxAbsZ))
			}
		case "categorical":
			if len(c.TopValues) > 0 {
				b.WriteString("; top: ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if c.Unique > len(c.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", c.Unique))
				}
			}
		case "text":
			if len(c.ExampleTexts) > 0 {
				b.WriteString("; e.g., ")
				for i, ex := range c.ExampleTexts {
					if i > 0 {
						b.WriteString(" | ")
					}
					b.WriteString(safeVal(ex))
				}
			}
		}
		b.WriteString("\n")
	}
	if len(r.Groups) > 1 {
		b.WriteString("\n[PER-SOURCE SUMMARY]\n")
		for _, g := range r.Groups {
			b.WriteString(fmt.Sprintf("- %s (n=%d)\n", g.Key, g.Size))
			keys := make([]string, 0, len(g.Metrics))
			for k := range g.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if len(keys) > 6 {
				keys = keys[:6]
			}
			for _, k := range keys {
				m := g.Metrics[k]
				b.WriteString(fmt.Sprintf("  • %s: mean %.4g (min %.4g, max %.4g)\n", k, m.Mean, m.Min, m.Max))
			}
		}
	}
	if len(r.Samples) > 0 {
		width := 80
		b.WriteString("\n[HEAD AND SAMPLE ROWS]\n")
		b.WriteString("| ")
		for i, h := range r.Header {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeName(h))
		}
		b.WriteString(" |\n| ")
		for i := range r.Header {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString("---")
		}
		b.WriteString(" |\n")
		for _, row := range r.Samples {
			b.WriteString("| ")
			for i := range r.Header {
				if i > 0 {
					b.WriteString(" | ")
				}
				val := ""
				if i < len(row) {
					val = row[i]
				}
				if len(val) > width {
					val = val[:width-3] + "..."
				}
				b.WriteString(safeVal(val))
			}
			b.WriteString(" |\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}
