package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

var yieldScores = []float64{10, 11, 9.5, 10.5, 9.8, 10.2, 8.8, 9.7, 50}

func fixtureTable() *dataset.Table {
	yield := &dataset.Frame{Columns: []string{"Month", "Yield (t/ha)", "Region"}}
	regions := []string{"north", "north", "south", "north", "south", "east", "north", "south", "north"}
	for i, v := range yieldScores {
		month := "2025-0" + string(rune('1'+i))
		yield.Rows = append(yield.Rows, []any{month, v, regions[i]})
	}
	vouchers := &dataset.Frame{
		Columns: []string{"Month", "Vouchers", "Comment"},
		Rows: [][]any{
			{"2025-01", "1,200", "steady uptake"},
			{"2025-02", "1.350,5", nil},
			{"2025-03", 1400.0, "new districts onboarded"},
		},
	}
	return dataset.Concat([]dataset.Part{
		{Source: "Yield_Food_Security_Forecast", Frame: yield},
		{Source: "E_Voucher_Forecast", Frame: vouchers},
	})
}

func TestProfileColumns(t *testing.T) {
	rep := Profile("all", fixtureTable(), DefaultOptions())
	if rep.Rows != 12 || rep.Sources != 2 {
		t.Fatalf("rows/sources = %d/%d", rep.Rows, rep.Sources)
	}
	if len(rep.Cols) != 5 {
		t.Fatalf("cols = %d, want 5", len(rep.Cols))
	}

	month := columnByName(t, rep, "Month")
	if month.Kind != "datetime" || month.NonNull != 12 {
		t.Fatalf("month = %#v", month)
	}

	yield := columnByName(t, rep, "Yield")
	if yield.Unit != "t/ha" || yield.Kind != "numeric" {
		t.Fatalf("yield unit/kind = %q/%q", yield.Unit, yield.Kind)
	}
	if yield.Missing != 3 {
		t.Fatalf("yield missing = %d, want 3", yield.Missing)
	}
	checkStats(t, yield, yieldScores)
	if yield.OutliersCount != 1 {
		t.Fatalf("yield outliers = %d, want 1", yield.OutliersCount)
	}

	vouchers := columnByName(t, rep, "Vouchers")
	checkStats(t, vouchers, []float64{1200, 1350.5, 1400})

	region := columnByName(t, rep, "Region")
	if region.Kind != "categorical" || region.TopValues[0].Value != "north" || region.TopValues[0].Count != 5 {
		t.Fatalf("region = %#v", region)
	}

	comment := columnByName(t, rep, "Comment")
	if comment.Kind != "text" || len(comment.ExampleTexts) != 2 {
		t.Fatalf("comment = %#v", comment)
	}
}

func TestProfileGroupsAndSamples(t *testing.T) {
	opt := DefaultOptions()
	opt.SampleRows = 2
	rep := Profile("all", fixtureTable(), opt)

	if len(rep.Groups) != 2 {
		t.Fatalf("groups = %d", len(rep.Groups))
	}
	if rep.Groups[0].Key != "Yield_Food_Security_Forecast" || rep.Groups[0].Size != 9 {
		t.Fatalf("first group = %#v", rep.Groups[0])
	}
	m := rep.Groups[1].Metrics["Vouchers"]
	if m.Count != 3 || m.Min != 1200 || m.Max != 1400 {
		t.Fatalf("voucher metrics = %#v", m)
	}

	if len(rep.Samples) != 4 {
		t.Fatalf("samples = %d, want 2 per source", len(rep.Samples))
	}
	if rep.Header[0] != dataset.SourceColumn {
		t.Fatalf("header = %v", rep.Header)
	}
	if rep.Samples[2][0] != "E_Voucher_Forecast" || rep.Samples[2][4] != "1,200" {
		t.Fatalf("voucher sample = %v", rep.Samples[2])
	}
}

func TestProfileMarkdown(t *testing.T) {
	md := Profile("all", fixtureTable(), DefaultOptions()).Markdown()
	for _, want := range []string{
		"[DATASET SUMMARY]",
		"Dataset: all",
		"Rows: 12",
		"Sources: 2",
		"- Yield [t/ha]: numeric",
		"outliers: 1 above |z|>3.5",
		"- Region: categorical (non-null 9, missing 25.0%); top: north(5)",
		"[PER-SOURCE SUMMARY]",
		"- E_Voucher_Forecast (n=3)",
		"[HEAD AND SAMPLE ROWS]",
		"| Source_Sheet | Month |",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestProfileEmptyColumnWarning(t *testing.T) {
	tbl := dataset.Concat([]dataset.Part{{Source: "A", Frame: &dataset.Frame{
		Columns: []string{"x", "blank"},
		Rows:    [][]any{{1.0, nil}, {2.0, nil}},
	}}})
	rep := Profile("", tbl, DefaultOptions())
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], `"blank"`) {
		t.Fatalf("warnings = %v", rep.Warnings)
	}
	if strings.Contains(rep.Markdown(), "[PER-SOURCE SUMMARY]") {
		t.Fatalf("single source should not render per-source section")
	}
}

func TestProfileNilTable(t *testing.T) {
	rep := Profile("none", nil, DefaultOptions())
	if rep.Rows != 0 || len(rep.Cols) != 0 {
		t.Fatalf("unexpected report %#v", rep)
	}
}

func TestParseNumeric(t *testing.T) {
	cases := map[string]float64{
		"42":      42,
		"1,234":   1234,
		"1,234.5": 1234.5,
		"1.234,5": 1234.5,
		"0,5":     0.5,
		"12%":     12,
		"1e3":     1000,
	}
	for in, want := range cases {
		got, ok := parseNumeric(in)
		if !ok || !almostEqual(got, want, 1e-9) {
			t.Fatalf("parseNumeric(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "north", "2025-01", "NaN", "inf"} {
		if _, ok := parseNumeric(in); ok {
			t.Fatalf("parseNumeric(%q) should fail", in)
		}
	}
}

func columnByName(t *testing.T, rep *Report, name string) ColumnSummary {
	t.Helper()
	for _, c := range rep.Cols {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not found", name)
	return ColumnSummary{}
}

func checkStats(t *testing.T, col ColumnSummary, vals []float64) {
	t.Helper()
	min, max := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range vals {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(len(vals))
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(vals)-1))
	if !almostEqual(col.Min, min, 1e-9) || !almostEqual(col.Max, max, 1e-9) {
		t.Fatalf("%s min/max = %v/%v, want %v/%v", col.Name, col.Min, col.Max, min, max)
	}
	if !almostEqual(col.Mean, mean, 1e-9) || !almostEqual(col.Std, std, 1e-9) {
		t.Fatalf("%s mean/std = %v/%v, want %v/%v", col.Name, col.Mean, col.Std, mean, std)
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
