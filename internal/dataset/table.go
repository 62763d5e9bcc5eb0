// Package dataset resolves logical forecast datasets to physical tables and
// unions them into one source-tagged table.
package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// SourceColumn is the column name used when a Table is flattened to records.
const SourceColumn = "Source_Sheet"

// Frame is the result of one physical read: ordered columns and row cells.
// Cells are normalized with Normalize.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Record is one row of the aggregated table tagged with its logical dataset name.
// Values align with Table.Columns.
type Record struct {
	Source string `json:"source"`
	Values []any  `json:"values"`
}

// Table is the union of all resolved frames. Columns are the ordered union of every
// source schema; cells a source does not define are nil.
type Table struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// Part is a resolved frame and the logical name it was resolved for.
type Part struct {
	Source string
	Frame  *Frame
}

// Concat unions parts into one Table, preserving part order and row order.
// Cells and column names are normalized on the way in.
func Concat(parts []Part) *Table {
	t := &Table{Columns: []string{}, Records: []Record{}}
	index := map[string]int{}
	for _, p := range parts {
		if p.Frame == nil {
			continue
		}
		for _, c := range p.Frame.Columns {
			c = strings.ToValidUTF8(c, "\uFFFD")
			if _, ok := index[c]; !ok {
				index[c] = len(t.Columns)
				t.Columns = append(t.Columns, c)
			}
		}
	}
	for _, p := range parts {
		if p.Frame == nil {
			continue
		}
		pos := make([]int, len(p.Frame.Columns))
		for i, c := range p.Frame.Columns {
			pos[i] = index[strings.ToValidUTF8(c, "\uFFFD")]
		}
		for _, row := range p.Frame.Rows {
			vals := make([]any, len(t.Columns))
			for i, v := range row {
				if i < len(pos) {
					vals[pos[i]] = Normalize(v)
				}
			}
			t.Records = append(t.Records, Record{Source: p.Source, Values: vals})
		}
	}
	return t
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Empty reports whether the table holds no records.
func (t *Table) Empty() bool { return t.Len() == 0 }

// ColumnIndex returns the position of a column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Sources returns the distinct record sources in order of first appearance.
func (t *Table) Sources() []string {
	if t == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range t.Records {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}

// CountBySource returns the number of records per source.
func (t *Table) CountBySource() map[string]int {
	out := map[string]int{}
	if t == nil {
		return out
	}
	for _, r := range t.Records {
		out[r.Source]++
	}
	return out
}

// Head returns a table with at most n records per source, keeping the column set.
func (t *Table) Head(n int) *Table {
	out := &Table{Columns: t.Columns, Records: []Record{}}
	taken := map[string]int{}
	for _, r := range t.Records {
		if taken[r.Source] >= n {
			continue
		}
		taken[r.Source]++
		out.Records = append(out.Records, r)
	}
	return out
}

// Filter returns the records of one source.
func (t *Table) Filter(source string) *Table {
	out := &Table{Columns: t.Columns, Records: []Record{}}
	for _, r := range t.Records {
		if r.Source == source {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

// Maps flattens records to column->value maps including SourceColumn.
// Columns that are nil for a record are omitted only when omitNil is set.
func (t *Table) Maps(omitNil bool) []map[string]any {
	out := make([]map[string]any, 0, t.Len())
	for _, r := range t.Records {
		m := make(map[string]any, len(t.Columns)+1)
		for i, c := range t.Columns {
			var v any
			if i < len(r.Values) {
				v = r.Values[i]
			}
			if v == nil && omitNil {
				continue
			}
			m[c] = v
		}
		m[SourceColumn] = r.Source
		out = append(out, m)
	}
	return out
}

// Normalize converts a driver or parser value to one of nil, float64, string, bool.
// Integers widen to float64, times render as RFC 3339 and invalid UTF-8 becomes
// U+FFFD so that a JSON round-trip reproduces the same value.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return strings.ToValidUTF8(x, "\uFFFD")
	case []byte:
		return strings.ToValidUTF8(string(x), "\uFFFD")
	case bool:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return Normalize(float64(x))
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Format renders a normalized cell for prompts and CSV output.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%.0f", x)
		}
		return fmt.Sprintf("%.4g", x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// Snapshot is one aggregation result as served to requests.
type Snapshot struct {
	Table    *Table            `json:"table"`
	Resolved map[string]string `json:"resolved"`
	Missing  []string          `json:"missing"`
	BuiltAt  time.Time         `json:"built_at"`
	// Cached is set when the snapshot was served from the cache.
	Cached bool `json:"-"`
}

// Encode serializes a snapshot for the cache.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses a cached snapshot. Anything that does not decode to a
// table is rejected so that the caller treats it as a miss.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Table == nil {
		return nil, fmt.Errorf("decode snapshot: missing table")
	}
	for i, r := range s.Table.Records {
		if len(r.Values) != len(s.Table.Columns) {
			return nil, fmt.Errorf("decode snapshot: record %d has %d values for %d columns", i, len(r.Values), len(s.Table.Columns))
		}
	}
	if s.Resolved == nil {
		s.Resolved = map[string]string{}
	}
	return &s, nil
}
