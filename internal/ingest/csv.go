// Package ingest turns CSV and Excel sources into dataset frames ready to be
// written to the store.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// ErrEmpty is returned when a source has no header row.
var ErrEmpty = errors.New("no header row")

// CSVOptions controls CSV parsing.
type CSVOptions struct {
	// Delimiter; if 0, auto-detects among ',', ';', '\t' from the header line.
	Delimiter rune
	// MaxRows limits rows read; 0 means unlimited.
	MaxRows int
	// Sanitize rewrites header names with SanitizeColumn.
	Sanitize bool
}

// ParseCSV reads a CSV document into a Frame. Cells are typed with ParseCell.
func ParseCSV(r io.Reader, opt CSVOptions) (*dataset.Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(data)
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := header
	if opt.Sanitize {
		cols = SanitizeColumns(header)
	}
	cols = dedupe(cols)

	f := &dataset.Frame{Columns: cols, Rows: [][]any{}}
	for {
		if opt.MaxRows > 0 && len(f.Rows) >= opt.MaxRows {
			break
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(f.Rows)+2, err)
		}
		if blank(rec) {
			continue
		}
		row := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) {
				row[i] = ParseCell(rec[i])
			}
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// ParseCell types a raw text cell: blank and NA markers become nil, numbers become
// float64, true/false become bool, anything else stays a trimmed string.
func ParseCell(s string) any {
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "", "na", "n/a", "nan", "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return dataset.Normalize(f)
	}
	return v
}

// SanitizeColumn trims and lowercases a header and replaces spaces and dashes with
// underscores.
func SanitizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}

// SanitizeColumns applies SanitizeColumn to every header.
func SanitizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = SanitizeColumn(c)
	}
	return out
}

func dedupe(cols []string) []string {
	out := make([]string, len(cols))
	used := map[string]bool{}
	for i, c := range cols {
		if c == "" {
			c = fmt.Sprintf("column_%d", i+1)
		}
		name := c
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", c, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
