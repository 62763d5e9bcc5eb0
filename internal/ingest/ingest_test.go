package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

func TestParseCSV_TypesAndSanitize(t *testing.T) {
	in := "\xef\xbb\xbfRegion Name,Yield-2025,Active,Note\nNorth,1.5,true,\n\n South ,NA,false,ok\n"
	f, err := ParseCSV(strings.NewReader(in), CSVOptions{Sanitize: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"region_name", "yield_2025", "active", "note"}, f.Columns)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, []any{"North", 1.5, true, nil}, f.Rows[0])
	assert.Equal(t, []any{"South", nil, false, "ok"}, f.Rows[1])
}

func TestParseCSV_SemicolonAndLimit(t *testing.T) {
	in := "a;b\n1;2\n3;4\n5;6\n"
	f, err := ParseCSV(strings.NewReader(in), CSVOptions{MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, f.Columns)
	assert.Len(t, f.Rows, 2)
}

func TestParseCSV_DuplicateAndBlankHeaders(t *testing.T) {
	f, err := ParseCSV(strings.NewReader("x,x,,x.1\n1,2,3,4\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x.1", "column_3", "x.1.1"}, f.Columns)
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""), CSVOptions{})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestParseCell(t *testing.T) {
	assert.Nil(t, ParseCell("  "))
	assert.Nil(t, ParseCell("NaN"))
	assert.Equal(t, 42.0, ParseCell("42"))
	assert.Equal(t, "2025-01", ParseCell("2025-01"))
	assert.Equal(t, true, ParseCell("TRUE"))
}

func TestFetcher_FetchCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("Name,Value\nx,1\n"))
	}))
	defer srv.Close()

	fetch := NewFetcher(5 * time.Second)
	f, err := fetch.FetchCSV(context.Background(), srv.URL+"/data.csv", CSVOptions{Sanitize: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "value"}, f.Columns)
	assert.Equal(t, 1, f.Len())

	_, err = fetch.FetchCSV(context.Background(), srv.URL+"/missing.csv", CSVOptions{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.NotFound())
}

func TestFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewFetcher(time.Second).Fetch(context.Background(), url+"/x.csv")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

type recordingWriter struct {
	mu     sync.Mutex
	tables map[string]*dataset.Frame
}

func (w *recordingWriter) ReplaceTable(_ context.Context, table string, f *dataset.Frame) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tables[table] = f
	return f.Len(), nil
}

func TestUploadDir(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "Crop Yields.xlsx"), map[string][][]any{
		"North Region": {{"Month", "Yield Tons"}, {"2025-01", 12.5}, {"2025-02", 13}},
	})
	writeWorkbook(t, filepath.Join(dir, "empty.xlsx"), map[string][][]any{
		"Blank": {},
	})

	w := &recordingWriter{tables: map[string]*dataset.Frame{}}
	results, err := UploadDir(context.Background(), dir, w, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "crop_yields_north_region", results[0].Table)
	assert.Equal(t, 2, results[0].Rows)
	assert.True(t, results[1].Skipped)

	f := w.tables["crop_yields_north_region"]
	require.NotNil(t, f)
	assert.Equal(t, []string{"month", "yield_tons"}, f.Columns)
	assert.Equal(t, []any{"2025-01", 12.5}, f.Rows[0])
}

func TestUploadDir_NoWorkbooks(t *testing.T) {
	_, err := UploadDir(context.Background(), t.TempDir(), &recordingWriter{}, 1, nil)
	assert.Error(t, err)
}

func TestWorkbookTableName(t *testing.T) {
	assert.Equal(t, "farmers_registry_forecast_sheet_1", WorkbookTableName("/tmp/Farmers Registry.xlsx", "Forecast Sheet 1"))

	for file, sheet := range map[string]string{
		"e-voucher 2025.xlsx": "Q1-Q2 (draft)",
		"2025 Yields.xlsx":    "Région Nord",
	} {
		name := WorkbookTableName(file, sheet)
		assert.Regexp(t, `^[a-z_][a-z0-9_]*$`, name)
	}
	assert.Equal(t, "e_voucher_2025_q1_q2__draft_", WorkbookTableName("e-voucher 2025.xlsx", "Q1-Q2 (draft)"))
	assert.Equal(t, "_2025_yields_r_gion_nord", WorkbookTableName("2025 Yields.xlsx", "Région Nord"))
}
