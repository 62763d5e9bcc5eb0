package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// Sheet is one worksheet of a workbook read as a frame.
type Sheet struct {
	Name  string
	Frame *dataset.Frame
}

// ReadWorkbook reads every worksheet. The first row of a sheet is its header;
// headers are sanitized and cells typed with ParseCell. Sheets without a header
// are returned with a nil Frame.
func ReadWorkbook(r io.Reader) ([]Sheet, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	var out []Sheet
	for _, name := range file.GetSheetList() {
		rows, err := file.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		out = append(out, Sheet{Name: name, Frame: rowsToFrame(rows)})
	}
	return out, nil
}

func rowsToFrame(rows [][]string) *dataset.Frame {
	if len(rows) == 0 || blank(rows[0]) {
		return nil
	}
	cols := dedupe(SanitizeColumns(rows[0]))
	f := &dataset.Frame{Columns: cols, Rows: [][]any{}}
	for _, rec := range rows[1:] {
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
	return f
}

// WorkbookTableName derives the physical table for a sheet: "<file>_<sheet>",
// lowercased, with every character outside [a-z0-9_] replaced by an underscore.
// A leading digit gets an underscore prefix so the result is always a safe identifier.
func WorkbookTableName(file, sheet string) string {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(stem+"_"+sheet))
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// TableWriter replaces a physical table with the given frame.
type TableWriter interface {
	ReplaceTable(ctx context.Context, table string, f *dataset.Frame) (int, error)
}

// Result reports what happened to one sheet during an upload.
type Result struct {
	File    string
	Sheet   string
	Table   string
	Rows    int
	Skipped bool
	Err     error
}

// UploadDir loads every .xlsx workbook in dir and replaces one table per non-empty
// sheet. Workbooks are parsed concurrently (up to workers at a time) and written in
// file order. A write failure is recorded on its Result and does not stop the others.
func UploadDir(ctx context.Context, dir string, w TableWriter, workers int, log *zap.Logger) ([]Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no .xlsx files in %s", dir)
	}

	books := make([][]Sheet, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			if err := gctx.Err(); err != nil {
				return err
			}
			sheets, err := ReadWorkbook(f)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			books[i] = sheets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []Result
	for i, path := range files {
		log.Info("processing workbook", zap.String("file", filepath.Base(path)))
		for _, s := range books[i] {
			res := Result{File: filepath.Base(path), Sheet: s.Name, Table: WorkbookTableName(path, s.Name)}
			if s.Frame == nil || s.Frame.Len() == 0 {
				res.Skipped = true
				log.Info("skipping empty sheet", zap.String("sheet", s.Name))
				results = append(results, res)
				continue
			}
			n, err := w.ReplaceTable(ctx, res.Table, s.Frame)
			res.Rows, res.Err = n, err
			if err != nil {
				log.Warn("upload sheet failed", zap.String("table", res.Table), zap.Error(err))
			} else {
				log.Info("uploaded sheet", zap.String("table", res.Table), zap.Int("rows", n))
			}
			results = append(results, res)
		}
	}
	return results, nil
}
