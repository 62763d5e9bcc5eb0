package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/ingest"
)

// CSVReader reads "<base>/<physical>.csv" over HTTP.
type CSVReader struct {
	base  string
	fetch *ingest.Fetcher
}

// NewCSVReader creates a reader for CSV files published under baseURL.
func NewCSVReader(baseURL string, timeout time.Duration) *CSVReader {
	return &CSVReader{base: strings.TrimRight(baseURL, "/"), fetch: ingest.NewFetcher(timeout)}
}

// URL returns the resource address for a physical name.
func (c *CSVReader) URL(physical string) string {
	return c.base + "/" + url.PathEscape(physical) + ".csv"
}

// Read implements dataset.Reader. A 404 maps to ErrTableNotFound; transport
// failures and other statuses map to ErrUnavailable.
func (c *CSVReader) Read(ctx context.Context, physical string, limit int) (*dataset.Frame, error) {
	if strings.TrimSpace(physical) == "" {
		return nil, fmt.Errorf("read: empty name: %w", ErrTableNotFound)
	}
	f, err := c.fetch.FetchCSV(ctx, c.URL(physical), ingest.CSVOptions{MaxRows: limit})
	if err == nil {
		return f, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var se *ingest.StatusError
	if errors.As(err, &se) && se.NotFound() {
		return nil, fmt.Errorf("%v: %w", err, ErrTableNotFound)
	}
	if errors.Is(err, ingest.ErrEmpty) {
		return &dataset.Frame{Columns: []string{}, Rows: [][]any{}}, nil
	}
	return nil, fmt.Errorf("%v: %w", err, ErrUnavailable)
}

// Ping always succeeds; availability is decided per file.
func (c *CSVReader) Ping(context.Context) error { return nil }
