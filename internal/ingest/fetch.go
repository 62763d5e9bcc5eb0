package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

// StatusError is returned when a remote source answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// NotFound reports whether the remote resource does not exist.
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// Fetcher downloads remote CSV documents.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher creates a fetcher with the given timeout; timeout <= 0 keeps resty's default.
func NewFetcher(timeout time.Duration) *Fetcher {
	c := resty.New().
		SetHeader("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5").
		SetHeader("User-Agent", "forecastdesk")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Fetcher{client: c}
}

// Fetch returns the body of url. Transport failures are wrapped; non-2xx answers
// are reported as *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// FetchCSV downloads and parses a CSV document.
func (f *Fetcher) FetchCSV(ctx context.Context, url string, opt CSVOptions) (*dataset.Frame, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	frame, err := ParseCSV(bytes.NewReader(body), opt)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return frame, nil
}
