// Package store reads forecast tables from a SQL database or, when that is
// unreachable, from CSV files published over HTTP.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
)

var (
	// ErrTableNotFound is returned when a physical name does not exist.
	ErrTableNotFound = dataset.ErrTableNotFound
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = dataset.ErrUnavailable
	// ErrInvalidName is returned when a table name is not a safe identifier.
	ErrInvalidName = errors.New("invalid table name")
)

var safeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be used unquoted as a table name.
func ValidTableName(name string) bool {
	return len(name) <= 63 && safeIdent.MatchString(name)
}

// Pinger reports whether a store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Source is a readable, pingable store.
type Source interface {
	dataset.Reader
	Pinger
}

// Fallback reads from Primary and, only when Primary is unavailable, from Secondary.
// A table missing from a reachable Primary is not looked up in Secondary.
type Fallback struct {
	Primary   Source
	Secondary dataset.Reader
}

// Read implements dataset.Reader.
func (f *Fallback) Read(ctx context.Context, physical string, limit int) (*dataset.Frame, error) {
	if f.Primary != nil {
		frame, err := f.Primary.Read(ctx, physical, limit)
		if err == nil || !errors.Is(err, ErrUnavailable) || f.Secondary == nil {
			return frame, err
		}
	}
	if f.Secondary == nil {
		return nil, fmt.Errorf("read %s: no source configured: %w", physical, ErrUnavailable)
	}
	return f.Secondary.Read(ctx, physical, limit)
}

// Ping reports the primary's reachability.
func (f *Fallback) Ping(ctx context.Context) error {
	if f.Primary == nil {
		return fmt.Errorf("no database configured: %w", ErrUnavailable)
	}
	return f.Primary.Ping(ctx)
}

// Options selects the configured sources.
type Options struct {
	DatabaseURL string
	Driver      string
	CSVBaseURL  string
	HTTPTimeout time.Duration
}

// Open builds the read path from opt. The returned *SQL is nil when no database is
// configured or it cannot be opened; reads then go straight to the CSV source.
func Open(opt Options, log *zap.Logger) (*Fallback, *SQL) {
	if log == nil {
		log = zap.NewNop()
	}
	fb := &Fallback{}
	var db *SQL
	if opt.DatabaseURL != "" {
		var err error
		db, err = OpenSQL(opt.Driver, opt.DatabaseURL, log.Named("sql"))
		if err != nil {
			log.Warn("database disabled", zap.Error(err))
			db = nil
		} else {
			fb.Primary = db
		}
	}
	if opt.CSVBaseURL != "" {
		fb.Secondary = NewCSVReader(opt.CSVBaseURL, opt.HTTPTimeout)
	}
	return fb, db
}
