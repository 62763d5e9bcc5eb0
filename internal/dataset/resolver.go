package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ForecastSuffix is stripped from logical names to derive shorter physical variants.
const ForecastSuffix = "_forecast"

// DefaultRowLimit bounds every physical read.
const DefaultRowLimit = 10000

var (
	// ErrNotResolved is returned when no physical variant of a dataset could be read.
	ErrNotResolved = errors.New("dataset not resolved")
	// ErrTableNotFound is returned by readers when the physical name does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrUnavailable is returned by readers when the backing store cannot be reached.
	ErrUnavailable = errors.New("source unavailable")
)

// Reader performs a bounded read of one physical table or resource.
type Reader interface {
	Read(ctx context.Context, physical string, limit int) (*Frame, error)
}

// Descriptor is a logical dataset name and the physical names tried for it, in order.
type Descriptor struct {
	Name     string
	Variants []string
}

// NewDescriptor builds a descriptor with the standard variant policy.
func NewDescriptor(name string) Descriptor {
	return Descriptor{Name: name, Variants: Variants(name)}
}

// Descriptors builds descriptors for every logical name, skipping blanks.
func Descriptors(names []string) []Descriptor {
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		out = append(out, NewDescriptor(n))
	}
	return out
}

// Variants returns the physical names tried for a logical name:
// the name as given, lowercased, with ForecastSuffix stripped from the original
// and the lowercased form, and finally spaces replaced by underscores in lowercase.
// Blank candidates are dropped and duplicates keep their first position.
func Variants(name string) []string {
	lower := strings.ToLower(name)
	cands := []string{
		name,
		lower,
		stripSuffix(name),
		stripSuffix(lower),
		strings.ToLower(strings.ReplaceAll(name, " ", "_")),
	}
	seen := make(map[string]bool, len(cands))
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		if strings.TrimSpace(c) == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func stripSuffix(s string) string {
	n := len(ForecastSuffix)
	if len(s) <= n || !strings.EqualFold(s[len(s)-n:], ForecastSuffix) {
		return ""
	}
	return s[:len(s)-n]
}

// Attempt records one variant read.
type Attempt struct {
	Physical string
	Err      error
}

// ResolveError lists every failed attempt for a dataset.
type ResolveError struct {
	Name     string
	Attempts []Attempt
}

func (e *ResolveError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Physical, a.Err))
	}
	return fmt.Sprintf("resolve %s: no variant readable (%s)", e.Name, strings.Join(parts, "; "))
}

func (e *ResolveError) Unwrap() error { return ErrNotResolved }

// Unreachable reports whether every attempt failed because the store was unavailable.
func (e *ResolveError) Unreachable() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !errors.Is(a.Err, ErrUnavailable) {
			return false
		}
	}
	return true
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Name     string
	Physical string
	Frame    *Frame
	Attempts []Attempt
}

// Resolver tries the variants of a descriptor against a Reader until one succeeds.
type Resolver struct {
	reader   Reader
	rowLimit int
}

// NewResolver creates a resolver; rowLimit <= 0 selects DefaultRowLimit.
func NewResolver(r Reader, rowLimit int) *Resolver {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Resolver{reader: r, rowLimit: rowLimit}
}

// Resolve returns the first variant that reads without error. A table that exists but
// holds zero rows counts as found and stops the search.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) (*Resolution, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("resolve: empty dataset name")
	}
	variants := d.Variants
	if len(variants) == 0 {
		variants = Variants(d.Name)
	}
	var attempts []Attempt
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := r.reader.Read(ctx, v, r.rowLimit)
		if err == nil && f != nil {
			return &Resolution{Name: d.Name, Physical: v, Frame: f, Attempts: attempts}, nil
		}
		if err == nil {
			err = ErrTableNotFound
		}
		attempts = append(attempts, Attempt{Physical: v, Err: err})
	}
	return nil, &ResolveError{Name: d.Name, Attempts: attempts}
}
