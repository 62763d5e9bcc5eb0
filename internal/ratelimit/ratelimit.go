// Package ratelimit counts requests per client address in fixed one-minute windows.
package ratelimit

import (
	"strconv"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the counter map; it is cleared wholesale once exceeded.
const DefaultMaxKeys = 10000

// Limiter is a fixed-window counter keyed by "addr:window".
// A zero or negative limit disables limiting.
type Limiter struct {
	limit   int
	window  time.Duration
	maxKeys int
	now     func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithWindow changes the window length from one minute.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithMaxKeys changes the size at which the counter map is cleared.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// New returns a limiter admitting limit requests per address per window.
func New(limit int, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  time.Minute,
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
		counts:  map[string]int{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow records a request from addr and reports whether it is within the limit.
// Rejected requests are not counted.
func (l *Limiter) Allow(addr string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	window := l.now().UnixNano() / int64(l.window)
	key := addr + ":" + strconv.FormatInt(window, 10)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.counts[key]
	if n >= l.limit {
		return false
	}
	l.counts[key] = n + 1
	if len(l.counts) > l.maxKeys {
		clear(l.counts)
	}
	return true
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int { return l.limit }

// Len reports how many counters are held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
