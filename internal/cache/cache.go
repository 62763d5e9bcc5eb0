// Package cache is the best-effort cache in front of the aggregator. Backend
// failures never reach callers: reads degrade to misses and writes are dropped.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a key/value store with per-entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
	Name() string
}

// Nop always misses.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
func (Nop) Close() error                                             { return nil }
func (Nop) Name() string                                             { return "none" }

// Stats counts cache outcomes since the cache was created.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// Cache wraps a Backend and swallows its errors.
type Cache struct {
	backend Backend
	log     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// New wraps b; a nil backend behaves like Nop.
func New(b Backend, log *zap.Logger) *Cache {
	if b == nil {
		b = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{backend: b, log: log}
}

// Get returns the stored value and true, or nil and false on a miss or any error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.errs.Add(1)
			c.log.Debug("cache get error", zap.String("backend", c.backend.Name()), zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores value with expiry ttl; failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.errs.Add(1)
		c.log.Debug("cache set error", zap.String("backend", c.backend.Name()), zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key; failures are logged and dropped.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.errs.Add(1)
		c.log.Debug("cache delete error", zap.String("backend", c.backend.Name()), zap.String("key", key), zap.Error(err))
	}
}

// Backend returns the backend name.
func (c *Cache) Backend() string { return c.backend.Name() }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errs.Load()}
}

// Close closes the backend.
func (c *Cache) Close() error { return c.backend.Close() }

// Open selects a backend from rawURL: "" → none, "memory://" → in-process Badger,
// "redis://" or "rediss://" → Redis. A backend that fails to open is logged and
// replaced by Nop so the caller always gets a usable cache.
func Open(ctx context.Context, rawURL string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	b, err := openBackend(ctx, rawURL)
	if err != nil {
		log.Warn("cache not available", zap.Error(err))
		b = Nop{}
	}
	return New(b, log)
}

func openBackend(ctx context.Context, rawURL string) (Backend, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Nop{}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	switch u.Scheme {
	case "memory", "badger":
		return OpenBadger(u.Path)
	case "redis", "rediss":
		return OpenRedis(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
	}
}
