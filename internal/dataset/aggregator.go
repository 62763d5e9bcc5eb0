package dataset

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheKey is the fixed key the aggregate is cached under.
const DefaultCacheKey = "forecastdesk:all_sheets_v2"

// DefaultCacheTTL is the aggregate expiry.
const DefaultCacheTTL = 300 * time.Second

// Cache is the best-effort cache the aggregator reads through. Implementations
// swallow backend failures: a failed Get is a miss and a failed Set is dropped.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (nopCache) Set(context.Context, string, []byte, time.Duration) {}
func (nopCache) Delete(context.Context, string)                     {}

// AggregatorConfig configures which datasets are loaded and how results are cached.
type AggregatorConfig struct {
	Datasets []string
	CacheKey string
	CacheTTL time.Duration
}

// Aggregator resolves every configured dataset and unions the results.
type Aggregator struct {
	resolver    *Resolver
	descriptors []Descriptor
	cache       Cache
	key         string
	ttl         time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewAggregator wires a resolver and cache. A nil cache always misses.
func NewAggregator(resolver *Resolver, cache Cache, cfg AggregatorConfig, log *zap.Logger) *Aggregator {
	if cache == nil {
		cache = nopCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CacheKey == "" {
		cfg.CacheKey = DefaultCacheKey
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Aggregator{
		resolver:    resolver,
		descriptors: Descriptors(cfg.Datasets),
		cache:       cache,
		key:         cfg.CacheKey,
		ttl:         cfg.CacheTTL,
		log:         log,
		now:         time.Now,
	}
}

// Datasets returns the configured descriptors.
func (a *Aggregator) Datasets() []Descriptor { return a.descriptors }

// Load returns the cached snapshot when one decodes, otherwise rebuilds it from the
// sources and writes it back. Only context cancellation is reported as an error.
func (a *Aggregator) Load(ctx context.Context) (*Snapshot, error) {
	if data, ok := a.cache.Get(ctx, a.key); ok {
		snap, err := DecodeSnapshot(data)
		if err == nil {
			snap.Cached = true
			return snap, nil
		}
		a.log.Debug("discarding undecodable cache entry", zap.String("key", a.key), zap.Error(err))
	}
	snap, err := a.Build(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Table.Empty() {
		return snap, nil
	}
	data, err := snap.Encode()
	if err != nil {
		a.log.Debug("skip caching aggregate", zap.Error(err))
		return snap, nil
	}
	a.cache.Set(ctx, a.key, data, a.ttl)
	return snap, nil
}

// Build resolves every dataset without consulting the cache. Datasets that do not
// resolve are listed in Snapshot.Missing; they never abort the others.
func (a *Aggregator) Build(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Resolved: map[string]string{}, Missing: []string{}}
	parts := make([]Part, 0, len(a.descriptors))
	for _, d := range a.descriptors {
		res, err := a.resolver.Resolve(ctx, d)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var rerr *ResolveError
			if errors.As(err, &rerr) && rerr.Unreachable() {
				a.log.Debug("dataset source unreachable", zap.String("dataset", d.Name))
			} else {
				a.log.Debug("no table found for dataset", zap.String("dataset", d.Name), zap.Error(err))
			}
			snap.Missing = append(snap.Missing, d.Name)
			continue
		}
		snap.Resolved[d.Name] = res.Physical
		parts = append(parts, Part{Source: d.Name, Frame: res.Frame})
	}
	snap.Table = Concat(parts)
	snap.BuiltAt = a.now().UTC()
	a.log.Info("aggregate built",
		zap.Int("rows", snap.Table.Len()),
		zap.Int("resolved", len(snap.Resolved)),
		zap.Int("missing", len(snap.Missing)))
	return snap, nil
}

// Lookup resolves a single logical name, which need not be configured, and returns
// its rows tagged with that name.
func (a *Aggregator) Lookup(ctx context.Context, name string) (*Table, string, error) {
	res, err := a.resolver.Resolve(ctx, NewDescriptor(name))
	if err != nil {
		return nil, "", err
	}
	return Concat([]Part{{Source: name, Frame: res.Frame}}), res.Physical, nil
}

// Invalidate drops the cached aggregate.
func (a *Aggregator) Invalidate(ctx context.Context) {
	a.cache.Delete(ctx, a.key)
}
