package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/costgate/pkg/clock"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
)

// DefaultTTL is used when New is given a negative TTL.
const DefaultTTL = 24 * time.Hour

// Cache is an exact-match response cache over a Store.
type Cache struct {
	store   Store
	ttl     time.Duration
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry and access times.
func WithClock(c clock.Clock) Option {
	return func(ca *Cache) { ca.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(ca *Cache) { ca.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ca *Cache) { ca.metrics = m }
}

// New creates a Cache. A ttl of 0 stores entries that never expire.
func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store:  store,
		ttl:    ttl,
		clock:  clock.Real{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cache").Logger()
	return c
}

// TTL returns the default TTL applied by Put.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached response for req. Absent, expired and unreadable
// entries are all reported as a miss; only storage failures return an error.
func (c *Cache) Get(ctx context.Context, req Request) (*models.Response, bool, error) {
	key, err := req.Key()
	if err != nil {
		return nil, false, err
	}

	entry, err := c.store.Lookup(ctx, key, c.clock.Now())
	if errors.Is(err, ErrCorruptEntry) {
		c.logger.Warn().Err(err).Str("key", key).Msg("unreadable cache entry treated as miss")
		c.metrics.CacheLookup("corrupt")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if entry == nil {
		c.metrics.CacheLookup("miss")
		return nil, false, nil
	}

	c.metrics.CacheLookup("hit")
	c.logger.Debug().Str("key", key).Int64("hits", entry.HitCount).Msg("cache hit")
	resp := entry.Response
	resp.CacheHit = true
	resp.CacheKey = key
	return &resp, true, nil
}

// Put stores resp for req with the default TTL.
func (c *Cache) Put(ctx context.Context, req Request, resp models.Response) error {
	return c.PutWithTTL(ctx, req, resp, c.ttl)
}

// PutWithTTL stores resp for req. A ttl of 0 never expires. An existing
// entry with the same fingerprint is fully replaced.
func (c *Cache) PutWithTTL(ctx context.Context, req Request, resp models.Response, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("cache put: negative ttl %s", ttl)
	}
	key, err := req.Key()
	if err != nil {
		return err
	}

	if resp.Provider == "" {
		resp.Provider = req.Provider
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	resp.CacheHit = false
	resp.CacheKey = ""
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	now := c.clock.Now()
	entry := models.CacheEntry{
		Key:          key,
		ContentHash:  ComputeContentHash(resp),
		Provider:     req.Provider,
		Model:        req.Model,
		Response:     resp,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}

	if err := c.store.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	c.metrics.CacheWrite()
	return nil
}

// Invalidate removes the entry for req and reports whether one existed.
func (c *Cache) Invalidate(ctx context.Context, req Request) (bool, error) {
	key, err := req.Key()
	if err != nil {
		return false, err
	}
	ok, err := c.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache invalidate: %w", err)
	}
	if ok {
		c.metrics.CacheEvicted("invalidated", 1)
	}
	return ok, nil
}

// ClearProvider removes a provider's entries, narrowed to model when non-empty.
func (c *Cache) ClearProvider(ctx context.Context, provider, model string) (int64, error) {
	n, err := c.store.DeleteProvider(ctx, provider, model)
	if err != nil {
		return 0, fmt.Errorf("cache clear provider: %w", err)
	}
	c.metrics.CacheEvicted("provider", n)
	c.logger.Info().Str("provider", provider).Str("model", model).Int64("removed", n).Msg("cleared provider entries")
	return n, nil
}

// ClearExpired removes entries whose expiry has passed.
func (c *Cache) ClearExpired(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpired(ctx, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cache clear expired: %w", err)
	}
	c.metrics.CacheEvicted("expired", n)
	return n, nil
}

// ClearAll removes every entry.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	c.metrics.CacheEvicted("all", n)
	return n, nil
}

// CleanupBySize evicts least-recently-accessed entries until at most
// maxEntries remain.
func (c *Cache) CleanupBySize(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries < 0 {
		return 0, fmt.Errorf("cache cleanup: negative max entries %d", maxEntries)
	}
	n, err := c.store.Evict(ctx, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}
	c.metrics.CacheEvicted("size", n)
	return n, nil
}

// FindSimilar returns every entry whose response has the given content hash.
func (c *Cache) FindSimilar(ctx context.Context, contentHash string) ([]models.CacheEntry, error) {
	entries, err := c.store.FindByContentHash(ctx, contentHash)
	if err != nil {
		return nil, fmt.Errorf("cache find similar: %w", err)
	}
	return entries, nil
}

// Stats returns cache contents and hit metrics. HitRate is total hits over
// active entries, or 0 when nothing is active.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	stats, err := c.store.Stats(ctx, c.clock.Now())
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	stats.HitRate = 0
	if stats.ActiveEntries > 0 {
		stats.HitRate = float64(stats.TotalHits) / float64(stats.ActiveEntries)
	}
	return stats, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
