// Package cache is a content-addressed response cache for LLM calls.
//
// Entries are keyed by a fingerprint of the exact request and carry a
// content hash of the response so identical answers to different requests
// can be found. Persistence sits behind Store; see the sqlite subpackage
// for the on-disk backend.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

// ErrCorruptEntry is returned by a Store when a stored payload cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Store persists cache entries. Every mutating call must be atomic.
type Store interface {
	// Lookup returns the live entry for key and records the hit
	// (hit_count+1, last_accessed=now) in the same transaction.
	// Absent and expired entries return nil, nil. A row whose payload
	// cannot be decoded returns an error wrapping ErrCorruptEntry and is
	// left untouched.
	Lookup(ctx context.Context, key string, now time.Time) (*models.CacheEntry, error)
	// Upsert writes entry, replacing any entry with the same key.
	Upsert(ctx context.Context, entry models.CacheEntry) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteProvider removes a provider's entries, narrowed to model when non-empty.
	DeleteProvider(ctx context.Context, provider, model string) (int64, error)
	// DeleteExpired removes entries whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteAll removes every entry.
	DeleteAll(ctx context.Context) (int64, error)
	// Evict removes least-recently-accessed entries (ties by key) until at
	// most maxEntries remain.
	Evict(ctx context.Context, maxEntries int) (int64, error)
	// FindByContentHash returns every entry with the given content hash.
	FindByContentHash(ctx context.Context, hash string) ([]models.CacheEntry, error)
	// Stats summarizes the store at now. HitRate is left to the caller.
	Stats(ctx context.Context, now time.Time) (models.CacheStats, error)
	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)
	// Close releases resources.
	Close() error
}
