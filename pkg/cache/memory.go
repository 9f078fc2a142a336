package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CacheEntry)}
}

func (s *MemoryStore) Lookup(_ context.Context, key string, now time.Time) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		return nil, nil
	}
	e.HitCount++
	e.LastAccessed = now
	s.entries[key] = e

	out := cloneEntry(e)
	return &out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, entry models.CacheEntry) error {
	s.mu.Lock()
	s.entries[entry.Key] = cloneEntry(entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *MemoryStore) DeleteProvider(_ context.Context, provider, model string) (int64, error) {
	return s.deleteWhere(func(e models.CacheEntry) bool {
		return e.Provider == provider && (model == "" || e.Model == model)
	}), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return s.deleteWhere(func(e models.CacheEntry) bool { return e.Expired(now) }), nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	return s.deleteWhere(func(models.CacheEntry) bool { return true }), nil
}

func (s *MemoryStore) deleteWhere(match func(models.CacheEntry) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if match(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Evict(_ context.Context, maxEntries int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.entries) - maxEntries
	if excess <= 0 {
		return 0, nil
	}
	all := make([]models.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastAccessed.Equal(all[j].LastAccessed) {
			return all[i].LastAccessed.Before(all[j].LastAccessed)
		}
		return all[i].Key < all[j].Key
	})
	for _, e := range all[:excess] {
		delete(s.entries, e.Key)
	}
	return int64(excess), nil
}

func (s *MemoryStore) FindByContentHash(_ context.Context, hash string) ([]models.CacheEntry, error) {
	s.mu.Lock()
	var out []models.CacheEntry
	for _, e := range s.entries {
		if e.ContentHash == hash {
			out = append(out, cloneEntry(e))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (models.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.CacheStats
	type pm struct{ provider, model string }
	byModel := make(map[pm]*models.ProviderStats)
	for _, e := range s.entries {
		stats.TotalEntries++
		if e.Expired(now) {
			stats.ExpiredEntries++
		} else {
			stats.ActiveEntries++
		}
		stats.TotalHits += e.HitCount

		k := pm{e.Provider, e.Model}
		ps, ok := byModel[k]
		if !ok {
			ps = &models.ProviderStats{Provider: e.Provider, Model: e.Model}
			byModel[k] = ps
		}
		ps.Entries++
		ps.Hits += e.HitCount
	}

	stats.ProviderStats = make([]models.ProviderStats, 0, len(byModel))
	for _, ps := range byModel {
		stats.ProviderStats = append(stats.ProviderStats, *ps)
	}
	sort.Slice(stats.ProviderStats, func(i, j int) bool {
		a, b := stats.ProviderStats[i], stats.ProviderStats[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Model < b.Model
	})
	return stats, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneEntry(e models.CacheEntry) models.CacheEntry {
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		e.ExpiresAt = &t
	}
	if e.Response.Usage != nil {
		u := *e.Response.Usage
		e.Response.Usage = &u
	}
	return e
}
