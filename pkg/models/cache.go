package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingField is returned when a Response lacks a required field.
var ErrMissingField = errors.New("missing required field")

// Message is a single chat message in a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage holds token counts reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a completed LLM response as stored in the cache.
// Content, Model and Provider are required.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Usage        *Usage `json:"usage,omitempty"`
	ID           string `json:"id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Created      int64  `json:"created,omitempty"`

	// Set on responses served from the cache.
	CacheHit bool   `json:"_cache_hit,omitempty"`
	CacheKey string `json:"_cache_key,omitempty"`
}

// Validate reports the first missing required field.
func (r Response) Validate() error {
	switch {
	case r.Content == "":
		return fmt.Errorf("%w: content", ErrMissingField)
	case r.Model == "":
		return fmt.Errorf("%w: model", ErrMissingField)
	case r.Provider == "":
		return fmt.Errorf("%w: provider", ErrMissingField)
	}
	return nil
}

// CacheEntry stores a cached LLM response keyed by request fingerprint.
type CacheEntry struct {
	Key          string     `json:"key"`
	ContentHash  string     `json:"content_hash"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Response     Response   `json:"response"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"` // nil never expires
	HitCount     int64      `json:"hit_count"`
	LastAccessed time.Time  `json:"last_accessed"`
}

// Expired reports whether the entry has expired at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// ProviderStats breaks cache usage down by provider and model.
type ProviderStats struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Entries  int64  `json:"entries"`
	Hits     int64  `json:"hits"`
}

// CacheStats reports cache contents and hit metrics.
type CacheStats struct {
	TotalEntries   int64           `json:"total_entries"`
	ActiveEntries  int64           `json:"active_entries"`
	ExpiredEntries int64           `json:"expired_entries"`
	TotalHits      int64           `json:"total_hits"`
	HitRate        float64         `json:"hit_rate"`
	ProviderStats  []ProviderStats `json:"provider_stats"`
}
