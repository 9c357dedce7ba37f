// internal/cache/cache.go
// Package cache provides the two-tier response cache used by the search
// pipeline: an in-process LRU in front of a shared Redis tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ============================================================================
// CATEGORIES
// ============================================================================

// Category scopes cache entries by pipeline stage so each gets its own TTL.
type Category string

const (
	CategoryResponse    Category = "response"
	CategoryEnhancement Category = "enhancement"
	CategorySearch      Category = "search"
	CategoryContent     Category = "content"
	CategoryGeneral     Category = "general"
)

// DefaultKeyPrefix namespaces every key this service writes.
const DefaultKeyPrefix = "llmsearch"

// TTLConfig holds the per-category expiry durations.
type TTLConfig struct {
	Response    time.Duration
	Enhancement time.Duration
	Search      time.Duration
	Content     time.Duration
	General     time.Duration
}

// DefaultTTLConfig returns the production TTLs.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Response:    4 * time.Hour,
		Enhancement: 1 * time.Hour,
		Search:      30 * time.Minute,
		Content:     2 * time.Hour,
		General:     1 * time.Hour,
	}
}

// For returns the TTL for a category, falling back to the general TTL.
func (t TTLConfig) For(category Category) time.Duration {
	switch category {
	case CategoryResponse:
		return t.Response
	case CategoryEnhancement:
		return t.Enhancement
	case CategorySearch:
		return t.Search
	case CategoryContent:
		return t.Content
	default:
		return t.General
	}
}

// ============================================================================
// INTERFACE
// ============================================================================

// Cache is the byte-oriented store the pipeline depends on. Callers marshal
// their own values; keys are logical identifiers (fingerprints, queries,
// URLs) that the implementation namespaces and hashes.
type Cache interface {
	Get(ctx context.Context, key string, category Category) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, category Category)
	Delete(ctx context.Context, key string, category Category)
	Stats() Stats
}

// Stats reports per-tier counters since process start.
type Stats struct {
	MemoryHits    uint64 `json:"memory_hits"`
	MemoryMisses  uint64 `json:"memory_misses"`
	RedisHits     uint64 `json:"redis_hits"`
	RedisMisses   uint64 `json:"redis_misses"`
	RedisErrors   uint64 `json:"redis_errors"`
	Sets          uint64 `json:"sets"`
	Deletes       uint64 `json:"deletes"`
	MemoryEntries int    `json:"memory_entries"`
}

// HitRate returns the fraction of Gets served from either tier. Every Get
// touches memory first, so memory hits plus memory misses is the Get total.
func (s Stats) HitRate() float64 {
	total := s.MemoryHits + s.MemoryMisses
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.RedisHits) / float64(total)
}

// BuildKey produces the namespaced storage key for a logical identifier:
// {prefix}:{category}:{sha256 of id, first 16 hex chars}.
func BuildKey(prefix string, category Category, id string) string {
	sum := sha256.Sum256([]byte(id))
	return prefix + ":" + string(category) + ":" + hex.EncodeToString(sum[:])[:16]
}
