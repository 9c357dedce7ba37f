// internal/cache/tiered.go
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/common/metrics"
)

// redisWriteTimeout bounds the asynchronous cross-tier write.
const redisWriteTimeout = 2 * time.Second

// Tiered composes the memory and Redis tiers behind the Cache interface.
// Reads check memory first and fall through to Redis; a Redis hit backfills
// memory. Writes land in memory synchronously and in Redis from a detached
// goroutine so callers never block on the shared tier. With a nil Redis tier
// the cache runs memory-only.
type Tiered struct {
	memory *Memory
	redis  *Redis
	ttls   TTLConfig
	prefix string
	logger logger.Logger

	memoryHits   atomic.Uint64
	memoryMisses atomic.Uint64
	redisHits    atomic.Uint64
	redisMisses  atomic.Uint64
	redisErrors  atomic.Uint64
	sets         atomic.Uint64
	deletes      atomic.Uint64
}

func NewTiered(memory *Memory, redis *Redis, ttls TTLConfig, prefix string, log logger.Logger) *Tiered {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Tiered{
		memory: memory,
		redis:  redis,
		ttls:   ttls,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "cache"}),
	}
}

func (t *Tiered) Get(ctx context.Context, key string, category Category) ([]byte, bool) {
	storageKey := BuildKey(t.prefix, category, key)

	if data, ok := t.memory.Get(storageKey); ok {
		t.memoryHits.Add(1)
		metrics.CacheOperations.WithLabelValues("memory", "hit").Inc()
		return data, true
	}
	t.memoryMisses.Add(1)
	metrics.CacheOperations.WithLabelValues("memory", "miss").Inc()

	if t.redis == nil {
		return nil, false
	}

	data, found, err := t.redis.Get(ctx, storageKey)
	if err != nil {
		t.redisErrors.Add(1)
		metrics.CacheOperations.WithLabelValues("redis", "error").Inc()
		t.logger.Warn("redis get failed, treating as miss", map[string]interface{}{
			"key":   storageKey,
			"error": err,
		})
		return nil, false
	}
	if !found {
		t.redisMisses.Add(1)
		metrics.CacheOperations.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}

	t.redisHits.Add(1)
	metrics.CacheOperations.WithLabelValues("redis", "hit").Inc()
	t.memory.Set(storageKey, data, t.ttls.For(category))
	return data, true
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, category Category) {
	storageKey := BuildKey(t.prefix, category, key)
	ttl := t.ttls.For(category)

	t.memory.Set(storageKey, value, ttl)
	t.sets.Add(1)
	metrics.CacheOperations.WithLabelValues("memory", "set").Inc()

	if t.redis == nil {
		return
	}

	go func(parent context.Context) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), redisWriteTimeout)
		defer cancel()

		if err := t.redis.Set(writeCtx, storageKey, value, ttl); err != nil {
			t.redisErrors.Add(1)
			metrics.CacheOperations.WithLabelValues("redis", "error").Inc()
			t.logger.Warn("redis set failed", map[string]interface{}{
				"key":   storageKey,
				"error": err,
			})
			return
		}
		metrics.CacheOperations.WithLabelValues("redis", "set").Inc()
	}(ctx)
}

func (t *Tiered) Delete(ctx context.Context, key string, category Category) {
	storageKey := BuildKey(t.prefix, category, key)

	t.memory.Delete(storageKey)
	t.deletes.Add(1)

	if t.redis == nil {
		return
	}
	if err := t.redis.Delete(ctx, storageKey); err != nil {
		t.redisErrors.Add(1)
		t.logger.Warn("redis delete failed", map[string]interface{}{
			"key":   storageKey,
			"error": err,
		})
	}
}

func (t *Tiered) Stats() Stats {
	return Stats{
		MemoryHits:    t.memoryHits.Load(),
		MemoryMisses:  t.memoryMisses.Load(),
		RedisHits:     t.redisHits.Load(),
		RedisMisses:   t.redisMisses.Load(),
		RedisErrors:   t.redisErrors.Load(),
		Sets:          t.sets.Load(),
		Deletes:       t.deletes.Load(),
		MemoryEntries: t.memory.Len(),
	}
}

// Healthy reports whether the shared tier answers a ping. Memory-only
// configurations are always healthy.
func (t *Tiered) Healthy(ctx context.Context) bool {
	if t.redis == nil {
		return true
	}
	return t.redis.Ping(ctx) == nil
}
