// internal/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testTTLs() TTLConfig {
	return TTLConfig{
		Response:    4 * time.Hour,
		Enhancement: time.Hour,
		Search:      30 * time.Minute,
		Content:     2 * time.Hour,
		General:     time.Hour,
	}
}

func newTieredCache(t *testing.T) (*Tiered, *miniredis.Miniredis) {
	mr, client := setupMiniredis(t)
	mem, err := NewMemory(100)
	require.NoError(t, err)
	red := NewRedis(client, logger.NewTestLogger(t))
	return NewTiered(mem, red, testTTLs(), DefaultKeyPrefix, logger.NewTestLogger(t)), mr
}

func newMemoryOnlyCache(t *testing.T) *Tiered {
	mem, err := NewMemory(100)
	require.NoError(t, err)
	return NewTiered(mem, nil, testTTLs(), DefaultKeyPrefix, logger.NewTestLogger(t))
}

// ==========================
// Key Building
// ==========================

func TestBuildKey(t *testing.T) {
	key := BuildKey("llmsearch", CategoryResponse, "golang generics tutorial")

	assert.Contains(t, key, "llmsearch:response:")
	// prefix + category + 16 hex chars of the digest
	assert.Len(t, key, len("llmsearch:response:")+16)

	// Deterministic for the same identifier.
	assert.Equal(t, key, BuildKey("llmsearch", CategoryResponse, "golang generics tutorial"))

	// Different identifiers and categories produce different keys.
	assert.NotEqual(t, key, BuildKey("llmsearch", CategoryResponse, "another query"))
	assert.NotEqual(t, key, BuildKey("llmsearch", CategorySearch, "golang generics tutorial"))
}

func TestTTLConfig_For(t *testing.T) {
	ttls := testTTLs()

	tests := []struct {
		name     string
		category Category
		expected time.Duration
	}{
		{name: "response", category: CategoryResponse, expected: 4 * time.Hour},
		{name: "enhancement", category: CategoryEnhancement, expected: time.Hour},
		{name: "search", category: CategorySearch, expected: 30 * time.Minute},
		{name: "content", category: CategoryContent, expected: 2 * time.Hour},
		{name: "general", category: CategoryGeneral, expected: time.Hour},
		{name: "unknown falls back to general", category: Category("bogus"), expected: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ttls.For(tt.category))
		})
	}
}

// ==========================
// Memory Tier
// ==========================

func TestMemory_SetGet(t *testing.T) {
	mem, err := NewMemory(10)
	require.NoError(t, err)

	mem.Set("k1", []byte("v1"), time.Minute)

	data, ok := mem.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	_, ok = mem.Get("missing")
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	mem, err := NewMemory(10)
	require.NoError(t, err)

	mem.Set("short", []byte("v"), 10*time.Millisecond)
	mem.Set("forever", []byte("v"), 0)

	data, ok := mem.Get("short")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	time.Sleep(20 * time.Millisecond)

	_, ok = mem.Get("short")
	assert.False(t, ok, "expired entry should report a miss")
	assert.Equal(t, 1, mem.Len(), "expired entry should be removed on Get")

	_, ok = mem.Get("forever")
	assert.True(t, ok, "zero TTL means no expiry")
}

func TestMemory_EvictsOldestAtCapacity(t *testing.T) {
	mem, err := NewMemory(2)
	require.NoError(t, err)

	mem.Set("a", []byte("1"), time.Minute)
	mem.Set("b", []byte("2"), time.Minute)
	mem.Set("c", []byte("3"), time.Minute)

	assert.Equal(t, 2, mem.Len())
	_, ok := mem.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = mem.Get("c")
	assert.True(t, ok)
}

// ==========================
// Redis Tier
// ==========================

func TestRedis_SetGetDelete(t *testing.T) {
	_, client := setupMiniredis(t)
	red := NewRedis(client, logger.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, red.Set(ctx, "k", []byte("payload"), time.Minute))

	data, found, err := red.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, red.Delete(ctx, "k"))

	_, found, err = red.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "deleted key should be a clean miss")
}

func TestRedis_GetError(t *testing.T) {
	mr, client := setupMiniredis(t)
	red := NewRedis(client, logger.NewTestLogger(t))

	mr.Close()

	_, found, err := red.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestRedis_ServerErrorIsNotAMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	red := NewRedis(client, logger.NewTestLogger(t))
	ctx := context.Background()

	mock.ExpectGet("broken").SetErr(errors.New("LOADING Redis is loading the dataset in memory"))
	_, found, err := red.Get(ctx, "broken")
	assert.Error(t, err)
	assert.False(t, found)

	mock.ExpectGet("absent").RedisNil()
	_, found, err = red.Get(ctx, "absent")
	require.NoError(t, err, "a nil reply is a clean miss, not an error")
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_SetErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	red := NewRedis(client, logger.NewTestLogger(t))

	mock.ExpectSet("k", []byte("v"), time.Minute).
		SetErr(errors.New("READONLY You can't write against a read only replica"))
	err := red.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Tiered Cache
// ==========================

func TestTiered_SetThenGet(t *testing.T) {
	c, mr := newTieredCache(t)
	ctx := context.Background()

	c.Set(ctx, "query-1", []byte(`{"answer":"42"}`), CategoryResponse)

	data, ok := c.Get(ctx, "query-1", CategoryResponse)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"answer":"42"}`), data)

	// The async write lands in Redis shortly after Set returns.
	storageKey := BuildKey(DefaultKeyPrefix, CategoryResponse, "query-1")
	require.Eventually(t, func() bool {
		return mr.Exists(storageKey)
	}, time.Second, 10*time.Millisecond, "set should reach the redis tier")

	ttl := mr.TTL(storageKey)
	assert.Equal(t, 4*time.Hour, ttl)
}

func TestTiered_RedisHitBackfillsMemory(t *testing.T) {
	c, mr := newTieredCache(t)
	ctx := context.Background()

	// Seed only the Redis tier, as another instance would have.
	storageKey := BuildKey(DefaultKeyPrefix, CategorySearch, "shared-query")
	require.NoError(t, mr.Set(storageKey, "shared-results"))

	data, ok := c.Get(ctx, "shared-query", CategorySearch)
	assert.True(t, ok)
	assert.Equal(t, []byte("shared-results"), data)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.RedisHits)
	assert.Equal(t, uint64(1), stats.MemoryMisses)

	// Second read is served from memory.
	_, ok = c.Get(ctx, "shared-query", CategorySearch)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().MemoryHits)
}

func TestTiered_Miss(t *testing.T) {
	c, _ := newTieredCache(t)

	_, ok := c.Get(context.Background(), "never-set", CategoryResponse)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.MemoryMisses)
	assert.Equal(t, uint64(1), stats.RedisMisses)
}

func TestTiered_Delete(t *testing.T) {
	c, mr := newTieredCache(t)
	ctx := context.Background()

	c.Set(ctx, "doomed", []byte("v"), CategoryContent)
	storageKey := BuildKey(DefaultKeyPrefix, CategoryContent, "doomed")
	require.Eventually(t, func() bool {
		return mr.Exists(storageKey)
	}, time.Second, 10*time.Millisecond)

	c.Delete(ctx, "doomed", CategoryContent)

	_, ok := c.Get(ctx, "doomed", CategoryContent)
	assert.False(t, ok)
	assert.False(t, mr.Exists(storageKey))
}

func TestTiered_RedisDownDegradesToMemoryOnly(t *testing.T) {
	c, mr := newTieredCache(t)
	ctx := context.Background()

	mr.Close()

	c.Set(ctx, "resilient", []byte("v"), CategoryResponse)

	data, ok := c.Get(ctx, "resilient", CategoryResponse)
	assert.True(t, ok, "memory tier keeps serving with redis down")
	assert.Equal(t, []byte("v"), data)

	// A cold key falls through to redis, which fails; still just a miss.
	_, ok = c.Get(ctx, "cold", CategoryResponse)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		return c.Stats().RedisErrors > 0
	}, time.Second, 10*time.Millisecond)
}

func TestTiered_MemoryOnly(t *testing.T) {
	c := newMemoryOnlyCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), CategoryGeneral)

	data, ok := c.Get(ctx, "k", CategoryGeneral)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	_, ok = c.Get(ctx, "missing", CategoryGeneral)
	assert.False(t, ok)

	assert.True(t, c.Healthy(ctx), "memory-only cache is always healthy")
}

func TestTiered_Stats(t *testing.T) {
	c, _ := newTieredCache(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), CategoryResponse)
	c.Set(ctx, "b", []byte("2"), CategorySearch)
	c.Get(ctx, "a", CategoryResponse)
	c.Get(ctx, "missing", CategoryResponse)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Sets)
	assert.Equal(t, uint64(1), stats.MemoryHits)
	assert.Equal(t, uint64(1), stats.MemoryMisses)
	assert.Equal(t, 2, stats.MemoryEntries)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
}

func TestTiered_Healthy(t *testing.T) {
	c, mr := newTieredCache(t)
	ctx := context.Background()

	assert.True(t, c.Healthy(ctx))

	mr.Close()
	assert.False(t, c.Healthy(ctx))
}

// ==========================
// Concurrency
// ==========================

func TestTiered_ConcurrentAccess(t *testing.T) {
	c, _ := newTieredCache(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			key := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				c.Set(ctx, key, []byte("v"), CategoryGeneral)
				c.Get(ctx, key, CategoryGeneral)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stats := c.Stats()
	assert.Equal(t, uint64(400), stats.Sets)
	assert.Equal(t, uint64(400), stats.MemoryHits+stats.MemoryMisses)
}
