// internal/cache/redis.go
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// Redis is the shared tier. All failures are reported back as errors so the
// tiered wrapper can degrade them to misses; this tier never panics the
// pipeline over an unavailable Redis.
type Redis struct {
	client *redis.Client
	logger logger.Logger
}

func NewRedis(client *redis.Client, log logger.Logger) *Redis {
	return &Redis{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "cache.redis"}),
	}
}

// Get returns (value, found, err). A clean miss is (nil, false, nil); err is
// reserved for transport or server failures.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping reports tier reachability for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
