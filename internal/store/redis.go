// redis.go -- shared go-redis client setup.
//
// One client (and connection pool) per process; the mail queue and the
// health check both use it.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup...the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisHealth adapts a client to the health checker interface.
type RedisHealth struct {
	rdb *redis.Client
}

// NewRedisHealth wraps rdb for /health.
func NewRedisHealth(rdb *redis.Client) *RedisHealth {
	return &RedisHealth{rdb: rdb}
}

// CheckHealth pings Redis.
func (h *RedisHealth) CheckHealth(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
