// Package idempotency provides a Redis-backed cache for replaying responses
// to repeated Idempotency-Key requests.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration
type Config struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	Timeout  time.Duration `envconfig:"REDIS_TIMEOUT" default:"2s"`
}

// RedisStore implements middleware.IdempotencyStore on Redis.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a new Redis-backed idempotency store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Addr)

	return &RedisStore{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(idempotencyKey string) string {
	return "idem:" + idempotencyKey
}

// Get returns the cached response for a key, if present.
func (s *RedisStore) Get(ctx context.Context, idempotencyKey string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key(idempotencyKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading idempotency key: %w", err)
	}
	return val, true, nil
}

// Set caches a response under a key for the given TTL.
func (s *RedisStore) Set(ctx context.Context, idempotencyKey string, response []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(idempotencyKey), response, ttl).Err(); err != nil {
		return fmt.Errorf("writing idempotency key: %w", err)
	}
	return nil
}
