package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/refnet/backend/internal/domain/shared"
)

const awardKeyPrefix = "award:idempotency:"

// RedisIdempotencyStore shares applied-award state across replicas.
// It is a fast path only: the unique constraint on the awards table is
// what actually guarantees at-most-once application.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// RedisConfig holds the connection settings for the store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisIdempotencyStore connects to redis and verifies the
// connection before returning the store.
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdempotencyStore{client: client}, nil
}

// MarkApplied records an award ID with a TTL. SETNX makes the mark
// atomic across replicas: true means this caller won, false means the
// award was already marked.
func (s *RedisIdempotencyStore) MarkApplied(ctx context.Context, awardID string, ttl time.Duration) (bool, error) {
	won, err := s.client.SetNX(ctx, awardKeyPrefix+awardID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark award as applied: %w", err)
	}
	return won, nil
}

// IsApplied reports whether an award ID is currently marked.
func (s *RedisIdempotencyStore) IsApplied(ctx context.Context, awardID string) (bool, error) {
	n, err := s.client.Exists(ctx, awardKeyPrefix+awardID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if award is applied: %w", err)
	}
	return n > 0, nil
}

// Close releases the redis client.
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
