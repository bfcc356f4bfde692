package palette

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the keys written by RedisStore.
const DefaultRedisPrefix = "dotgame:color:"

// RedisStore is a Store shared by every server pointed at the same Redis.
// Assignment uses SET NX so two servers racing on one username agree on the
// first color written.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. Entries expire ttl after they are
// written; a non-positive ttl keeps them forever.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, "", time.Hour)
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// GetOrAssign implements Store.
func (s *RedisStore) GetOrAssign(ctx context.Context, username string, assign func() string) (string, error) {
	key := s.key(username)

	color, err := s.client.Get(ctx, key).Result()
	if err == nil {
		return color, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis get error: %w", err)
	}

	candidate := assign()
	stored, err := s.client.SetNX(ctx, key, candidate, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx error: %w", err)
	}
	if stored {
		return candidate, nil
	}

	// Lost the race; the winner's value is authoritative.
	color, err = s.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("redis get after setnx: %w", err)
	}

	return color, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, username, color string) error {
	if err := s.client.Set(ctx, s.key(username), color, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, username string) error {
	if err := s.client.Del(ctx, s.key(username)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Len implements Store by scanning the key prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan keys: %w", err)
	}
	return count, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(username string) string {
	return s.prefix + username
}
