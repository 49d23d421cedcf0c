// Package session persists verification session snapshots between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classverify/internal/verification"
)

var ErrNotFound = errors.New("session not found or expired")

const defaultTTL = 12 * time.Hour

// RedisStore keeps one snapshot per task under a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "verify:session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(taskID string) string {
	return s.prefix + taskID
}

// Save stores the snapshot for taskID and resets its expiry.
func (s *RedisStore) Save(ctx context.Context, taskID string, snapshot verification.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(taskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the snapshot for taskID and extends its expiry.
func (s *RedisStore) Load(ctx context.Context, taskID string) (verification.Snapshot, error) {
	raw, err := s.client.GetEx(ctx, s.key(taskID), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return verification.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return verification.Snapshot{}, fmt.Errorf("load session: %w", err)
	}

	var snapshot verification.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return verification.Snapshot{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return snapshot, nil
}

// Delete removes the snapshot. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
