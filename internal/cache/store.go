// Package cache provides the Redis-backed store shared by all engine
// components. Price series mirrors, analysis results, sync priorities, the
// sync queue, and product access records all live here under one key prefix.
//
// Two read disciplines coexist:
//   - volatile entries (Set/Get) expire and disappear
//   - envelope entries (StoreFresh/GetIfFresh/GetStale) carry their own
//     freshness timestamp and are retained past expiry, so reads can fall
//     back to stale data when the upstream provider is unavailable
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/config"
)

// Store wraps a Redis client with key prefixing and JSON serialization.
type Store struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// New creates a cache store and verifies connectivity.
func New(cfg config.RedisConfig, log zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    log,
	}, nil
}

// envelope wraps a cached value with its own freshness window. The Redis
// entry outlives ExpiresAt so GetStale can serve it during outages.
type envelope struct {
	StoredAt  int64           `json:"stored_at"`
	ExpiresAt int64           `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

func (e envelope) fresh(now time.Time) bool {
	return now.Unix() < e.ExpiresAt
}

// Set stores a value as JSON with a hard TTL. The entry disappears when the
// TTL lapses; use StoreFresh for data that should remain readable when stale.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}

	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// Get reads a JSON value into dest. Returns false when the key is absent.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetBytes stores a raw payload (e.g. msgpack) with a hard TTL.
func (s *Store) SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// GetBytes reads a raw payload. Returns false when the key is absent.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

// StoreFresh stores a value inside a freshness envelope. The value is
// considered fresh for ttl, then remains readable via GetStale until the
// retention window clears it.
func (s *Store) StoreFresh(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}

	now := time.Now()
	env := envelope{
		StoredAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Data:      data,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", key, err)
	}

	retention := StaleRetention
	if ttl > retention {
		retention = ttl
	}
	return s.client.Set(ctx, s.prefix+key, payload, retention).Err()
}

// GetIfFresh reads an envelope entry only while its freshness window holds.
// Returns false when the key is absent or the entry has gone stale.
// Use GetStale to retrieve stale data as a fallback when upstream calls fail.
func (s *Store) GetIfFresh(ctx context.Context, key string, dest interface{}) (bool, error) {
	env, found, err := s.getEnvelope(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if !env.fresh(time.Now()) {
		return false, nil
	}

	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// GetStale reads an envelope entry regardless of freshness. Stale data is
// better than no data when the provider is down.
func (s *Store) GetStale(ctx context.Context, key string, dest interface{}) (bool, error) {
	env, found, err := s.getEnvelope(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) getEnvelope(ctx context.Context, key string) (envelope, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, false, fmt.Errorf("failed to unmarshal envelope %s: %w", key, err)
	}
	return env, true, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = s.prefix + key
	}
	return s.client.Del(ctx, fullKeys...).Err()
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// ScanKeys returns all keys matching the pattern, with the store prefix
// stripped. Uses SCAN rather than KEYS to avoid blocking Redis.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, s.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}

	return keys, nil
}

// Ping checks store connectivity, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
