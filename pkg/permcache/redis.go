package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures NewRedisClient
type RedisOptions struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient parses opts.URL, applies overrides and pings the server
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DB > 0 {
		parsed.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		parsed.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}

	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolTimeout = 4 * time.Second

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// DefaultKeyPrefix namespaces bundle keys in Redis
const DefaultKeyPrefix = "breeze:bundle:"

// RedisStorage stores JSON-encoded bundles in Redis so several instances
// can share resolutions
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStorage creates a Redis-backed storage. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisStorage(client *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStorage{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStorage) key(principalID int64) string {
	return s.prefix + strconv.FormatInt(principalID, 10)
}

func (s *RedisStorage) Get(ctx context.Context, principalID int64) (*Bundle, bool, error) {
	key := s.key(principalID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		// corrupt entries are dropped and treated as a miss
		s.client.Del(ctx, key)
		return nil, false, nil
	}
	return &b, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, b *Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return s.client.Set(ctx, s.key(b.PrincipalID()), data, s.ttl).Err()
}

func (s *RedisStorage) Delete(ctx context.Context, principalIDs ...int64) error {
	if len(principalIDs) == 0 {
		return nil
	}
	keys := make([]string, len(principalIDs))
	for i, id := range principalIDs {
		keys[i] = s.key(id)
	}
	return s.client.Del(ctx, keys...).Err()
}

// Purge removes every bundle under the prefix using SCAN
func (s *RedisStorage) Purge(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for prefix %s: %w", s.prefix, err)
	}
	return nil
}

func (s *RedisStorage) Name() string { return "redis" }
