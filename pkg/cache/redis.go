package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all keys (e.g., "commtrace:results:")
	Prefix string

	// TTL is the time-to-live for entries (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "commtrace:results:",
		TTL:      7 * 24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 4,
	}
}

// RedisBackend stores entries in Redis, shared between machines.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig(cfg.Address).Timeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(digest string) string {
	return b.cfg.Prefix + digest
}

// Get loads an entry from Redis.
func (b *RedisBackend) Get(ctx context.Context, digest string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load cache entry from Redis: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &e, nil
}

// Put stores an entry with the configured TTL.
func (b *RedisBackend) Put(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := b.client.Set(ctx, b.key(e.Digest), data, b.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save cache entry to Redis: %w", err)
	}
	return nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
