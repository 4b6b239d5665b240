package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ai-workout-scheduler/agent/internal/config"
)

// Connect opens and verifies the Redis client used for the cycle advisory
// lock, the import cache, and the last-cycle-summary entry.
func Connect(cfg config.RedisConfig, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

const (
	importCacheKey  = "scheduler:last_import"
	cycleSummaryKey = "scheduler:last_cycle_summary"
)

// SetImportCache records a successful wearable import.
func SetImportCache(ctx context.Context, client *redis.Client, when time.Time) error {
	return client.Set(ctx, importCacheKey, when.Format(time.RFC3339), 7*24*time.Hour).Err()
}

// LastImport returns the time of the last successful wearable import, or
// the zero time when none is recorded.
func LastImport(ctx context.Context, client *redis.Client) (time.Time, error) {
	val, err := client.Get(ctx, importCacheKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, val)
}

// Cache wraps the client for collaborators that only need the import and
// summary entries.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new instance of Cache.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) LastImport(ctx context.Context) (time.Time, error) {
	return LastImport(ctx, c.client)
}

func (c *Cache) SetLastImport(ctx context.Context, when time.Time) error {
	return SetImportCache(ctx, c.client, when)
}

// SetCycleSummary stores the JSON summary of the last completed cycle.
func SetCycleSummary(ctx context.Context, client *redis.Client, summary []byte) error {
	return client.Set(ctx, cycleSummaryKey, summary, 7*24*time.Hour).Err()
}

// CycleSummary returns the last stored cycle summary, nil when absent.
func CycleSummary(ctx context.Context, client *redis.Client) ([]byte, error) {
	val, err := client.Get(ctx, cycleSummaryKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}
