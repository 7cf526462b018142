package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// RedisProgressCache caches the latest job status snapshot per job in Redis.
// Status reads hit the cache first; the job row remains the source of truth.
type RedisProgressCache struct {
	client redis.UniversalClient
}

// NewRedisProgressCache creates a new RedisProgressCache with the given Redis client.
func NewRedisProgressCache(client redis.UniversalClient) *RedisProgressCache {
	return &RedisProgressCache{client: client}
}

func snapshotKey(jobID string) string {
	return "job:snapshot:" + jobID
}

// SetSnapshot stores the latest status snapshot with the given TTL.
func (c *RedisProgressCache) SetSnapshot(
	ctx context.Context,
	snap *model.JobStatusSnapshot,
	ttl time.Duration,
) error {
	if snap == nil || snap.ID == "" {
		return errors.New("snapshot with job id is required")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.client.Set(ctx, snapshotKey(snap.ID), payload, ttl).Err()
}

// GetSnapshot retrieves the cached snapshot for a job. A cache miss returns
// (nil, nil); callers fall through to the job repository.
func (c *RedisProgressCache) GetSnapshot(
	ctx context.Context,
	jobID string,
) (*model.JobStatusSnapshot, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}

	raw, err := c.client.Get(ctx, snapshotKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}

	var snap model.JobStatusSnapshot
	if unmarshalErr := json.Unmarshal([]byte(raw), &snap); unmarshalErr != nil {
		return nil, fmt.Errorf("decode snapshot: %w", unmarshalErr)
	}
	return &snap, nil
}

// Invalidate removes the cached snapshot for a job.
func (c *RedisProgressCache) Invalidate(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	return c.client.Del(ctx, snapshotKey(jobID)).Err()
}

// Health checks the health of the Redis connection.
func (c *RedisProgressCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RedisClientConfig holds configuration for the Redis connection.
type RedisClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a new Redis client with the given configuration.
func NewRedisClient(cfg RedisClientConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
