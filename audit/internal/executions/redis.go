package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
)

const keyPrefix = "audit:exec:"

// RedisTracker stores the latest execution per event id with a TTL, plus a
// counter of how many runs started for that event.
type RedisTracker struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisClient parses a redis:// URL and applies pool settings.
func NewRedisClient(url string, maxRetries, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if maxRetries > 0 {
		opts.MaxRetries = maxRetries
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return redis.NewClient(opts), nil
}

// NewRedisTracker creates a tracker. A non-positive ttl keeps entries forever.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisTracker{redis: client, ttl: ttl}
}

func (t *RedisTracker) Record(ctx context.Context, exec *workflow.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	pipe := t.redis.TxPipeline()
	if exec.State == workflow.StateStart {
		pipe.Incr(ctx, attemptsKey(exec.EventID))
		if t.ttl > 0 {
			pipe.Expire(ctx, attemptsKey(exec.EventID), t.ttl)
		}
	}
	pipe.Set(ctx, executionKey(exec.EventID), data, t.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, eventID string) (*workflow.Execution, error) {
	data, err := t.redis.Get(ctx, executionKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("execution %s: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w: %v", models.ErrStoreUnavailable, err)
	}

	var exec workflow.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	attempts, err := t.redis.Get(ctx, attemptsKey(eventID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get attempts: %w: %v", models.ErrStoreUnavailable, err)
	}
	exec.Attempts = attempts
	return &exec, nil
}

// Ping checks Redis reachability.
func (t *RedisTracker) Ping(ctx context.Context) error {
	if err := t.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func executionKey(eventID string) string {
	return keyPrefix + eventID
}

func attemptsKey(eventID string) string {
	return keyPrefix + eventID + ":attempts"
}
