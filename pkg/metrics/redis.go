package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldTransitions = "transitions"
	fieldEvents      = "events"
	fieldTaskRuns    = "task_runs"

	// Counters for executions that never complete are reaped by Redis.
	counterTTL = 7 * 24 * time.Hour
)

// RedisCollector keeps counters in a Redis hash per execution, so they
// survive engine restarts alongside the persisted executions.
type RedisCollector struct {
	client *redis.Client
	prefix string
}

func NewRedisCollector(redisURL string) (*RedisCollector, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return &RedisCollector{
		client: redis.NewClient(opts),
		prefix: "reeflow:logmetrics:",
	}, nil
}

func (c *RedisCollector) key(executionID string) string {
	return c.prefix + executionID
}

func (c *RedisCollector) incr(ctx context.Context, executionID, field string) error {
	key := c.key(executionID)

	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, counterTTL)

	_, err := pipe.Exec(ctx)

	return err
}

func (c *RedisCollector) IncrTransitions(ctx context.Context, executionID string) error {
	return c.incr(ctx, executionID, fieldTransitions)
}

func (c *RedisCollector) IncrEvents(ctx context.Context, executionID string) error {
	return c.incr(ctx, executionID, fieldEvents)
}

func (c *RedisCollector) IncrTaskRuns(ctx context.Context, executionID string) error {
	return c.incr(ctx, executionID, fieldTaskRuns)
}

func (c *RedisCollector) Snapshot(ctx context.Context, executionID string) (LogMetrics, error) {
	values, err := c.client.HGetAll(ctx, c.key(executionID)).Result()
	if err != nil {
		return LogMetrics{}, err
	}

	var snapshot LogMetrics

	snapshot.Transitions = parseCounter(values[fieldTransitions])
	snapshot.Events = parseCounter(values[fieldEvents])
	snapshot.TaskRuns = parseCounter(values[fieldTaskRuns])

	return snapshot, nil
}

func (c *RedisCollector) Reset(ctx context.Context, executionID string) error {
	return c.client.Del(ctx, c.key(executionID)).Err()
}

func (c *RedisCollector) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCollector) Close() error {
	return c.client.Close()
}

func parseCounter(raw string) int64 {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}

	return value
}
