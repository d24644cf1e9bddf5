package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long node results stay in Redis.
const DefaultRedisTTL = 24 * time.Hour

// Redis stores node results as JSON values under "selinon:result:<key>".
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at redisURL and verifies the
// connection with a ping.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client. A non-positive ttl selects
// DefaultRedisTTL.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Retrieve(ctx context.Context, flowName, nodeName, id string) (any, error) {
	data, err := r.client.Get(ctx, redisKey(flowName, nodeName, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("retrieve %s/%s/%s: %w", flowName, nodeName, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	var v any
	if err := sonic.ConfigStd.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return v, nil
}

func (r *Redis) Store(ctx context.Context, flowName, nodeName, id string, result any) (string, error) {
	data, err := sonic.ConfigStd.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	// SETNX keeps the first stored result for an id.
	if err := r.client.SetNX(ctx, redisKey(flowName, nodeName, id), data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to set result: %w", err)
	}
	return id, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func redisKey(flowName, nodeName, id string) string {
	return "selinon:result:" + Key(flowName, nodeName, id)
}
