package drilldown

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// ResultCache is a tier shared between sessions. A session consults it
// before aggregating and fills it afterwards.
type ResultCache interface {
	Get(ctx context.Context, key string) (*engine.QueryResult, bool, error)
	Set(ctx context.Context, key string, value *engine.QueryResult, ttl time.Duration) error

	// Purge drops every drill-down entry, used when the underlying data is replaced.
	Purge(ctx context.Context) error
}

type NoopResultCache struct{}

func (NoopResultCache) Get(_ context.Context, _ string) (*engine.QueryResult, bool, error) {
	return nil, false, nil
}

func (NoopResultCache) Set(_ context.Context, _ string, _ *engine.QueryResult, _ time.Duration) error {
	return nil
}

func (NoopResultCache) Purge(_ context.Context) error { return nil }

type RedisResultCache struct {
	client *redis.Client
}

func NewRedisResultCache(addr string, password string, db int) *RedisResultCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisResultCache{client: client}
}

func (c *RedisResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisResultCache) Close() error {
	return c.client.Close()
}

func (c *RedisResultCache) Get(ctx context.Context, key string) (*engine.QueryResult, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var res engine.QueryResult
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (c *RedisResultCache) Set(ctx context.Context, key string, value *engine.QueryResult, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisResultCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
