package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"smartkasir/backend/internal/domain"
)

const defaultKeyPrefix = "smartkasir:report"

// RedisReportCache namespaces entries under a generation counter. Bumping the
// counter orphans old entries, which then expire on their own TTL.
type RedisReportCache struct {
	client *redis.Client
	prefix string
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client, prefix: defaultKeyPrefix}
}

// WithPrefix isolates entries of one instance from another sharing the same redis db.
func (c *RedisReportCache) WithPrefix(prefix string) *RedisReportCache {
	c.prefix = prefix
	return c
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Get(ctx context.Context, key string) ([]domain.SalesReportRow, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	val, err := c.client.Get(ctx, c.entryKey(gen, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}

	var rows []domain.SalesReportRow
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, gen, false, err
	}
	return rows, gen, true, nil
}

// Set stores rows under gen. Entries of a generation that has since been
// invalidated are never read again and expire on their TTL.
func (c *RedisReportCache) Set(ctx context.Context, key string, gen int64, rows []domain.SalesReportRow, ttl time.Duration) error {
	if rows == nil {
		rows = []domain.SalesReportRow{}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(gen, key), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

func (c *RedisReportCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisReportCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}

func (c *RedisReportCache) generationKey() string {
	return c.prefix + ":gen"
}
