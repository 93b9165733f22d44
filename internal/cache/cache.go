package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key does not exist. Cache misses are
// non-fatal everywhere: callers fall back to the store.
var ErrMiss = errors.New("cache: miss")

// Cache is the redis facade used by the core. Every failure it returns is
// safe to treat as degraded rather than fatal.
type Cache struct {
	rdb *redis.Client
}

// New wraps a connected redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Client exposes the underlying client for components that need pipelined
// primitives (the admission controller).
func (c *Cache) Client() *redis.Client { return c.rdb }

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get returns the string value at key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// SetWithTTL stores a string value with an expiry.
func (c *Cache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// GetJSON unmarshals the value at key into v, or returns ErrMiss.
func (c *Cache) GetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// SetJSON marshals v and stores it with an expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Expire refreshes a key's TTL.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// ListPushHead prepends values to a list.
func (c *Cache) ListPushHead(ctx context.Context, key string, values ...interface{}) error {
	return c.rdb.LPush(ctx, key, values...).Err()
}

// ListTrimTo keeps only the first n entries of a list.
func (c *Cache) ListTrimTo(ctx context.Context, key string, n int64) error {
	return c.rdb.LTrim(ctx, key, 0, n-1).Err()
}

// ListRange returns list entries between start and stop inclusive.
func (c *Cache) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

// SetAdd adds members to a set.
func (c *Cache) SetAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

// SetMembers returns all members of a set.
func (c *Cache) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// SetRemove removes members from a set.
func (c *Cache) SetRemove(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

// ZSetAdd adds a member with a score.
func (c *Cache) ZSetAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZSetRemoveRangeByScore drops members with scores in [lo, hi].
func (c *Cache) ZSetRemoveRangeByScore(ctx context.Context, key, lo, hi string) error {
	return c.rdb.ZRemRangeByScore(ctx, key, lo, hi).Err()
}

// ZSetCount returns the cardinality of a sorted set.
func (c *Cache) ZSetCount(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// HashIncrBy increments a hash field, creating it as needed.
func (c *Cache) HashIncrBy(ctx context.Context, key, field string, incr int64) error {
	return c.rdb.HIncrBy(ctx, key, field, incr).Err()
}

// HashGetAll returns all fields of a hash.
func (c *Cache) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// Publish sends a message on a pub/sub channel.
func (c *Cache) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must Close it.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
