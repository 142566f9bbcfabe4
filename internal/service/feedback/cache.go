package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/persona-lens/backend/internal/model/feedback"
)

// Cache stores fully computed feedback records.
type Cache interface {
	Get(ctx context.Context, key feedback.Key) (feedback.Record, bool, error)
	Put(ctx context.Context, key feedback.Key, rec feedback.Record) error
	Delete(ctx context.Context, key feedback.Key) error
}

// MemoryCache keeps records for the lifetime of the process.
type MemoryCache struct {
	entries sync.Map
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(_ context.Context, key feedback.Key) (feedback.Record, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return feedback.Record{}, false, nil
	}
	return v.(feedback.Record), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key feedback.Key, rec feedback.Record) error {
	c.entries.Store(key, rec)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key feedback.Key) error {
	c.entries.Delete(key)
	return nil
}

const redisKeyPrefix = "persona-lens:feedback:"

// RedisCache stores records as JSON strings. A zero ttl keeps them forever.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps client.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key feedback.Key) (feedback.Record, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return feedback.Record{}, false, nil
	}
	if err != nil {
		return feedback.Record{}, false, goerr.Wrap(err, "failed to read feedback from redis", goerr.V("pid", key.PersonaID))
	}

	var rec feedback.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return feedback.Record{}, false, goerr.Wrap(err, "corrupted feedback entry in redis", goerr.V("pid", key.PersonaID))
	}
	return rec, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key feedback.Key, rec feedback.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "failed to encode feedback")
	}
	if err := c.client.Set(ctx, redisKey(key), raw, c.ttl).Err(); err != nil {
		return goerr.Wrap(err, "failed to write feedback to redis", goerr.V("pid", key.PersonaID))
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key feedback.Key) error {
	if err := c.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return goerr.Wrap(err, "failed to delete feedback from redis", goerr.V("pid", key.PersonaID))
	}
	return nil
}

func redisKey(key feedback.Key) string {
	sum := sha256.Sum256([]byte(key.PersonaID + "\x00" + key.ProductDescription))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}
