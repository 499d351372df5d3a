package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"transcription-scheduler/internal/models"
)

const (
	redisKeyPrefix = "transcribe:result:"
	redisIndexKey  = "transcribe:result:index"
)

// Redis stores results as JSON values with server-side TTL and tracks access
// times in a ZSET so capacity eviction can drop the least-recently-used
// entries atomically.
type Redis struct {
	client   *redis.Client
	capacity int64
	ttl      time.Duration
}

// NewRedis wraps an existing client. A ttl of zero disables expiry; a
// capacity of zero disables LRU trimming.
func NewRedis(client *redis.Client, capacity int64, ttl time.Duration) *Redis {
	return &Redis{client: client, capacity: capacity, ttl: ttl}
}

func (r *Redis) key(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (models.Result, bool, error) {
	raw, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Result{}, false, nil
	}
	if err != nil {
		return models.Result{}, false, fmt.Errorf("cache get: %w", err)
	}
	var result models.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.Result{}, false, fmt.Errorf("cache decode: %w", err)
	}
	_ = r.client.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: fingerprint,
	}).Err()
	return result, true, nil
}

func (r *Redis) Put(ctx context.Context, fingerprint string, result models.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(fingerprint), raw, r.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: fingerprint,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if r.capacity > 0 {
		if err := trimScript.Run(ctx, r.client, []string{redisIndexKey}, r.capacity, redisKeyPrefix).Err(); err != nil {
			return fmt.Errorf("cache trim: %w", err)
		}
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, fingerprint string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(fingerprint))
	pipe.ZRem(ctx, redisIndexKey, fingerprint)
	_, err := pipe.Exec(ctx)
	return err
}

// EvictExpired drops index members whose value key already expired
// server-side, keeping the LRU index honest.
func (r *Redis) EvictExpired(ctx context.Context) (int, error) {
	members, err := r.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("cache index scan: %w", err)
	}
	removed := 0
	for _, fp := range members {
		exists, err := r.client.Exists(ctx, r.key(fp)).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			if err := r.client.ZRem(ctx, redisIndexKey, fp).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// trimScript evicts least-recently-accessed entries until the index fits the
// configured capacity.
var trimScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local prefix = ARGV[2]
local removed = 0
while redis.call('ZCARD', KEYS[1]) > cap do
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0)
  if #oldest == 0 then break end
  redis.call('ZREM', KEYS[1], oldest[1])
  redis.call('DEL', prefix .. oldest[1])
  removed = removed + 1
end
return removed
`)
