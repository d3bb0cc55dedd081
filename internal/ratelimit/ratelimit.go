// Package ratelimit holds Redis-backed cooldowns and counters shared by every API instance.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cooldownPrefix = "cooldown:"

// Cooldown grants at most one acquisition per key within the ttl.
type Cooldown struct {
	rdb redis.UniversalClient
}

func NewCooldown(rdb redis.UniversalClient) *Cooldown {
	return &Cooldown{rdb: rdb}
}

// Acquire returns true when the caller may proceed and starts the cooldown for key.
func (c *Cooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, cooldownPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	return ok, nil
}

// reserveScript increments KEYS[1] and keeps it only while it stays within ARGV[1].
// The expiry is set by the first reservation of the window.
var reserveScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// Quota counts uses of a key against a limit. Keys are used verbatim.
type Quota struct {
	rdb redis.UniversalClient
}

func NewQuota(rdb redis.UniversalClient) *Quota {
	return &Quota{rdb: rdb}
}

// Reserve takes one unit of key's quota. It returns false once limit units are held.
func (q *Quota) Reserve(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res, err := reserveScript.Run(ctx, q.rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("reserve quota %s: %w", key, err)
	}
	return res == 1, nil
}

// Release gives back one unit taken by Reserve.
func (q *Quota) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, q.rdb, []string{key}).Err(); err != nil {
		return fmt.Errorf("release quota %s: %w", key, err)
	}
	return nil
}

// Used returns how many units of key are currently held.
func (q *Quota) Used(ctx context.Context, key string) (int64, error) {
	n, err := q.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
