package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// distributedTokenBucketScript performs an atomic refill-then-consume in
// Redis so multiple gateway instances share one bucket per key.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, float)
var distributedTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return {allowed, tokens}
`)

// DistributedStore is a shared, Redis-backed token bucket keyed by an
// arbitrary actor identifier (principal id, API key prefix, peer node id).
// Used where rate-limit enforcement must be
// consistent across more than one gateway instance — notably the
// per-API-key `rate_limit_per_min` budget in the session/API-key store.
type DistributedStore struct {
	client *redis.Client
}

// NewDistributedStore wraps an existing redis client.
func NewDistributedStore(client *redis.Client) *DistributedStore {
	return &DistributedStore{client: client}
}

// Allow consumes cost tokens from actorID's bucket, sized by ratePerSec and
// burst, returning whether the request is permitted.
func (s *DistributedStore) Allow(ctx context.Context, actorID string, ratePerSec float64, burst, cost int) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", actorID)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := distributedTokenBucketScript.Run(ctx, s.client, []string{key}, ratePerSec, burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("distributed rate limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("distributed rate limiter: unexpected script result")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
