package policy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brevanhowe/govern-core/pkg/model"
)

type cacheEntry struct {
	decision  model.AuthorizationDecision
	expiresAt time.Time
}

// decisionCache is a reader-writer-semantics cache; stale reads are
// tolerable within TTL. Backed
// in-process by default, or by Redis via NewRedisDecisionCache for
// multi-instance deployments.
type decisionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	redis *redis.Client
}

// NewInMemoryDecisionCache creates a single-instance cache.
func NewInMemoryDecisionCache() *decisionCache {
	return &decisionCache{entries: make(map[string]cacheEntry)}
}

// NewRedisDecisionCache creates a cache shared across gateway instances.
func NewRedisDecisionCache(client *redis.Client) *decisionCache {
	return &decisionCache{entries: make(map[string]cacheEntry), redis: client}
}

func (c *decisionCache) Get(key string) (model.AuthorizationDecision, bool) {
	if c.redis != nil {
		return c.getRedis(key)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.AuthorizationDecision{}, false
	}
	return entry.decision, true
}

func (c *decisionCache) Set(key string, decision model.AuthorizationDecision, ttl time.Duration) {
	if c.redis != nil {
		c.setRedis(key, decision, ttl)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{decision: decision, expiresAt: time.Now().Add(ttl)}
}

func (c *decisionCache) getRedis(key string) (model.AuthorizationDecision, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	raw, err := c.redis.Get(ctx, "policy:decision:"+key).Bytes()
	if err != nil {
		return model.AuthorizationDecision{}, false
	}
	var decision model.AuthorizationDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return model.AuthorizationDecision{}, false
	}
	return decision, true
}

func (c *decisionCache) setRedis(key string, decision model.AuthorizationDecision, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, "policy:decision:"+key, raw, ttl).Err()
}
