package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceCache backs NonceCache with go-redis SETNX+TTL, the same
// idiom the rate limiter's cooldown gate uses (spec.md §9: "For
// multi-node deployment, they must be backed by a shared store").
type RedisNonceCache struct {
	Client redis.UniversalClient
}

func (c *RedisNonceCache) Insert(ctx context.Context, uidHash, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("nonce:%s:%s", uidHash, nonce)
	ok, err := c.Client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce setnx: %w", err)
	}
	return ok, nil
}

// InMemoryNonceCache is a process-local NonceCache for tests and
// single-node DOCS_ONLY_MODE runs. Per spec.md §3, losing this table on
// restart is acceptable: the replay window resets conservatively.
type InMemoryNonceCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewInMemoryNonceCache(now func() time.Time) *InMemoryNonceCache {
	return &InMemoryNonceCache{expires: make(map[string]time.Time), now: now}
}

func (c *InMemoryNonceCache) Insert(_ context.Context, uidHash, nonce string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := uidHash + ":" + nonce
	now := c.now()

	if exp, ok := c.expires[key]; ok && now.Before(exp) {
		return false, nil
	}

	c.expires[key] = now.Add(ttl)
	c.gc(now)
	return true, nil
}

// gc drops expired entries so the map does not grow unbounded; called
// while already holding the lock.
func (c *InMemoryNonceCache) gc(now time.Time) {
	for k, exp := range c.expires {
		if now.After(exp) {
			delete(c.expires, k)
		}
	}
}
