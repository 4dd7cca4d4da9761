// Package ratelimit implements spec.md §4.B: per-actor and per-IP token
// buckets for comment creation, plus the per-(actor, post) comment
// cooldown.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

// CooldownStore is the external counter store backing the cross-node
// comment cooldown fact (spec.md §6 REDIS_URL).
type CooldownStore interface {
	// TryAcquire returns true if no cooldown is currently active for key,
	// atomically marking one active for ttl.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisCooldownStore backs CooldownStore with go-redis, using the same
// SETNX-with-TTL idiom the teacher's CacheManager uses for distributed
// locks.
type RedisCooldownStore struct {
	Client redis.UniversalClient
}

func (s *RedisCooldownStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.Client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return ok, nil
}

// Limiter enforces the two concurrent token-bucket dimensions plus the
// comment cooldown.
type Limiter struct {
	clock clock.Clock

	userRatePerSec int
	ipRatePerSec   int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter

	cooldown   CooldownStore
	cooldownTTL time.Duration

	tripped *prometheus.CounterVec
}

// newTrippedCounter builds the rate-limit trip counter, labelled by
// dimension. It does not register it; see Collector.
func newTrippedCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_trips_total",
			Help: "Count of rate limit denials by dimension.",
		},
		[]string{"dimension"},
	)
}

// New builds a Limiter. userRatePerSec/ipRatePerSec come from
// RATE_USER_PER_SEC/RATE_IP_PER_SEC (burst equals the per-second rate, per
// spec.md §4.B). cooldown is the external counter store for the
// per-(actor,post) gate; cooldownTTL should be COMMENT_COOLDOWN_SECS.
func New(c clock.Clock, userRatePerSec, ipRatePerSec int, cooldown CooldownStore, cooldownTTL time.Duration) *Limiter {
	l := &Limiter{
		clock:          c,
		userRatePerSec: userRatePerSec,
		ipRatePerSec:   ipRatePerSec,
		buckets:        make(map[string]*rate.Limiter),
		cooldown:       cooldown,
		cooldownTTL:    cooldownTTL,
		tripped:        newTrippedCounter(),
	}
	return l
}

// Collector exposes the Prometheus collector for registration by the
// caller (cmd/server wires prometheus.MustRegister once).
func (l *Limiter) Collector() prometheus.Collector { return l.tripped }

func (l *Limiter) bucket(key string, ratePerSec int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
		l.buckets[key] = b
	}
	return b
}

// AllowComment checks all three dimensions for a comment-creation attempt
// by actorID against postID, originating from clientIP. It returns the
// first dimension that trips, wrapped as a RateLimited apperr.Error, or
// nil if the request is admitted.
func (l *Limiter) AllowComment(ctx context.Context, actorID, postID, clientIP string) error {
	actorKey := fmt.Sprintf("actor:%s", actorID)
	if !l.bucket(actorKey, l.userRatePerSec).AllowN(l.clock.Now(), 1) {
		l.trip(apperr.DimensionActor)
		return apperr.RateLimited(apperr.DimensionActor)
	}

	ipKey := fmt.Sprintf("ip:%s", clientIP)
	if !l.bucket(ipKey, l.ipRatePerSec).AllowN(l.clock.Now(), 1) {
		l.trip(apperr.DimensionIP)
		return apperr.RateLimited(apperr.DimensionIP)
	}

	cooldownKey := fmt.Sprintf("cooldown:%s:%s", actorID, postID)
	ok, err := l.cooldown.TryAcquire(ctx, cooldownKey, l.cooldownTTL)
	if err != nil {
		return apperr.Internal(err, "cooldown store")
	}
	if !ok {
		l.trip(apperr.DimensionCooldown)
		return apperr.RateLimited(apperr.DimensionCooldown)
	}

	return nil
}

func (l *Limiter) trip(dim apperr.Dimension) {
	if l.tripped != nil {
		l.tripped.WithLabelValues(string(dim)).Inc()
	}
}
