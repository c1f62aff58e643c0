package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter rate limiter interface
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// slidingWindowScript trims the window, counts it and records the request
// only when there is room
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl_ms)
	return 1
end
return 0
`)

// SlidingWindowLimiter sliding window rate limiter shared by every API
// instance through Redis
type SlidingWindowLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(client redis.UniversalClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow checks if the request is allowed
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	// members must be unique or two requests in the same millisecond count once
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("rate_limit:%s", key)},
		now,
		windowStart,
		l.limit,
		l.window.Milliseconds(),
		member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// TokenBucketLimiter token bucket rate limiter using golang.org/x/time/rate.
// Every key gets its own bucket.
type TokenBucketLimiter struct {
	rate    rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter
func NewTokenBucketLimiter(r rate.Limit, b int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:    r,
		burst:   b,
		buckets: make(map[string]*bucket),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow checks if the request is allowed
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks if n requests are allowed
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	now := l.now()
	return l.get(key, now).AllowN(now, n), nil
}

func (l *TokenBucketLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Prune drops buckets idle for longer than the idle TTL and returns how
// many were dropped
func (l *TokenBucketLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
			pruned++
		}
	}
	return pruned
}

// Len number of live buckets
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// MultiDimensionLimiter checks one request against several sliding windows,
// e.g. per user and per client IP
type MultiDimensionLimiter struct {
	client   redis.UniversalClient
	mu       sync.RWMutex
	limiters map[string]*LimiterConfig
}

// LimiterConfig limiter configuration
type LimiterConfig struct {
	Limit  int
	Window time.Duration
}

// NewMultiDimensionLimiter creates a new multi-dimension rate limiter
func NewMultiDimensionLimiter(client redis.UniversalClient) *MultiDimensionLimiter {
	return &MultiDimensionLimiter{
		client: client,
		limiters: map[string]*LimiterConfig{
			"user": {Limit: 5, Window: time.Minute},
			"ip":   {Limit: 50, Window: time.Minute},
		},
	}
}

// Allow checks if the request is allowed across all dimensions. Unknown
// dimensions are ignored.
func (l *MultiDimensionLimiter) Allow(ctx context.Context, dimensions map[string]string) (bool, error) {
	for dimension, key := range dimensions {
		l.mu.RLock()
		config, ok := l.limiters[dimension]
		l.mu.RUnlock()
		if !ok {
			continue
		}

		limiter := NewSlidingWindowLimiter(l.client, config.Limit, config.Window)
		allowed, err := limiter.Allow(ctx, fmt.Sprintf("%s:%s", dimension, key))
		if err != nil {
			return false, err
		}

		if !allowed {
			return false, nil
		}
	}

	return true, nil
}

// SetLimit sets the limit for a dimension
func (l *MultiDimensionLimiter) SetLimit(dimension string, limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[dimension] = &LimiterConfig{
		Limit:  limit,
		Window: window,
	}
}
