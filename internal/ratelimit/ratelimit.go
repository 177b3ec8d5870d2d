// Package ratelimit enforces the per-provider request ceilings of spec §4.2:
// a Redis-backed fixed-window counter for the hard ceiling plus a
// golang.org/x/time/rate limiter for local smoothing between windows,
// adapted from the teacher's infrastructure/ratelimit package.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Config is one provider's rate-limit policy.
type Config struct {
	Ceiling int           // max requests per Window
	Window  time.Duration // fixed-window size
}

// DefaultConfig mirrors the teacher's DefaultConfig: a generous ceiling
// until a provider-specific Config is registered.
func DefaultConfig() Config {
	return Config{Ceiling: 60, Window: time.Minute}
}

// Decision is the outcome of an Admit call.
type Decision struct {
	Allowed         bool
	RetryAfterSecs  int
}

// Limiter enforces Config per provider using a Redis fixed window (spec
// §4.2: "SET key 0 EX window NX" on first write, then INCR on every call,
// rejecting once the count exceeds the ceiling) plus a local smoothing
// limiter so a burst within
// one window doesn't all land in the same instant.
type Limiter struct {
	redis  *redis.Client
	mu     sync.Mutex
	smooth map[string]*rate.Limiter
	configs map[string]Config
}

// New builds a Limiter backed by an existing Redis client; redisClient may
// be nil, in which case Admit degrades to local smoothing only (used in
// tests and when KV_URL points at an unreachable cache, spec §4.2 fallback).
func New(redisClient *redis.Client) *Limiter {
	return &Limiter{
		redis:   redisClient,
		smooth:  make(map[string]*rate.Limiter),
		configs: make(map[string]Config),
	}
}

// Configure registers the Config for a provider; call once per provider at
// boot.
func (l *Limiter) Configure(provider string, cfg Config) {
	if cfg.Ceiling <= 0 {
		cfg = DefaultConfig()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[provider] = cfg
	perSecond := float64(cfg.Ceiling) / cfg.Window.Seconds()
	l.smooth[provider] = rate.NewLimiter(rate.Limit(perSecond), cfg.Ceiling)
}

func (l *Limiter) configFor(provider string) Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.configs[provider]; ok {
		return cfg
	}
	return DefaultConfig()
}

func (l *Limiter) smoothFor(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.smooth[provider]; ok {
		return lim
	}
	cfg := DefaultConfig()
	perSecond := float64(cfg.Ceiling) / cfg.Window.Seconds()
	lim := rate.NewLimiter(rate.Limit(perSecond), cfg.Ceiling)
	l.smooth[provider] = lim
	return lim
}

// Admit checks whether a call to provider on behalf of clientKey (typically
// the caller id, or "default") may proceed right now.
func (l *Limiter) Admit(ctx context.Context, provider, clientKey string) (Decision, error) {
	if !l.smoothFor(provider).Allow() {
		cfg := l.configFor(provider)
		return Decision{Allowed: false, RetryAfterSecs: int(cfg.Window.Seconds())}, nil
	}

	if l.redis == nil {
		return Decision{Allowed: true}, nil
	}

	cfg := l.configFor(provider)
	key := fmt.Sprintf("ratelimit:%s:%s", provider, clientKey)

	count, err := l.incrementWindow(ctx, key, cfg.Window)
	if err != nil {
		// Fail open: a cache outage should not take down the gateway (spec
		// §4.2, consistent with the two-tier cache's degrade-to-direct
		// posture elsewhere).
		return Decision{Allowed: true}, nil
	}

	if count > int64(cfg.Ceiling) {
		ttl, err := l.redis.TTL(ctx, key).Result()
		retryAfter := int(cfg.Window.Seconds())
		if err == nil && ttl > 0 {
			retryAfter = int(ttl.Seconds())
		}
		return Decision{Allowed: false, RetryAfterSecs: retryAfter}, nil
	}

	return Decision{Allowed: true}, nil
}

// incrementWindow implements the atomic fixed-window protocol: the first
// writer in a window sets the key with an expiry (NX so a racing writer
// can't reset the TTL), every writer then increments.
func (l *Limiter) incrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	set, err := l.redis.SetNX(ctx, key, 0, window).Result()
	if err != nil {
		return 0, err
	}
	_ = set

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return count, nil
}
