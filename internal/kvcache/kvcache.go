// Package kvcache is the namespaced, TTL'd two-tier cache of spec §4.6,
// backed by github.com/redis/go-redis/v9, grounded on
// wisbric-nightowl's pkg/alert/dedup.go (Get/Set-with-TTL, redis.Nil
// handling) and internal/platform/redis.go (URL-based client construction).
package kvcache

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprinting, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the contract consumed by C9 adapters and C10's fan-out: get,
// set-with-TTL, delete, and pattern-based invalidation.
type Cache interface {
	Get(ctx context.Context, namespace string, key interface{}) ([]byte, bool, error)
	Set(ctx context.Context, namespace string, key interface{}, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace string, key interface{}) error
	FlushPattern(ctx context.Context, pattern string) (int, error)
	TTL(ctx context.Context, namespace string, key interface{}) (time.Duration, error)
}

// RedisCache implements Cache over a shared *redis.Client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClientFromURL parses a redis:// URL and verifies connectivity,
// grounded on wisbric-nightowl's NewRedisClient.
func NewRedisClientFromURL(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Key derives the canonical cache key for a namespace and an arbitrary,
// order-insensitive key value: marshal through a sorted-key JSON
// representation, then md5 it, grounded on
// original_source/src/cache/manager.py's _generate_cache_key (sorted JSON
// dump, then an md5 digest).
func Key(namespace string, keyValue interface{}) (string, error) {
	canonical, err := canonicalJSON(keyValue)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := md5.Sum(canonical) //nolint:gosec
	return fmt.Sprintf("%s:%s", namespace, hex.EncodeToString(sum[:])), nil
}

// canonicalJSON re-marshals v through a map so that struct field order
// (Go's encoding/json already sorts map keys, but not struct fields) can
// never influence the digest.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

func (c *RedisCache) Get(ctx context.Context, namespace string, key interface{}) ([]byte, bool, error) {
	cacheKey, err := Key(namespace, key)
	if err != nil {
		return nil, false, err
	}
	val, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, namespace string, key interface{}, value []byte, ttl time.Duration) error {
	cacheKey, err := Key(namespace, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, namespace string, key interface{}) error {
	cacheKey, err := Key(namespace, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, cacheKey).Err()
}

func (c *RedisCache) TTL(ctx context.Context, namespace string, key interface{}) (time.Duration, error) {
	cacheKey, err := Key(namespace, key)
	if err != nil {
		return 0, err
	}
	return c.client.TTL(ctx, cacheKey).Result()
}

// FlushPattern deletes every key matching pattern using a non-blocking SCAN
// cursor rather than KEYS, grounded on
// original_source/src/cache/redis_cache.py flush_pattern.
func (c *RedisCache) FlushPattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// TTLPolicy maps the cache namespaces of spec §4.6 to their default TTLs.
type TTLPolicy struct {
	Search         time.Duration
	Profile        time.Duration
	Documents      time.Duration
	Announcements  time.Duration
	Certifications time.Duration
}

// DefaultTTLPolicy matches spec §4.6's named defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Search:         5 * time.Minute,
		Profile:        time.Hour,
		Documents:      24 * time.Hour,
		Announcements:  5 * time.Minute,
		Certifications: time.Hour,
	}
}

// TTLFor returns the configured TTL for a namespace, or the search default
// for unknown namespaces.
func (p TTLPolicy) TTLFor(namespace string) time.Duration {
	switch namespace {
	case "profile":
		return p.Profile
	case "documents":
		return p.Documents
	case "announcements":
		return p.Announcements
	case "certifications":
		return p.Certifications
	default:
		return p.Search
	}
}
