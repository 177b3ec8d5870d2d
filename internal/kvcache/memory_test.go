package kvcache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGetRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "search", "key-1", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, ok, err := c.Get(ctx, "search", "key-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(val) != "payload" {
		t.Errorf("Get() value = %q, want %q", val, "payload")
	}
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	_, ok, err := c.Get(context.Background(), "search", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for a key never set")
	}
}

func TestMemoryCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "search", "key-1", []byte("payload"), time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "search", "key-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for an expired entry")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "search", "key-1", []byte("payload"), time.Minute)

	if err := c.Delete(ctx, "search", "key-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, ok, _ := c.Get(ctx, "search", "key-1")
	if ok {
		t.Error("Get() found a key after Delete()")
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "search", "key-1", []byte("payload"), time.Hour)

	ttl, err := c.TTL(ctx, "search", "key-1")
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL() = %v, want a positive value <= 1h", ttl)
	}
}

func TestMemoryCache_TTLForMissingKeyIsZero(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ttl, err := c.TTL(context.Background(), "search", "missing")
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl != 0 {
		t.Errorf("TTL() for missing key = %v, want 0", ttl)
	}
}

func TestMemoryCache_FlushPattern(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "search", "key-1", []byte("a"), time.Minute)
	_ = c.Set(ctx, "search", "key-2", []byte("b"), time.Minute)
	_ = c.Set(ctx, "profile", "key-1", []byte("c"), time.Minute)

	deleted, err := c.FlushPattern(ctx, "search:*")
	if err != nil {
		t.Fatalf("FlushPattern() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("FlushPattern() deleted = %d, want 2", deleted)
	}

	if _, ok, _ := c.Get(ctx, "profile", "key-1"); !ok {
		t.Error("FlushPattern() removed a key outside its pattern")
	}
}

func TestMemoryCache_CleanupEvictsExpiredEntries(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "search", "key-1", []byte("payload"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	c.cleanup()

	cacheKey, err := Key("search", "key-1")
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	c.mu.RLock()
	_, exists := c.entries[cacheKey]
	c.mu.RUnlock()
	if exists {
		t.Error("cleanup() left an expired entry in the map")
	}
}
