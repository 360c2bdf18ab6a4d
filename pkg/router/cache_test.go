package router

import (
	"context"
	"testing"
	"time"

	"github.com/zen-systems/triagegate/pkg/kvstore"
)

func TestDecisionCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewDecisionCache(kvstore.NewMemory(), time.Minute)

	decision := &Decision{Route: RouteRule, RuleID: "r-1", Confidence: 1.0}
	if err := cache.Set(ctx, "conv-1:msg-1", decision); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := cache.Get(ctx, "conv-1:msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.RuleID != "r-1" || got.Route != RouteRule {
		t.Fatalf("got %+v, want cached rule decision", got)
	}

	got, err = cache.Get(ctx, "conv-1:msg-2")
	if err != nil {
		t.Fatalf("get miss: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestDecisionCacheTTLBoundary(t *testing.T) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond
	cache := NewDecisionCache(kvstore.NewMemory(), ttl)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	if err := cache.Set(ctx, "conv-1:msg-1", &Decision{Route: RouteAgent}); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = base.Add(ttl - time.Millisecond)
	got, err := cache.Get(ctx, "conv-1:msg-1")
	if err != nil {
		t.Fatalf("get before ttl: %v", err)
	}
	if got == nil {
		t.Fatal("decision should still be cached one ms before the TTL")
	}

	now = base.Add(ttl)
	got, err = cache.Get(ctx, "conv-1:msg-1")
	if err != nil {
		t.Fatalf("get at ttl: %v", err)
	}
	if got != nil {
		t.Fatal("decision must be absent at exactly the TTL")
	}
}

func TestDecisionCacheSetOverwrites(t *testing.T) {
	ctx := context.Background()
	cache := NewDecisionCache(kvstore.NewMemory(), time.Minute)

	if err := cache.Set(ctx, "conv-1:msg-1", &Decision{Route: RouteAgent}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.Set(ctx, "conv-1:msg-1", &Decision{Route: RouteRule, RuleID: "r-9"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := cache.Get(ctx, "conv-1:msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.RuleID != "r-9" {
		t.Fatalf("got %+v, want overwritten decision", got)
	}
}

func TestInvalidateConversation(t *testing.T) {
	ctx := context.Background()
	cache := NewDecisionCache(kvstore.NewMemory(), time.Minute)

	keys := []string{"X:m1", "X:m2", "Y:m1", "X2:m1"}
	for _, key := range keys {
		if err := cache.Set(ctx, key, &Decision{Route: RouteAgent}); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	if err := cache.InvalidateConversation(ctx, "X"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	for _, key := range []string{"X:m1", "X:m2"} {
		if got, _ := cache.Get(ctx, key); got != nil {
			t.Fatalf("key %s should be gone", key)
		}
	}
	for _, key := range []string{"Y:m1", "X2:m1"} {
		if got, _ := cache.Get(ctx, key); got == nil {
			t.Fatalf("key %s must be untouched", key)
		}
	}
}
