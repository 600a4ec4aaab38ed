package cache

import (
	"testing"
	"time"
)

func TestTTLFor(t *testing.T) {
	tests := []struct {
		operation string
		want      time.Duration
	}{
		{"products.list", 600 * time.Second},
		{"orders.list", 120 * time.Second},
		{"customers.list", 300 * time.Second},
		{"collections.list", 1800 * time.Second},
		{"product.get", 300 * time.Second},
		{"collection.get", 300 * time.Second},
		{"product.variants", 600 * time.Second},
		{"collection.products", 600 * time.Second},
		{"orders.cursor", 120 * time.Second},
		{"shop.info", DefaultTTL},
		{"", DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			if got := TTLFor(tt.operation); got != tt.want {
				t.Errorf("TTLFor(%q) = %v, want %v", tt.operation, got, tt.want)
			}
		})
	}
}

func TestCacheEntry_IsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: now.Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: now.Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "expires exactly now",
			expires: now,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{ExpiresAt: tt.expires}
			if got := entry.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := (&CacheEntry{ExpiresAt: now.Add(time.Hour)}).TTL(now); got != time.Hour {
		t.Errorf("TTL() = %v, want 1h", got)
	}
	if got := (&CacheEntry{ExpiresAt: now.Add(-time.Hour)}).TTL(now); got != 0 {
		t.Errorf("TTL() = %v, want 0", got)
	}
}

func TestIsFresh(t *testing.T) {
	cachedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := &CacheEntry{CachedAt: cachedAt, Operation: "orders.list"}

	tests := []struct {
		name   string
		age    time.Duration
		maxAge time.Duration
		want   bool
	}{
		{name: "own ttl fresh", age: 119 * time.Second, want: true},
		{name: "own ttl stale", age: 121 * time.Second, want: false},
		{name: "override fresh", age: 50 * time.Second, maxAge: time.Minute, want: true},
		{name: "override stale", age: 61 * time.Second, maxAge: time.Minute, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFresh(entry, tt.maxAge, cachedAt.Add(tt.age)); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}

	if IsFresh(nil, 0, cachedAt) {
		t.Error("nil entry reported fresh")
	}
}
