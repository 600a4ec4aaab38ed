package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := store.NewMemory(store.WithClock(clock.Now))
	return NewManager(s, WithClock(clock.Now), WithLogger(zerolog.Nop())), clock
}

// setupTestRedis creates an in-memory Redis for testing.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return client, mr
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil store")
		}
	}()
	NewManager(nil)
}

func TestManager_PutAndGet(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	key := CacheKey{
		Shop:      "demo.myshopify.com",
		Operation: "products.list",
		Params:    map[string]string{"limit": "2", "fields": "id,title"},
	}
	payload := []byte(`{"products":[{"id":10},{"id":11}]}`)

	entry := manager.Put(ctx, key, payload)
	if entry == nil {
		t.Fatal("Put returned nil entry")
	}

	// Same params, different map construction order.
	lookup := CacheKey{
		Shop:      "demo.myshopify.com",
		Operation: "products.list",
		Params:    map[string]string{"fields": "id,title", "limit": "2"},
	}
	got, ok := manager.Lookup(ctx, lookup)
	if !ok {
		t.Fatal("Lookup() missed right after Put")
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, payload)
	}
	if got.Shop != key.Shop || got.Operation != key.Operation {
		t.Errorf("entry metadata = %s/%s", got.Shop, got.Operation)
	}
	if got.ExpiresAt.Sub(got.CachedAt) != 600*time.Second {
		t.Errorf("entry lifetime = %v, want 600s", got.ExpiresAt.Sub(got.CachedAt))
	}
}

func TestManager_ProductsTTLBoundary(t *testing.T) {
	manager, clock := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "products.list", Params: map[string]string{"limit": "50"}}

	manager.Put(ctx, key, []byte(`{}`))
	start := clock.now

	clock.now = start.Add(599 * time.Second)
	if _, ok := manager.Lookup(ctx, key); !ok {
		t.Error("expected hit at 599s")
	}

	clock.now = start.Add(601 * time.Second)
	if _, ok := manager.Lookup(ctx, key); ok {
		t.Error("expected miss at 601s")
	}
}

func TestManager_GetMiss(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.Get(context.Background(), CacheKey{Shop: "s", Operation: "orders.list"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "customer.get", ID: 5}

	manager.Put(ctx, key, []byte(`{}`))
	manager.Invalidate(ctx, key)

	if _, ok := manager.Lookup(ctx, key); ok {
		t.Error("entry still cached after Invalidate")
	}
}

func TestManager_SetExpiredEntry(t *testing.T) {
	manager, clock := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "orders.list"}

	err := manager.Set(ctx, key, &CacheEntry{Payload: []byte(`{}`), ExpiresAt: clock.now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired entry was stored")
	}
	if err := manager.Set(ctx, key, nil); err == nil {
		t.Error("Set(nil) should fail")
	}
}

func TestManager_CorruptEntry(t *testing.T) {
	clock := &testClock{now: time.Now()}
	s := store.NewMemory(store.WithClock(clock.Now))
	manager := NewManager(s, WithClock(clock.Now), WithLogger(zerolog.Nop()))
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "orders.list"}

	_ = s.Set(ctx, key.String(), []byte("not json"), time.Minute)

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
	if _, ok := manager.Lookup(ctx, key); ok {
		t.Error("corrupt entry served")
	}
}

func TestManager_InvalidateRelated(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	keys := map[string]CacheKey{
		"products list":    {Shop: shop, Operation: "products.list"},
		"product 10":       {Shop: shop, Operation: "product.get", ID: 10},
		"product 10 subs":  {Shop: shop, Operation: "product.variants", ID: 10},
		"product 100":      {Shop: shop, Operation: "product.get", ID: 100},
		"collections list": {Shop: shop, Operation: "collections.list"},
		"collection 3":     {Shop: shop, Operation: "collection.products", ID: 3},
		"orders list":      {Shop: shop, Operation: "orders.list"},
		"other shop":       {Shop: "other.myshopify.com", Operation: "products.list"},
	}
	for _, k := range keys {
		manager.Put(ctx, k, []byte(`{}`))
	}

	removed, err := manager.InvalidateRelated(ctx, shop, resource.Product, 10)
	if err != nil {
		t.Fatalf("InvalidateRelated() error = %v", err)
	}
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}

	survivors := map[string]bool{"product 100": true, "orders list": true, "other shop": true}
	for name, k := range keys {
		_, ok := manager.Lookup(ctx, k)
		if ok != survivors[name] {
			t.Errorf("%s cached = %v, want %v", name, ok, survivors[name])
		}
	}
}

func TestManager_InvalidateRelatedWithoutID(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	manager.Put(ctx, CacheKey{Shop: "s", Operation: "orders.list"}, []byte(`{}`))
	manager.Put(ctx, CacheKey{Shop: "s", Operation: "order.get", ID: 1}, []byte(`{}`))
	manager.Put(ctx, CacheKey{Shop: "s", Operation: "customer.get", ID: 2}, []byte(`{}`))
	manager.Put(ctx, CacheKey{Shop: "s", Operation: "products.list"}, []byte(`{}`))

	removed, err := manager.InvalidateRelated(ctx, "s", resource.Order, 0)
	if err != nil {
		t.Fatalf("InvalidateRelated() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	if _, err := manager.InvalidateRelated(ctx, "s", resource.Variant, 0); err == nil {
		t.Error("expected error for kind without rule")
	}
}

func TestManager_Redis(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(store.NewRedis(client), WithLogger(zerolog.Nop()))
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "orders.list", Params: map[string]string{"limit": "1"}}

	manager.Put(ctx, key, []byte(`{"orders":[]}`))

	if ttl := mr.TTL(key.String()); ttl <= 0 || ttl > 120*time.Second {
		t.Errorf("redis TTL = %v, want (0, 120s]", ttl)
	}
	if _, ok := manager.Lookup(ctx, key); !ok {
		t.Error("Lookup() missed")
	}

	mr.FastForward(121 * time.Second)
	if _, ok := manager.Lookup(ctx, key); ok {
		t.Error("expected miss after redis expiry")
	}
}

func TestManager_StoreOutagePassesThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	manager := NewManager(store.NewRedis(client), WithLogger(zerolog.Nop()))
	ctx := context.Background()
	key := CacheKey{Shop: "s", Operation: "orders.list"}

	if entry := manager.Put(ctx, key, []byte(`{}`)); entry != nil {
		t.Error("Put() reported success against a dead store")
	}
	if _, ok := manager.Lookup(ctx, key); ok {
		t.Error("Lookup() hit against a dead store")
	}
	if _, err := manager.Get(ctx, key); err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want store error", err)
	}
}
