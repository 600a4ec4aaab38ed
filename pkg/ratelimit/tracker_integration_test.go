//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := store.NewRedis(redisClient)

	// Two trackers stand in for two bridge instances.
	writer := NewTracker(s, zerolog.Nop())
	reader := NewTracker(s, zerolog.Nop())

	if err := writer.Update(ctx, "demo.myshopify.com", Cost{
		ActualQueryCost: 12,
		ThrottleStatus: ThrottleStatus{
			MaximumAvailable:   2000,
			CurrentlyAvailable: 1500,
			RestoreRate:        100,
		},
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	state, err := reader.GetState(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.MaximumAvailable != 2000 || state.CurrentlyAvailable != 1500 {
		t.Errorf("state = %+v", state)
	}

	ttl := redisClient.TTL(ctx, KeyPrefix+"demo.myshopify.com").Val()
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("state TTL = %v, want (0, 1h]", ttl)
	}
}

func TestTracker_Integration_WaitsForRefill(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	tracker := NewTracker(store.NewRedis(redisClient), zerolog.Nop(), WithMaxWait(2*time.Second))

	_ = tracker.Update(ctx, "shop", Cost{ThrottleStatus: ThrottleStatus{
		MaximumAvailable:   1000,
		CurrentlyAvailable: 50,
		RestoreRate:        100,
	}})

	start := time.Now()
	allowed, err := tracker.ShouldAllowRequest(ctx, "shop")
	if err != nil || !allowed {
		t.Fatalf("ShouldAllowRequest() = %v, %v", allowed, err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("request was not delayed (elapsed %v)", elapsed)
	}
}
