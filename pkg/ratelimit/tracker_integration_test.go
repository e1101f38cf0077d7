//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
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

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
	return client, cleanup
}

func TestTracker_Integration_CooloffExpires(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(NewRedisStore(client), logger)

	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "1")
	if err := tracker.UpdateFromResponse(ctx, "datayuge", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	if ok, _, _ := tracker.Allow(ctx, "datayuge"); ok {
		t.Fatal("source should be cooling off")
	}

	time.Sleep(1500 * time.Millisecond)

	ok, _, err := tracker.Allow(ctx, "datayuge")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !ok {
		t.Error("source should be allowed once the cool-off expired")
	}

	exists, err := client.Exists(ctx, redisKey("datayuge")).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Error("expired cool-off should have been evicted by Redis TTL")
	}
}

func TestTracker_Integration_QuotaState(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(NewRedisStore(client), logger)

	headers := http.Header{}
	headers.Set(HeaderRemaining, "4")
	headers.Set(HeaderReset, "120")
	if err := tracker.UpdateFromResponse(ctx, "rainforest", http.StatusOK, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := tracker.GetState(ctx, "rainforest")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4", state.Remaining)
	}
	if !state.Low() {
		t.Error("state should be in the warning band")
	}
	if ok, _, _ := tracker.Allow(ctx, "rainforest"); !ok {
		t.Error("low quota should still allow requests")
	}
}
