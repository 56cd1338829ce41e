//go:build integration

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the test Redis instance from
// FLEETUP_TEST_REDIS_ADDR, or "" when none is configured.
func RedisAddr() string {
	return os.Getenv("FLEETUP_TEST_REDIS_ADDR")
}

// SkipIfNoRedis skips the test if the test Redis instance is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set FLEETUP_TEST_REDIS_ADDR")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// RedisClient returns a client for the specified DB, closed when the test ends.
func RedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()
	addr := RedisAddr()
	if addr == "" {
		t.Fatal("test Redis not available")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	t.Cleanup(func() { client.Close() })
	return client
}
