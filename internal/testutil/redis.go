//go:build integration

package testutil

import (
	"context"
	"testing"
)

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, db int) {
	t.Helper()

	if err := RedisClient(t, db).FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// KeyTTL returns the remaining lifetime of key, negative when it has none.
func KeyTTL(t *testing.T, db int, key string) float64 {
	t.Helper()

	ttl, err := RedisClient(t, db).TTL(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading TTL of %s: %v", key, err)
	}
	return ttl.Seconds()
}

// DeleteKey removes key from a specific Redis DB.
func DeleteKey(t *testing.T, db int, key string) {
	t.Helper()

	if err := RedisClient(t, db).Del(context.Background(), key).Err(); err != nil {
		t.Fatalf("deleting %s: %v", key, err)
	}
}
