package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerhelp/reputation/internal/trust"
)

// TestSnapshotCache exercises the cache against a real Redis instance.
// This test requires Redis running on localhost:6379.
// Skip this test if Redis is not available.
func TestSnapshotCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	c := NewSnapshotCache(client, time.Minute)
	ctx = context.Background()

	st := trust.State{
		Score:       60,
		Badge:       trust.BadgeTrusted,
		RatingCount: 3,
		RatingAvg:   5,
		Limits:      trust.Limits{MessagesPerDay: 200, FilesPerDay: 20, FlagsPerDay: 10},
	}
	if err := c.Publish(ctx, "cache-test-u1", st); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := c.Get(ctx, "cache-test-u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != st {
		t.Errorf("Get returned %+v, want %+v", got, st)
	}

	// A later publish replaces the snapshot.
	st.Score = 85
	st.Badge = trust.BadgeVerified
	if err := c.Publish(ctx, "cache-test-u1", st); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got, err = c.Get(ctx, "cache-test-u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Score != 85 {
		t.Errorf("score = %d after republish, want 85", got.Score)
	}

	if _, err := c.Get(ctx, "cache-test-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for absent key = %v, want ErrNotFound", err)
	}
}
