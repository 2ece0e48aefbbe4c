// Package cache publishes derived trust snapshots to Redis so client reads
// can avoid the primary store. The cache is a freshness aid: entries expire
// and the primary store stays authoritative.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerhelp/reputation/internal/trust"
)

// ErrNotFound indicates no cached snapshot exists for the user.
var ErrNotFound = errors.New("trust snapshot not cached")

const keyPrefix = "trust:snapshot:"

// SnapshotCache stores trust state snapshots in Redis with a TTL.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a snapshot cache. TTL must be positive.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
	}
}

// Publish writes the user's trust snapshot, replacing any previous entry.
func (c *SnapshotCache) Publish(ctx context.Context, uid string, st trust.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", uid, err)
	}
	if err := c.client.Set(ctx, keyPrefix+uid, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot for %s: %w", uid, err)
	}
	return nil
}

// Get reads the user's cached trust snapshot, or ErrNotFound if absent or
// expired.
func (c *SnapshotCache) Get(ctx context.Context, uid string) (trust.State, error) {
	payload, err := c.client.Get(ctx, keyPrefix+uid).Bytes()
	if errors.Is(err, redis.Nil) {
		return trust.State{}, ErrNotFound
	}
	if err != nil {
		return trust.State{}, fmt.Errorf("read snapshot for %s: %w", uid, err)
	}

	var st trust.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return trust.State{}, fmt.Errorf("decode snapshot for %s: %w", uid, err)
	}
	return st, nil
}

// Ping verifies connectivity to Redis.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
