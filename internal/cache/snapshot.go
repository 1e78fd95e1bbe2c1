package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	snapshotKeyPrefix = "vault:snapshot:"
	seasonSetsKey     = "catalog:season-sets"
	opTimeout         = 500 * time.Millisecond
)

// SnapshotCache is a read-through cache for serialized vault snapshots and
// the season set list. The database stays the source of truth: snapshot
// entries are invalidated on every successful allocation, and the season set
// entry expires on its TTL. A nil cache is valid and does nothing.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache constructs the cache. Returns nil when the client is nil
// so callers can pass the result straight through as "disabled".
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{client: client, ttl: ttl, logger: logger}
}

// GetSnapshot returns the cached serialized snapshot for a user, if present.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, userID string) ([]byte, bool) {
	return c.get(ctx, snapshotKeyPrefix+userID)
}

// SetSnapshot stores the serialized snapshot for a user.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, userID string, payload []byte) {
	c.set(ctx, snapshotKeyPrefix+userID, payload)
}

// Invalidate drops the cached snapshot for a user. Satisfies the vault
// service's SnapshotInvalidator.
func (c *SnapshotCache) Invalidate(userID string) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, snapshotKeyPrefix+userID).Err(); err != nil {
		c.logger.Warn("snapshot cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// GetSeasonSets returns the cached serialized season set list, if present.
func (c *SnapshotCache) GetSeasonSets(ctx context.Context) ([]byte, bool) {
	return c.get(ctx, seasonSetsKey)
}

// SetSeasonSets stores the serialized season set list.
func (c *SnapshotCache) SetSeasonSets(ctx context.Context, payload []byte) {
	c.set(ctx, seasonSetsKey, payload)
}

func (c *SnapshotCache) get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return payload, true
}

func (c *SnapshotCache) set(ctx context.Context, key string, payload []byte) {
	if c == nil || len(payload) == 0 {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
