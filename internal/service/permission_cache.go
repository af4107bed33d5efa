package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PermissionCache stores resolved permission sets keyed by user ID. It is a
// derived, disposable structure: losing it must never produce wrong results,
// only a recomputation cost. Implementations therefore swallow their own
// errors and report misses instead.
type PermissionCache interface {
	Get(ctx context.Context, userID uuid.UUID) (PermissionSet, bool)
	Set(ctx context.Context, userID uuid.UUID, set PermissionSet)
	InvalidateUser(ctx context.Context, userID uuid.UUID)
	InvalidateAll(ctx context.Context)
}

const permCacheKeyPrefix = "authz:perms:"

type redisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedisPermissionCache wraps a Redis client as a PermissionCache with the
// given TTL. The TTL is a backstop; mutations invalidate eagerly.
func NewRedisPermissionCache(client *redis.Client, ttl time.Duration, log *logrus.Logger) PermissionCache {
	return &redisPermissionCache{client: client, ttl: ttl, log: log}
}

func (c *redisPermissionCache) Get(ctx context.Context, userID uuid.UUID) (PermissionSet, bool) {
	data, err := c.client.Get(ctx, permCacheKeyPrefix+userID.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("permission cache read failed")
		}
		return PermissionSet{}, false
	}
	var set PermissionSet
	if err := json.Unmarshal(data, &set); err != nil {
		c.log.WithError(err).Warn("permission cache entry corrupt, treating as miss")
		return PermissionSet{}, false
	}
	return set, true
}

func (c *redisPermissionCache) Set(ctx context.Context, userID uuid.UUID, set PermissionSet) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, permCacheKeyPrefix+userID.String(), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("permission cache write failed")
	}
}

func (c *redisPermissionCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, permCacheKeyPrefix+userID.String()).Err(); err != nil {
		c.log.WithError(err).Warn("permission cache invalidation failed")
	}
}

func (c *redisPermissionCache) InvalidateAll(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, permCacheKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).Warn("permission cache invalidation failed")
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Warn("permission cache scan failed")
	}
}

// noopPermissionCache is used when Redis is not configured: every lookup is
// a miss, so the guard always resolves against the store.
type noopPermissionCache struct{}

// NewNoopPermissionCache returns a cache that never stores anything.
func NewNoopPermissionCache() PermissionCache {
	return noopPermissionCache{}
}

func (noopPermissionCache) Get(context.Context, uuid.UUID) (PermissionSet, bool) { return PermissionSet{}, false }
func (noopPermissionCache) Set(context.Context, uuid.UUID, PermissionSet)        {}
func (noopPermissionCache) InvalidateUser(context.Context, uuid.UUID)            {}
func (noopPermissionCache) InvalidateAll(context.Context)                        {}
